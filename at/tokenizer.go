package at

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedReply is returned when a reply starts with neither "+OK" nor
// "+ERR=". The caller decides what such a reply means.
var ErrMalformedReply = errors.New("malformed reply")

// Splitter is used for tokenizing module replies. It uses the signature of
// bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Every reply of the module ends with an empty line, so tokens are split on
// the four byte sequence CRLF CRLF. The terminator is never part of a token.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, []byte(Terminator)); i >= 0 {
		return i + len(Terminator), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of a completed reply
func Classify(reply string) ResponseType {
	switch {
	case strings.HasPrefix(reply, OK):
		return TypeOK
	case strings.HasPrefix(reply, ERR):
		return TypeError
	default:
		return TypeUnknown
	}
}

// Reply is a tokenized module reply.
//
//	+OK               Type=TypeOK
//	+OK=2             Type=TypeOK  Fields=["2"]
//	+OK=1,0,"ssid"    Type=TypeOK  Fields=["1", "0", "\"ssid\""]
//	+ERR=4            Type=TypeError Code=4
type Reply struct {
	Type   ResponseType
	Code   int
	Fields []string
	Raw    string
}

// Field returns the i-th value of a "+OK=" reply, or "" if absent.
func (r Reply) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// IntField parses the i-th value of a "+OK=" reply as a decimal integer.
func (r Reply) IntField(i int) (int, error) {
	if i < 0 || i >= len(r.Fields) {
		return 0, fmt.Errorf("%w: missing field %d in %q", ErrMalformedReply, i, r.Raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(r.Fields[i]))
	if err != nil {
		return 0, fmt.Errorf("%w: field %d of %q is not a number", ErrMalformedReply, i, r.Raw)
	}
	return n, nil
}

// ParseReply tokenizes a reply with its terminator already removed.
//
// For "+ERR=" replies the code is the leading decimal number after the '=',
// or 0 when no digits are present. Replies matching neither prefix return
// ErrMalformedReply together with a Reply of TypeUnknown.
func ParseReply(reply string) (Reply, error) {
	r := Reply{Type: Classify(reply), Raw: reply}

	switch r.Type {
	case TypeOK:
		rest := strings.TrimPrefix(reply, OK)
		rest = strings.TrimRight(rest, "\r\n")
		if v, ok := strings.CutPrefix(rest, "="); ok {
			r.Fields = strings.Split(v, ",")
		}
		return r, nil

	case TypeError:
		r.Code = leadingInt(strings.TrimPrefix(reply, ERR))
		return r, nil
	}

	return r, fmt.Errorf("%w: %q", ErrMalformedReply, reply)
}

// Status returns the integer classification of a reply: 0 for "+OK",
// the module error code for "+ERR=<n>".
func Status(reply string) (int, error) {
	r, err := ParseReply(reply)
	if err != nil {
		return 0, err
	}
	return r.Code, nil
}

// leadingInt parses an optionally signed decimal prefix, like atoi.
func leadingInt(s string) int {
	s = strings.TrimLeft(s, " ")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
