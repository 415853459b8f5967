package smtp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ReplyCode represents a three-digit SMTP reply code as defined in RFC 5321 §4.2.
type ReplyCode int

// Reply codes the session expects from the server.
const (
	ReplyServiceReady   ReplyCode = 220
	ReplyServiceClosing ReplyCode = 221
	ReplyOK             ReplyCode = 250
	ReplyStartMailInput ReplyCode = 354
)

// Status codes returned through Status() for a reply that did not carry
// the expected code.
const (
	// StatusUnexpectedReply flags a wrong reply to the greeting, HELO,
	// MAIL FROM, RCPT TO or the end of data.
	StatusUnexpectedReply = -250
	// StatusDataRejected flags a wrong reply to DATA.
	StatusDataRejected = -354
)

// ErrUnexpectedReply matches every *ReplyError.
var ErrUnexpectedReply = errors.New("unexpected SMTP reply")

// Class returns the reply class (first digit): 2, 3, 4, or 5.
func (c ReplyCode) Class() int {
	return int(c) / 100
}

// ReplyError reports that the server answered a session stage with a code
// other than the one the stage requires.
type ReplyError struct {
	Stage    Stage
	Expected ReplyCode
	// Reply is the server reply as received, line endings included.
	Reply string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("smtp: %s: expected %d, got %q", e.Stage, e.Expected, strings.TrimRight(e.Reply, "\r\n"))
}

// Is makes errors.Is(err, ErrUnexpectedReply) true.
func (e *ReplyError) Is(target error) bool {
	return target == ErrUnexpectedReply
}

// Status returns StatusDataRejected for the DATA stage and
// StatusUnexpectedReply for every other stage.
func (e *ReplyError) Status() int {
	if e.Stage == StageData {
		return StatusDataRejected
	}
	return StatusUnexpectedReply
}

// Code returns the reply code the server sent, or 0 when the reply does not
// start with three digits.
func (e *ReplyError) Code() ReplyCode {
	code, _ := parseCode(e.Reply)
	return code
}

func parseCode(reply string) (ReplyCode, bool) {
	if len(reply) < 3 {
		return 0, false
	}
	n, err := strconv.Atoi(reply[:3])
	if err != nil || n < 0 {
		return 0, false
	}
	return ReplyCode(n), true
}

// replyComplete reports whether data holds at least one complete final
// reply line ("ddd text\r\n" or "ddd\r\n"). Continuation lines use a '-'
// after the code (RFC 5321 §4.2).
func replyComplete(data []byte) bool {
	s := string(data)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			return false
		}
		line := strings.TrimRight(s[:i], "\r")
		if len(line) < 4 || line[3] != '-' {
			return true
		}
		s = s[i+1:]
	}
}
