package modem

import "bytes"

// ResponseBufferSize is the capacity of the scratch buffer that holds one
// module reply.
const ResponseBufferSize = 256

// ResponseBuffer is fixed-size scratch space for exactly one in-flight
// exchange. Its contents are only meaningful until the next command.
type ResponseBuffer struct {
	data [ResponseBufferSize]byte
	n    int
}

func (b *ResponseBuffer) Reset() {
	b.n = 0
}

func (b *ResponseBuffer) Len() int {
	return b.n
}

// Bytes aliases the buffer; copy before the next exchange.
func (b *ResponseBuffer) Bytes() []byte {
	return b.data[:b.n]
}

func (b *ResponseBuffer) String() string {
	return string(b.data[:b.n])
}

// WriteByte appends c, failing with ErrLineTooLong when the buffer is full.
func (b *ResponseBuffer) WriteByte(c byte) error {
	if b.n == len(b.data) {
		return ErrLineTooLong
	}
	b.data[b.n] = c
	b.n++
	return nil
}

// HasSuffix reports whether the buffered bytes end with s.
func (b *ResponseBuffer) HasSuffix(s string) bool {
	return len(s) > 0 && bytes.HasSuffix(b.data[:b.n], []byte(s))
}

// Truncate discards all but the first n bytes.
func (b *ResponseBuffer) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < b.n {
		b.n = n
	}
}
