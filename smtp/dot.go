package smtp

import (
	"bufio"
	"io"
)

// dotWriter writes a dot-stuffed message body to an SMTP DATA stream.
// Lines starting with "." are doubled to ".." and Close() writes the
// termination sequence ".\r\n" (RFC 5321 §4.5.2).
type dotWriter struct {
	w         *bufio.Writer
	beginLine bool
	closed    bool
}

func newDotWriter(w *bufio.Writer) *dotWriter {
	return &dotWriter{w: w, beginLine: true}
}

func (d *dotWriter) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}

	written := 0
	for _, b := range p {
		if d.beginLine && b == '.' {
			if err := d.w.WriteByte('.'); err != nil {
				return written, err
			}
		}

		if err := d.w.WriteByte(b); err != nil {
			return written, err
		}
		written++

		d.beginLine = (b == '\n')
	}
	return written, nil
}

// Close writes the termination sequence and flushes the writer.
// If the last data written did not end with a line break, Close adds
// "\r\n" first.
func (d *dotWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if !d.beginLine {
		if _, err := d.w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	if _, err := d.w.WriteString(".\r\n"); err != nil {
		return err
	}
	return d.w.Flush()
}
