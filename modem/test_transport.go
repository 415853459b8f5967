package modem

import (
	"context"
	"io"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates a module at the far end of
// a blocking transport. Reads block until data is available (like a real
// serial port would). Every write is recorded, and a write matching the
// next scripted command queues that command's replies.
//
// TestTransport also implements Dialer, returning itself.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	closed   bool
	script   []scriptedExchange
	writes   []string

	// pending is only touched by the single reader
	pending []byte
}

type scriptedExchange struct {
	cmd     string
	replies []string
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
	}
}

// Respond scripts the module: when cmd (without its trailing CR) is the next
// scripted command and gets written, each reply is queued for reading.
// Replies are raw bytes; include the "\r\n\r\n" terminator where the module
// would send one. A command scripted without replies is never answered.
func (t *TestTransport) Respond(cmd string, replies ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, scriptedExchange{cmd: cmd, replies: replies})
	return t
}

func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	return t, nil
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	written := string(p)
	t.writes = append(t.writes, written)

	if len(t.script) > 0 && strings.TrimSuffix(written, "\r") == t.script[0].cmd {
		next := t.script[0]
		t.script = t.script[1:]
		for _, r := range next.replies {
			t.readChan <- []byte(r)
		}
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.pending) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.pending = data
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates unsolicited bytes from the module.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes returns everything written so far, one entry per Write call.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Pending reports how many scripted commands have not been written yet.
func (t *TestTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.script)
}
