package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"i4.energy/across/wifigw/at"
)

// Modem drives a UART WiFi module over a single byte stream. It turns the
// unframed serial link into a request/response protocol with socket
// semantics.
//
// Exactly one command/response exchange is in flight at any time: every
// public operation holds the exchange lock for its whole duration, and a
// single pump goroutine owns all reads from the transport.
type Modem struct {
	// transport provides the physical connection to the module
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger
	clock  Clock

	// mu serialises exchanges; buf and sockets are only touched under mu
	mu      sync.Mutex
	buf     ResponseBuffer
	sockets map[Handle]struct{}

	// stateMu guards closed so Close never waits behind an exchange
	stateMu sync.Mutex
	closed  bool
	done    chan struct{}

	// rx carries bytes from the pump goroutine; it is closed when the
	// transport returns an error, which is then stored in rxErr
	pumpOnce sync.Once
	rx       chan byte
	rxErr    error
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and, when a bring-up strategy is
// configured, resets the module and waits until it reports ready.
//
// Returns an error if the transport connection or module bring-up fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial module: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.logger.With("component", "modem"),
		clock:     config.clock,
		sockets:   make(map[Handle]struct{}),
		done:      make(chan struct{}),
		rx:        make(chan byte, 4096),
	}

	if err := m.init(ctx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// init resets the module when a bring-up strategy is configured, then drops
// whatever the module printed while booting.
func (m *Modem) init(ctx context.Context) error {
	if m.config.strategy == StrategyNone {
		return nil
	}

	seq, err := NewSequencer(m.config)
	if err != nil {
		return err
	}
	if err := seq.Run(ctx, m.config.strategy); err != nil {
		return err
	}

	if r, ok := m.transport.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			m.logger.Warn("Failed to flush input after reset", "error", err)
		}
	}
	return nil
}

// Close shuts down the modem and releases all resources.
// It stops the pump, closes the transport connection, and marks the modem
// as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	close(m.done)
	m.stateMu.Unlock()

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

func (m *Modem) String() string {
	return fmt.Sprintf("modem(%T)", m.transport)
}

func (m *Modem) ready() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	if m.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

// pump copies bytes from the transport into rx until the transport fails
// or the modem is closed. It is the only reader of the transport.
func (m *Modem) pump() {
	defer close(m.rx)

	p := make([]byte, 256)
	for {
		n, err := m.transport.Read(p)
		for _, b := range p[:n] {
			select {
			case m.rx <- b:
			case <-m.done:
				return
			}
		}
		if err != nil {
			m.rxErr = err
			return
		}
	}
}

func (m *Modem) startPump() {
	m.pumpOnce.Do(func() { go m.pump() })
}

// drain discards bytes that arrived outside of any exchange.
func (m *Modem) drain() {
	dropped := 0
	for {
		select {
		case _, ok := <-m.rx:
			if !ok {
				return
			}
			dropped++
		default:
			if dropped > 0 {
				m.logger.Debug("Dropped stale bytes", "count", dropped)
			}
			return
		}
	}
}

// nextByte waits for one byte from the pump. A done context always wins
// over available data, so an expired deadline never consumes input.
func (m *Modem) nextByte(ctx context.Context) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	select {
	case b, ok := <-m.rx:
		if !ok {
			if m.rxErr == nil || errors.Is(m.rxErr, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("read error: %w", m.rxErr)
		}
		return b, nil
	case <-m.done:
		return 0, ErrAlreadyClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// awaitTerminator accumulates bytes into buf until they end with the reply
// terminator, which is then cut off. It reports false when timeout elapses
// first. An error is returned only for transport failures, a full buffer or
// cancellation of ctx itself.
func (m *Modem) awaitTerminator(ctx context.Context, buf *ResponseBuffer, timeout time.Duration) (bool, error) {
	found, err := m.accumulate(ctx, buf, at.Terminator, timeout)
	if found {
		buf.Truncate(buf.Len() - len(at.Terminator))
	}
	return found, err
}

// awaitPattern is awaitTerminator for an arbitrary literal. The buffer keeps
// everything received, matched or not.
func (m *Modem) awaitPattern(ctx context.Context, buf *ResponseBuffer, pattern string, timeout time.Duration) (bool, error) {
	return m.accumulate(ctx, buf, pattern, timeout)
}

func (m *Modem) accumulate(ctx context.Context, buf *ResponseBuffer, pattern string, timeout time.Duration) (bool, error) {
	m.startPump()

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		b, err := m.nextByte(dctx)
		if err != nil {
			if dctx.Err() != nil && ctx.Err() == nil {
				return false, nil
			}
			return false, err
		}
		if err := buf.WriteByte(b); err != nil {
			return false, err
		}
		if buf.Len() >= len(pattern) && buf.HasSuffix(pattern) {
			return true, nil
		}
	}
}

// exec sends one command line and frames the reply into m.buf. The caller
// must hold m.mu. On timeout the partial reply is returned with the error.
func (m *Modem) exec(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if err := m.clock.Sleep(ctx, m.config.interCommandDelay); err != nil {
		return "", err
	}

	m.startPump()
	m.drain()
	m.buf.Reset()

	m.logger.Debug("Sending command", "cmd", cmd)
	if _, err := m.transport.Write([]byte(cmd + at.CR)); err != nil {
		return "", fmt.Errorf("write command %q: %w", cmd, err)
	}

	found, err := m.awaitTerminator(ctx, &m.buf, timeout)
	reply := m.buf.String()
	if err != nil {
		return reply, fmt.Errorf("await reply to %q: %w", cmd, err)
	}
	if !found {
		m.logger.Warn("Command timed out", "cmd", cmd, "timeout", timeout, "partial", reply)
		return reply, &TimeoutError{Command: cmd, Timeout: timeout}
	}

	m.logger.Debug("Received reply", "cmd", cmd, "reply", reply)
	return reply, nil
}

// request runs exec and classifies the reply.
func (m *Modem) request(ctx context.Context, cmd string, timeout time.Duration) (at.Reply, error) {
	raw, err := m.exec(ctx, cmd, timeout)
	if err != nil {
		return at.Reply{}, err
	}
	return m.classify(cmd, raw)
}

// classify turns a complete reply into a Reply or a typed error.
func (m *Modem) classify(cmd, raw string) (at.Reply, error) {
	reply, err := at.ParseReply(raw)
	if err != nil {
		return reply, &MalformedReplyError{Command: cmd, Reply: raw}
	}
	if reply.Type == at.TypeError {
		m.logger.Warn("Module rejected command", "cmd", cmd, "code", reply.Code)
		return reply, &ModuleError{Command: cmd, Code: reply.Code}
	}
	return reply, nil
}

// Probe sends the bare "AT+" command to check that the module is in
// command mode and answering.
func (m *Modem) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.request(ctx, at.CmdProbe, m.config.probeTimeout)
	return err
}

// EnterCommandMode sends the "+++" escape that switches the module from
// transparent mode back to command mode. Any terminated reply counts.
func (m *Modem) EnterCommandMode(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return err
	}
	m.startPump()
	m.drain()
	m.buf.Reset()

	if _, err := m.transport.Write([]byte(at.Escape)); err != nil {
		return fmt.Errorf("write escape: %w", err)
	}
	found, err := m.awaitTerminator(ctx, &m.buf, m.config.escapeTimeout)
	if err != nil {
		return err
	}
	if !found {
		return &TimeoutError{Command: at.Escape, Timeout: m.config.escapeTimeout}
	}
	return nil
}

// EnterTransparentMode sends AT+ENTM. After success the link carries raw
// data for the default socket until EnterCommandMode.
func (m *Modem) EnterTransparentMode(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.request(ctx, at.CmdTransparentMode, m.config.atTimeout)
	return err
}

// AutoWorkSocketInfo queries AT+ATRM and returns the raw reply.
func (m *Modem) AutoWorkSocketInfo(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.exec(ctx, at.CmdAutoWorkSocket, m.config.atTimeout)
}

// WaitForPattern reads raw bytes, outside of the OK/ERR protocol, until
// they end with pattern. The bytes received so far are returned even when
// the timeout elapses, together with a *TimeoutError.
func (m *Modem) WaitForPattern(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(); err != nil {
		return "", err
	}
	m.buf.Reset()

	found, err := m.awaitPattern(ctx, &m.buf, pattern, timeout)
	data := m.buf.String()
	if err != nil {
		return data, err
	}
	if !found {
		return data, &TimeoutError{Command: "pattern " + pattern, Timeout: timeout}
	}
	return data, nil
}
