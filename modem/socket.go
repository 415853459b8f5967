package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"i4.energy/across/wifigw/at"
)

// MaxSockets is the number of TCP sockets the module keeps open at once.
const MaxSockets = 8

// MaxTokenLength bounds each field of a SocketDescriptor.
const MaxTokenLength = 255

// Handle identifies a socket living on the module.
type Handle int

// SocketDescriptor describes the socket requested from AT+SKCT. The fields
// are passed to the module as-is.
type SocketDescriptor struct {
	// Protocol is at.ProtocolTCP ("0") or another module-defined code.
	Protocol string
	// Role is at.RoleClient ("0") or at.RoleServer ("1").
	Role string
	Host string
	Port string
}

// TCPClient describes an outgoing TCP connection to host:port.
func TCPClient(host, port string) SocketDescriptor {
	return SocketDescriptor{
		Protocol: at.ProtocolTCP,
		Role:     at.RoleClient,
		Host:     host,
		Port:     port,
	}
}

func (d SocketDescriptor) validate() error {
	for _, tok := range []string{d.Protocol, d.Role, d.Host, d.Port} {
		if len(tok) > MaxTokenLength {
			return fmt.Errorf("%w: %d bytes", ErrTokenTooLong, len(tok))
		}
	}
	return nil
}

// SocketState is the best-effort answer to AT+SKSTT. The meaning of the
// fields is module-defined.
type SocketState struct {
	Handle Handle
	Fields []string
	Raw    string
}

// CreateSocket asks the module to open a socket and returns its handle,
// parsed from the "+OK=<handle>" reply.
func (m *Modem) CreateSocket(ctx context.Context, desc SocketDescriptor) (Handle, error) {
	if err := desc.validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sockets) >= MaxSockets {
		return 0, ErrTooManySockets
	}

	cmd := at.SocketCreate(desc.Protocol, desc.Role, desc.Host, desc.Port)
	reply, err := m.request(ctx, cmd, m.config.atTimeout)
	if err != nil {
		return 0, err
	}

	n, err := reply.IntField(0)
	if err != nil || n < 0 {
		return 0, &MalformedReplyError{Command: cmd, Reply: reply.Raw}
	}

	h := Handle(n)
	m.sockets[h] = struct{}{}
	m.logger.Info("Socket created", "handle", h, "host", desc.Host, "port", desc.Port)
	return h, nil
}

// CloseSocket closes a socket. When the reply times out, whatever partial
// reply arrived is still classified; only an unclassifiable partial reply
// yields the timeout. Callers should treat a timeout here as unreliable.
func (m *Modem) CloseSocket(ctx context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := at.SocketClose(int(h))
	raw, err := m.exec(ctx, cmd, m.config.atTimeout)
	delete(m.sockets, h)

	var timeout *TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &timeout) && at.Classify(raw) != at.TypeUnknown:
		m.logger.Debug("Classifying partial close reply", "handle", h, "partial", raw)
	default:
		return err
	}

	_, err = m.classify(cmd, raw)
	return err
}

// Send writes data to a socket. The module first acknowledges the size
// announced by AT+SKSND; only then is the raw payload written. Nothing is
// read after the payload, so delivery is only confirmed by a later Receive.
func (m *Modem) Send(ctx context.Context, h Handle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := at.SocketSend(int(h), len(data))
	reply, err := m.request(ctx, cmd, m.config.atTimeout)
	if err != nil {
		return err
	}
	if n, err := reply.IntField(0); err == nil && n != len(data) {
		m.logger.Debug("Module acknowledged a different size", "handle", h, "announced", len(data), "acknowledged", n)
	}

	if _, err := m.transport.Write(data); err != nil {
		return fmt.Errorf("write payload to socket %d: %w", h, err)
	}
	return nil
}

// Receive requests up to len(p) bytes from a socket. The acknowledgement
// carries the number of bytes the module will deliver; exactly that many
// bytes are then read into p.
//
// A return of 0 with a nil error means no data is available yet and the
// caller should retry later. It is distinct from a timeout, which returns
// an error matching ErrTimeout.
func (m *Modem) Receive(ctx context.Context, h Handle, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := at.SocketReceive(int(h), len(p))
	reply, err := m.request(ctx, cmd, m.config.receiveTimeout)
	if err != nil {
		return 0, err
	}

	n, err := reply.IntField(0)
	if err != nil || n < 0 {
		return 0, &MalformedReplyError{Command: cmd, Reply: reply.Raw}
	}
	if n == 0 {
		return 0, nil
	}
	if n > len(p) {
		return 0, fmt.Errorf("socket %d announced %d bytes for %d byte buffer: %w", h, n, len(p), io.ErrShortBuffer)
	}

	if err := m.readPayload(ctx, p[:n]); err != nil {
		return 0, fmt.Errorf("read payload of socket %d: %w", h, err)
	}
	return n, nil
}

// readPayload reads exactly len(p) length-delimited bytes that follow an
// acknowledgement. The payload has no terminator.
func (m *Modem) readPayload(ctx context.Context, p []byte) error {
	pctx := ctx
	if t := m.config.payloadTimeout; t > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	for i := range p {
		b, err := m.nextByte(pctx)
		if err != nil {
			if pctx.Err() != nil && ctx.Err() == nil {
				return &TimeoutError{Command: "payload", Timeout: m.config.payloadTimeout}
			}
			return err
		}
		p[i] = b
	}
	return nil
}

// SocketState queries AT+SKSTT for a socket. Success only means the module
// answered "+OK"; the fields are returned uninterpreted.
func (m *Modem) SocketState(ctx context.Context, h Handle) (SocketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reply, err := m.request(ctx, at.SocketState(int(h)), m.config.atTimeout)
	if err != nil {
		return SocketState{Handle: h, Raw: reply.Raw}, err
	}
	return SocketState{Handle: h, Fields: reply.Fields, Raw: reply.Raw}, nil
}

// SetDefaultSocket selects the socket used by transparent mode.
func (m *Modem) SetDefaultSocket(ctx context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.request(ctx, at.SocketDefault(int(h)), m.config.atTimeout)
	return err
}

// OpenSockets lists the handles created through this Modem and not yet
// closed through it. It does not query the module.
func (m *Modem) OpenSockets() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := make([]Handle, 0, len(m.sockets))
	for h := range m.sockets {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}
