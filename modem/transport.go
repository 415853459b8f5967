package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to a UART
// WiFi module.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive replies.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a module.
//
// Dialer abstracts how the module connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// inputResetter is implemented by transports that can discard bytes received
// but not yet read, such as serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// DefaultBaudRate is the module's factory UART speed.
const DefaultBaudRate = 115200

// SerialDialer opens a module over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the path of the serial device (e.g. "/dev/ttyUSB0").
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the full line configuration.
	Mode *serial.Mode
}

// Dial opens the serial port. The context is only checked before opening,
// since opening a local device does not block for long.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, fmt.Errorf("modem: serial port name: %w", ErrNoAddress)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.mode())
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", d.PortName, err)
	}
	return port, nil
}

// mode returns Mode, or 8N1 at BaudRate (115200 when unset).
func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}

// TCPDialer connects to a module exposed over TCP, such as the emulator in
// cmd/uartwifi-emulator or a serial-to-network bridge.
type TCPDialer struct {
	Address string
	// Timeout bounds the connect. Zero means only the context applies.
	Timeout time.Duration
}

// Dial connects to Address.
func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Address == "" {
		return nil, fmt.Errorf("modem: tcp address: %w", ErrNoAddress)
	}
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("modem: dial %s: %w", d.Address, err)
	}
	return conn, nil
}
