package modem

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestSerialDialer_Mode(t *testing.T) {
	tests := []struct {
		name     string
		dialer   SerialDialer
		wantBaud int
	}{
		{"Zero baud rate uses the factory speed", SerialDialer{PortName: "/dev/ttyS0"}, DefaultBaudRate},
		{"Configured baud rate", SerialDialer{PortName: "/dev/ttyS0", BaudRate: 9600}, 9600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode := tt.dialer.mode()
			if mode.BaudRate != tt.wantBaud {
				t.Errorf("expected baud rate %d, got %d", tt.wantBaud, mode.BaudRate)
			}
			if mode.DataBits != 8 || mode.Parity != serial.NoParity || mode.StopBits != serial.OneStopBit {
				t.Errorf("expected 8N1 framing, got %+v", mode)
			}
		})
	}

	t.Run("Explicit mode wins over baud rate", func(t *testing.T) {
		explicit := &serial.Mode{BaudRate: 57600, DataBits: 7, Parity: serial.EvenParity}
		d := SerialDialer{PortName: "/dev/ttyS0", BaudRate: 9600, Mode: explicit}
		if got := d.mode(); got != explicit {
			t.Errorf("expected the configured mode, got %+v", got)
		}
	})
}

func TestDialer_MissingAddress(t *testing.T) {
	dialers := map[string]Dialer{
		"serial": SerialDialer{},
		"tcp":    TCPDialer{},
	}

	for name, d := range dialers {
		t.Run(name, func(t *testing.T) {
			transport, err := d.Dial(context.Background())
			if !errors.Is(err, ErrNoAddress) {
				t.Errorf("expected ErrNoAddress, got: %v", err)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "modem: ") {
				t.Errorf("expected a modem: prefixed error, got: %v", err)
			}
			if transport != nil {
				t.Error("expected nil transport")
			}
		})
	}
}

func TestSerialDialer_Dial_NilContext(t *testing.T) {
	transport, err := SerialDialer{PortName: "/dev/ttyUSB0"}.Dial(nil)

	if err == nil || err.Error() != "modem: context is nil" {
		t.Errorf("unexpected error: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport for nil context")
	}
}

func TestSerialDialer_Dial_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport, err := SerialDialer{PortName: "/dev/nonexistent"}.Dial(ctx)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled before opening, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport for canceled context")
	}
}

func TestSerialDialer_Dial_OpenFailureNamesPort(t *testing.T) {
	transport, err := SerialDialer{PortName: "/dev/nonexistent-wifi-module"}.Dial(context.Background())
	if err == nil {
		t.Fatal("expected error for non-existent port")
	}
	if !strings.HasPrefix(err.Error(), "modem: open /dev/nonexistent-wifi-module: ") {
		t.Errorf("expected error naming the port, got: %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Error("expected the open error to stay wrapped")
	}
	if transport != nil {
		t.Error("expected nil transport for non-existent port")
	}
}

func TestTCPDialer_Dial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dialer := TCPDialer{Address: ln.Addr().String(), Timeout: time.Second}
	transport, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer transport.Close()

	peer := <-accepted
	defer peer.Close()

	if _, err := transport.Write([]byte("AT+\r")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	buf := make([]byte, 4)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := peer.Read(buf); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(buf) != "AT+\r" {
		t.Errorf("expected command on the wire, got %q", buf)
	}
}

func TestTCPDialer_Dial_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TCPDialer{Address: "127.0.0.1:1"}.Dial(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if err != nil && !strings.HasPrefix(err.Error(), "modem: dial 127.0.0.1:1: ") {
		t.Errorf("expected error naming the address, got: %v", err)
	}
}
