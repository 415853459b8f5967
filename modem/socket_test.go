package modem_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"i4.energy/across/wifigw/modem"
)

func TestCreateSocket(t *testing.T) {
	ctx := context.Background()

	t.Run("Returns the handle from the reply", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCT=0,0,mail.example.com,25", "+OK=2\r\n\r\n")
		m := newTestModem(t, tr, nil)

		h, err := m.CreateSocket(ctx, modem.TCPClient("mail.example.com", "25"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h != 2 {
			t.Errorf("expected handle 2, got %d", h)
		}
		if got := m.OpenSockets(); len(got) != 1 || got[0] != 2 {
			t.Errorf("expected open sockets [2], got %v", got)
		}
		if w := tr.Writes(); len(w) != 1 || w[0] != "AT+SKCT=0,0,mail.example.com,25\r" {
			t.Errorf("unexpected writes: %q", w)
		}
	})

	t.Run("Module error", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCT=0,0,mail.example.com,25", "+ERR=3\r\n\r\n")
		m := newTestModem(t, tr, nil)

		_, err := m.CreateSocket(ctx, modem.TCPClient("mail.example.com", "25"))
		if got := modem.StatusOf(err); got != 3 {
			t.Errorf("expected status 3, got %d (%v)", got, err)
		}
		if len(m.OpenSockets()) != 0 {
			t.Error("failed create must not record a handle")
		}
	})

	t.Run("Malformed reply", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCT=0,0,h,1", "busy\r\n\r\n")
		m := newTestModem(t, tr, nil)

		_, err := m.CreateSocket(ctx, modem.TCPClient("h", "1"))
		if !errors.Is(err, modem.ErrMalformedReply) {
			t.Errorf("expected ErrMalformedReply, got: %v", err)
		}
		if got := modem.StatusOf(err); got != modem.StatusMalformed {
			t.Errorf("expected status %d, got %d", modem.StatusMalformed, got)
		}
	})

	t.Run("OK without handle is malformed", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCT=0,0,h,1", "+OK\r\n\r\n")
		m := newTestModem(t, tr, nil)

		_, err := m.CreateSocket(ctx, modem.TCPClient("h", "1"))
		if !errors.Is(err, modem.ErrMalformedReply) {
			t.Errorf("expected ErrMalformedReply, got: %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr, nil)

		_, err := m.CreateSocket(ctx, modem.TCPClient("h", "1"))
		if got := modem.StatusOf(err); got != modem.StatusTimeout {
			t.Errorf("expected status %d, got %d", modem.StatusTimeout, got)
		}
	})

	t.Run("Token too long", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr, nil)

		_, err := m.CreateSocket(ctx, modem.TCPClient(strings.Repeat("h", modem.MaxTokenLength+1), "25"))
		if !errors.Is(err, modem.ErrTokenTooLong) {
			t.Errorf("expected ErrTokenTooLong, got: %v", err)
		}
		if len(tr.Writes()) != 0 {
			t.Error("nothing should be written for an invalid descriptor")
		}
	})

	t.Run("Too many sockets", func(t *testing.T) {
		tr := modem.NewTestTransport()
		for i := 1; i <= modem.MaxSockets; i++ {
			tr.Respond("AT+SKCT=0,0,h,1", "+OK="+string(rune('0'+i))+"\r\n\r\n")
		}
		m := newTestModem(t, tr, nil)

		for i := 1; i <= modem.MaxSockets; i++ {
			if _, err := m.CreateSocket(ctx, modem.TCPClient("h", "1")); err != nil {
				t.Fatalf("create %d: unexpected error: %v", i, err)
			}
		}
		_, err := m.CreateSocket(ctx, modem.TCPClient("h", "1"))
		if !errors.Is(err, modem.ErrTooManySockets) {
			t.Errorf("expected ErrTooManySockets, got: %v", err)
		}
	})
}

func TestCloseSocket(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCT=0,0,h,1", "+OK=1\r\n\r\n").
			Respond("AT+SKCLS=1", "+OK\r\n\r\n")
		m := newTestModem(t, tr, nil)

		h, err := m.CreateSocket(ctx, modem.TCPClient("h", "1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := m.CloseSocket(ctx, h); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(m.OpenSockets()) != 0 {
			t.Errorf("expected no open sockets, got %v", m.OpenSockets())
		}
	})

	t.Run("Never answered", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCLS=2")
		m := newTestModem(t, tr, nil)

		err := m.CloseSocket(ctx, 2)
		if got := modem.StatusOf(err); got != modem.StatusTimeout {
			t.Errorf("expected status %d, got %d (%v)", modem.StatusTimeout, got, err)
		}
	})

	t.Run("Unterminated OK still counts", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCLS=2", "+OK\r\n")
		m := newTestModem(t, tr, nil)

		if err := m.CloseSocket(ctx, 2); err != nil {
			t.Errorf("expected partial +OK to succeed, got: %v", err)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKCLS=2", "+ERR=7\r\n\r\n")
		m := newTestModem(t, tr, nil)

		err := m.CloseSocket(ctx, 2)
		var modErr *modem.ModuleError
		if !errors.As(err, &modErr) || modErr.Code != 7 {
			t.Errorf("expected module error 7, got: %v", err)
		}
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("Writes the payload after the acknowledgement", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKSND=1,5", "+OK=5\r\n\r\n")
		m := newTestModem(t, tr, nil)

		if err := m.Send(ctx, 1, []byte("HELO\n")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w := tr.Writes()
		if len(w) != 2 || w[0] != "AT+SKSND=1,5\r" || w[1] != "HELO\n" {
			t.Errorf("unexpected writes: %q", w)
		}
	})

	t.Run("Rejected announcement sends no payload", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKSND=1,5", "+ERR=2\r\n\r\n")
		m := newTestModem(t, tr, nil)

		err := m.Send(ctx, 1, []byte("HELO\n"))
		if got := modem.StatusOf(err); got != 2 {
			t.Errorf("expected status 2, got %d", got)
		}
		if len(tr.Writes()) != 1 {
			t.Errorf("expected only the command, got %q", tr.Writes())
		}
	})
}

func TestReceive(t *testing.T) {
	ctx := context.Background()

	t.Run("Reads exactly the announced bytes", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKRCV=1,64", "+OK=9\r\n\r\n", "220 ready")
		m := newTestModem(t, tr, nil)

		p := make([]byte, 64)
		n, err := m.Receive(ctx, 1, p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(p[:n]) != "220 ready" {
			t.Errorf("unexpected payload %q", p[:n])
		}
	})

	t.Run("Zero means no data yet", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKRCV=1,64", "+OK=0\r\n\r\n")
		m := newTestModem(t, tr, nil)

		n, err := m.Receive(ctx, 1, make([]byte, 64))
		if err != nil || n != 0 {
			t.Errorf("expected (0, nil), got (%d, %v)", n, err)
		}
	})

	t.Run("Timeout differs from no data", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := newTestModem(t, tr, nil)

		n, err := m.Receive(ctx, 1, make([]byte, 64))
		if n != 0 || !errors.Is(err, modem.ErrTimeout) {
			t.Errorf("expected timeout, got (%d, %v)", n, err)
		}
	})

	t.Run("Retry converges once data arrives", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKRCV=1,64", "+OK=0\r\n\r\n").
			Respond("AT+SKRCV=1,64", "+OK=0\r\n\r\n").
			Respond("AT+SKRCV=1,64", "+OK=3\r\n\r\n", "250")
		m := newTestModem(t, tr, nil)

		p := make([]byte, 64)
		var n int
		var err error
		attempts := 0
		for n == 0 && err == nil && attempts < 10 {
			attempts++
			n, err = m.Receive(ctx, 1, p)
		}
		if err != nil || string(p[:n]) != "250" {
			t.Errorf("expected 250 after retries, got (%q, %v)", p[:n], err)
		}
		if attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("Announced size exceeds buffer", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKRCV=1,4", "+OK=9\r\n\r\n")
		m := newTestModem(t, tr, nil)

		_, err := m.Receive(ctx, 1, make([]byte, 4))
		if !errors.Is(err, io.ErrShortBuffer) {
			t.Errorf("expected io.ErrShortBuffer, got: %v", err)
		}
	})

	t.Run("Payload shorter than announced", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKRCV=1,64", "+OK=9\r\n\r\n", "220")
		m := newTestModem(t, tr, func(b *modem.ConfigBuilder) {
			b.WithPayloadTimeout(50 * time.Millisecond)
		})

		_, err := m.Receive(ctx, 1, make([]byte, 64))
		if !errors.Is(err, modem.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
	})

	t.Run("Non-numeric size", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+SKRCV=1,64", "+OK=abc\r\n\r\n")
		m := newTestModem(t, tr, nil)

		_, err := m.Receive(ctx, 1, make([]byte, 64))
		if !errors.Is(err, modem.ErrMalformedReply) {
			t.Errorf("expected ErrMalformedReply, got: %v", err)
		}
	})
}

func TestSocketStateAndDefault(t *testing.T) {
	ctx := context.Background()

	tr := modem.NewTestTransport()
	tr.Respond("AT+SKSTT1", "+OK=1,0,\"10.0.0.5\",25\r\n\r\n").
		Respond("AT+SKSDF=1", "+OK\r\n\r\n").
		Respond("AT+SKSTT4", "+ERR=1\r\n\r\n")
	m := newTestModem(t, tr, nil)

	state, err := m.SocketState(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Handle != 1 || len(state.Fields) != 4 || state.Fields[3] != "25" {
		t.Errorf("unexpected state: %+v", state)
	}

	if err := m.SetDefaultSocket(ctx, 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if _, err := m.SocketState(ctx, 4); modem.StatusOf(err) != 1 {
		t.Errorf("expected status 1, got %d (%v)", modem.StatusOf(err), err)
	}
}
