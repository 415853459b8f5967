package emulator_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/wifigw/emulator"
	"i4.energy/across/wifigw/modem"
	"i4.energy/across/wifigw/smtp"
)

type pipeDialer struct {
	conn net.Conn
}

func (d pipeDialer) Dial(ctx context.Context) (modem.Transport, error) {
	return d.conn, nil
}

// startModule serves an emulated module on one end of a pipe and returns
// a modem connected to the other end.
func startModule(t *testing.T, config emulator.Config) (*emulator.Module, *modem.Modem) {
	t.Helper()

	client, server := net.Pipe()
	mod := emulator.New(config)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Serve(ctx, server) }()

	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(pipeDialer{conn: client}).
		WithInterCommandDelay(0).
		WithATTimeout(2 * time.Second).
		WithReceiveTimeout(2 * time.Second).
		WithNetworkPoll(10*time.Millisecond, time.Second).
		Build()
	require.NoError(t, err)

	m, err := modem.New(ctx, modemConfig)
	require.NoError(t, err)

	t.Cleanup(func() {
		m.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return mod, m
}

// startRaw serves an emulated module and returns the raw command stream.
func startRaw(t *testing.T, config emulator.Config) (*emulator.Module, net.Conn, *bufio.Reader) {
	t.Helper()

	client, server := net.Pipe()
	mod := emulator.New(config)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Serve(ctx, server) }()

	t.Cleanup(func() {
		client.Close()
		cancel()
		<-done
	})
	return mod, client, bufio.NewReader(client)
}

func exchange(t *testing.T, conn net.Conn, r *bufio.Reader, cmd string) string {
	t.Helper()

	go conn.Write([]byte(cmd))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply strings.Builder
	for !strings.HasSuffix(reply.String(), "\r\n\r\n") {
		b, err := r.ReadByte()
		require.NoError(t, err)
		reply.WriteByte(b)
	}
	return strings.TrimSuffix(reply.String(), "\r\n\r\n")
}

func startEchoServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestRawCommands(t *testing.T) {
	_, conn, r := startRaw(t, emulator.Config{})

	assert.Equal(t, "+OK", exchange(t, conn, r, "AT+\r"))
	assert.Equal(t, "+OK", exchange(t, conn, r, "+++"))
	assert.Equal(t, "+ERR=1", exchange(t, conn, r, "AT+FOO\r"))
	assert.Equal(t, "+ERR=2", exchange(t, conn, r, "AT+SKCT=0,0\r"))
	assert.Equal(t, "+ERR=4", exchange(t, conn, r, "AT+SKCT=0,1,example.com,25\r"))
	assert.Equal(t, "+ERR=5", exchange(t, conn, r, "AT+SKCLS=3\r"))
	assert.Equal(t, "+ERR=5", exchange(t, conn, r, "AT+ENTM\r"))
	assert.Equal(t, "+OK=0", exchange(t, conn, r, "AT+ATRM\r"))
}

func TestSocketLimit(t *testing.T) {
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		a, b := net.Pipe()
		t.Cleanup(func() { b.Close() })
		return a, nil
	}
	mod, conn, r := startRaw(t, emulator.Config{Dial: dial})

	for h := 1; h <= emulator.MaxSockets; h++ {
		assert.Equal(t, "+OK="+string(rune('0'+h)), exchange(t, conn, r, "AT+SKCT=0,0,h,1\r"))
	}
	assert.Equal(t, "+ERR=3", exchange(t, conn, r, "AT+SKCT=0,0,h,1\r"))

	assert.Equal(t, "+OK", exchange(t, conn, r, "AT+SKCLS=4\r"))
	assert.Equal(t, "+OK=4", exchange(t, conn, r, "AT+SKCT=0,0,h,1\r"), "lowest free handle is reused")
	assert.Len(t, mod.OpenSockets(), emulator.MaxSockets)
}

func TestLinkStatus(t *testing.T) {
	mod, m := startModule(t, emulator.Config{SSID: "lab", LinkDown: true})
	ctx := context.Background()

	status, err := m.NetworkStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)

	go func() {
		time.Sleep(50 * time.Millisecond)
		mod.SetLinkUp(true)
	}()
	require.NoError(t, m.WaitForNetwork(ctx))

	status, err = m.NetworkStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, []string{"1", `"lab"`}, status.Fields)
}

func TestSocketRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	mod, m := startModule(t, emulator.Config{})
	ctx := context.Background()

	require.NoError(t, m.Probe(ctx))

	h, err := m.CreateSocket(ctx, modem.TCPClient(host, port))
	require.NoError(t, err)
	assert.Equal(t, modem.Handle(1), h)

	require.NoError(t, m.Send(ctx, h, []byte("ping\r\n")))

	var got []byte
	p := make([]byte, 64)
	for i := 0; i < 100 && len(got) < 6; i++ {
		n, err := m.Receive(ctx, h, p)
		require.NoError(t, err)
		got = append(got, p[:n]...)
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	assert.Equal(t, "ping\r\n", string(got))

	state, err := m.SocketState(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "1", state.Fields[1])

	require.NoError(t, m.SetDefaultSocket(ctx, h))
	info, err := m.AutoWorkSocketInfo(ctx)
	require.NoError(t, err)
	assert.Contains(t, info, host)

	require.NoError(t, m.CloseSocket(ctx, h))
	assert.Empty(t, mod.OpenSockets())
	assert.Empty(t, m.OpenSockets())
}

func TestConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, refused
	}
	_, m := startModule(t, emulator.Config{Dial: dial})

	_, err := m.CreateSocket(context.Background(), modem.TCPClient("mail.example.com", "25"))
	assert.Equal(t, emulator.ErrCodeConnectFailed, modem.StatusOf(err))
}

func TestModuleErrorsStayPositive(t *testing.T) {
	_, m := startModule(t, emulator.Config{})
	ctx := context.Background()

	closeErr := m.CloseSocket(ctx, 7)
	assert.Equal(t, emulator.ErrCodeNoSuchSocket, modem.StatusOf(closeErr))

	defaultErr := m.SetDefaultSocket(ctx, 9)
	assert.Equal(t, emulator.ErrCodeBadArgument, modem.StatusOf(defaultErr))

	for _, err := range []error{closeErr, defaultErr} {
		var modErr *modem.ModuleError
		require.ErrorAs(t, err, &modErr)
		assert.Positive(t, modErr.Code)
		assert.NotEqual(t, modem.StatusFailure, modem.StatusOf(err))
	}
	assert.NotEqual(t,
		modem.StatusOf(&modem.ModuleError{Code: emulator.ErrCodeUnknownCommand}),
		modem.StatusOf(errors.New("write failed")))
}

func TestTransparentMode(t *testing.T) {
	addr := startEchoServer(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	_, m := startModule(t, emulator.Config{})
	ctx := context.Background()

	h, err := m.CreateSocket(ctx, modem.TCPClient(host, port))
	require.NoError(t, err)
	require.NoError(t, m.SetDefaultSocket(ctx, h))
	require.NoError(t, m.EnterTransparentMode(ctx))
	require.NoError(t, m.EnterCommandMode(ctx))
	require.NoError(t, m.Probe(ctx))
}

type mailBackend struct {
	mu       sync.Mutex
	from     string
	to       []string
	data     string
	received chan struct{}
}

func (b *mailBackend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &mailSession{backend: b}, nil
}

type mailSession struct {
	backend *mailBackend
}

func (s *mailSession) Mail(from string, opts *gosmtp.MailOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.from = from
	return nil
}

func (s *mailSession) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.to = append(s.backend.to, to)
	return nil
}

func (s *mailSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.data = string(data)
	s.backend.mu.Unlock()
	close(s.backend.received)
	return nil
}

func (s *mailSession) Reset() {}

func (s *mailSession) Logout() error { return nil }

func startMailServer(t *testing.T) (*mailBackend, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	be := &mailBackend{received: make(chan struct{})}
	s := gosmtp.NewServer(be)
	s.Domain = "localhost"
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.AllowInsecureAuth = true

	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })
	return be, ln.Addr().String()
}

func TestSendEmailEndToEnd(t *testing.T) {
	be, addr := startMailServer(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	mod, m := startModule(t, emulator.Config{})
	client := smtp.NewClient(m, smtp.WithRetryDelay(10*time.Millisecond), smtp.WithReplyTimeout(5*time.Second))

	msg := smtp.Message{
		To:           "ops@example.com",
		From:         "sensor@example.org",
		FriendlyName: "Boiler Room",
		Subject:      "Temperature alarm",
		Body:         "Temperature is 93C.\n.\nCheck the pump.",
		HeloDomain:   "example.org",
		MailServer:   host,
		Port:         port,
	}

	err = client.SendEmail(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, modem.StatusOK, modem.StatusOf(err))

	select {
	case <-be.received:
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the server")
	}

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, "sensor@example.org", be.from)
	assert.Equal(t, []string{"ops@example.com"}, be.to)
	assert.Contains(t, be.data, "Subject: Temperature alarm\r\n")
	assert.Contains(t, be.data, "From: Boiler Room <sensor@example.org>\r\n")
	assert.Contains(t, be.data, "Temperature is 93C.\r\n.\r\nCheck the pump.")

	assert.Empty(t, mod.OpenSockets())
	assert.Empty(t, m.OpenSockets())
}

func TestSendEmailConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()

	mod, m := startModule(t, emulator.Config{})
	client := smtp.NewClient(m, smtp.WithRetryDelay(10*time.Millisecond))

	err = client.SendEmail(context.Background(), smtp.Message{
		To:         "ops@example.com",
		From:       "sensor@example.org",
		HeloDomain: "example.org",
		MailServer: host,
		Port:       port,
	})
	assert.Equal(t, emulator.ErrCodeConnectFailed, modem.StatusOf(err))
	assert.Empty(t, mod.OpenSockets())
	assert.Empty(t, m.OpenSockets())
}
