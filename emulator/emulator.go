// Package emulator provides a virtual UART WiFi module. It speaks the
// module's AT command set on any byte stream and backs the module-side
// sockets with real network connections, so the modem package can be run
// end to end without hardware.
//
// Example usage:
//
//	mod := emulator.New(emulator.Config{Dial: dialer.DialContext})
//	go mod.Serve(ctx, conn)
package emulator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"i4.energy/across/wifigw/at"
)

// MaxSockets is the number of sockets the emulated module can hold.
const MaxSockets = 8

// Error codes sent as "+ERR=<code>".
const (
	ErrCodeUnknownCommand = 1
	ErrCodeBadArgument    = 2
	ErrCodeNoFreeSocket   = 3
	ErrCodeUnsupported    = 4
	ErrCodeNoSuchSocket   = 5
	ErrCodeConnectFailed  = 6
)

// maxLine bounds one command line.
const maxLine = 1024

// DialFunc opens the network connection behind a client socket.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config contains the settings of an emulated module.
type Config struct {
	// Dial opens socket connections. Defaults to a net.Dialer.
	Dial DialFunc
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// LinkDown starts the module without a WiFi link.
	LinkDown bool
	// SSID is reported by AT+LKSTT while the link is up.
	SSID string
}

// Module is an emulated UART WiFi module.
type Module struct {
	dial   DialFunc
	logger *slog.Logger
	ssid   string

	mu            sync.Mutex
	linkUp        bool
	sockets       map[int]*socket
	defaultSocket int
}

// New creates an emulated module.
func New(config Config) *Module {
	dial := config.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Module{
		dial:    dial,
		logger:  logger.With("component", "emulator"),
		ssid:    config.SSID,
		linkUp:  !config.LinkDown,
		sockets: make(map[int]*socket),
	}
}

// SetLinkUp changes what AT+LKSTT reports.
func (m *Module) SetLinkUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkUp = up
}

// OpenSockets lists the handles currently open on the module.
func (m *Module) OpenSockets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles := make([]int, 0, len(m.sockets))
	for h := range m.sockets {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

// Serve processes commands read from rw and writes replies to it until rw
// returns an error or ctx is done. When ctx ends, rw is closed if it
// implements io.Closer. All sockets are closed on return. A closed or
// exhausted rw is a normal end and yields nil.
func (m *Module) Serve(ctx context.Context, rw io.ReadWriter) error {
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}
	defer m.closeAll()

	s := &session{
		module: m,
		r:      bufio.NewReader(rw),
		w:      rw,
		ctx:    ctx,
	}
	err := s.run()
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}

func (m *Module) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, s := range m.sockets {
		s.close()
		delete(m.sockets, h)
	}
}

// session is one command stream. It is only used by the Serve goroutine.
type session struct {
	module *Module
	r      *bufio.Reader
	w      io.Writer
	ctx    context.Context

	transparent bool
}

func (s *session) run() error {
	var line []byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}

		if s.transparent {
			if err := s.passThrough(b); err != nil {
				return err
			}
			continue
		}

		if b == '\r' {
			cmd := string(line)
			line = line[:0]
			if err := s.handle(cmd); err != nil {
				return err
			}
			continue
		}
		if b == '\n' && len(line) == 0 {
			continue
		}
		if len(line) < maxLine {
			line = append(line, b)
		}
		// The escape sequence is not followed by CR.
		if string(line) == at.Escape {
			line = line[:0]
			if err := s.reply(at.OK); err != nil {
				return err
			}
		}
	}
}

// passThrough forwards transparent-mode bytes to the default socket, watching
// for the "+++" escape.
func (s *session) passThrough(b byte) error {
	pending := []byte{b}
	for len(pending) < len(at.Escape) && pending[len(pending)-1] == '+' && s.r.Buffered() > 0 {
		next, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		pending = append(pending, next)
	}
	if string(pending) == at.Escape {
		s.transparent = false
		s.module.logger.Debug("Left transparent mode")
		return s.reply(at.OK)
	}

	sock := s.module.socket(s.module.currentDefault())
	if sock == nil {
		return nil
	}
	if _, err := sock.conn.Write(pending); err != nil {
		s.module.logger.Debug("Transparent write failed", "error", err)
	}
	return nil
}

func (s *session) reply(body string) error {
	_, err := io.WriteString(s.w, body+at.Terminator)
	return err
}

func (s *session) replyOK(fields ...string) error {
	if len(fields) == 0 {
		return s.reply(at.OK)
	}
	return s.reply(at.OK + "=" + strings.Join(fields, ","))
}

func (s *session) replyErr(code int) error {
	return s.reply(at.ERR + strconv.Itoa(code))
}

func (s *session) handle(cmd string) error {
	s.module.logger.Debug("Command", "cmd", cmd)

	name, args, _ := strings.Cut(cmd, "=")
	switch {
	case cmd == at.CmdProbe:
		return s.replyOK()
	case name+"=" == at.CmdSocketCreate:
		return s.create(splitArgs(args))
	case name+"=" == at.CmdSocketClose:
		return s.closeSocket(args)
	case name+"=" == at.CmdSocketSend:
		return s.send(splitArgs(args))
	case name+"=" == at.CmdSocketReceive:
		return s.receive(splitArgs(args))
	case strings.HasPrefix(cmd, at.CmdSocketState):
		return s.state(strings.TrimPrefix(strings.TrimPrefix(cmd, at.CmdSocketState), "="))
	case name+"=" == at.CmdSocketDefault:
		return s.setDefault(args)
	case cmd == at.CmdLinkStatus:
		return s.linkStatus()
	case cmd == at.CmdTransparentMode:
		return s.enterTransparent()
	case cmd == at.CmdAutoWorkSocket:
		return s.autoWorkSocket()
	default:
		return s.replyErr(ErrCodeUnknownCommand)
	}
}

func splitArgs(args string) []string {
	if args == "" {
		return nil
	}
	return strings.Split(args, ",")
}

func parseHandle(s string) (int, bool) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	return h, err == nil && h > 0 && h <= MaxSockets
}

func (s *session) create(args []string) error {
	if len(args) != 4 {
		return s.replyErr(ErrCodeBadArgument)
	}
	protocol, role, host, port := args[0], args[1], args[2], args[3]

	var network string
	switch protocol {
	case at.ProtocolTCP:
		network = "tcp"
	case at.ProtocolUDP:
		network = "udp"
	default:
		return s.replyErr(ErrCodeBadArgument)
	}
	if role != at.RoleClient {
		return s.replyErr(ErrCodeUnsupported)
	}

	h, ok := s.module.reserve()
	if !ok {
		return s.replyErr(ErrCodeNoFreeSocket)
	}

	conn, err := s.module.dial(s.ctx, network, net.JoinHostPort(host, port))
	if err != nil {
		s.module.release(h)
		s.module.logger.Warn("Socket connect failed", "host", host, "port", port, "error", err)
		return s.replyErr(ErrCodeConnectFailed)
	}

	sock := newSocket(conn, protocol, role, host, port)
	s.module.attach(h, sock)
	s.module.logger.Info("Socket opened", "handle", h, "address", conn.RemoteAddr())
	return s.replyOK(strconv.Itoa(h))
}

func (s *session) closeSocket(arg string) error {
	h, ok := parseHandle(arg)
	if !ok {
		return s.replyErr(ErrCodeBadArgument)
	}
	sock := s.module.detach(h)
	if sock == nil {
		return s.replyErr(ErrCodeNoSuchSocket)
	}
	sock.close()
	s.module.logger.Info("Socket closed", "handle", h)
	return s.replyOK()
}

// send acknowledges the announced size and then reads exactly that many raw
// bytes from the command stream.
func (s *session) send(args []string) error {
	if len(args) != 2 {
		return s.replyErr(ErrCodeBadArgument)
	}
	h, ok := parseHandle(args[0])
	size, err := strconv.Atoi(args[1])
	if !ok || err != nil || size < 0 {
		return s.replyErr(ErrCodeBadArgument)
	}
	sock := s.module.socket(h)
	if sock == nil {
		return s.replyErr(ErrCodeNoSuchSocket)
	}

	if err := s.replyOK(strconv.Itoa(size)); err != nil {
		return err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return err
	}
	if _, err := sock.conn.Write(payload); err != nil {
		s.module.logger.Warn("Socket write failed", "handle", h, "error", err)
	}
	return nil
}

// receive replies "+OK=<n>" followed by n raw bytes, n being at most the
// requested size.
func (s *session) receive(args []string) error {
	if len(args) != 2 {
		return s.replyErr(ErrCodeBadArgument)
	}
	h, ok := parseHandle(args[0])
	size, err := strconv.Atoi(args[1])
	if !ok || err != nil || size < 0 {
		return s.replyErr(ErrCodeBadArgument)
	}
	sock := s.module.socket(h)
	if sock == nil {
		return s.replyErr(ErrCodeNoSuchSocket)
	}

	data := sock.take(size)
	if err := s.replyOK(strconv.Itoa(len(data))); err != nil {
		return err
	}
	_, err = s.w.Write(data)
	return err
}

func (s *session) state(arg string) error {
	h, ok := parseHandle(arg)
	if !ok {
		return s.replyErr(ErrCodeBadArgument)
	}
	sock := s.module.socket(h)
	if sock == nil {
		return s.replyErr(ErrCodeNoSuchSocket)
	}
	connected := "1"
	if sock.closed() {
		connected = "0"
	}
	return s.replyOK(strconv.Itoa(h), connected, sock.protocol, sock.role, sock.host, sock.port)
}

func (s *session) setDefault(arg string) error {
	h, ok := parseHandle(arg)
	if !ok {
		return s.replyErr(ErrCodeBadArgument)
	}
	if s.module.socket(h) == nil {
		return s.replyErr(ErrCodeNoSuchSocket)
	}
	s.module.mu.Lock()
	s.module.defaultSocket = h
	s.module.mu.Unlock()
	return s.replyOK()
}

func (s *session) linkStatus() error {
	s.module.mu.Lock()
	up := s.module.linkUp
	s.module.mu.Unlock()

	if !up {
		return s.replyOK("0")
	}
	if s.module.ssid == "" {
		return s.replyOK("1")
	}
	return s.replyOK("1", strconv.Quote(s.module.ssid))
}

func (s *session) enterTransparent() error {
	if s.module.socket(s.module.currentDefault()) == nil {
		return s.replyErr(ErrCodeNoSuchSocket)
	}
	if err := s.replyOK(); err != nil {
		return err
	}
	s.transparent = true
	s.module.logger.Debug("Entered transparent mode")
	return nil
}

func (s *session) autoWorkSocket() error {
	h := s.module.currentDefault()
	sock := s.module.socket(h)
	if sock == nil {
		return s.replyOK("0")
	}
	return s.replyOK(sock.protocol, sock.role, sock.host, sock.port)
}

// reserve claims the lowest free handle.
func (m *Module) reserve() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h := 1; h <= MaxSockets; h++ {
		if _, used := m.sockets[h]; !used {
			m.sockets[h] = nil
			return h, true
		}
	}
	return 0, false
}

func (m *Module) release(h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sockets, h)
}

func (m *Module) attach(h int, s *socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets[h] = s
}

func (m *Module) detach(h int) *socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sockets[h]
	if s != nil {
		delete(m.sockets, h)
		if m.defaultSocket == h {
			m.defaultSocket = 0
		}
	}
	return s
}

func (m *Module) socket(h int) *socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sockets[h]
}

func (m *Module) currentDefault() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultSocket
}

// socket is one module-side connection. A reader goroutine buffers incoming
// data until AT+SKRCV collects it.
type socket struct {
	conn                       net.Conn
	protocol, role, host, port string

	mu  sync.Mutex
	buf []byte
	err error
}

func newSocket(conn net.Conn, protocol, role, host, port string) *socket {
	s := &socket{
		conn:     conn,
		protocol: protocol,
		role:     role,
		host:     host,
		port:     port,
	}
	go s.readLoop()
	return s
}

func (s *socket) readLoop() {
	p := make([]byte, 1024)
	for {
		n, err := s.conn.Read(p)
		s.mu.Lock()
		s.buf = append(s.buf, p[:n]...)
		if err != nil {
			s.err = err
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// take removes up to n buffered bytes.
func (s *socket) take(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.buf) {
		n = len(s.buf)
	}
	data := append([]byte(nil), s.buf[:n]...)
	s.buf = s.buf[n:]
	return data
}

func (s *socket) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil && len(s.buf) == 0
}

func (s *socket) close() {
	if s == nil {
		return
	}
	s.conn.Close()
}
