// Package smtp sends a single email through a socket opened on the UART WiFi
// module. It speaks just enough SMTP for an unauthenticated relay: HELO,
// MAIL FROM, RCPT TO, DATA and QUIT, each checked against the expected
// reply code.
package smtp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/wifigw/modem"
)

// SocketService is the subset of *modem.Modem the session is built on.
type SocketService interface {
	CreateSocket(ctx context.Context, desc modem.SocketDescriptor) (modem.Handle, error)
	Send(ctx context.Context, h modem.Handle, data []byte) error
	Receive(ctx context.Context, h modem.Handle, p []byte) (int, error)
	CloseSocket(ctx context.Context, h modem.Handle) error
}

// Stage names one step of the session.
type Stage int

const (
	StageConnect Stage = iota
	StageHelo
	StageMailFrom
	StageRcptTo
	StageData
	StageEndOfData
	StageQuit
)

func (s Stage) String() string {
	switch s {
	case StageConnect:
		return "greeting"
	case StageHelo:
		return "HELO"
	case StageMailFrom:
		return "MAIL FROM"
	case StageRcptTo:
		return "RCPT TO"
	case StageData:
		return "DATA"
	case StageEndOfData:
		return "end of data"
	case StageQuit:
		return "QUIT"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// maxReplySize bounds the bytes collected for one server reply.
const maxReplySize = 4096

// Option configures a Client.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	clock        modem.Clock
	retryDelay   time.Duration
	replyTimeout time.Duration
	quitTimeout  time.Duration
	receiveSize  int
	chunkSize    int
}

// WithLogger sets the structured logger. The client tags its records with
// component=smtp, so pass the logger untagged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used between receive polls.
func WithClock(c modem.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRetryDelay sets the pause between receive polls that returned no data.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithReplyTimeout bounds the wait for each server reply. Zero waits until
// the context is done.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) { o.replyTimeout = d }
}

// WithQuitTimeout bounds the wait for the reply to QUIT.
func WithQuitTimeout(d time.Duration) Option {
	return func(o *options) { o.quitTimeout = d }
}

// WithChunkSize sets the largest payload handed to a single socket send
// while streaming the message.
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// Client runs SMTP sessions over module sockets.
type Client struct {
	sockets SocketService
	logger  *slog.Logger
	opts    options
}

// NewClient returns a Client sending through sockets.
func NewClient(sockets SocketService, opts ...Option) *Client {
	o := options{
		logger:       slog.Default(),
		clock:        modem.SystemClock{},
		retryDelay:   250 * time.Millisecond,
		replyTimeout: 60 * time.Second,
		quitTimeout:  5 * time.Second,
		receiveSize:  256,
		chunkSize:    512,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		sockets: sockets,
		logger:  o.logger.With("component", "smtp"),
		opts:    o,
	}
}

// SendEmail delivers msg to msg.MailServer.
//
// A failure to create the socket is returned as-is and nothing is closed.
// After the socket exists it is closed exactly once, whatever the outcome.
// A server reply with an unexpected code yields a *ReplyError; modem and
// transport errors are returned wrapped. modem.StatusOf maps all of them
// to the integer status taxonomy.
func (c *Client) SendEmail(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	h, err := c.sockets.CreateSocket(ctx, modem.TCPClient(msg.MailServer, msg.port()))
	if err != nil {
		return fmt.Errorf("connect to %s:%s: %w", msg.MailServer, msg.port(), err)
	}
	logger := c.logger.With("handle", h, "server", msg.MailServer)

	sessionErr := c.session(ctx, h, msg)

	// The socket must be released even when ctx is already done.
	closeCtx := context.WithoutCancel(ctx)
	if err := c.sockets.CloseSocket(closeCtx, h); err != nil {
		logger.Warn("Failed to close socket", "error", err)
	}

	if sessionErr != nil {
		logger.Warn("Email not sent", "error", sessionErr)
		return sessionErr
	}
	logger.Info("Email sent", "to", msg.To)
	return nil
}

func (c *Client) session(ctx context.Context, h modem.Handle, msg Message) error {
	if err := c.expect(ctx, h, StageConnect, ReplyServiceReady); err != nil {
		return err
	}

	commands := []struct {
		stage Stage
		line  string
		want  ReplyCode
	}{
		{StageHelo, "HELO " + msg.HeloDomain, ReplyOK},
		{StageMailFrom, "MAIL FROM:<" + msg.From + ">", ReplyOK},
		{StageRcptTo, "RCPT TO:<" + msg.To + ">", ReplyOK},
		{StageData, "DATA", ReplyStartMailInput},
	}
	for _, cmd := range commands {
		if err := c.sendLine(ctx, h, cmd.stage, cmd.line); err != nil {
			return err
		}
		if err := c.expect(ctx, h, cmd.stage, cmd.want); err != nil {
			return err
		}
	}

	if err := c.writeMessage(ctx, h, msg); err != nil {
		return fmt.Errorf("smtp: write message: %w", err)
	}
	if err := c.expect(ctx, h, StageEndOfData, ReplyOK); err != nil {
		return err
	}

	c.quit(ctx, h)
	return nil
}

// quit sends QUIT and waits a bounded time for the server to answer. The
// message is already accepted, so the outcome is only logged.
func (c *Client) quit(ctx context.Context, h modem.Handle) {
	if err := c.sendLine(ctx, h, StageQuit, "QUIT"); err != nil {
		c.logger.Debug("QUIT not sent", "handle", h, "error", err)
		return
	}

	qctx := ctx
	if c.opts.quitTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, c.opts.quitTimeout)
		defer cancel()
	}
	reply, err := c.awaitReply(qctx, h)
	if err != nil {
		c.logger.Debug("No reply to QUIT", "handle", h, "error", err)
		return
	}
	c.logger.Debug("Session closed by server", "handle", h, "reply", strings.TrimRight(reply, "\r\n"))
}

func (c *Client) sendLine(ctx context.Context, h modem.Handle, stage Stage, line string) error {
	c.logger.Debug("Sending", "handle", h, "stage", stage)
	if err := c.sockets.Send(ctx, h, []byte(line+"\r\n")); err != nil {
		return fmt.Errorf("smtp: send %s: %w", stage, err)
	}
	return nil
}

// expect waits for the next reply and checks its code.
func (c *Client) expect(ctx context.Context, h modem.Handle, stage Stage, want ReplyCode) error {
	rctx := ctx
	if c.opts.replyTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.opts.replyTimeout)
		defer cancel()
	}

	reply, err := c.awaitReply(rctx, h)
	if err != nil {
		return fmt.Errorf("smtp: await reply to %s: %w", stage, err)
	}

	if code, ok := parseCode(reply); !ok || code != want {
		return &ReplyError{Stage: stage, Expected: want, Reply: reply}
	}
	c.logger.Debug("Reply accepted", "handle", h, "stage", stage, "code", want)
	return nil
}

// awaitReply polls the socket until a complete reply has arrived. A receive
// that returns no data is retried after the configured delay; receive
// errors end the wait.
func (c *Client) awaitReply(ctx context.Context, h modem.Handle) (string, error) {
	var reply []byte
	p := make([]byte, c.opts.receiveSize)

	for {
		n, err := c.sockets.Receive(ctx, h, p)
		if err != nil {
			return string(reply), err
		}
		reply = append(reply, p[:n]...)
		if n > 0 && (replyComplete(reply) || len(reply) >= maxReplySize) {
			return string(reply), nil
		}
		if n == 0 {
			if err := c.opts.clock.Sleep(ctx, c.opts.retryDelay); err != nil {
				return string(reply), err
			}
		}
	}
}

// writeMessage streams the headers and the dot-stuffed body, followed by
// the end-of-data marker.
func (c *Client) writeMessage(ctx context.Context, h modem.Handle, msg Message) error {
	sw := &socketWriter{ctx: ctx, sockets: c.sockets, handle: h}
	dw := newDotWriter(bufio.NewWriterSize(sw, c.opts.chunkSize))

	from := msg.From
	if msg.FriendlyName != "" {
		from = msg.FriendlyName + " <" + msg.From + ">"
	}
	headers := "Subject: " + msg.Subject + "\r\n" +
		"From: " + from + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"\r\n"
	if _, err := io.WriteString(dw, headers); err != nil {
		return err
	}
	if _, err := io.WriteString(dw, normalizeNewlines(msg.Body)); err != nil {
		return err
	}
	return dw.Close()
}

// normalizeNewlines converts bare LF line endings to CRLF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// socketWriter adapts SocketService.Send to io.Writer.
type socketWriter struct {
	ctx     context.Context
	sockets SocketService
	handle  modem.Handle
}

func (w *socketWriter) Write(p []byte) (int, error) {
	if err := w.sockets.Send(w.ctx, w.handle, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
