package modem

import (
	"errors"
	"fmt"
	"time"

	"i4.energy/across/wifigw/at"
)

// Integer classification of a completed exchange, as reported by StatusOf.
const (
	// StatusOK means the module answered "+OK".
	StatusOK = 0
	// StatusTimeout means no terminator was observed before the deadline.
	StatusTimeout = -200
	// StatusMalformed means the reply matched neither "+OK" nor "+ERR=".
	StatusMalformed = -100
	// StatusFailure covers local failures that have no protocol status,
	// such as a failed write to the transport or a cancelled context.
	StatusFailure = -1
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoAddress is returned by a Dialer whose port name or network
	// address is empty.
	ErrNoAddress = errors.New("no address configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Modem was not created
	// via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation issued after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLineTooLong is returned when a module reply does not fit in the
	// response buffer before its terminator arrives.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for reply")

	// ErrMalformedReply matches replies that start with neither "+OK" nor
	// "+ERR=". No recovery is attempted; the caller decides.
	ErrMalformedReply = at.ErrMalformedReply

	// ErrNoGPIO is returned when a bring-up strategy that drives the reset
	// and RTS lines is requested without a GPIO collaborator.
	ErrNoGPIO = errors.New("no GPIO configured")

	// ErrTooManySockets is returned by CreateSocket when MaxSockets handles
	// created through this Modem are still open.
	ErrTooManySockets = errors.New("too many open sockets")

	// ErrTokenTooLong is returned when a socket descriptor field exceeds
	// MaxTokenLength bytes.
	ErrTokenTooLong = errors.New("command token too long")
)

// TimeoutError reports that no complete reply arrived in time.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply to %q within %s", e.Command, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Status returns StatusTimeout.
func (e *TimeoutError) Status() int {
	return StatusTimeout
}

// ModuleError is a command explicitly rejected by the module with
// "+ERR=<code>". The code's meaning is defined by the module firmware.
type ModuleError struct {
	Command string
	Code    int
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module rejected %q: error %d", e.Command, e.Code)
}

// Status returns the module error code verbatim.
func (e *ModuleError) Status() int {
	return e.Code
}

// MalformedReplyError carries a reply that could not be classified or
// whose fields could not be parsed.
type MalformedReplyError struct {
	Command string
	Reply   string
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("malformed reply to %q: %q", e.Command, e.Reply)
}

// Is makes errors.Is(err, ErrMalformedReply) true.
func (e *MalformedReplyError) Is(target error) bool {
	return target == ErrMalformedReply
}

// Status returns StatusMalformed.
func (e *MalformedReplyError) Status() int {
	return StatusMalformed
}

// StatusOf maps an error returned by this package (or any error exposing a
// Status() int method, such as smtp.ReplyError) to the integer status
// taxonomy: 0 for nil, -200 for timeouts, the module code for module errors.
func StatusOf(err error) int {
	if err == nil {
		return StatusOK
	}

	var s interface{ Status() int }
	if errors.As(err, &s) {
		return s.Status()
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrMalformedReply):
		return StatusMalformed
	default:
		return StatusFailure
	}
}
