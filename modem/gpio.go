package modem

//go:generate go tool mockgen -source=gpio.go -destination=mock_gpio.go -package=modem

import (
	"context"
	"time"
)

// PinMode selects the direction of a GPIO line.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Line levels.
const (
	Low  = false
	High = true
)

// GPIO drives and samples the digital lines wired to the module's reset and
// RTS pins. Pins are identified by name (e.g. "GPIO17").
type GPIO interface {
	SetMode(pin string, mode PinMode) error
	Read(pin string) (bool, error)
	Write(pin string, level bool) error
}

// Clock is the monotonic time source used for every poll loop.
//
// Sleep is the scheduling point between polls and must return early with
// ctx.Err() when the context is done.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the Clock backed by the runtime timer.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
