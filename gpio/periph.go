// Package gpio drives the module's reset and RTS lines through periph.io.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"i4.energy/across/wifigw/modem"
)

// ErrPinNotFound is returned for a pin name the host does not know.
var ErrPinNotFound = errors.New("gpio: pin not found")

// Periph implements modem.GPIO on top of the periph.io pin registry. Pins
// are looked up by name ("GPIO17", "P1_11", ...) on first use.
type Periph struct {
	lookup func(name string) pgpio.PinIO

	mu   sync.Mutex
	pins map[string]pgpio.PinIO
}

var _ modem.GPIO = (*Periph)(nil)

// NewPeriph initialises the periph.io host drivers.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: initialise host drivers: %w", err)
	}
	return newPeriph(gpioreg.ByName), nil
}

func newPeriph(lookup func(string) pgpio.PinIO) *Periph {
	return &Periph{
		lookup: lookup,
		pins:   make(map[string]pgpio.PinIO),
	}
}

func (p *Periph) pin(name string) (pgpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pin, ok := p.pins[name]; ok {
		return pin, nil
	}
	pin := p.lookup(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %q", ErrPinNotFound, name)
	}
	p.pins[name] = pin
	return pin, nil
}

// SetMode configures name as an input without pull resistor changes, or as
// an output driven high (the reset line's idle level).
func (p *Periph) SetMode(name string, mode modem.PinMode) error {
	pin, err := p.pin(name)
	if err != nil {
		return err
	}

	switch mode {
	case modem.Input:
		err = pin.In(pgpio.PullNoChange, pgpio.NoEdge)
	case modem.Output:
		err = pin.Out(pgpio.High)
	default:
		return fmt.Errorf("gpio: unknown pin mode %d", mode)
	}
	if err != nil {
		return fmt.Errorf("gpio: configure %s: %w", name, err)
	}
	return nil
}

func (p *Periph) Read(name string) (bool, error) {
	pin, err := p.pin(name)
	if err != nil {
		return false, err
	}
	return pin.Read() == pgpio.High, nil
}

func (p *Periph) Write(name string, level bool) error {
	pin, err := p.pin(name)
	if err != nil {
		return err
	}
	if err := pin.Out(pgpio.Level(level)); err != nil {
		return fmt.Errorf("gpio: drive %s: %w", name, err)
	}
	return nil
}
