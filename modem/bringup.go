package modem

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Strategy selects how the module is reset and judged ready.
type Strategy int

const (
	// StrategyNone leaves the module alone.
	StrategyNone Strategy = iota
	// StrategyRTS resets the module and follows its RTS line until ready.
	StrategyRTS
	// StrategyDelay resets the module and waits a fixed time.
	StrategyDelay
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyRTS:
		return "rts"
	case StrategyDelay:
		return "delay"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts "none", "rts" or "delay" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "none":
		return StrategyNone, nil
	case "rts":
		return StrategyRTS, nil
	case "delay":
		return StrategyDelay, nil
	default:
		return StrategyNone, fmt.Errorf("unknown bring-up strategy %q", s)
	}
}

// Sequencer resets the module through its reset line and determines when
// it is operational.
type Sequencer struct {
	gpio     GPIO
	clock    Clock
	logger   *slog.Logger
	resetPin string
	rtsPin   string

	timeout          time.Duration
	settleDelay      time.Duration
	resetHold        time.Duration
	debounceInterval time.Duration
	readyDelay       time.Duration
}

// NewSequencer builds a Sequencer from the bring-up part of config.
func NewSequencer(config Config) (*Sequencer, error) {
	if config.gpio == nil {
		return nil, ErrNoGPIO
	}
	config.setDefaults()

	return &Sequencer{
		gpio:             config.gpio,
		clock:            config.clock,
		logger:           config.logger.With("component", "bringup"),
		resetPin:         config.resetPin,
		rtsPin:           config.rtsPin,
		timeout:          config.initTimeout,
		settleDelay:      config.settleDelay,
		resetHold:        config.resetHold,
		debounceInterval: config.debounceInterval,
		readyDelay:       config.readyDelay,
	}, nil
}

// Run executes the given strategy within the configured bring-up timeout.
func (s *Sequencer) Run(ctx context.Context, strategy Strategy) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	var err error
	switch strategy {
	case StrategyNone:
		return nil
	case StrategyRTS:
		err = s.ResetUsingRTS(ctx)
	case StrategyDelay:
		err = s.ResetUsingDelay(ctx, s.readyDelay)
	default:
		return fmt.Errorf("unknown bring-up strategy %v", strategy)
	}
	if err != nil {
		return fmt.Errorf("bring-up %v: %w", strategy, err)
	}

	s.logger.Info("Module ready", "strategy", strategy, "elapsed", s.clock.Now().Sub(start))
	return nil
}

// ResetUsingRTS resets the module and follows its RTS line:
//
//  1. wait for RTS low (module idle)
//  2. drive reset low, wait for RTS low (reset acknowledged)
//  3. drive reset high, wait for RTS high (false ready right after reset)
//  4. wait for RTS low (booted, including any network auto-connect)
//
// Each wait is a debounce and only ends through ctx.
func (s *Sequencer) ResetUsingRTS(ctx context.Context) error {
	if err := s.configurePins(ctx); err != nil {
		return err
	}

	steps := []struct {
		name  string
		drive *bool
		want  bool
	}{
		{name: "idle", want: Low},
		{name: "reset acknowledged", drive: ptr(Low), want: Low},
		{name: "booting", drive: ptr(High), want: High},
		{name: "ready", want: Low},
	}

	for _, step := range steps {
		if step.drive != nil {
			if err := s.gpio.Write(s.resetPin, *step.drive); err != nil {
				return fmt.Errorf("drive reset pin: %w", err)
			}
		}
		if err := s.debounce(ctx, s.rtsPin, step.want); err != nil {
			return fmt.Errorf("wait for RTS (%s): %w", step.name, err)
		}
		s.logger.Debug("RTS settled", "step", step.name, "level", step.want)
	}
	return nil
}

// ResetUsingDelay pulses the reset line and then waits ready without
// consulting any feedback signal.
func (s *Sequencer) ResetUsingDelay(ctx context.Context, ready time.Duration) error {
	if err := s.configurePins(ctx); err != nil {
		return err
	}

	if err := s.gpio.Write(s.resetPin, Low); err != nil {
		return fmt.Errorf("drive reset pin: %w", err)
	}
	if err := s.clock.Sleep(ctx, s.resetHold); err != nil {
		return err
	}
	if err := s.gpio.Write(s.resetPin, High); err != nil {
		return fmt.Errorf("drive reset pin: %w", err)
	}
	return s.clock.Sleep(ctx, ready)
}

func (s *Sequencer) configurePins(ctx context.Context) error {
	if err := s.clock.Sleep(ctx, s.settleDelay); err != nil {
		return err
	}
	if err := s.gpio.SetMode(s.rtsPin, Input); err != nil {
		return fmt.Errorf("configure RTS pin: %w", err)
	}
	if err := s.gpio.SetMode(s.resetPin, Output); err != nil {
		return fmt.Errorf("configure reset pin: %w", err)
	}
	return nil
}

// debounce samples pin every debounceInterval until two consecutive samples
// read want.
func (s *Sequencer) debounce(ctx context.Context, pin string, want bool) error {
	prev, err := s.gpio.Read(pin)
	if err != nil {
		return err
	}

	for {
		if err := s.clock.Sleep(ctx, s.debounceInterval); err != nil {
			return err
		}
		cur, err := s.gpio.Read(pin)
		if err != nil {
			return err
		}
		if prev == want && cur == want {
			return nil
		}
		prev = cur
	}
}

func ptr[T any](v T) *T {
	return &v
}
