package modem

import (
	"errors"
	"log/slog"
	"time"
)

// Config holds the settings of one Modem. Build it with NewConfigBuilder so
// that every timeout starts from the module's documented default.
//
// For the bounded waits (bring-up, network wait, payload read, SMTP reply)
// a zero duration means "no limit" and must be requested explicitly.
type Config struct {
	dialer Dialer
	logger *slog.Logger
	clock  Clock

	gpio     GPIO
	resetPin string
	rtsPin   string
	strategy Strategy

	atTimeout         time.Duration
	receiveTimeout    time.Duration
	probeTimeout      time.Duration
	escapeTimeout     time.Duration
	payloadTimeout    time.Duration
	interCommandDelay time.Duration

	initTimeout      time.Duration
	settleDelay      time.Duration
	resetHold        time.Duration
	debounceInterval time.Duration
	readyDelay       time.Duration

	networkPollInterval time.Duration
	networkTimeout      time.Duration
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	if c.strategy != StrategyNone {
		if c.gpio == nil {
			return ErrNoGPIO
		}
		if c.resetPin == "" || c.rtsPin == "" {
			return errors.New("reset and RTS pins are required for bring-up")
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.atTimeout == 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.receiveTimeout == 0 {
		c.receiveTimeout = 10 * time.Second
	}
	if c.probeTimeout == 0 {
		c.probeTimeout = 500 * time.Millisecond
	}
	if c.escapeTimeout == 0 {
		c.escapeTimeout = 100 * time.Millisecond
	}
	if c.debounceInterval == 0 {
		c.debounceInterval = time.Millisecond
	}
	if c.networkPollInterval == 0 {
		c.networkPollInterval = time.Second
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder preloaded with the module defaults.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{
		atTimeout:           5 * time.Second,
		receiveTimeout:      10 * time.Second,
		probeTimeout:        500 * time.Millisecond,
		escapeTimeout:       100 * time.Millisecond,
		payloadTimeout:      30 * time.Second,
		interCommandDelay:   50 * time.Millisecond,
		initTimeout:         30 * time.Second,
		settleDelay:         100 * time.Millisecond,
		resetHold:           50 * time.Millisecond,
		debounceInterval:    time.Millisecond,
		readyDelay:          5 * time.Second,
		networkPollInterval: time.Second,
		networkTimeout:      60 * time.Second,
	}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.clock = c
	return b
}

// WithBringUp runs the given reset strategy during New, driving resetPin
// and sampling rtsPin through g.
func (b *ConfigBuilder) WithBringUp(g GPIO, strategy Strategy, resetPin, rtsPin string) *ConfigBuilder {
	b.config.gpio = g
	b.config.strategy = strategy
	b.config.resetPin = resetPin
	b.config.rtsPin = rtsPin
	return b
}

// WithATTimeout sets the reply timeout of socket, link and mode commands.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithReceiveTimeout sets the acknowledgement timeout of AT+SKRCV.
func (b *ConfigBuilder) WithReceiveTimeout(d time.Duration) *ConfigBuilder {
	b.config.receiveTimeout = d
	return b
}

// WithPayloadTimeout bounds the read of a socket payload after its
// acknowledgement. Zero waits until the context is done.
func (b *ConfigBuilder) WithPayloadTimeout(d time.Duration) *ConfigBuilder {
	b.config.payloadTimeout = d
	return b
}

// WithInterCommandDelay sets the pause inserted before every command.
func (b *ConfigBuilder) WithInterCommandDelay(d time.Duration) *ConfigBuilder {
	b.config.interCommandDelay = d
	return b
}

// WithInitTimeout bounds the bring-up sequence. Zero means no limit.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithReadyDelay sets how long the fixed-delay strategy waits after reset.
func (b *ConfigBuilder) WithReadyDelay(d time.Duration) *ConfigBuilder {
	b.config.readyDelay = d
	return b
}

// WithDebounceInterval sets the RTS sampling cadence.
func (b *ConfigBuilder) WithDebounceInterval(d time.Duration) *ConfigBuilder {
	b.config.debounceInterval = d
	return b
}

// WithNetworkPoll sets the AT+LKSTT polling interval and the overall bound
// of WaitForNetwork. A zero timeout means no limit.
func (b *ConfigBuilder) WithNetworkPoll(interval, timeout time.Duration) *ConfigBuilder {
	b.config.networkPollInterval = interval
	b.config.networkTimeout = timeout
	return b
}

// Build validates and returns the Config.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	return b.config, nil
}
