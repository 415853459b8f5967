package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address" validate:"required,hostname_port"`
	// SerialPort is the path to the module's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port" validate:"required_without=EmulatorAddress"`
	// BaudRate is the baud rate for serial communication with the module (e.g. 115200)
	BaudRate int `yaml:"baud_rate" validate:"min=1200"`
	// EmulatorAddress connects to an emulated module over TCP instead of
	// the serial port (e.g. "127.0.0.1:8899")
	EmulatorAddress string `yaml:"emulator_address" validate:"omitempty,hostname_port"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// BringUp selects the reset strategy: "none", "rts" or "delay"
	BringUp string `yaml:"bring_up" validate:"oneof=none rts delay"`
	// ResetPin and RTSPin name the GPIO lines wired to the module
	ResetPin string `yaml:"reset_pin" validate:"required_unless=BringUp none"`
	RTSPin   string `yaml:"rts_pin" validate:"required_unless=BringUp none"`

	// NetworkTimeout bounds the wait for the WiFi link at startup
	NetworkTimeout time.Duration `yaml:"network_timeout" validate:"min=0"`

	// HeloDomain and MailServer are used when a request leaves them empty
	HeloDomain string `yaml:"helo_domain" validate:"required"`
	MailServer string `yaml:"mail_server"`
	MailPort   string `yaml:"mail_port" validate:"omitempty,numeric"`
	// ReplyTimeout bounds the wait for each SMTP server reply
	ReplyTimeout time.Duration `yaml:"reply_timeout" validate:"min=0"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

var validate = validator.New()

// LoadConfig creates a new config by applying the given options in order
// and validates the result
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.BringUp = "none"
		c.NetworkTimeout = 60 * time.Second
		c.HeloDomain = "localhost"
		c.MailPort = "25"
		c.ReplyTimeout = 60 * time.Second
		return nil
	}
}

// WithFile overlays the YAML file at path. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		for name, dst := range map[string]*string{
			"BIND_ADDRESS":     &c.BindAddress,
			"SERIAL_PORT":      &c.SerialPort,
			"EMULATOR_ADDRESS": &c.EmulatorAddress,
			"LOG_LEVEL":        &c.LogLevel,
			"BRING_UP":         &c.BringUp,
			"RESET_PIN":        &c.ResetPin,
			"RTS_PIN":          &c.RTSPin,
			"HELO_DOMAIN":      &c.HeloDomain,
			"MAIL_SERVER":      &c.MailServer,
			"MAIL_PORT":        &c.MailPort,
		} {
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if v := os.Getenv("NETWORK_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("NETWORK_TIMEOUT: %w", err)
			}
			c.NetworkTimeout = d
		}

		if v := os.Getenv("REPLY_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("REPLY_TIMEOUT: %w", err)
			}
			c.ReplyTimeout = d
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "emulator-address":
				c.EmulatorAddress = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "bring-up":
				c.BringUp = f.Value.String()
			case "reset-pin":
				c.ResetPin = f.Value.String()
			case "rts-pin":
				c.RTSPin = f.Value.String()
			case "network-timeout":
				if d, perr := time.ParseDuration(f.Value.String()); perr == nil {
					c.NetworkTimeout = d
				} else {
					err = fmt.Errorf("network-timeout: %w", perr)
				}
			case "helo-domain":
				c.HeloDomain = f.Value.String()
			case "mail-server":
				c.MailServer = f.Value.String()
			case "mail-port":
				c.MailPort = f.Value.String()
			}
		})
		return err
	}
}
