package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/wifigw/gpio"
	"i4.energy/across/wifigw/modem"
	"i4.energy/across/wifigw/smtp"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the module")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("emulator-address", "", "Connect to an emulated module over TCP instead of the serial port")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("bring-up", "none", "Module reset strategy (none, rts, delay)")
	flag.String("reset-pin", "", "GPIO line wired to the module reset input")
	flag.String("rts-pin", "", "GPIO line wired to the module RTS output")
	flag.String("network-timeout", "60s", "How long to wait for the WiFi link at startup")
	flag.String("helo-domain", "localhost", "Default domain announced in HELO")
	flag.String("mail-server", "", "Default SMTP server")
	flag.String("mail-port", "25", "Default SMTP server port")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var dialer modem.Dialer = modem.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	if config.EmulatorAddress != "" {
		dialer = modem.TCPDialer{Address: config.EmulatorAddress, Timeout: 10 * time.Second}
	}

	builder := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(logger).
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithNetworkPoll(time.Second, config.NetworkTimeout)

	strategy, err := modem.ParseStrategy(config.BringUp)
	if err != nil {
		logger.Error("Invalid bring-up strategy", "error", err)
		os.Exit(1)
	}
	if strategy != modem.StrategyNone {
		pins, err := gpio.NewPeriph()
		if err != nil {
			logger.Error("Failed to initialize GPIO", "error", err)
			os.Exit(1)
		}
		builder = builder.WithBringUp(pins, strategy, config.ResetPin, config.RTSPin)
	}

	modemConfig, err := builder.Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting WiFi Gateway", "modem", m)

	if err := m.WaitForNetwork(context.Background()); err != nil {
		// Requests still get a status from the module, so keep serving.
		logger.Warn("WiFi link not up", "error", err)
	}

	mailer := smtp.NewClient(m,
		smtp.WithLogger(logger),
		smtp.WithReplyTimeout(config.ReplyTimeout),
	)

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Mailer:  mailer,
			Network: m,
			Defaults: smtp.Message{
				HeloDomain: config.HeloDomain,
				MailServer: config.MailServer,
				Port:       config.MailPort,
			},
		},
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
		os.Exit(1)
	}
}
