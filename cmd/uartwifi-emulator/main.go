// Command uartwifi-emulator exposes an emulated UART WiFi module on a TCP
// port. Point the gateway at it with -emulator-address to run without
// hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"i4.energy/across/wifigw/emulator"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8899", "Address to accept module connections on")
	ssid := flag.String("ssid", "emulated", "SSID reported by AT+LKSTT")
	linkDown := flag.Bool("link-down", false, "Start without a WiFi link")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("Failed to listen", "address", *listen, "error", err)
		os.Exit(1)
	}
	context.AfterFunc(ctx, func() { ln.Close() })
	logger.Info("Emulated module listening", "address", ln.Addr().String())

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("Accept failed", "error", err)
			continue
		}

		// Every connection is its own module, as if a separate serial line.
		mod := emulator.New(emulator.Config{
			Logger:   logger.With("peer", conn.RemoteAddr().String()),
			SSID:     *ssid,
			LinkDown: *linkDown,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			logger.Info("Module connected", "peer", conn.RemoteAddr().String())
			if err := mod.Serve(ctx, conn); err != nil {
				logger.Warn("Module session ended", "error", err)
			}
		}()
	}

	logger.Info("Shutting down")
	wg.Wait()
}
