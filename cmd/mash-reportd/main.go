// Command mash-reportd is a reference device host for the reporting engine.
//
// It serves a simulated smart plug over the reporting protocol with:
//   - yaml configuration with command line overrides
//   - event numbers and attribute values persisted in a bbolt database
//   - a measurement simulation feeding attribute changes and events
//   - a debug HTTP API with Prometheus metrics
//   - an optional interactive console
//
// Usage:
//
//	mash-reportd [flags]
//
// Examples:
//
//	# Serve on the default port with simulation
//	mash-reportd
//
//	# Use a config file, trace the protocol and open the console
//	mash-reportd -c /etc/mash/reportd.yaml --trace /tmp/reportd.mlog -i
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mash-protocol/mash-reporting/cmd/mash-reportd/interactive"
	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	mashlog "github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/metrics"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/persistence"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
	"github.com/mash-protocol/mash-reporting/pkg/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	output := &switchWriter{w: os.Stderr}
	logger := setupLogging(output, cfg.LogLevel)
	logger.Info("MASH reporting device", "device", cfg.DeviceID, "listen", cfg.Listen)

	protocolLogger, closeTrace, err := setupProtocolLogging(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTrace()

	store, err := persistence.OpenBoltStore(cfg.StateFile)
	if err != nil {
		return err
	}
	defer store.Close()

	plug, err := newPlug(cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	attrs := &attributeStore{store: store, device: plug.Device(), logger: logger}
	if n := attrs.restore(); n > 0 {
		logger.Info("restored attributes", "count", n)
	}

	events, err := eventlog.New(cfg.eventLogConfig(store.EventCounter()))
	if err != nil {
		return fmt.Errorf("create event log: %w", err)
	}
	logger.Info("event log ready", "next", events.NextNumber())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rcfg := cfg.Reporting
	rcfg.Logger = logger
	rcfg.ProtocolLogger = protocolLogger
	rcfg.Metrics = metrics.New(registry)

	host, err := reporting.NewHost(rcfg, plug.Device(), events)
	if err != nil {
		return fmt.Errorf("create reporting host: %w", err)
	}
	plug.emitter = host
	plug.Device().OnChange(func(p path.AttributePath) {
		host.MarkAttributeDirty(p)
		attrs.save(p)
	})

	subject := cfg.subject()
	server, err := transport.NewServer(transport.ServerConfig{
		Address:        cfg.Listen,
		MaxMessageSize: cfg.Transport.MaxMessageSize,
		AckTimeout:     cfg.Transport.AckTimeout,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		Subject:        func(*transport.ServerConn) model.Subject { return subject },
		Logger:         logger,
		ProtocolLogger: protocolLogger,
		OnConnect: func(conn *transport.ServerConn) {
			logger.Info("requester connected", "trace", conn.TraceID(), "remote", conn.RemoteAddr().String())
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			logger.Info("requester disconnected", "trace", conn.TraceID())
		},
	}, host)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sim := newSimulator(plug, cfg.SimulationInterval, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return host.Run(ctx)
	})
	g.Go(func() error {
		if err := server.Start(ctx); err != nil {
			return err
		}
		logger.Info("server started", "addr", server.Addr().String())
		<-ctx.Done()
		return server.Stop()
	})
	g.Go(func() error {
		return sim.Run(ctx, cfg.Simulate)
	})
	if cfg.DebugListen != "" {
		g.Go(func() error {
			return serveDebug(ctx, cfg.DebugListen, newDebugRouter(host, registry, logger), logger)
		})
	}

	if cfg.Interactive {
		console, err := interactive.New(plug, host, sim)
		if err != nil {
			cancel()
			g.Wait()
			return err
		}
		// Log through readline so lines do not tear the prompt.
		output.Set(console.Stderr())
		go console.Run(ctx, cancel)
	}

	err = g.Wait()
	output.Set(os.Stderr)
	host.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

// serveDebug runs the debug HTTP server until ctx ends.
func serveDebug(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("debug API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogging(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// setupProtocolLogging returns the protocol trace sink: a rotating CBOR
// trace file, the debug log, both, or a no-op.
func setupProtocolLogging(cfg *Config, logger *slog.Logger) (mashlog.Logger, func(), error) {
	var trace, debug mashlog.Logger
	closeFn := func() {}

	if cfg.TraceFile != "" {
		fl, err := mashlog.OpenFileLogger(mashlog.FileConfig{
			Path:     cfg.TraceFile,
			MaxBytes: cfg.TraceMaxBytes,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		trace = fl
		closeFn = func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol trace incomplete", "dropped", n)
			}
			fl.Close()
		}
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		debug = mashlog.NewSlogAdapter(logger)
	}
	return mashlog.Tee(trace, debug), closeFn, nil
}

// switchWriter lets log output move to the console once it exists.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
