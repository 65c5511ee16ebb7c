// Command mash-reportctl sends read and subscribe requests to a reporting
// device and prints the reassembled reports.
//
// Every report is acknowledged as it arrives. Chunked attribute lists are
// reassembled before they are printed.
//
// Usage:
//
//	mash-reportctl <command> [flags]
//
// Commands:
//
//	read       One-shot read of attributes and events
//	subscribe  Subscribe and print reports until interrupted
//
// Examples:
//
//	# Read every attribute of the on/off cluster
//	mash-reportctl read --attr '1/0x0006/*'
//
//	# Subscribe to measurements and all events, reporting at most every 2s
//	mash-reportctl subscribe --attr '1/0x0B04/*' --event '*/*/*' --min 2s --max 60s
//
//	# Keep a subscription alive across device restarts
//	mash-reportctl subscribe --attr '1/0x0006/0' --resubscribe
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	mashlog "github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/transport"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

const usage = `mash-reportctl - MASH reporting client

Usage:
  mash-reportctl <command> [flags]

Commands:
  read       One-shot read of attributes and events
  subscribe  Subscribe and print reports until interrupted

Use "mash-reportctl <command> --help" for more information about a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return errors.New("command required")
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "read", "subscribe":
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command: %s", cmd)
	}

	var opts options
	fs := newFlagSet(cmd, &opts)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	protocolLogger, closeTrace, err := setupProtocolLogging(&opts, stderr)
	if err != nil {
		return err
	}
	defer closeTrace()

	client := transport.NewClient(transport.ClientConfig{
		ConnectTimeout: opts.Timeout,
		ProtocolLogger: protocolLogger,
	})

	if opts.Subscribe {
		return subscribe(ctx, client, &opts, stdout)
	}
	return read(ctx, client, &opts, stdout)
}

func setupProtocolLogging(opts *options, stderr io.Writer) (mashlog.Logger, func(), error) {
	var trace, console mashlog.Logger
	closeTrace := func() {}

	if opts.Trace != "" {
		fl, err := mashlog.NewFileLogger(opts.Trace)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		trace = fl
		closeTrace = func() { fl.Close() }
	}
	if opts.Verbose {
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		console = mashlog.NewSlogAdapter(logger)
	}
	return mashlog.Tee(trace, console), closeTrace, nil
}

func read(ctx context.Context, client *transport.Client, opts *options, stdout io.Writer) error {
	req, err := opts.readRequest()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := client.Connect(ctx, opts.Address)
	if err != nil {
		return err
	}
	defer conn.Close()

	result, err := conn.Read(ctx, req)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	newPrinter(stdout, opts.Raw).Result(result)
	return nil
}

func subscribe(ctx context.Context, client *transport.Client, opts *options, stdout io.Writer) error {
	req, err := opts.subscribeRequest()
	if err != nil {
		return err
	}

	// Reports are printed from the subscription goroutine.
	out := &syncWriter{w: stdout}
	s := &session{
		client: client,
		opts:   opts,
		out:    out,
		p:      newPrinter(out, opts.Raw),
		enough: make(chan struct{}),
	}

	backoff := transport.NewBackoff(transport.DefaultBackoffConfig())
	for {
		err := s.subscribeOnce(ctx, req, backoff.Reset)
		if err == nil || !opts.Resub || !resumable(err) {
			return err
		}

		// The previous subscription goroutine has ended; pick up after the
		// last event seen.
		s.p.Abandon()
		if last := s.p.LastEvent(); last > 0 {
			req.EventMin = last + 1
		}
		delay := backoff.Next()
		fmt.Fprintf(out, "subscription ended: %v; resubscribing in %s (attempt %d)\n",
			err, delay.Round(time.Millisecond), backoff.Attempts())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session is one subscribe command, possibly spanning several
// subscriptions when --resubscribe is set.
type session struct {
	client *transport.Client
	opts   *options
	out    io.Writer
	p      *printer

	enough   chan struct{}
	once     sync.Once
	printErr error
}

func (s *session) onReport(r *wire.ReportData) {
	if s.printErr != nil {
		return
	}
	if err := s.p.Report(r); err != nil {
		s.printErr = err
		s.once.Do(func() { close(s.enough) })
		return
	}
	if s.opts.Count > 0 && s.p.Reports() >= s.opts.Count {
		s.once.Do(func() { close(s.enough) })
	}
}

// subscribeOnce connects, subscribes and prints reports until the
// subscription ends. A nil error means the command is done.
func (s *session) subscribeOnce(ctx context.Context, req *wire.SubscribeRequest, established func()) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	conn, err := s.client.Connect(connectCtx, s.opts.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close()

	sub, err := conn.Subscribe(connectCtx, req, s.onReport)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	established()
	fmt.Fprintf(s.out, "subscription %d established, max interval %s\n", sub.ID, sub.MaxInterval)

	select {
	case <-ctx.Done():
		sub.Close()
		return nil
	case <-s.enough:
		sub.Close()
		return s.printErr
	case <-sub.Done():
		// Priming may already have satisfied --count.
		select {
		case <-s.enough:
			return s.printErr
		default:
		}
		return sub.Err()
	}
}

// resumable reports whether a subscription that ended with err is worth
// re-establishing.
func resumable(err error) bool {
	var se *wire.StatusError
	if errors.As(err, &se) {
		return se.Status == wire.StatusBusy || se.Status == wire.StatusResourceExhausted ||
			se.Status == wire.StatusInvalidSubscription
	}
	var ne net.Error
	return errors.Is(err, transport.ErrSubscriptionLost) ||
		errors.Is(err, transport.ErrConnectionClosed) ||
		errors.Is(err, transport.ErrExchangeClosed) ||
		errors.As(err, &ne)
}
