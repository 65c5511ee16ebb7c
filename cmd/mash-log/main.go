// Command mash-log is a tool for viewing and analyzing MASH reporting
// protocol traces.
//
// Trace files are written by mash-reportd and mash-reportctl when started
// with --trace.
//
// Usage:
//
//	mash-log <command> [flags] <file.mlog>
//
// Commands:
//
//	view     View trace in human-readable format
//	export   Export trace to JSON or CSV format
//	filter   Filter trace and write to new file
//	stats    Show report and transaction statistics
//
// Examples:
//
//	# View all events
//	mash-log view reportd.mlog
//
//	# View only generated reports
//	mash-log view --category report reportd.mlog
//
//	# View one subscription
//	mash-log view --subscription 3 reportd.mlog
//
//	# Export to JSONL
//	mash-log export --format jsonl reportd.mlog
//
//	# Filter by trace and save to new file
//	mash-log filter --trace-id abc12345-... -o filtered.mlog reportd.mlog
//
//	# Show statistics
//	mash-log stats reportd.mlog
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/mash-protocol/mash-reporting/cmd/mash-log/commands"
)

const usage = `mash-log - MASH Reporting Trace Analyzer

Usage:
  mash-log <command> [flags] <file.mlog>

Commands:
  view     View trace in human-readable format
  export   Export trace to JSON or CSV format
  filter   Filter trace and write to new file
  stats    Show report and transaction statistics

Use "mash-log <command> --help" for more information about a command.
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "view":
		return runView(args, stdout, stderr)
	case "export":
		return runExport(args, stdout, stderr)
	case "filter":
		return runFilter(args, stdout, stderr)
	case "stats":
		return runStats(args, stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(stderr, usage)
		return errUsage
	}
}

// newFlagSet returns a flag set whose usage text starts with header.
func newFlagSet(name, header string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, header)
		fs.PrintDefaults()
	}
	return fs
}

// logFile returns the single positional argument.
func logFile(fs *pflag.FlagSet, stderr io.Writer) (string, error) {
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: log file path required")
		fs.Usage()
		return "", errUsage
	}
	return fs.Arg(0), nil
}

func runView(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("view", `mash-log view - View trace in human-readable format

Usage:
  mash-log view [flags] <file.mlog>

Flags:
`, stderr)

	layer := fs.String("layer", "", "Filter by layer (transport, wire, engine)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, report, state, error)")
	traceID := fs.String("trace-id", "", "Filter by trace ID")
	subscription := fs.Uint32("subscription", 0, "Filter by subscription ID")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logFile(fs, stderr)
	if err != nil {
		return err
	}

	filter := commands.ViewFilter{TraceID: *traceID, SubscriptionID: *subscription}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	return commands.RunView(path, filter, stdout)
}

func runExport(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", `mash-log export - Export trace to JSON or CSV format

Usage:
  mash-log export [flags] <file.mlog>

Flags:
`, stderr)

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logFile(fs, stderr)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output, stdout)
}

func runFilter(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("filter", `mash-log filter - Filter trace and write to new file

Usage:
  mash-log filter [flags] <file.mlog>

Flags:
`, stderr)

	var opts commands.FilterOptions
	fs.StringVarP(&opts.Output, "output", "o", "", "Output file (required)")
	fs.StringVar(&opts.TraceID, "trace-id", "", "Filter by trace ID")
	fs.Uint32Var(&opts.SubscriptionID, "subscription", 0, "Filter by subscription ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, engine)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, report, state, error)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logFile(fs, stderr)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fmt.Fprintln(stderr, "Error: output file (-o) required")
		fs.Usage()
		return errUsage
	}
	return commands.RunFilter(path, opts, stdout)
}

func runStats(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("stats", `mash-log stats - Show report and transaction statistics

Usage:
  mash-log stats <file.mlog>

`, stderr)

	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := logFile(fs, stderr)
	if err != nil {
		return err
	}
	return commands.RunStats(path, stdout)
}
