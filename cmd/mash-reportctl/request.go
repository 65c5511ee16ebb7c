package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

var errNoPaths = errors.New("at least one --attr or --event path is required")

// options holds the flags shared by read and subscribe.
type options struct {
	Address   string
	Attrs     []string
	Events    []string
	Versions  []string
	EventMin  uint64
	Timeout   time.Duration
	Trace     string
	Verbose   bool
	Raw       bool
	Min       time.Duration
	Max       time.Duration
	Count     int
	Subscribe bool
	Resub     bool
}

// newFlagSet registers the flags of the named subcommand on a fresh set.
func newFlagSet(name string, opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("mash-reportctl "+name, pflag.ContinueOnError)
	fs.StringVarP(&opts.Address, "addr", "a", "127.0.0.1:5540", "Device address")
	fs.StringArrayVar(&opts.Attrs, "attr", nil, "Attribute path endpoint/cluster/attribute (repeatable, * for wildcard)")
	fs.StringArrayVar(&opts.Events, "event", nil, "Event path endpoint/cluster/event (repeatable, * for wildcard)")
	fs.StringArrayVar(&opts.Versions, "data-version", nil, "Skip a cluster held at a version, endpoint/cluster=version (repeatable)")
	fs.Uint64Var(&opts.EventMin, "event-min", 0, "First event number wanted")
	fs.DurationVarP(&opts.Timeout, "timeout", "t", 10*time.Second, "Connect and request timeout")
	fs.StringVar(&opts.Trace, "trace", "", "Write a protocol trace to this file")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log protocol messages")
	fs.BoolVar(&opts.Raw, "raw", false, "Print values as hex CBOR")

	if name == "subscribe" {
		opts.Subscribe = true
		fs.DurationVar(&opts.Min, "min", 0, "Minimum interval between reports")
		fs.DurationVar(&opts.Max, "max", time.Minute, "Maximum interval between reports")
		fs.IntVarP(&opts.Count, "count", "n", 0, "Exit after this many reports (0 runs until interrupted)")
		fs.BoolVar(&opts.Resub, "resubscribe", false, "Re-establish a lost subscription with exponential backoff")
	}
	return fs
}

func (o *options) paths() ([]path.AttributePath, []path.EventPath, error) {
	if len(o.Attrs) == 0 && len(o.Events) == 0 {
		return nil, nil, errNoPaths
	}
	attrs := make([]path.AttributePath, 0, len(o.Attrs))
	for _, s := range o.Attrs {
		p, err := path.ParseAttributePath(s)
		if err != nil {
			return nil, nil, err
		}
		attrs = append(attrs, p)
	}
	events := make([]path.EventPath, 0, len(o.Events))
	for _, s := range o.Events {
		p, err := path.ParseEventPath(s)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, p)
	}
	return attrs, events, nil
}

func (o *options) filters() ([]wire.DataVersionFilter, error) {
	var out []wire.DataVersionFilter
	for _, s := range o.Versions {
		f, err := parseDataVersionFilter(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// readRequest builds the ReadRequest the flags describe.
func (o *options) readRequest() (*wire.ReadRequest, error) {
	attrs, events, err := o.paths()
	if err != nil {
		return nil, err
	}
	filters, err := o.filters()
	if err != nil {
		return nil, err
	}
	req := &wire.ReadRequest{
		AttributePaths:     attrs,
		EventPaths:         events,
		DataVersionFilters: filters,
		EventMin:           o.EventMin,
	}
	return req, req.Validate()
}

// subscribeRequest builds the SubscribeRequest the flags describe.
// Intervals are rounded up to whole seconds.
func (o *options) subscribeRequest() (*wire.SubscribeRequest, error) {
	attrs, events, err := o.paths()
	if err != nil {
		return nil, err
	}
	filters, err := o.filters()
	if err != nil {
		return nil, err
	}
	minSec, err := seconds(o.Min)
	if err != nil {
		return nil, fmt.Errorf("--min: %w", err)
	}
	maxSec, err := seconds(o.Max)
	if err != nil {
		return nil, fmt.Errorf("--max: %w", err)
	}
	req := &wire.SubscribeRequest{
		AttributePaths:     attrs,
		EventPaths:         events,
		DataVersionFilters: filters,
		EventMin:           o.EventMin,
		MinInterval:        minSec,
		MaxInterval:        maxSec,
	}
	return req, req.Validate()
}

func seconds(d time.Duration) (uint16, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: negative interval", wire.ErrInvalidInterval)
	}
	s := (d + time.Second - 1) / time.Second
	if s > 0xFFFF {
		return 0, fmt.Errorf("%w: %s exceeds %ds", wire.ErrInvalidInterval, d, 0xFFFF)
	}
	return uint16(s), nil
}

// parseDataVersionFilter parses "endpoint/cluster=version".
func parseDataVersionFilter(s string) (wire.DataVersionFilter, error) {
	cluster, version, ok := strings.Cut(s, "=")
	if !ok {
		return wire.DataVersionFilter{}, fmt.Errorf("%w: data version filter %q needs =version", path.ErrSyntax, s)
	}
	p, err := path.ParseAttributePath(cluster + "/*")
	if err != nil {
		return wire.DataVersionFilter{}, err
	}
	if p.Endpoint == path.WildcardEndpoint || p.Cluster == path.WildcardCluster {
		return wire.DataVersionFilter{}, fmt.Errorf("%w: data version filter %q must name a concrete cluster", path.ErrSyntax, s)
	}
	v, err := strconv.ParseUint(version, 0, 32)
	if err != nil {
		return wire.DataVersionFilter{}, fmt.Errorf("%w: data version %q: %v", path.ErrSyntax, version, err)
	}
	return wire.DataVersionFilter{
		Endpoint:    p.Endpoint,
		Cluster:     p.Cluster,
		DataVersion: path.DataVersion(v),
	}, nil
}
