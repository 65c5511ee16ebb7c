package reporting

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mash-protocol/mash-reporting/internal/clock"
	"github.com/mash-protocol/mash-reporting/pkg/dirty"
	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/metrics"
)

// HeartbeatMode selects what a subscription report sent at the max interval
// carries when nothing changed.
type HeartbeatMode uint8

const (
	// HeartbeatEmpty sends a report without items.
	HeartbeatEmpty HeartbeatMode = iota

	// HeartbeatFull re-reports every attribute of the subscription.
	HeartbeatFull
)

// String returns the mode name.
func (m HeartbeatMode) String() string {
	switch m {
	case HeartbeatEmpty:
		return "empty"
	case HeartbeatFull:
		return "full"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m HeartbeatMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *HeartbeatMode) UnmarshalText(text []byte) error {
	return m.Set(string(text))
}

// Set parses a mode name. Together with String and Type it lets a
// HeartbeatMode back a command line flag.
func (m *HeartbeatMode) Set(s string) error {
	switch strings.ToLower(s) {
	case "empty":
		*m = HeartbeatEmpty
	case "full":
		*m = HeartbeatFull
	default:
		return fmt.Errorf("unknown heartbeat mode %q", s)
	}
	return nil
}

// Type returns the flag type name.
func (m *HeartbeatMode) Type() string {
	return "heartbeat"
}

// Config configures a reporting engine.
type Config struct {
	// MaxTransactions bounds concurrently registered reads and subscriptions.
	MaxTransactions int `yaml:"maxTransactions"`

	// MaxReportsInFlight bounds reports awaiting confirmation across all
	// transactions.
	MaxReportsInFlight int `yaml:"maxReportsInFlight"`

	// MaxPathsPerTransaction bounds attribute plus event paths of a request.
	MaxPathsPerTransaction int `yaml:"maxPathsPerTransaction"`

	// MaxPayloadSize caps a report below what the exchange allows.
	MaxPayloadSize int `yaml:"maxPayloadSize"`

	// DirtySetCapacity bounds distinct dirty paths before the set collapses.
	DirtySetCapacity int `yaml:"dirtySetCapacity"`

	// AckTimeout is the grace added to the max interval before a
	// subscription whose reports go unconfirmed is dropped.
	AckTimeout time.Duration `yaml:"ackTimeout"`

	// MinIntervalFloor raises requested min intervals below it.
	MinIntervalFloor time.Duration `yaml:"minIntervalFloor"`

	// HeartbeatMode selects the content of unchanged max interval reports.
	HeartbeatMode HeartbeatMode `yaml:"heartbeatMode"`

	// Clock drives intervals and timestamps. Defaults to the real clock.
	Clock clock.Clock `yaml:"-"`

	// Logger receives operational logs. Nil disables them.
	Logger *slog.Logger `yaml:"-"`

	// ProtocolLogger receives report and state change trace events.
	ProtocolLogger log.Logger `yaml:"-"`

	// Metrics collects engine metrics. Nil disables them.
	Metrics *metrics.Metrics `yaml:"-"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxTransactions:        16,
		MaxReportsInFlight:     4,
		MaxPathsPerTransaction: 32,
		MaxPayloadSize:         1024,
		DirtySetCapacity:       dirty.DefaultCapacity,
		AckTimeout:             30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTransactions <= 0 {
		c.MaxTransactions = d.MaxTransactions
	}
	if c.MaxReportsInFlight <= 0 {
		c.MaxReportsInFlight = d.MaxReportsInFlight
	}
	if c.MaxPathsPerTransaction <= 0 {
		c.MaxPathsPerTransaction = d.MaxPathsPerTransaction
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = d.MaxPayloadSize
	}
	if c.DirtySetCapacity <= 0 {
		c.DirtySetCapacity = d.DirtySetCapacity
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = log.NoopLogger{}
	}
	return c
}
