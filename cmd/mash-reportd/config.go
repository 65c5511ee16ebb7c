package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
	"github.com/mash-protocol/mash-reporting/pkg/transport"
)

// Config holds the daemon configuration.
type Config struct {
	DeviceID string `yaml:"deviceId"`

	// Listen is the protocol listen address.
	Listen string `yaml:"listen"`

	// DebugListen is the debug HTTP address. Empty disables it.
	DebugListen string `yaml:"debugListen"`

	// StateFile is the bbolt database for event numbers and attributes.
	StateFile string `yaml:"stateFile"`

	LogLevel string `yaml:"logLevel"`

	// TraceFile receives the CBOR protocol trace. Empty disables it.
	TraceFile string `yaml:"traceFile"`

	// TraceMaxBytes rotates the trace file at this size. Zero never rotates.
	TraceMaxBytes int64 `yaml:"traceMaxBytes"`

	Interactive        bool          `yaml:"interactive"`
	Simulate           bool          `yaml:"simulate"`
	SimulationInterval time.Duration `yaml:"simulationInterval"`

	// Fabric and Privilege form the subject granted to every connection.
	Fabric    uint8  `yaml:"fabric"`
	Privilege string `yaml:"privilege"`

	Transport TransportConfig  `yaml:"transport"`
	Reporting reporting.Config `yaml:"reporting"`
	Events    EventConfig      `yaml:"events"`
}

// TransportConfig tunes the protocol server.
type TransportConfig struct {
	MaxMessageSize uint32        `yaml:"maxMessageSize"`
	AckTimeout     time.Duration `yaml:"ackTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
}

// EventConfig sizes the event log tiers.
type EventConfig struct {
	Debug    int    `yaml:"debug"`
	Info     int    `yaml:"info"`
	Critical int    `yaml:"critical"`
	Epoch    uint64 `yaml:"epoch"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	capacity := eventlog.DefaultConfig().Capacity
	return Config{
		DeviceID:           "mash-plug-1",
		Listen:             fmt.Sprintf(":%d", transport.DefaultPort),
		DebugListen:        "127.0.0.1:8080",
		StateFile:          "mash-reportd.db",
		LogLevel:           "info",
		TraceMaxBytes:      64 << 20,
		Simulate:           true,
		SimulationInterval: 5 * time.Second,
		Fabric:             uint8(transport.DefaultSubject.Fabric),
		Privilege:          transport.DefaultSubject.Privilege.String(),
		Transport: TransportConfig{
			MaxMessageSize: transport.DefaultMaxMessageSize,
			AckTimeout:     30 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Reporting: reporting.DefaultConfig(),
		Events: EventConfig{
			Debug:    capacity[eventlog.PriorityDebug],
			Info:     capacity[eventlog.PriorityInfo],
			Critical: capacity[eventlog.PriorityCritical],
			Epoch:    eventlog.DefaultEpoch,
		},
	}
}

// loadConfig builds the configuration from defaults, the optional yaml
// file named by --config, and finally any flags set on the command line.
func loadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()

	fs := pflag.NewFlagSet("mash-reportd", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "yaml configuration file")
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier")
	fs.StringVarP(&cfg.Listen, "listen", "l", cfg.Listen, "protocol listen address")
	fs.StringVar(&cfg.DebugListen, "debug-listen", cfg.DebugListen, "debug HTTP address (empty disables)")
	fs.StringVar(&cfg.StateFile, "state", cfg.StateFile, "state database file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.TraceFile, "trace", cfg.TraceFile, "protocol trace file (empty disables)")
	fs.Int64Var(&cfg.TraceMaxBytes, "trace-max-bytes", cfg.TraceMaxBytes, "rotate the trace file at this size (0 disables)")
	fs.BoolVarP(&cfg.Interactive, "interactive", "i", cfg.Interactive, "start the interactive console")
	fs.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "run the measurement simulation")
	fs.DurationVar(&cfg.SimulationInterval, "sim-interval", cfg.SimulationInterval, "simulation tick")
	fs.Uint8Var(&cfg.Fabric, "fabric", cfg.Fabric, "fabric index granted to requesters")
	fs.StringVar(&cfg.Privilege, "privilege", cfg.Privilege, "privilege granted to requesters: VIEW, OPERATE, MANAGE, ADMINISTER")
	fs.Uint32Var(&cfg.Transport.MaxMessageSize, "max-message-size", cfg.Transport.MaxMessageSize, "maximum protocol message size")
	fs.DurationVar(&cfg.Transport.AckTimeout, "ack-timeout", cfg.Transport.AckTimeout, "report acknowledgement timeout")
	fs.IntVar(&cfg.Reporting.MaxTransactions, "max-transactions", cfg.Reporting.MaxTransactions, "maximum concurrent reads and subscriptions")
	fs.IntVar(&cfg.Reporting.MaxReportsInFlight, "max-in-flight", cfg.Reporting.MaxReportsInFlight, "maximum unconfirmed reports")
	fs.Var(&cfg.Reporting.HeartbeatMode, "heartbeat", "content of unchanged max interval reports: empty, full")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if *configFile != "" {
		// The file replaces defaults; explicit flags still win.
		set := make(map[string]string)
		fs.Visit(func(f *pflag.Flag) { set[f.Name] = f.Value.String() })

		if err := readConfigFile(*configFile, &cfg); err != nil {
			return nil, err
		}
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("flag --%s: %w", name, err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(name string, cfg *Config) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", name, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.StateFile == "" {
		return errors.New("state file is required")
	}
	if c.Fabric == uint8(path.NoFabric) {
		return errors.New("fabric must be non-zero")
	}
	if _, err := model.ParsePrivilege(strings.ToUpper(c.Privilege)); err != nil {
		return err
	}
	if c.TraceMaxBytes < 0 {
		return errors.New("trace size limit must not be negative")
	}
	if c.Simulate && c.SimulationInterval <= 0 {
		return errors.New("simulation interval must be positive")
	}
	if c.Events.Debug < 0 || c.Events.Info < 0 || c.Events.Critical < 0 {
		return errors.New("event tier capacities must not be negative")
	}
	if c.Events.Debug+c.Events.Info+c.Events.Critical == 0 {
		return errors.New("event log needs capacity in at least one tier")
	}
	return nil
}

// subject returns the subject granted to every connection.
func (c *Config) subject() model.Subject {
	privilege, _ := model.ParsePrivilege(strings.ToUpper(c.Privilege))
	return model.Subject{Fabric: path.FabricIndex(c.Fabric), Privilege: privilege}
}

// eventLogConfig returns the event log tier sizes.
func (c *Config) eventLogConfig(counter eventlog.CounterStore) eventlog.Config {
	return eventlog.Config{
		Capacity: map[eventlog.Priority]int{
			eventlog.PriorityDebug:    c.Events.Debug,
			eventlog.PriorityInfo:     c.Events.Info,
			eventlog.PriorityCritical: c.Events.Critical,
		},
		Epoch:   c.Events.Epoch,
		Counter: counter,
	}
}
