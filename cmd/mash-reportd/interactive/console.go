// Package interactive provides the interactive command-line interface
// for mash-reportd.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
)

// Device is the simulated device the console drives.
type Device interface {
	// Set parses raw for the attribute's type and stores it.
	Set(p path.AttributePath, raw string) error

	// Emit generates a named event and returns its number.
	Emit(ctx context.Context, name string) (uint64, error)

	// EventNames lists the names Emit accepts.
	EventNames() []string
}

// Engine is the reporting host as seen by the console.
type Engine interface {
	Transactions(ctx context.Context) ([]reporting.TransactionInfo, error)
	Stats(ctx context.Context) (reporting.Stats, error)
	CancelTransaction(ctx context.Context, id uint32) error
}

// Simulation controls the background measurement simulation.
type Simulation interface {
	Start()
	Stop()
	Running() bool
}

// Console handles interactive mode for mash-reportd.
type Console struct {
	device Device
	engine Engine
	sim    Simulation
	rl     *readline.Instance
	out    io.Writer
}

// New creates a console reading from the terminal. sim may be nil.
func New(device Device, engine Engine, sim Simulation) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "reportd> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{device: device, engine: engine, sim: sim, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the readline prompt. Use it
// for log output so lines do not tear the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that coordinates with the readline prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the command loop. It calls cancel when the user exits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the user asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "set", "s":
		c.cmdSet(args)
	case "event", "e":
		c.cmdEvent(ctx, args)
	case "transactions", "txn", "t":
		c.cmdTransactions(ctx)
	case "cancel":
		c.cmdCancel(ctx, args)
	case "stats":
		c.cmdStats(ctx)
	case "start", "sim-start":
		c.cmdSimulation(true)
	case "stop", "sim-stop":
		c.cmdSimulation(false)
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintf(c.out, `
Reporting Engine Commands:
  Data model:
    set <path> <value>   - Set an attribute, e.g. set 1/0x0006/0 on
    event <name>         - Emit an event (%s)

  Engine:
    transactions         - List reads and subscriptions
    cancel <id>          - Cancel a transaction
    stats                - Show engine counters

  Simulation:
    start                - Start simulation
    stop                 - Stop simulation

  General:
    help                 - Show this help
    quit                 - Exit

  Path format: endpoint/cluster/attribute, decimal or 0x hex
`, strings.Join(c.device.EventNames(), ", "))
}

func (c *Console) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: set <path> <value>")
		fmt.Fprintln(c.out, "  Example: set 1/0x0B04/0x050B 1200")
		return
	}
	p, err := path.ParseAttributePath(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid path: %v\n", err)
		return
	}
	if err := c.device.Set(p, strings.Join(args[1:], " ")); err != nil {
		fmt.Fprintf(c.out, "Set failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdEvent(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintf(c.out, "Usage: event <%s>\n", strings.Join(c.device.EventNames(), "|"))
		return
	}
	n, err := c.device.Emit(ctx, args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Emit failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Event #%d logged\n", n)
}

func (c *Console) cmdTransactions(ctx context.Context) {
	infos, err := c.engine.Transactions(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No transactions")
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATE\tSUBJECT\tINTERVALS\tPATHS\tSENDS")
	for _, info := range infos {
		intervals := "-"
		if info.MaxInterval != "" {
			intervals = info.MinInterval + ".." + info.MaxInterval
		}
		paths := append(append([]string(nil), info.AttributePaths...), info.EventPaths...)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			info.ID, info.Kind, info.State, info.Subject, intervals, strings.Join(paths, " "), info.Sends)
	}
	tw.Flush()
}

func (c *Console) cmdCancel(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: cancel <id>")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid transaction id: %v\n", err)
		return
	}
	if err := c.engine.CancelTransaction(ctx, uint32(id)); err != nil {
		fmt.Fprintf(c.out, "Cancel failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Transaction %d cancelled\n", id)
}

func (c *Console) cmdStats(ctx context.Context) {
	s, err := c.engine.Stats(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "\nEngine Status")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  Transactions:     %d\n", s.Transactions)
	fmt.Fprintf(c.out, "  In flight:        %d\n", s.InFlight)
	fmt.Fprintf(c.out, "  Dirty paths:      %d (generation %d, overflows %d)\n", s.DirtyPaths, s.DirtyGeneration, s.DirtyOverflows)
	fmt.Fprintf(c.out, "  Events emitted:   %d (next #%d)\n", s.EventsEmitted, s.NextEvent)
	for _, tier := range sortedKeys(s.EventsBuffered) {
		fmt.Fprintf(c.out, "    %-10s buffered %d, evicted %d\n", tier, s.EventsBuffered[tier], s.EventsEvicted[tier])
	}
	if c.sim != nil {
		state := "stopped"
		if c.sim.Running() {
			state = "running"
		}
		fmt.Fprintf(c.out, "  Simulation:       %s\n", state)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) cmdSimulation(start bool) {
	if c.sim == nil {
		fmt.Fprintln(c.out, "Simulation is disabled")
		return
	}
	if start {
		c.sim.Start()
	} else {
		c.sim.Stop()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
