package eventlog

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/mash-protocol/mash-reporting/internal/clock"
	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// DefaultEpoch is how many event numbers are reserved per counter update.
const DefaultEpoch uint64 = 0x10000

// Event log errors.
var (
	ErrEntriesExpired  = errors.New("event entries expired")
	ErrInvalidPriority = errors.New("invalid event priority")
	ErrNoCapacity      = errors.New("event log has no capacity")
	ErrReserveNumbers  = errors.New("failed to reserve event numbers")
)

// Config configures an event log.
type Config struct {
	// Capacity is the slot budget per tier.
	Capacity map[Priority]int

	// Epoch is how many numbers are reserved per counter update.
	Epoch uint64

	// Counter persists reservations. Defaults to a MemoryCounter.
	Counter CounterStore

	// Clock stamps event timestamps. Defaults to the real clock.
	Clock clock.Clock
}

// DefaultConfig returns a configuration with a small buffer per tier.
func DefaultConfig() Config {
	return Config{
		Capacity: map[Priority]int{
			PriorityDebug:    16,
			PriorityInfo:     32,
			PriorityCritical: 16,
		},
		Epoch: DefaultEpoch,
	}
}

// Entry is one buffered event.
type Entry struct {
	Number    uint64
	Priority  Priority
	Timestamp time.Time
	Path      path.EventPath
	Fabric    path.FabricIndex
	Payload   []byte
}

// Stats reports event log counters.
type Stats struct {
	Emitted  uint64
	Evicted  map[Priority]uint64
	Buffered map[Priority]int
}

// Log is the priority-tiered event buffer.
//
// Log is not safe for concurrent use; it is owned by the reporting engine's
// loop.
type Log struct {
	clock   clock.Clock
	counter CounterStore
	epoch   uint64

	// budget[i] is the number of slots usable by tiers <= priorities[i].
	budget [len(priorities)]int
	counts [len(priorities)]int

	entries  []Entry
	next     uint64
	reserved uint64

	// base is the first number handed out since New. Every number in
	// [base, next) is either buffered or evicted.
	base uint64

	emitted uint64
	evicted [len(priorities)]uint64
}

// New creates an event log and reserves the first epoch of numbers.
func New(cfg Config) (*Log, error) {
	if cfg.Epoch == 0 {
		cfg.Epoch = DefaultEpoch
	}
	if cfg.Counter == nil {
		cfg.Counter = NewMemoryCounter(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	l := &Log{
		clock:   cfg.Clock,
		counter: cfg.Counter,
		epoch:   cfg.Epoch,
	}

	total := 0
	for i, p := range priorities {
		n := cfg.Capacity[p]
		if n < 0 {
			return nil, fmt.Errorf("negative capacity for %s", p)
		}
		total += n
		l.budget[i] = total
	}
	if total == 0 {
		return nil, ErrNoCapacity
	}
	l.entries = make([]Entry, 0, total)

	start, err := cfg.Counter.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReserveNumbers, err)
	}
	if start == 0 {
		start = 1
	}
	l.next = start
	l.base = start
	if err := l.reserve(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) reserve() error {
	limit := l.next + l.epoch
	if err := l.counter.Store(limit); err != nil {
		return fmt.Errorf("%w: %w", ErrReserveNumbers, err)
	}
	l.reserved = limit
	return nil
}

// Emit appends an event and returns its number. The payload is copied.
func (l *Log) Emit(p path.EventPath, priority Priority, fabric path.FabricIndex, payload []byte) (uint64, error) {
	if !priority.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	if l.budget[priority] == 0 {
		return 0, fmt.Errorf("%w for %s events", ErrNoCapacity, priority)
	}
	if l.next >= l.reserved {
		if err := l.reserve(); err != nil {
			return 0, err
		}
	}

	number := l.next
	l.next++

	l.entries = append(l.entries, Entry{
		Number:    number,
		Priority:  priority,
		Timestamp: l.clock.Now(),
		Path:      p,
		Fabric:    fabric,
		Payload:   append([]byte(nil), payload...),
	})
	for i := int(priority); i < len(l.counts); i++ {
		l.counts[i]++
	}
	l.emitted++

	l.enforceBudget()
	return number, nil
}

// enforceBudget evicts until every tier prefix fits its slots.
func (l *Log) enforceBudget() {
	for {
		violated := -1
		for i := range l.counts {
			if l.counts[i] > l.budget[i] {
				violated = i
				break
			}
		}
		if violated < 0 {
			return
		}
		l.evictLowest(Priority(violated))
	}
}

// evictLowest removes the oldest entry of the lowest priority present at or
// below limit.
func (l *Log) evictLowest(limit Priority) {
	for p := PriorityDebug; p <= limit; p++ {
		for i, e := range l.entries {
			if e.Priority != p {
				continue
			}
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			for j := int(p); j < len(l.counts); j++ {
				l.counts[j]--
			}
			l.evicted[p]++
			return
		}
	}
}

// ReadFrom returns the buffered entries numbered n and above, in order. It
// fails with ErrEntriesExpired when an event numbered from n up to the first
// buffered entry was evicted. Gaps further on are left to Evicted. The
// sequence is a snapshot and may be iterated more than once.
func (l *Log) ReadFrom(n uint64) (iter.Seq[Entry], error) {
	start, first := l.resume(n)
	if l.Evicted(n, first) {
		return nil, fmt.Errorf("%w: requested %d, first available %d", ErrEntriesExpired, n, first)
	}
	snapshot := slices.Clone(l.entries[start:])

	return func(yield func(Entry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}, nil
}

// FirstContiguous returns the smallest m >= n for which ReadFrom succeeds.
func (l *Log) FirstContiguous(n uint64) uint64 {
	if _, first := l.resume(n); l.Evicted(n, first) {
		return first
	}
	return n
}

// Evicted reports whether a number in [from, to) was handed out by this log
// and is no longer buffered. Numbers from before a restart never count.
func (l *Log) Evicted(from, to uint64) bool {
	lo, hi := max(from, l.base), min(to, l.next)
	if lo >= hi {
		return false
	}
	return uint64(l.search(hi)-l.search(lo)) < hi-lo
}

// resume returns the index of the first entry numbered n or above and that
// entry's number, or NextNumber when there is none.
func (l *Log) resume(n uint64) (int, uint64) {
	i := l.search(n)
	if i < len(l.entries) {
		return i, l.entries[i].Number
	}
	return i, l.next
}

func (l *Log) search(n uint64) int {
	return sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Number >= n
	})
}

// NextNumber returns the number the next event will get.
func (l *Log) NextNumber() uint64 {
	return l.next
}

// Len returns the number of buffered entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Capacity returns the total number of slots.
func (l *Log) Capacity() int {
	return l.budget[len(l.budget)-1]
}

// Stats returns a copy of the log counters.
func (l *Log) Stats() Stats {
	s := Stats{
		Emitted:  l.emitted,
		Evicted:  make(map[Priority]uint64, len(priorities)),
		Buffered: make(map[Priority]int, len(priorities)),
	}
	for i, p := range priorities {
		s.Evicted[p] = l.evicted[i]
		below := 0
		if i > 0 {
			below = l.counts[i-1]
		}
		s.Buffered[p] = l.counts[i] - below
	}
	return s
}

// Clone returns a copy of the stats safe to hand to another goroutine.
func (s Stats) Clone() Stats {
	return Stats{
		Emitted:  s.Emitted,
		Evicted:  maps.Clone(s.Evicted),
		Buffered: maps.Clone(s.Buffered),
	}
}
