// Package dirty tracks attribute paths changed since they were last reported.
//
// The Set is owned by a single reporting engine and is not safe for
// concurrent use; producers on other goroutines hand changes to the engine
// through its work queue.
//
// # Coalescing
//
// The set never holds two paths where one subsumes the other. Marking a
// path that an existing entry already covers refreshes that entry's
// generation; marking a path that covers existing entries replaces them.
//
// # Generations
//
// Every MarkDirty advances a monotonically increasing generation and stamps
// the affected entry with it. A transaction remembers the generation it has
// reported up to, so it only needs entries newer than that. Entries are
// removed by Collect once every interested transaction has reported them.
package dirty

import (
	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// Generation orders dirty marks. Zero means "nothing reported yet".
type Generation uint64

// DefaultCapacity is the default maximum number of distinct dirty paths.
const DefaultCapacity = 64

// Entry is one dirty path and the generation of its latest mark.
type Entry struct {
	Path       path.AttributePath
	Generation Generation
}

// Set is the global dirty path set.
type Set struct {
	entries    []Entry
	generation Generation
	capacity   int
	overflows  uint64
}

// NewSet creates a set holding at most capacity distinct paths.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Generation returns the generation of the most recent mark.
func (s *Set) Generation() Generation {
	return s.generation
}

// Len returns the number of distinct dirty paths.
func (s *Set) Len() int {
	return len(s.entries)
}

// Overflows returns how many times the set collapsed to a wildcard.
func (s *Set) Overflows() uint64 {
	return s.overflows
}

// Entries returns a copy of the current entries.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// MarkDirty records p as changed and returns the generation assigned to it.
func (s *Set) MarkDirty(p path.AttributePath) Generation {
	s.generation++
	gen := s.generation

	for i := range s.entries {
		if s.entries[i].Path.Subsumes(p) {
			s.entries[i].Generation = gen
			return gen
		}
	}

	// Drop entries the new path covers.
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !p.Subsumes(e.Path) {
			kept = append(kept, e)
		}
	}
	s.entries = kept

	if len(s.entries) >= s.capacity {
		s.overflows++
		s.entries = s.entries[:0]
		p = path.AllAttributes()
	}

	s.entries = append(s.entries, Entry{Path: p, Generation: gen})
	return gen
}

// Intersects reports whether any entry newer than since intersects interest.
func (s *Set) Intersects(interest []path.AttributePath, since Generation) bool {
	for _, e := range s.entries {
		if e.Generation <= since {
			continue
		}
		if path.AnyAttributeIntersects(interest, e.Path) {
			return true
		}
	}
	return false
}

// Drain returns the intersections of interest with every entry newer than
// since. The set itself is not modified.
func (s *Set) Drain(interest []path.AttributePath, since Generation) []path.AttributePath {
	var out []path.AttributePath
	for _, e := range s.entries {
		if e.Generation <= since {
			continue
		}
		for _, want := range interest {
			p, ok := want.Intersect(e.Path)
			if !ok {
				continue
			}
			out = appendUnique(out, p)
		}
	}
	return out
}

// Collect removes every entry for which reported returns true. The engine
// passes a predicate that checks all interested transactions.
func (s *Set) Collect(reported func(Entry) bool) int {
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if reported(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed
}

// appendUnique appends p unless an element already subsumes it; elements p
// subsumes are replaced.
func appendUnique(list []path.AttributePath, p path.AttributePath) []path.AttributePath {
	for _, existing := range list {
		if existing.Subsumes(p) {
			return list
		}
	}
	kept := list[:0]
	for _, existing := range list {
		if !p.Subsumes(existing) {
			kept = append(kept, existing)
		}
	}
	return append(kept, p)
}
