// Package eventlog stores emitted events in a fixed-capacity buffer
// partitioned by priority.
//
// # Priorities
//
// Each tier (Debug, Info, Critical) has a slot budget. An event may use a
// slot of its own tier or of any lower tier, so lower-priority events can
// never crowd out critical ones. When an emission exceeds the budget the
// log evicts the oldest event of the lowest priority that is over budget.
//
// # Event Numbers
//
// Every event gets a strictly increasing 64-bit number. Numbers are reserved
// in epochs from a CounterStore, so after a restart the log resumes above
// any number it may have handed out before.
//
// # Reading
//
// ReadFrom(n) yields the buffered events numbered n and above in order. It
// fails with ErrEntriesExpired if an event between n and the first buffered
// one was evicted, and FirstContiguous tells the reader where it can resume.
// Older critical events stay readable after newer info events are evicted.
// Readers that need to know about later holes ask Evicted for the range
// between two entries.
package eventlog
