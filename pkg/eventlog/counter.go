package eventlog

import "sync"

// CounterStore persists the event number reservation.
type CounterStore interface {
	// Load returns the stored value, or 0 if nothing was stored yet.
	Load() (uint64, error)

	// Store replaces the stored value.
	Store(v uint64) error
}

// MemoryCounter is a CounterStore that does not survive restarts.
type MemoryCounter struct {
	mu    sync.Mutex
	value uint64
}

// NewMemoryCounter creates a counter holding initial.
func NewMemoryCounter(initial uint64) *MemoryCounter {
	return &MemoryCounter{value: initial}
}

// Load implements CounterStore.
func (m *MemoryCounter) Load() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

// Store implements CounterStore.
func (m *MemoryCounter) Store(v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
	return nil
}

var _ CounterStore = (*MemoryCounter)(nil)
