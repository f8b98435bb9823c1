package calibration

import (
	"math"
	"sync"
)

// Store is a thread-safe calibration table. Every update is applied to one
// anchor under the write lock, so readers never see a half-updated record.
type Store struct {
	mu       sync.RWMutex
	table    Table
	onChange []func(Table)
}

// NewStore creates a store holding the built-in defaults.
func NewStore() *Store {
	return &Store{table: Defaults()}
}

// OnChange registers fn to be called with a snapshot after every Update or
// Reset. Callbacks run on the caller's goroutine, outside the lock.
func (s *Store) OnChange(fn func(Table)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Get returns the calibration for id. Unknown IDs fall back to the built-in
// default for that ID, which is the zero Anchor outside A1..A3.
func (s *Store) Get(id string) Anchor {
	s.mu.RLock()
	a, ok := s.table.Anchor(id)
	s.mu.RUnlock()
	if ok {
		return a
	}
	a, _ = Defaults().Anchor(id)
	return a
}

// All returns a snapshot of the whole table.
func (s *Store) All() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Update sets the reference RSSI and/or path loss exponent of one anchor.
// Nil arguments leave the field untouched. An unknown ID or a non-positive
// exponent is a no-op and returns false.
func (s *Store) Update(id string, rssiAt1m, pathLossExp *float64) bool {
	if rssiAt1m != nil && (math.IsNaN(*rssiAt1m) || math.IsInf(*rssiAt1m, 0)) {
		return false
	}

	s.mu.Lock()
	next := s.table
	a := next.field(id)
	if a == nil {
		s.mu.Unlock()
		return false
	}
	if rssiAt1m != nil {
		a.RSSIAt1m = *rssiAt1m
	}
	if pathLossExp != nil {
		a.PathLossExp = *pathLossExp
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return false
	}
	s.table = next
	snapshot, hooks := s.table, s.onChange
	s.mu.Unlock()

	notify(hooks, snapshot)
	return true
}

// Reset replaces the whole table with the built-in defaults.
func (s *Store) Reset() {
	s.mu.Lock()
	s.table = Defaults()
	snapshot, hooks := s.table, s.onChange
	s.mu.Unlock()

	notify(hooks, snapshot)
}

func notify(hooks []func(Table), t Table) {
	for _, fn := range hooks {
		fn(t)
	}
}
