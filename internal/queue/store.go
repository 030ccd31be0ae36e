// Package queue holds the per-tenant queue of waiting declarations.
//
// Each tenant has its own mutex. Matching reads many entries at once, so a
// caller that needs add, match and attach to happen atomically runs them inside
// a single Update call instead of issuing individual operations.
package queue

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/validation"
	"go.uber.org/zap"
)

// Store is the system of record for who is waiting, partitioned by tenant
type Store struct {
	validator *validation.Validator
	now       func() time.Time
	logger    *zap.Logger
	seq       atomic.Uint64

	mu      sync.RWMutex
	tenants map[int64]*tenantQueue
}

type tenantQueue struct {
	mu      sync.Mutex
	entries map[int64]*model.QueueEntry
}

// Option customizes a Store
type Option func(*Store)

// WithClock overrides the wall clock used for EnqueuedAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger attaches a logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store validating declarations with v
func NewStore(v *validation.Validator, opts ...Option) *Store {
	s := &Store{
		validator: v,
		now:       time.Now,
		logger:    zap.NewNop(),
		tenants:   make(map[int64]*tenantQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validator returns the validator used by Add
func (s *Store) Validator() *validation.Validator {
	return s.validator
}

// Now returns the store's notion of the current time
func (s *Store) Now() time.Time {
	return s.now()
}

// tenant returns the queue for tenantID, creating it on first use
func (s *Store) tenant(tenantID int64) *tenantQueue {
	s.mu.RLock()
	q, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.tenants[tenantID]; ok {
		return q
	}
	q = &tenantQueue{entries: make(map[int64]*model.QueueEntry)}
	s.tenants[tenantID] = q
	return q
}

// Update runs fn while holding the tenant's lock. Everything fn does through
// tx is observed atomically by other callers.
func (s *Store) Update(tenantID int64, fn func(tx *Tx) error) error {
	if tenantID <= 0 {
		return errors.InvalidTenantID(tenantID, "tenant ID must be positive")
	}
	q := s.tenant(tenantID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return fn(&Tx{store: s, tenantID: tenantID, q: q})
}

// Add validates decl and upserts the entry for participantID. A previous
// declaration for the same participant is overwritten.
func (s *Store) Add(tenantID, participantID int64, decl model.Declaration) (model.QueueEntry, error) {
	var entry model.QueueEntry
	err := s.Update(tenantID, func(tx *Tx) error {
		var err error
		entry, _, err = tx.Add(participantID, decl)
		return err
	})
	return entry, err
}

// Remove deletes an entry and reports whether one existed
func (s *Store) Remove(tenantID, participantID int64) bool {
	var removed bool
	_ = s.Update(tenantID, func(tx *Tx) error {
		_, removed = tx.Remove(participantID)
		return nil
	})
	return removed
}

// Get returns a copy of an entry
func (s *Store) Get(tenantID, participantID int64) (model.QueueEntry, bool) {
	var (
		entry model.QueueEntry
		ok    bool
	)
	_ = s.Update(tenantID, func(tx *Tx) error {
		entry, ok = tx.Get(participantID)
		return nil
	})
	return entry, ok
}

// Contains reports whether a participant is queued
func (s *Store) Contains(tenantID, participantID int64) bool {
	_, ok := s.Get(tenantID, participantID)
	return ok
}

// Count returns the number of entries for a tenant
func (s *Store) Count(tenantID int64) int {
	var n int
	_ = s.Update(tenantID, func(tx *Tx) error {
		n = tx.Count()
		return nil
	})
	return n
}

// IsEmpty reports whether a tenant has no entries
func (s *Store) IsEmpty(tenantID int64) bool {
	return s.Count(tenantID) == 0
}

// Items returns a consistent snapshot of a tenant's entries in queue order
func (s *Store) Items(tenantID int64) []model.QueueEntry {
	var items []model.QueueEntry
	_ = s.Update(tenantID, func(tx *Tx) error {
		items = tx.Items()
		return nil
	})
	return items
}

// SetActiveSession links an entry to a session
func (s *Store) SetActiveSession(tenantID, participantID int64, sessionID string) bool {
	var ok bool
	_ = s.Update(tenantID, func(tx *Tx) error {
		ok = tx.SetActiveSession(participantID, sessionID)
		return nil
	})
	return ok
}

// ClearActiveSession unlinks an entry from its session
func (s *Store) ClearActiveSession(tenantID, participantID int64) bool {
	var ok bool
	_ = s.Update(tenantID, func(tx *Tx) error {
		ok = tx.ClearActiveSession(participantID)
		return nil
	})
	return ok
}

// GetActiveSession returns the session an entry is linked to
func (s *Store) GetActiveSession(tenantID, participantID int64) (string, bool) {
	var (
		sid string
		ok  bool
	)
	_ = s.Update(tenantID, func(tx *Tx) error {
		sid, ok = tx.GetActiveSession(participantID)
		return nil
	})
	return sid, ok
}

// Touch resets an entry's EnqueuedAt to now
func (s *Store) Touch(tenantID, participantID int64) bool {
	var ok bool
	_ = s.Update(tenantID, func(tx *Tx) error {
		ok = tx.Touch(participantID)
		return nil
	})
	return ok
}

// Clear removes every entry of a tenant and returns what was removed
func (s *Store) Clear(tenantID int64) []model.QueueEntry {
	var removed []model.QueueEntry
	_ = s.Update(tenantID, func(tx *Tx) error {
		removed = tx.Clear()
		return nil
	})
	return removed
}

// ClearAll empties every tenant queue
func (s *Store) ClearAll() int {
	total := 0
	for _, id := range s.allTenantIDs() {
		total += len(s.Clear(id))
	}
	return total
}

// TenantIDs returns tenants that currently have at least one entry, ascending
func (s *Store) TenantIDs() []int64 {
	var ids []int64
	for _, id := range s.allTenantIDs() {
		if s.Count(id) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// TotalCount returns the number of entries across all tenants
func (s *Store) TotalCount() int {
	total := 0
	for _, id := range s.allTenantIDs() {
		total += s.Count(id)
	}
	return total
}

func (s *Store) allTenantIDs() []int64 {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
