package queue

import (
	"github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
	"go.uber.org/zap"
)

// Tx is one tenant's queue while its lock is held. It must not escape the
// Update callback it was handed to.
type Tx struct {
	store    *Store
	tenantID int64
	q        *tenantQueue
}

// TenantID returns the tenant the transaction is scoped to
func (tx *Tx) TenantID() int64 {
	return tx.tenantID
}

// Add validates decl and upserts the entry. It returns the stored entry and,
// when one existed, the entry it replaced. A replaced entry keeps its queue
// position; only Touch moves an entry to the back.
func (tx *Tx) Add(participantID int64, decl model.Declaration) (model.QueueEntry, *model.QueueEntry, error) {
	if participantID <= 0 {
		return model.QueueEntry{}, nil, errors.InvalidArgument("participant ID must be positive", nil).
			WithDetail("participant_id", participantID)
	}

	normalized, err := tx.store.validator.ValidateDeclaration(decl)
	if err != nil {
		return model.QueueEntry{}, nil, err
	}

	kind := model.KindIndividual
	if normalized.Composition != nil {
		kind = model.KindGroupLeader
	}

	entry := &model.QueueEntry{
		TenantID: tx.tenantID,
		Identity: model.Identity{
			ID:        participantID,
			Kind:      kind,
			Synthetic: normalized.Synthetic,
		},
		DisplayName:   normalized.DisplayName,
		Roles:         normalized.Roles,
		Composition:   normalized.Composition,
		Range:         model.LevelRange{Min: normalized.LevelMin, Max: normalized.LevelMax},
		HasKeystone:   normalized.HasKeystone,
		KeystoneLevel: normalized.KeystoneLevel,
		ChannelRef:    normalized.ChannelRef,
	}

	var previous *model.QueueEntry
	if old, ok := tx.q.entries[participantID]; ok {
		prev := old.Clone()
		previous = &prev
		entry.EnqueuedAt = old.EnqueuedAt
		entry.Seq = old.Seq
	} else {
		entry.EnqueuedAt = tx.store.now()
		entry.Seq = tx.store.seq.Add(1)
	}

	tx.q.entries[participantID] = entry

	tx.store.logger.Debug("Queue entry upserted",
		zap.Int64("tenant_id", tx.tenantID),
		zap.Int64("participant_id", participantID),
		zap.Bool("replaced", previous != nil),
		zap.Bool("group", entry.IsGroup()))

	return entry.Clone(), previous, nil
}

// Remove deletes an entry and returns it
func (tx *Tx) Remove(participantID int64) (model.QueueEntry, bool) {
	entry, ok := tx.q.entries[participantID]
	if !ok {
		return model.QueueEntry{}, false
	}
	delete(tx.q.entries, participantID)
	return entry.Clone(), true
}

// Get returns a copy of an entry
func (tx *Tx) Get(participantID int64) (model.QueueEntry, bool) {
	entry, ok := tx.q.entries[participantID]
	if !ok {
		return model.QueueEntry{}, false
	}
	return entry.Clone(), true
}

// Contains reports whether a participant is queued
func (tx *Tx) Contains(participantID int64) bool {
	_, ok := tx.q.entries[participantID]
	return ok
}

// Count returns the number of entries
func (tx *Tx) Count() int {
	return len(tx.q.entries)
}

// Items returns copies of all entries ordered by EnqueuedAt then insertion
func (tx *Tx) Items() []model.QueueEntry {
	items := make([]model.QueueEntry, 0, len(tx.q.entries))
	for _, entry := range tx.q.entries {
		items = append(items, entry.Clone())
	}
	model.SortByQueueOrder(items)
	return items
}

// SetActiveSession links an entry to a session
func (tx *Tx) SetActiveSession(participantID int64, sessionID string) bool {
	entry, ok := tx.q.entries[participantID]
	if !ok {
		return false
	}
	entry.ActiveSession = sessionID
	return true
}

// ClearActiveSession unlinks an entry from whatever session it references
func (tx *Tx) ClearActiveSession(participantID int64) bool {
	entry, ok := tx.q.entries[participantID]
	if !ok {
		return false
	}
	entry.ActiveSession = ""
	return true
}

// DetachFrom unlinks an entry only if it still references sessionID
func (tx *Tx) DetachFrom(participantID int64, sessionID string) bool {
	entry, ok := tx.q.entries[participantID]
	if !ok || entry.ActiveSession != sessionID {
		return false
	}
	entry.ActiveSession = ""
	return true
}

// GetActiveSession returns the session an entry is linked to
func (tx *Tx) GetActiveSession(participantID int64) (string, bool) {
	entry, ok := tx.q.entries[participantID]
	if !ok || entry.ActiveSession == "" {
		return "", false
	}
	return entry.ActiveSession, true
}

// Touch resets EnqueuedAt to now
func (tx *Tx) Touch(participantID int64) bool {
	entry, ok := tx.q.entries[participantID]
	if !ok {
		return false
	}
	entry.EnqueuedAt = tx.store.now()
	entry.Seq = tx.store.seq.Add(1)
	return true
}

// Clear removes every entry and returns them in queue order
func (tx *Tx) Clear() []model.QueueEntry {
	removed := tx.Items()
	tx.q.entries = make(map[int64]*model.QueueEntry)
	return removed
}
