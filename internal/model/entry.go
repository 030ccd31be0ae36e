package model

import (
	"sort"
	"time"
)

// Role is a party slot a participant can fill
type Role string

const (
	RoleTank   Role = "tank"
	RoleHealer Role = "healer"
	RoleDPS    Role = "dps"
)

// Roles lists every known role in display order
var Roles = []Role{RoleTank, RoleHealer, RoleDPS}

// IsKnown reports whether r is one of the configured party roles
func (r Role) IsKnown() bool {
	switch r {
	case RoleTank, RoleHealer, RoleDPS:
		return true
	}
	return false
}

// Composition is the fixed role makeup of a pre-formed group
type Composition map[Role]int

// PlayerCount returns the number of players the composition represents
func (c Composition) PlayerCount() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Clone returns an independent copy
func (c Composition) Clone() Composition {
	if c == nil {
		return nil
	}
	out := make(Composition, len(c))
	for r, n := range c {
		out[r] = n
	}
	return out
}

// LevelRange is a closed interval of acceptable difficulty levels
type LevelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Overlaps reports whether the two closed intervals share at least one level
func (r LevelRange) Overlaps(other LevelRange) bool {
	return max(r.Min, other.Min) <= min(r.Max, other.Max)
}

// Empty reports whether the interval contains no level
func (r LevelRange) Empty() bool {
	return r.Min > r.Max
}

// IdentityKind distinguishes individuals from group leaders
type IdentityKind string

const (
	KindIndividual  IdentityKind = "individual"
	KindGroupLeader IdentityKind = "group_leader"
)

// Identity is the tagged identity of a queue entry. Synthetic identities are
// created by administrative tooling and never wait on a human.
type Identity struct {
	ID        int64        `json:"id"`
	Kind      IdentityKind `json:"kind"`
	Synthetic bool         `json:"synthetic"`
}

// Declaration is what a participant submits when joining the queue
type Declaration struct {
	DisplayName   string      `json:"display_name"`
	Roles         []Role      `json:"roles,omitempty"`
	Composition   Composition `json:"composition,omitempty"`
	LevelMin      int         `json:"level_min"`
	LevelMax      int         `json:"level_max"`
	HasKeystone   bool        `json:"has_keystone"`
	KeystoneLevel *int        `json:"keystone_level,omitempty"`
	Synthetic     bool        `json:"synthetic,omitempty"`
	ChannelRef    string      `json:"channel_ref,omitempty"`
}

// QueueEntry is one declaration waiting in one tenant's queue
type QueueEntry struct {
	TenantID      int64       `json:"tenant_id"`
	Identity      Identity    `json:"identity"`
	DisplayName   string      `json:"display_name"`
	Roles         []Role      `json:"roles,omitempty"`
	Composition   Composition `json:"composition,omitempty"`
	Range         LevelRange  `json:"range"`
	HasKeystone   bool        `json:"has_keystone"`
	KeystoneLevel *int        `json:"keystone_level,omitempty"`
	ChannelRef    string      `json:"channel_ref,omitempty"`
	EnqueuedAt    time.Time   `json:"enqueued_at"`
	ActiveSession string      `json:"active_session,omitempty"`

	// Seq breaks EnqueuedAt ties; assigned by the store
	Seq uint64 `json:"-"`
}

// ID returns the participant id the entry is keyed by
func (e *QueueEntry) ID() int64 {
	return e.Identity.ID
}

// IsGroup reports whether the entry is a pre-formed group
func (e *QueueEntry) IsGroup() bool {
	return e.Composition != nil
}

// PlayerCount is 1 for a solo entry and the composition total for a group
func (e *QueueEntry) PlayerCount() int {
	if e.IsGroup() {
		return e.Composition.PlayerCount()
	}
	return 1
}

// Attached reports whether the entry is linked to a session
func (e *QueueEntry) Attached() bool {
	return e.ActiveSession != ""
}

// Clone returns a deep copy safe to hand out of the store
func (e *QueueEntry) Clone() QueueEntry {
	out := *e
	if e.Roles != nil {
		out.Roles = append([]Role(nil), e.Roles...)
	}
	out.Composition = e.Composition.Clone()
	if e.KeystoneLevel != nil {
		lvl := *e.KeystoneLevel
		out.KeystoneLevel = &lvl
	}
	return out
}

// SortByQueueOrder orders entries oldest first, falling back to insertion order
func SortByQueueOrder(entries []QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].Seq < entries[j].Seq
	})
}

// PlayerTotal sums PlayerCount over entries
func PlayerTotal(entries []QueueEntry) int {
	total := 0
	for i := range entries {
		total += entries[i].PlayerCount()
	}
	return total
}
