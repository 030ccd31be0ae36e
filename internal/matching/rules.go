// Package matching implements the overlap matcher: pure functions over queue
// snapshots that decide whether a set of entries forms a valid party.
package matching

import (
	"sort"

	"github.com/devrev/softmatch/internal/model"
)

// Reason explains why a candidate set was accepted or refused
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonEmpty           Reason = "empty"
	ReasonOverCapacity    Reason = "over_capacity"
	ReasonNoAssignment    Reason = "no_role_assignment"
	ReasonKeystoneMissing Reason = "keystone_missing"
)

// Assignment maps a solo participant to the concrete role they fill
type Assignment map[int64]model.Role

// Rules holds the party constraints candidates are checked against
type Rules struct {
	PartySize         int
	RoleCaps          map[model.Role]int
	KeystoneThreshold int
}

// DefaultRules is a five-player party of one tank, one healer and three dps
// that needs a keystone from level 2 upward
func DefaultRules() Rules {
	return Rules{
		PartySize: 5,
		RoleCaps: map[model.Role]int{
			model.RoleTank:   1,
			model.RoleHealer: 1,
			model.RoleDPS:    3,
		},
		KeystoneThreshold: 2,
	}
}

// RangesOverlap reports whether two closed intervals share a level
func RangesOverlap(a, b model.LevelRange) bool {
	return a.Overlaps(b)
}

// CommonRange is the max of the minimums and the min of the maximums. The
// result may be empty when the members do not pairwise overlap.
func CommonRange(entries []model.QueueEntry) model.LevelRange {
	if len(entries) == 0 {
		return model.LevelRange{Min: 1, Max: 0}
	}
	common := entries[0].Range
	for i := 1; i < len(entries); i++ {
		common.Min = max(common.Min, entries[i].Range.Min)
		common.Max = min(common.Max, entries[i].Range.Max)
	}
	return common
}

// RequiresKeystone reports whether a common range reaches a keyed level
func (r Rules) RequiresKeystone(common model.LevelRange) bool {
	return common.Max >= r.KeystoneThreshold
}

// HasKeystone reports whether any entry carries a keystone
func HasKeystone(entries []model.QueueEntry) bool {
	for i := range entries {
		if entries[i].HasKeystone {
			return true
		}
	}
	return false
}

// Check evaluates capacity, role composition and the keystone rule
func (r Rules) Check(entries []model.QueueEntry) (Assignment, Reason) {
	return r.check(entries, true)
}

func (r Rules) check(entries []model.QueueEntry, keystone bool) (Assignment, Reason) {
	if len(entries) == 0 {
		return nil, ReasonEmpty
	}
	if model.PlayerTotal(entries) > r.PartySize {
		return nil, ReasonOverCapacity
	}
	assignment, ok := r.ResolveRoles(entries)
	if !ok {
		return nil, ReasonNoAssignment
	}
	if keystone && r.RequiresKeystone(CommonRange(entries)) && !HasKeystone(entries) {
		return nil, ReasonKeystoneMissing
	}
	return assignment, ReasonOK
}

// Valid reports whether entries form an acceptable party
func (r Rules) Valid(entries []model.QueueEntry) bool {
	_, reason := r.Check(entries)
	return reason == ReasonOK
}

// ResolveRoles finds one role per solo entry such that no role exceeds its cap
// once group compositions are counted. Entries with fewer choices are placed
// first. Any satisfying assignment is returned.
func (r Rules) ResolveRoles(entries []model.QueueEntry) (Assignment, bool) {
	counts := make(map[model.Role]int, len(r.RoleCaps))
	var solos []*model.QueueEntry

	for i := range entries {
		e := &entries[i]
		if e.IsGroup() {
			for role, n := range e.Composition {
				counts[role] += n
			}
			continue
		}
		solos = append(solos, e)
	}

	for role, n := range counts {
		if n > r.RoleCaps[role] {
			return nil, false
		}
	}

	sort.SliceStable(solos, func(i, j int) bool {
		return len(solos[i].Roles) < len(solos[j].Roles)
	})

	assignment := make(Assignment, len(solos))
	var place func(int) bool
	place = func(pos int) bool {
		if pos == len(solos) {
			return true
		}
		e := solos[pos]
		for _, role := range e.Roles {
			if counts[role]+1 > r.RoleCaps[role] {
				continue
			}
			counts[role]++
			assignment[e.ID()] = role
			if place(pos + 1) {
				return true
			}
			counts[role]--
			delete(assignment, e.ID())
		}
		return false
	}

	if !place(0) {
		return nil, false
	}
	return assignment, true
}

// RoleCounts tallies filled roles for a resolved party
func RoleCounts(entries []model.QueueEntry, assignment Assignment) map[model.Role]int {
	counts := make(map[model.Role]int, len(model.Roles))
	for i := range entries {
		e := &entries[i]
		if e.IsGroup() {
			for role, n := range e.Composition {
				counts[role] += n
			}
			continue
		}
		if role, ok := assignment[e.ID()]; ok {
			counts[role]++
		}
	}
	return counts
}
