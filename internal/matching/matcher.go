package matching

import (
	"github.com/devrev/softmatch/internal/model"
)

// Candidate is a tentative grouping produced by the matcher. SessionID is set
// when the target joins a session already awaiting confirmation.
type Candidate struct {
	SessionID   string
	Members     []model.QueueEntry
	Assignment  Assignment
	CommonRange model.LevelRange
}

// Joined reports whether the candidate grows an existing session
func (c Candidate) Joined() bool {
	return c.SessionID != ""
}

// MemberIDs returns the participant ids in member order
func (c Candidate) MemberIDs() []int64 {
	ids := make([]int64, len(c.Members))
	for i := range c.Members {
		ids[i] = c.Members[i].ID()
	}
	return ids
}

// PlayerCount is the number of players the candidate represents
func (c Candidate) PlayerCount() int {
	return model.PlayerTotal(c.Members)
}

// Matcher finds candidate groups under a fixed set of rules
type Matcher struct {
	rules Rules
}

// NewMatcher creates a matcher
func NewMatcher(rules Rules) *Matcher {
	return &Matcher{rules: rules}
}

// Rules returns the constraints the matcher enforces
func (m *Matcher) Rules() Rules {
	return m.rules
}

// FindGroup looks for a group for targetID in snapshot, which must be in queue
// order. It first tries to grow a session in progress, then forms a new group
// from unattached entries. ok is false when fewer than two members result.
func (m *Matcher) FindGroup(snapshot []model.QueueEntry, targetID int64) (Candidate, bool) {
	var target *model.QueueEntry
	for i := range snapshot {
		if snapshot[i].ID() == targetID {
			target = &snapshot[i]
			break
		}
	}
	if target == nil || target.Attached() {
		return Candidate{}, false
	}

	if c, ok := m.joinInProgress(snapshot, target); ok {
		return c, true
	}
	return m.formGroup(snapshot, target)
}

// joinInProgress tries each session in order of its oldest member and accepts
// the first one the target fits into
func (m *Matcher) joinInProgress(snapshot []model.QueueEntry, target *model.QueueEntry) (Candidate, bool) {
	var order []string
	bySession := make(map[string][]model.QueueEntry)
	for i := range snapshot {
		sid := snapshot[i].ActiveSession
		if sid == "" {
			continue
		}
		if _, seen := bySession[sid]; !seen {
			order = append(order, sid)
		}
		bySession[sid] = append(bySession[sid], snapshot[i])
	}

	for _, sid := range order {
		members := bySession[sid]
		if model.PlayerTotal(members) >= m.rules.PartySize {
			continue
		}
		if !overlapsAll(target.Range, members) {
			continue
		}
		trial := append(append([]model.QueueEntry(nil), members...), *target)
		assignment, reason := m.rules.Check(trial)
		if reason != ReasonOK {
			continue
		}
		return Candidate{
			SessionID:   sid,
			Members:     trial,
			Assignment:  assignment,
			CommonRange: CommonRange(trial),
		}, true
	}
	return Candidate{}, false
}

// formGroup greedily admits unattached entries overlapping the target's own
// range while the group stays valid
func (m *Matcher) formGroup(snapshot []model.QueueEntry, target *model.QueueEntry) (Candidate, bool) {
	group := []model.QueueEntry{*target}
	var assignment Assignment

	for i := range snapshot {
		e := snapshot[i]
		if e.ID() == target.ID() || e.Attached() {
			continue
		}
		if !RangesOverlap(target.Range, e.Range) {
			continue
		}
		trial := append(append([]model.QueueEntry(nil), group...), e)
		a, reason := m.rules.Check(trial)
		if reason != ReasonOK {
			continue
		}
		group = trial
		assignment = a
		if model.PlayerTotal(group) >= m.rules.PartySize {
			break
		}
	}

	if len(group) < 2 {
		return Candidate{}, false
	}
	return Candidate{
		Members:     group,
		Assignment:  assignment,
		CommonRange: CommonRange(group),
	}, true
}

// Partition carves as many independent groups as it can out of the unattached
// entries of snapshot, oldest first. Members of a group pairwise overlap; the
// keystone rule is applied to each finished group.
func (m *Matcher) Partition(snapshot []model.QueueEntry) []Candidate {
	var available []model.QueueEntry
	for i := range snapshot {
		if !snapshot[i].Attached() {
			available = append(available, snapshot[i])
		}
	}
	model.SortByQueueOrder(available)

	used := make([]bool, len(available))
	var groups []Candidate

	for i := range available {
		if used[i] {
			continue
		}
		group := []model.QueueEntry{available[i]}
		picked := []int{i}

		for j := range available {
			if j == i || used[j] {
				continue
			}
			if !overlapsAll(available[j].Range, group) {
				continue
			}
			trial := append(append([]model.QueueEntry(nil), group...), available[j])
			if _, reason := m.rules.check(trial, false); reason != ReasonOK {
				continue
			}
			group = trial
			picked = append(picked, j)
			if model.PlayerTotal(group) == m.rules.PartySize {
				break
			}
		}

		if len(group) < 2 {
			continue
		}
		assignment, reason := m.rules.Check(group)
		if reason != ReasonOK {
			continue
		}
		for _, idx := range picked {
			used[idx] = true
		}
		groups = append(groups, Candidate{
			Members:     group,
			Assignment:  assignment,
			CommonRange: CommonRange(group),
		})
	}
	return groups
}

func overlapsAll(r model.LevelRange, members []model.QueueEntry) bool {
	for i := range members {
		if !RangesOverlap(r, members[i].Range) {
			return false
		}
	}
	return true
}
