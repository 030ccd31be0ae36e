package service

import (
	"sort"
	"sync"
	"time"

	"github.com/devrev/softmatch/internal/model"
)

// Session is one candidate group going through confirmation. Its fields are
// guarded by mu; transitions additionally run under the owning tenant's queue
// lock, always acquired first.
type Session struct {
	mu sync.Mutex

	id         string
	tenantID   int64
	state      model.SessionState
	members    []int64
	synthetic  map[int64]bool
	confirmed  map[int64]struct{}
	fallback   map[int64]struct{}
	createdAt  time.Time
	deadline   time.Time
	closedAt   time.Time
	reason     model.CancelReason
	channelRef string
	messageRef string
	posting    bool
	// epoch advances whenever the fallback message is retired
	epoch uint64
}

func newSession(id string, tenantID int64, members []model.QueueEntry, now time.Time, timeout time.Duration) *Session {
	s := &Session{
		id:        id,
		tenantID:  tenantID,
		state:     model.SessionAwaitingConfirmation,
		synthetic: make(map[int64]bool, len(members)),
		confirmed: make(map[int64]struct{}, len(members)),
		fallback:  make(map[int64]struct{}),
		createdAt: now,
		deadline:  now.Add(timeout),
	}
	for i := range members {
		s.addMember(members[i])
	}
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// TenantID returns the owning tenant
func (s *Session) TenantID() int64 {
	return s.tenantID
}

// View returns a copy of the session state
func (s *Session) View() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Session) view() model.SessionView {
	v := model.SessionView{
		ID:           s.id,
		TenantID:     s.tenantID,
		State:        s.state,
		Members:      append([]int64(nil), s.members...),
		Confirmed:    sortedIDs(s.confirmed),
		Fallback:     sortedIDs(s.fallback),
		CreatedAt:    s.createdAt,
		Deadline:     s.deadline,
		CancelReason: s.reason,
		ChannelRef:   s.channelRef,
	}
	return v
}

// addMember appends a member; synthetic members confirm immediately
func (s *Session) addMember(e model.QueueEntry) {
	s.members = append(s.members, e.ID())
	s.synthetic[e.ID()] = e.Identity.Synthetic
	if e.Identity.Synthetic {
		s.confirmed[e.ID()] = struct{}{}
	}
	if s.channelRef == "" {
		s.channelRef = e.ChannelRef
	}
}

func (s *Session) removeMember(id int64) bool {
	for i, m := range s.members {
		if m == id {
			s.members = append(s.members[:i], s.members[i+1:]...)
			delete(s.confirmed, id)
			delete(s.fallback, id)
			delete(s.synthetic, id)
			return true
		}
	}
	return false
}

func (s *Session) isMember(id int64) bool {
	for _, m := range s.members {
		if m == id {
			return true
		}
	}
	return false
}

func (s *Session) isConfirmed(id int64) bool {
	_, ok := s.confirmed[id]
	return ok
}

// resetConfirmations clears every human confirmation, used when the group
// changes shape
func (s *Session) resetConfirmations() {
	for id := range s.confirmed {
		if !s.synthetic[id] {
			delete(s.confirmed, id)
		}
	}
}

// allConfirmed reports whether every member has confirmed and at least two remain
func (s *Session) allConfirmed() bool {
	if len(s.members) < 2 {
		return false
	}
	for _, m := range s.members {
		if !s.isConfirmed(m) {
			return false
		}
	}
	return true
}

// consistent reports whether every confirmed id is still a member
func (s *Session) consistent() bool {
	for id := range s.confirmed {
		if !s.isMember(id) {
			return false
		}
	}
	return true
}

func (s *Session) confirmedIDs() []int64 {
	return sortedIDs(s.confirmed)
}

func (s *Session) humanMembers() []int64 {
	var out []int64
	for _, m := range s.members {
		if !s.synthetic[m] {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) expired(now time.Time) bool {
	return s.state == model.SessionAwaitingConfirmation && !now.Before(s.deadline)
}

func (s *Session) close(state model.SessionState, reason model.CancelReason, now time.Time) {
	s.state = state
	s.reason = reason
	s.closedAt = now
}

// fallbackPost describes a channel message that still needs to be posted
type fallbackPost struct {
	channelRef string
	pending    []int64
	epoch      uint64
}

// markFallback records members that could not be reached privately and
// reports whether a channel message still needs to be posted
func (s *Session) markFallback(ids []int64) (fallbackPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return fallbackPost{}, false
	}
	for _, id := range ids {
		if s.isMember(id) {
			s.fallback[id] = struct{}{}
		}
	}
	if s.posting || s.channelRef == "" || len(s.fallback) == 0 {
		return fallbackPost{}, false
	}
	s.posting = true
	return fallbackPost{channelRef: s.channelRef, pending: sortedIDs(s.fallback), epoch: s.epoch}, true
}

// setMessageRef stores the fallback message reference posted for epoch. It
// returns false when the session closed or the message was retired
// meanwhile, in which case the caller deletes the message.
func (s *Session) setMessageRef(ref string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || epoch != s.epoch {
		return false
	}
	s.messageRef = ref
	return true
}

func (s *Session) postFailed(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch == s.epoch {
		s.posting = false
	}
}

// takeMessageRef retires the fallback message so a fresh one can be posted.
// A post still in flight belongs to the previous epoch.
func (s *Session) takeMessageRef() string {
	ref := s.messageRef
	s.messageRef = ""
	s.posting = false
	s.epoch++
	return ref
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sessionTable indexes live and recently closed sessions
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*Session)}
}

func (t *sessionTable) get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) put(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.id] = s
}

// forTenant returns the tenant's sessions ordered by creation time
func (t *sessionTable) forTenant(tenantID int64) []*Session {
	t.mu.RLock()
	var out []*Session
	for _, s := range t.sessions {
		if s.tenantID == tenantID {
			out = append(out, s)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

func (t *sessionTable) tenantIDs() []int64 {
	t.mu.RLock()
	seen := make(map[int64]struct{})
	for _, s := range t.sessions {
		seen[s.tenantID] = struct{}{}
	}
	t.mu.RUnlock()
	return sortedIDs(seen)
}

// prune drops sessions closed before cutoff
func (t *sessionTable) prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.sessions {
		s.mu.Lock()
		stale := s.state.Terminal() && s.closedAt.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

func (t *sessionTable) activeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, s := range t.sessions {
		s.mu.Lock()
		if !s.state.Terminal() {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
