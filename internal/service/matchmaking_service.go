package service

import (
	"context"
	"sync/atomic"
	"time"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/matching"
	"github.com/devrev/softmatch/internal/metrics"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/queue"
	"github.com/devrev/softmatch/internal/stats"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds session and identity settings
type Config struct {
	ConfirmTimeout   time.Duration
	SessionRetention time.Duration
	SyntheticIDFloor int64
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		ConfirmTimeout:   5 * time.Minute,
		SessionRetention: 15 * time.Minute,
		SyntheticIDFloor: 900000000000000000,
	}
}

// JoinResult reports what a declaration led to
type JoinResult struct {
	Entry    model.QueueEntry   `json:"entry"`
	Replaced bool               `json:"replaced"`
	Session  *model.SessionView `json:"session,omitempty"`
	Grew     bool               `json:"grew"`
	RecordID int64              `json:"record_id,omitempty"`
}

// MatchmakingService owns the queue, the matcher and the session table and
// runs every transition between them
type MatchmakingService struct {
	store    *queue.Store
	matcher  *matching.Matcher
	sessions *sessionTable
	delivery *Delivery
	recorder stats.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	cfg      Config

	syntheticSeq atomic.Int64
}

// NewMatchmakingService creates a new matchmaking service
func NewMatchmakingService(
	store *queue.Store,
	matcher *matching.Matcher,
	delivery *Delivery,
	recorder stats.Recorder,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *MatchmakingService {
	return &MatchmakingService{
		store:    store,
		matcher:  matcher,
		sessions: newSessionTable(),
		delivery: delivery,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		now:      store.Now,
		cfg:      cfg,
	}
}

// Store returns the underlying queue store
func (s *MatchmakingService) Store() *queue.Store {
	return s.store
}

// Join validates and upserts a declaration, then tries to place it in a group.
// Re-declaring while attached to a session leaves that session first.
func (s *MatchmakingService) Join(ctx context.Context, tenantID, participantID int64, decl model.Declaration) (*JoinResult, error) {
	if _, err := s.store.Validator().ValidateDeclaration(decl); err != nil {
		s.metrics.RejectedInputs.WithLabelValues(apperrors.GetCode(err).String()).Inc()
		return nil, err
	}

	var (
		fx     effects
		result JoinResult
	)
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		now := s.now()
		s.expireLocked(tx, now, &fx)

		if prev, ok := tx.Get(participantID); ok && prev.Attached() {
			s.leaveSessionLocked(tx, prev.ActiveSession, participantID, now, &fx)
		}

		entry, prev, err := tx.Add(participantID, decl)
		if err != nil {
			return err
		}
		result.Entry = entry
		result.Replaced = prev != nil

		result.Session, result.Grew = s.matchLocked(tx, participantID, now, &fx)
		if result.Session != nil {
			if current, ok := tx.Get(participantID); ok {
				result.Entry = current
			}
		}
		s.metrics.QueueEntries.WithLabelValues(tenantLabel(tenantID)).Set(float64(tx.Count()))
		return nil
	})
	if err != nil {
		if apperrors.GetCode(err) != apperrors.ErrCodeInternal {
			s.metrics.RejectedInputs.WithLabelValues(apperrors.GetCode(err).String()).Inc()
		}
		return nil, err
	}

	kind := "solo"
	if result.Entry.IsGroup() {
		kind = "group"
	}
	s.metrics.QueueJoins.WithLabelValues(kind).Inc()

	s.logger.Info("Participant queued",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("participant_id", participantID),
		zap.Bool("replaced", result.Replaced),
		zap.Bool("matched", result.Session != nil))

	ids := s.apply(ctx, &fx)
	if result.Session != nil {
		result.RecordID = ids[result.Session.ID]
	}
	return &result, nil
}

// Leave removes a participant, shrinking any session they were part of
func (s *MatchmakingService) Leave(ctx context.Context, tenantID, participantID int64) (bool, error) {
	return s.remove(ctx, tenantID, participantID, "left")
}

// RemoveEntry is the administrative removal of an entry
func (s *MatchmakingService) RemoveEntry(ctx context.Context, tenantID, participantID int64) (bool, error) {
	return s.remove(ctx, tenantID, participantID, "admin")
}

func (s *MatchmakingService) remove(ctx context.Context, tenantID, participantID int64, reason string) (bool, error) {
	var (
		fx      effects
		removed bool
	)
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		entry, ok := tx.Get(participantID)
		if !ok {
			return nil
		}
		now := s.now()
		if entry.Attached() {
			s.leaveSessionLocked(tx, entry.ActiveSession, participantID, now, &fx)
		}
		_, removed = tx.Remove(participantID)
		s.metrics.QueueEntries.WithLabelValues(tenantLabel(tenantID)).Set(float64(tx.Count()))
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.metrics.QueueRemovals.WithLabelValues(reason).Inc()
		s.logger.Info("Participant removed from queue",
			zap.Int64("tenant_id", tenantID),
			zap.Int64("participant_id", participantID),
			zap.String("reason", reason))
	}
	s.apply(ctx, &fx)
	return removed, nil
}

// ForceMatch runs matching for one queued entry. An entry already attached
// returns its current session.
func (s *MatchmakingService) ForceMatch(ctx context.Context, tenantID, participantID int64) (*model.SessionView, error) {
	var (
		fx   effects
		view *model.SessionView
	)
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		now := s.now()
		s.expireLocked(tx, now, &fx)

		entry, ok := tx.Get(participantID)
		if !ok {
			return apperrors.EntryNotFound(tenantID, participantID)
		}
		if entry.Attached() {
			if sess, ok := s.sessions.get(entry.ActiveSession); ok {
				v := sess.View()
				view = &v
			}
			return nil
		}
		view, _ = s.matchLocked(tx, participantID, now, &fx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, &fx)
	return view, nil
}

// Partition greedily forms as many independent sessions as the tenant's
// unattached entries allow
func (s *MatchmakingService) Partition(ctx context.Context, tenantID int64) ([]model.SessionView, error) {
	var (
		fx    effects
		views []model.SessionView
	)
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		now := s.now()
		s.expireLocked(tx, now, &fx)
		for _, cand := range s.matcher.Partition(tx.Items()) {
			views = append(views, s.createLocked(tx, cand, now, &fx))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bulk partition finished",
		zap.Int64("tenant_id", tenantID),
		zap.Int("sessions", len(views)))

	s.apply(ctx, &fx)
	return views, nil
}

// Clear cancels the tenant's sessions and empties its queue
func (s *MatchmakingService) Clear(ctx context.Context, tenantID int64) (int, error) {
	var (
		fx      effects
		removed int
	)
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		now := s.now()
		for _, sess := range s.sessions.forTenant(tenantID) {
			sess.mu.Lock()
			if !sess.state.Terminal() {
				s.cancelLocked(tx, sess, model.CancelCleared, now, &fx)
			}
			sess.mu.Unlock()
		}
		removed = len(tx.Clear())
		s.metrics.QueueEntries.WithLabelValues(tenantLabel(tenantID)).Set(0)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.QueueRemovals.WithLabelValues("cleared").Add(float64(removed))
	s.logger.Info("Tenant queue cleared",
		zap.Int64("tenant_id", tenantID),
		zap.Int("removed", removed))

	s.apply(ctx, &fx)
	return removed, nil
}

// ClearAll clears every tenant
func (s *MatchmakingService) ClearAll(ctx context.Context) (int, error) {
	total := 0
	for _, tenantID := range s.tenantIDs() {
		n, err := s.Clear(ctx, tenantID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Snapshot returns the tenant's entries with their session linkage and the
// sessions still awaiting confirmation
func (s *MatchmakingService) Snapshot(tenantID int64) (model.TenantSnapshot, error) {
	snap := model.TenantSnapshot{
		TenantID:   tenantID,
		Entries:    []model.QueueEntry{},
		Sessions:   []model.SessionView{},
		RoleDemand: make(map[model.Role]int),
	}
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		snap.Entries = tx.Items()
		for _, sess := range s.sessions.forTenant(tenantID) {
			if v := sess.View(); !v.State.Terminal() {
				snap.Sessions = append(snap.Sessions, v)
			}
		}
		return nil
	})
	if err != nil {
		return model.TenantSnapshot{}, err
	}

	snap.EntryCount = len(snap.Entries)
	snap.PlayerCount = model.PlayerTotal(snap.Entries)
	for i := range snap.Entries {
		e := &snap.Entries[i]
		if e.IsGroup() {
			snap.GroupEntries++
		}
		if e.Attached() {
			continue
		}
		snap.Unattached++
		if e.IsGroup() {
			for role, n := range e.Composition {
				snap.RoleDemand[role] += n
			}
			continue
		}
		for _, role := range e.Roles {
			snap.RoleDemand[role]++
		}
	}
	return snap, nil
}

// Snapshots returns a snapshot for every tenant with entries or sessions
func (s *MatchmakingService) Snapshots() ([]model.TenantSnapshot, error) {
	var out []model.TenantSnapshot
	for _, tenantID := range s.tenantIDs() {
		snap, err := s.Snapshot(tenantID)
		if err != nil {
			return nil, err
		}
		if snap.EntryCount == 0 && len(snap.Sessions) == 0 {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Session returns a view of a session
func (s *MatchmakingService) Session(sessionID string) (model.SessionView, error) {
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		return model.SessionView{}, apperrors.SessionNotFound(sessionID)
	}
	return sess.View(), nil
}

// EvictIdle removes an entry only if it is still queued and unattached
func (s *MatchmakingService) EvictIdle(tenantID, participantID int64) (bool, error) {
	var evicted bool
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		entry, ok := tx.Get(participantID)
		if !ok || entry.Attached() {
			return nil
		}
		_, evicted = tx.Remove(participantID)
		s.metrics.QueueEntries.WithLabelValues(tenantLabel(tenantID)).Set(float64(tx.Count()))
		return nil
	})
	if evicted {
		s.metrics.QueueRemovals.WithLabelValues("evicted").Inc()
	}
	return evicted, err
}

// AddSynthetic queues a synthetic participant with a freshly allocated id
func (s *MatchmakingService) AddSynthetic(ctx context.Context, tenantID int64, decl model.Declaration) (*JoinResult, error) {
	decl.Synthetic = true
	return s.AddScripted(ctx, tenantID, decl, true)
}

// AddScripted queues a participant under an id from the synthetic range.
// decl.Synthetic decides whether it auto-confirms; with match unset the entry
// waits for a partition or forced match.
func (s *MatchmakingService) AddScripted(ctx context.Context, tenantID int64, decl model.Declaration, match bool) (*JoinResult, error) {
	id := s.cfg.SyntheticIDFloor + s.syntheticSeq.Add(1) - 1
	if match {
		return s.Join(ctx, tenantID, id, decl)
	}

	var (
		fx     effects
		result JoinResult
	)
	err := s.store.Update(tenantID, func(tx *queue.Tx) error {
		now := s.now()
		if prev, ok := tx.Get(id); ok && prev.Attached() {
			s.leaveSessionLocked(tx, prev.ActiveSession, id, now, &fx)
		}

		entry, prev, err := tx.Add(id, decl)
		if err != nil {
			return err
		}
		result.Entry = entry
		result.Replaced = prev != nil
		s.metrics.QueueEntries.WithLabelValues(tenantLabel(tenantID)).Set(float64(tx.Count()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.QueueJoins.WithLabelValues("scripted").Inc()
	s.apply(ctx, &fx)
	return &result, nil
}

// CleanupSynthetic removes every entry queued through the synthetic tooling
func (s *MatchmakingService) CleanupSynthetic(ctx context.Context, tenantID int64) (int, error) {
	removed := 0
	for _, entry := range s.store.Items(tenantID) {
		if !entry.Identity.Synthetic && entry.ID() < s.cfg.SyntheticIDFloor {
			continue
		}
		ok, err := s.remove(ctx, tenantID, entry.ID(), "synthetic_cleanup")
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// matchLocked runs the matcher for one entry and applies the candidate. A
// join into a session with stale linkage detaches those entries and matches
// once more.
func (s *MatchmakingService) matchLocked(tx *queue.Tx, participantID int64, now time.Time, fx *effects) (*model.SessionView, bool) {
	for attempt := 0; attempt < 2; attempt++ {
		start := time.Now()
		cand, ok := s.matcher.FindGroup(tx.Items(), participantID)
		s.metrics.MatchDuration.Observe(time.Since(start).Seconds())

		if !ok {
			break
		}

		if cand.Joined() {
			view, ok := s.growLocked(tx, cand, now, fx)
			if !ok {
				continue
			}
			s.metrics.MatchAttempts.WithLabelValues("joined").Inc()
			return &view, true
		}

		view := s.createLocked(tx, cand, now, fx)
		s.metrics.MatchAttempts.WithLabelValues("created").Inc()
		return &view, false
	}

	s.metrics.MatchAttempts.WithLabelValues("none").Inc()
	s.logger.Debug("No candidate group",
		zap.Int64("tenant_id", tx.TenantID()),
		zap.Int64("participant_id", participantID))
	return nil, false
}

func (s *MatchmakingService) createLocked(tx *queue.Tx, cand matching.Candidate, now time.Time, fx *effects) model.SessionView {
	sess := newSession(newSessionID(), tx.TenantID(), cand.Members, now, s.cfg.ConfirmTimeout)
	for _, id := range cand.MemberIDs() {
		tx.SetActiveSession(id, sess.id)
	}
	s.sessions.put(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	s.metrics.SessionTransitions.WithLabelValues("created", "").Inc()
	s.metrics.CandidateSizes.Observe(float64(cand.PlayerCount()))
	s.logger.Info("Session created",
		zap.Int64("tenant_id", sess.tenantID),
		zap.String("session_id", sess.id),
		zap.Int64s("members", sess.members),
		zap.Int("players", cand.PlayerCount()))

	if sess.allConfirmed() {
		s.finalizeLocked(tx, sess, now, fx)
		return sess.view()
	}

	view := sess.view()
	fx.notify(sess, sess.humanMembers(), matchMessage(view, cand.Members, cand.Assignment, false, now), true)
	return view
}

func (s *MatchmakingService) growLocked(tx *queue.Tx, cand matching.Candidate, now time.Time, fx *effects) (model.SessionView, bool) {
	target := cand.Members[len(cand.Members)-1]

	sess, ok := s.sessions.get(cand.SessionID)
	if !ok {
		s.logger.Error("Entries reference an unknown session",
			zap.Int64("tenant_id", tx.TenantID()),
			zap.String("session_id", cand.SessionID))
		for _, id := range cand.MemberIDs() {
			tx.DetachFrom(id, cand.SessionID)
		}
		return model.SessionView{}, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state.Terminal() {
		s.logger.Error("Entries reference a closed session",
			zap.Int64("tenant_id", tx.TenantID()),
			zap.String("session_id", sess.id),
			zap.String("state", string(sess.state)))
		for _, id := range cand.MemberIDs() {
			tx.DetachFrom(id, sess.id)
		}
		return model.SessionView{}, false
	}

	sess.addMember(target)
	tx.SetActiveSession(target.ID(), sess.id)
	sess.resetConfirmations()
	sess.deadline = now.Add(s.cfg.ConfirmTimeout)
	for id := range sess.fallback {
		delete(sess.fallback, id)
	}
	fx.deleteMessage(sess.takeMessageRef())

	s.metrics.SessionTransitions.WithLabelValues("grown", "").Inc()
	s.metrics.CandidateSizes.Observe(float64(cand.PlayerCount()))
	s.logger.Info("Session grown",
		zap.Int64("tenant_id", sess.tenantID),
		zap.String("session_id", sess.id),
		zap.Int64("participant_id", target.ID()),
		zap.Int("players", cand.PlayerCount()))

	if sess.allConfirmed() {
		s.finalizeLocked(tx, sess, now, fx)
		return sess.view(), true
	}

	view := sess.view()
	fx.notify(sess, sess.humanMembers(), matchMessage(view, cand.Members, cand.Assignment, true, now), true)
	return view, true
}

// leaveSessionLocked detaches one member from a session. The session is
// cancelled when fewer than two remain and finalized when the rest already
// confirmed.
func (s *MatchmakingService) leaveSessionLocked(tx *queue.Tx, sessionID string, participantID int64, now time.Time, fx *effects) {
	tx.DetachFrom(participantID, sessionID)

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state.Terminal() || !sess.removeMember(participantID) {
		return
	}

	s.logger.Info("Member left session",
		zap.Int64("tenant_id", sess.tenantID),
		zap.String("session_id", sess.id),
		zap.Int64("participant_id", participantID),
		zap.Int("remaining", len(sess.members)))

	switch {
	case len(sess.members) < 2:
		s.cancelLocked(tx, sess, model.CancelTooFewMembers, now, fx)
	case sess.allConfirmed():
		s.finalizeLocked(tx, sess, now, fx)
	}
}

// finalizeLocked completes a fully confirmed session. The final member set is
// validated afresh; a set that no longer forms a valid party is cancelled.
func (s *MatchmakingService) finalizeLocked(tx *queue.Tx, sess *Session, now time.Time, fx *effects) {
	if !sess.consistent() {
		s.logger.Error("Session confirmations reference non-members",
			zap.Int64("tenant_id", sess.tenantID),
			zap.String("session_id", sess.id),
			zap.Int64s("members", sess.members),
			zap.Int64s("confirmed", sess.confirmedIDs()))
		s.cancelLocked(tx, sess, model.CancelInvariant, now, fx)
		return
	}

	entries := make([]model.QueueEntry, 0, len(sess.members))
	for _, id := range sess.members {
		if e, ok := tx.Get(id); ok {
			entries = append(entries, e)
		}
	}
	if len(entries) < 2 {
		s.cancelLocked(tx, sess, model.CancelTooFewMembers, now, fx)
		return
	}

	// An empty common range still completes; the achieved level is the
	// highest minimum.
	common := matching.CommonRange(entries)
	assignment, reason := s.matcher.Rules().Check(entries)
	if reason != matching.ReasonOK {
		s.logger.Warn("Session cannot be finalized",
			zap.Int64("tenant_id", sess.tenantID),
			zap.String("session_id", sess.id),
			zap.String("reason", string(reason)))
		s.cancelLocked(tx, sess, model.CancelFinalizeFailed, now, fx)
		return
	}

	participants := make([]model.Participant, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		p := model.Participant{
			ID:          e.ID(),
			DisplayName: e.DisplayName,
			Composition: e.Composition.Clone(),
			Synthetic:   e.Identity.Synthetic,
		}
		if !e.IsGroup() {
			p.Role = assignment[e.ID()]
		}
		participants = append(participants, p)
		tx.Remove(e.ID())
	}

	sess.close(model.SessionCompleted, "", now)
	record := model.CompletionRecord{
		SessionID:     sess.id,
		TenantID:      sess.tenantID,
		AchievedLevel: common.Min,
		CommonRange:   common,
		Participants:  participants,
		CompletedAt:   now,
	}
	fx.records = append(fx.records, record)

	s.metrics.SessionTransitions.WithLabelValues("completed", "").Inc()
	s.metrics.ConfirmationWait.Observe(now.Sub(sess.createdAt).Seconds())
	s.metrics.QueueRemovals.WithLabelValues("completed").Add(float64(len(entries)))
	s.metrics.QueueEntries.WithLabelValues(tenantLabel(sess.tenantID)).Set(float64(tx.Count()))
	s.logger.Info("Session completed",
		zap.Int64("tenant_id", sess.tenantID),
		zap.String("session_id", sess.id),
		zap.Int("achieved_level", common.Min),
		zap.Int64s("members", sess.members))

	fx.notify(sess, sess.humanMembers(), completedMessage(sess.view(), record), false)
	fx.deleteMessage(sess.takeMessageRef())
}

// cancelLocked abandons a session and returns its members to the unattached pool
func (s *MatchmakingService) cancelLocked(tx *queue.Tx, sess *Session, reason model.CancelReason, now time.Time, fx *effects) {
	for _, id := range sess.members {
		tx.DetachFrom(id, sess.id)
	}
	sess.close(model.SessionCancelled, reason, now)

	s.metrics.SessionTransitions.WithLabelValues("cancelled", string(reason)).Inc()
	s.logger.Info("Session cancelled",
		zap.Int64("tenant_id", sess.tenantID),
		zap.String("session_id", sess.id),
		zap.String("reason", string(reason)),
		zap.Int64s("members", sess.members))

	switch reason {
	case model.CancelTimeout, model.CancelTooFewMembers, model.CancelFinalizeFailed, model.CancelInvariant:
		fx.notify(sess, sess.humanMembers(), cancelledMessage(sess.view()), false)
	}
	fx.deleteMessage(sess.takeMessageRef())
}

// expireLocked abandons the tenant's sessions whose deadline has passed
func (s *MatchmakingService) expireLocked(tx *queue.Tx, now time.Time, fx *effects) int {
	expired := 0
	for _, sess := range s.sessions.forTenant(tx.TenantID()) {
		sess.mu.Lock()
		if sess.expired(now) {
			s.cancelLocked(tx, sess, model.CancelTimeout, now, fx)
			expired++
		}
		sess.mu.Unlock()
	}
	return expired
}

// apply records completions and hands notices to delivery once no lock is held
func (s *MatchmakingService) apply(ctx context.Context, fx *effects) map[string]int64 {
	ids := make(map[string]int64, len(fx.records))
	for _, record := range fx.records {
		id, err := s.recorder.RecordCompletion(ctx, record)
		if err != nil {
			s.logger.Error("Failed to record completion",
				zap.Int64("tenant_id", record.TenantID),
				zap.String("session_id", record.SessionID),
				zap.Error(apperrors.StatsFailed(err)))
			continue
		}
		ids[record.SessionID] = id
	}

	s.delivery.dispatch(fx)
	s.metrics.SessionsActive.Set(float64(s.sessions.activeCount()))
	return ids
}

func (s *MatchmakingService) tenantIDs() []int64 {
	seen := make(map[int64]struct{})
	for _, id := range s.store.TenantIDs() {
		seen[id] = struct{}{}
	}
	for _, id := range s.sessions.tenantIDs() {
		seen[id] = struct{}{}
	}
	return sortedIDs(seen)
}

func newSessionID() string {
	return uuid.NewString()
}
