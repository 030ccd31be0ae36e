package service

import (
	"context"
	"strconv"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/queue"
	"go.uber.org/zap"
)

// Outcome describes what a confirmation or rejection did
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeRejected         Outcome = "rejected"
	OutcomeNotMember        Outcome = "not_member"
	OutcomeNotQueued        Outcome = "not_queued"
	OutcomeSessionClosed    Outcome = "session_closed"
	OutcomeExpired          Outcome = "expired"
	OutcomeCancelled        Outcome = "cancelled"
)

// ConfirmResult is returned by Confirm and Reject
type ConfirmResult struct {
	Outcome  Outcome           `json:"outcome"`
	Session  model.SessionView `json:"session"`
	RecordID int64             `json:"record_id,omitempty"`
}

// Confirm records a member's confirmation. The confirmation that completes
// the set finalizes the session; concurrent confirmations finalize it once.
func (s *MatchmakingService) Confirm(ctx context.Context, sessionID string, participantID int64) (*ConfirmResult, error) {
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}

	var (
		fx     effects
		result ConfirmResult
	)
	err := s.store.Update(sess.TenantID(), func(tx *queue.Tx) error {
		now := s.now()
		s.expireLocked(tx, now, &fx)

		sess.mu.Lock()
		defer sess.mu.Unlock()

		result.Outcome = s.confirmLocked(tx, sess, participantID)
		if result.Outcome == OutcomeConfirmed && sess.allConfirmed() {
			s.finalizeLocked(tx, sess, now, &fx)
			result.Outcome = OutcomeCompleted
			if sess.state == model.SessionCancelled {
				result.Outcome = OutcomeCancelled
			}
		}
		result.Session = sess.view()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Confirmation handled",
		zap.Int64("tenant_id", sess.TenantID()),
		zap.String("session_id", sessionID),
		zap.Int64("participant_id", participantID),
		zap.String("outcome", string(result.Outcome)))

	ids := s.apply(ctx, &fx)
	result.RecordID = ids[sessionID]
	return &result, nil
}

func (s *MatchmakingService) confirmLocked(tx *queue.Tx, sess *Session, participantID int64) Outcome {
	if sess.state.Terminal() {
		if sess.reason == model.CancelTimeout {
			return OutcomeExpired
		}
		return OutcomeSessionClosed
	}
	if !sess.isMember(participantID) {
		return OutcomeNotMember
	}
	if entry, ok := tx.Get(participantID); !ok || entry.ActiveSession != sess.id {
		s.logger.Warn("Session member is not linked in the queue",
			zap.Int64("tenant_id", sess.tenantID),
			zap.String("session_id", sess.id),
			zap.Int64("participant_id", participantID))
		return OutcomeNotQueued
	}
	if sess.isConfirmed(participantID) {
		return OutcomeAlreadyConfirmed
	}
	sess.confirmed[participantID] = struct{}{}
	return OutcomeConfirmed
}

// Reject cancels the session on behalf of one member. The rejecting member
// leaves the queue; everyone else returns to the unattached pool and members
// who had already confirmed are told why.
func (s *MatchmakingService) Reject(ctx context.Context, sessionID string, participantID int64) (*ConfirmResult, error) {
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}

	var (
		fx     effects
		result ConfirmResult
	)
	err := s.store.Update(sess.TenantID(), func(tx *queue.Tx) error {
		now := s.now()
		s.expireLocked(tx, now, &fx)

		sess.mu.Lock()
		defer sess.mu.Unlock()

		switch {
		case sess.state.Terminal() && sess.reason == model.CancelTimeout:
			result.Outcome = OutcomeExpired
		case sess.state.Terminal():
			result.Outcome = OutcomeSessionClosed
		case !sess.isMember(participantID):
			result.Outcome = OutcomeNotMember
		default:
			result.Outcome = OutcomeRejected
			confirmed := make([]int64, 0, len(sess.confirmed))
			for _, id := range sess.humanMembers() {
				if id != participantID && sess.isConfirmed(id) {
					confirmed = append(confirmed, id)
				}
			}

			sess.removeMember(participantID)
			tx.DetachFrom(participantID, sess.id)
			if _, removed := tx.Remove(participantID); removed {
				s.metrics.QueueRemovals.WithLabelValues("rejected").Inc()
			}
			s.cancelLocked(tx, sess, model.CancelRejected, now, &fx)
			fx.notify(sess, confirmed, rejectionMessage(sess.view()), false)
			s.metrics.QueueEntries.WithLabelValues(tenantLabel(sess.tenantID)).Set(float64(tx.Count()))
		}
		result.Session = sess.view()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Rejection handled",
		zap.Int64("tenant_id", sess.TenantID()),
		zap.String("session_id", sessionID),
		zap.Int64("participant_id", participantID),
		zap.String("outcome", string(result.Outcome)))

	s.apply(ctx, &fx)
	return &result, nil
}

// ExpireSessions cancels every session past its deadline and forgets closed
// sessions older than the retention period
func (s *MatchmakingService) ExpireSessions(ctx context.Context) (int, error) {
	var (
		fx      effects
		expired int
	)
	for _, tenantID := range s.sessions.tenantIDs() {
		err := s.store.Update(tenantID, func(tx *queue.Tx) error {
			expired += s.expireLocked(tx, s.now(), &fx)
			return nil
		})
		if err != nil {
			return expired, err
		}
	}

	pruned := s.sessions.prune(s.now().Add(-s.cfg.SessionRetention))
	if expired > 0 || pruned > 0 {
		s.logger.Info("Session sweep finished",
			zap.Int("expired", expired),
			zap.Int("pruned", pruned))
	}
	s.apply(ctx, &fx)
	return expired, nil
}

func tenantLabel(tenantID int64) string {
	return strconv.FormatInt(tenantID, 10)
}
