package service

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/softmatch/internal/model"
	"go.uber.org/zap"
)

// PresenceConfig controls the idle-entry watchdog
type PresenceConfig struct {
	Interval        time.Duration
	PromptAfter     time.Duration
	ResponseTimeout time.Duration
}

// DefaultPresenceConfig returns production defaults
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		Interval:        30 * time.Second,
		PromptAfter:     30 * time.Minute,
		ResponseTimeout: 10 * time.Minute,
	}
}

// PresenceOutcome is the result of a participant's reply to a prompt
type PresenceOutcome string

const (
	PresenceStayed    PresenceOutcome = "stayed"
	PresenceLeft      PresenceOutcome = "left"
	PresenceNotQueued PresenceOutcome = "not_queued"
)

// SweepResult summarizes one watchdog pass
type SweepResult struct {
	Expired  int `json:"expired_sessions"`
	Prompted int `json:"prompted"`
	Evicted  int `json:"evicted"`
}

type presenceKey struct {
	tenantID      int64
	participantID int64
}

// PresenceService asks long-waiting participants whether they still want to
// be queued and evicts the ones that never answer
type PresenceService struct {
	matchmaking *MatchmakingService
	delivery    *Delivery
	cfg         PresenceConfig
	logger      *zap.Logger

	mu          sync.Mutex
	pending     map[presenceKey]time.Time
	lastAttempt map[presenceKey]time.Time
}

// NewPresenceService creates a new presence watchdog
func NewPresenceService(matchmaking *MatchmakingService, delivery *Delivery, cfg PresenceConfig, logger *zap.Logger) *PresenceService {
	return &PresenceService{
		matchmaking: matchmaking,
		delivery:    delivery,
		cfg:         cfg,
		logger:      logger,
		pending:     make(map[presenceKey]time.Time),
		lastAttempt: make(map[presenceKey]time.Time),
	}
}

// Run sweeps on every interval until ctx is cancelled
func (p *PresenceService) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("Presence watchdog started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("prompt_after", p.cfg.PromptAfter),
		zap.Duration("response_timeout", p.cfg.ResponseTimeout))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Presence watchdog stopped")
			return nil
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error("Presence sweep failed", zap.Error(err))
			}
		}
	}
}

// RunExpiry only expires overdue sessions on every interval. It replaces Run
// when idle prompts are switched off.
func (p *PresenceService) RunExpiry(ctx context.Context) error {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = DefaultPresenceConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.matchmaking.ExpireSessions(ctx); err != nil {
				p.logger.Error("Session expiry failed", zap.Error(err))
			}
		}
	}
}

// RunOnce expires overdue sessions, evicts entries whose prompt went
// unanswered and prompts entries that have waited too long
func (p *PresenceService) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	expired, err := p.matchmaking.ExpireSessions(ctx)
	if err != nil {
		return result, err
	}
	result.Expired = expired

	store := p.matchmaking.Store()
	for _, tenantID := range store.TenantIDs() {
		for _, entry := range store.Items(tenantID) {
			key := presenceKey{tenantID: tenantID, participantID: entry.ID()}
			if entry.Identity.Synthetic || entry.Attached() {
				p.forget(key)
				continue
			}

			now := p.matchmaking.now()
			if sentAt, ok := p.pendingSince(key); ok {
				if now.Sub(sentAt) >= p.cfg.ResponseTimeout && p.evict(ctx, entry) {
					result.Evicted++
				}
				continue
			}

			waited := now.Sub(entry.EnqueuedAt)
			if waited < p.cfg.PromptAfter || !p.cooledDown(key, now) {
				continue
			}
			if p.prompt(ctx, entry, waited, now) {
				result.Prompted++
			}
		}
	}

	p.prune()
	return result, nil
}

// Respond applies a participant's answer to a presence prompt
func (p *PresenceService) Respond(ctx context.Context, tenantID, participantID int64, stay bool) (PresenceOutcome, error) {
	key := presenceKey{tenantID: tenantID, participantID: participantID}

	if !stay {
		p.forget(key)
		removed, err := p.matchmaking.Leave(ctx, tenantID, participantID)
		if err != nil {
			return "", err
		}
		if !removed {
			return PresenceNotQueued, nil
		}
		p.logger.Info("Participant declined to stay queued",
			zap.Int64("tenant_id", tenantID),
			zap.Int64("participant_id", participantID))
		return PresenceLeft, nil
	}

	if !p.matchmaking.Store().Touch(tenantID, participantID) {
		p.forget(key)
		return PresenceNotQueued, nil
	}

	p.mu.Lock()
	delete(p.pending, key)
	p.lastAttempt[key] = p.matchmaking.now()
	p.mu.Unlock()

	p.logger.Info("Participant confirmed presence",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("participant_id", participantID))
	return PresenceStayed, nil
}

// Pending reports whether a prompt is outstanding for the participant
func (p *PresenceService) Pending(tenantID, participantID int64) bool {
	_, ok := p.pendingSince(presenceKey{tenantID: tenantID, participantID: participantID})
	return ok
}

func (p *PresenceService) prompt(ctx context.Context, entry model.QueueEntry, waited time.Duration, now time.Time) bool {
	key := presenceKey{tenantID: entry.TenantID, participantID: entry.ID()}

	err := p.delivery.sendDirect(ctx, entry.ID(), presencePromptMessage(entry.TenantID, entry.ID(), waited))

	p.mu.Lock()
	p.lastAttempt[key] = now
	if err == nil {
		p.pending[key] = now
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("Presence prompt not delivered",
			zap.Int64("tenant_id", entry.TenantID),
			zap.Int64("participant_id", entry.ID()),
			zap.Error(err))
		return false
	}

	p.matchmaking.metrics.PresencePrompts.Inc()
	p.logger.Info("Presence prompt sent",
		zap.Int64("tenant_id", entry.TenantID),
		zap.Int64("participant_id", entry.ID()),
		zap.Duration("waited", waited))
	return true
}

func (p *PresenceService) evict(ctx context.Context, entry model.QueueEntry) bool {
	key := presenceKey{tenantID: entry.TenantID, participantID: entry.ID()}
	p.forget(key)

	evicted, err := p.matchmaking.EvictIdle(entry.TenantID, entry.ID())
	if err != nil {
		p.logger.Error("Failed to evict idle entry",
			zap.Int64("tenant_id", entry.TenantID),
			zap.Int64("participant_id", entry.ID()),
			zap.Error(err))
		return false
	}
	if !evicted {
		return false
	}

	p.matchmaking.metrics.PresenceEvictions.Inc()
	p.logger.Info("Idle participant evicted",
		zap.Int64("tenant_id", entry.TenantID),
		zap.Int64("participant_id", entry.ID()))

	if err := p.delivery.sendDirect(ctx, entry.ID(), evictedMessage(entry.TenantID, entry.ID())); err != nil {
		p.logger.Debug("Eviction notice not delivered",
			zap.Int64("participant_id", entry.ID()),
			zap.Error(err))
	}
	return true
}

func (p *PresenceService) pendingSince(key presenceKey) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.pending[key]
	return t, ok
}

func (p *PresenceService) cooledDown(key presenceKey, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastAttempt[key]
	return !ok || now.Sub(last) >= p.cfg.PromptAfter
}

func (p *PresenceService) forget(key presenceKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, key)
	delete(p.lastAttempt, key)
}

// prune drops markers for entries that left the queue
func (p *PresenceService) prune() {
	store := p.matchmaking.Store()
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.lastAttempt {
		if !store.Contains(key.tenantID, key.participantID) {
			delete(p.lastAttempt, key)
			delete(p.pending, key)
		}
	}
	for key := range p.pending {
		if !store.Contains(key.tenantID, key.participantID) {
			delete(p.pending, key)
		}
	}
}
