package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/softmatch/internal/notify"
	"github.com/devrev/softmatch/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func count(kinds []notify.Kind, kind notify.Kind) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestPresence_EvictsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, 1, solo("alice", 5, 10, dps))

	h.clock.Advance(29 * time.Minute)
	res, err := h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Prompted)

	h.clock.Advance(time.Minute)
	res, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Prompted)
	assert.True(t, h.presence.Pending(tenant, 1))

	res, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Prompted)
	assert.Zero(t, res.Evicted)

	h.clock.Advance(10 * time.Minute)
	res, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.False(t, h.svc.Store().Contains(tenant, 1))

	res, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted)

	kinds := h.notifier.direct(1)
	assert.Equal(t, 1, count(kinds, notify.KindPresencePrompt))
	assert.Equal(t, 1, count(kinds, notify.KindEvicted))
}

func TestPresence_UnreachablePromptRetriesAfterCooldown(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.join(t, 1, solo("alice", 5, 10, dps))

	h.clock.Advance(30 * time.Minute)
	res, err := h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Prompted)
	assert.False(t, h.presence.Pending(tenant, 1))

	_, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notifier.direct(1), 1)

	h.clock.Advance(30 * time.Minute)
	_, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notifier.direct(1), 2)

	// never evicted without a delivered prompt
	h.clock.Advance(time.Hour)
	res, err = h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted)
	assert.True(t, h.svc.Store().Contains(tenant, 1))
}

func TestPresence_StayResetsWait(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, 1, solo("alice", 5, 10, dps))

	h.clock.Advance(30 * time.Minute)
	_, err := h.presence.RunOnce(ctx)
	require.NoError(t, err)

	outcome, err := h.presence.Respond(ctx, tenant, 1, true)
	require.NoError(t, err)
	assert.Equal(t, service.PresenceStayed, outcome)
	assert.False(t, h.presence.Pending(tenant, 1))

	entry, ok := h.svc.Store().Get(tenant, 1)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now(), entry.EnqueuedAt)

	h.clock.Advance(10 * time.Minute)
	res, err := h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted)
	assert.Zero(t, res.Prompted)
}

func TestPresence_DeclineLeavesQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.join(t, 1, solo("alice", 5, 10, dps))

	outcome, err := h.presence.Respond(ctx, tenant, 1, false)
	require.NoError(t, err)
	assert.Equal(t, service.PresenceLeft, outcome)
	assert.False(t, h.svc.Store().Contains(tenant, 1))

	outcome, err = h.presence.Respond(ctx, tenant, 1, false)
	require.NoError(t, err)
	assert.Equal(t, service.PresenceNotQueued, outcome)

	outcome, err = h.presence.Respond(ctx, tenant, 1, true)
	require.NoError(t, err)
	assert.Equal(t, service.PresenceNotQueued, outcome)
}

func TestPresence_IgnoresSyntheticEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bot, err := h.svc.AddSynthetic(ctx, tenant, solo("bot", 5, 10, dps))
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	res, err := h.presence.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Prompted)
	assert.True(t, h.svc.Store().Contains(tenant, bot.Entry.ID()))
}

func TestPresence_SweepExpiresSessions(t *testing.T) {
	h := newHarness(t)
	h.pair(t)

	h.clock.Advance(5 * time.Minute)
	res, err := h.presence.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Zero(t, res.Prompted)
}

func TestPresence_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	p := service.NewPresenceService(h.svc, h.delivery, service.PresenceConfig{
		Interval:        5 * time.Millisecond,
		PromptAfter:     time.Minute,
		ResponseTimeout: time.Minute,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Run(ctx))
}

func TestPresence_RunExpiryStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	p := service.NewPresenceService(h.svc, h.delivery, service.PresenceConfig{Interval: 5 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.RunExpiry(ctx))
}
