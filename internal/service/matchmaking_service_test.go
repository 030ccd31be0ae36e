package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/matching"
	"github.com/devrev/softmatch/internal/metrics"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/notify"
	"github.com/devrev/softmatch/internal/queue"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/util/workerpool"
	"github.com/devrev/softmatch/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tenant int64 = 42

var (
	tank   = model.RoleTank
	healer = model.RoleHealer
	dps    = model.RoleDPS
)

// Mock implementations

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendDirect(ctx context.Context, participantID int64, msg notify.Message) error {
	args := m.Called(ctx, participantID, msg)
	return args.Error(0)
}

func (m *mockNotifier) SendToChannel(ctx context.Context, channelRef string, msg notify.Message) (string, error) {
	args := m.Called(ctx, channelRef, msg)
	return args.String(0), args.Error(1)
}

func (m *mockNotifier) DeleteMessage(ctx context.Context, messageRef string) error {
	args := m.Called(ctx, messageRef)
	return args.Error(0)
}

// direct returns the kinds of direct messages a participant received
func (m *mockNotifier) direct(participantID int64) []notify.Kind {
	var kinds []notify.Kind
	for _, call := range m.Calls {
		if call.Method != "SendDirect" || call.Arguments.Get(1).(int64) != participantID {
			continue
		}
		kinds = append(kinds, call.Arguments.Get(2).(notify.Message).Kind)
	}
	return kinds
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordCompletion(ctx context.Context, record model.CompletionRecord) (int64, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(int64), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *service.MatchmakingService
	presence *service.PresenceService
	delivery *service.Delivery
	notifier *mockNotifier
	recorder *mockRecorder
	metrics  *metrics.Metrics
	clock    *fakeClock
}

// newHarness wires a service with synchronous delivery. Participants listed
// as unreachable fail direct delivery.
func newHarness(t *testing.T, unreachable ...int64) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	m := metrics.NewMetrics(prometheus.NewRegistry())

	n := &mockNotifier{}
	for _, id := range unreachable {
		n.On("SendDirect", mock.Anything, id, mock.Anything).Return(notify.ErrUnreachable).Maybe()
	}
	n.On("SendDirect", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	n.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil).Maybe()

	rec := &mockRecorder{}
	rec.On("RecordCompletion", mock.Anything, mock.Anything).Return(int64(1), nil).Maybe()

	store := queue.NewStore(validation.NewValidator(validation.DefaultLimits()),
		queue.WithClock(clock.Now), queue.WithLogger(logger))
	delivery := service.NewDelivery(n, workerpool.Inline{Logger: logger}, m, logger)
	svc := service.NewMatchmakingService(store, matching.NewMatcher(matching.DefaultRules()),
		delivery, rec, m, service.DefaultConfig(), logger)

	return &harness{
		svc:      svc,
		presence: service.NewPresenceService(svc, delivery, service.DefaultPresenceConfig(), logger),
		delivery: delivery,
		notifier: n,
		recorder: rec,
		metrics:  m,
		clock:    clock,
	}
}

func solo(name string, min, max int, r ...model.Role) model.Declaration {
	return model.Declaration{DisplayName: name, Roles: r, LevelMin: min, LevelMax: max}
}

func keyed(d model.Declaration) model.Declaration {
	lvl := d.LevelMax
	d.HasKeystone = true
	d.KeystoneLevel = &lvl
	return d
}

func inChannel(d model.Declaration, ref string) model.Declaration {
	d.ChannelRef = ref
	return d
}

func (h *harness) join(t *testing.T, id int64, decl model.Declaration) *service.JoinResult {
	t.Helper()
	res, err := h.svc.Join(context.Background(), tenant, id, decl)
	require.NoError(t, err)
	return res
}

// pair queues a keyed tank (1) and a healer (2), which match immediately
func (h *harness) pair(t *testing.T) model.SessionView {
	t.Helper()
	first := h.join(t, 1, keyed(solo("alice", 5, 10, tank)))
	require.Nil(t, first.Session)
	second := h.join(t, 2, solo("bob", 5, 10, healer))
	require.NotNil(t, second.Session)
	return *second.Session
}

func TestJoin_CreatesSessionAndNotifies(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)

	assert.Equal(t, model.SessionAwaitingConfirmation, view.State)
	assert.ElementsMatch(t, []int64{1, 2}, view.Members)
	assert.Empty(t, view.Confirmed)

	for _, id := range []int64{1, 2} {
		entry, ok := h.svc.Store().Get(tenant, id)
		require.True(t, ok)
		assert.Equal(t, view.ID, entry.ActiveSession)
		assert.Equal(t, []notify.Kind{notify.KindMatchFound}, h.notifier.direct(id))
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MatchAttempts.WithLabelValues("created")))
}

func TestJoin_NoMatchWithoutKeystone(t *testing.T) {
	h := newHarness(t)
	h.join(t, 1, solo("alice", 5, 10, tank))
	res := h.join(t, 2, solo("bob", 5, 10, healer))

	assert.Nil(t, res.Session)
	assert.Equal(t, 2, h.svc.Store().Count(tenant))
}

func TestJoin_RejectsInvalidDeclaration(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Join(context.Background(), tenant, 1, solo("alice", 10, 5, tank))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidRange, apperrors.GetCode(err))

	_, err = h.svc.Join(context.Background(), 0, 1, solo("alice", 5, 10, tank))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidTenantID, apperrors.GetCode(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RejectedInputs.WithLabelValues("INVALID_RANGE")))
	assert.True(t, h.svc.Store().IsEmpty(tenant))
}

func TestJoin_RedeclarationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	first := h.join(t, 1, solo("alice", 5, 10, tank))
	h.clock.Advance(time.Minute)
	second := h.join(t, 1, solo("alice", 5, 10, tank))

	assert.False(t, first.Replaced)
	assert.True(t, second.Replaced)
	assert.Equal(t, first.Entry.EnqueuedAt, second.Entry.EnqueuedAt)
	assert.Equal(t, 1, h.svc.Store().Count(tenant))
}

func TestJoin_RedeclarationWhileAttachedLeavesSession(t *testing.T) {
	h := newHarness(t)
	old := h.pair(t)

	res := h.join(t, 2, solo("bob", 6, 9, healer))
	require.NotNil(t, res.Session)
	assert.NotEqual(t, old.ID, res.Session.ID)

	prev, err := h.svc.Session(old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, prev.State)
	assert.Equal(t, model.CancelTooFewMembers, prev.CancelReason)
}

func TestConfirm_CompletesSession(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)
	ctx := context.Background()

	res, err := h.svc.Confirm(ctx, view.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, []int64{1}, res.Session.Confirmed)

	res, err = h.svc.Confirm(ctx, view.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeAlreadyConfirmed, res.Outcome)

	res, err = h.svc.Confirm(ctx, view.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCompleted, res.Outcome)
	assert.Equal(t, model.SessionCompleted, res.Session.State)
	assert.Equal(t, int64(1), res.RecordID)
	assert.True(t, h.svc.Store().IsEmpty(tenant))

	h.recorder.AssertNumberOfCalls(t, "RecordCompletion", 1)
	record := h.recorder.Calls[0].Arguments.Get(1).(model.CompletionRecord)
	assert.Equal(t, 5, record.AchievedLevel)
	assert.Equal(t, model.LevelRange{Min: 5, Max: 10}, record.CommonRange)
	require.Len(t, record.Participants, 2)

	assert.Contains(t, h.notifier.direct(1), notify.KindMatchCompleted)

	res, err = h.svc.Confirm(ctx, view.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeSessionClosed, res.Outcome)
}

func TestConfirm_UnknownSessionAndNonMember(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)

	_, err := h.svc.Confirm(context.Background(), "missing", 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))

	res, err := h.svc.Confirm(context.Background(), view.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeNotMember, res.Outcome)
}

func TestConfirm_ConcurrentConfirmationsFinalizeOnce(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	for id := int64(3); id <= 5; id++ {
		res := h.join(t, id, solo("dps", 5, 10, dps))
		require.NotNil(t, res.Session)
		require.True(t, res.Grew)
	}

	snap, err := h.svc.Snapshot(tenant)
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)
	view := snap.Sessions[0]
	require.Len(t, view.Members, 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for _, id := range view.Members {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			res, err := h.svc.Confirm(context.Background(), view.ID, id)
			if err != nil {
				return
			}
			if res.Outcome == service.OutcomeCompleted {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	h.recorder.AssertNumberOfCalls(t, "RecordCompletion", 1)
	assert.True(t, h.svc.Store().IsEmpty(tenant))
}

func TestReject_CancelsAndNotifiesConfirmedMembers(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	res := h.join(t, 3, solo("carol", 5, 10, dps))
	require.True(t, res.Grew)
	sid := res.Session.ID

	_, err := h.svc.Confirm(context.Background(), sid, 1)
	require.NoError(t, err)

	out, err := h.svc.Reject(context.Background(), sid, 3)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeRejected, out.Outcome)
	assert.Equal(t, model.SessionCancelled, out.Session.State)
	assert.Equal(t, model.CancelRejected, out.Session.CancelReason)

	store := h.svc.Store()
	assert.False(t, store.Contains(tenant, 3))
	for _, id := range []int64{1, 2} {
		entry, ok := store.Get(tenant, id)
		require.True(t, ok)
		assert.False(t, entry.Attached())
	}

	assert.Contains(t, h.notifier.direct(1), notify.KindRejectionNotice)
	assert.NotContains(t, h.notifier.direct(2), notify.KindRejectionNotice)
	assert.NotContains(t, h.notifier.direct(1), notify.KindMatchCancelled)
}

func TestExpireSessions_TimeoutDetachesMembers(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)

	h.clock.Advance(4 * time.Minute)
	expired, err := h.svc.ExpireSessions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	h.clock.Advance(time.Minute)
	expired, err = h.svc.ExpireSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	for _, id := range []int64{1, 2} {
		entry, ok := h.svc.Store().Get(tenant, id)
		require.True(t, ok)
		assert.False(t, entry.Attached())
		assert.Contains(t, h.notifier.direct(id), notify.KindMatchCancelled)
	}

	res, err := h.svc.Confirm(context.Background(), view.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeExpired, res.Outcome)
}

func TestSynthetic_AutoConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bot, err := h.svc.AddSynthetic(ctx, tenant, keyed(solo("bot", 5, 10, tank)))
	require.NoError(t, err)
	assert.Equal(t, service.DefaultConfig().SyntheticIDFloor, bot.Entry.ID())
	assert.True(t, bot.Entry.Identity.Synthetic)

	res := h.join(t, 2, solo("bob", 5, 10, healer))
	require.NotNil(t, res.Session)
	assert.Equal(t, []int64{bot.Entry.ID()}, res.Session.Confirmed)
	assert.Empty(t, h.notifier.direct(bot.Entry.ID()))

	out, err := h.svc.Confirm(ctx, res.Session.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCompleted, out.Outcome)
}

func TestSynthetic_AllSyntheticCompletesImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AddSynthetic(ctx, tenant, keyed(solo("bot-1", 5, 10, tank)))
	require.NoError(t, err)
	res, err := h.svc.AddSynthetic(ctx, tenant, solo("bot-2", 5, 10, dps))
	require.NoError(t, err)

	require.NotNil(t, res.Session)
	assert.Equal(t, model.SessionCompleted, res.Session.State)
	assert.Equal(t, int64(1), res.RecordID)
	h.notifier.AssertNotCalled(t, "SendDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestCleanupSynthetic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AddSynthetic(ctx, tenant, solo("bot-1", 5, 10, tank))
	require.NoError(t, err)
	_, err = h.svc.AddSynthetic(ctx, tenant, solo("bot-2", 12, 15, dps))
	require.NoError(t, err)
	h.join(t, 1, solo("alice", 16, 18, healer))

	removed, err := h.svc.CleanupSynthetic(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, h.svc.Store().Count(tenant))
}

func TestDelivery_FallsBackToChannel(t *testing.T) {
	h := newHarness(t, 2)
	h.notifier.On("SendToChannel", mock.Anything, "chan-1", mock.Anything).Return("chan-1:1", nil).Once()
	h.notifier.On("SendToChannel", mock.Anything, "chan-1", mock.Anything).Return("chan-1:2", nil).Once()

	h.join(t, 1, inChannel(keyed(solo("alice", 5, 10, tank)), "chan-1"))
	res := h.join(t, 2, inChannel(solo("bob", 5, 10, healer), "chan-1"))
	require.NotNil(t, res.Session)
	sid := res.Session.ID

	view, err := h.svc.Session(sid)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, view.Fallback)
	h.notifier.AssertNumberOfCalls(t, "SendToChannel", 1)

	msg := h.notifier.Calls[len(h.notifier.Calls)-1].Arguments.Get(2).(notify.Message)
	assert.Equal(t, notify.KindConfirmFallback, msg.Kind)
	assert.Equal(t, []int64{2}, msg.Members)

	// growth replaces the channel message
	grown := h.join(t, 3, inChannel(solo("carol", 5, 10, dps), "chan-1"))
	require.True(t, grown.Grew)
	h.notifier.AssertNumberOfCalls(t, "SendToChannel", 2)
	h.notifier.AssertCalled(t, "DeleteMessage", mock.Anything, "chan-1:1")

	for _, id := range []int64{1, 2, 3} {
		_, err := h.svc.Confirm(context.Background(), sid, id)
		require.NoError(t, err)
	}
	h.notifier.AssertCalled(t, "DeleteMessage", mock.Anything, "chan-1:2")
}

func TestGrowth_ResetsConfirmations(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)

	_, err := h.svc.Confirm(context.Background(), view.ID, 1)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	res := h.join(t, 3, solo("charlie", 5, 10, dps))
	require.NotNil(t, res.Session)
	assert.True(t, res.Grew)
	assert.Equal(t, view.ID, res.Session.ID)
	assert.Equal(t, []int64{1, 2, 3}, res.Session.Members)
	assert.Empty(t, res.Session.Confirmed)
	assert.True(t, res.Session.Deadline.After(view.Deadline))

	assert.Equal(t, []notify.Kind{notify.KindMatchFound, notify.KindMatchGrown}, h.notifier.direct(1))
	assert.Equal(t, []notify.Kind{notify.KindMatchGrown}, h.notifier.direct(3))
}

func TestGrowth_SixthParticipantIsRefused(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)
	for id := int64(3); id <= 5; id++ {
		require.True(t, h.join(t, id, solo("dps", 5, 10, dps)).Grew)
	}

	res := h.join(t, 6, solo("late", 5, 10, dps, tank, healer))
	assert.Nil(t, res.Session)

	current, err := h.svc.Session(view.ID)
	require.NoError(t, err)
	assert.Len(t, current.Members, 5)
}

func TestLeave_ShrinksThenCancels(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	sid := h.join(t, 3, solo("carol", 5, 10, dps)).Session.ID
	ctx := context.Background()

	removed, err := h.svc.Leave(ctx, tenant, 3)
	require.NoError(t, err)
	assert.True(t, removed)

	view, err := h.svc.Session(sid)
	require.NoError(t, err)
	assert.Equal(t, model.SessionAwaitingConfirmation, view.State)
	assert.Equal(t, []int64{1, 2}, view.Members)

	_, err = h.svc.Leave(ctx, tenant, 2)
	require.NoError(t, err)

	view, err = h.svc.Session(sid)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, view.State)
	assert.Equal(t, model.CancelTooFewMembers, view.CancelReason)

	entry, ok := h.svc.Store().Get(tenant, 1)
	require.True(t, ok)
	assert.False(t, entry.Attached())

	removed, err = h.svc.Leave(ctx, tenant, 99)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLeave_FinalizesWhenRemainingConfirmed(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	sid := h.join(t, 3, solo("carol", 5, 10, dps)).Session.ID
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := h.svc.Confirm(ctx, sid, id)
		require.NoError(t, err)
	}
	_, err := h.svc.Leave(ctx, tenant, 3)
	require.NoError(t, err)

	view, err := h.svc.Session(sid)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, view.State)
	h.recorder.AssertNumberOfCalls(t, "RecordCompletion", 1)
}

func TestConcurrentJoins_AtMostOneSessionPerParticipant(t *testing.T) {
	h := newHarness(t)
	cycle := []model.Role{tank, healer, dps, dps, dps}

	var wg sync.WaitGroup
	for id := int64(1); id <= 40; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			decl := solo("p", 4+int(id%3), 12, cycle[id%5])
			if id%4 == 0 {
				decl = keyed(decl)
			}
			_, err := h.svc.Join(context.Background(), tenant, id, decl)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	snap, err := h.svc.Snapshot(tenant)
	require.NoError(t, err)

	owner := make(map[int64]string)
	for _, s := range snap.Sessions {
		assert.LessOrEqual(t, len(s.Members), 5)
		for _, id := range s.Members {
			prev, dup := owner[id]
			assert.False(t, dup, "participant %d in %s and %s", id, prev, s.ID)
			owner[id] = s.ID
		}
	}
	for _, e := range snap.Entries {
		assert.Equal(t, owner[e.ID()], e.ActiveSession, "participant %d", e.ID())
	}
}

func TestPartition_RematchesDetachedEntries(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	h.clock.Advance(6 * time.Minute)
	_, err := h.svc.ExpireSessions(context.Background())
	require.NoError(t, err)

	views, err := h.svc.Partition(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.ElementsMatch(t, []int64{1, 2}, views[0].Members)

	views, err = h.svc.Partition(context.Background(), tenant)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestForceMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ForceMatch(ctx, tenant, 1)
	assert.Equal(t, apperrors.ErrCodeEntryNotFound, apperrors.GetCode(err))

	view := h.pair(t)
	got, err := h.svc.ForceMatch(ctx, tenant, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, view.ID, got.ID)

	h.join(t, 7, solo("solo", 15, 18, dps))
	got, err = h.svc.ForceMatch(ctx, tenant, 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClear_CancelsSessionsQuietly(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)
	h.join(t, 3, solo("carol", 15, 18, dps))
	_, err := h.svc.Join(context.Background(), 7, 1, solo("other", 5, 10, tank))
	require.NoError(t, err)

	removed, err := h.svc.Clear(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.True(t, h.svc.Store().IsEmpty(tenant))
	assert.Equal(t, 1, h.svc.Store().Count(7))

	current, err := h.svc.Session(view.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CancelCleared, current.CancelReason)
	assert.NotContains(t, h.notifier.direct(1), notify.KindMatchCancelled)

	total, err := h.svc.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSnapshot_ReportsDemandAndLinkage(t *testing.T) {
	h := newHarness(t)
	view := h.pair(t)
	h.join(t, 3, solo("carol", 15, 18, dps, healer))
	_, err := h.svc.Join(context.Background(), tenant, 4, model.Declaration{
		DisplayName: "crew",
		Composition: model.Composition{tank: 1, dps: 2},
		LevelMin:    15,
		LevelMax:    18,
	})
	require.NoError(t, err)

	snap, err := h.svc.Snapshot(tenant)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.EntryCount)
	assert.Equal(t, 6, snap.PlayerCount)
	assert.Equal(t, 2, snap.Unattached)
	assert.Equal(t, 1, snap.GroupEntries)
	assert.Equal(t, map[model.Role]int{tank: 1, healer: 1, dps: 3}, snap.RoleDemand)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, view.ID, snap.Sessions[0].ID)

	all, err := h.svc.Snapshots()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestApply_RecorderFailureDoesNotBlockCompletion(t *testing.T) {
	h := newHarness(t)
	h.recorder.ExpectedCalls = nil
	h.recorder.On("RecordCompletion", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))

	view := h.pair(t)
	_, err := h.svc.Confirm(context.Background(), view.ID, 1)
	require.NoError(t, err)
	res, err := h.svc.Confirm(context.Background(), view.ID, 2)
	require.NoError(t, err)

	assert.Equal(t, service.OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.RecordID)
	assert.True(t, h.svc.Store().IsEmpty(tenant))
}

func TestFinalize_KeystoneHolderLeaves(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	sid := h.join(t, 3, solo("carol", 5, 10, dps)).Session.ID
	ctx := context.Background()

	for _, id := range []int64{2, 3} {
		res, err := h.svc.Confirm(ctx, sid, id)
		require.NoError(t, err)
		require.Equal(t, service.OutcomeConfirmed, res.Outcome)
	}

	removed, err := h.svc.Leave(ctx, tenant, 1)
	require.NoError(t, err)
	require.True(t, removed)

	view, err := h.svc.Session(sid)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, view.State)
	assert.Equal(t, model.CancelFinalizeFailed, view.CancelReason)
	assert.Equal(t, []int64{2, 3}, view.Members)

	for _, id := range []int64{2, 3} {
		entry, ok := h.svc.Store().Get(tenant, id)
		require.True(t, ok)
		assert.False(t, entry.Attached())
		assert.Contains(t, h.notifier.direct(id), notify.KindMatchCancelled)
	}
	h.recorder.AssertNotCalled(t, "RecordCompletion", mock.Anything, mock.Anything)
}

func TestFinalize_EmptyCommonRangeCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Nil(t, h.join(t, 1, solo("hana", 2, 4, healer)).Session)
	require.Nil(t, h.join(t, 2, solo("dan", 8, 10, dps)).Session)
	res := h.join(t, 3, keyed(solo("tom", 2, 10, tank)))
	require.NotNil(t, res.Session)
	assert.ElementsMatch(t, []int64{1, 2, 3}, res.Session.Members)
	sid := res.Session.ID

	for _, id := range []int64{3, 1} {
		out, err := h.svc.Confirm(ctx, sid, id)
		require.NoError(t, err)
		require.Equal(t, service.OutcomeConfirmed, out.Outcome)
	}
	out, err := h.svc.Confirm(ctx, sid, 2)
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeCompleted, out.Outcome)
	assert.Equal(t, model.SessionCompleted, out.Session.State)
	assert.True(t, h.svc.Store().IsEmpty(tenant))

	h.recorder.AssertNumberOfCalls(t, "RecordCompletion", 1)
	record := h.recorder.Calls[0].Arguments.Get(1).(model.CompletionRecord)
	assert.Equal(t, 8, record.AchievedLevel)
	assert.Equal(t, model.LevelRange{Min: 8, Max: 4}, record.CommonRange)
	assert.Len(t, record.Participants, 3)
}

func TestDelivery_LateFallbackAfterGrowthIsDeleted(t *testing.T) {
	h := newHarness(t, 1, 2, 3)
	h.notifier.On("SendToChannel", mock.Anything, "chan-1", mock.Anything).Return("chan-1:1", nil).Once().
		Run(func(mock.Arguments) {
			// the group grows while the first channel post is still in flight
			grown := h.join(t, 3, inChannel(solo("carol", 5, 10, dps), "chan-1"))
			require.True(t, grown.Grew)
		})
	h.notifier.On("SendToChannel", mock.Anything, "chan-1", mock.Anything).Return("chan-1:2", nil).Once()

	h.join(t, 1, inChannel(keyed(solo("alice", 5, 10, tank)), "chan-1"))
	res := h.join(t, 2, inChannel(solo("bob", 5, 10, healer), "chan-1"))
	require.NotNil(t, res.Session)
	sid := res.Session.ID

	h.notifier.AssertNumberOfCalls(t, "SendToChannel", 2)
	h.notifier.AssertCalled(t, "DeleteMessage", mock.Anything, "chan-1:1")
	h.notifier.AssertNotCalled(t, "DeleteMessage", mock.Anything, "chan-1:2")

	view, err := h.svc.Session(sid)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, view.Fallback)

	_, err = h.svc.Reject(context.Background(), sid, 1)
	require.NoError(t, err)
	h.notifier.AssertCalled(t, "DeleteMessage", mock.Anything, "chan-1:2")
}

func TestJoin_StaleLinkageFallsBackToNewGroup(t *testing.T) {
	h := newHarness(t)
	store := h.svc.Store()

	_, err := store.Add(tenant, 1, keyed(solo("alice", 5, 10, tank)))
	require.NoError(t, err)
	_, err = store.Add(tenant, 2, solo("bob", 5, 10, healer))
	require.NoError(t, err)
	require.True(t, store.SetActiveSession(tenant, 1, "gone"))
	require.True(t, store.SetActiveSession(tenant, 2, "gone"))

	res := h.join(t, 3, solo("carol", 5, 10, dps))
	require.NotNil(t, res.Session)
	assert.False(t, res.Grew)
	assert.NotEqual(t, "gone", res.Session.ID)
	assert.ElementsMatch(t, []int64{1, 2, 3}, res.Session.Members)

	for _, id := range []int64{1, 2, 3} {
		sid, ok := store.GetActiveSession(tenant, id)
		require.True(t, ok)
		assert.Equal(t, res.Session.ID, sid)
	}
}

func TestAddScripted_ReplacingAttachedEntryLeavesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	floor := service.DefaultConfig().SyntheticIDFloor

	h.join(t, 1, keyed(solo("alice", 5, 10, tank)))
	res := h.join(t, floor, solo("bob", 5, 10, healer))
	require.NotNil(t, res.Session)

	scripted, err := h.svc.AddScripted(ctx, tenant, solo("bot", 5, 10, dps), false)
	require.NoError(t, err)
	assert.Equal(t, floor, scripted.Entry.ID())
	assert.True(t, scripted.Replaced)
	assert.False(t, scripted.Entry.Attached())

	prev, err := h.svc.Session(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, prev.State)
	assert.Equal(t, model.CancelTooFewMembers, prev.CancelReason)

	alice, ok := h.svc.Store().Get(tenant, 1)
	require.True(t, ok)
	assert.False(t, alice.Attached())
}
