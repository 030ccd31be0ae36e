package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedule_WeekNumber(t *testing.T) {
	s := stats.DefaultSchedule()

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"tuesday before reset", time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC), 202409},
		{"tuesday at reset", time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), 202410},
		{"tuesday after reset", time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC), 202410},
		{"sunday", time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), 202410},
		{"monday night local is still the old week", time.Date(2024, 3, 12, 2, 0, 0, 0, time.UTC), 202410},
		{"year boundary", time.Date(2024, 12, 31, 16, 0, 0, 0, time.UTC), 202501},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.WeekNumber(tt.at))
		})
	}
}

func TestParseWeekday(t *testing.T) {
	d, err := stats.ParseWeekday(" Tuesday ")
	require.NoError(t, err)
	assert.Equal(t, time.Tuesday, d)

	_, err = stats.ParseWeekday("someday")
	assert.Error(t, err)
}

func sampleRecord(sessionID string, at time.Time) model.CompletionRecord {
	return model.CompletionRecord{
		SessionID:     sessionID,
		TenantID:      7,
		AchievedLevel: 8,
		CommonRange:   model.LevelRange{Min: 8, Max: 10},
		CompletedAt:   at,
		Participants: []model.Participant{
			{ID: 1, DisplayName: "alice", Role: model.RoleTank},
			{ID: 2, DisplayName: "bob", Role: model.RoleHealer},
			{ID: 3, DisplayName: "crew", Composition: model.Composition{model.RoleDPS: 3}},
		},
	}
}

func TestRows_ExpandsCompositions(t *testing.T) {
	rows := stats.Rows(sampleRecord("s", time.Now()))
	require.Len(t, rows, 5)
	assert.Equal(t, model.RoleTank, rows[0].Role)
	assert.Equal(t, model.RoleHealer, rows[1].Role)
	for _, r := range rows[2:] {
		assert.Equal(t, int64(3), r.ParticipantID)
		assert.Equal(t, model.RoleDPS, r.Role)
	}
}

func TestSQLiteRecorder(t *testing.T) {
	rec, err := stats.OpenSQLite(":memory:", stats.DefaultSchedule(), zap.NewNop())
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	at := time.Date(2024, 3, 6, 20, 0, 0, 0, time.UTC)

	id1, err := rec.RecordCompletion(ctx, sampleRecord("s1", at))
	require.NoError(t, err)

	second := sampleRecord("s2", at)
	second.AchievedLevel = 12
	id2, err := rec.RecordCompletion(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = rec.RecordCompletion(ctx, sampleRecord("s1", at))
	assert.Error(t, err, "session ids are unique")

	summary, err := rec.WeeklySummary(ctx, 7, 202410)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completions)
	assert.Equal(t, 12, summary.HighestLevel)
	assert.Equal(t, 10, summary.Participants)
	assert.Equal(t, 6, summary.RoleBreakdown[model.RoleDPS])
	assert.Equal(t, 2, summary.RoleBreakdown[model.RoleTank])

	empty, err := rec.WeeklySummary(ctx, 8, 202410)
	require.NoError(t, err)
	assert.Zero(t, empty.Completions)
}

func TestDiscard(t *testing.T) {
	var d stats.Discard
	id1, _ := d.RecordCompletion(context.Background(), model.CompletionRecord{})
	id2, _ := d.RecordCompletion(context.Background(), model.CompletionRecord{})
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
}
