// Package stats persists completion records for finalized groups.
package stats

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/devrev/softmatch/internal/model"
)

// Recorder accepts completion records. The engine never reads them back.
type Recorder interface {
	RecordCompletion(ctx context.Context, record model.CompletionRecord) (int64, error)
}

// Summary is a per-tenant weekly aggregate used by the admin surface
type Summary struct {
	TenantID      int64              `json:"tenant_id"`
	Week          int                `json:"week"`
	Completions   int                `json:"completions"`
	HighestLevel  int                `json:"highest_level"`
	Participants  int                `json:"participants"`
	RoleBreakdown map[model.Role]int `json:"role_breakdown"`
}

// Summarizer is implemented by recorders that can aggregate what they stored
type Summarizer interface {
	WeeklySummary(ctx context.Context, tenantID int64, week int) (Summary, error)
}

// Schedule is the weekly reset point completions are bucketed by
type Schedule struct {
	Weekday time.Weekday
	Hour    int
	Zone    *time.Location
}

// DefaultSchedule resets on Tuesday at 12:00 UTC-3
func DefaultSchedule() Schedule {
	return Schedule{
		Weekday: time.Tuesday,
		Hour:    12,
		Zone:    time.FixedZone("UTC-3", -3*60*60),
	}
}

// ParseWeekday accepts english weekday names, case-insensitive
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// LastReset returns the most recent reset at or before t
func (s Schedule) LastReset(t time.Time) time.Time {
	zone := s.Zone
	if zone == nil {
		zone = time.UTC
	}
	local := t.In(zone)

	daysSince := (int(local.Weekday()) - int(s.Weekday) + 7) % 7
	if daysSince == 0 && local.Hour() < s.Hour {
		daysSince = 7
	}
	return time.Date(local.Year(), local.Month(), local.Day()-daysSince, s.Hour, 0, 0, 0, zone)
}

// WeekNumber identifies the reset week containing t as ISO year*100 + ISO week
// of the last reset
func (s Schedule) WeekNumber(t time.Time) int {
	year, week := s.LastReset(t).ISOWeek()
	return year*100 + week
}

// ParticipantRow is one player slot of a completion. Group leaders produce one
// row per composed player.
type ParticipantRow struct {
	ParticipantID int64
	DisplayName   string
	Role          model.Role
	Synthetic     bool
}

// Rows expands a completion record into player slots
func Rows(record model.CompletionRecord) []ParticipantRow {
	var rows []ParticipantRow
	for _, p := range record.Participants {
		if p.Composition == nil {
			rows = append(rows, ParticipantRow{
				ParticipantID: p.ID,
				DisplayName:   p.DisplayName,
				Role:          p.Role,
				Synthetic:     p.Synthetic,
			})
			continue
		}
		for _, role := range model.Roles {
			for i := 0; i < p.Composition[role]; i++ {
				rows = append(rows, ParticipantRow{
					ParticipantID: p.ID,
					DisplayName:   p.DisplayName,
					Role:          role,
					Synthetic:     p.Synthetic,
				})
			}
		}
	}
	return rows
}

// Discard drops records. Used when no stats backend is configured.
type Discard struct {
	seq atomic.Int64
}

func (d *Discard) RecordCompletion(context.Context, model.CompletionRecord) (int64, error) {
	return d.seq.Add(1), nil
}
