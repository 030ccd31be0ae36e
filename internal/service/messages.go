package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/devrev/softmatch/internal/matching"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/notify"
)

func describeRange(r model.LevelRange) string {
	if r.Empty() {
		return "no common level"
	}
	if r.Min == r.Max {
		return fmt.Sprintf("level %d", r.Min)
	}
	return fmt.Sprintf("levels %d-%d", r.Min, r.Max)
}

func describeRoles(entries []model.QueueEntry, assignment matching.Assignment) string {
	counts := matching.RoleCounts(entries, assignment)
	parts := make([]string, 0, len(model.Roles))
	for _, role := range model.Roles {
		if counts[role] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[role], role))
		}
	}
	return strings.Join(parts, ", ")
}

func matchMessage(view model.SessionView, entries []model.QueueEntry, assignment matching.Assignment, grown bool, now time.Time) notify.Message {
	kind := notify.KindMatchFound
	lead := "A group is ready"
	if grown {
		kind = notify.KindMatchGrown
		lead = "Your group grew and needs a fresh confirmation"
	}
	return notify.Message{
		Kind:      kind,
		TenantID:  view.TenantID,
		SessionID: view.ID,
		Members:   view.Members,
		Text: fmt.Sprintf("%s: %d players (%s), %s. Confirm within %s.",
			lead,
			model.PlayerTotal(entries),
			describeRoles(entries, assignment),
			describeRange(matching.CommonRange(entries)),
			view.Deadline.Sub(now).Round(time.Second)),
	}
}

func completedMessage(view model.SessionView, record model.CompletionRecord) notify.Message {
	return notify.Message{
		Kind:      notify.KindMatchCompleted,
		TenantID:  view.TenantID,
		SessionID: view.ID,
		Members:   view.Members,
		Text: fmt.Sprintf("Everyone confirmed. Your group of %d is set for %s. Good luck!",
			len(record.Participants), describeAchieved(record)),
	}
}

func cancelledMessage(view model.SessionView) notify.Message {
	var why string
	switch view.CancelReason {
	case model.CancelTimeout:
		why = "not everyone confirmed in time"
	case model.CancelTooFewMembers:
		why = "too few members remained"
	case model.CancelFinalizeFailed:
		why = "the remaining members no longer form a valid group"
	default:
		why = "it could not be completed"
	}
	return notify.Message{
		Kind:      notify.KindMatchCancelled,
		TenantID:  view.TenantID,
		SessionID: view.ID,
		Members:   view.Members,
		Text:      fmt.Sprintf("The group was called off because %s. You are still in the queue.", why),
	}
}

func rejectionMessage(view model.SessionView) notify.Message {
	return notify.Message{
		Kind:      notify.KindRejectionNotice,
		TenantID:  view.TenantID,
		SessionID: view.ID,
		Text:      "A member declined the group. You are still in the queue and will be matched again.",
	}
}

func fallbackMessage(view model.SessionView, pending []int64) notify.Message {
	return notify.Message{
		Kind:      notify.KindConfirmFallback,
		TenantID:  view.TenantID,
		SessionID: view.ID,
		Members:   pending,
		Text:      "Some members could not be reached privately. Confirm or decline the group here.",
	}
}

func presencePromptMessage(tenantID, participantID int64, waited time.Duration) notify.Message {
	return notify.Message{
		Kind:     notify.KindPresencePrompt,
		TenantID: tenantID,
		Members:  []int64{participantID},
		Text: fmt.Sprintf("You have been waiting for %s. Do you want to stay in the queue?",
			waited.Round(time.Minute)),
	}
}

func evictedMessage(tenantID, participantID int64) notify.Message {
	return notify.Message{
		Kind:     notify.KindEvicted,
		TenantID: tenantID,
		Members:  []int64{participantID},
		Text:     "You were removed from the queue because we did not hear back. Join again any time.",
	}
}

func describeAchieved(record model.CompletionRecord) string {
	if record.CommonRange.Empty() {
		return fmt.Sprintf("level %d", record.AchievedLevel)
	}
	return describeRange(record.CommonRange)
}
