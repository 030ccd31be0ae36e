package model

import "time"

// SessionState is the confirmation state of a match session
type SessionState string

const (
	SessionAwaitingConfirmation SessionState = "awaiting_confirmation"
	SessionCompleted            SessionState = "completed"
	SessionCancelled            SessionState = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CancelReason records why a session did not complete
type CancelReason string

const (
	CancelRejected       CancelReason = "rejected"
	CancelTimeout        CancelReason = "timeout"
	CancelTooFewMembers  CancelReason = "too_few_members"
	CancelFinalizeFailed CancelReason = "finalize_failed"
	CancelCleared        CancelReason = "cleared"
	CancelInvariant      CancelReason = "invariant_violation"
)

// SessionView is a read-only copy of a session's state
type SessionView struct {
	ID           string       `json:"id"`
	TenantID     int64        `json:"tenant_id"`
	State        SessionState `json:"state"`
	Members      []int64      `json:"members"`
	Confirmed    []int64      `json:"confirmed"`
	Fallback     []int64      `json:"fallback,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Deadline     time.Time    `json:"deadline"`
	CancelReason CancelReason `json:"cancel_reason,omitempty"`
	ChannelRef   string       `json:"channel_ref,omitempty"`
}

// Pending returns the members that have not confirmed yet
func (v SessionView) Pending() []int64 {
	confirmed := make(map[int64]struct{}, len(v.Confirmed))
	for _, id := range v.Confirmed {
		confirmed[id] = struct{}{}
	}
	var pending []int64
	for _, id := range v.Members {
		if _, ok := confirmed[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// Participant is one finalized member in a completion record
type Participant struct {
	ID          int64       `json:"id"`
	DisplayName string      `json:"display_name"`
	Role        Role        `json:"role,omitempty"`
	Composition Composition `json:"composition,omitempty"`
	Synthetic   bool        `json:"synthetic,omitempty"`
}

// CompletionRecord is handed to the stats recorder when a session completes
type CompletionRecord struct {
	SessionID     string        `json:"session_id"`
	TenantID      int64         `json:"tenant_id"`
	AchievedLevel int           `json:"achieved_level"`
	CommonRange   LevelRange    `json:"common_range"`
	Participants  []Participant `json:"participants"`
	CompletedAt   time.Time     `json:"completed_at"`
}
