// Package notify delivers participant-facing messages produced by the engine.
package notify

import (
	"context"
	"errors"
)

// ErrUnreachable is returned by SendDirect when the participant cannot be
// messaged privately. Callers fall back to a channel message.
var ErrUnreachable = errors.New("participant cannot be reached directly")

// Kind classifies a message for the frontend that renders it
type Kind string

const (
	KindMatchFound      Kind = "match_found"
	KindMatchGrown      Kind = "match_grown"
	KindMatchCompleted  Kind = "match_completed"
	KindMatchCancelled  Kind = "match_cancelled"
	KindRejectionNotice Kind = "rejection_notice"
	KindConfirmFallback Kind = "confirm_fallback"
	KindPresencePrompt  Kind = "presence_prompt"
	KindEvicted         Kind = "evicted"
)

// Message is the payload handed to a Notifier
type Message struct {
	Kind      Kind    `json:"kind"`
	TenantID  int64   `json:"tenant_id"`
	SessionID string  `json:"session_id,omitempty"`
	Members   []int64 `json:"members,omitempty"`
	Text      string  `json:"text"`
}

// Notifier is the outbound messaging contract
type Notifier interface {
	SendDirect(ctx context.Context, participantID int64, msg Message) error
	SendToChannel(ctx context.Context, channelRef string, msg Message) (string, error)
	DeleteMessage(ctx context.Context, messageRef string) error
}
