package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// LogNotifier writes every message to the logger. It backs local runs and the
// simulator, where no chat frontend is attached.
type LogNotifier struct {
	logger *zap.Logger
	seq    atomic.Uint64

	mu          sync.RWMutex
	unreachable map[int64]struct{}
}

// NewLogNotifier creates a notifier that treats the given ids as unreachable
func NewLogNotifier(logger *zap.Logger, unreachable ...int64) *LogNotifier {
	n := &LogNotifier{logger: logger, unreachable: make(map[int64]struct{}, len(unreachable))}
	for _, id := range unreachable {
		n.unreachable[id] = struct{}{}
	}
	return n
}

// SetUnreachable toggles whether direct messages to id fail
func (n *LogNotifier) SetUnreachable(id int64, unreachable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if unreachable {
		n.unreachable[id] = struct{}{}
		return
	}
	delete(n.unreachable, id)
}

func (n *LogNotifier) SendDirect(_ context.Context, participantID int64, msg Message) error {
	n.mu.RLock()
	_, blocked := n.unreachable[participantID]
	n.mu.RUnlock()
	if blocked {
		return fmt.Errorf("%w: %d", ErrUnreachable, participantID)
	}

	n.logger.Info("Direct message",
		zap.String("kind", string(msg.Kind)),
		zap.Int64("tenant_id", msg.TenantID),
		zap.Int64("participant_id", participantID),
		zap.String("session_id", msg.SessionID),
		zap.String("text", msg.Text))
	return nil
}

func (n *LogNotifier) SendToChannel(_ context.Context, channelRef string, msg Message) (string, error) {
	ref := fmt.Sprintf("%s:%d", channelRef, n.seq.Add(1))
	n.logger.Info("Channel message",
		zap.String("kind", string(msg.Kind)),
		zap.Int64("tenant_id", msg.TenantID),
		zap.String("channel_ref", channelRef),
		zap.String("message_ref", ref),
		zap.String("session_id", msg.SessionID),
		zap.Int64s("members", msg.Members),
		zap.String("text", msg.Text))
	return ref, nil
}

func (n *LogNotifier) DeleteMessage(_ context.Context, messageRef string) error {
	n.logger.Info("Message deleted", zap.String("message_ref", messageRef))
	return nil
}
