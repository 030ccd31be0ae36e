package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is what RedisNotifier publishes. A chat frontend subscribes to the
// channels and renders the payload.
type Envelope struct {
	Message
	Recipient  int64  `json:"recipient,omitempty"`
	ChannelRef string `json:"channel_ref,omitempty"`
	MessageRef string `json:"message_ref,omitempty"`
}

// RedisNotifier publishes messages over Redis Pub/Sub. Participants the
// frontend failed to DM are kept in a set and reported as ErrUnreachable.
type RedisNotifier struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisNotifier creates a notifier on an existing client
func NewRedisNotifier(client redis.Cmdable, prefix string, logger *zap.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "softmatch"
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger}
}

// UnreachableKey is the set of participant ids that cannot be DMed
func (n *RedisNotifier) UnreachableKey() string {
	return n.prefix + ":unreachable"
}

// DirectChannel is the Pub/Sub channel for one participant's DMs
func (n *RedisNotifier) DirectChannel(participantID int64) string {
	return n.prefix + ":dm:" + strconv.FormatInt(participantID, 10)
}

// ChannelTopic is the Pub/Sub channel for a public channel
func (n *RedisNotifier) ChannelTopic(channelRef string) string {
	return n.prefix + ":channel:" + channelRef
}

// DeleteTopic carries message deletions
func (n *RedisNotifier) DeleteTopic() string {
	return n.prefix + ":deletes"
}

func (n *RedisNotifier) sequenceKey() string {
	return n.prefix + ":message_seq"
}

// SendDirect publishes a private message
func (n *RedisNotifier) SendDirect(ctx context.Context, participantID int64, msg Message) error {
	blocked, err := n.client.SIsMember(ctx, n.UnreachableKey(), participantID).Result()
	if err != nil {
		return fmt.Errorf("failed to check reachability: %w", err)
	}
	if blocked {
		return fmt.Errorf("%w: %d", ErrUnreachable, participantID)
	}

	payload, err := json.Marshal(Envelope{Message: msg, Recipient: participantID})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := n.client.Publish(ctx, n.DirectChannel(participantID), string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to publish direct message: %w", err)
	}
	return nil
}

// SendToChannel publishes a channel message and returns its reference
func (n *RedisNotifier) SendToChannel(ctx context.Context, channelRef string, msg Message) (string, error) {
	seq, err := n.client.Incr(ctx, n.sequenceKey()).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate message ref: %w", err)
	}
	ref := channelRef + ":" + strconv.FormatInt(seq, 10)

	payload, err := json.Marshal(Envelope{Message: msg, ChannelRef: channelRef, MessageRef: ref})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := n.client.Publish(ctx, n.ChannelTopic(channelRef), string(payload)).Err(); err != nil {
		return "", fmt.Errorf("failed to publish channel message: %w", err)
	}
	return ref, nil
}

// DeleteMessage asks the frontend to remove a channel message
func (n *RedisNotifier) DeleteMessage(ctx context.Context, messageRef string) error {
	if err := n.client.Publish(ctx, n.DeleteTopic(), messageRef).Err(); err != nil {
		return fmt.Errorf("failed to publish delete: %w", err)
	}
	n.logger.Debug("Message delete published", zap.String("message_ref", messageRef))
	return nil
}

// Ping checks the Redis connection
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
