package service

import (
	"context"
	"errors"

	"github.com/devrev/softmatch/internal/metrics"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/notify"
	"github.com/devrev/softmatch/internal/util/workerpool"
	"go.uber.org/zap"
)

// notice is a message produced under lock and delivered after commit
type notice struct {
	session    *Session
	view       model.SessionView
	recipients []int64
	msg        notify.Message
	fallback   bool
}

// effects collects everything a transition wants to happen once the tenant
// lock is released
type effects struct {
	notices []notice
	records []model.CompletionRecord
	deletes []string
}

func (fx *effects) notify(s *Session, recipients []int64, msg notify.Message, fallback bool) {
	if len(recipients) == 0 {
		return
	}
	fx.notices = append(fx.notices, notice{
		session:    s,
		view:       s.view(),
		recipients: append([]int64(nil), recipients...),
		msg:        msg,
		fallback:   fallback,
	})
}

func (fx *effects) deleteMessage(ref string) {
	if ref != "" {
		fx.deletes = append(fx.deletes, ref)
	}
}

// Delivery sends notices through a Notifier. Private delivery is tried first;
// recipients reported unreachable are marked on the session and asked to
// confirm through one shared channel message.
type Delivery struct {
	notifier   notify.Notifier
	dispatcher workerpool.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewDelivery creates a delivery strategy
func NewDelivery(notifier notify.Notifier, dispatcher workerpool.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Delivery {
	return &Delivery{
		notifier:   notifier,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
}

func (d *Delivery) dispatch(fx *effects) {
	for _, n := range fx.notices {
		n := n
		d.submit("notice:"+string(n.msg.Kind), func(ctx context.Context) error {
			d.deliver(ctx, n)
			return nil
		})
	}
	for _, ref := range fx.deletes {
		ref := ref
		d.submit("delete_message", func(ctx context.Context) error {
			return d.notifier.DeleteMessage(ctx, ref)
		})
	}
}

func (d *Delivery) submit(name string, fn func(context.Context) error) {
	if err := d.dispatcher.Submit(workerpool.Job{Name: name, Fn: fn}); err != nil {
		d.metrics.Deliveries.WithLabelValues("dispatch", "dropped").Inc()
		d.logger.Warn("Dropping notification", zap.String("job", name), zap.Error(err))
	}
}

func (d *Delivery) deliver(ctx context.Context, n notice) {
	var unreachable []int64
	for _, id := range n.recipients {
		err := d.notifier.SendDirect(ctx, id, n.msg)
		switch {
		case err == nil:
			d.metrics.Deliveries.WithLabelValues("direct", "ok").Inc()
		case errors.Is(err, notify.ErrUnreachable):
			d.metrics.Deliveries.WithLabelValues("direct", "unreachable").Inc()
			unreachable = append(unreachable, id)
		default:
			d.metrics.Deliveries.WithLabelValues("direct", "error").Inc()
			d.logger.Warn("Direct message failed",
				zap.Int64("participant_id", id),
				zap.String("session_id", n.msg.SessionID),
				zap.Error(err))
		}
	}

	if !n.fallback || n.session == nil || len(unreachable) == 0 {
		return
	}

	post, ok := n.session.markFallback(unreachable)
	if !ok {
		return
	}

	ref, err := d.notifier.SendToChannel(ctx, post.channelRef, fallbackMessage(n.view, post.pending))
	if err != nil {
		n.session.postFailed(post.epoch)
		d.metrics.Deliveries.WithLabelValues("channel", "error").Inc()
		d.logger.Warn("Channel fallback failed",
			zap.String("session_id", n.session.ID()),
			zap.String("channel_ref", post.channelRef),
			zap.Error(err))
		return
	}
	d.metrics.Deliveries.WithLabelValues("channel", "ok").Inc()

	if !n.session.setMessageRef(ref, post.epoch) {
		if err := d.notifier.DeleteMessage(ctx, ref); err != nil {
			d.logger.Warn("Failed to delete stale fallback message", zap.String("message_ref", ref), zap.Error(err))
		}
	}
}

// sendDirect delivers a single message synchronously and reports the outcome
func (d *Delivery) sendDirect(ctx context.Context, participantID int64, msg notify.Message) error {
	err := d.notifier.SendDirect(ctx, participantID, msg)
	switch {
	case err == nil:
		d.metrics.Deliveries.WithLabelValues("direct", "ok").Inc()
	case errors.Is(err, notify.ErrUnreachable):
		d.metrics.Deliveries.WithLabelValues("direct", "unreachable").Inc()
	default:
		d.metrics.Deliveries.WithLabelValues("direct", "error").Inc()
	}
	return err
}
