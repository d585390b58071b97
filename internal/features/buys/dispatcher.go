package buys

import (
	"context"
	"errors"

	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"

	"go.uber.org/zap"
)

// Sender delivers a notification to one chat.
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, n Notification) error
}

// Acquirer hands out rate limit tokens.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// ChatLister returns a consistent copy of the subscribed chats.
type ChatLister interface {
	Chats() []int64
}

type ChatFailure struct {
	ChatID int64
	Err    error
}

type DeliveryReport struct {
	Sent   int
	Failed []ChatFailure
}

type Dispatcher struct {
	sender  Sender
	limiter Acquirer
	chats   ChatLister
	metrics *metrics.Metrics
}

// NewDispatcher wires the fanout. limiter may be nil.
func NewDispatcher(sender Sender, limiter Acquirer, chats ChatLister, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{sender: sender, limiter: limiter, chats: chats, metrics: m}
}

// Dispatch sends n to every subscribed chat. A failing chat is recorded and
// skipped; nothing is retried within the call.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) DeliveryReport {
	var report DeliveryReport

	for _, chatID := range d.chats.Chats() {
		if err := d.sendOne(ctx, chatID, n); err != nil {
			report.Failed = append(report.Failed, ChatFailure{ChatID: chatID, Err: err})
			if errors.Is(err, faults.ErrRateLimitExceeded) {
				d.metrics.Throttled("platform")
				log.LogWarn("Rate limit hit, notification not sent to chat",
					zap.Int64("chatID", chatID),
					zap.String("signature", n.Signature),
					zap.Error(err))
			} else {
				log.LogError("Failed to send notification",
					zap.Int64("chatID", chatID),
					zap.String("signature", n.Signature),
					zap.String("kind", string(faults.KindOf(err))),
					zap.Error(err))
			}
			continue
		}
		report.Sent++
	}

	d.metrics.Delivered(report.Sent, len(report.Failed))
	return report
}

func (d *Dispatcher) sendOne(ctx context.Context, chatID int64, n Notification) error {
	if d.limiter != nil {
		if err := d.limiter.Acquire(ctx); err != nil {
			return err
		}
	}
	return d.sender.SendNotification(ctx, chatID, n)
}
