package buys

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"buybot/internal/clients_api/dexscreener"
	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"
	"buybot/internal/settings"

	"go.uber.org/zap"
)

// MarketClient looks up the current market snapshot of a token.
type MarketClient interface {
	FetchSnapshot(ctx context.Context, tokenAddress string) (*dexscreener.Snapshot, error)
}

// SettingsReader returns a consistent copy of the operator settings.
type SettingsReader interface {
	Snapshot() settings.Settings
}

type PipelineConfig struct {
	Source       *Source // nil when events only arrive by push or command
	Market       MarketClient
	Settings     SettingsReader
	Composer     *Composer
	Dispatcher   *Dispatcher
	Metrics      *metrics.Metrics
	TokenAddress string
	SeenSize     int
}

// Pipeline runs poll cycles and delivers accepted events in the background.
// A cycle returns as soon as its events are handed off, so the next poll does
// not wait for the previous cycle's sends.
type Pipeline struct {
	cfg  PipelineConfig
	seen *Seen

	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	wg             sync.WaitGroup
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:            cfg,
		seen:           NewSeen(cfg.SeenSize),
		dispatchCtx:    ctx,
		cancelDispatch: cancel,
	}
}

// RunCycle polls once and schedules delivery of the accepted events.
// Poll errors are logged and returned; the caller keeps its schedule.
func (p *Pipeline) RunCycle(ctx context.Context) (int, error) {
	if p.cfg.Source == nil {
		return 0, nil
	}
	records, err := p.cfg.Source.Poll(ctx)
	if err != nil {
		log.LogWarn("Poll failed, will retry next tick",
			zap.String("kind", string(faults.KindOf(err))),
			zap.Error(err))
		return 0, err
	}

	events := p.dedup(Filter(records, p.cfg.Settings.Snapshot()))
	if len(events) == 0 {
		return 0, nil
	}
	p.cfg.Metrics.Accepted(string(OriginChain), len(events))
	log.LogInfo("New buys detected", zap.Int("count", len(events)))

	p.deliverAsync(events)
	return len(events), nil
}

// Trigger feeds pushed or manual events through the same policy as polled ones:
// tracking must be on, the amount must reach the minimum and the signature must
// be new. Accepted events are delivered oldest first.
func (p *Pipeline) Trigger(events []BuyEvent) int {
	st := p.cfg.Settings.Snapshot()

	var accepted []BuyEvent
	for _, ev := range events {
		if !st.TrackingEnabled || ev.Amount < st.MinBuyAmount {
			continue
		}
		accepted = append(accepted, ev)
	}
	accepted = p.dedup(accepted)
	if len(accepted) == 0 {
		return 0
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Timestamp.Before(accepted[j].Timestamp)
	})

	for _, ev := range accepted {
		p.cfg.Metrics.Accepted(string(ev.Origin), 1)
	}
	p.deliverAsync(accepted)
	return len(accepted)
}

// Preview composes notifications without sending them.
func (p *Pipeline) Preview(ctx context.Context, events []BuyEvent) []Notification {
	market := p.snapshot(ctx)
	st := p.cfg.Settings.Snapshot()
	out := make([]Notification, 0, len(events))
	for _, ev := range events {
		out = append(out, p.cfg.Composer.Compose(ev, market, st))
	}
	return out
}

// Deliver composes and dispatches events in order and waits for completion.
func (p *Pipeline) Deliver(ctx context.Context, events []BuyEvent) []DeliveryReport {
	market := p.snapshot(ctx)
	reports := make([]DeliveryReport, 0, len(events))
	for _, ev := range events {
		// settings are re-read per event so a mid-batch /untrack or new chat is seen
		n := p.cfg.Composer.Compose(ev, market, p.cfg.Settings.Snapshot())
		report := p.cfg.Dispatcher.Dispatch(ctx, n)
		log.LogInfo("Buy notification dispatched",
			zap.String("signature", ev.Signature),
			zap.String("origin", string(ev.Origin)),
			zap.Float64("amount", ev.Amount),
			zap.Int("sent", report.Sent),
			zap.Int("failed", len(report.Failed)))
		reports = append(reports, report)
	}
	return reports
}

// Drain waits for in-flight deliveries. When timeout passes first, the
// remaining sends are cancelled and an error is returned.
func (p *Pipeline) Drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelDispatch()
		return nil
	case <-time.After(timeout):
		p.cancelDispatch()
		<-done
		return fmt.Errorf("deliveries still running after %s, cancelled", timeout)
	}
}

func (p *Pipeline) deliverAsync(events []BuyEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Deliver(p.dispatchCtx, events)
	}()
}

func (p *Pipeline) dedup(events []BuyEvent) []BuyEvent {
	out := events[:0:0]
	for _, ev := range events {
		if ev.Signature == "" || p.seen.MarkNew(ev.Signature) {
			out = append(out, ev)
			continue
		}
		log.LogDebug("Duplicate buy skipped", zap.String("signature", ev.Signature))
	}
	return out
}

// snapshot returns nil when the market lookup fails; the composer then renders placeholders.
func (p *Pipeline) snapshot(ctx context.Context) *dexscreener.Snapshot {
	if p.cfg.Market == nil || p.cfg.TokenAddress == "" {
		return nil
	}
	snap, err := p.cfg.Market.FetchSnapshot(ctx, p.cfg.TokenAddress)
	if err != nil {
		if errors.Is(err, faults.ErrRateLimitExceeded) {
			p.cfg.Metrics.Throttled("market")
		} else {
			p.cfg.Metrics.MarketError()
		}
		log.LogWarn("Market data unavailable, composing with placeholders",
			zap.String("token", p.cfg.TokenAddress),
			zap.String("kind", string(faults.KindOf(err))),
			zap.Error(err))
		return nil
	}
	return snap
}
