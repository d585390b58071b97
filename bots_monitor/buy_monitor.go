package bots_monitor

import (
	"context"
	"fmt"
	"time"

	log "buybot/internal/infra/log"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CycleRunner runs one poll cycle; implemented by buys.Pipeline.
type CycleRunner interface {
	RunCycle(ctx context.Context) (int, error)
}

// BuyMonitor polls the chain on a fixed interval. A cycle still running when
// the next tick fires makes that tick a no-op.
type BuyMonitor struct {
	cron         *cron.Cron
	runner       CycleRunner
	cycleTimeout time.Duration
}

// StartBuyMonitor runs one cycle right away (to set the polling baseline) and
// then one every interval. Each cycle is bounded by cycleTimeout.
func StartBuyMonitor(ctx context.Context, runner CycleRunner, interval, cycleTimeout time.Duration) (*BuyMonitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	if cycleTimeout <= 0 {
		cycleTimeout = interval
	}

	logger := cronLogger{}
	m := &BuyMonitor{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:       runner,
		cycleTimeout: cycleTimeout,
	}

	if _, err := m.cron.AddFunc("@every "+interval.String(), func() { m.cycle(ctx) }); err != nil {
		return nil, fmt.Errorf("failed to schedule buy monitor: %w", err)
	}

	m.cycle(ctx)
	m.cron.Start()
	log.LogSuccess("Buy monitor started", zap.Duration("interval", interval))
	return m, nil
}

func (m *BuyMonitor) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cycleCtx, cancel := context.WithTimeout(ctx, m.cycleTimeout)
	defer cancel()

	start := time.Now()
	n, err := m.runner.RunCycle(cycleCtx)
	if err != nil {
		// RunCycle already logged it; the next tick retries
		return
	}
	if n > 0 {
		log.LogDebug("Buy monitor cycle finished",
			zap.Int("events", n),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}

// Stop prevents new cycles and waits for the running one, bounded by ctx.
func (m *BuyMonitor) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		log.LogInfo("Buy monitor stopped")
	case <-ctx.Done():
		log.LogWarn("Buy monitor cycle still running at shutdown")
	}
}

// cronLogger sends cron's own messages to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.LogDebug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.LogError("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
