package commands

// Command to run the bot: chain polling, Telegram operator commands and the HTTP endpoints
// Updates come by long polling unless telegram.webhook_url is set
// Implements graceful shutdown: stop polling, stop HTTP, finish updates, drain deliveries, flush settings

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"buybot/bots_monitor"
	"buybot/internal/clients_api/telegram"
	"buybot/internal/features/buys"
	"buybot/internal/features/operator"
	"buybot/internal/infra/config"
	"buybot/internal/infra/faults"
	"buybot/internal/infra/httpserver"
	logging "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"
	"buybot/internal/infra/ratelimit"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the buy bot (chain polling + Telegram)",
	Long:  `Run the complete bot: poll the chain for buys, notify subscribed chats and serve operator commands.`,
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		logging.LogError("TELEGRAM_BOT_TOKEN is not set")
		return fmt.Errorf("%w: telegram.bot_token is required", faults.ErrStartup)
	}
	if cfg.Telegram.WebhookURL != "" && cfg.App.HTTPAddr == "" {
		return fmt.Errorf("%w: webhook mode needs app.http_addr", faults.ErrStartup)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	store, persister, err := openStore(ctx, cfg, m)
	if err != nil {
		logging.LogError("Failed to load settings", zap.Error(err))
		return err
	}
	defer persister.Close()

	chainClient, watchAddress, err := newChainClient(ctx, cfg.Chain)
	if err != nil {
		logging.LogError("Failed to create chain client", zap.Error(err))
		return err
	}

	bot, err := telegram.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.RequestTimeout)
	if err != nil {
		logging.LogError("Failed to create Telegram bot", zap.Error(err))
		return fmt.Errorf("%w: %v", faults.ErrStartup, err)
	}
	logging.LogSuccess("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	sender := telegram.NewSender(bot)
	platformLimiter := ratelimit.New("platform", cfg.RateLimit.PlatformPerInterval, cfg.RateLimit.Interval, cfg.RateLimit.Blocking)

	pipeline := buys.NewPipeline(buys.PipelineConfig{
		Source:       buys.NewSource(chainClient, watchAddress, cfg.Chain.FetchLimit, m),
		Market:       newMarketClient(cfg),
		Settings:     store,
		Composer:     newComposer(cfg),
		Dispatcher:   buys.NewDispatcher(bots_monitor.NewNotifier(sender), platformLimiter, store, m),
		Metrics:      m,
		TokenAddress: cfg.Chain.TokenAddress,
	})

	handler := operator.NewHandler(store, pipeline, m, operator.Options{
		AdminIDs:            cfg.Telegram.AdminChatIDs,
		ConversationTimeout: cfg.App.ConversationTimeout,
	})
	router := bots_monitor.NewUpdateRouter(handler, sender, platformLimiter, bot.Self.UserName)

	var server *httpserver.Server
	if cfg.App.HTTPAddr != "" {
		opts := httpserver.Options{
			Addr:          cfg.App.HTTPAddr,
			Metrics:       m.Handler(),
			Buys:          pipeline,
			WebhookSecret: cfg.App.WebhookSecret,
		}
		if cfg.Telegram.WebhookURL != "" {
			opts.Updates = router
		}
		server = httpserver.New(opts)
		if err := server.Start(); err != nil {
			logging.LogError("Failed to start HTTP server", zap.Error(err))
			return fmt.Errorf("%w: %v", faults.ErrStartup, err)
		}
	}

	var wg sync.WaitGroup
	if err := startUpdates(ctx, &wg, cfg, bot, router); err != nil {
		return err
	}

	monitor, err := bots_monitor.StartBuyMonitor(ctx, pipeline, cfg.Chain.PollInterval, cfg.Chain.RequestTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrStartup, err)
	}

	logging.LogSuccess("Bots are running",
		zap.String("status", "active"),
		zap.String("chain", cfg.Chain.Kind),
		zap.String("token", cfg.Chain.TokenAddress))

	<-ctx.Done()
	logging.LogInfo("Shutdown signal received, gracefully stopping...")

	var httpStop serverStopper
	if server != nil {
		httpStop = server
	}
	shutdown(monitor, httpStop, &wg, pipeline, cfg.App.DrainTimeout)

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := store.Flush(flushCtx); err != nil {
		logging.LogError("Failed to flush settings", zap.Error(err))
	}
	return nil
}

func startUpdates(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, bot *tgbotapi.BotAPI, router *bots_monitor.UpdateRouter) error {
	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			return fmt.Errorf("%w: invalid webhook url: %v", faults.ErrStartup, err)
		}
		if _, err := bot.Request(wh); err != nil {
			logging.LogError("Failed to register webhook", zap.Error(err))
			return fmt.Errorf("%w: register webhook: %v", faults.ErrStartup, err)
		}
		logging.LogInfo("Receiving updates by webhook", zap.String("url", cfg.Telegram.WebhookURL))
		return nil
	}

	// a leftover webhook makes getUpdates fail
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logging.LogWarn("Failed to delete webhook", zap.Error(err))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		router.RunCommandHandler(ctx, bot)
	}()
	return nil
}

type (
	scheduleStopper interface{ Stop(ctx context.Context) }
	serverStopper   interface{ Shutdown(ctx context.Context) error }
	deliveryDrainer interface{ Drain(timeout time.Duration) error }
)

// shutdown stops the inputs first (schedule, HTTP, in-flight updates) and only
// then drains deliveries, so an update that triggers a buy is still delivered.
// server may be nil.
func shutdown(monitor scheduleStopper, server serverStopper, updates *sync.WaitGroup, pipeline deliveryDrainer, drainTimeout time.Duration) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	monitor.Stop(stopCtx)
	if server != nil {
		if err := server.Shutdown(stopCtx); err != nil {
			logging.LogWarn("HTTP server shutdown", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		updates.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.LogSuccess("All monitors stopped gracefully")
	case <-stopCtx.Done():
		logging.LogWarn("Timeout waiting for monitors to stop, forcing shutdown")
	}

	if err := pipeline.Drain(drainTimeout); err != nil {
		logging.LogWarn("Timeout waiting for deliveries, forcing shutdown", zap.Error(err))
	}
}
