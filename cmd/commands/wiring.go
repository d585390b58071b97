package commands

// Shared construction of the components the commands run.

import (
	"context"
	"fmt"

	"buybot/internal/clients_api/chain"
	"buybot/internal/clients_api/dexscreener"
	"buybot/internal/clients_api/evm"
	"buybot/internal/clients_api/solanarpc"
	"buybot/internal/features/buys"
	"buybot/internal/infra/config"
	"buybot/internal/infra/faults"
	storage "buybot/internal/infra/fs"
	"buybot/internal/infra/kv"
	logging "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"
	"buybot/internal/infra/ratelimit"
	"buybot/internal/settings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.Flags(), configDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrStartup, err)
	}
	if err := logging.Init(logging.Options{Dir: cfg.App.LogDir, Level: cfg.App.LogLevel}); err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrStartup, err)
	}
	return cfg, nil
}

func openPersister(ctx context.Context, cfg config.SettingsConfig) (settings.Persister, error) {
	switch cfg.Backend {
	case "redis":
		r := kv.NewRedisSettings(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKey)
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil
	case "sqlite":
		s, err := kv.OpenSQLiteSettings(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bunt":
		b, err := kv.OpenBuntSettings(cfg.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return storage.NewSettingsFile(cfg.Path), nil
	}
}

// openStore opens the configured backend and loads the settings from it.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*settings.Store, settings.Persister, error) {
	p, err := openPersister(ctx, cfg.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s settings backend: %v", faults.ErrStartup, cfg.Settings.Backend, err)
	}
	store := settings.NewStore(p, m)
	if err := store.Load(ctx, cfg.Settings.FallbackOnCorrupt); err != nil {
		p.Close()
		return nil, nil, err
	}
	logging.LogDebug("Settings backend ready", zap.String("backend", cfg.Settings.Backend))
	return store, p, nil
}

// newChainClient returns the chain client and the address whose history it polls.
func newChainClient(ctx context.Context, cfg config.ChainConfig) (chain.Client, string, error) {
	switch cfg.Kind {
	case "evm":
		c, err := evm.Dial(ctx, evm.Options{
			RPCURL:         cfg.RPCURL,
			TokenIsToken0:  cfg.TokenIsToken0,
			TokenDecimals:  cfg.TokenDecimals,
			QuoteDecimals:  cfg.QuoteDecimals,
			LookbackBlocks: cfg.LookbackBlocks,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", faults.ErrStartup, err)
		}
		return c, cfg.PairAddress, nil
	default:
		c, err := solanarpc.NewClient(cfg.RPCURL, cfg.TokenAddress, cfg.RequestTimeout)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", faults.ErrStartup, err)
		}
		return c, cfg.WatchAddress, nil
	}
}

func newMarketClient(cfg *config.Config) *dexscreener.Client {
	return dexscreener.NewClient(dexscreener.Options{
		BaseURL:    cfg.Market.BaseURL,
		Timeout:    cfg.Market.RequestTimeout,
		MaxRetries: cfg.Market.MaxRetries,
		Limiter:    ratelimit.New("market", cfg.RateLimit.MarketPerInterval, cfg.RateLimit.Interval, cfg.RateLimit.Blocking),
	})
}

func newComposer(cfg *config.Config) *buys.Composer {
	return buys.NewComposer(buys.ComposerOptions{
		ExplorerTxURL:      cfg.Chain.ExplorerTxURL,
		ExplorerAccountURL: cfg.Chain.ExplorerAccountURL,
		MaxEmojis:          cfg.Notify.MaxEmojis,
		RenderCard:         cfg.Notify.RenderCard,
	})
}
