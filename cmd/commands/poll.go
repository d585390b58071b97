package commands

// Command for a dry run against the real chain and market API
// Polls a few cycles and prints the notifications that would be sent, without sending them

import (
	"fmt"
	"time"

	"buybot/internal/features/buys"
	logging "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pollCycles int

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the chain and print would-be notifications (dry run)",
	Long: `Poll the chain a few times with the stored settings and print the composed
notifications to stdout. Nothing is sent to Telegram and settings are not changed.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().IntVar(&pollCycles, "cycles", 1, "Number of poll cycles after the baseline")
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logging.Sync()

	ctx := cmd.Context()
	m := metrics.New()

	store, persister, err := openStore(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer persister.Close()

	chainClient, watchAddress, err := newChainClient(ctx, cfg.Chain)
	if err != nil {
		return err
	}

	source := buys.NewSource(chainClient, watchAddress, cfg.Chain.FetchLimit, m)
	pipeline := buys.NewPipeline(buys.PipelineConfig{
		Market:       newMarketClient(cfg),
		Settings:     store,
		Composer:     newComposer(cfg),
		Metrics:      m,
		TokenAddress: cfg.Chain.TokenAddress,
	})

	out := cmd.OutOrStdout()
	st := store.Snapshot()
	// a dry run shows buys even while tracking is paused
	st.TrackingEnabled = true

	for i := 0; i <= pollCycles; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.Chain.PollInterval):
			}
		}

		records, err := source.Poll(ctx)
		if err != nil {
			logging.LogError("Poll failed", zap.Int("cycle", i), zap.Error(err))
			continue
		}
		if i == 0 {
			fmt.Fprintf(out, "baseline set at %s, waiting for new buys\n", source.Cursor())
			continue
		}

		events := buys.Filter(records, st)
		fmt.Fprintf(out, "cycle %d: %d records, %d buys\n", i, len(records), len(events))
		for _, n := range pipeline.Preview(ctx, events) {
			fmt.Fprintf(out, "\n--- %s ---\n%s\n", n.Signature, n.Text)
			for _, b := range n.Buttons {
				fmt.Fprintf(out, "[%s] %s\n", b.Text, b.URL)
			}
		}
	}
	return nil
}
