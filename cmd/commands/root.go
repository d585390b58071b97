package commands

// Root command for Cobra CLI
// Registers the subcommands (bot, poll, settings) and the config flags they share

import (
	"buybot/internal/infra/config"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "buybot",
	Short: "Buy Bot - Telegram notifications for on-chain buys of a token",
	Long: `Buy Bot polls a Solana or EVM chain for buys of one token and posts a
formatted notification (emoji scale, market data, links) to every subscribed
Telegram chat. The bot is configured from Telegram by its operators.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory with config.yaml and .env")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(settingsCmd)
}
