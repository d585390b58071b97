package commands

// Command to inspect or reset the stored operator settings

import (
	"fmt"

	"buybot/internal/infra/metrics"
	"buybot/internal/settings"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or reset the stored bot settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, persister, err := openStore(cmd.Context(), cfg, metrics.New())
		if err != nil {
			return err
		}
		defer persister.Close()

		data, err := settings.Encode(store.Snapshot())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Overwrite the stored settings with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// a corrupt record is exactly what reset is for
		cfg.Settings.FallbackOnCorrupt = true

		store, persister, err := openStore(cmd.Context(), cfg, metrics.New())
		if err != nil {
			return err
		}
		defer persister.Close()

		if _, err := store.Update(cmd.Context(), func(s *settings.Settings) error {
			*s = settings.Defaults()
			return nil
		}); err != nil {
			return err
		}
		// Update only logs a failed save
		if err := store.Flush(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Settings reset to defaults")
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}
