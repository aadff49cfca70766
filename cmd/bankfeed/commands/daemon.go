package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"bankfeed-backend/lib/telemetry"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keeps the statement mirror fresh on an hourly schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		telemetry.InstrumentPerfStats(ctx)

		cfg := readConfig()
		service, database := openService(cfg)
		defer database.Close()

		err := service.RefreshAll(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "initial refresh", "err", err)
		}
		go service.RefreshDaemon(ctx)

		<-ctx.Done()
	},
}
