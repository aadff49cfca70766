package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"bankfeed-backend/lib/serviceutil"
)

var refreshUser *string

func init() {
	refreshUser = refreshCmd.Flags().String("user", "", "Refresh only this user instead of everyone.")
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [--user <username>]",
	Short: "Scrapes the configured portals once and pushes the statements into the mirror.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		service, database := openService(cfg)
		defer database.Close()

		t1 := time.Now()
		var err error
		if *refreshUser != "" {
			err = service.Refresh(cmd.Context(), *refreshUser)
		} else {
			err = service.RefreshAll(cmd.Context())
		}
		if err != nil {
			serviceutil.Fatal("failed to refresh statements", err)
		}

		slog.Info("refresh done", "seconds", time.Since(t1).Seconds())
	},
}
