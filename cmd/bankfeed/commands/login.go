package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var loginUser *string

func init() {
	loginUser = loginCmd.Flags().String("user", "", "Username of the portal entry to use.")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login [--user <username>]",
	Short: "Runs the login dance once to verify credentials and challenge answers.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		portal := portalFor(cfg, *loginUser)

		client := newSession(cmd.Context(), portal)
		defer client.Close()

		slog.Info("session verified", "username", portal.Username)
		client.Logout(cmd.Context())
	},
}
