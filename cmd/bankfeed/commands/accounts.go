package commands

import (
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bankfeed-backend/cmd/bankfeed/utils"
	"bankfeed-backend/lib/serviceutil"
)

var accountsUser *string

func init() {
	accountsUser = accountsCmd.Flags().String("user", "", "Username of the portal entry to use.")
	rootCmd.AddCommand(accountsCmd)
}

var accountsCmd = &cobra.Command{
	Use:   "accounts [--user <username>]",
	Short: "Scrapes the live account listing and prints it.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		portal := portalFor(cfg, *accountsUser)

		client := newSession(cmd.Context(), portal)
		defer client.Close()
		defer client.Logout(cmd.Context())

		res := client.Accounts(cmd.Context())
		if !res.Success {
			serviceutil.Fatal("failed to list accounts", fmt.Errorf("%s", res.Message))
		}
		if len(res.Accounts) == 0 {
			slog.Info(res.Message)
			return
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Kind", "Number", "Currency", "Balance"})
		for _, account := range res.Accounts {
			t.AppendRow(table.Row{
				account.Kind,
				account.Number,
				account.Currency,
				account.Balance.StringFixed(2),
			})
		}
		t.Render()
	},
}
