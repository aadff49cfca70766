package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"bankfeed-backend/cmd/bankfeed/utils"
	"bankfeed-backend/lib/scrapers/bancaweb"
	"bankfeed-backend/lib/serviceutil"
	"bankfeed-backend/lib/timezone"
)

var movementsUser *string
var movementsAccount *string
var movementsSince *string
var movementsPages *int

func init() {
	movementsUser = movementsCmd.Flags().String("user", "", "Username of the portal entry to use.")
	movementsAccount = movementsCmd.Flags().String("account", "", "Account number to list movements for.")
	movementsSince = movementsCmd.Flags().String("since", "", "Only print movements on or after this date (dd/mm/yyyy).")
	movementsPages = movementsCmd.Flags().Int("pages", 0, "Cap on how many listing pages to walk.")
	movementsCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(movementsCmd)
}

var movementsCmd = &cobra.Command{
	Use:   "movements --account <number> [--since <dd/mm/yyyy>] [--pages <n>] [--user <username>]",
	Short: "Scrapes the settled movements of one account and prints them.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		portal := portalFor(cfg, *movementsUser)
		if *movementsPages > 0 {
			portal.MaxPages = *movementsPages
		}

		var since time.Time
		if *movementsSince != "" {
			parsed, err := time.ParseInLocation("02/01/2006", *movementsSince, timezone.Location)
			if err != nil {
				serviceutil.Fatal("failed to parse --since", err)
			}
			since = parsed
		}

		client := newSession(cmd.Context(), portal)
		defer client.Close()
		defer client.Logout(cmd.Context())

		res := client.Movements(cmd.Context(), *movementsAccount)
		if !res.Success {
			serviceutil.Fatal("failed to list movements", fmt.Errorf("%s", res.Message))
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Date", "Description", "Reference", "Amount", "Balance"})
		shown := 0
		for _, movement := range res.Movements {
			if !since.IsZero() && movement.Date.Before(since) {
				continue
			}
			amount := movement.Amount.StringFixed(2)
			if movement.Direction == bancaweb.DirectionDebit {
				amount = "-" + amount
			}
			balance := ""
			if movement.Balance.Valid {
				balance = movement.Balance.Decimal.StringFixed(2)
			}
			t.AppendRow(table.Row{
				movement.Date.Format("02/01/2006"),
				movement.Description,
				movement.Reference,
				amount,
				balance,
			})
			shown++
		}
		if shown == 0 {
			slog.Info("no movements in the period", "account", *movementsAccount)
			return
		}
		t.Render()
	},
}
