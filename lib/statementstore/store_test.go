package statementstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bankfeed-backend/lib/sqliteutil"
	"bankfeed-backend/lib/statementstore/db"
	"bankfeed-backend/lib/telemetry"
	"bankfeed-backend/lib/timezone"
)

func TestStore(t *testing.T) {
	defer telemetry.SetupForTesting(t, "lib/statementstore")()

	sqlite, err := sqliteutil.OpenDB(db.Schema, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	store := NewStore(sqlite)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	now := time.Date(2024, time.May, 15, 9, 0, 0, 0, timezone.Location)

	{
		accounts, err := store.PullAccounts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, accounts, 0)
	}
	{
		_, err := store.PushMovements(ctx, "01021234567890123456", []Movement{
			{Date: now, Description: "PAGO", Amount: decimal.RequireFromString("1"), Direction: "credit"},
		})
		require.ErrorContains(t, err, "has not been pushed yet")
	}
	{
		err := store.PushAccounts(ctx, now, []Account{
			{Number: "01021234567890123456", Kind: "Cuenta Corriente", Currency: "VES", Balance: decimal.RequireFromString("12345.67")},
			{Number: "01029876543210987654", Kind: "Cuenta de Ahorro", Currency: "USD", Balance: decimal.RequireFromString("1000")},
		})
		if err != nil {
			t.Fatal(err)
		}

		accounts, err := store.PullAccounts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, accounts, 2)
		require.Equal(t, "01021234567890123456", accounts[0].Number)
		require.True(t, accounts[0].Balance.Equal(decimal.RequireFromString("12345.67")))
		require.Equal(t, now.Unix(), accounts[0].UpdatedAt.Unix())
	}
	{
		// a later snapshot replaces the stored balance
		err := store.PushAccounts(ctx, now.Add(time.Hour), []Account{
			{Number: "01021234567890123456", Kind: "Cuenta Corriente", Currency: "VES", Balance: decimal.RequireFromString("10000")},
		})
		if err != nil {
			t.Fatal(err)
		}

		accounts, err := store.PullAccounts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, accounts, 2)
		require.True(t, accounts[0].Balance.Equal(decimal.RequireFromString("10000")))
	}
	{
		movements := []Movement{
			{
				Date:        now.AddDate(0, 0, -2),
				Description: "PAGO NOMINA EMPRESA",
				Reference:   "00123456",
				Amount:      decimal.RequireFromString("1500"),
				Direction:   "credit",
				Balance:     decimal.NullDecimal{Decimal: decimal.RequireFromString("4500"), Valid: true},
			},
			{
				Date:        now.AddDate(0, 0, -1),
				Description: "COMPRA POS FARMACIA",
				Reference:   "00123457",
				Amount:      decimal.RequireFromString("250.50"),
				Direction:   "debit",
			},
			{
				Date:        now,
				Description: "TRANSFERENCIA RECIBIDA",
				Reference:   "00123458",
				Amount:      decimal.RequireFromString("2000"),
				Direction:   "credit",
			},
		}

		fresh, err := store.PushMovements(ctx, "01021234567890123456", movements)
		if err != nil {
			t.Fatal(err)
		}
		require.EqualValues(t, 3, fresh)

		// pushing the same listing again adds nothing
		fresh, err = store.PushMovements(ctx, "01021234567890123456", movements)
		if err != nil {
			t.Fatal(err)
		}
		require.EqualValues(t, 0, fresh)
	}
	{
		movements, err := store.PullMovements(ctx, "01021234567890123456", time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, movements, 3)
		// newest first
		require.Equal(t, "TRANSFERENCIA RECIBIDA", movements[0].Description)
		require.Equal(t, "PAGO NOMINA EMPRESA", movements[2].Description)
		require.True(t, movements[2].Balance.Valid)
		require.False(t, movements[1].Balance.Valid)

		recent, err := store.PullMovements(ctx, "01021234567890123456", now.AddDate(0, 0, -1))
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, recent, 2)

		other, err := store.PullMovements(ctx, "01029876543210987654", time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		require.Len(t, other, 0)
	}
}
