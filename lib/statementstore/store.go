// Package statementstore persists account snapshots and settled
// movements pulled from the bank. Pushing the same statement twice is
// safe: movements carry a natural unique key and silently collapse.
package statementstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed-backend/lib/statementstore/db"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

type Account struct {
	Number   string
	Kind     string
	Currency string
	Balance  decimal.Decimal
	// UpdatedAt is when the balance snapshot was taken. Set on Pull,
	// PushAccounts takes the snapshot time as an argument instead.
	UpdatedAt time.Time
}

type Movement struct {
	AccountNumber string
	Date          time.Time
	Description   string
	Reference     string
	Amount        decimal.Decimal
	Direction     string
	Balance       decimal.NullDecimal
}

// PushAccounts records the current account snapshots, replacing the
// stored balance of accounts already known.
func (s Store) PushAccounts(ctx context.Context, when time.Time, accounts []Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, account := range accounts {
		err := txqry.UpsertAccount(ctx, db.UpsertAccountParams{
			Number:    account.Number,
			Kind:      account.Kind,
			Currency:  account.Currency,
			Balance:   account.Balance.String(),
			UpdatedAt: when.Unix(),
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PushMovements stores a scraped movement listing under an account that
// PushAccounts has seen before. Returns how many of the rows were new,
// re-pushed rows do not count.
func (s Store) PushMovements(ctx context.Context, accountNumber string, movements []Movement) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	accountId, err := txqry.GetAccountId(ctx, accountNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s has not been pushed yet", accountNumber)
	}
	if err != nil {
		return 0, err
	}

	var fresh int64
	for _, movement := range movements {
		balance := sql.NullString{}
		if movement.Balance.Valid {
			balance = sql.NullString{String: movement.Balance.Decimal.String(), Valid: true}
		}
		inserted, err := txqry.CreateMovement(ctx, db.CreateMovementParams{
			AccountID:   accountId,
			Date:        movement.Date.Unix(),
			Description: movement.Description,
			Reference:   movement.Reference,
			Amount:      movement.Amount.String(),
			Direction:   movement.Direction,
			Balance:     balance,
		})
		if err != nil {
			return 0, err
		}
		fresh += inserted
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return fresh, nil
}

// PullAccounts returns every known account, ordered by number.
func (s Store) PullAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.qry.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	for _, row := range rows {
		balance, err := decimal.NewFromString(row.Balance)
		if err != nil {
			slog.WarnContext(ctx, "stored account balance does not parse",
				"account", row.Number, "balance", row.Balance, "err", err)
			continue
		}
		accounts = append(accounts, Account{
			Number:    row.Number,
			Kind:      row.Kind,
			Currency:  row.Currency,
			Balance:   balance,
			UpdatedAt: time.Unix(row.UpdatedAt, 0),
		})
	}
	return accounts, nil
}

// PullMovements returns the account's stored movements dated at or
// after since, newest first.
func (s Store) PullMovements(ctx context.Context, accountNumber string, since time.Time) ([]Movement, error) {
	rows, err := s.qry.GetMovements(ctx, db.GetMovementsParams{
		Number: accountNumber,
		Date:   since.Unix(),
	})
	if err != nil {
		return nil, err
	}

	var movements []Movement
	for _, row := range rows {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			slog.WarnContext(ctx, "stored movement amount does not parse",
				"account", accountNumber, "amount", row.Amount, "err", err)
			continue
		}
		balance := decimal.NullDecimal{}
		if row.Balance.Valid {
			parsed, err := decimal.NewFromString(row.Balance.String)
			if err == nil {
				balance = decimal.NullDecimal{Decimal: parsed, Valid: true}
			}
		}
		movements = append(movements, Movement{
			AccountNumber: accountNumber,
			Date:          time.Unix(row.Date, 0),
			Description:   row.Description,
			Reference:     row.Reference,
			Amount:        amount,
			Direction:     row.Direction,
			Balance:       balance,
		})
	}
	return movements, nil
}
