// Package bankfeed keeps a local statement mirror fresh by replaying
// portal sessions for every configured user. Reads are always served
// from the mirror, the portal is only touched by Refresh and the
// background daemon.
package bankfeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bankfeed-backend/lib/scrapers/bancaweb"
	"bankfeed-backend/lib/statementstore"
	"bankfeed-backend/lib/timezone"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("bankfeed.services.bankfeed")

// PortalError carries a scraper failure report across the envelope
// boundary so retry logic can keep honoring the transient flag.
type PortalError struct {
	Op       string
	Username string
	Details  *bancaweb.ErrorDetails
}

func (e PortalError) Error() string {
	if e.Details == nil {
		return fmt.Sprintf("%s for %s: portal reported failure", e.Op, e.Username)
	}
	return fmt.Sprintf("%s for %s: %s: %s", e.Op, e.Username, e.Details.Kind, e.Details.Message)
}

// IsTransient reports whether err (or any error it wraps) is a portal
// failure worth retrying.
func IsTransient(err error) bool {
	var portalErr PortalError
	if errors.As(err, &portalErr) {
		return portalErr.Details != nil && portalErr.Details.Transient
	}
	return false
}

type Service struct {
	store statementstore.Store
	// portals is keyed by username, usernames preserves config order.
	portals   map[string]bancaweb.Config
	usernames []string
	sessions  *expirable.LRU[string, *bancaweb.Client]
}

type ServiceOptions struct {
	Database *sql.DB
	// Portals holds one scraper config per user. Usernames must be
	// unique.
	Portals []bancaweb.Config
}

func NewService(opts ServiceOptions) (Service, error) {
	s := Service{
		store:   statementstore.NewStore(opts.Database),
		portals: map[string]bancaweb.Config{},
		// portal sessions idle out server-side well before 15 minutes
		// of silence, keeping them longer just hands out dead cookies
		sessions: expirable.NewLRU(2048, func(username string, client *bancaweb.Client) {
			client.Close()
		}, time.Minute*15),
	}
	for _, cfg := range opts.Portals {
		username := cfg.Credentials.Username
		if username == "" {
			return Service{}, fmt.Errorf("bankfeed config: portal entry without a username")
		}
		if _, ok := s.portals[username]; ok {
			return Service{}, fmt.Errorf("bankfeed config: duplicate portal entry for %q", username)
		}
		s.portals[username] = cfg
		s.usernames = append(s.usernames, username)
	}
	return s, nil
}

// Usernames lists the configured users in config order.
func (s Service) Usernames() []string {
	return append([]string(nil), s.usernames...)
}

// session returns a logged-in client for the user, reusing a cached
// session when one is still around.
func (s Service) session(ctx context.Context, username string) (*bancaweb.Client, error) {
	cached, hit := s.sessions.Get(username)
	if hit {
		return cached, nil
	}

	cfg, ok := s.portals[username]
	if !ok {
		return nil, fmt.Errorf("no portal configured for user %q", username)
	}
	client, err := bancaweb.New(cfg)
	if err != nil {
		return nil, err
	}
	res := client.Login(ctx)
	if !res.Success {
		client.Close()
		return nil, PortalError{Op: "login", Username: username, Details: res.Error}
	}

	s.sessions.Add(username, client)
	return client, nil
}

// dropSession throws away the cached client after a failure that taints
// the portal session. The eviction hook closes it.
func (s Service) dropSession(username string) {
	s.sessions.Remove(username)
}

// Refresh replays one user's portal session and pushes everything it
// finds into the statement mirror. Accounts that fail to list their
// movements are logged and skipped, the rest still land.
func (s Service) Refresh(ctx context.Context, username string) error {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("username", username))

	client, err := s.session(ctx, username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session")
		return err
	}

	res := client.Accounts(ctx)
	if !res.Success {
		s.dropSession(username)
		err := PortalError{Op: "list accounts", Username: username, Details: res.Error}
		span.RecordError(err)
		span.SetStatus(codes.Error, "list accounts")
		return err
	}

	accounts := make([]statementstore.Account, len(res.Accounts))
	for i, account := range res.Accounts {
		accounts[i] = statementstore.Account{
			Number:   account.Number,
			Kind:     account.Kind,
			Currency: account.Currency,
			Balance:  account.Balance,
		}
	}
	err = s.store.PushAccounts(ctx, timezone.Now(), accounts)
	if err != nil {
		return fmt.Errorf("push accounts: %w", err)
	}

	// doing these in serial on purpose, the portal is one session and
	// gets grumpy about overlapping postbacks
	var failed []error
	for _, account := range res.Accounts {
		mres := client.Movements(ctx, account.Number)
		if !mres.Success {
			err := PortalError{Op: "list movements", Username: username, Details: mres.Error}
			if mres.Error != nil && mres.Error.Kind == bancaweb.ErrorKindProtocol {
				// the session itself went bad, the remaining accounts
				// would only repeat the same bounce
				s.dropSession(username)
				span.RecordError(err)
				span.SetStatus(codes.Error, "session went bad")
				return err
			}
			slog.WarnContext(ctx, "pull movements", "username", username, "account", account.Number, "err", err)
			failed = append(failed, err)
			continue
		}

		movements := make([]statementstore.Movement, len(mres.Movements))
		for i, movement := range mres.Movements {
			movements[i] = statementstore.Movement{
				AccountNumber: movement.AccountNumber,
				Date:          movement.Date,
				Description:   movement.Description,
				Reference:     movement.Reference,
				Amount:        movement.Amount,
				Direction:     string(movement.Direction),
				Balance:       movement.Balance,
			}
		}
		fresh, err := s.store.PushMovements(ctx, account.Number, movements)
		if err != nil {
			slog.WarnContext(ctx, "push movements", "username", username, "account", account.Number, "err", err)
			failed = append(failed, err)
			continue
		}
		slog.InfoContext(
			ctx, "pushed movements",
			"username", username,
			"account", account.Number,
			"scraped", len(movements),
			"fresh", fresh,
		)
	}

	return errors.Join(failed...)
}

// RefreshAll refreshes every configured user in config order. One
// user's failure does not stop the others.
func (s Service) RefreshAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "RefreshAll")
	defer span.End()

	var failed []error
	for _, username := range s.usernames {
		err := s.Refresh(ctx, username)
		if err != nil {
			slog.WarnContext(ctx, "refresh user", "username", username, "err", err)
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// Accounts serves the mirrored account listing.
func (s Service) Accounts(ctx context.Context) ([]statementstore.Account, error) {
	return s.store.PullAccounts(ctx)
}

// Movements serves mirrored movements for one account, newest first.
// A zero since means no lower bound.
func (s Service) Movements(ctx context.Context, accountNumber string, since time.Time) ([]statementstore.Movement, error) {
	return s.store.PullMovements(ctx, accountNumber, since)
}

// Logout tears down a user's cached portal session, telling the portal
// goodbye first. Safe to call when no session is cached.
func (s Service) Logout(ctx context.Context, username string) {
	cached, hit := s.sessions.Get(username)
	if !hit {
		return
	}
	cached.Logout(ctx)
	s.sessions.Remove(username)
}
