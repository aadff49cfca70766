// Package bancaweb drives a WebForms online banking portal over plain
// HTTP: it replays the browser's conversation (viewstate round-trips,
// postback navigation, the multi-step login dance) without rendering
// anything. One Client is one portal session and is not safe for
// concurrent use.
package bancaweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bankfeed-backend/lib/retryutil"
	"bankfeed-backend/lib/webforms"
	"bankfeed-backend/lib/websession"
)

// Credentials identify the portal user.
type Credentials struct {
	Username string
	Secret   string
}

// LoginSettings tune Login's retry and challenge behavior.
type LoginSettings struct {
	// MaxAttempts counts whole login attempts. Only transiently failed
	// attempts are retried.
	MaxAttempts int
	RetryDelay  time.Duration
	// MinAnswers is how many rendered security questions must match a
	// configured keyword before the challenge is submitted. Pages
	// rendering fewer questions lower the bar to what is on screen.
	MinAnswers int
}

type Config struct {
	// BaseUrl is the portal root, e.g. "https://banca.example.com.ve".
	BaseUrl   string
	UserAgent string
	// Timeout bounds each HTTP exchange, not whole operations.
	Timeout time.Duration
	// Cookies are seeded into every fresh session, for portals that
	// gate login behind a device cookie.
	Cookies map[string]string

	Credentials Credentials
	// SecurityQuestions is the challenge answer table, written as
	// "keyword:answer,keyword:answer".
	SecurityQuestions string
	Login             LoginSettings
	// MaxPages caps how many listing pages Movements walks per account.
	MaxPages int
}

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Second
	defaultMinAnswers  = 2
)

type Client struct {
	cfg       Config
	session   *websession.Session
	questions *QuestionBank

	authenticated bool
}

// New validates the configuration and builds a client. Configuration
// mistakes are the only eager errors this package raises, everything
// that depends on the portal is reported through result envelopes.
func New(cfg Config) (*Client, error) {
	if cfg.Credentials.Username == "" {
		return nil, errors.New("bancaweb config: username is required")
	}
	if cfg.Credentials.Secret == "" {
		return nil, errors.New("bancaweb config: secret is required")
	}
	questions, err := ParseQuestionBank(cfg.SecurityQuestions)
	if err != nil {
		return nil, fmt.Errorf("bancaweb config: %w", err)
	}
	if cfg.Login.MaxAttempts <= 0 {
		cfg.Login.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Login.RetryDelay <= 0 {
		cfg.Login.RetryDelay = defaultRetryDelay
	}
	if cfg.Login.MinAnswers <= 0 {
		cfg.Login.MinAnswers = defaultMinAnswers
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}

	session, err := websession.New(websession.Options{
		BaseUrl:          cfg.BaseUrl,
		UserAgent:        cfg.UserAgent,
		Timeout:          cfg.Timeout,
		Cookies:          cfg.Cookies,
		TracerName:       "bankfeed.scrapers.bancaweb.http",
		InstrumentOutput: restyInstrumentOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("bancaweb config: %w", err)
	}

	return &Client{cfg: cfg, session: session, questions: questions}, nil
}

// ErrorKind labels the failure class in a result envelope.
type ErrorKind string

const (
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindTransport    ErrorKind = "transport"
	ErrorKindProtocol     ErrorKind = "protocol"
	ErrorKindPlatform     ErrorKind = "platform"
	ErrorKindCredentials  ErrorKind = "credentials_rejected"
	ErrorKindVerification ErrorKind = "verification_failed"
)

// ErrorDetails is the structured failure payload of a result envelope.
type ErrorDetails struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Server    string    `json:"server,omitempty"`
	Transient bool      `json:"transient"`
}

type LoginResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Error   *ErrorDetails `json:"error,omitempty"`
}

type AccountsResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Accounts []Account     `json:"accounts"`
	Error    *ErrorDetails `json:"error,omitempty"`
}

type MovementsResult struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Movements []Movement    `json:"movements"`
	Error     *ErrorDetails `json:"error,omitempty"`
}

func newErrorDetails(err error) *ErrorDetails {
	details := &ErrorDetails{Message: err.Error(), Transient: IsTransient(err)}

	var timeoutErr *websession.TimeoutError
	var platformErr *PlatformError
	var protocolErr *ProtocolError
	var verificationErr *VerificationError
	switch {
	case errors.As(err, &timeoutErr):
		details.Kind = ErrorKindTimeout
	case errors.Is(err, ErrCredentialsRejected):
		details.Kind = ErrorKindCredentials
	case errors.As(err, &platformErr):
		details.Kind = ErrorKindPlatform
		details.Code = platformErr.Code
		details.Server = platformErr.Server
	case errors.As(err, &verificationErr):
		details.Kind = ErrorKindVerification
	case errors.As(err, &protocolErr), errors.Is(err, ErrNotAuthenticated):
		details.Kind = ErrorKindProtocol
	default:
		details.Kind = ErrorKindTransport
	}
	return details
}

// Login authenticates against the portal. The outcome always comes back
// as an envelope, transiently failed attempts are retried per the
// configured policy.
func (c *Client) Login(ctx context.Context) LoginResult {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	policy := retryutil.Policy{
		MaxAttempts: c.cfg.Login.MaxAttempts,
		Delay:       c.cfg.Login.RetryDelay,
		Jitter:      c.cfg.Login.RetryDelay / 2,
	}
	err := policy.Do(ctx, func() error { return c.login(ctx) }, IsTransient)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		slog.ErrorContext(ctx, "login failed", "err", err)
		return LoginResult{Message: "login failed: " + err.Error(), Error: newErrorDetails(err)}
	}
	return LoginResult{Success: true, Message: "session verified"}
}

// Accounts fetches the portal's account listing.
func (c *Client) Accounts(ctx context.Context) AccountsResult {
	ctx, span := tracer.Start(ctx, "Accounts")
	defer span.End()

	accounts, _, err := c.accountListing(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account listing failed")
		slog.ErrorContext(ctx, "account listing failed", "err", err)
		return AccountsResult{Message: "account listing failed: " + err.Error(), Error: newErrorDetails(err)}
	}

	message := fmt.Sprintf("%d accounts", len(accounts))
	if len(accounts) == 0 {
		message = "portal rendered no accounts"
	}
	return AccountsResult{Success: true, Message: message, Accounts: accounts}
}

// Movements fetches the settled movements of one account, walking the
// whole listing pager. An explicit no-movements notice from the portal
// is a successful empty result, not a failure.
func (c *Client) Movements(ctx context.Context, accountNumber string) MovementsResult {
	ctx, span := tracer.Start(ctx, "Movements",
		trace.WithAttributes(attribute.String("account", accountNumber)))
	defer span.End()

	movements, err := c.fetchMovements(ctx, accountNumber)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "movement listing failed")
		slog.ErrorContext(ctx, "movement listing failed", "err", err)
		return MovementsResult{Message: "movement listing failed: " + err.Error(), Error: newErrorDetails(err)}
	}

	if len(movements) == 0 {
		return MovementsResult{Success: true, Message: "no movements in the period"}
	}
	return MovementsResult{Success: true, Message: fmt.Sprintf("%d movements", len(movements)), Movements: movements}
}

// accountListing fetches and parses the account listing, returning the
// page it was parsed from so callers can keep navigating off it.
func (c *Client) accountListing(ctx context.Context) ([]Account, *websession.Page, error) {
	if !c.authenticated {
		return nil, nil, ErrNotAuthenticated
	}

	page, err := c.session.Get(ctx, homePath, true)
	if err != nil {
		return nil, nil, err
	}
	if err := Classify(page); err != nil {
		return nil, nil, err
	}
	if !isAuthenticatedPage(page) {
		c.authenticated = false
		return nil, nil, &ProtocolError{Step: "account-listing", Detail: "session expired, portal bounced to login"}
	}

	accounts := parseAccounts(ctx, page.Document())
	if len(accounts) == 0 {
		// the landing page may be a dashboard, drill into the listing
		actions := webforms.FindActions(ctx, page.Document(), string(page.Body))
		if action, ok := webforms.Best(ctx, actions, accountListKeywords); ok {
			page, err = c.submitPostback(ctx, page, action.Target, action.Argument, nil)
			if err != nil {
				return nil, nil, err
			}
			if err := Classify(page); err != nil {
				return nil, nil, err
			}
			accounts = parseAccounts(ctx, page.Document())
		}
	}
	return accounts, page, nil
}

func (c *Client) fetchMovements(ctx context.Context, accountNumber string) ([]Movement, error) {
	accounts, listing, err := c.accountListing(ctx)
	if err != nil {
		return nil, err
	}

	wanted := digitsOnly(accountNumber)
	var account *Account
	for i := range accounts {
		if accounts[i].Number == wanted {
			account = &accounts[i]
			break
		}
	}
	if account == nil {
		return nil, &ProtocolError{Step: "movement-listing",
			Detail: fmt.Sprintf("account %s is not on the portal's listing", accountNumber)}
	}

	var page *websession.Page
	if account.Target != "" {
		page, err = c.submitPostback(ctx, listing, account.Target, account.Argument, nil)
	} else {
		// no drill-down on the row, go through the menu
		actions := webforms.FindActions(ctx, listing.Document(), string(listing.Body))
		action, ok := webforms.Best(ctx, actions, movementKeywords)
		if !ok {
			return nil, &ProtocolError{Step: "movement-listing", Detail: "no navigation towards a movement listing"}
		}
		page, err = c.submitPostback(ctx, listing, action.Target, action.Argument, nil)
	}
	if err != nil {
		return nil, err
	}

	return c.collectMovements(ctx, page, wanted)
}

// submitPostback extracts the page's live form state, merges the
// postback event and extra fields on top and posts it back to where the
// form declares. Redirects after the POST are then followed by a GET so
// freshly set cookies apply.
func (c *Client) submitPostback(ctx context.Context, page *websession.Page, target, argument string, extra url.Values) (*websession.Page, error) {
	state := webforms.Extract(page.Document(), string(page.Body))
	posted, err := c.session.PostForm(ctx, formAction(page), state.Values(target, argument, extra))
	if err != nil {
		return nil, err
	}
	return c.session.FollowOnce(ctx, posted)
}

// formAction is where the page's form posts back to, defaulting to the
// page's own URL like WebForms does.
func formAction(page *websession.Page) string {
	if action, ok := page.Document().Find("form").First().Attr("action"); ok && action != "" {
		if resolved, err := page.URL.Parse(action); err == nil {
			return resolved.String()
		}
	}
	return page.URL.String()
}

// ImportCookies merges cookies captured outside this client, e.g. by a
// browser automation that cleared a step this client cannot. The
// session is presumed authenticated, the next operation verifies that
// for real.
func (c *Client) ImportCookies(cookies map[string]string) {
	c.session.ImportCookies(cookies)
	c.authenticated = true
}

// Logout ends the portal session so the next login does not trip the
// active session warning. Best effort: an abandoned session expires on
// its own eventually.
func (c *Client) Logout(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	if !c.authenticated {
		return
	}
	c.authenticated = false
	defer c.session.Reset()

	page, err := c.session.Get(ctx, homePath, true)
	if err != nil {
		slog.WarnContext(ctx, "logout skipped, landing page unreachable", "err", err)
		return
	}
	href, ok := page.Document().Find(SelectorLogoutLink).First().Attr("href")
	if !ok {
		return
	}
	if actions := webforms.FindActionsInText(href); len(actions) > 0 {
		_, err = c.submitPostback(ctx, page, actions[0].Target, actions[0].Argument, nil)
	} else if href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
		if resolved, resolveErr := page.URL.Parse(href); resolveErr == nil {
			_, err = c.session.Get(ctx, resolved.String(), true)
		}
	}
	if err != nil {
		slog.WarnContext(ctx, "logout failed", "err", err)
	}
}

// Close releases the underlying transport.
func (c *Client) Close() {
	c.session.Close()
}
