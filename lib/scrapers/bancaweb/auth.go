package bancaweb

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"bankfeed-backend/lib/webforms"
	"bankfeed-backend/lib/websession"
)

const (
	// maxStepRounds bounds the challenge/secret/warning dance. A healthy
	// login never needs more than three rounds, anything past five is
	// the portal looping on us.
	maxStepRounds  = 5
	stepRetryDelay = 2 * time.Second

	verifyBudget   = 20 * time.Second
	verifyInterval = 2 * time.Second
)

// login runs one full authentication attempt. Transient failures bubble
// up for the retry policy in Login to catch.
func (c *Client) login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "login")
	defer span.End()

	c.authenticated = false
	c.session.Reset()
	c.session.ImportCookies(c.cfg.Cookies)

	page, err := c.session.Get(ctx, loginPath, true)
	if err != nil {
		return err
	}
	if err := Classify(page); err != nil {
		return err
	}

	if detectStep(page) == stepLoggedIn {
		// pre-seeded cookies can carry a still-valid session
		return c.verify(ctx)
	}

	page, err = c.submitCredentials(ctx, page)
	if err != nil {
		return err
	}

	for round := 0; round < maxStepRounds; round++ {
		if err := Classify(page); err != nil {
			return err
		}
		step := detectStep(page)
		slog.InfoContext(ctx, "login step", "round", round, "step", step.String())

		switch step {
		case stepChallenge:
			page, err = c.answerChallenge(ctx, page)
		case stepSecretEntry:
			page, err = c.submitSecret(ctx, page)
		case stepActiveSession:
			page, err = c.acknowledgeActiveSession(ctx, page)
		case stepLoggedIn:
			return c.verify(ctx)
		default:
			// unrecognized interstitial, give the portal a beat and look
			// at the landing page instead
			if err := sleepContext(ctx, stepRetryDelay); err != nil {
				return err
			}
			page, err = c.session.Get(ctx, homePath, true)
		}
		if err != nil {
			return err
		}
	}

	// out of rounds, the verification poll gets the last word
	return c.verify(ctx)
}

func (c *Client) submitCredentials(ctx context.Context, page *websession.Page) (*websession.Page, error) {
	field, ok := page.Document().Find(SelectorUserInput).First().Attr("name")
	if !ok || field == "" {
		return nil, &ProtocolError{Step: "credential-submit", Detail: "login page lacks a username input"}
	}
	extra := url.Values{field: {c.cfg.Credentials.Username}}
	return c.submitForm(ctx, page, extra)
}

func (c *Client) submitSecret(ctx context.Context, page *websession.Page) (*websession.Page, error) {
	field, ok := page.Document().Find(SelectorSecretInput).First().Attr("name")
	if !ok || field == "" {
		return nil, &ProtocolError{Step: "secret-entry", Detail: "secret page lacks a password input"}
	}
	extra := url.Values{field: {c.cfg.Credentials.Secret}}
	return c.submitForm(ctx, page, extra)
}

// answerChallenge fills in the security questions from the configured
// bank and submits. Unmatched questions post as empty fields, as long
// as enough of them matched to plausibly pass.
func (c *Client) answerChallenge(ctx context.Context, page *websession.Page) (*websession.Page, error) {
	ctx, span := tracer.Start(ctx, "answerChallenge")
	defer span.End()

	questions := extractChallenge(page.Document())
	extra := url.Values{}

	if len(questions) == 0 {
		// some portal releases render the challenge frame without
		// questions, submitting the bare form advances past it
		slog.WarnContext(ctx, "challenge page rendered no questions, submitting anyway")
		return c.submitForm(ctx, page, extra)
	}

	answers, unmatched := resolveChallenge(c.questions, questions)
	required := c.cfg.Login.MinAnswers
	if required > len(questions) {
		required = len(questions)
	}
	if len(answers) < required {
		return nil, &VerificationError{
			Reason: fmt.Sprintf("matched %d of %d security questions, need %d",
				len(answers), len(questions), required),
			UnmatchedQuestions: unmatched,
		}
	}
	for _, question := range questions {
		extra.Set(question.Field, answers[question.Field])
	}
	slog.InfoContext(ctx, "answering security challenge",
		"questions", len(questions), "matched", len(answers))
	return c.submitForm(ctx, page, extra)
}

func (c *Client) acknowledgeActiveSession(ctx context.Context, page *websession.Page) (*websession.Page, error) {
	slog.InfoContext(ctx, "active session warning, taking over the session")
	return c.submitForm(ctx, page, nil)
}

// submitForm posts the page's form with extra fields filled in. A real
// submit button is preferred and posts as a plain form field, link
// style postbacks are the fallback.
func (c *Client) submitForm(ctx context.Context, page *websession.Page, extra url.Values) (*websession.Page, error) {
	doc := page.Document()
	if name, value, ok := findSubmitControl(doc); ok {
		if extra == nil {
			extra = url.Values{}
		}
		extra.Set(name, value)
		return c.submitPostback(ctx, page, "", "", extra)
	}
	actions := webforms.FindActions(ctx, doc, string(page.Body))
	if action, ok := webforms.Best(ctx, actions, continueKeywords); ok {
		return c.submitPostback(ctx, page, action.Target, action.Argument, extra)
	}
	return nil, &ProtocolError{Step: "form-submit", Detail: "page offers no submit control"}
}

func findSubmitControl(doc *goquery.Document) (string, string, bool) {
	var name, value string
	found := false
	doc.Find(SelectorSubmit).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		n, ok := sel.Attr("name")
		if !ok || n == "" {
			return true
		}
		name = n
		value, _ = sel.Attr("value")
		found = true
		return false
	})
	return name, value, found
}

// verify polls the landing page until the portal stops bouncing us back
// to login. Session establishment lags the final login postback on slow
// portal nodes, so a single probe is not conclusive.
func (c *Client) verify(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "verify")
	defer span.End()

	deadline := time.Now().Add(verifyBudget)
	for {
		page, err := c.session.Get(ctx, homePath, true)
		switch {
		case err == nil:
			if err := Classify(page); err != nil {
				return err
			}
			if isAuthenticatedPage(page) {
				c.authenticated = true
				slog.InfoContext(ctx, "login verified", "url", page.URL.String())
				return nil
			}
		case !IsTransient(err):
			return err
		}
		if time.Now().After(deadline) {
			return &VerificationError{Reason: "portal kept bouncing back to the login page"}
		}
		if err := sleepContext(ctx, verifyInterval); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
