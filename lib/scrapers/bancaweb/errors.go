package bancaweb

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"bankfeed-backend/lib/htmlutil"
	"bankfeed-backend/lib/textutil"
	"bankfeed-backend/lib/websession"
)

var (
	// ErrNotAuthenticated is returned by data operations invoked before a
	// successful Login.
	ErrNotAuthenticated = errors.New("not authenticated, call Login first")

	// ErrCredentialsRejected means the portal explicitly refused the
	// configured credentials. Retrying with the same credentials risks
	// locking the user out.
	ErrCredentialsRejected = errors.New("portal rejected the credentials")
)

// ProtocolError means the conversation with the portal went off script:
// an expected control or page never showed up.
type ProtocolError struct {
	Step   string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected portal state during %s: %s", e.Step, e.Detail)
}

// PlatformError is a recognizably broken portal page: an outage notice,
// an ASP.NET error screen or a 5xx. Transient reports whether the page
// text suggests retrying may help.
type PlatformError struct {
	Message   string
	Code      string
	Server    string
	Transient bool
}

func (e *PlatformError) Error() string {
	msg := fmt.Sprintf("portal error: %s", e.Message)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Server != "" {
		msg += fmt.Sprintf(" [server %s]", e.Server)
	}
	return msg
}

// VerificationError means login ran out of rounds without reaching an
// authenticated page, or the security challenge could not be answered.
type VerificationError struct {
	Reason             string
	UnmatchedQuestions []string
}

func (e *VerificationError) Error() string {
	if len(e.UnmatchedQuestions) > 0 {
		return fmt.Sprintf(
			"login verification failed: %s (unmatched questions: %s)",
			e.Reason, strings.Join(e.UnmatchedQuestions, "; "),
		)
	}
	return fmt.Sprintf("login verification failed: %s", e.Reason)
}

// Classify inspects a fetched page for portal-reported failures.
// Credential rejections take precedence over generic platform errors
// because the portal renders both through the same message labels.
// A nil return means the page carries no recognizable failure.
func Classify(page *websession.Page) error {
	doc := page.Document()

	message := htmlutil.CleanText(doc.Find(SelectorErrorMessage).First().Text())
	normalized := textutil.Normalize(message)

	for _, phrase := range credentialRejectedPhrases {
		if strings.Contains(normalized, phrase) {
			return fmt.Errorf("%w: %s", ErrCredentialsRejected, message)
		}
	}

	if page.StatusCode >= http.StatusInternalServerError {
		if message == "" {
			message = http.StatusText(page.StatusCode)
		}
		return &PlatformError{
			Message:   message,
			Code:      strconv.Itoa(page.StatusCode),
			Transient: true,
		}
	}

	if message != "" {
		return &PlatformError{
			Message:   message,
			Code:      htmlutil.CleanText(doc.Find(SelectorErrorCode).First().Text()),
			Server:    htmlutil.CleanText(doc.Find(SelectorErrorServer).First().Text()),
			Transient: matchesAny(normalized, transientPlatformPhrases),
		}
	}

	// the ASP.NET yellow screen has no portal labels, only a title
	title := textutil.Normalize(doc.Find("title").First().Text())
	if strings.Contains(title, "server error") || strings.Contains(title, "runtime error") {
		return &PlatformError{Message: htmlutil.CleanText(doc.Find("title").First().Text()), Transient: true}
	}

	return nil
}

// IsTransient reports whether retrying the whole operation could
// plausibly succeed. Credential and verification failures are final.
func IsTransient(err error) bool {
	var timeoutErr *websession.TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Transient
	}
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return false
	}
	var verificationErr *VerificationError
	if errors.As(err, &verificationErr) {
		return false
	}
	if errors.Is(err, ErrCredentialsRejected) || errors.Is(err, ErrNotAuthenticated) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func matchesAny(normalized string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
