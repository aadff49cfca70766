package bancaweb

import (
	"strings"

	"bankfeed-backend/lib/textutil"
	"bankfeed-backend/lib/websession"
)

// loginStep is what the portal is asking for next during login.
type loginStep int

const (
	stepUnknown loginStep = iota
	stepChallenge
	stepSecretEntry
	stepActiveSession
	stepLoggedIn
)

func (s loginStep) String() string {
	switch s {
	case stepChallenge:
		return "security-challenge"
	case stepSecretEntry:
		return "secret-entry"
	case stepActiveSession:
		return "active-session-warning"
	case stepLoggedIn:
		return "logged-in"
	default:
		return "unknown"
	}
}

// detectStep decides which login step a page represents. The checks run
// in a fixed order and the first hit wins: the challenge URL marker is
// the most reliable signal, page content only breaks ties after it.
func detectStep(page *websession.Page) loginStep {
	if strings.Contains(textutil.Normalize(page.URL.Path), challengeUrlMarker) {
		return stepChallenge
	}

	doc := page.Document()

	if doc.Find(SelectorQuestionPrompt).Length() > 0 && doc.Find(SelectorAnswerInput).Length() > 0 {
		return stepChallenge
	}

	if doc.Find(SelectorSecretInput).Length() > 0 {
		return stepSecretEntry
	}

	bodyText := textutil.Normalize(doc.Find("body").Text())
	for _, phrase := range activeSessionPhrases {
		if strings.Contains(bodyText, phrase) {
			return stepActiveSession
		}
	}

	if isAuthenticatedPage(page) {
		return stepLoggedIn
	}

	return stepUnknown
}

// isAuthenticatedPage reports whether the page belongs to the
// authenticated area: either the URL left the login page behind or the
// page renders a logout control.
func isAuthenticatedPage(page *websession.Page) bool {
	if page.Document().Find(SelectorLogoutLink).Length() > 0 {
		return true
	}
	path := strings.ToLower(page.URL.Path)
	return path != "" && !strings.Contains(path, strings.ToLower(loginPath))
}
