package webforms

import (
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// The round-trip state fields ASP.NET WebForms expects back on every
// postback.
const (
	FieldViewState          = "__VIEWSTATE"
	FieldViewStateGenerator = "__VIEWSTATEGENERATOR"
	FieldEventValidation    = "__EVENTVALIDATION"
	FieldEventTarget        = "__EVENTTARGET"
	FieldEventArgument      = "__EVENTARGUMENT"
)

// a parsed __VIEWSTATE shorter than this is assumed to be mangled
// markup and triggers the raw markup fallback
const viewstateMinPlausibleLen = 40

// FormState carries the hidden state of one rendered page. Submitting
// state extracted from page A to a postback on page B fails server
// side validation, so navigation layers re-extract from the latest
// response before every submit.
type FormState struct {
	ViewState          string
	ViewStateGenerator string
	EventValidation    string
	// every other hidden input on the form
	Extra url.Values
}

var viewstateValueAfter = regexp.MustCompile(
	`(?:name|id)=["']__VIEWSTATE["'][^>]*?value=["']([^"']*)["']`,
)
var viewstateValueBefore = regexp.MustCompile(
	`value=["']([^"']*)["'][^>]*?(?:name|id)=["']__VIEWSTATE["']`,
)

// ExtractRawViewState scans markup directly for the __VIEWSTATE value,
// tolerating either attribute order. The portal occasionally emits
// markup that html parsers silently truncate, which loses the state
// blob even though it is right there in the bytes.
func ExtractRawViewState(rawHtml string) string {
	longest := ""
	for _, re := range []*regexp.Regexp{viewstateValueAfter, viewstateValueBefore} {
		for _, groups := range re.FindAllStringSubmatch(rawHtml, -1) {
			if len(groups) > 1 && len(groups[1]) > len(longest) {
				longest = groups[1]
			}
		}
	}
	return longest
}

// Extract pulls the WebForms round-trip state out of a page. Control
// fields that are missing extract as empty strings: some portal steps
// legitimately render without event validation.
func Extract(doc *goquery.Document, rawHtml string) FormState {
	state := FormState{Extra: url.Values{}}

	doc.Find("input[type=hidden]").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			name = sel.AttrOr("id", "")
		}
		if name == "" {
			return
		}
		value := sel.AttrOr("value", "")

		switch name {
		case FieldViewState:
			state.ViewState = value
		case FieldViewStateGenerator:
			state.ViewStateGenerator = value
		case FieldEventValidation:
			state.EventValidation = value
		case FieldEventTarget, FieldEventArgument:
			// rewritten on every submit, never carried forward
		default:
			state.Extra.Set(name, value)
		}
	})

	if len(state.ViewState) < viewstateMinPlausibleLen {
		raw := ExtractRawViewState(rawHtml)
		if len(raw) > len(state.ViewState) {
			state.ViewState = raw
		}
	}
	return state
}

// Values renders the postback payload for a target/argument pair. The
// carried hidden fields go in first and explicit caller values always
// override them.
func (f FormState) Values(target, argument string, extra url.Values) url.Values {
	payload := url.Values{}
	for name, values := range f.Extra {
		payload[name] = append([]string(nil), values...)
	}

	payload.Set(FieldEventTarget, target)
	payload.Set(FieldEventArgument, argument)
	payload.Set(FieldViewState, f.ViewState)
	payload.Set(FieldViewStateGenerator, f.ViewStateGenerator)
	payload.Set(FieldEventValidation, f.EventValidation)

	for name, values := range extra {
		payload[name] = append([]string(nil), values...)
	}
	return payload
}
