package webforms

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, rawHtml string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHtml))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

const loginFormPage = `
<html><body><form method="post" action="./Login.aspx">
<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="dDwtMTIzNDU2Nzg5O3Q8O2w8aTwxPjs+O2w8dDw7bDxpPDM+Oz4+Oz4+Oz4+Oz4=" />
<input type="hidden" name="__VIEWSTATEGENERATOR" id="__VIEWSTATEGENERATOR" value="CA0B0334" />
<input type="hidden" name="__EVENTVALIDATION" id="__EVENTVALIDATION" value="/wEWAgL+1234AQKM5678Ag==" />
<input type="hidden" name="__EVENTTARGET" id="__EVENTTARGET" value="" />
<input type="hidden" name="__EVENTARGUMENT" id="__EVENTARGUMENT" value="" />
<input type="hidden" name="hdnCanal" value="WEB" />
<input type="text" name="txtUsuario" />
</form></body></html>`

func TestExtract(t *testing.T) {
	state := Extract(mustDoc(t, loginFormPage), loginFormPage)

	require.Equal(t, "dDwtMTIzNDU2Nzg5O3Q8O2w8aTwxPjs+O2w8dDw7bDxpPDM+Oz4+Oz4+Oz4+Oz4=", state.ViewState)
	require.Equal(t, "CA0B0334", state.ViewStateGenerator)
	require.Equal(t, "/wEWAgL+1234AQKM5678Ag==", state.EventValidation)
	require.Equal(t, "WEB", state.Extra.Get("hdnCanal"))
	// event target fields are never carried forward
	require.False(t, state.Extra.Has(FieldEventTarget))
	require.False(t, state.Extra.Has(FieldEventArgument))
}

func TestExtractMissingControlFields(t *testing.T) {
	page := `<html><body><form>
	<input type="hidden" name="hdnPaso" value="2" />
	</form></body></html>`

	state := Extract(mustDoc(t, page), page)
	require.Equal(t, "", state.ViewState)
	require.Equal(t, "", state.ViewStateGenerator)
	require.Equal(t, "", state.EventValidation)
	require.Equal(t, "2", state.Extra.Get("hdnPaso"))
}

func TestExtractRawViewState(t *testing.T) {
	long := strings.Repeat("dDwtMTIzNDU2", 12)

	testCases := []struct {
		name    string
		rawHtml string
	}{
		{
			name:    "value after name",
			rawHtml: `<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="` + long + `" />`,
		},
		{
			name:    "value before name",
			rawHtml: `<input type="hidden" value="` + long + `" name="__VIEWSTATE" />`,
		},
		{
			name:    "single quotes",
			rawHtml: `<input type='hidden' id='__VIEWSTATE' value='` + long + `'/>`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, long, ExtractRawViewState(tc.rawHtml))
		})
	}
}

func TestExtractRawViewStateIgnoresGenerator(t *testing.T) {
	rawHtml := `<input type="hidden" name="__VIEWSTATEGENERATOR" value="CA0B0334" />`
	require.Equal(t, "", ExtractRawViewState(rawHtml))
}

func TestExtractPrefersLongerRawViewState(t *testing.T) {
	long := strings.Repeat("ZmFrZXZpZXdzdGF0ZQ==", 8)
	// the parsed document saw a truncated value, the raw markup still
	// holds the full one
	mangled := `<html><body><form>
	<input type="hidden" name="__VIEWSTATE" value="dDwt" />
	</form></body></html>`
	raw := `<input type="hidden" name="__VIEWSTATE" value="` + long + `" />`

	state := Extract(mustDoc(t, mangled), raw)
	require.Equal(t, long, state.ViewState)
}

func TestValues(t *testing.T) {
	state := FormState{
		ViewState:          "VS",
		ViewStateGenerator: "GEN",
		EventValidation:    "EV",
		Extra: url.Values{
			"hdnCanal":   {"WEB"},
			"txtUsuario": {""},
		},
	}

	extra := url.Values{}
	extra.Set("txtUsuario", "usuario1")
	payload := state.Values("ctl00$btnContinuar", "", extra)

	require.Equal(t, "ctl00$btnContinuar", payload.Get(FieldEventTarget))
	require.Equal(t, "", payload.Get(FieldEventArgument))
	require.Equal(t, "VS", payload.Get(FieldViewState))
	require.Equal(t, "GEN", payload.Get(FieldViewStateGenerator))
	require.Equal(t, "EV", payload.Get(FieldEventValidation))
	require.Equal(t, "WEB", payload.Get("hdnCanal"))
	// explicit values beat carried hidden defaults
	require.Equal(t, "usuario1", payload.Get("txtUsuario"))
}
