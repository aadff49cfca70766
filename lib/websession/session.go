package websession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bankfeed-backend/lib/restyutil"
	"bankfeed-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

const maxRedirectHops = 10

// TimeoutError reports a request that exceeded the per-request budget,
// carrying how long it actually ran.
type TimeoutError struct {
	URL     string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Elapsed.Round(time.Millisecond))
}

type Options struct {
	BaseUrl   string
	UserAgent string
	Timeout   time.Duration
	// pre-seeded cookies, merged into the jar before the first request
	Cookies map[string]string
	// name under which http spans are reported
	TracerName string
	// non-nil turns on full request/response transcript dumps
	InstrumentOutput restyutil.InstrumentOutput
}

// Session replays the HTTP conversation of a single logical browsing
// session: one jar, browser-like headers, GETs follow same-host
// redirects while POSTs always surface the raw 3xx. Not safe for
// concurrent use.
type Session struct {
	BaseUrl *url.URL
	Http    *resty.Client
	Jar     *Jar
}

func New(opts Options) (*Session, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseUrl)
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	// the Jar below is the only cookie store, resty's default jar would
	// shadow it with RFC 6265 scoping the portal does not follow
	client.SetCookieJar(nil)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client.SetHeader("User-Agent", userAgent)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	jar := NewJar()
	jar.Import(opts.Cookies)

	s := &Session{
		BaseUrl: baseUrl,
		Http:    client,
		Jar:     jar,
	}

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if header := jar.Header(); header != "" {
			req.SetHeader("Cookie", header)
		}
		return nil
	})
	client.SetRedirectPolicy(s.followPolicy())

	tracerName := opts.TracerName
	if tracerName == "" {
		tracerName = "websession/http"
	}
	// one instrumentation per client: transcript dumps when an output is
	// configured, heavyweight spans otherwise
	if opts.InstrumentOutput != nil {
		restyutil.InstrumentClient(client, otel.Tracer(tracerName), opts.InstrumentOutput)
	} else {
		telemetry.InstrumentResty(client, tracerName)
	}

	return s, nil
}

// followPolicy allows bounded same-host redirects. It also harvests
// the Set-Cookie headers of every intermediate hop and re-applies the
// jar on the next hop: http.Client only forwards the Cookie header as
// it was on the first request, which would drop cookies issued mid
// chain.
func (s *Session) followPolicy() resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if req.Response != nil {
			s.Jar.UpdateFromHeader(req.Response.Header)
		}
		if len(via) >= maxRedirectHops {
			return fmt.Errorf("stopped after %d redirect hops", maxRedirectHops)
		}
		if req.URL.Hostname() != s.BaseUrl.Hostname() {
			return fmt.Errorf("redirect to foreign host %q blocked", req.URL.Hostname())
		}
		if header := s.Jar.Header(); header != "" {
			req.Header.Set("Cookie", header)
		}
		return nil
	})
}

// noFollowPolicy hands the raw 3xx back to the caller.
// http.ErrUseLastResponse makes http.Client return it with a nil
// error, so no error special-casing leaks into middleware.
func noFollowPolicy() resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	})
}

// Page is one fetched portal page.
type Page struct {
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration

	doc *goquery.Document
}

// Document lazily parses the body. net/html is error tolerant, so a
// hard parse failure degrades to an empty document instead of an
// error return on every call site.
func (p *Page) Document() *goquery.Document {
	if p.doc == nil {
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(p.Body))
		if err != nil {
			doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
		}
		p.doc = doc
	}
	return p.doc
}

func (p *Page) IsRedirect() bool {
	return p.StatusCode >= 300 && p.StatusCode < 400
}

func (p *Page) Location() string {
	return p.Header.Get("Location")
}

// Get fetches a page. With follow, same-host redirect chains are
// followed to their end; without, the raw 3xx is returned.
func (s *Session) Get(ctx context.Context, path string, follow bool) (*Page, error) {
	if !follow {
		s.Http.SetRedirectPolicy(noFollowPolicy())
		defer s.Http.SetRedirectPolicy(s.followPolicy())
	}
	return s.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.Get(path)
	})
}

// PostForm submits a form. Redirects are never followed: the portal
// sets fresh session cookies on its login 3xxs and the caller decides
// whether to re-issue a GET at the target with those cookies applied.
func (s *Session) PostForm(ctx context.Context, path string, form url.Values) (*Page, error) {
	s.Http.SetRedirectPolicy(noFollowPolicy())
	defer s.Http.SetRedirectPolicy(s.followPolicy())
	return s.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetFormDataFromValues(form).Post(path)
	})
}

// FollowOnce re-issues a GET at the page's redirect target. Pages that
// are not redirects (or carry no Location) pass through unchanged.
func (s *Session) FollowOnce(ctx context.Context, page *Page) (*Page, error) {
	if page == nil || !page.IsRedirect() {
		return page, nil
	}
	location := page.Location()
	if location == "" {
		return page, nil
	}
	target, err := s.resolve(page.URL, location)
	if err != nil {
		return nil, fmt.Errorf("resolve redirect target %q: %w", location, err)
	}
	return s.Get(ctx, target, true)
}

func (s *Session) resolve(from *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	base := s.BaseUrl
	if from != nil {
		base = from
	}
	return base.ResolveReference(parsed).String(), nil
}

func (s *Session) do(ctx context.Context, send func(*resty.Request) (*resty.Response, error)) (*Page, error) {
	start := time.Now()
	res, err := send(s.Http.R().SetContext(ctx))
	elapsed := time.Since(start)

	if err != nil {
		urlStr := ""
		if res != nil && res.Request != nil {
			urlStr = res.Request.URL
		}
		var netErr net.Error
		if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{URL: urlStr, Elapsed: elapsed}
		}
		return nil, err
	}

	s.Jar.UpdateFromHeader(res.Header())

	finalUrl := s.BaseUrl
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL
	}
	return &Page{
		URL:        finalUrl,
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
		Elapsed:    elapsed,
	}, nil
}

// ImportCookies merges externally captured cookies into the live jar.
func (s *Session) ImportCookies(cookies map[string]string) {
	s.Jar.Import(cookies)
}

// Reset drops all session state, the next request starts a fresh
// anonymous session.
func (s *Session) Reset() {
	s.Jar.Reset()
}

// Close releases the transport's idle connections.
func (s *Session) Close() {
	s.Http.GetClient().CloseIdleConnections()
}
