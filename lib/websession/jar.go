package websession

import (
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// Jar holds portal cookies as a flat name -> value map. The portal
// rotates its session cookies mid-flow and expects the most recently
// issued value back regardless of path, domain or expiry attributes,
// so the RFC 6265 scoping of net/http/cookiejar is deliberately not
// used. Not safe for concurrent use; a Session is a single logical
// browsing session.
type Jar struct {
	cookies map[string]string
}

func NewJar() *Jar {
	return &Jar{cookies: map[string]string{}}
}

// matches the start of the next cookie inside a folded Set-Cookie
// header: a comma followed by a token and '='. commas inside Expires
// attributes ("Mon, 02-Jan-2006") never match because the date part
// is followed by a space rather than '='.
var cookieBoundaryRegex = regexp.MustCompile(`, *([A-Za-z0-9!#$%&'*+\-.^_` + "`" + `|~]+=)`)

// SplitFoldedHeader splits a Set-Cookie header value which a proxy has
// folded into a single line back into individual cookie strings.
func SplitFoldedHeader(header string) []string {
	boundaries := cookieBoundaryRegex.FindAllStringSubmatchIndex(header, -1)
	if len(boundaries) == 0 {
		return []string{header}
	}

	var parts []string
	start := 0
	for _, loc := range boundaries {
		parts = append(parts, header[start:loc[0]])
		start = loc[2]
	}
	parts = append(parts, header[start:])
	return parts
}

func parseSetCookie(line string) (name string, value string, ok bool) {
	line = strings.TrimSpace(line)
	// attributes after the first ';' are irrelevant to replay
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	name, value, found := strings.Cut(line, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", "", false
	}
	// values may themselves contain '=', Cut already kept the rest
	return name, strings.TrimSpace(value), true
}

// UpdateFromHeader ingests every Set-Cookie value on a response
// header. Later values win on name collision.
func (j *Jar) UpdateFromHeader(header http.Header) {
	for _, raw := range header.Values("Set-Cookie") {
		for _, line := range SplitFoldedHeader(raw) {
			name, value, ok := parseSetCookie(line)
			if !ok {
				continue
			}
			j.cookies[name] = value
		}
	}
}

func (j *Jar) Set(name, value string) {
	j.cookies[name] = value
}

func (j *Jar) Get(name string) (string, bool) {
	value, ok := j.cookies[name]
	return value, ok
}

// Import merges an externally captured cookie set, e.g. one harvested
// from a browser automation run. Imported values win.
func (j *Jar) Import(cookies map[string]string) {
	for name, value := range cookies {
		j.cookies[name] = value
	}
}

func (j *Jar) Export() map[string]string {
	out := make(map[string]string, len(j.cookies))
	for name, value := range j.cookies {
		out[name] = value
	}
	return out
}

func (j *Jar) Reset() {
	j.cookies = map[string]string{}
}

func (j *Jar) Len() int {
	return len(j.cookies)
}

// Header renders the Cookie request header. Sorted by name so replays
// and debug dumps stay deterministic.
func (j *Jar) Header() string {
	names := make([]string, 0, len(j.cookies))
	for name := range j.cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+j.cookies[name])
	}
	return strings.Join(pairs, "; ")
}
