package redirect

import (
	"net/http"
	"net/url"
	"strings"
)

// Endpoint is the external service every rewrapped URL is sent to.
const Endpoint = "https://hidewall.io/yeet?y="

const (
	// marker is the coarse pre-filter checked before any query parsing.
	marker   = "url="
	paramKey = "url"
)

// Outcome describes what the interceptor decided for one request.
type Outcome int

const (
	// Skipped means the raw URL never contained the marker.
	Skipped Outcome = iota
	// PassThrough means the marker matched but no usable url parameter was found.
	PassThrough
	// Redirected means the request must be answered with a redirect.
	Redirected
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case PassThrough:
		return "pass_through"
	case Redirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Request is the single intercepted request being evaluated.
type Request struct {
	URL string
}

// Decision is the result of one interception pass.
type Decision struct {
	Outcome  Outcome
	Location string
	Status   int
}

// Redirect reports whether the request should be short-circuited.
func (d Decision) Redirect() bool {
	return d.Outcome == Redirected
}

// Wrap embeds target into the endpoint.
func Wrap(target string) string {
	return Endpoint + EncodeURIComponent(target)
}

// Intercept decides whether rawURL is replaced by a redirect to the endpoint.
func Intercept(rawURL string) Decision {
	return Request{URL: rawURL}.Decide()
}

// Decide runs the marker check, then the query lookup.
func (r Request) Decide() Decision {
	if !strings.Contains(r.URL, marker) {
		return Decision{Outcome: Skipped}
	}

	value, ok := lookupRaw(queryComponent(r.URL), paramKey)
	if !ok || value == "" {
		return Decision{Outcome: PassThrough}
	}

	return Decision{
		Outcome:  Redirected,
		Location: Wrap(value),
		Status:   http.StatusFound,
	}
}

// queryComponent returns the text between the first '?' and the next one.
func queryComponent(raw string) string {
	_, query, found := strings.Cut(raw, "?")
	if !found {
		return ""
	}
	query, _, _ = strings.Cut(query, "?")
	return query
}

// lookupRaw returns the first value bound to key, exactly as written on the wire.
// Keys are decoded before comparison; values are not.
func lookupRaw(query, key string) (string, bool) {
	for query != "" {
		var pair string
		pair, query, _ = strings.Cut(query, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		if name == key {
			return v, true
		}
	}
	return "", false
}

// EncodeURIComponent escapes s the way browsers do for a single URI
// component: only A-Z a-z 0-9 and -_.!~*'() survive unescaped.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
