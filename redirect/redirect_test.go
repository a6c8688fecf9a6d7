package redirect

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntercept(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		outcome  Outcome
		location string
	}{
		{
			// The parameter is re-encoded as written, so an already
			// encoded value comes out double-encoded. Kept on purpose.
			name:     "encoded url parameter is double encoded",
			url:      "https://example.com/page?url=https%3A%2F%2Fnews.site%2Farticle",
			outcome:  Redirected,
			location: "https://hidewall.io/yeet?y=https%253A%252F%252Fnews.site%252Farticle",
		},
		{
			name:    "no marker",
			url:     "https://example.com/page?foo=bar",
			outcome: Skipped,
		},
		{
			name:    "url prefix in path without equals",
			url:     "https://example.com/urlpath?other=1",
			outcome: Skipped,
		},
		{
			name:    "marker in path without query",
			url:     "https://x.test/url=path",
			outcome: PassThrough,
		},
		{
			name:    "marker inside another parameter value",
			url:     "https://x.test/search?q=url=abc",
			outcome: PassThrough,
		},
		{
			name:    "marker as suffix of another key",
			url:     "https://x.test/a?myurl=abc",
			outcome: PassThrough,
		},
		{
			name:    "empty value",
			url:     "https://x.test/a?url=",
			outcome: PassThrough,
		},
		{
			name:     "first value wins",
			url:      "https://x.test/a?a=1&url=first&url=second",
			outcome:  Redirected,
			location: Endpoint + "first",
		},
		{
			name:     "plain value",
			url:      "https://x.test/a?url=https://news.site/a",
			outcome:  Redirected,
			location: Endpoint + "https%3A%2F%2Fnews.site%2Fa",
		},
		{
			name:     "encoded key still matches",
			url:      "https://x.test/a?q=url=1&%75rl=abc",
			outcome:  Redirected,
			location: Endpoint + "abc",
		},
		{
			name:     "query stops at second question mark",
			url:      "https://x.test/a?url=abc?def=1",
			outcome:  Redirected,
			location: Endpoint + "abc",
		},
		{
			name:    "parameter only after second question mark",
			url:     "https://x.test/a?x=1?url=abc",
			outcome: PassThrough,
		},
		{
			name:     "fragment is carried along",
			url:      "https://x.test/a?url=abc#top",
			outcome:  Redirected,
			location: Endpoint + "abc%23top",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Intercept(tt.url)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.location, d.Location)
			if tt.outcome == Redirected {
				assert.True(t, d.Redirect())
				assert.Equal(t, http.StatusFound, d.Status)
			} else {
				assert.False(t, d.Redirect())
				assert.Zero(t, d.Status)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Equal(t,
		"https://hidewall.io/yeet?y=https%3A%2F%2Fsite.example%2Fpath%3Fq%3D1",
		Wrap("https://site.example/path?q=1"))
}

func TestWrapIsNotIdempotent(t *testing.T) {
	once := Wrap("https://a.test/")
	twice := Wrap(once)

	assert.NotEqual(t, once, twice)
	assert.Equal(t, Endpoint+EncodeURIComponent(once), twice)
}

func TestEncodeURIComponent(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"abcXYZ019":    "abcXYZ019",
		"-_.!~*'()":    "-_.!~*'()",
		"a b":          "a%20b",
		"a+b":          "a%2Bb",
		"/?#[]@$&,;=:": "%2F%3F%23%5B%5D%40%24%26%2C%3B%3D%3A",
		"100%":         "100%25",
		"caf\u00e9":    "caf%C3%A9",
	}

	for in, want := range tests {
		assert.Equal(t, want, EncodeURIComponent(in), "input %q", in)
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "pass_through", PassThrough.String())
	assert.Equal(t, "redirected", Redirected.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
