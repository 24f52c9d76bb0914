package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "https", raw: "https://example.com/a", want: "example.com"},
		{name: "http with query", raw: "http://news.bbc.co.uk?id=3", want: "news.bbc.co.uk"},
		{name: "ftp", raw: "ftp://files.example.org/pub/x.txt", want: "files.example.org"},
		{name: "no scheme", raw: "example.com/a/b", want: "example.com"},
		{name: "bare host", raw: "example.com", want: "example.com"},
		{name: "protocol relative", raw: "//cdn.example.net/lib.js", want: "cdn.example.net"},
		{name: "wayback", raw: "https://web.archive.org/web/2020/https://example.com/a", want: "example.com"},
		{name: "wayback short", raw: "https://web.archive.org/2020/https://foo.com", want: "foo.com"},
		{name: "archive.is", raw: "http://archive.is/20130101/http://www.nytimes.com/story", want: "www.nytimes.com"},
		{name: "webcitation", raw: "http://www.webcitation.org/5kwPxlx3t?url=http://www.example.org/", want: "www.example.org"},
		{name: "archive without target", raw: "https://web.archive.org/web/2020/", want: "web.archive.org"},
		{name: "relative wiki link", raw: "/wiki/Special:BookSources", want: "www.wikipedia.org"},
		{name: "relative w link", raw: "/w/index.php?title=Foo", want: "www.wikipedia.org"},
		{name: "free text", raw: "not a url", want: ""},
		{name: "fragment", raw: "#cite_note-3", want: ""},
		{name: "empty", raw: "", want: ""},
		{name: "only slashes", raw: "///", want: ""},
		{name: "trailing space", raw: "https://example.com ", want: "example.com"},
		{name: "scheme only", raw: "https://", want: ""},
		{name: "upper-case scheme and host", raw: "HTTPS://Example.COM/a", want: "example.com"},
		{name: "scheme then free text", raw: "http://not a url", want: ""},
		{name: "bare scheme", raw: "http:", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Canonicalize(tt.raw))
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://example.com/a",
		"https://web.archive.org/web/2020/https://example.com/a",
		"/wiki/Foo",
		"//cdn.example.net/lib.js",
		"www.wikipedia.org",
		"not a url",
		"mailto:someone@example.com",
		"HTTPS://Example.COM/a",
		" https://example.com ",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		assert.Equal(t, once, Canonicalize(once), "input %q", in)
	}
}

func TestArchiveUnwrapEquivalence(t *testing.T) {
	t.Parallel()

	wrapped := Canonicalize("https://web.archive.org/web/2020/https://example.com/a")
	bare := Canonicalize("https://example.com/a")
	assert.Equal(t, bare, wrapped)
	assert.Equal(t, "example.com", bare)
}

func TestUnwrapPassesThroughPlainLinks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com/http", Unwrap("https://example.com/http"))
	assert.Equal(t, "//archive.is", Unwrap("//archive.is"))
}
