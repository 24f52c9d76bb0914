// Package citation turns article markup into citation rows: it finds the
// reference entries, pulls their outbound links, and reduces each link to the
// site that hosts it.
package citation

import (
	"regexp"
	"strings"
)

// archiveMarkers identify links wrapped by a web archive.
var archiveMarkers = []string{
	"//web.archive.org",
	"//archive.is",
	"//www.webcitation.org",
}

// hostPattern captures the authority of an optionally schemed link. The host
// must be followed by a path, query, fragment or the end of input so that free
// text does not pass as a host. When the schemed form cannot match, the
// scheme itself is captured; BaseURL rejects that.
var hostPattern = regexp.MustCompile(`^(?:(?i:https?|ftp):/)?/?/?([^/\s?#]+)(?:[/?#]|$)`)

// relativeHosts are path segments of same-site links that parse as a host.
var relativeHosts = map[string]string{
	"wiki": "www.wikipedia.org",
	"w":    "www.wikipedia.org",
}

// Canonicalize reduces a raw link to its lower-cased host. It returns "" for
// anything that does not look like a link.
func Canonicalize(raw string) string {
	host := strings.ToLower(BaseURL(Unwrap(strings.TrimSpace(raw))))
	if rewrite, ok := relativeHosts[host]; ok {
		return rewrite
	}
	return host
}

// Unwrap strips a web-archive prefix, returning the archived link. Links
// without a known archive marker are returned unchanged.
func Unwrap(raw string) string {
	if !isArchived(raw) || len(raw) <= 5 {
		return raw
	}
	idx := strings.Index(raw[5:], "http")
	if idx < 0 {
		return raw
	}
	return raw[5+idx:]
}

// BaseURL extracts the host component, or "" when the link has none.
func BaseURL(link string) string {
	m := hostPattern.FindStringSubmatch(strings.TrimSpace(link))
	// a host never ends in ':'; that is a scheme with nothing after it
	if m == nil || strings.HasSuffix(m[1], ":") {
		return ""
	}
	return m[1]
}

func isArchived(link string) bool {
	for _, marker := range archiveMarkers {
		if strings.Contains(link, marker) {
			return true
		}
	}
	return false
}
