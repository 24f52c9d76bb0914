package popularity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

// Source returns the raw popularity record for a link or domain.
type Source interface {
	Lookup(ctx context.Context, target string) ([]byte, error)
}

// HTTPSource queries an HTTP endpoint through a Fetcher. The escaped target is
// appended to Endpoint, e.g. "https://stats.example.com/urlinfo?url=".
type HTTPSource struct {
	Endpoint string
	Fetcher  crawler.Fetcher
	Headers  map[string]string
}

// Lookup fetches the record for target.
func (s *HTTPSource) Lookup(ctx context.Context, target string) ([]byte, error) {
	if s.Endpoint == "" {
		return nil, fmt.Errorf("popularity endpoint is not configured")
	}
	reqURL := s.Endpoint + url.QueryEscape(strings.TrimSpace(target))
	headers := make(http.Header, len(s.Headers))
	for k, v := range s.Headers {
		headers.Set(k, v)
	}
	resp, err := s.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: reqURL, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &crawler.StatusError{URL: reqURL, Code: resp.StatusCode}
	}
	return resp.Body, nil
}
