package popularity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikitrust/internal/crawler"
	"github.com/JakeFAU/wikitrust/internal/storage/memory"
)

func record(domain, rank, links string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<aws:UrlInfoResponse xmlns:aws="http://awis.amazonaws.com/doc/2005-07-11">
  <aws:Response>
    <aws:UrlInfoResult>
      <aws:Alexa>
        <aws:ContactInfo><aws:DataUrl type="canonical">%s</aws:DataUrl></aws:ContactInfo>
        <aws:ContentData><aws:LinksInCount>%s</aws:LinksInCount></aws:ContentData>
        <aws:TrafficData><aws:Rank>%s</aws:Rank></aws:TrafficData>
      </aws:Alexa>
    </aws:UrlInfoResult>
  </aws:Response>
</aws:UrlInfoResponse>`, domain, links, rank))
}

func TestParse(t *testing.T) {
	t.Parallel()

	stats, err := Parse(record("nytimes.com", "118", "1,234"))
	require.NoError(t, err)
	assert.Equal(t, "nytimes.com", stats.Domain)
	require.NotNil(t, stats.Rank)
	assert.EqualValues(t, 118, *stats.Rank)
	require.NotNil(t, stats.LinksInCount)
	assert.EqualValues(t, 1234, *stats.LinksInCount)

	blank, err := Parse(record("tiny.org", "", " "))
	require.NoError(t, err)
	assert.Nil(t, blank.Rank)
	assert.Nil(t, blank.LinksInCount)

	_, err = Parse(record("bad.org", "abc", "1"))
	require.Error(t, err)

	empty, err := Parse([]byte(`<root/>`))
	require.NoError(t, err)
	assert.Empty(t, empty.Domain)
}

type fakeSource struct {
	mu      sync.Mutex
	records map[string][]byte
	calls   []string
}

func (s *fakeSource) Lookup(_ context.Context, target string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, target)
	payload, ok := s.records[target]
	if !ok {
		return nil, &crawler.StatusError{URL: target, Code: 404}
	}
	return payload, nil
}

type fakeStore struct {
	links   []crawler.LinkCount
	domains map[string]*[2]*int64
	mapping map[string]string
}

func newFakeStore(links ...crawler.LinkCount) *fakeStore {
	return &fakeStore{links: links, domains: map[string]*[2]*int64{}, mapping: map[string]string{}}
}

func (s *fakeStore) UnmappedLinks(_ context.Context, limit int) ([]crawler.LinkCount, error) {
	var out []crawler.LinkCount
	for _, l := range s.links {
		if _, ok := s.mapping[l.Link]; !ok && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) EnsureDomain(_ context.Context, domain string) error {
	if _, ok := s.domains[domain]; !ok {
		s.domains[domain] = &[2]*int64{}
	}
	return nil
}

func (s *fakeStore) MapLink(_ context.Context, link, domain string) error {
	s.mapping[link] = domain
	return nil
}

func (s *fakeStore) DomainsMissingPopularity(context.Context) ([]string, error) {
	var out []string
	for d, v := range s.domains {
		if v[1] == nil {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) UpdateDomainPopularity(_ context.Context, domain string, rank, linkCount *int64) error {
	v, ok := s.domains[domain]
	if !ok {
		return crawler.ErrNotFound
	}
	v[0], v[1] = rank, linkCount
	return nil
}

func TestResolveMapsLinksAndCachesRecords(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		crawler.LinkCount{Link: "www.nytimes.com", Count: 40},
		crawler.LinkCount{Link: "nytimes.com", Count: 12},
		crawler.LinkCount{Link: "unknown.example", Count: 3},
	)
	src := &fakeSource{records: map[string][]byte{
		"www.nytimes.com": record("nytimes.com", "118", "2000"),
		"nytimes.com":     record("nytimes.com", "118", "2000"),
	}}
	blobs := memory.NewBlobStore()
	r := NewResolver(store, src, blobs, "popularity/", nil)

	summary, err := r.Resolve(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Updated: 2, Failed: 1}, summary)

	assert.Equal(t, map[string]string{
		"www.nytimes.com": "nytimes.com",
		"nytimes.com":     "nytimes.com",
	}, store.mapping)
	assert.Len(t, store.domains, 1)

	cached, err := blobs.GetObject(context.Background(), "popularity/nytimes.com.xml")
	require.NoError(t, err)
	assert.Equal(t, record("nytimes.com", "118", "2000"), cached)

	again, err := r.Resolve(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Processed, "only the failed link is retried")
}

func TestResolveRespectsTopN(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		crawler.LinkCount{Link: "a.com", Count: 5},
		crawler.LinkCount{Link: "b.com", Count: 4},
	)
	src := &fakeSource{records: map[string][]byte{
		"a.com": record("a.com", "1", "10"),
		"b.com": record("b.com", "2", "20"),
	}}
	r := NewResolver(store, src, memory.NewBlobStore(), "p", nil)

	summary, err := r.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"a.com"}, src.calls)
}

func TestRefreshUsesCacheThenSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	require.NoError(t, store.EnsureDomain(ctx, "cached.com"))
	require.NoError(t, store.EnsureDomain(ctx, "fresh.com"))
	require.NoError(t, store.EnsureDomain(ctx, "missing.com"))

	blobs := memory.NewBlobStore()
	src := &fakeSource{records: map[string][]byte{
		"fresh.com": record("fresh.com", "7", "700"),
	}}
	r := NewResolver(store, src, blobs, "p", nil)
	_, err := blobs.PutObject(ctx, r.ObjectPath("cached.com"), "application/xml",
		bytes.NewReader(record("cached.com", "3", "300")))
	require.NoError(t, err)

	summary, err := r.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Updated: 2, Failed: 1}, summary)

	assert.EqualValues(t, 300, *store.domains["cached.com"][1])
	assert.EqualValues(t, 3, *store.domains["cached.com"][0])
	assert.EqualValues(t, 700, *store.domains["fresh.com"][1])
	assert.Nil(t, store.domains["missing.com"][1])
	assert.ElementsMatch(t, []string{"fresh.com", "missing.com"}, src.calls)

	_, err = blobs.GetObject(ctx, "p/fresh.com.xml")
	require.NoError(t, err, "fetched records are cached")
}

type brokenBlobs struct{ *memory.BlobStore }

func (*brokenBlobs) GetObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("permission denied")
}

func TestRefreshDoesNotFetchOnCacheError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	require.NoError(t, store.EnsureDomain(context.Background(), "a.com"))
	src := &fakeSource{records: map[string][]byte{"a.com": record("a.com", "1", "1")}}
	r := NewResolver(store, src, &brokenBlobs{BlobStore: memory.NewBlobStore()}, "p", nil)

	summary, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, src.calls)
}

type staticFetcher struct {
	got  crawler.FetchRequest
	code int
}

func (f *staticFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.got = req
	return crawler.FetchResponse{URL: req.URL, StatusCode: f.code, Body: []byte("<x/>")}, nil
}

func TestHTTPSourceLookup(t *testing.T) {
	t.Parallel()

	f := &staticFetcher{code: 200}
	src := &HTTPSource{Endpoint: "https://stats.example.com/urlinfo?url=", Fetcher: f}
	body, err := src.Lookup(context.Background(), "news.example.com/a b")
	require.NoError(t, err)
	assert.Equal(t, "<x/>", string(body))
	assert.Equal(t, "https://stats.example.com/urlinfo?url=news.example.com%2Fa+b", f.got.URL)

	f.code = 503
	_, err = src.Lookup(context.Background(), "x.com")
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)

	_, err = (&HTTPSource{}).Lookup(context.Background(), "x.com")
	require.Error(t, err)
}
