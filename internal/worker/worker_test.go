package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/clock/system"
	"github.com/JakeFAU/wikitrust/internal/crawler"
	"github.com/JakeFAU/wikitrust/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/wikitrust/internal/publisher/memory"
	queuememory "github.com/JakeFAU/wikitrust/internal/queue/memory"
	storememory "github.com/JakeFAU/wikitrust/internal/storage/memory"
)

const examplePage = `<html><body>
<ol class="references">
  <li>Smith. <a href="https://web.archive.org/web/2020/https://news.example.com/a">Story</a></li>
  <li>Doe. <a href="/wiki/Foo">Foo</a></li>
</ol>
</body></html>`

type scriptedFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	// steps are consumed per URL; the last step repeats.
	steps map[string][]fetchStep
}

type fetchStep struct {
	body string
	code int
	err  error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: map[string]int{}, steps: map[string][]fetchStep{}}
}

func (f *scriptedFetcher) on(url string, steps ...fetchStep) *scriptedFetcher {
	f.steps[url] = steps
	return f
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	n := f.calls[req.URL]
	f.calls[req.URL] = n + 1
	steps := f.steps[req.URL]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, err
	}
	if len(steps) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: 404}, nil
	}
	step := steps[min(n, len(steps)-1)]
	if step.err != nil {
		return crawler.FetchResponse{}, step.err
	}
	code := step.code
	if code == 0 {
		code = 200
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: code, Body: []byte(step.body)}, nil
}

func (f *scriptedFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func fastRetry() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond)
}

func newTestWorker(fetcher crawler.Fetcher, open crawler.StoreOpener, pub crawler.Publisher, topic string) *Worker {
	return New(1, fetcher, nil, fastRetry(), open, pub,
		system.Fixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Config{BaseURL: "https://en.wikipedia.org/wiki/", FetchTimeout: time.Second, Topic: topic, RunID: "run-1"},
		zap.NewNop(),
	)
}

func TestProcessPagePersistsCanonicalCitations(t *testing.T) {
	t.Parallel()

	store := storememory.NewCitationStore(0, crawler.Page{ID: "Example", Name: "Example", Language: "en"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/Example", fetchStep{body: examplePage})
	pub := pubmemory.New()
	w := newTestWorker(fetcher, store.Opener(), pub, "pages")
	t.Cleanup(func() { w.closeStore(context.Background()) })

	res := w.ProcessPage(context.Background(), "Example")
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Citations)
	assert.Equal(t, 1, res.Attempts)

	rows := store.Citations("Example")
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].CitationNum)
	require.NotNil(t, rows[0].ProcessedLink)
	assert.Equal(t, "news.example.com", *rows[0].ProcessedLink)
	assert.Equal(t, 1, rows[1].CitationNum)
	require.NotNil(t, rows[1].ProcessedLink)
	assert.Equal(t, "www.wikipedia.org", *rows[1].ProcessedLink)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "pages", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", payload["run_id"])
	assert.Equal(t, "Example", payload["page_id"])
	assert.Equal(t, 2, payload["citations"])
	assert.Equal(t, "2024-05-01T12:00:00Z", payload["timestamp"])
	assert.NotContains(t, payload, "content_hash")
}

func TestProcessPagePublishesContentHash(t *testing.T) {
	t.Parallel()

	store := storememory.NewCitationStore(0, crawler.Page{ID: "Example"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/Example", fetchStep{body: examplePage})
	pub := pubmemory.New()
	w := New(1, fetcher, nil, fastRetry(), store.Opener(), pub, nil,
		Config{
			BaseURL:      "https://en.wikipedia.org/wiki/",
			FetchTimeout: time.Second,
			Topic:        "pages",
			RunID:        "run-1",
			Hasher:       sha256.New(),
		},
		zap.NewNop(),
	)
	t.Cleanup(func() { w.closeStore(context.Background()) })

	res := w.ProcessPage(context.Background(), "Example")
	require.NoError(t, res.Err)

	want, err := sha256.New().Hash([]byte(examplePage))
	require.NoError(t, err)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, want, payload["content_hash"])
}

func TestProcessPagePublishFailureKeepsPage(t *testing.T) {
	t.Parallel()

	store := storememory.NewCitationStore(0, crawler.Page{ID: "Example"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/Example", fetchStep{body: examplePage})
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic unavailable"))
	w := newTestWorker(fetcher, store.Opener(), pub, "pages")
	t.Cleanup(func() { w.closeStore(context.Background()) })

	res := w.ProcessPage(context.Background(), "Example")
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Citations)
	assert.Len(t, store.Citations("Example"), 2)
	assert.Empty(t, pub.Messages())
}

func TestProcessPageWithoutReferences(t *testing.T) {
	t.Parallel()

	store := storememory.NewCitationStore(0, crawler.Page{ID: "Stub"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/Stub", fetchStep{body: "<html><body><p>stub</p></body></html>"})
	w := newTestWorker(fetcher, store.Opener(), nil, "")

	res := w.ProcessPage(context.Background(), "Stub")
	require.NoError(t, res.Err)
	assert.Zero(t, res.Citations)
	assert.Zero(t, store.RowCount())
	opened, _ := store.Handles()
	assert.Zero(t, opened, "no rows means no connection")
}

func TestProcessPageEscapesPageID(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/AC%2FDC", fetchStep{body: "<html></html>"})
	w := newTestWorker(fetcher, nil, nil, "")

	res := w.ProcessPage(context.Background(), "AC/DC")
	require.NoError(t, res.Err)
	assert.Equal(t, 1, fetcher.count("https://en.wikipedia.org/wiki/AC%2FDC"))
}

func TestProcessPageRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		steps        []fetchStep
		wantErr      bool
		wantAttempts int
	}{
		{
			name:         "recovers after 503",
			steps:        []fetchStep{{code: 503}, {body: examplePage}},
			wantAttempts: 2,
		},
		{
			name:         "gives up after max attempts",
			steps:        []fetchStep{{code: 503}},
			wantErr:      true,
			wantAttempts: 2,
		},
		{
			name:         "does not retry 404",
			steps:        []fetchStep{{code: 404}},
			wantErr:      true,
			wantAttempts: 1,
		},
		{
			name:         "retries timeouts",
			steps:        []fetchStep{{err: context.DeadlineExceeded}, {body: examplePage}},
			wantAttempts: 2,
		},
		{
			name:         "does not retry unknown errors",
			steps:        []fetchStep{{err: errors.New("boom")}},
			wantErr:      true,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := storememory.NewCitationStore(0, crawler.Page{ID: "Example"})
			url := "https://en.wikipedia.org/wiki/Example"
			fetcher := newScriptedFetcher().on(url, tt.steps...)
			w := newTestWorker(fetcher, store.Opener(), nil, "")

			res := w.ProcessPage(context.Background(), "Example")
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantAttempts, fetcher.count(url))
			if tt.wantErr {
				require.Error(t, res.Err)
				assert.Zero(t, store.RowCount())
				return
			}
			require.NoError(t, res.Err)
			assert.Equal(t, 2, store.RowCount())
		})
	}
}

func TestProcessPageStopsRetryingWhenCanceled(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/Example", fetchStep{code: 503})
	w := newTestWorker(fetcher, nil, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := w.ProcessPage(ctx, "Example")
	require.Error(t, res.Err)
	assert.LessOrEqual(t, fetcher.count("https://en.wikipedia.org/wiki/Example"), 1)
}

func TestProcessPageOversizedTextFallsBack(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 64)
	page := `<ol class="references"><li>` + long + ` <a href="https://a.example.org/1">a</a></li>` +
		`<li>short <a href="https://b.example.org/2">b</a></li></ol>`
	store := storememory.NewCitationStore(32, crawler.Page{ID: "Long"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/Long", fetchStep{body: page})
	w := newTestWorker(fetcher, store.Opener(), nil, "")

	res := w.ProcessPage(context.Background(), "Long")
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Citations)

	rows := store.Citations("Long")
	require.Len(t, rows, 2)
	assert.Empty(t, rows[0].CitationText)
	assert.Equal(t, "https://a.example.org/1", rows[0].Link)
	assert.Equal(t, "short b", strings.Join(strings.Fields(rows[1].CitationText), " "))
}

type flakyStore struct {
	mu     sync.Mutex
	fail   bool
	closed bool
}

func (s *flakyStore) InsertCitations(_ context.Context, citations []crawler.Citation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("connection reset by peer")
	}
	return len(citations), nil
}

func (s *flakyStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestProcessPageReconnectsAfterConnectionError(t *testing.T) {
	t.Parallel()

	var opened []*flakyStore
	open := func(context.Context) (crawler.CitationStore, error) {
		s := &flakyStore{fail: len(opened) == 0}
		opened = append(opened, s)
		return s, nil
	}
	fetcher := newScriptedFetcher().
		on("https://en.wikipedia.org/wiki/A", fetchStep{body: examplePage}).
		on("https://en.wikipedia.org/wiki/B", fetchStep{body: examplePage})
	w := newTestWorker(fetcher, open, nil, "")

	first := w.ProcessPage(context.Background(), "A")
	require.Error(t, first.Err)
	require.Len(t, opened, 1)
	assert.True(t, opened[0].closed)

	second := w.ProcessPage(context.Background(), "B")
	require.NoError(t, second.Err)
	require.Len(t, opened, 2)
	assert.False(t, opened[1].closed)
}

func TestProcessPageKeepsStoreAfterConstraintError(t *testing.T) {
	t.Parallel()

	// no seeded pages, so every row violates the page foreign key
	store := storememory.NewCitationStore(0)
	fetcher := newScriptedFetcher().
		on("https://en.wikipedia.org/wiki/A", fetchStep{body: examplePage}).
		on("https://en.wikipedia.org/wiki/B", fetchStep{body: examplePage})
	w := newTestWorker(fetcher, store.Opener(), nil, "")

	require.Error(t, w.ProcessPage(context.Background(), "A").Err)
	require.Error(t, w.ProcessPage(context.Background(), "B").Err)

	opened, closed := store.Handles()
	assert.Equal(t, 1, opened)
	assert.Zero(t, closed)
}

func TestRunReportsSkippedAfterAcceptanceStops(t *testing.T) {
	t.Parallel()

	store := storememory.NewCitationStore(0, crawler.Page{ID: "A"}, crawler.Page{ID: "B"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/A", fetchStep{body: examplePage})
	w := newTestWorker(fetcher, store.Opener(), nil, "")

	queue := queuememory.NewQueue(4)
	require.NoError(t, queue.Enqueue(context.Background(), crawler.QueueItem{PageID: "A"}))
	require.NoError(t, queue.Enqueue(context.Background(), crawler.QueueItem{PageID: "B"}))
	queue.Close()

	accept, stop := context.WithCancel(context.Background())
	stop()

	results := make(chan crawler.PageResult, 2)
	w.Run(context.Background(), accept, queue, results)
	close(results)

	var skipped []string
	for r := range results {
		assert.True(t, r.Skipped)
		skipped = append(skipped, r.PageID)
	}
	assert.Equal(t, []string{"A", "B"}, skipped)
	assert.Zero(t, fetcher.count("https://en.wikipedia.org/wiki/A"))
}

func TestRunClosesStoreWhenQueueCloses(t *testing.T) {
	t.Parallel()

	store := storememory.NewCitationStore(0, crawler.Page{ID: "A"})
	fetcher := newScriptedFetcher().on("https://en.wikipedia.org/wiki/A", fetchStep{body: examplePage})
	w := newTestWorker(fetcher, store.Opener(), nil, "")

	queue := queuememory.NewQueue(1)
	require.NoError(t, queue.Enqueue(context.Background(), crawler.QueueItem{PageID: "A"}))
	queue.Close()

	results := make(chan crawler.PageResult, 1)
	w.Run(context.Background(), context.Background(), queue, results)

	res := <-results
	require.NoError(t, res.Err)
	opened, closed := store.Handles()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}
