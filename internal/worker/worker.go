// Package worker implements the per-page crawl pipeline: fetch, extract,
// canonicalize, persist, notify.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/citation"
	"github.com/JakeFAU/wikitrust/internal/crawler"
	"github.com/JakeFAU/wikitrust/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	BaseURL      string
	FetchTimeout time.Duration
	Topic        string
	RunID        string
	// Hasher, when set, adds a body digest to each notification.
	Hasher crawler.Hasher
}

// Worker processes one page at a time and owns one store handle.
type Worker struct {
	id        int
	fetcher   crawler.Fetcher
	limiter   crawler.RateLimiter
	retry     crawler.RetryPolicy
	open      crawler.StoreOpener
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	store crawler.CitationStore
}

// New constructs a Worker. limiter, retry, and publisher may be nil.
func New(
	id int,
	fetcher crawler.Fetcher,
	limiter crawler.RateLimiter,
	retry crawler.RetryPolicy,
	open crawler.StoreOpener,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Worker{
		id:        id,
		fetcher:   fetcher,
		limiter:   limiter,
		retry:     retry,
		open:      open,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run consumes the queue until it is closed or ctx ends, sending one result per
// dequeued page. Pages dequeued after accept is done are reported as skipped
// without being fetched. The worker's store handle is closed on return.
func (w *Worker) Run(ctx, accept context.Context, queue crawler.Queue, results chan<- crawler.PageResult) {
	defer w.closeStore(ctx)
	for {
		item, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("queue drained", zap.Error(err))
			}
			return
		}
		if accept.Err() != nil {
			metrics.ObservePage(metrics.StatusSkipped)
			results <- crawler.PageResult{PageID: item.PageID, Skipped: true}
			continue
		}
		results <- w.ProcessPage(ctx, item.PageID)
	}
}

// ProcessPage runs the full pipeline for one page. Failures are returned in the
// result, never panicked or propagated to sibling workers.
func (w *Worker) ProcessPage(ctx context.Context, pageID string) crawler.PageResult {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result := w.processPage(ctx, pageID)
	switch {
	case result.Err != nil:
		metrics.ObservePage(metrics.StatusFailed)
		w.logger.Warn("page failed",
			zap.String("page_id", pageID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
	default:
		metrics.ObservePage(metrics.StatusSucceeded)
		metrics.ObserveCitations(result.Citations)
		w.logger.Debug("page processed",
			zap.String("page_id", pageID),
			zap.Int("citations", result.Citations),
		)
	}
	return result
}

func (w *Worker) processPage(ctx context.Context, pageID string) crawler.PageResult {
	result := crawler.PageResult{PageID: pageID}
	pageURL := w.pageURL(pageID)

	resp, attempts, err := w.fetchWithRetry(ctx, pageURL)
	result.Attempts = attempts
	if err != nil {
		result.Err = fmt.Errorf("fetch page: %w", err)
		return result
	}

	doc, err := citation.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		result.Err = err
		return result
	}
	rows := citation.BuildCitations(pageID, citation.Extract(doc))
	if len(rows) == 0 {
		return result
	}

	store, err := w.storeHandle(ctx)
	if err != nil {
		result.Err = err
		return result
	}
	n, err := store.InsertCitations(ctx, rows)
	result.Citations = n
	switch {
	case err == nil:
	case crawler.OnlyRowErrors(err):
		w.logger.Warn("citation rows dropped",
			zap.String("page_id", pageID),
			zap.Int("stored", n),
			zap.Int("built", len(rows)),
			zap.Error(err),
		)
	default:
		if !crawler.IsConstraint(err) {
			// the handle may be dead; the next page dials a fresh one
			w.closeStore(ctx)
		}
		result.Err = fmt.Errorf("persist citations: %w", err)
		return result
	}

	w.publish(ctx, pageID, n, w.digest(pageID, resp.Body))
	return result
}

func (w *Worker) fetchWithRetry(ctx context.Context, pageURL string) (crawler.FetchResponse, int, error) {
	for attempt := 1; ; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx, pageURL); err != nil {
				return crawler.FetchResponse{}, attempt - 1, err
			}
		}
		resp, err := w.fetchOnce(ctx, pageURL)
		if err == nil {
			return resp, attempt, nil
		}
		if ctx.Err() != nil || w.retry == nil || !w.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, attempt, err
		}
		metrics.ObserveRetry()
		delay := w.retry.Backoff(attempt)
		w.logger.Info("retrying fetch",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return crawler.FetchResponse{}, attempt, err
		}
	}
}

func (w *Worker) fetchOnce(ctx context.Context, pageURL string) (crawler.FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := w.fetcher.Fetch(attemptCtx, crawler.FetchRequest{URL: pageURL})
	metrics.ObserveFetch(time.Since(start))
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return crawler.FetchResponse{}, &crawler.StatusError{URL: pageURL, Code: resp.StatusCode}
	}
	return resp, nil
}

func (w *Worker) storeHandle(ctx context.Context) (crawler.CitationStore, error) {
	if w.store != nil {
		return w.store, nil
	}
	if w.open == nil {
		return nil, errors.New("no citation store configured")
	}
	store, err := w.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	w.store = store
	return store, nil
}

func (w *Worker) closeStore(ctx context.Context) {
	if w.store == nil {
		return
	}
	if err := w.store.Close(ctx); err != nil {
		w.logger.Warn("close store failed", zap.Error(err))
	}
	w.store = nil
}

func (w *Worker) digest(pageID string, body []byte) string {
	if w.cfg.Hasher == nil {
		return ""
	}
	sum, err := w.cfg.Hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash page body failed", zap.String("page_id", pageID), zap.Error(err))
		return ""
	}
	return sum
}

func (w *Worker) publish(ctx context.Context, pageID string, citations int, digest string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":    w.cfg.RunID,
		"page_id":   pageID,
		"citations": citations,
		"timestamp": w.now().Format(time.RFC3339),
	}
	if digest != "" {
		payload["content_hash"] = digest
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish failed", zap.String("page_id", pageID), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

func (w *Worker) pageURL(pageID string) string {
	return strings.TrimRight(w.cfg.BaseURL, "/") + "/" + url.PathEscape(pageID)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
