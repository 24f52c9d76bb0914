// Package dispatcher fans a frontier snapshot out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikitrust/internal/crawler"
	"github.com/JakeFAU/wikitrust/internal/queue/memory"
	"github.com/JakeFAU/wikitrust/internal/worker"
)

// Frontier lists the pages that still need crawling.
type Frontier interface {
	PendingPages(ctx context.Context) ([]crawler.Page, error)
}

// Config controls the pool.
type Config struct {
	QueueDepth int
}

// Summary aggregates the outcome of one Run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Citations int
	Failures  []crawler.PageResult
}

// Pool runs pages through a fixed set of workers.
type Pool struct {
	workers []*worker.Worker
	cfg     Config
	logger  *zap.Logger

	drainOnce sync.Once
	drain     chan struct{}
}

// New creates a Pool. Each worker handles one page at a time.
func New(workers []*worker.Worker, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = max(len(workers), 1)
	}
	return &Pool{
		workers: workers,
		cfg:     cfg,
		logger:  logger,
		drain:   make(chan struct{}),
	}
}

// Drain stops acceptance of new pages. Pages already being processed finish;
// queued pages are reported as skipped. Safe to call more than once.
func (p *Pool) Drain() {
	p.drainOnce.Do(func() { close(p.drain) })
}

// Crawl snapshots the frontier once and runs it.
func (p *Pool) Crawl(ctx context.Context, frontier Frontier) (Summary, error) {
	pages, err := frontier.PendingPages(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("resolve frontier: %w", err)
	}
	ids := make([]string, len(pages))
	for i, page := range pages {
		ids[i] = page.ID
	}
	p.logger.Info("frontier resolved", zap.Int("pages", len(ids)))
	return p.Run(ctx, ids), nil
}

// Run processes every page exactly once and blocks until all workers return.
// Canceling ctx behaves like Drain; in-flight pages complete on a context
// detached from that cancellation.
func (p *Pool) Run(ctx context.Context, pages []string) Summary {
	pages = dedupe(pages)
	if len(p.workers) == 0 {
		return Summary{Total: len(pages), Skipped: len(pages)}
	}

	accept, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-p.drain:
			stop()
		case <-accept.Done():
		}
	}()
	process := context.WithoutCancel(ctx)

	queue := memory.NewQueue(p.cfg.QueueDepth)
	results := make(chan crawler.PageResult, len(p.workers))
	collected := make(chan Summary, 1)
	go func() { collected <- collect(results) }()

	var g errgroup.Group
	g.Go(func() error {
		defer queue.Close()
		for i, id := range pages {
			item := crawler.QueueItem{PageID: id, Enqueued: time.Now().UTC()}
			if err := queue.Enqueue(accept, item); err != nil {
				p.logger.Info("acceptance stopped", zap.Int("unqueued", len(pages)-i))
				for _, rest := range pages[i:] {
					results <- crawler.PageResult{PageID: rest, Skipped: true}
				}
				return nil
			}
		}
		return nil
	})
	for _, w := range p.workers {
		g.Go(func() error {
			w.Run(process, accept, queue, results)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	summary := <-collected
	p.logger.Info("crawl finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("citations", summary.Citations),
	)
	return summary
}

func collect(results <-chan crawler.PageResult) Summary {
	var s Summary
	for r := range results {
		s.Total++
		switch {
		case r.Skipped:
			s.Skipped++
		case r.Err != nil:
			s.Failed++
			s.Failures = append(s.Failures, r)
		default:
			s.Succeeded++
			s.Citations += r.Citations
		}
	}
	return s
}

func dedupe(pages []string) []string {
	seen := make(map[string]struct{}, len(pages))
	out := make([]string, 0, len(pages))
	for _, id := range pages {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
