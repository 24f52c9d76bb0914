package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/api"
	"github.com/JakeFAU/wikitrust/internal/app"
	"github.com/JakeFAU/wikitrust/internal/clock/system"
	"github.com/JakeFAU/wikitrust/internal/crawler"
	"github.com/JakeFAU/wikitrust/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/wikitrust/internal/fetcher/colly"
	"github.com/JakeFAU/wikitrust/internal/hash/sha256"
	"github.com/JakeFAU/wikitrust/internal/id/uuid"
	"github.com/JakeFAU/wikitrust/internal/logging"
	"github.com/JakeFAU/wikitrust/internal/policy/ratelimit"
	"github.com/JakeFAU/wikitrust/internal/worker"
)

type crawlOptions struct {
	concurrency int
	metricsAddr string
}

// newCrawlCmd creates the 'crawl' subcommand. It snapshots the frontier once,
// processes every pending page through the worker pool, and prints a summary.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every page that has no citations stored yet",
		Long: `Resolves the frontier (pages without any citation rows), fetches each page,
extracts its references, canonicalizes every link, and stores the citations.
SIGINT or SIGTERM stops accepting new pages; pages already in flight finish.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "number of workers (overrides crawler.concurrency)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and probes on this address while crawling")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	ctx := cmd.Context()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.WithRun(appInstance.Logger(), runID)

	store, err := appInstance.Store(ctx)
	if err != nil {
		return err
	}

	concurrency := cfg.Crawler.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}
	pool := dispatcher.New(buildWorkers(appInstance, concurrency, runID, logger),
		dispatcher.Config{QueueDepth: cfg.Crawler.QueueDepth}, logger)

	addr := cfg.Server.MetricsAddr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	stopServer := startOpsServer(ctx, addr, store.Ping, logger)
	defer stopServer()

	started := time.Now()
	summary, err := pool.Crawl(ctx, store)
	if err != nil {
		return err
	}
	logger.Info("crawl finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("citations", summary.Citations),
		zap.Duration("elapsed", time.Since(started)),
	)
	return printCrawlSummary(cmd, runID, summary)
}

func buildWorkers(appInstance *app.App, n int, runID string, logger *zap.Logger) []*worker.Worker {
	cfg := appInstance.Config()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimitRPS, Burst: cfg.Crawler.RateLimitBurst})
	initial, maxDelay := cfg.Backoff()
	retry := crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxAttempts, initial, maxDelay)

	topic := ""
	if appInstance.Publisher() != nil {
		topic = cfg.PubSub.TopicName
	}
	workerCfg := worker.Config{
		BaseURL:      cfg.Crawler.BaseURL,
		FetchTimeout: cfg.FetchTimeout(),
		Topic:        topic,
		RunID:        runID,
		Hasher:       sha256.New(),
	}

	workers := make([]*worker.Worker, n)
	for i := range workers {
		workers[i] = worker.New(i, fetcher, limiter, retry, appInstance.StoreOpener(),
			appInstance.Publisher(), system.New(), workerCfg, logger)
	}
	return workers
}

// startOpsServer serves probes and /metrics on addr until the returned stop
// function is called. An empty addr disables it.
func startOpsServer(ctx context.Context, addr string, ready api.ReadyFunc, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(nil, ready, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// the server outlives the drain so the final counters can still be scraped
	serverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := serveUntilDone(serverCtx, srv, logger); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printCrawlSummary(cmd *cobra.Command, runID string, s dispatcher.Summary) error {
	rows := [][]string{
		{"run", runID},
		{"pages", strconv.Itoa(s.Total)},
		{"succeeded", strconv.Itoa(s.Succeeded)},
		{"failed", strconv.Itoa(s.Failed)},
		{"skipped", strconv.Itoa(s.Skipped)},
		{"citations", strconv.Itoa(s.Citations)},
	}
	if err := renderTable(cmd.OutOrStdout(), []string{"Metric", "Value"}, rows); err != nil {
		return err
	}
	if len(s.Failures) == 0 {
		return nil
	}
	failures := make([][]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		failures = append(failures, []string{f.PageID, strconv.Itoa(f.Attempts), msg})
	}
	return renderTable(cmd.OutOrStdout(), []string{"Page", "Attempts", "Error"}, failures)
}
