// Package app initializes and holds long-lived services shared by the CLI
// commands, acting as a small dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/config"
	"github.com/JakeFAU/wikitrust/internal/crawler"
	pubsubpublisher "github.com/JakeFAU/wikitrust/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/wikitrust/internal/storage/gcs"
	localstore "github.com/JakeFAU/wikitrust/internal/storage/local"
	memorystore "github.com/JakeFAU/wikitrust/internal/storage/memory"
	"github.com/JakeFAU/wikitrust/internal/storage/postgres"
)

// Closer is one shutdown step.
type Closer interface {
	Close(ctx context.Context) error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func(ctx context.Context) error

// Close calls f.
func (f CloserFunc) Close(ctx context.Context) error { return f(ctx) }

// App holds the services built from Config. The relational store is dialed on
// first use so commands that never touch it do not need a DSN.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	blobs     crawler.BlobStore
	publisher crawler.Publisher

	mu      sync.Mutex
	store   *postgres.Store
	dial    func(ctx context.Context) (*postgres.Store, error)
	closers []namedCloser
}

type namedCloser struct {
	name string
	c    Closer
}

// New creates an App, failing fast when a configured backend cannot be built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.dial = func(ctx context.Context) (*postgres.Store, error) {
		return postgres.Open(ctx, a.dbConfig())
	}

	if err := a.initBlobs(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	logger.Debug("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("notifications", a.publisher != nil),
	)
	return a, nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.AddCloser("gcs client", CloserFunc(func(context.Context) error { return client.Close() }))
		blobs, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.blobs = blobs
	case config.BackendLocal:
		blobs, err := localstore.New(localstore.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.blobs = blobs
	default:
		a.blobs = memorystore.NewBlobStore()
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.AddCloser("pubsub client", CloserFunc(func(context.Context) error { return client.Close() }))
	pub := pubsubpublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.AddCloser("pubsub topic", CloserFunc(func(context.Context) error {
		pub.Stop()
		return nil
	}))
	a.publisher = pub
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Blobs returns the configured blob store.
func (a *App) Blobs() crawler.BlobStore { return a.blobs }

// Publisher returns the notification publisher, or nil when none is configured.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// Store returns the App's own database connection, dialing it on first use.
// Crawl workers do not share it; they use StoreOpener.
func (a *App) Store(ctx context.Context) (*postgres.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	store, err := a.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, namedCloser{name: "database", c: store})
	return store, nil
}

// StoreOpener dials a dedicated connection per call.
func (a *App) StoreOpener() crawler.StoreOpener {
	return postgres.Opener(a.dbConfig())
}

func (a *App) dbConfig() postgres.Config {
	return postgres.Config{DSN: a.cfg.DB.DSN, ConnectTimeout: a.cfg.ConnectTimeout()}
}

// AddCloser registers a shutdown step. Steps run in reverse registration order.
func (a *App) AddCloser(name string, c Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, namedCloser{name: name, c: c})
}

// Close shuts services down in reverse order and returns every failure joined.
// It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.store = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		nc := closers[i]
		if err := nc.c.Close(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", nc.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
	}
	return errors.Join(errs...)
}
