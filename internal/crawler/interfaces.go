package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for pending pages.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RowInserter writes a single row into a table.
type RowInserter interface {
	InsertRow(ctx context.Context, table string, row Record) error
}

// CitationStore is the per-worker persistence handle.
type CitationStore interface {
	InsertCitations(ctx context.Context, citations []Citation) (int, error)
	Close(ctx context.Context) error
}

// StoreOpener opens a fresh CitationStore; each worker owns the one it opens.
type StoreOpener func(ctx context.Context) (CitationStore, error)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter delays requests to the same host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher fingerprints fetched page bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
