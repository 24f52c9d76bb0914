package postgres

import (
	"context"
	"sync"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

// Shared serializes read access to one Store so HTTP handlers can use it
// concurrently.
type Shared struct {
	mu    sync.Mutex
	store *Store
}

// NewShared wraps store.
func NewShared(store *Store) *Shared {
	return &Shared{store: store}
}

// Ping checks the connection is alive.
func (s *Shared) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Ping(ctx)
}

// DomainStats runs Store.DomainStats.
func (s *Shared) DomainStats(ctx context.Context) ([]crawler.DomainStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DomainStats(ctx)
}

// NewsDomainsByPage runs Store.NewsDomainsByPage.
func (s *Shared) NewsDomainsByPage(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.NewsDomainsByPage(ctx)
}
