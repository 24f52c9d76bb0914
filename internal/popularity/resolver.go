package popularity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/crawler"
	"github.com/JakeFAU/wikitrust/internal/metrics"
)

// Lookup results recorded in metrics.
const (
	resultCached  = "cached"
	resultFetched = "fetched"
	resultFailed  = "failed"
)

// Store is the subset of the relational store the resolver needs.
type Store interface {
	UnmappedLinks(ctx context.Context, limit int) ([]crawler.LinkCount, error)
	EnsureDomain(ctx context.Context, domain string) error
	MapLink(ctx context.Context, link, domain string) error
	DomainsMissingPopularity(ctx context.Context) ([]string, error)
	UpdateDomainPopularity(ctx context.Context, domain string, rank, linkCount *int64) error
}

// Summary counts what a Resolve or Refresh pass did.
type Summary struct {
	Processed int
	Updated   int
	Failed    int
}

// Resolver maps canonical links to domains and fills in popularity columns.
type Resolver struct {
	store  Store
	source Source
	blobs  crawler.BlobStore
	prefix string
	logger *zap.Logger
}

// NewResolver constructs a Resolver. Cached records live under prefix in blobs.
func NewResolver(store Store, source Source, blobs crawler.BlobStore, prefix string, logger *zap.Logger) *Resolver {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		source: source,
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ObjectPath returns the blob path of a domain's cached record.
func (r *Resolver) ObjectPath(domain string) string {
	return path.Join(r.prefix, domain+".xml")
}

// Resolve looks up the topN most-cited canonical links that have no domain
// mapping yet, creating Domain rows and caching records on first sight of a
// domain. A failed link is logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, topN int) (Summary, error) {
	links, err := r.store.UnmappedLinks(ctx, topN)
	if err != nil {
		return Summary{}, fmt.Errorf("list unmapped links: %w", err)
	}
	var summary Summary
	seen := make(map[string]struct{})
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		domain, err := r.resolveLink(ctx, link.Link, seen)
		if err != nil {
			summary.Failed++
			metrics.ObservePopularityLookup(resultFailed)
			r.logger.Warn("resolve link failed", zap.String("link", link.Link), zap.Error(err))
			continue
		}
		summary.Updated++
		r.logger.Debug("link mapped",
			zap.String("link", link.Link),
			zap.String("domain", domain),
			zap.Int64("citations", link.Count),
		)
	}
	r.logger.Info("links resolved",
		zap.Int("processed", summary.Processed),
		zap.Int("mapped", summary.Updated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (r *Resolver) resolveLink(ctx context.Context, link string, seen map[string]struct{}) (string, error) {
	payload, err := r.source.Lookup(ctx, link)
	if err != nil {
		return "", err
	}
	metrics.ObservePopularityLookup(resultFetched)
	stats, err := Parse(payload)
	if err != nil {
		return "", err
	}
	domain := stats.Domain
	if domain == "" {
		domain = link
	}
	if _, ok := seen[domain]; !ok {
		if err := r.store.EnsureDomain(ctx, domain); err != nil {
			return "", err
		}
		if err := r.cache(ctx, domain, payload); err != nil {
			return "", err
		}
		seen[domain] = struct{}{}
	}
	if err := r.store.MapLink(ctx, link, domain); err != nil {
		return "", err
	}
	return domain, nil
}

// Refresh fills popularity columns for every domain still missing its in-link
// count, reading cached records and fetching those that are not cached.
func (r *Resolver) Refresh(ctx context.Context) (Summary, error) {
	domains, err := r.store.DomainsMissingPopularity(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list domains: %w", err)
	}
	var summary Summary
	for _, domain := range domains {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		if err := r.refreshDomain(ctx, domain); err != nil {
			summary.Failed++
			metrics.ObservePopularityLookup(resultFailed)
			r.logger.Warn("refresh domain failed", zap.String("domain", domain), zap.Error(err))
			continue
		}
		summary.Updated++
	}
	r.logger.Info("domains refreshed",
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (r *Resolver) refreshDomain(ctx context.Context, domain string) error {
	payload, err := r.blobs.GetObject(ctx, r.ObjectPath(domain))
	switch {
	case err == nil:
		metrics.ObservePopularityLookup(resultCached)
	case errors.Is(err, crawler.ErrNotFound):
		r.logger.Info("record not cached, fetching", zap.String("domain", domain))
		if payload, err = r.source.Lookup(ctx, domain); err != nil {
			return err
		}
		metrics.ObservePopularityLookup(resultFetched)
		if err := r.cache(ctx, domain, payload); err != nil {
			return err
		}
	default:
		return fmt.Errorf("read cached record: %w", err)
	}

	stats, err := Parse(payload)
	if err != nil {
		return err
	}
	if err := r.store.UpdateDomainPopularity(ctx, domain, stats.Rank, stats.LinksInCount); err != nil {
		return fmt.Errorf("update %s: %w", domain, err)
	}
	return nil
}

func (r *Resolver) cache(ctx context.Context, domain string, payload []byte) error {
	if _, err := r.blobs.PutObject(ctx, r.ObjectPath(domain), "application/xml", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("cache record for %s: %w", domain, err)
	}
	return nil
}
