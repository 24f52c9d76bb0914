package ranking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

// StatsSource supplies aggregated per-domain rows.
type StatsSource interface {
	DomainStats(ctx context.Context) ([]crawler.DomainStat, error)
}

// Options controls Engine.Compute.
type Options struct {
	Residual ResidualOptions
	// NewsOnly restricts the output to news sites after the fit, so the trust
	// factor is still measured against every domain.
	NewsOnly bool
}

// Engine computes the ranked trust-factor dataset.
type Engine struct {
	source StatsSource
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(source StatsSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, logger: logger}
}

// Compute aggregates, fits, and ranks. The result is ordered by trust factor,
// highest first, and carries ranks for citation volume, external in-links, and
// trust factor plus their rank differential.
func (e *Engine) Compute(ctx context.Context, opts Options) (Dataset, error) {
	stats, err := e.source.DomainStats(ctx)
	if err != nil {
		return Dataset{}, fmt.Errorf("load domain stats: %w", err)
	}
	ds := FromStats(stats)

	trust, err := Residual(ds.Column(ColumnExternalLinkCount), ds.Column(ColumnLinkCount), opts.Residual)
	if err != nil {
		return Dataset{}, fmt.Errorf("fit trust factor: %w", err)
	}
	ds = ds.WithColumn(ColumnTrustFactor, trust)

	if opts.NewsOnly {
		ds = Filter(ds, NewsOnly)
	}

	ds, err = Rank(ds,
		[]string{ColumnLinkCount, ColumnExternalLinkCount},
		[]bool{false, false},
	)
	if err != nil {
		return Dataset{}, err
	}
	ds, err = RankDifferential(ds, ColumnLinkCount, ColumnExternalLinkCount, ColumnRankDifferential)
	if err != nil {
		return Dataset{}, err
	}
	ds, err = Rank(ds, []string{ColumnTrustFactor}, []bool{false})
	if err != nil {
		return Dataset{}, err
	}

	e.logger.Info("metrics computed",
		zap.Int("domains", len(stats)),
		zap.Int("rows", ds.Len()),
		zap.Bool("news_only", opts.NewsOnly),
	)
	return ds, nil
}
