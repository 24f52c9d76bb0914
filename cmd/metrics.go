package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/config"
	"github.com/JakeFAU/wikitrust/internal/ranking"
)

type metricsOptions struct {
	top      int
	all      bool
	newsOnly bool
	csvPath  string
	graph    string
}

// newMetricsCmd creates the 'metrics' subcommand, which ranks every resolved
// domain by trust factor.
func newMetricsCmd() *cobra.Command {
	opts := &metricsOptions{}
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Ranks cited domains by trust factor",
		Long: `Aggregates citation counts per domain, fits citation volume against external
in-link counts on a log-log scale, and prints the domains that sit furthest above
and below the fit. --csv writes the full ranked table; --graph writes a node/link
document pairing the ranking with news-site co-citations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMetrics(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.top, "top", 0, "rows to print from each end (overrides ranking.top)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "print every ranked domain")
	cmd.Flags().BoolVar(&opts.newsOnly, "news", false, "restrict output to news sites (overrides ranking.news_only)")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "write the ranked table as CSV to this path")
	cmd.Flags().StringVar(&opts.graph, "graph", "", "write the chart graph as JSON to this path")
	return cmd
}

func runMetrics(cmd *cobra.Command, opts *metricsOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	store, err := appInstance.Store(ctx)
	if err != nil {
		return err
	}

	rankingOpts := rankingOptions(cfg)
	if opts.newsOnly {
		rankingOpts.NewsOnly = true
	}
	ds, err := ranking.NewEngine(store, logger).Compute(ctx, rankingOpts)
	if err != nil {
		return err
	}
	logger.Info("ranking computed", zap.Int("domains", ds.Len()), zap.Bool("news_only", rankingOpts.NewsOnly))

	if opts.csvPath != "" {
		if err := writeMetricsCSV(opts.csvPath, ds); err != nil {
			return err
		}
		logger.Info("ranking exported", zap.String("path", opts.csvPath))
	}

	if opts.graph != "" {
		pages, err := store.NewsDomainsByPage(ctx)
		if err != nil {
			return err
		}
		graph := ranking.BuildGraph(ds, ranking.Connections(ranking.CoOccurrence(pages)))
		if err := writeJSONFile(opts.graph, graph); err != nil {
			return err
		}
		logger.Info("graph exported", zap.String("path", opts.graph),
			zap.Int("nodes", len(graph.Nodes)), zap.Int("links", len(graph.Links)))
	}

	out := cmd.OutOrStdout()
	if opts.all {
		return printDomainRows(out, ds.Rows)
	}
	n := cfg.Ranking.Top
	if opts.top > 0 {
		n = opts.top
	}
	top, bottom := ranking.TopBottom(ds, n)
	fmt.Fprintf(out, "Highest trust factor (%d of %d)\n", len(top), ds.Len())
	if err := printDomainRows(out, top); err != nil {
		return err
	}
	fmt.Fprintf(out, "Lowest trust factor (%d of %d)\n", len(bottom), ds.Len())
	return printDomainRows(out, bottom)
}

func rankingOptions(cfg config.Config) ranking.Options {
	return ranking.Options{
		Residual: ranking.ResidualOptions{
			LogX:     cfg.Ranking.LogX,
			LogY:     cfg.Ranking.LogY,
			Reversal: cfg.Ranking.Reversal,
		},
		NewsOnly: cfg.Ranking.NewsOnly,
	}
}

func printDomainRows(w io.Writer, rows []ranking.Row) error {
	header := []string{"Rank", "Domain", "News", "Citations", "In-links", "Rank diff", "Trust factor"}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{
			formatFloat(r.Value(ranking.RankColumn(ranking.ColumnTrustFactor))),
			r.Domain,
			strconv.FormatBool(r.NewsSite),
			formatFloat(r.Value(ranking.ColumnLinkCount)),
			formatFloat(r.Value(ranking.ColumnExternalLinkCount)),
			formatFloat(r.Value(ranking.ColumnRankDifferential)),
			formatFloat(r.Value(ranking.ColumnTrustFactor)),
		})
	}
	return renderTable(w, header, table)
}

// metricRecord is one CSV line. Nil fields are written as empty cells.
type metricRecord struct {
	Domain            string   `csv:"domain"`
	NewsSite          bool     `csv:"news_site"`
	LinkCount         *float64 `csv:"link_count"`
	ExternalRank      *float64 `csv:"external_rank"`
	ExternalLinkCount *float64 `csv:"external_linkcount"`
	TrustFactor       *float64 `csv:"trust_factor"`
	LinkCountRank     *float64 `csv:"link_count_ordinal_rank"`
	ExternalRankOrd   *float64 `csv:"external_linkcount_ordinal_rank"`
	RankDifferential  *float64 `csv:"rank_differential"`
	TrustFactorRank   *float64 `csv:"trust_factor_ordinal_rank"`
}

func metricRecords(ds ranking.Dataset) []metricRecord {
	out := make([]metricRecord, 0, ds.Len())
	for _, r := range ds.Rows {
		out = append(out, metricRecord{
			Domain:            r.Domain,
			NewsSite:          r.NewsSite,
			LinkCount:         optional(r.Value(ranking.ColumnLinkCount)),
			ExternalRank:      optional(r.Value(ranking.ColumnExternalRank)),
			ExternalLinkCount: optional(r.Value(ranking.ColumnExternalLinkCount)),
			TrustFactor:       optional(r.Value(ranking.ColumnTrustFactor)),
			LinkCountRank:     optional(r.Value(ranking.RankColumn(ranking.ColumnLinkCount))),
			ExternalRankOrd:   optional(r.Value(ranking.RankColumn(ranking.ColumnExternalLinkCount))),
			RankDifferential:  optional(r.Value(ranking.ColumnRankDifferential)),
			TrustFactorRank:   optional(r.Value(ranking.RankColumn(ranking.ColumnTrustFactor))),
		})
	}
	return out
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// writeMetricsCSV writes the header even when the dataset is empty.
func writeMetricsCSV(path string, ds ranking.Dataset) error {
	payload, err := csvutil.Marshal(metricRecords(ds))
	if err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return writeFile(path, payload)
}

func writeJSONFile(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeFile(path, payload)
}

func writeFile(path string, payload []byte) error {
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
