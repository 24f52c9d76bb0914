// Package ranking turns per-domain citation volume and external popularity
// into ordinal ranks and a log-linear trust factor.
package ranking

import (
	"maps"
	"math"
	"sort"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

// Column names produced by the engine.
const (
	ColumnLinkCount         = "link_count"
	ColumnExternalRank      = "external_rank"
	ColumnExternalLinkCount = "external_linkcount"
	ColumnTrustFactor       = "trust_factor"
	ColumnRankDifferential  = "rank_differential"
)

// RankColumn names the ordinal rank column derived from metric.
func RankColumn(metric string) string {
	return metric + "_ordinal_rank"
}

// Row is one domain with its numeric columns. Missing values read as NaN.
type Row struct {
	Domain   string
	NewsSite bool
	values   map[string]float64
}

// NewRow builds a row from column values.
func NewRow(domain string, newsSite bool, values map[string]float64) Row {
	r := Row{Domain: domain, NewsSite: newsSite, values: make(map[string]float64, len(values))}
	maps.Copy(r.values, values)
	return r
}

// Value returns the named column or NaN.
func (r Row) Value(column string) float64 {
	v, ok := r.values[column]
	if !ok {
		return math.NaN()
	}
	return v
}

func (r Row) with(column string, v float64) Row {
	out := r.clone()
	out.values[column] = v
	return out
}

func (r Row) clone() Row {
	out := Row{Domain: r.Domain, NewsSite: r.NewsSite, values: make(map[string]float64, len(r.values)+1)}
	maps.Copy(out.values, r.values)
	return out
}

// Dataset is an ordered table of domain rows. Operations return new datasets
// and leave their input untouched.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// FromStats converts aggregated store rows. A missing external rank reads as NaN.
func FromStats(stats []crawler.DomainStat) Dataset {
	ds := Dataset{
		Columns: []string{ColumnLinkCount, ColumnExternalRank, ColumnExternalLinkCount},
		Rows:    make([]Row, 0, len(stats)),
	}
	for _, s := range stats {
		rank := math.NaN()
		if s.ExternalRank != nil {
			rank = float64(*s.ExternalRank)
		}
		ds.Rows = append(ds.Rows, NewRow(s.Domain, s.NewsSite, map[string]float64{
			ColumnLinkCount:         float64(s.LinkCount),
			ColumnExternalRank:      rank,
			ColumnExternalLinkCount: float64(s.ExternalLinkCount),
		}))
	}
	return ds
}

// Len returns the number of rows.
func (d Dataset) Len() int {
	return len(d.Rows)
}

// Column returns one column's values in row order.
func (d Dataset) Column(name string) []float64 {
	out := make([]float64, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Value(name)
	}
	return out
}

// WithColumn returns a copy with the column set from values, matched by row index.
func (d Dataset) WithColumn(name string, values []float64) Dataset {
	out := Dataset{Columns: addColumn(d.Columns, name), Rows: make([]Row, len(d.Rows))}
	for i, r := range d.Rows {
		v := math.NaN()
		if i < len(values) {
			v = values[i]
		}
		out.Rows[i] = r.with(name, v)
	}
	return out
}

// HasColumn reports whether name is one of the dataset's columns.
func (d Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Filter keeps rows matching pred, in order.
func Filter(d Dataset, pred func(Row) bool) Dataset {
	out := Dataset{Columns: append([]string(nil), d.Columns...)}
	for _, r := range d.Rows {
		if pred(r) {
			out.Rows = append(out.Rows, r.clone())
		}
	}
	return out
}

// NewsOnly selects rows flagged as news sites.
func NewsOnly(r Row) bool {
	return r.NewsSite
}

// SortBy stable-sorts on one column. NaN values go last in either direction.
func SortBy(d Dataset, column string, ascending bool) Dataset {
	out := Dataset{Columns: append([]string(nil), d.Columns...), Rows: make([]Row, len(d.Rows))}
	for i, r := range d.Rows {
		out.Rows[i] = r.clone()
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return less(out.Rows[i].Value(column), out.Rows[j].Value(column), ascending)
	})
	return out
}

// TopBottom returns the first and last n rows. The halves overlap when the
// dataset holds fewer than 2n rows.
func TopBottom(d Dataset, n int) (top, bottom []Row) {
	if n <= 0 {
		return nil, nil
	}
	k := min(n, len(d.Rows))
	return d.Rows[:k], d.Rows[len(d.Rows)-k:]
}

func less(a, b float64, ascending bool) bool {
	switch {
	case math.IsNaN(a):
		return false
	case math.IsNaN(b):
		return true
	case ascending:
		return a < b
	default:
		return a > b
	}
}

func addColumn(columns []string, name string) []string {
	out := append([]string(nil), columns...)
	for _, c := range out {
		if c == name {
			return out
		}
	}
	return append(out, name)
}
