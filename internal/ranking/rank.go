package ranking

import "fmt"

// Rank applies one stable sort per metric, in order, and after each sort
// records every row's 0-based position in RankColumn(metric). Ties keep their
// prior relative order. The returned dataset is left in the order of the last sort.
func Rank(d Dataset, metrics []string, ascending []bool) (Dataset, error) {
	if len(metrics) != len(ascending) {
		return Dataset{}, fmt.Errorf("rank: %d metrics but %d sort directions", len(metrics), len(ascending))
	}
	out := d
	for i, metric := range metrics {
		if !out.HasColumn(metric) {
			return Dataset{}, fmt.Errorf("rank: unknown column %q", metric)
		}
		out = SortBy(out, metric, ascending[i])
		positions := make([]float64, out.Len())
		for pos := range positions {
			positions[pos] = float64(pos)
		}
		out = out.WithColumn(RankColumn(metric), positions)
	}
	return out, nil
}

// RankDifferential stores rank(a) - rank(b) in column out. Both metrics must
// already be ranked.
func RankDifferential(d Dataset, a, b, out string) (Dataset, error) {
	ra, rb := RankColumn(a), RankColumn(b)
	if !d.HasColumn(ra) || !d.HasColumn(rb) {
		return Dataset{}, fmt.Errorf("rank differential: %s and %s must be ranked first", a, b)
	}
	x, y := d.Column(ra), d.Column(rb)
	diff := make([]float64, len(x))
	for i := range x {
		diff[i] = x[i] - y[i]
	}
	return d.WithColumn(out, diff), nil
}
