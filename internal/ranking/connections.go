package ranking

import (
	"math"
	"sort"
)

// DomainPair is an unordered pair of domains stored with Source < Target.
type DomainPair struct {
	Source string
	Target string
}

// Connection is a pair with the number of pages citing both.
type Connection struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

// CoOccurrence counts, for every pair of distinct domains, the pages that cite
// both. pages maps a page ID to the domains cited on it; duplicates are ignored.
func CoOccurrence(pages map[string][]string) map[DomainPair]int {
	counts := make(map[DomainPair]int)
	for _, domains := range pages {
		unique := uniqueSorted(domains)
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				counts[DomainPair{Source: unique[i], Target: unique[j]}]++
			}
		}
	}
	return counts
}

// Connections flattens counts, most frequent first, ties by pair name.
func Connections(counts map[DomainPair]int) []Connection {
	out := make([]Connection, 0, len(counts))
	for pair, n := range counts {
		out = append(out, Connection{Source: pair.Source, Target: pair.Target, Value: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func uniqueSorted(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Graph is the node/link document consumed by force-directed chart renderers.
type Graph struct {
	Nodes []map[string]any `json:"nodes"`
	Links []Connection     `json:"links"`
}

// BuildGraph pairs the ranked dataset with connections. Links whose endpoints
// are not both in the dataset are dropped; NaN values are omitted from nodes.
func BuildGraph(d Dataset, links []Connection) Graph {
	g := Graph{Nodes: make([]map[string]any, 0, d.Len()), Links: []Connection{}}
	present := make(map[string]struct{}, d.Len())
	for _, r := range d.Rows {
		present[r.Domain] = struct{}{}
		node := map[string]any{"domain": r.Domain, "news_site": r.NewsSite}
		for _, c := range d.Columns {
			if v := r.Value(c); !math.IsNaN(v) {
				node[c] = v
			}
		}
		g.Nodes = append(g.Nodes, node)
	}
	for _, l := range links {
		_, okS := present[l.Source]
		_, okT := present[l.Target]
		if okS && okT {
			g.Links = append(g.Links, l)
		}
	}
	return g
}
