package ranking

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoOccurrenceCountsEveryPair(t *testing.T) {
	t.Parallel()

	counts := CoOccurrence(map[string][]string{
		"p1": {"c.com", "a.com", "b.com", "a.com"},
	})
	// a loop bound of len-1 would never pair the last domain and yield only (a, b)
	assert.Equal(t, map[DomainPair]int{
		{Source: "a.com", Target: "b.com"}: 1,
		{Source: "a.com", Target: "c.com"}: 1,
		{Source: "b.com", Target: "c.com"}: 1,
	}, counts)
}

func TestCoOccurrenceAcrossPages(t *testing.T) {
	t.Parallel()

	counts := CoOccurrence(map[string][]string{
		"p1": {"a.com", "b.com"},
		"p2": {"b.com", "a.com"},
		"p3": {"a.com"},
		"p4": {"b.com", "c.com"},
	})
	assert.Equal(t, 2, counts[DomainPair{Source: "a.com", Target: "b.com"}])
	assert.Equal(t, 1, counts[DomainPair{Source: "b.com", Target: "c.com"}])
	assert.Len(t, counts, 2)

	conns := Connections(counts)
	require.Len(t, conns, 2)
	assert.Equal(t, Connection{Source: "a.com", Target: "b.com", Value: 2}, conns[0])
	assert.Equal(t, Connection{Source: "b.com", Target: "c.com", Value: 1}, conns[1])
}

func TestCoOccurrenceNoSeparatorCollisions(t *testing.T) {
	t.Parallel()

	counts := CoOccurrence(map[string][]string{
		"p1": {"a|b", "c"},
		"p2": {"a", "b|c"},
	})
	assert.Len(t, counts, 2)
}

func TestBuildGraph(t *testing.T) {
	t.Parallel()

	ds := dataset(
		NewRow("a.com", true, map[string]float64{"trust_factor": 1.5}),
		NewRow("b.com", true, map[string]float64{}),
	)
	g := BuildGraph(ds, []Connection{
		{Source: "a.com", Target: "b.com", Value: 3},
		{Source: "a.com", Target: "gone.com", Value: 1},
	})
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, 1.5, g.Nodes[0]["trust_factor"])
	_, ok := g.Nodes[1]["trust_factor"]
	assert.False(t, ok)
	require.Len(t, g.Links, 1)

	raw, err := json.Marshal(g)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"links":[{"source":"a.com","target":"b.com","value":3}]`)
}
