package crawler

import (
	"net/http"
	"sort"
	"time"
)

// Page is one frontier entry: an encyclopedia article keyed by its identifier.
type Page struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Citation is one persisted row: a single link from a single reference entry.
type Citation struct {
	PageID        string  `json:"page_id"`
	CitationNum   int     `json:"citation_num"`
	CitationText  string  `json:"citation_text"`
	Link          string  `json:"link"`
	ProcessedLink *string `json:"processed_link,omitempty"`
}

// Record converts the citation into a column map for BulkInsert.
// A missing canonical link is stored as NULL.
func (c Citation) Record() Record {
	var processed any
	if c.ProcessedLink != nil {
		processed = *c.ProcessedLink
	}
	return Record{
		"page_id":        c.PageID,
		"citation_num":   c.CitationNum,
		"citation_text":  c.CitationText,
		"link":           c.Link,
		"processed_link": processed,
	}
}

// Domain carries the cached external popularity signal for a site.
type Domain struct {
	Domain            string `json:"domain"`
	ExternalRank      *int64 `json:"external_rank,omitempty"`
	ExternalLinkCount *int64 `json:"external_linkcount,omitempty"`
	NewsSite          bool   `json:"news_site"`
}

// DomainStat is one aggregated row feeding the ranking engine.
type DomainStat struct {
	Domain            string
	NewsSite          bool
	LinkCount         int64
	ExternalRank      *int64
	ExternalLinkCount int64
}

// LinkCount pairs a canonical link with the number of citation rows using it.
type LinkCount struct {
	Link  string
	Count int64
}

// Record is a single row keyed by column name.
type Record map[string]any

// Columns returns the record's column names in a stable order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for col := range r {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Values returns the record's values in the order of cols.
func (r Record) Values(cols []string) []any {
	out := make([]any, len(cols))
	for i, col := range cols {
		out[i] = r[col]
	}
	return out
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// QueueItem wraps a page waiting for a worker.
type QueueItem struct {
	PageID   string
	Enqueued time.Time
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// PageResult reports the outcome of processing one page.
type PageResult struct {
	PageID    string
	Citations int
	Attempts  int
	Skipped   bool
	Err       error
}
