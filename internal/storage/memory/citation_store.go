package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

// CitationStore keeps pages and citation rows in memory for development and tests.
// A positive maxText rejects longer citation text the way a VARCHAR column does.
type CitationStore struct {
	mu        sync.RWMutex
	pages     map[string]crawler.Page
	citations []crawler.Citation
	maxText   int
	rowFault  func(crawler.Citation) error
	opened    int
	closed    int
}

// NewCitationStore constructs a CitationStore seeded with pages.
func NewCitationStore(maxText int, pages ...crawler.Page) *CitationStore {
	s := &CitationStore{
		pages:   make(map[string]crawler.Page, len(pages)),
		maxText: maxText,
	}
	for _, p := range pages {
		s.pages[p.ID] = p
	}
	return s
}

// PendingPages returns pages without any citation rows, ordered by ID.
func (s *CitationStore) PendingPages(_ context.Context) ([]crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cited := make(map[string]struct{}, len(s.pages))
	for _, c := range s.citations {
		cited[c.PageID] = struct{}{}
	}
	var out []crawler.Page
	for id, p := range s.pages {
		if _, ok := cited[id]; !ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FailRows makes every row for which fault returns an error fail with it, the
// way a dropped connection fails a statement.
func (s *CitationStore) FailRows(fault func(crawler.Citation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowFault = fault
}

// InsertRow stores a citations row, enforcing the page foreign key and text width.
func (s *CitationStore) InsertRow(_ context.Context, table string, row crawler.Record) error {
	c, err := s.validate(table, row)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citations = append(s.citations, c)
	return nil
}

// InsertCitations persists a page's citation batch with the oversized-field
// fallback. The batch lands whole or not at all, except for rows dropped by
// the fallback.
func (s *CitationStore) InsertCitations(ctx context.Context, citations []crawler.Citation) (int, error) {
	batch := &stagedBatch{store: s}
	n, err := crawler.BulkInsert(ctx, batch, "citations", crawler.CitationRecords(citations))
	if err != nil && !crawler.OnlyRowErrors(err) {
		return 0, err
	}
	s.mu.Lock()
	s.citations = append(s.citations, batch.rows...)
	s.mu.Unlock()
	return n, err
}

func (s *CitationStore) validate(table string, row crawler.Record) (crawler.Citation, error) {
	if table != "citations" {
		return crawler.Citation{}, fmt.Errorf("insert into %s: unknown table", table)
	}
	c, err := citationFromRecord(row)
	if err != nil {
		return crawler.Citation{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rowFault != nil {
		if err := s.rowFault(c); err != nil {
			return crawler.Citation{}, fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if _, ok := s.pages[c.PageID]; !ok {
		return crawler.Citation{}, &crawler.ConstraintError{
			Kind:   crawler.ConstraintOther,
			Table:  table,
			Column: "page_id",
			Detail: fmt.Sprintf("page %q does not exist", c.PageID),
		}
	}
	if s.maxText > 0 && len(c.CitationText) > s.maxText {
		return crawler.Citation{}, &crawler.ConstraintError{
			Kind:   crawler.ConstraintFieldTooLong,
			Table:  table,
			Column: "citation_text",
			Detail: fmt.Sprintf("%d bytes exceeds %d", len(c.CitationText), s.maxText),
		}
	}
	return c, nil
}

// stagedBatch holds validated rows until the whole batch has been checked.
type stagedBatch struct {
	store *CitationStore
	rows  []crawler.Citation
}

func (b *stagedBatch) InsertRow(_ context.Context, table string, row crawler.Record) error {
	c, err := b.store.validate(table, row)
	if err != nil {
		return err
	}
	b.rows = append(b.rows, c)
	return nil
}

// Citations returns a copy of the rows stored for a page.
func (s *CitationStore) Citations(pageID string) []crawler.Citation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Citation
	for _, c := range s.citations {
		if c.PageID == pageID {
			out = append(out, c)
		}
	}
	return out
}

// RowCount returns the total number of citation rows.
func (s *CitationStore) RowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.citations)
}

// Close is a no-op; the store outlives the handles it hands out.
func (s *CitationStore) Close(_ context.Context) error {
	return nil
}

// Opener hands each caller its own handle onto the shared store.
func (s *CitationStore) Opener() crawler.StoreOpener {
	return func(context.Context) (crawler.CitationStore, error) {
		s.mu.Lock()
		s.opened++
		s.mu.Unlock()
		return &handle{store: s}, nil
	}
}

// Handles reports how many handles were opened and closed.
func (s *CitationStore) Handles() (opened, closed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened, s.closed
}

type handle struct {
	store *CitationStore
	once  sync.Once
}

func (h *handle) InsertCitations(ctx context.Context, citations []crawler.Citation) (int, error) {
	return h.store.InsertCitations(ctx, citations)
}

func (h *handle) Close(context.Context) error {
	h.once.Do(func() {
		h.store.mu.Lock()
		h.store.closed++
		h.store.mu.Unlock()
	})
	return nil
}

func citationFromRecord(row crawler.Record) (crawler.Citation, error) {
	pageID, ok := row["page_id"].(string)
	if !ok {
		return crawler.Citation{}, fmt.Errorf("page_id is required")
	}
	num, _ := row["citation_num"].(int)
	text, _ := row["citation_text"].(string)
	link, _ := row["link"].(string)
	c := crawler.Citation{
		PageID:       pageID,
		CitationNum:  num,
		CitationText: text,
		Link:         link,
	}
	if processed, ok := row["processed_link"].(string); ok {
		c.ProcessedLink = &processed
	}
	return c, nil
}
