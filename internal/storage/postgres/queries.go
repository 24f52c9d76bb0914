package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

const pendingPagesQuery = `
SELECT p.id, COALESCE(p.name, ''), COALESCE(p.language, '')
FROM pages p
WHERE NOT EXISTS (SELECT 1 FROM citations c WHERE c.page_id = p.id)
ORDER BY p.id`

const unmappedLinksQuery = `
SELECT c.processed_link, COUNT(*) AS link_count
FROM citations c
LEFT JOIN link_domain_map m ON m.processed_link = c.processed_link
WHERE m.processed_link IS NULL
  AND c.processed_link IS NOT NULL
  AND c.processed_link <> ''
  AND c.processed_link NOT LIKE '%#%'
GROUP BY c.processed_link
ORDER BY link_count DESC, c.processed_link
LIMIT $1`

const domainStatsQuery = `
SELECT d.domain, d.news_site, SUM(l.link_count)::bigint AS link_count, d.external_rank, d.external_linkcount
FROM (
  SELECT processed_link, COUNT(*) AS link_count
  FROM citations
  WHERE processed_link IS NOT NULL AND processed_link <> '' AND processed_link NOT LIKE '%#%'
  GROUP BY processed_link
) l
JOIN link_domain_map m ON m.processed_link = l.processed_link
JOIN domains d ON d.domain = m.domain
WHERE d.external_linkcount IS NOT NULL
GROUP BY d.domain, d.news_site, d.external_rank, d.external_linkcount
ORDER BY d.domain`

const newsDomainsByPageQuery = `
SELECT DISTINCT c.page_id, d.domain
FROM citations c
JOIN link_domain_map m ON m.processed_link = c.processed_link
JOIN domains d ON d.domain = m.domain
WHERE d.news_site
ORDER BY c.page_id, d.domain`

// PendingPages returns every page that has no citation rows yet.
func (s *Store) PendingPages(ctx context.Context) ([]crawler.Page, error) {
	rows, err := s.conn.Query(ctx, pendingPagesQuery)
	if err != nil {
		return nil, fmt.Errorf("query pending pages: %w", err)
	}
	defer rows.Close()

	var pages []crawler.Page
	for rows.Next() {
		var p crawler.Page
		if err := rows.Scan(&p.ID, &p.Name, &p.Language); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// UnmappedLinks returns the limit most cited canonical links that have no
// domain yet. Mapped links do not count toward the limit.
func (s *Store) UnmappedLinks(ctx context.Context, limit int) ([]crawler.LinkCount, error) {
	rows, err := s.conn.Query(ctx, unmappedLinksQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("query unmapped links: %w", err)
	}
	defer rows.Close()

	var out []crawler.LinkCount
	for rows.Next() {
		var lc crawler.LinkCount
		if err := rows.Scan(&lc.Link, &lc.Count); err != nil {
			return nil, fmt.Errorf("scan link count: %w", err)
		}
		out = append(out, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

// EnsureDomain inserts the domain if it does not exist yet.
func (s *Store) EnsureDomain(ctx context.Context, domain string) error {
	if _, err := s.conn.Exec(ctx,
		"INSERT INTO domains (domain) VALUES ($1) ON CONFLICT (domain) DO NOTHING",
		domain,
	); err != nil {
		return fmt.Errorf("insert domain: %w", classify("domains", err))
	}
	return nil
}

// MapLink records which domain a canonical link belongs to.
func (s *Store) MapLink(ctx context.Context, link, domain string) error {
	if _, err := s.conn.Exec(ctx,
		"INSERT INTO link_domain_map (processed_link, domain) VALUES ($1, $2) ON CONFLICT (processed_link) DO NOTHING",
		link, domain,
	); err != nil {
		return fmt.Errorf("map link: %w", classify("link_domain_map", err))
	}
	return nil
}

// DomainsMissingPopularity lists domains whose external in-link count is unknown.
func (s *Store) DomainsMissingPopularity(ctx context.Context) ([]string, error) {
	values, err := s.CustomQuery(ctx,
		"SELECT domain FROM domains WHERE external_linkcount IS NULL ORDER BY domain", 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if name, ok := v.(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// UpdateDomainPopularity stores the external rank and in-link count for a domain.
func (s *Store) UpdateDomainPopularity(ctx context.Context, domain string, rank, linkCount *int64) error {
	tag, err := s.conn.Exec(ctx,
		"UPDATE domains SET external_rank = $1, external_linkcount = $2 WHERE domain = $3",
		rank, linkCount, domain,
	)
	if err != nil {
		return fmt.Errorf("update domain popularity: %w", classify("domains", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update domain %s: %w", domain, crawler.ErrNotFound)
	}
	return nil
}

// FlagNewsDomains clears every news flag and sets it for the listed domains in
// one transaction. It returns how many domains were flagged.
func (s *Store) FlagNewsDomains(ctx context.Context, domains []string) (n int64, err error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "UPDATE domains SET news_site = FALSE"); err != nil {
		return 0, fmt.Errorf("reset news flags: %w", err)
	}
	tag, err := tx.Exec(ctx, "UPDATE domains SET news_site = TRUE WHERE domain = ANY($1)", domains)
	if err != nil {
		return 0, fmt.Errorf("set news flags: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit news flags: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DomainStats aggregates citation counts per domain, joined with the
// popularity signal. Domains without an external in-link count are left out.
func (s *Store) DomainStats(ctx context.Context) ([]crawler.DomainStat, error) {
	rows, err := s.conn.Query(ctx, domainStatsQuery)
	if err != nil {
		return nil, fmt.Errorf("query domain stats: %w", err)
	}
	defer rows.Close()

	var out []crawler.DomainStat
	for rows.Next() {
		var (
			stat      crawler.DomainStat
			rank      pgtype.Int8
			linkCount pgtype.Int8
		)
		if err := rows.Scan(&stat.Domain, &stat.NewsSite, &stat.LinkCount, &rank, &linkCount); err != nil {
			return nil, fmt.Errorf("scan domain stat: %w", err)
		}
		if rank.Valid {
			v := rank.Int64
			stat.ExternalRank = &v
		}
		stat.ExternalLinkCount = linkCount.Int64
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain stats: %w", err)
	}
	return out, nil
}

// NewsDomainsByPage returns, per page, the distinct news domains it cites.
func (s *Store) NewsDomainsByPage(ctx context.Context) (map[string][]string, error) {
	rows, err := s.conn.Query(ctx, newsDomainsByPageQuery)
	if err != nil {
		return nil, fmt.Errorf("query news domains: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var pageID, domain string
		if err := rows.Scan(&pageID, &domain); err != nil {
			return nil, fmt.Errorf("scan news domain: %w", err)
		}
		out[pageID] = append(out[pageID], domain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news domains: %w", err)
	}
	return out, nil
}
