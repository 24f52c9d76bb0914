// Package postgres provides the Postgres-backed citation store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/wikitrust/internal/crawler"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLSTATE codes the store distinguishes.
const (
	codeStringDataRightTruncation = "22001"
	classIntegrityConstraint      = "23"
)

// Config controls how a Store connects.
type Config struct {
	DSN            string
	ConnectTimeout time.Duration
}

type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Store wraps a single connection. It is not safe for concurrent use; each
// crawl worker opens its own.
type Store struct {
	conn conn
}

// Open dials Postgres with a dedicated connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	c, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{conn: c}, nil
}

// NewWithConn constructs a store from an existing connection (primarily for testing).
func NewWithConn(c conn) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("connection is required")
	}
	return &Store{conn: c}, nil
}

// Opener returns a crawler.StoreOpener that dials a new connection per call.
func Opener(cfg Config) crawler.StoreOpener {
	return func(ctx context.Context) (crawler.CitationStore, error) {
		return Open(ctx, cfg)
	}
}

// Close releases the connection.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return nil
	}
	if err := s.conn.Close(ctx); err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	return nil
}

// Ping checks the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// InsertRow inserts one record. Constraint failures come back as *crawler.ConstraintError.
func (s *Store) InsertRow(ctx context.Context, table string, row crawler.Record) error {
	return insertRow(ctx, s.conn, table, row)
}

// BulkInsert inserts rows one by one with the oversized-field fallback. Rows
// stored before a failure stay stored.
func (s *Store) BulkInsert(ctx context.Context, table string, rows []crawler.Record) (int, error) {
	return crawler.BulkInsert(ctx, s, table, rows)
}

// InsertCitations persists a page's citation batch in one transaction. Each
// row runs under its own savepoint so a rejected row can be retried or dropped
// without aborting the page. Any other failure rolls the whole page back and
// leaves it on the frontier.
func (s *Store) InsertCitations(ctx context.Context, citations []crawler.Citation) (int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin citations tx: %w", err)
	}
	n, err := crawler.BulkInsert(ctx, savepointInserter{tx: tx}, "citations", crawler.CitationRecords(citations))
	if err != nil && !crawler.OnlyRowErrors(err) {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback citations: %w", rbErr))
		}
		return 0, err
	}
	if cerr := tx.Commit(ctx); cerr != nil {
		return 0, fmt.Errorf("commit citations: %w", cerr)
	}
	return n, err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// savepointInserter wraps every row in a nested transaction, since Postgres
// aborts the enclosing transaction on a failed statement.
type savepointInserter struct {
	tx pgx.Tx
}

func (i savepointInserter) InsertRow(ctx context.Context, table string, row crawler.Record) error {
	sp, err := i.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := insertRow(ctx, sp, table, row); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func insertRow(ctx context.Context, db execer, table string, row crawler.Record) error {
	if len(row) == 0 {
		return fmt.Errorf("insert into %s: empty row", table)
	}
	tableIdent, err := quoteIdent(table)
	if err != nil {
		return err
	}
	cols := row.Columns()
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		if quoted[i], err = quoteIdent(col); err != nil {
			return err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		tableIdent,
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	if _, err := db.Exec(ctx, query, row.Values(cols)...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, classify(table, err))
	}
	return nil
}

// UniqueValues returns the distinct values of one column.
func (s *Store) UniqueValues(ctx context.Context, table, column string) ([]any, error) {
	tableIdent, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	colIdent, err := quoteIdent(column)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", colIdent, tableIdent)
	return s.CustomQuery(ctx, query, 0)
}

// CustomQuery runs query and returns the value at columnIndex from every row.
func (s *Store) CustomQuery(ctx context.Context, query string, columnIndex int, args ...any) ([]any, error) {
	if columnIndex < 0 {
		return nil, fmt.Errorf("column index %d out of range", columnIndex)
	}
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if columnIndex >= len(values) {
			return nil, fmt.Errorf("column index %d out of range for %d columns", columnIndex, len(values))
		}
		out = append(out, values[columnIndex])
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func quoteIdent(name string) (string, error) {
	if !validIdentifier.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func classify(table string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == codeStringDataRightTruncation:
		return &crawler.ConstraintError{
			Kind:   crawler.ConstraintFieldTooLong,
			Table:  table,
			Column: pgErr.ColumnName,
			Detail: pgErr.Message,
			Err:    err,
		}
	case strings.HasPrefix(pgErr.Code, classIntegrityConstraint):
		return &crawler.ConstraintError{
			Kind:   crawler.ConstraintOther,
			Table:  table,
			Column: pgErr.ColumnName,
			Detail: pgErr.Message,
			Err:    err,
		}
	default:
		return err
	}
}
