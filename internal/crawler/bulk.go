package crawler

import (
	"context"
	"errors"
	"fmt"
)

// OverflowColumns maps a table to the text column cleared when a row is too wide.
var OverflowColumns = map[string]string{
	"citations": "citation_text",
}

// BulkInsert writes rows one at a time in caller order and returns how many
// were stored. It is not atomic; callers that need a page to land whole run it
// inside a transaction and discard the batch unless OnlyRowErrors holds.
//
// A row rejected with ConstraintFieldTooLong on the table's overflow column
// (or on an unnamed column) is retried once with that column cleared; if that
// still fails the row is reported as a *RowError and the remaining rows
// continue. Any other failure stops the call.
func BulkInsert(ctx context.Context, ins RowInserter, table string, rows []Record) (int, error) {
	var (
		inserted int
		rowErrs  []error
	)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return inserted, errors.Join(append(rowErrs, fmt.Errorf("bulk insert canceled: %w", err))...)
		}
		err := ins.InsertRow(ctx, table, row)
		if err == nil {
			inserted++
			continue
		}
		if !IsFieldTooLong(err) {
			return inserted, errors.Join(append(rowErrs, fmt.Errorf("insert %s row %d: %w", table, i, err))...)
		}
		column, ok := OverflowColumns[table]
		if !ok || !overflowed(err, column) {
			rowErrs = append(rowErrs, &RowError{Table: table, Index: i, Err: err})
			continue
		}
		retry := row.Clone()
		retry[column] = ""
		if err := ins.InsertRow(ctx, table, retry); err != nil {
			if !IsConstraint(err) {
				return inserted, errors.Join(append(rowErrs, fmt.Errorf("retry %s row %d: %w", table, i, err))...)
			}
			rowErrs = append(rowErrs, &RowError{Table: table, Index: i, Err: err})
			continue
		}
		inserted++
	}
	return inserted, errors.Join(rowErrs...)
}

// overflowed reports whether a field-too-long error can be cleared by emptying
// column. Postgres usually leaves the column name off 22001.
func overflowed(err error, column string) bool {
	var ce *ConstraintError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Column == "" || ce.Column == column
}

// CitationRecords converts citations to records in order.
func CitationRecords(citations []Citation) []Record {
	out := make([]Record, len(citations))
	for i, c := range citations {
		out[i] = c.Record()
	}
	return out
}
