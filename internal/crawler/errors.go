package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when the requested object does not exist.
var ErrNotFound = errors.New("not found")

// ConstraintKind discriminates store constraint failures.
type ConstraintKind int

const (
	// ConstraintOther covers every constraint violation except an oversized field.
	ConstraintOther ConstraintKind = iota
	// ConstraintFieldTooLong means a value exceeded its column width.
	ConstraintFieldTooLong
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintFieldTooLong:
		return "field_too_long"
	default:
		return "constraint"
	}
}

// ConstraintError is returned by a RowInserter when the store rejects a row.
type ConstraintError struct {
	Kind   ConstraintKind
	Table  string
	Column string
	Detail string
	Err    error
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("%s violation on %s", e.Kind, e.Table)
	if e.Column != "" {
		msg += "." + e.Column
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// IsFieldTooLong reports whether err carries an oversized-field constraint failure.
func IsFieldTooLong(err error) bool {
	var cerr *ConstraintError
	return errors.As(err, &cerr) && cerr.Kind == ConstraintFieldTooLong
}

// IsConstraint reports whether err carries any constraint failure.
func IsConstraint(err error) bool {
	var cerr *ConstraintError
	return errors.As(err, &cerr)
}

// RowError reports a row that could not be persisted after the fallback retry.
type RowError struct {
	Table string
	Index int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d: %v", e.Table, e.Index, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 500:
		return true
	default:
		return false
	}
}

// OnlyRowErrors reports whether err consists solely of rows rejected after the
// oversized-field fallback, meaning the rest of the batch was stored.
func OnlyRowErrors(err error) bool {
	var rowErr *RowError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !errors.As(e, &rowErr) {
				return false
			}
		}
		return true
	}
	return errors.As(err, &rowErr)
}
