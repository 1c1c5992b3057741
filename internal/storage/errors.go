package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRow is returned when a row lacks a column or holds a value of
// an unexpected type.
var ErrMalformedRow = errors.New("malformed row")

// StoreError wraps every local driver failure.
type StoreError struct {
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Message, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newStoreError(op, query string, err error) error {
	return &StoreError{Op: op, Message: summarize(query), Err: err}
}

// summarize keeps the leading SQL keywords for log context without dumping
// whole statements.
func summarize(query string) string {
	fields := strings.Fields(query)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
