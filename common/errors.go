package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrTransactionInProgress is returned when a transaction is requested on a
// document that already has an open one.
var ErrTransactionInProgress = errors.New("transaction already in progress")

// ErrTransactionClosed is returned when a committed transaction (or something
// derived from it) is used.
var ErrTransactionClosed = errors.New("transaction is closed")

// ErrForeignTransaction is returned when a shared type is used with a
// transaction of another document.
var ErrForeignTransaction = errors.New("transaction belongs to another document")

// ErrAlreadyIntegrated is returned when a shared type that already lives in a
// document is nested somewhere else.
var ErrAlreadyIntegrated = errors.New("cannot nest an already integrated value")

// ErrIndexOutOfRange is returned when an index or a range does not fit the
// current length of a text or an array.
type ErrIndexOutOfRange struct {
	Index  int
	Span   int
	Length int
}

func (e ErrIndexOutOfRange) Error() string {
	if e.Span > 0 {
		return fmt.Sprintf("index out of range: [%d, %d) with length %d", e.Index, e.Index+e.Span, e.Length)
	}
	return fmt.Sprintf("index out of range: %d with length %d", e.Index, e.Length)
}

// ErrUnsupportedValue is returned when a value has a kind the document cannot
// store.
type ErrUnsupportedValue struct {
	Value interface{}
}

func (e ErrUnsupportedValue) Error() string {
	return fmt.Sprintf("unsupported value of type %T", e.Value)
}

// ErrInvalidOperation is returned when an operation is invalid.
type ErrInvalidOperation struct {
	Message string
}

func (e ErrInvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Message)
}

// ErrMalformedUpdate is returned when update or state vector bytes cannot be
// decoded. Nothing of the payload has been applied when it is returned.
type ErrMalformedUpdate struct {
	Message string
}

func (e ErrMalformedUpdate) Error() string {
	return fmt.Sprintf("malformed update: %s", e.Message)
}

// ErrInternal signals a broken invariant of the block store. It is raised
// with panic.
type ErrInternal struct {
	Message string
}

func (e ErrInternal) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Message)
}
