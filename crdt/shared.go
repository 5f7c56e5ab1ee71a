package crdt

import (
	"ycrdt/common"
	"ycrdt/lib0"
)

// sharedCell is the state of a shared type handle. A handle starts either
// preliminary, holding a local value, or integrated, bound to a Branch of a
// document. The only transition is preliminary to integrated and it consumes
// the local value.
type sharedCell[T any] struct {
	branch *Branch
	prelim T
}

func integratedCell[T any](b *Branch) sharedCell[T] {
	return sharedCell[T]{branch: b}
}

func (c *sharedCell[T]) integrated() bool {
	return c.branch != nil
}

// bind moves the cell to the integrated state and returns the preliminary
// value to replay into b.
func (c *sharedCell[T]) bind(b *Branch) (T, error) {
	var zero T
	if c.branch != nil {
		return zero, common.ErrAlreadyIntegrated
	}
	p := c.prelim
	c.prelim = zero
	c.branch = b
	return p, nil
}

// sharedHandle is implemented by Text, Array and Map.
type sharedHandle interface {
	typeRef() common.TypeRef
	integratedBranch() *Branch
	// nested returns the preliminary values held by the handle.
	nested() []interface{}
	// promote binds the handle to a freshly integrated branch and replays its
	// preliminary content into it.
	promote(txn *Transaction, b *Branch)
}

func mustBind[T any](c *sharedCell[T], b *Branch) T {
	p, err := c.bind(b)
	if err != nil {
		panic(common.ErrInternal{Message: "promoting a shared type twice: " + err.Error()})
	}
	return p
}

// prepareValues validates values before any of them is stored in container.
// Primitive values are normalized. Shared types must be preliminary, may
// appear only once, and must not contain the container itself.
func prepareValues(values []interface{}, container sharedHandle) ([]interface{}, error) {
	seen := make(map[sharedHandle]struct{})
	out := make([]interface{}, len(values))
	for i, v := range values {
		p, err := prepareValue(v, container, seen)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func prepareValue(v interface{}, container sharedHandle, seen map[sharedHandle]struct{}) (interface{}, error) {
	switch x := v.(type) {
	case sharedHandle:
		if err := checkHandle(x, container, seen); err != nil {
			return nil, err
		}
		return x, nil
	case *Branch:
		return nil, common.ErrAlreadyIntegrated
	default:
		return lib0.Normalize(v)
	}
}

func checkHandle(h sharedHandle, container sharedHandle, seen map[sharedHandle]struct{}) error {
	if h.integratedBranch() != nil {
		return common.ErrAlreadyIntegrated
	}
	if container != nil && h == container {
		return common.ErrInvalidOperation{Message: "a shared type cannot contain itself"}
	}
	if _, dup := seen[h]; dup {
		return common.ErrInvalidOperation{Message: "the same shared type is inserted more than once"}
	}
	seen[h] = struct{}{}
	for _, child := range h.nested() {
		switch c := child.(type) {
		case sharedHandle:
			if err := checkHandle(c, container, seen); err != nil {
				return err
			}
		case *Branch:
			return common.ErrAlreadyIntegrated
		default:
			if _, err := lib0.Normalize(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// prelimValue converts v the way an insertion would when it can be stored,
// and otherwise keeps it for integration to reject.
func prelimValue(v interface{}) interface{} {
	if _, ok := v.(sharedHandle); ok {
		return v
	}
	if n, err := lib0.Normalize(v); err == nil {
		return n
	}
	return v
}

// normalized converts the primitives of values validated by checkHandle.
func normalized(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		if _, ok := v.(sharedHandle); ok {
			out[i] = v
			continue
		}
		n, err := lib0.Normalize(v)
		if err != nil {
			panic(common.ErrInternal{Message: "unvalidated value in preliminary content: " + err.Error()})
		}
		out[i] = n
	}
	return out
}
