package crdt

import (
	"ycrdt/common"
)

// Array is a shared list of values. Values are primitives (see
// lib0.Normalize) or shared types, which may be nested by inserting
// preliminary handles.
type Array struct {
	cell sharedCell[[]interface{}]
}

// NewArray creates a preliminary array holding init. Values that cannot be
// stored are reported when the array is inserted into a document.
func NewArray(init ...interface{}) *Array {
	values := make([]interface{}, len(init))
	for i, v := range init {
		values[i] = prelimValue(v)
	}
	return &Array{cell: sharedCell[[]interface{}]{prelim: values}}
}

// Prelim reports whether the array is not part of a document yet.
func (a *Array) Prelim() bool { return !a.cell.integrated() }

// Len returns the number of elements.
func (a *Array) Len() int {
	if a.cell.integrated() {
		return int(a.cell.branch.length)
	}
	return len(a.cell.prelim)
}

// Insert inserts values at index. All values are validated before anything
// is stored.
func (a *Array) Insert(txn *Transaction, index int, values ...interface{}) error {
	if !a.cell.integrated() {
		if index < 0 || index > len(a.cell.prelim) {
			return common.ErrIndexOutOfRange{Index: index, Length: len(a.cell.prelim)}
		}
		prepared, err := prepareValues(values, a)
		if err != nil {
			return err
		}
		p := a.cell.prelim
		out := make([]interface{}, 0, len(p)+len(prepared))
		out = append(out, p[:index]...)
		out = append(out, prepared...)
		a.cell.prelim = append(out, p[index:]...)
		return nil
	}
	b := a.cell.branch
	if err := b.check(txn); err != nil {
		return err
	}
	if index < 0 || uint64(index) > b.length {
		return common.ErrIndexOutOfRange{Index: index, Length: int(b.length)}
	}
	prepared, err := prepareValues(values, a)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	b.listInsert(txn, uint64(index), prepared)
	return nil
}

// Push appends values to the end of the array.
func (a *Array) Push(txn *Transaction, values ...interface{}) error {
	if a.cell.integrated() {
		if err := a.cell.branch.check(txn); err != nil {
			return err
		}
	}
	return a.Insert(txn, a.Len(), values...)
}

// Delete removes length elements starting at index.
func (a *Array) Delete(txn *Transaction, index, length int) error {
	n := a.Len()
	if a.cell.integrated() {
		if err := a.cell.branch.check(txn); err != nil {
			return err
		}
	}
	if index < 0 || length < 0 || index+length > n {
		return common.ErrIndexOutOfRange{Index: index, Span: length, Length: n}
	}
	if !a.cell.integrated() {
		p := a.cell.prelim
		a.cell.prelim = append(p[:index:index], p[index+length:]...)
		return nil
	}
	a.cell.branch.listDelete(txn, uint64(index), uint64(length))
	return nil
}

// Get returns the element at index. Nested shared types are returned as
// *Text, *Array or *Map handles.
func (a *Array) Get(txn *Transaction, index int) (interface{}, error) {
	if !a.cell.integrated() {
		if index < 0 || index >= len(a.cell.prelim) {
			return nil, common.ErrIndexOutOfRange{Index: index, Length: len(a.cell.prelim)}
		}
		return a.cell.prelim[index], nil
	}
	b := a.cell.branch
	if err := b.check(txn); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, common.ErrIndexOutOfRange{Index: index, Length: int(b.length)}
	}
	v, ok := b.listGet(uint64(index))
	if !ok {
		return nil, common.ErrIndexOutOfRange{Index: index, Length: int(b.length)}
	}
	return v, nil
}

// ToJSON returns the elements as plain values, rendering nested shared
// types recursively.
func (a *Array) ToJSON(txn *Transaction) ([]interface{}, error) {
	if a.cell.integrated() {
		if err := a.cell.branch.check(txn); err != nil {
			return nil, err
		}
	}
	return a.render(), nil
}

// Values returns an iterator over the elements.
func (a *Array) Values(txn *Transaction) *ArrayIterator {
	it := &ArrayIterator{txn: txn}
	if !a.cell.integrated() {
		it.vals = a.cell.prelim
		return it
	}
	if err := a.cell.branch.check(txn); err != nil {
		it.err = err
		return it
	}
	it.next = a.cell.branch.start
	it.live = true
	return it
}

// Observe calls fn after every transaction that changed the array.
func (a *Array) Observe(fn func(*Event)) (func(), error) {
	if !a.cell.integrated() {
		return nil, common.ErrInvalidOperation{Message: "cannot observe a preliminary array"}
	}
	return a.cell.branch.observe(fn), nil
}

func (a *Array) render() []interface{} {
	if a.cell.integrated() {
		return a.cell.branch.listJSON()
	}
	out := make([]interface{}, len(a.cell.prelim))
	for i, v := range a.cell.prelim {
		out[i] = jsonValue(v)
	}
	return out
}

func (a *Array) typeRef() common.TypeRef    { return common.TypeRefArray }
func (a *Array) integratedBranch() *Branch { return a.cell.branch }
func (a *Array) nested() []interface{}     { return a.cell.prelim }

func (a *Array) promote(txn *Transaction, b *Branch) {
	if vals := mustBind(&a.cell, b); len(vals) > 0 {
		b.listInsertAfter(txn, nil, normalized(vals))
	}
}

// ArrayIterator walks the elements of an array lazily. It stops once the
// transaction it was created with is committed.
type ArrayIterator struct {
	txn *Transaction

	// integrated arrays
	live   bool
	next   *Item
	buf    []interface{}
	bufPos int

	// preliminary arrays
	vals []interface{}
	pos  int

	cur interface{}
	err error
}

// Next advances to the next element.
func (it *ArrayIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.live {
		if it.pos >= len(it.vals) {
			return false
		}
		it.cur = it.vals[it.pos]
		it.pos++
		return true
	}
	if it.txn.committed {
		it.err = common.ErrTransactionClosed
		return false
	}
	for it.bufPos >= len(it.buf) {
		for it.next != nil && (it.next.deleted() || !it.next.countable()) {
			it.next = it.next.right
		}
		if it.next == nil {
			return false
		}
		it.buf = contentValues(it.next.content)
		it.bufPos = 0
		it.next = it.next.right
	}
	it.cur = it.buf[it.bufPos]
	it.bufPos++
	return true
}

// Value returns the current element.
func (it *ArrayIterator) Value() interface{} { return it.cur }

// Err returns the error that stopped the iteration, if any.
func (it *ArrayIterator) Err() error { return it.err }
