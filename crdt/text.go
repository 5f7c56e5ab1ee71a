package crdt

import (
	"strings"
	"unicode/utf8"

	"ycrdt/common"
)

// Text is a shared string. Indexes and lengths are UTF-8 byte offsets and
// must fall on character boundaries.
//
// A Text created with NewText is preliminary: it can be edited without a
// transaction until it is inserted into a document, at which point its
// content becomes part of the document and the handle edits the document.
type Text struct {
	cell sharedCell[string]
}

// NewText creates a preliminary text holding init.
func NewText(init string) *Text {
	return &Text{cell: sharedCell[string]{prelim: init}}
}

// Prelim reports whether the text is not part of a document yet.
func (t *Text) Prelim() bool { return !t.cell.integrated() }

// Len returns the length of the text in bytes.
func (t *Text) Len() int {
	if t.cell.integrated() {
		return int(t.cell.branch.textLen())
	}
	return len(t.cell.prelim)
}

// Insert inserts chunk at byte offset index.
func (t *Text) Insert(txn *Transaction, index int, chunk string) error {
	if !utf8.ValidString(chunk) {
		return common.ErrInvalidOperation{Message: "text must be valid UTF-8"}
	}
	if !t.cell.integrated() {
		if err := checkStringOffset(t.cell.prelim, index); err != nil {
			return err
		}
		t.cell.prelim = t.cell.prelim[:index] + chunk + t.cell.prelim[index:]
		return nil
	}
	b := t.cell.branch
	if err := b.check(txn); err != nil {
		return err
	}
	if err := b.checkTextOffset(index); err != nil {
		return err
	}
	if chunk == "" {
		return nil
	}
	b.textInsert(txn, uint64(index), chunk)
	return nil
}

// Push appends chunk to the end of the text.
func (t *Text) Push(txn *Transaction, chunk string) error {
	if t.cell.integrated() {
		if err := t.cell.branch.check(txn); err != nil {
			return err
		}
	}
	return t.Insert(txn, t.Len(), chunk)
}

// Delete removes length bytes starting at index.
func (t *Text) Delete(txn *Transaction, index, length int) error {
	if length < 0 {
		return common.ErrIndexOutOfRange{Index: index, Span: length, Length: t.Len()}
	}
	if !t.cell.integrated() {
		s := t.cell.prelim
		if index < 0 || index+length > len(s) {
			return common.ErrIndexOutOfRange{Index: index, Span: length, Length: len(s)}
		}
		if err := checkStringOffset(s, index); err != nil {
			return err
		}
		if err := checkStringOffset(s, index+length); err != nil {
			return err
		}
		t.cell.prelim = s[:index] + s[index+length:]
		return nil
	}
	b := t.cell.branch
	if err := b.check(txn); err != nil {
		return err
	}
	if n := int(b.textLen()); index < 0 || index+length > n {
		return common.ErrIndexOutOfRange{Index: index, Span: length, Length: n}
	}
	if err := b.checkTextOffset(index); err != nil {
		return err
	}
	if err := b.checkTextOffset(index + length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	b.textDelete(txn, uint64(index), uint64(length))
	return nil
}

// ToString returns the content of the text.
func (t *Text) ToString(txn *Transaction) (string, error) {
	if t.cell.integrated() {
		if err := t.cell.branch.check(txn); err != nil {
			return "", err
		}
	}
	return t.render(), nil
}

// ToJSON returns the content of the text. Text renders as a plain string.
func (t *Text) ToJSON(txn *Transaction) (string, error) {
	return t.ToString(txn)
}

// Observe calls fn after every transaction that changed the text.
func (t *Text) Observe(fn func(*Event)) (func(), error) {
	if !t.cell.integrated() {
		return nil, common.ErrInvalidOperation{Message: "cannot observe a preliminary text"}
	}
	return t.cell.branch.observe(fn), nil
}

func (t *Text) render() string {
	if t.cell.integrated() {
		return t.cell.branch.textString()
	}
	return t.cell.prelim
}

func (t *Text) typeRef() common.TypeRef    { return common.TypeRefText }
func (t *Text) integratedBranch() *Branch { return t.cell.branch }
func (t *Text) nested() []interface{}     { return nil }

func (t *Text) promote(txn *Transaction, b *Branch) {
	if s := mustBind(&t.cell, b); s != "" {
		b.textInsert(txn, 0, s)
	}
}

func checkStringOffset(s string, index int) error {
	if index < 0 || index > len(s) {
		return common.ErrIndexOutOfRange{Index: index, Length: len(s)}
	}
	if index < len(s) && !utf8.RuneStart(s[index]) {
		return common.ErrInvalidOperation{Message: "offset splits a UTF-8 character"}
	}
	return nil
}

// textWidth is the number of bytes an item takes in the text. Embeds and
// nested types render to nothing, so they take no offsets either.
func textWidth(it *Item) uint64 {
	if cs, ok := it.content.(*contentString); ok {
		return uint64(len(cs.str))
	}
	return 0
}

func (b *Branch) textLen() uint64 {
	var n uint64
	for it := b.start; it != nil; it = it.right {
		if it.countable() && !it.deleted() {
			n += textWidth(it)
		}
	}
	return n
}

func (b *Branch) textString() string {
	var sb strings.Builder
	for it := b.start; it != nil; it = it.right {
		if it.deleted() {
			continue
		}
		if cs, ok := it.content.(*contentString); ok {
			sb.WriteString(cs.str)
		}
	}
	return sb.String()
}

// checkTextOffset verifies that index lies within the text on a character
// boundary.
func (b *Branch) checkTextOffset(index int) error {
	if index < 0 {
		return common.ErrIndexOutOfRange{Index: index, Length: int(b.textLen())}
	}
	pos := uint64(index)
	for it := b.start; it != nil; it = it.right {
		if !it.countable() || it.deleted() {
			continue
		}
		w := textWidth(it)
		if pos < w {
			if cs, ok := it.content.(*contentString); ok && !utf8.RuneStart(cs.str[pos]) {
				return common.ErrInvalidOperation{Message: "offset splits a UTF-8 character"}
			}
			return nil
		}
		pos -= w
	}
	if pos > 0 {
		return common.ErrIndexOutOfRange{Index: index, Length: int(b.textLen())}
	}
	return nil
}

// textSeek walks to byte offset index, splitting the item it falls into, and
// returns the items left and right of that position.
func (b *Branch) textSeek(txn *Transaction, index uint64) (left, right *Item) {
	right = b.start
	for right != nil && index > 0 {
		if right.countable() && !right.deleted() {
			w := textWidth(right)
			if index < w {
				b.splitText(txn, right, index)
				w = index
			}
			index -= w
		}
		left, right = right, right.right
	}
	return left, right
}

// splitText cuts a string item after n bytes.
func (b *Branch) splitText(txn *Transaction, it *Item, n uint64) {
	cs := it.content.(*contentString)
	units := utf16Len(cs.str[:n])
	txn.doc.store.getItemCleanStart(txn, common.NewID(it.id.Client, it.id.Clock+units))
}

func (b *Branch) textInsert(txn *Transaction, index uint64, chunk string) {
	left, right := b.textSeek(txn, index)
	var origin, rightOrigin *common.ID
	if left != nil {
		last := left.lastID()
		origin = &last
	}
	if right != nil {
		id := right.id
		rightOrigin = &id
	}
	it := newItem(txn.doc.nextID(), left, origin, right, rightOrigin, b, nil, &contentString{str: chunk})
	it.integrate(txn, 0)
}

func (b *Branch) textDelete(txn *Transaction, index, length uint64) {
	_, n := b.textSeek(txn, index)
	for ; length > 0 && n != nil; n = n.right {
		if !n.countable() || n.deleted() {
			continue
		}
		w := textWidth(n)
		if w == 0 {
			continue
		}
		if length < w {
			b.splitText(txn, n, length)
			w = length
		}
		length -= w
		n.delete(txn)
	}
}
