package crdt

import (
	"sort"

	"ycrdt/common"
)

// Branch is the storage behind every shared type living in a document. Text,
// Array and Map are views over a Branch. Branches of XML kinds received from
// other peers are exposed as they are.
type Branch struct {
	kind     common.TypeRef
	rootName string
	nodeName string

	doc  *Doc
	item *Item // nil for roots

	start   *Item
	entries map[string]*Item
	length  uint64

	observers []observer
	nextObs   int
}

func newBranch(kind common.TypeRef, nodeName string) *Branch {
	return &Branch{
		kind:     kind,
		nodeName: nodeName,
		entries:  make(map[string]*Item),
	}
}

// Kind returns the type ref of the branch.
func (b *Branch) Kind() common.TypeRef { return b.kind }

// NodeName returns the element or hook name of XML branches.
func (b *Branch) NodeName() string { return b.nodeName }

// Len returns the number of list elements.
func (b *Branch) Len() int { return int(b.length) }

// Root reports whether the branch is a root of its document.
func (b *Branch) Root() bool { return b.item == nil }

// ToJSON renders the branch content with the given transaction.
func (b *Branch) ToJSON(txn *Transaction) (interface{}, error) {
	if err := b.check(txn); err != nil {
		return nil, err
	}
	return b.toJSON(), nil
}

func (b *Branch) integrate(doc *Doc, item *Item) {
	b.doc = doc
	b.item = item
}

// check validates that txn may read or write the branch.
func (b *Branch) check(txn *Transaction) error {
	if txn == nil || txn.committed {
		return common.ErrTransactionClosed
	}
	if txn.doc != b.doc {
		return common.ErrForeignTransaction
	}
	return nil
}

// Event describes the changes a transaction made to one shared type.
type Event struct {
	// Target is the changed branch.
	Target *Branch
	// Transaction is still readable while observers run.
	Transaction *Transaction
	// Keys lists the changed map keys, sorted.
	Keys []string
	// ListChanged is set when list content was inserted or deleted.
	ListChanged bool
}

type observer struct {
	id int
	fn func(*Event)
}

// observe registers fn and returns a function removing it.
func (b *Branch) observe(fn func(*Event)) func() {
	b.nextObs++
	id := b.nextObs
	b.observers = append(b.observers, observer{id: id, fn: fn})
	return func() {
		for i, o := range b.observers {
			if o.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// list access

// listValues returns the values of the live countable items in order.
func (b *Branch) listValues() []interface{} {
	var out []interface{}
	for it := b.start; it != nil; it = it.right {
		if it.countable() && !it.deleted() {
			out = append(out, contentValues(it.content)...)
		}
	}
	return out
}

func (b *Branch) listGet(index uint64) (interface{}, bool) {
	for it := b.start; it != nil; it = it.right {
		if !it.countable() || it.deleted() {
			continue
		}
		if index < it.length {
			return contentValues(it.content)[index], true
		}
		index -= it.length
	}
	return nil, false
}

// contentValues exposes nested branches through their handles.
func contentValues(c content) []interface{} {
	if ct, ok := c.(*contentType); ok {
		return []interface{}{ct.branch.value()}
	}
	return c.values()
}

// listInsert inserts already validated values at index.
func (b *Branch) listInsert(txn *Transaction, index uint64, values []interface{}) {
	if index == 0 {
		b.listInsertAfter(txn, nil, values)
		return
	}
	var n *Item
	for n = b.start; n != nil; n = n.right {
		if n.deleted() || !n.countable() {
			continue
		}
		if index <= n.length {
			if index < n.length {
				txn.doc.store.getItemCleanStart(txn, common.NewID(n.id.Client, n.id.Clock+index))
			}
			break
		}
		index -= n.length
	}
	b.listInsertAfter(txn, n, values)
}

// listInsertAfter inserts values after ref. Runs of primitive values are
// packed into a single item; every shared type gets an item of its own.
func (b *Branch) listInsertAfter(txn *Transaction, ref *Item, values []interface{}) {
	left := ref
	var right *Item
	if ref == nil {
		right = b.start
	} else {
		right = ref.right
	}
	var rightOrigin *common.ID
	if right != nil {
		id := right.id
		rightOrigin = &id
	}

	insert := func(c content) *Item {
		var origin *common.ID
		if left != nil {
			last := left.lastID()
			origin = &last
		}
		it := newItem(txn.doc.nextID(), left, origin, right, rightOrigin, b, nil, c)
		it.integrate(txn, 0)
		return it
	}

	var run []interface{}
	flush := func() {
		if len(run) > 0 {
			left = insert(&contentAny{vals: run})
			run = nil
		}
	}
	for _, v := range values {
		h, ok := v.(sharedHandle)
		if !ok {
			run = append(run, v)
			continue
		}
		flush()
		branch := newBranch(h.typeRef(), "")
		left = insert(&contentType{branch: branch})
		h.promote(txn, branch)
	}
	flush()
}

func (b *Branch) listDelete(txn *Transaction, index, length uint64) {
	if length == 0 {
		return
	}
	s := txn.doc.store
	n := b.start
	for ; n != nil && index > 0; n = n.right {
		if n.deleted() || !n.countable() {
			continue
		}
		if index < n.length {
			s.getItemCleanStart(txn, common.NewID(n.id.Client, n.id.Clock+index))
		}
		index -= n.length
	}
	for ; length > 0 && n != nil; n = n.right {
		if n.deleted() || !n.countable() {
			continue
		}
		if length < n.length {
			s.getItemCleanStart(txn, common.NewID(n.id.Client, n.id.Clock+length))
		}
		length -= n.length
		n.delete(txn)
	}
	if length > 0 {
		panic(common.ErrInternal{Message: "list delete ran past the end"})
	}
}

// map access

func (b *Branch) mapGet(key string) (interface{}, bool) {
	it, ok := b.entries[key]
	if !ok || it.deleted() {
		return nil, false
	}
	vals := contentValues(it.content)
	return vals[len(vals)-1], true
}

func (b *Branch) mapSet(txn *Transaction, key string, value interface{}) {
	left := b.entries[key]
	var origin *common.ID
	if left != nil {
		last := left.lastID()
		origin = &last
	}
	k := key
	var c content
	h, shared := value.(sharedHandle)
	if shared {
		c = &contentType{branch: newBranch(h.typeRef(), "")}
	} else {
		c = &contentAny{vals: []interface{}{value}}
	}
	it := newItem(txn.doc.nextID(), left, origin, nil, nil, b, &k, c)
	it.integrate(txn, 0)
	if shared {
		h.promote(txn, c.(*contentType).branch)
	}
}

func (b *Branch) mapDelete(txn *Transaction, key string) {
	if it, ok := b.entries[key]; ok {
		it.delete(txn)
	}
}

func (b *Branch) mapKeys() []string {
	keys := make([]string, 0, len(b.entries))
	for k, it := range b.entries {
		if !it.deleted() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// rendering

// value returns the handle used to expose a nested branch.
func (b *Branch) value() interface{} {
	switch b.kind {
	case common.TypeRefText:
		return &Text{cell: integratedCell[string](b)}
	case common.TypeRefArray:
		return &Array{cell: integratedCell[[]interface{}](b)}
	case common.TypeRefMap:
		return &Map{cell: integratedCell[map[string]interface{}](b)}
	default:
		return b
	}
}

// toJSON converts the branch into plain values. Text kinds render as
// strings, lists as slices and maps as maps.
func (b *Branch) toJSON() interface{} {
	switch b.kind {
	case common.TypeRefText, common.TypeRefXmlText:
		return b.textString()
	case common.TypeRefMap, common.TypeRefXmlHook:
		return b.mapJSON()
	case common.TypeRefXmlElement:
		return map[string]interface{}{
			"nodeName":   b.nodeName,
			"attributes": b.mapJSON(),
			"children":   b.listJSON(),
		}
	case common.TypeRefUndefined:
		if b.start == nil && len(b.entries) > 0 {
			return b.mapJSON()
		}
		return b.listJSON()
	default:
		return b.listJSON()
	}
}

func (b *Branch) listJSON() []interface{} {
	vals := b.listValues()
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = jsonValue(v)
	}
	return out
}

func (b *Branch) mapJSON() map[string]interface{} {
	out := make(map[string]interface{}, len(b.entries))
	for _, k := range b.mapKeys() {
		v, _ := b.mapGet(k)
		out[k] = jsonValue(v)
	}
	return out
}

func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case *Text:
		return x.render()
	case *Array:
		return x.render()
	case *Map:
		return x.render()
	case *Branch:
		return x.toJSON()
	default:
		return v
	}
}
