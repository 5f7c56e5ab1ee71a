package crdt

import (
	"ycrdt/common"
	"ycrdt/lib0"
)

// Info byte layout of an encoded struct.
const (
	bit8  = 0x80 // origin present
	bit7  = 0x40 // right origin present
	bit6  = 0x20 // parent sub present
	bits5 = 0x1F // content ref
)

// block is anything stored under a client's clock range: an Item, a GC
// placeholder or, in decoded updates only, a Skip.
type block interface {
	blockID() common.ID
	blockLen() uint64
	deleted() bool
	// getMissing resolves the references of a decoded block and reports the
	// client whose structs are needed first, if any.
	getMissing(txn *Transaction) (common.ClientID, bool)
	integrate(txn *Transaction, offset uint64)
	write(enc *lib0.Encoder, offset uint64) error
}

func blockEnd(b block) uint64 {
	return b.blockID().Clock + b.blockLen()
}

const (
	itemKeep      = 1 << 0
	itemCountable = 1 << 1
	itemDeleted   = 1 << 2
)

// Item is one insertion into a shared type. Consecutive insertions of the
// same client are merged into a single Item when nothing separates them.
type Item struct {
	id     common.ID
	length uint64

	// origin is the id of the element left of the insertion point at the
	// time of insertion, rightOrigin the one to the right.
	origin      *common.ID
	rightOrigin *common.ID

	left  *Item
	right *Item

	// parent is nil until the item is integrated. Decoded items carry either
	// a root name or the id of the item holding the parent type instead.
	parent     *Branch
	parentName *string
	parentID   *common.ID

	// parentSub is the map key for items stored in a map.
	parentSub *string

	content content
	info    uint8
}

func newItem(id common.ID, left *Item, origin *common.ID, right *Item, rightOrigin *common.ID, parent *Branch, parentSub *string, c content) *Item {
	it := &Item{
		id:          id,
		length:      c.length(),
		origin:      origin,
		rightOrigin: rightOrigin,
		left:        left,
		right:       right,
		parent:      parent,
		parentSub:   parentSub,
		content:     c,
	}
	if c.countable() {
		it.info |= itemCountable
	}
	return it
}

// ID returns the id of the first element of the item.
func (it *Item) ID() common.ID { return it.id }

// Len returns the number of clock ticks the item spans.
func (it *Item) Len() uint64 { return it.length }

// Deleted reports whether the item has been deleted.
func (it *Item) Deleted() bool { return it.deleted() }

func (it *Item) blockID() common.ID { return it.id }
func (it *Item) blockLen() uint64   { return it.length }
func (it *Item) deleted() bool      { return it.info&itemDeleted != 0 }
func (it *Item) countable() bool    { return it.info&itemCountable != 0 }
func (it *Item) keep() bool         { return it.info&itemKeep != 0 }
func (it *Item) markDeleted()       { it.info |= itemDeleted }

func (it *Item) lastID() common.ID {
	return common.NewID(it.id.Client, it.id.Clock+it.length-1)
}

func (it *Item) getMissing(txn *Transaction) (common.ClientID, bool) {
	s := txn.doc.store
	if it.origin != nil && it.origin.Clock >= s.getState(it.origin.Client) {
		return it.origin.Client, true
	}
	if it.rightOrigin != nil && it.rightOrigin.Clock >= s.getState(it.rightOrigin.Client) {
		return it.rightOrigin.Client, true
	}
	if it.parentID != nil && it.parentID.Clock >= s.getState(it.parentID.Client) {
		return it.parentID.Client, true
	}

	collected := false
	if it.origin != nil {
		l := s.getItemCleanEnd(txn, *it.origin)
		last := common.NewID(l.blockID().Client, blockEnd(l)-1)
		it.origin = &last
		if li, ok := l.(*Item); ok {
			it.left = li
		} else {
			collected = true
		}
	}
	if it.rightOrigin != nil {
		r := s.getItemCleanStart(txn, *it.rightOrigin)
		first := r.blockID()
		it.rightOrigin = &first
		if ri, ok := r.(*Item); ok {
			it.right = ri
		} else {
			collected = true
		}
	}

	switch {
	case collected:
		it.parent = nil
	case it.parentID != nil:
		it.parent = nil
		if pi, ok := s.find(*it.parentID).(*Item); ok {
			if ct, ok := pi.content.(*contentType); ok {
				it.parent = ct.branch
			}
		}
	case it.parentName != nil:
		it.parent = txn.doc.rootBranch(*it.parentName, common.TypeRefUndefined)
	default:
		if it.left != nil {
			it.parent = it.left.parent
			it.parentSub = it.left.parentSub
		}
		if it.right != nil {
			it.parent = it.right.parent
			it.parentSub = it.right.parentSub
		}
	}
	it.parentName = nil
	it.parentID = nil
	return 0, false
}

// integrate links the item into its parent at the position chosen by the
// conflict resolution rules and adds it to the block store. A positive offset
// skips the first offset ticks, which are already known.
func (it *Item) integrate(txn *Transaction, offset uint64) {
	s := txn.doc.store
	if offset > 0 {
		it.id.Clock += offset
		l := s.getItemCleanEnd(txn, common.NewID(it.id.Client, it.id.Clock-1))
		last := common.NewID(l.blockID().Client, blockEnd(l)-1)
		it.origin = &last
		if li, ok := l.(*Item); ok {
			it.left = li
		} else {
			it.left = nil
			it.parent = nil
		}
		it.content = it.content.splice(offset)
		it.length -= offset
	}

	if it.parent == nil {
		(&gcBlock{id: it.id, length: it.length}).integrate(txn, 0)
		return
	}

	if (it.left == nil && (it.right == nil || it.right.left != nil)) || (it.left != nil && it.left.right != it.right) {
		left := it.left
		var o *Item
		switch {
		case left != nil:
			o = left.right
		case it.parentSub != nil:
			o = it.parent.entries[*it.parentSub]
			for o != nil && o.left != nil {
				o = o.left
			}
		default:
			o = it.parent.start
		}

		conflicting := make(map[*Item]struct{})
		beforeOrigin := make(map[*Item]struct{})
		for o != nil && o != it.right {
			beforeOrigin[o] = struct{}{}
			conflicting[o] = struct{}{}
			if common.EqualIDPtr(it.origin, o.origin) {
				// both were inserted at the same position; lower client wins
				if o.id.Client < it.id.Client {
					left = o
					conflicting = make(map[*Item]struct{})
				} else if common.EqualIDPtr(it.rightOrigin, o.rightOrigin) {
					break
				}
			} else if oo := originItem(s, o); oo != nil && hasItem(beforeOrigin, oo) {
				if !hasItem(conflicting, oo) {
					left = o
					conflicting = make(map[*Item]struct{})
				}
			} else {
				break
			}
			o = o.right
		}
		it.left = left
	}

	if it.left != nil {
		it.right = it.left.right
		it.left.right = it
	} else {
		var r *Item
		if it.parentSub != nil {
			r = it.parent.entries[*it.parentSub]
			for r != nil && r.left != nil {
				r = r.left
			}
		} else {
			r = it.parent.start
			it.parent.start = it
		}
		it.right = r
	}
	if it.right != nil {
		it.right.left = it
	} else if it.parentSub != nil {
		// the rightmost item of a key holds the current value
		it.parent.entries[*it.parentSub] = it
		if it.left != nil {
			it.left.delete(txn)
		}
	}

	if it.parentSub == nil && it.countable() && !it.deleted() {
		it.parent.length += it.length
	}
	s.addStruct(it)
	it.content.integrate(txn, it)
	txn.addChangedType(it.parent, it.parentSub)
	if (it.parent.item != nil && it.parent.item.deleted()) || (it.parentSub != nil && it.right != nil) {
		it.delete(txn)
	}
}

func originItem(s *blockStore, o *Item) *Item {
	if o.origin == nil {
		return nil
	}
	it, _ := s.find(*o.origin).(*Item)
	return it
}

func hasItem(set map[*Item]struct{}, it *Item) bool {
	_, ok := set[it]
	return ok
}

// delete marks the item deleted and records it in the transaction.
func (it *Item) delete(txn *Transaction) {
	if it.deleted() {
		return
	}
	if it.countable() && it.parentSub == nil {
		it.parent.length -= it.length
	}
	it.markDeleted()
	txn.deleteSet.Add(it.id.Client, it.id.Clock, it.length)
	txn.addChangedType(it.parent, it.parentSub)
	it.content.delete(txn)
}

// gc drops the content of a deleted item. When the parent itself is being
// collected the item is replaced by a GC struct.
func (it *Item) gc(s *blockStore, parentCollected bool) {
	if !it.deleted() {
		panic(common.ErrInternal{Message: "garbage collecting a live item " + it.id.String()})
	}
	it.content.gc(s)
	if parentCollected {
		s.replace(it, &gcBlock{id: it.id, length: it.length})
	} else {
		it.content = &contentDeleted{n: it.length}
	}
}

// mergeWith appends right to it when right directly continues it.
func (it *Item) mergeWith(right *Item) bool {
	if right.origin == nil || !right.origin.Equal(it.lastID()) ||
		it.right != right ||
		!common.EqualIDPtr(it.rightOrigin, right.rightOrigin) ||
		it.id.Client != right.id.Client ||
		it.id.Clock+it.length != right.id.Clock ||
		it.deleted() != right.deleted() ||
		!it.content.mergeWith(right.content) {
		return false
	}
	if right.keep() {
		it.info |= itemKeep
	}
	it.right = right.right
	if it.right != nil {
		it.right.left = it
	}
	it.length += right.length
	return true
}

func (it *Item) write(enc *lib0.Encoder, offset uint64) error {
	origin := it.origin
	if offset > 0 {
		o := common.NewID(it.id.Client, it.id.Clock+offset-1)
		origin = &o
	}
	info := it.content.ref() & bits5
	if origin != nil {
		info |= bit8
	}
	if it.rightOrigin != nil {
		info |= bit7
	}
	if it.parentSub != nil {
		info |= bit6
	}
	enc.WriteUint8(info)
	if origin != nil {
		writeID(enc, *origin)
	}
	if it.rightOrigin != nil {
		writeID(enc, *it.rightOrigin)
	}
	if origin == nil && it.rightOrigin == nil {
		switch {
		case it.parent != nil && it.parent.item == nil:
			enc.WriteVarUint(1)
			enc.WriteVarString(it.parent.rootName)
		case it.parent != nil:
			enc.WriteVarUint(0)
			writeID(enc, it.parent.item.id)
		case it.parentName != nil:
			enc.WriteVarUint(1)
			enc.WriteVarString(*it.parentName)
		case it.parentID != nil:
			enc.WriteVarUint(0)
			writeID(enc, *it.parentID)
		default:
			panic(common.ErrInternal{Message: "item without parent " + it.id.String()})
		}
		if it.parentSub != nil {
			enc.WriteVarString(*it.parentSub)
		}
	}
	return it.content.write(enc, offset)
}

// splitItem cuts left after diff ticks and returns the new right part. The
// caller inserts the result into the block store.
func splitItem(txn *Transaction, left *Item, diff uint64) *Item {
	client, clock := left.id.Client, left.id.Clock
	origin := common.NewID(client, clock+diff-1)
	right := newItem(
		common.NewID(client, clock+diff),
		left,
		&origin,
		left.right,
		left.rightOrigin,
		left.parent,
		left.parentSub,
		left.content.splice(diff),
	)
	right.info = left.info
	left.right = right
	if right.right != nil {
		right.right.left = right
	}
	txn.mergeStructs = append(txn.mergeStructs, right)
	if right.parentSub != nil && right.right == nil {
		right.parent.entries[*right.parentSub] = right
	}
	left.length = diff
	return right
}

// gcBlock marks a range whose content has been garbage collected.
type gcBlock struct {
	id     common.ID
	length uint64
}

func (g *gcBlock) blockID() common.ID { return g.id }
func (g *gcBlock) blockLen() uint64   { return g.length }
func (g *gcBlock) deleted() bool      { return true }

func (g *gcBlock) getMissing(*Transaction) (common.ClientID, bool) { return 0, false }

func (g *gcBlock) integrate(txn *Transaction, offset uint64) {
	if offset > 0 {
		g.id.Clock += offset
		g.length -= offset
	}
	txn.doc.store.addStruct(g)
}

func (g *gcBlock) mergeWith(right *gcBlock) bool {
	g.length += right.length
	return true
}

func (g *gcBlock) write(enc *lib0.Encoder, offset uint64) error {
	enc.WriteUint8(refGC)
	enc.WriteVarUint(g.length - offset)
	return nil
}

// skipBlock fills a clock gap inside an update. It is never integrated.
type skipBlock struct {
	id     common.ID
	length uint64
}

func (s *skipBlock) blockID() common.ID { return s.id }
func (s *skipBlock) blockLen() uint64   { return s.length }
func (s *skipBlock) deleted() bool      { return true }

func (s *skipBlock) getMissing(*Transaction) (common.ClientID, bool) { return 0, false }

func (s *skipBlock) integrate(*Transaction, uint64) {
	panic(common.ErrInternal{Message: "skip struct cannot be integrated"})
}

func (s *skipBlock) write(enc *lib0.Encoder, offset uint64) error {
	enc.WriteUint8(refSkip)
	enc.WriteVarUint(s.length - offset)
	return nil
}

// sliceBlock returns a copy of a decoded block without its first offset
// ticks. The original is left untouched.
func sliceBlock(b block, offset uint64) block {
	id := b.blockID()
	id.Clock += offset
	switch x := b.(type) {
	case *gcBlock:
		return &gcBlock{id: id, length: x.length - offset}
	case *skipBlock:
		return &skipBlock{id: id, length: x.length - offset}
	case *Item:
		origin := common.NewID(x.id.Client, x.id.Clock+offset-1)
		return &Item{
			id:          id,
			length:      x.length - offset,
			origin:      &origin,
			rightOrigin: x.rightOrigin,
			content:     x.content.copy().splice(offset),
			info:        x.info,
		}
	default:
		panic(common.ErrInternal{Message: "unknown block kind"})
	}
}

func writeID(enc *lib0.Encoder, id common.ID) {
	enc.WriteVarUint(id.Client)
	enc.WriteVarUint(id.Clock)
}

func readID(dec *lib0.Decoder) (common.ID, error) {
	client, err := dec.ReadVarUint()
	if err != nil {
		return common.ID{}, err
	}
	clock, err := dec.ReadVarUint()
	if err != nil {
		return common.ID{}, err
	}
	return common.NewID(client, clock), nil
}
