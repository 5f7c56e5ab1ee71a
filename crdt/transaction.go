package crdt

import (
	"sort"

	"ycrdt/common"
)

// Transaction groups changes to a document. Only one transaction per
// document can be open at a time. Changes become visible to update handlers
// when the transaction is committed.
type Transaction struct {
	doc    *Doc
	origin interface{}

	beforeState *StateVector
	afterState  *StateVector
	deleteSet   *DeleteSet

	changed      map[*Branch]*changeSet
	mergeStructs []block

	committed bool
}

type changeSet struct {
	list bool
	keys map[string]struct{}
}

func newTransaction(doc *Doc, origin interface{}) *Transaction {
	return &Transaction{
		doc:         doc,
		origin:      origin,
		beforeState: doc.store.stateVector(),
		deleteSet:   NewDeleteSet(),
		changed:     make(map[*Branch]*changeSet),
	}
}

// Doc returns the document the transaction belongs to.
func (txn *Transaction) Doc() *Doc { return txn.doc }

// Origin returns the value passed to BeginTransactionWithOrigin.
func (txn *Transaction) Origin() interface{} { return txn.origin }

// Committed reports whether Commit has been called.
func (txn *Transaction) Committed() bool { return txn.committed }

// GetText returns the root text called name, creating it if needed.
func (txn *Transaction) GetText(name string) (*Text, error) {
	if txn.committed {
		return nil, common.ErrTransactionClosed
	}
	return &Text{cell: integratedCell[string](txn.doc.rootBranch(name, common.TypeRefText))}, nil
}

// GetArray returns the root array called name, creating it if needed.
func (txn *Transaction) GetArray(name string) (*Array, error) {
	if txn.committed {
		return nil, common.ErrTransactionClosed
	}
	return &Array{cell: integratedCell[[]interface{}](txn.doc.rootBranch(name, common.TypeRefArray))}, nil
}

// GetMap returns the root map called name, creating it if needed.
func (txn *Transaction) GetMap(name string) (*Map, error) {
	if txn.committed {
		return nil, common.ErrTransactionClosed
	}
	return &Map{cell: integratedCell[map[string]interface{}](txn.doc.rootBranch(name, common.TypeRefMap))}, nil
}

// StateVector returns the current state of the document.
func (txn *Transaction) StateVector() *StateVector {
	return txn.doc.store.stateVector()
}

// EncodeStateVector returns the v1 encoding of the document's state vector.
func (txn *Transaction) EncodeStateVector() []byte {
	return txn.StateVector().Encode()
}

// EncodeDiff encodes everything the document knows that sv does not, as a v1
// update. A nil or empty state vector yields the whole document.
func (txn *Transaction) EncodeDiff(sv *StateVector) []byte {
	return txn.doc.encodeDiff(sv)
}

// EncodeDiffV1 is EncodeDiff for an encoded state vector.
func (txn *Transaction) EncodeDiffV1(sv []byte) ([]byte, error) {
	vector, err := DecodeStateVector(sv)
	if err != nil {
		return nil, err
	}
	return txn.EncodeDiff(vector), nil
}

// ApplyUpdate decodes a v1 update and integrates it. The update is decoded
// completely before anything is changed, so a malformed update leaves the
// document untouched. Structs whose dependencies are missing are kept and
// retried with every following update.
func (txn *Transaction) ApplyUpdate(update []byte) error {
	if txn.committed {
		return common.ErrTransactionClosed
	}
	u, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	txn.applyDecoded(u)
	return nil
}

// Commit finishes the transaction: observers are called, deleted content is
// garbage collected, adjacent structs are merged and update handlers receive
// the encoded changes. Calling Commit again does nothing.
func (txn *Transaction) Commit() error {
	if txn.committed {
		return nil
	}
	doc := txn.doc
	defer func() {
		txn.committed = true
		if doc.txn == txn {
			doc.txn = nil
		}
	}()

	txn.deleteSet.SortAndMerge()
	txn.afterState = doc.store.stateVector()
	txn.callObservers()
	// observers may have changed the document
	txn.deleteSet.SortAndMerge()
	txn.afterState = doc.store.stateVector()

	if doc.gc {
		txn.tryGCDeleteSet()
	}
	txn.tryMergeDeleteSet()
	txn.mergeNewStructs()

	update := txn.encodeUpdate()
	txn.committed = true
	doc.txn = nil

	logger.Debugw("transaction committed",
		"client", doc.clientID,
		"deleted_clients", len(txn.deleteSet.clients),
		"changed_types", len(txn.changed),
		"update_bytes", len(update))

	if update != nil {
		doc.emitUpdate(update, txn.origin)
	}
	return nil
}

// addChangedType records that b changed, unless b was created by this
// transaction.
func (txn *Transaction) addChangedType(b *Branch, parentSub *string) {
	item := b.item
	if item != nil && (item.id.Clock >= txn.beforeState.Get(item.id.Client) || item.deleted()) {
		return
	}
	cs, ok := txn.changed[b]
	if !ok {
		cs = &changeSet{keys: make(map[string]struct{})}
		txn.changed[b] = cs
	}
	if parentSub == nil {
		cs.list = true
	} else {
		cs.keys[*parentSub] = struct{}{}
	}
}

func (txn *Transaction) callObservers() {
	events := make([]*Event, 0, len(txn.changed))
	for b, cs := range txn.changed {
		if len(b.observers) == 0 {
			continue
		}
		keys := make([]string, 0, len(cs.keys))
		for k := range cs.keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		events = append(events, &Event{Target: b, Transaction: txn, Keys: keys, ListChanged: cs.list})
	}
	sort.Slice(events, func(i, j int) bool {
		return branchOrder(events[i].Target, events[j].Target)
	})
	for _, ev := range events {
		for _, o := range append([]observer(nil), ev.Target.observers...) {
			o.fn(ev)
		}
	}
}

// branchOrder sorts roots by name before nested types by item id.
func branchOrder(a, b *Branch) bool {
	switch {
	case a.item == nil && b.item == nil:
		return a.rootName < b.rootName
	case a.item == nil:
		return true
	case b.item == nil:
		return false
	default:
		return a.item.id.Compare(b.item.id) < 0
	}
}

func (txn *Transaction) tryGCDeleteSet() {
	s := txn.doc.store
	for client, ranges := range txn.deleteSet.clients {
		blocks := s.clients[client]
		for di := len(ranges) - 1; di >= 0; di-- {
			r := ranges[di]
			for si := findIndexSS(blocks, r.Clock); si < len(blocks) && blocks[si].blockID().Clock < r.End(); si++ {
				if it, ok := blocks[si].(*Item); ok && it.deleted() && !it.keep() {
					it.gc(s, false)
				}
			}
		}
	}
}

func (txn *Transaction) tryMergeDeleteSet() {
	s := txn.doc.store
	for client, ranges := range txn.deleteSet.clients {
		for di := len(ranges) - 1; di >= 0; di-- {
			r := ranges[di]
			blocks := s.clients[client]
			si := findIndexSS(blocks, r.End()-1) + 1
			if si > len(blocks)-1 {
				si = len(blocks) - 1
			}
			for si > 0 && s.clients[client][si].blockID().Clock >= r.Clock {
				si -= 1 + s.tryToMergeWithLefts(client, si)
			}
		}
	}
}

func (txn *Transaction) mergeNewStructs() {
	s := txn.doc.store
	for client, clock := range txn.afterState.vector {
		before := txn.beforeState.Get(client)
		if before == clock {
			continue
		}
		first := findIndexSS(s.clients[client], before)
		if first < 1 {
			first = 1
		}
		for i := len(s.clients[client]) - 1; i >= first; {
			i -= 1 + s.tryToMergeWithLefts(client, i)
		}
	}
	for i := len(txn.mergeStructs) - 1; i >= 0; i-- {
		id := txn.mergeStructs[i].blockID()
		pos := s.findIndex(id.Client, id.Clock)
		if pos+1 < len(s.clients[id.Client]) && s.tryToMergeWithLefts(id.Client, pos+1) > 1 {
			continue
		}
		if pos > 0 {
			s.tryToMergeWithLefts(id.Client, pos)
		}
	}
}

// encodeUpdate encodes the structs and deletions added by the transaction,
// or returns nil when nothing changed.
func (txn *Transaction) encodeUpdate() []byte {
	if txn.deleteSet.Empty() && !txn.afterState.HasUpdates(txn.beforeState) {
		return nil
	}
	return txn.doc.encodeUpdate(txn.beforeState, txn.deleteSet, false)
}
