package crdt

import (
	"ycrdt/common"
)

// Doc is a replicated document: a set of named root shared types and the
// history of every change made to them.
//
// A Doc is not safe for concurrent use. All reads and writes go through a
// Transaction, and a document allows only one open transaction at a time.
type Doc struct {
	clientID common.ClientID
	guid     string
	gc       bool

	store *blockStore
	roots map[string]*Branch
	txn   *Transaction

	handlers    []updateHandler
	nextHandler int
}

type updateHandler struct {
	id int
	fn func(update []byte, origin interface{})
}

// NewDoc creates an empty document.
func NewDoc(opts ...Option) *Doc {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if !o.SetClientID {
		o.ClientID = common.NewClientID()
	}
	if o.GUID == "" {
		o.GUID = common.NewGUID()
	}
	return &Doc{
		clientID: o.ClientID,
		guid:     o.GUID,
		gc:       o.GC,
		store:    newBlockStore(),
		roots:    make(map[string]*Branch),
	}
}

// ClientID returns the replica id used for local changes.
func (d *Doc) ClientID() common.ClientID { return d.clientID }

// GUID returns the document GUID.
func (d *Doc) GUID() string { return d.guid }

// BeginTransaction opens a transaction. It fails with
// common.ErrTransactionInProgress while another transaction is open.
func (d *Doc) BeginTransaction() (*Transaction, error) {
	return d.BeginTransactionWithOrigin(nil)
}

// BeginTransactionWithOrigin opens a transaction tagged with origin. The
// origin is passed to update handlers.
func (d *Doc) BeginTransactionWithOrigin(origin interface{}) (*Transaction, error) {
	if d.txn != nil {
		return nil, common.ErrTransactionInProgress
	}
	d.txn = newTransaction(d, origin)
	return d.txn, nil
}

// Transact runs fn in a new transaction and commits it when fn returns or
// panics.
func (d *Doc) Transact(fn func(txn *Transaction) error) error {
	return d.TransactWithOrigin(nil, fn)
}

// TransactWithOrigin is Transact with a transaction origin.
func (d *Doc) TransactWithOrigin(origin interface{}, fn func(txn *Transaction) error) (err error) {
	txn, err := d.BeginTransactionWithOrigin(origin)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := txn.Commit(); err == nil {
			err = cerr
		}
	}()
	return fn(txn)
}

// GetText returns the root text called name in a transaction of its own.
func (d *Doc) GetText(name string) (*Text, error) {
	var t *Text
	err := d.Transact(func(txn *Transaction) (err error) {
		t, err = txn.GetText(name)
		return err
	})
	return t, err
}

// GetArray returns the root array called name in a transaction of its own.
func (d *Doc) GetArray(name string) (*Array, error) {
	var a *Array
	err := d.Transact(func(txn *Transaction) (err error) {
		a, err = txn.GetArray(name)
		return err
	})
	return a, err
}

// GetMap returns the root map called name in a transaction of its own.
func (d *Doc) GetMap(name string) (*Map, error) {
	var m *Map
	err := d.Transact(func(txn *Transaction) (err error) {
		m, err = txn.GetMap(name)
		return err
	})
	return m, err
}

// OnUpdate registers fn to receive the v1 update of every committed
// transaction that changed the document. It returns a function removing the
// handler.
func (d *Doc) OnUpdate(fn func(update []byte, origin interface{})) func() {
	d.nextHandler++
	id := d.nextHandler
	d.handlers = append(d.handlers, updateHandler{id: id, fn: fn})
	return func() {
		for i, h := range d.handlers {
			if h.id == id {
				d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
				return
			}
		}
	}
}

func (d *Doc) emitUpdate(update []byte, origin interface{}) {
	handlers := append([]updateHandler(nil), d.handlers...)
	if len(handlers) > 0 {
		logger.Debugf("dispatching %d byte update to %d handlers", len(update), len(handlers))
	}
	for _, h := range handlers {
		h.fn(update, origin)
	}
}

// HasPending reports whether the document holds structs or deletions that
// wait for updates not received yet.
func (d *Doc) HasPending() bool {
	return d.store.pending != nil || d.store.pendingDeletes != nil
}

// PendingStateVector returns, for each client some pending struct waits on,
// the lowest missing clock. It is nil when nothing is pending.
func (d *Doc) PendingStateVector() *StateVector {
	if d.store.pending == nil {
		return nil
	}
	return StateVectorFromMap(d.store.pending.missing.Map())
}

// rootBranch returns the root called name, creating it if needed. Asking for
// an existing root with another kind changes how it is viewed, not its
// content.
func (d *Doc) rootBranch(name string, kind common.TypeRef) *Branch {
	b, ok := d.roots[name]
	if !ok {
		b = newBranch(kind, "")
		b.rootName = name
		b.doc = d
		d.roots[name] = b
		return b
	}
	if kind != common.TypeRefUndefined {
		b.kind = kind
	}
	return b
}

// nextID returns the id of the next local insertion.
func (d *Doc) nextID() common.ID {
	return common.NewID(d.clientID, d.store.getState(d.clientID))
}

// EncodeStateVector returns the encoded state vector of doc.
func EncodeStateVector(doc *Doc) ([]byte, error) {
	var out []byte
	err := doc.Transact(func(txn *Transaction) error {
		out = txn.EncodeStateVector()
		return nil
	})
	return out, err
}

// EncodeStateAsUpdate encodes what doc knows beyond the encoded state vector
// sv. An empty vector yields the whole document.
func EncodeStateAsUpdate(doc *Doc, sv []byte) ([]byte, error) {
	var out []byte
	err := doc.Transact(func(txn *Transaction) (err error) {
		out, err = txn.EncodeDiffV1(sv)
		return err
	})
	return out, err
}

// ApplyUpdate applies a v1 update to doc in a transaction of its own.
func ApplyUpdate(doc *Doc, update []byte) error {
	return ApplyUpdateWithOrigin(doc, update, nil)
}

// ApplyUpdateWithOrigin is ApplyUpdate with a transaction origin.
func ApplyUpdateWithOrigin(doc *Doc, update []byte, origin interface{}) error {
	return doc.TransactWithOrigin(origin, func(txn *Transaction) error {
		return txn.ApplyUpdate(update)
	})
}
