package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ycrdt/common"
)

func newTestDoc(t *testing.T, client common.ClientID) *Doc {
	t.Helper()
	return NewDoc(WithClientID(client), WithGUID("test-doc"))
}

// collectUpdates records every update emitted by doc.
func collectUpdates(doc *Doc) *[][]byte {
	var updates [][]byte
	doc.OnUpdate(func(update []byte, _ interface{}) {
		updates = append(updates, update)
	})
	return &updates
}

func textOf(t *testing.T, doc *Doc, name string) string {
	t.Helper()
	var out string
	err := doc.Transact(func(txn *Transaction) error {
		text, err := txn.GetText(name)
		if err != nil {
			return err
		}
		out, err = text.ToString(txn)
		return err
	})
	require.NoError(t, err)
	return out
}

func insertText(t *testing.T, doc *Doc, name string, index int, chunk string) {
	t.Helper()
	err := doc.Transact(func(txn *Transaction) error {
		text, err := txn.GetText(name)
		if err != nil {
			return err
		}
		return text.Insert(txn, index, chunk)
	})
	require.NoError(t, err)
}

// exchange sends the full state of each document to the other.
func exchange(t *testing.T, a, b *Doc) {
	t.Helper()
	ua, err := EncodeStateAsUpdate(a, nil)
	require.NoError(t, err)
	ub, err := EncodeStateAsUpdate(b, nil)
	require.NoError(t, err)
	require.NoError(t, ApplyUpdate(a, ub))
	require.NoError(t, ApplyUpdate(b, ua))
}

func TestNewDoc(t *testing.T) {
	doc := NewDoc(WithClientID(42), WithGUID("guid"))
	assert.Equal(t, common.ClientID(42), doc.ClientID())
	assert.Equal(t, "guid", doc.GUID())

	// zero is a valid explicit client id
	doc = NewDoc(WithClientID(0))
	assert.Equal(t, common.ClientID(0), doc.ClientID())

	a, b := NewDoc(), NewDoc()
	assert.NotEqual(t, a.GUID(), b.GUID())
}

func TestClientIDSource(t *testing.T) {
	restore := common.SetClientIDSource(&common.SequentialSource{Next: 100})
	defer restore()

	assert.Equal(t, common.ClientID(100), NewDoc().ClientID())
	assert.Equal(t, common.ClientID(101), NewDoc().ClientID())
}

func TestSecondTransactionRejected(t *testing.T) {
	doc := newTestDoc(t, 1)

	txn, err := doc.BeginTransaction()
	require.NoError(t, err)

	_, err = doc.BeginTransaction()
	assert.ErrorIs(t, err, common.ErrTransactionInProgress)

	err = doc.Transact(func(*Transaction) error { return nil })
	assert.ErrorIs(t, err, common.ErrTransactionInProgress)

	require.NoError(t, txn.Commit())
	assert.True(t, txn.Committed())

	// committing twice is harmless
	require.NoError(t, txn.Commit())

	txn, err = doc.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
}

func TestTransactReturnsError(t *testing.T) {
	doc := newTestDoc(t, 1)
	boom := errors.New("boom")

	err := doc.Transact(func(txn *Transaction) error {
		text, err := txn.GetText("t")
		require.NoError(t, err)
		require.NoError(t, text.Insert(txn, 0, "kept"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// changes made before the error are committed, the document is free again
	assert.Equal(t, "kept", textOf(t, doc, "t"))
}

func TestTransactCommitsOnPanic(t *testing.T) {
	doc := newTestDoc(t, 1)

	assert.Panics(t, func() {
		_ = doc.Transact(func(txn *Transaction) error {
			panic("boom")
		})
	})

	txn, err := doc.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
}

func TestClosedTransaction(t *testing.T) {
	doc := newTestDoc(t, 1)

	txn, err := doc.BeginTransaction()
	require.NoError(t, err)
	text, err := txn.GetText("t")
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	_, err = txn.GetText("t")
	assert.ErrorIs(t, err, common.ErrTransactionClosed)
	assert.ErrorIs(t, text.Insert(txn, 0, "x"), common.ErrTransactionClosed)
	_, err = text.ToString(txn)
	assert.ErrorIs(t, err, common.ErrTransactionClosed)
	assert.ErrorIs(t, txn.ApplyUpdate([]byte{0, 0}), common.ErrTransactionClosed)
}

func TestForeignTransaction(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)

	text, err := a.GetText("t")
	require.NoError(t, err)

	err = b.Transact(func(txn *Transaction) error {
		return text.Insert(txn, 0, "x")
	})
	assert.ErrorIs(t, err, common.ErrForeignTransaction)
}

func TestOnUpdate(t *testing.T) {
	doc := newTestDoc(t, 1)

	var origins []interface{}
	updates := collectUpdates(doc)
	unsubscribe := doc.OnUpdate(func(_ []byte, origin interface{}) {
		origins = append(origins, origin)
	})

	err := doc.TransactWithOrigin("local", func(txn *Transaction) error {
		text, err := txn.GetText("t")
		if err != nil {
			return err
		}
		return text.Insert(txn, 0, "ab")
	})
	require.NoError(t, err)
	require.Len(t, *updates, 1)
	assert.Equal(t, []interface{}{"local"}, origins)

	// client 1 inserts "ab" into root "t": one string item, empty delete set
	assert.Equal(t, []byte{1, 1, 1, 0, 0x04, 1, 1, 't', 2, 'a', 'b', 0}, (*updates)[0])

	// read-only transactions emit nothing
	assert.Equal(t, "ab", textOf(t, doc, "t"))
	assert.Len(t, *updates, 1)

	unsubscribe()
	insertText(t, doc, "t", 2, "c")
	assert.Len(t, *updates, 2)
	assert.Len(t, origins, 1)

	other := newTestDoc(t, 2)
	for _, u := range *updates {
		require.NoError(t, ApplyUpdate(other, u))
	}
	assert.Equal(t, "abc", textOf(t, other, "t"))
}

func TestUpdateOfDeletion(t *testing.T) {
	doc := newTestDoc(t, 1)
	updates := collectUpdates(doc)

	insertText(t, doc, "t", 0, "hello")
	err := doc.Transact(func(txn *Transaction) error {
		text, err := txn.GetText("t")
		if err != nil {
			return err
		}
		return text.Delete(txn, 1, 3)
	})
	require.NoError(t, err)
	require.Len(t, *updates, 2)

	// a pure deletion carries no structs, only the delete set
	info, err := DecodeUpdate((*updates)[1])
	require.NoError(t, err)
	assert.Empty(t, info.Structs)
	assert.Equal(t, []DeleteInfo{{Client: 1, Clock: 1, Len: 3}}, info.Deletes)

	other := newTestDoc(t, 2)
	for _, u := range *updates {
		require.NoError(t, ApplyUpdate(other, u))
	}
	assert.Equal(t, "ho", textOf(t, other, "t"))
}

func TestRootKindIsAView(t *testing.T) {
	doc := newTestDoc(t, 1)
	insertText(t, doc, "shared", 0, "abc")

	// a remote peer that only knows the root by name still converges
	update, err := EncodeStateAsUpdate(doc, nil)
	require.NoError(t, err)
	other := newTestDoc(t, 2)
	require.NoError(t, ApplyUpdate(other, update))

	err = other.Transact(func(txn *Transaction) error {
		b := other.rootBranch("shared", common.TypeRefUndefined)
		v, err := b.ToJSON(txn)
		if err != nil {
			return err
		}
		// undefined roots render as lists of their elements
		assert.Equal(t, []interface{}{"a", "b", "c"}, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", textOf(t, other, "shared"))
}
