package crdt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ycrdt/common"
)

// snapshot renders the roots a test works with.
func snapshot(t *testing.T, doc *Doc) map[string]interface{} {
	t.Helper()
	return map[string]interface{}{
		"text":  textOf(t, doc, "text"),
		"array": arrayJSON(t, doc, "array"),
		"map":   mapJSON(t, doc, "map"),
	}
}

func stateVector(t *testing.T, doc *Doc) []byte {
	t.Helper()
	sv, err := EncodeStateVector(doc)
	require.NoError(t, err)
	return sv
}

func TestConcurrentTextConverges(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	insertText(t, a, "text", 0, "abc")
	insertText(t, b, "text", 0, "xyz")

	exchange(t, a, b)

	assert.Equal(t, "abcxyz", textOf(t, a, "text"))
	assert.Equal(t, "abcxyz", textOf(t, b, "text"))
}

func TestConcurrentEditsConverge(t *testing.T) {
	docs := []*Doc{newTestDoc(t, 1), newTestDoc(t, 2), newTestDoc(t, 3)}
	insertText(t, docs[0], "text", 0, "hello world")
	for _, d := range docs[1:] {
		exchange(t, docs[0], d)
	}

	// every replica edits the same region at the same time
	insertText(t, docs[0], "text", 5, ",")
	insertText(t, docs[1], "text", 5, "!!")
	err := docs[2].Transact(func(txn *Transaction) error {
		text, err := txn.GetText("text")
		if err != nil {
			return err
		}
		if err := text.Delete(txn, 3, 4); err != nil {
			return err
		}
		arr, err := txn.GetArray("array")
		if err != nil {
			return err
		}
		return arr.Push(txn, 1, NewText("nested"))
	})
	require.NoError(t, err)
	setKey(t, docs[0], "map", "k", "zero")
	setKey(t, docs[2], "map", "k", "two")

	// deliver in different orders
	exchange(t, docs[0], docs[1])
	exchange(t, docs[2], docs[1])
	exchange(t, docs[0], docs[2])

	want := snapshot(t, docs[0])
	for i, d := range docs[1:] {
		if diff := cmp.Diff(want, snapshot(t, d)); diff != "" {
			t.Errorf("replica %d diverged (-want +got):\n%s", i+1, diff)
		}
	}
	assert.Equal(t, "two", want["map"].(map[string]interface{})["k"])
	assert.Equal(t, stateVector(t, docs[0]), stateVector(t, docs[1]))
}

func TestInterleavingResistance(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)

	// each replica types a word one character at a time
	for i, c := range "abc" {
		insertText(t, a, "text", i, string(c))
	}
	for i, c := range "xyz" {
		insertText(t, b, "text", i, string(c))
	}
	exchange(t, a, b)

	// runs typed by one replica stay together
	assert.Equal(t, "abcxyz", textOf(t, a, "text"))
	assert.Equal(t, "abcxyz", textOf(t, b, "text"))
}

func TestDiffCatchUp(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	insertText(t, a, "text", 0, "base")
	exchange(t, a, b)

	insertText(t, a, "text", 4, " more")
	setKey(t, a, "map", "k", true)

	update, err := EncodeStateAsUpdate(a, stateVector(t, b))
	require.NoError(t, err)
	full, err := EncodeStateAsUpdate(a, nil)
	require.NoError(t, err)
	assert.Less(t, len(update), len(full))

	require.NoError(t, ApplyUpdate(b, update))
	assert.Equal(t, snapshot(t, a), snapshot(t, b))

	// nothing is missing once caught up
	empty, err := EncodeStateAsUpdate(a, stateVector(t, b))
	require.NoError(t, err)
	info, err := DecodeUpdate(empty)
	require.NoError(t, err)
	assert.Empty(t, info.Structs)
}

func TestApplyIsIdempotent(t *testing.T) {
	a := newTestDoc(t, 1)
	insertText(t, a, "text", 0, "hello")
	err := a.Transact(func(txn *Transaction) error {
		text, err := txn.GetText("text")
		if err != nil {
			return err
		}
		return text.Delete(txn, 0, 1)
	})
	require.NoError(t, err)
	update, err := EncodeStateAsUpdate(a, nil)
	require.NoError(t, err)

	b := newTestDoc(t, 2)
	updates := collectUpdates(b)
	require.NoError(t, ApplyUpdate(b, update))
	require.NoError(t, ApplyUpdate(b, update))
	assert.Equal(t, "ello", textOf(t, b, "text"))

	// the second application changed nothing
	assert.Len(t, *updates, 1)

	again, err := EncodeStateAsUpdate(b, nil)
	require.NoError(t, err)
	assert.Equal(t, update, again)
}

func TestPendingOutOfOrder(t *testing.T) {
	a := newTestDoc(t, 1)
	updates := collectUpdates(a)
	insertText(t, a, "text", 0, "a")
	insertText(t, a, "text", 1, "b")
	insertText(t, a, "text", 2, "c")
	require.Len(t, *updates, 3)

	b := newTestDoc(t, 2)
	require.NoError(t, ApplyUpdate(b, (*updates)[2]))
	assert.True(t, b.HasPending())
	assert.Equal(t, map[common.ClientID]uint64{1: 1}, b.PendingStateVector().Map())
	assert.Equal(t, "", textOf(t, b, "text"))

	// pending structs are part of the document state handed to others
	c := newTestDoc(t, 3)
	relay, err := EncodeStateAsUpdate(b, nil)
	require.NoError(t, err)
	require.NoError(t, ApplyUpdate(c, relay))
	assert.True(t, c.HasPending())

	require.NoError(t, ApplyUpdate(b, (*updates)[1]))
	assert.Equal(t, map[common.ClientID]uint64{1: 0}, b.PendingStateVector().Map())
	require.NoError(t, ApplyUpdate(b, (*updates)[0]))

	assert.False(t, b.HasPending())
	assert.Nil(t, b.PendingStateVector())
	assert.Equal(t, "abc", textOf(t, b, "text"))

	require.NoError(t, ApplyUpdate(c, (*updates)[0]))
	require.NoError(t, ApplyUpdate(c, (*updates)[1]))
	assert.False(t, c.HasPending())
	assert.Equal(t, "abc", textOf(t, c, "text"))
}

func TestPendingDeleteSet(t *testing.T) {
	a := newTestDoc(t, 1)
	updates := collectUpdates(a)
	insertText(t, a, "text", 0, "abc")
	err := a.Transact(func(txn *Transaction) error {
		text, err := txn.GetText("text")
		if err != nil {
			return err
		}
		return text.Delete(txn, 1, 1)
	})
	require.NoError(t, err)

	b := newTestDoc(t, 2)
	require.NoError(t, ApplyUpdate(b, (*updates)[1]))
	assert.True(t, b.HasPending())

	require.NoError(t, ApplyUpdate(b, (*updates)[0]))
	assert.False(t, b.HasPending())
	assert.Equal(t, "ac", textOf(t, b, "text"))
}

func TestMissingDependencyOnOtherClient(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	ua := collectUpdates(a)

	insertText(t, a, "text", 0, "ab")
	require.NoError(t, ApplyUpdate(b, (*ua)[0]))
	ub := collectUpdates(b)
	insertText(t, b, "text", 1, "X")

	// b's insertion depends on a's item
	c := newTestDoc(t, 3)
	require.NoError(t, ApplyUpdate(c, (*ub)[0]))
	assert.Equal(t, map[common.ClientID]uint64{1: 0}, c.PendingStateVector().Map())

	require.NoError(t, ApplyUpdate(c, (*ua)[0]))
	assert.False(t, c.HasPending())
	assert.Equal(t, "aXb", textOf(t, c, "text"))
}

func TestMalformedUpdateRejected(t *testing.T) {
	a := newTestDoc(t, 1)
	insertText(t, a, "text", 0, "hello")
	update, err := EncodeStateAsUpdate(a, nil)
	require.NoError(t, err)

	b := newTestDoc(t, 2)
	insertText(t, b, "text", 0, "mine")
	before := stateVector(t, b)

	cases := map[string][]byte{
		"truncated":      update[:len(update)-3],
		"trailing bytes": append(append([]byte(nil), update...), 0),
		"empty":          {},
		"unknown ref":    {1, 1, 5, 0, 0x1e, 0},
		"zero length gc": {1, 1, 5, 0, 0, 0, 0},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			err := ApplyUpdate(b, data)
			var malformed common.ErrMalformedUpdate
			assert.True(t, errors.As(err, &malformed), "got %v", err)
		})
	}

	// nothing was applied
	assert.Equal(t, before, stateVector(t, b))
	assert.Equal(t, "mine", textOf(t, b, "text"))
	assert.False(t, b.HasPending())
}

func TestStateVectorRoundTrip(t *testing.T) {
	a := newTestDoc(t, 7)
	b := newTestDoc(t, 300)
	insertText(t, a, "text", 0, "abc")
	insertText(t, b, "text", 0, "de")
	exchange(t, a, b)

	encoded := stateVector(t, a)
	// clients are written highest first: 300 needs two bytes
	assert.Equal(t, []byte{2, 0xac, 0x02, 2, 7, 3}, encoded)

	sv, err := DecodeStateVector(encoded)
	require.NoError(t, err)
	assert.Equal(t, map[common.ClientID]uint64{7: 3, 300: 2}, sv.Map())
	assert.Equal(t, encoded, sv.Encode())

	_, err = DecodeStateVector(append(encoded, 1))
	var malformed common.ErrMalformedUpdate
	assert.True(t, errors.As(err, &malformed))
}

func TestGCReplacesDeletedContent(t *testing.T) {
	for _, gc := range []bool{true, false} {
		doc := NewDoc(WithClientID(1), WithGC(gc))
		err := doc.Transact(func(txn *Transaction) error {
			arr, err := txn.GetArray("array")
			if err != nil {
				return err
			}
			return arr.Push(txn, NewText("gone"), "kept")
		})
		require.NoError(t, err)
		err = doc.Transact(func(txn *Transaction) error {
			arr, err := txn.GetArray("array")
			if err != nil {
				return err
			}
			return arr.Delete(txn, 0, 1)
		})
		require.NoError(t, err)

		update, err := EncodeStateAsUpdate(doc, nil)
		require.NoError(t, err)
		info, err := DecodeUpdate(update)
		require.NoError(t, err)

		var kinds []string
		for _, s := range info.Structs {
			kinds = append(kinds, s.Kind+"/"+s.Content)
		}
		if gc {
			assert.Equal(t, []string{"Item/Deleted", "GC/", "Item/Any"}, kinds)
		} else {
			assert.Equal(t, []string{"Item/Type", "Item/String", "Item/Any"}, kinds)
		}

		other := newTestDoc(t, 2)
		require.NoError(t, ApplyUpdate(other, update))
		assert.Equal(t, []interface{}{"kept"}, arrayJSON(t, other, "array"))
	}
}

func TestSequentialInsertsMerge(t *testing.T) {
	doc := newTestDoc(t, 1)
	for i, c := range "hello" {
		insertText(t, doc, "text", i, string(c))
	}

	update, err := EncodeStateAsUpdate(doc, nil)
	require.NoError(t, err)
	info, err := DecodeUpdate(update)
	require.NoError(t, err)
	require.Len(t, info.Structs, 1)
	assert.Equal(t, uint64(5), info.Structs[0].Length)
	assert.Equal(t, []interface{}{"hello"}, info.Structs[0].Values)
}

func TestDeletedRangesMerge(t *testing.T) {
	doc := newTestDoc(t, 1)
	insertText(t, doc, "text", 0, "abcdef")
	for i := 0; i < 3; i++ {
		err := doc.Transact(func(txn *Transaction) error {
			text, err := txn.GetText("text")
			if err != nil {
				return err
			}
			return text.Delete(txn, 1, 1)
		})
		require.NoError(t, err)
	}
	assert.Equal(t, "aef", textOf(t, doc, "text"))

	update, err := EncodeStateAsUpdate(doc, nil)
	require.NoError(t, err)
	info, err := DecodeUpdate(update)
	require.NoError(t, err)
	assert.Equal(t, []DeleteInfo{{Client: 1, Clock: 1, Len: 3}}, info.Deletes)
	// "a", the collected "bcd" and "ef"
	assert.Len(t, info.Structs, 3)
}

func TestYjsUpdateFixture(t *testing.T) {
	// ytext "type" holding "abc", written by client 1
	fixture := []byte{1, 1, 1, 0, 4, 1, 4, 't', 'y', 'p', 'e', 3, 'a', 'b', 'c', 0}

	doc := newTestDoc(t, 2)
	require.NoError(t, ApplyUpdate(doc, fixture))
	assert.Equal(t, "abc", textOf(t, doc, "type"))

	update, err := EncodeStateAsUpdate(doc, nil)
	require.NoError(t, err)
	assert.Equal(t, fixture, update)
}
