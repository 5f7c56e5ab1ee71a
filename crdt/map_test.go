package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapJSON(t *testing.T, doc *Doc, name string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	err := doc.Transact(func(txn *Transaction) error {
		m, err := txn.GetMap(name)
		if err != nil {
			return err
		}
		out, err = m.ToJSON(txn)
		return err
	})
	require.NoError(t, err)
	return out
}

func setKey(t *testing.T, doc *Doc, name, key string, value interface{}) {
	t.Helper()
	err := doc.Transact(func(txn *Transaction) error {
		m, err := txn.GetMap(name)
		if err != nil {
			return err
		}
		return m.Set(txn, key, value)
	})
	require.NoError(t, err)
}

func TestMapSetGetDelete(t *testing.T) {
	doc := newTestDoc(t, 1)
	setKey(t, doc, "m", "a", 1)
	setKey(t, doc, "m", "b", "two")
	setKey(t, doc, "m", "a", 3.5)

	err := doc.Transact(func(txn *Transaction) error {
		m, err := txn.GetMap("m")
		if err != nil {
			return err
		}
		v, ok, err := m.Get(txn, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3.5, v)

		_, ok, err = m.Get(txn, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := m.Keys(txn)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)

		if err := m.Delete(txn, "b"); err != nil {
			return err
		}
		// deleting a missing key is fine
		return m.Delete(txn, "missing")
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 3.5}, mapJSON(t, doc, "m"))

	m, err := doc.GetMap("m")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestMapConcurrentSet(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	setKey(t, a, "m", "k", "from a")
	setKey(t, b, "m", "k", "from b")

	exchange(t, a, b)

	// the higher client wins a tie on the same key
	want := map[string]interface{}{"k": "from b"}
	assert.Equal(t, want, mapJSON(t, a, "m"))
	assert.Equal(t, want, mapJSON(t, b, "m"))
}

func TestMapNestedTypes(t *testing.T) {
	doc := newTestDoc(t, 1)
	err := doc.Transact(func(txn *Transaction) error {
		m, err := txn.GetMap("m")
		if err != nil {
			return err
		}
		if err := m.Set(txn, "list", NewArray("x")); err != nil {
			return err
		}
		return m.Set(txn, "text", NewText("t"))
	})
	require.NoError(t, err)

	// replacing a nested type drops it
	setKey(t, doc, "m", "list", nil)

	want := map[string]interface{}{"list": nil, "text": "t"}
	assert.Equal(t, want, mapJSON(t, doc, "m"))

	other := newTestDoc(t, 2)
	exchange(t, doc, other)
	assert.Equal(t, want, mapJSON(t, other, "m"))
}

func TestPrelimMap(t *testing.T) {
	m := NewMap(map[string]interface{}{"a": 1})
	assert.True(t, m.Prelim())
	require.NoError(t, m.Set(nil, "b", "x"))
	require.NoError(t, m.Delete(nil, "a"))

	keys, err := m.Keys(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	// initial entries are normalized like Set values
	n := NewMap(map[string]interface{}{"n": 7})
	v, ok, err := n.Get(nil, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	doc := newTestDoc(t, 1)
	err = doc.Transact(func(txn *Transaction) error {
		arr, err := txn.GetArray("a")
		if err != nil {
			return err
		}
		return arr.Push(txn, m)
	})
	require.NoError(t, err)
	assert.False(t, m.Prelim())
	assert.Equal(t, []interface{}{map[string]interface{}{"b": "x"}}, arrayJSON(t, doc, "a"))
}

func TestMapObserveKeys(t *testing.T) {
	doc := newTestDoc(t, 1)
	m, err := doc.GetMap("m")
	require.NoError(t, err)

	var keys [][]string
	_, err = m.Observe(func(e *Event) {
		keys = append(keys, e.Keys)
		assert.False(t, e.ListChanged)
	})
	require.NoError(t, err)

	err = doc.Transact(func(txn *Transaction) error {
		if err := m.Set(txn, "z", 1); err != nil {
			return err
		}
		return m.Set(txn, "a", 2)
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "z"}}, keys)
}
