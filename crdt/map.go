package crdt

import (
	"sort"

	"ycrdt/common"
)

// Map is a shared map from string keys to values. Concurrent writes to the
// same key converge on one value chosen by the same ordering rules as list
// insertions.
type Map struct {
	cell sharedCell[map[string]interface{}]
}

// NewMap creates a preliminary map holding a copy of init.
func NewMap(init map[string]interface{}) *Map {
	m := make(map[string]interface{}, len(init))
	for k, v := range init {
		m[k] = prelimValue(v)
	}
	return &Map{cell: sharedCell[map[string]interface{}]{prelim: m}}
}

// Prelim reports whether the map is not part of a document yet.
func (m *Map) Prelim() bool { return !m.cell.integrated() }

// Len returns the number of keys.
func (m *Map) Len() int {
	if m.cell.integrated() {
		return len(m.cell.branch.mapKeys())
	}
	return len(m.cell.prelim)
}

// Set stores value under key.
func (m *Map) Set(txn *Transaction, key string, value interface{}) error {
	if m.cell.integrated() {
		if err := m.cell.branch.check(txn); err != nil {
			return err
		}
	}
	prepared, err := prepareValues([]interface{}{value}, m)
	if err != nil {
		return err
	}
	if !m.cell.integrated() {
		if m.cell.prelim == nil {
			m.cell.prelim = make(map[string]interface{})
		}
		m.cell.prelim[key] = prepared[0]
		return nil
	}
	m.cell.branch.mapSet(txn, key, prepared[0])
	return nil
}

// Get returns the value stored under key.
func (m *Map) Get(txn *Transaction, key string) (interface{}, bool, error) {
	if !m.cell.integrated() {
		v, ok := m.cell.prelim[key]
		return v, ok, nil
	}
	if err := m.cell.branch.check(txn); err != nil {
		return nil, false, err
	}
	v, ok := m.cell.branch.mapGet(key)
	return v, ok, nil
}

// Delete removes key. Removing a missing key is not an error.
func (m *Map) Delete(txn *Transaction, key string) error {
	if !m.cell.integrated() {
		delete(m.cell.prelim, key)
		return nil
	}
	if err := m.cell.branch.check(txn); err != nil {
		return err
	}
	m.cell.branch.mapDelete(txn, key)
	return nil
}

// Keys returns the keys in sorted order.
func (m *Map) Keys(txn *Transaction) ([]string, error) {
	if m.cell.integrated() {
		if err := m.cell.branch.check(txn); err != nil {
			return nil, err
		}
		return m.cell.branch.mapKeys(), nil
	}
	return sortedKeys(m.cell.prelim), nil
}

// ToJSON returns the entries as plain values, rendering nested shared types
// recursively.
func (m *Map) ToJSON(txn *Transaction) (map[string]interface{}, error) {
	if m.cell.integrated() {
		if err := m.cell.branch.check(txn); err != nil {
			return nil, err
		}
	}
	return m.render(), nil
}

// Observe calls fn after every transaction that changed the map.
func (m *Map) Observe(fn func(*Event)) (func(), error) {
	if !m.cell.integrated() {
		return nil, common.ErrInvalidOperation{Message: "cannot observe a preliminary map"}
	}
	return m.cell.branch.observe(fn), nil
}

func (m *Map) render() map[string]interface{} {
	if m.cell.integrated() {
		return m.cell.branch.mapJSON()
	}
	out := make(map[string]interface{}, len(m.cell.prelim))
	for k, v := range m.cell.prelim {
		out[k] = jsonValue(v)
	}
	return out
}

func (m *Map) typeRef() common.TypeRef    { return common.TypeRefMap }
func (m *Map) integratedBranch() *Branch { return m.cell.branch }

func (m *Map) nested() []interface{} {
	out := make([]interface{}, 0, len(m.cell.prelim))
	for _, k := range sortedKeys(m.cell.prelim) {
		out = append(out, m.cell.prelim[k])
	}
	return out
}

func (m *Map) promote(txn *Transaction, b *Branch) {
	entries := mustBind(&m.cell, b)
	keys := sortedKeys(entries)
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		vals[i] = entries[k]
	}
	for i, v := range normalized(vals) {
		b.mapSet(txn, keys[i], v)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
