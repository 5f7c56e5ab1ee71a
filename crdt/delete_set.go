package crdt

import (
	"sort"

	"ycrdt/common"
	"ycrdt/lib0"
)

// DeleteRange is a run of deleted clocks of one client.
type DeleteRange struct {
	Clock uint64 `json:"clock"`
	Len   uint64 `json:"len"`
}

// End returns the first clock after the range.
func (r DeleteRange) End() uint64 {
	return r.Clock + r.Len
}

// DeleteSet records deleted ranges per client. Deletions are not tracked by
// the state vector, so every update carries the delete set of its changes.
type DeleteSet struct {
	clients map[common.ClientID][]DeleteRange
}

// NewDeleteSet creates an empty delete set.
func NewDeleteSet() *DeleteSet {
	return &DeleteSet{clients: make(map[common.ClientID][]DeleteRange)}
}

// Add appends a range. Call SortAndMerge before querying.
func (ds *DeleteSet) Add(client common.ClientID, clock, length uint64) {
	if length == 0 {
		return
	}
	ds.clients[client] = append(ds.clients[client], DeleteRange{Clock: clock, Len: length})
}

// Empty reports whether the set holds no ranges.
func (ds *DeleteSet) Empty() bool {
	for _, ranges := range ds.clients {
		if len(ranges) > 0 {
			return false
		}
	}
	return true
}

// Clients returns the clients with ranges in descending order.
func (ds *DeleteSet) Clients() []common.ClientID {
	clients := make([]common.ClientID, 0, len(ds.clients))
	for client, ranges := range ds.clients {
		if len(ranges) > 0 {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	return clients
}

// Ranges returns the ranges of a client.
func (ds *DeleteSet) Ranges(client common.ClientID) []DeleteRange {
	return ds.clients[client]
}

// SortAndMerge orders each client's ranges by clock and joins overlapping or
// adjacent ones.
func (ds *DeleteSet) SortAndMerge() {
	for client, ranges := range ds.clients {
		if len(ranges) == 0 {
			delete(ds.clients, client)
			continue
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Clock < ranges[j].Clock })
		merged := ranges[:1]
		for _, r := range ranges[1:] {
			last := &merged[len(merged)-1]
			if r.Clock <= last.End() {
				if r.End() > last.End() {
					last.Len = r.End() - last.Clock
				}
			} else {
				merged = append(merged, r)
			}
		}
		ds.clients[client] = merged
	}
}

// Contains reports whether id is deleted. The set must be sorted.
func (ds *DeleteSet) Contains(id common.ID) bool {
	ranges := ds.clients[id.Client]
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].End() > id.Clock })
	return i < len(ranges) && ranges[i].Clock <= id.Clock
}

// MergeDeleteSets combines several delete sets into a new sorted one.
func MergeDeleteSets(sets ...*DeleteSet) *DeleteSet {
	out := NewDeleteSet()
	for _, ds := range sets {
		if ds == nil {
			continue
		}
		for client, ranges := range ds.clients {
			out.clients[client] = append(out.clients[client], ranges...)
		}
	}
	out.SortAndMerge()
	return out
}

func (ds *DeleteSet) write(enc *lib0.Encoder) {
	clients := ds.Clients()
	enc.WriteVarUint(uint64(len(clients)))
	for _, client := range clients {
		ranges := ds.clients[client]
		enc.WriteVarUint(client)
		enc.WriteVarUint(uint64(len(ranges)))
		for _, r := range ranges {
			enc.WriteVarUint(r.Clock)
			enc.WriteVarUint(r.Len)
		}
	}
}

func readDeleteSet(dec *lib0.Decoder) (*DeleteSet, error) {
	ds := NewDeleteSet()
	n, err := dec.ReadVarUint()
	if err != nil {
		return nil, malformed(err, "delete set length")
	}
	for i := uint64(0); i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "delete set client")
		}
		count, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "delete set range count")
		}
		for j := uint64(0); j < count; j++ {
			clock, err := dec.ReadVarUint()
			if err != nil {
				return nil, malformed(err, "delete range clock")
			}
			length, err := dec.ReadVarUint()
			if err != nil {
				return nil, malformed(err, "delete range length")
			}
			if clock+length < clock {
				return nil, common.ErrMalformedUpdate{Message: "delete range overflows"}
			}
			ds.Add(client, clock, length)
		}
	}
	return ds, nil
}

// deleteSetFromStore collects the deleted structs of the store.
func deleteSetFromStore(s *blockStore) *DeleteSet {
	ds := NewDeleteSet()
	for client, blocks := range s.clients {
		var ranges []DeleteRange
		for _, b := range blocks {
			if !b.deleted() {
				continue
			}
			id := b.blockID()
			if n := len(ranges); n > 0 && ranges[n-1].End() == id.Clock {
				ranges[n-1].Len += b.blockLen()
			} else {
				ranges = append(ranges, DeleteRange{Clock: id.Clock, Len: b.blockLen()})
			}
		}
		if len(ranges) > 0 {
			ds.clients[client] = ranges
		}
	}
	return ds
}

// applyDeleteSet deletes every known struct covered by ds and returns the
// ranges that refer to clocks this document has not seen yet.
func applyDeleteSet(txn *Transaction, ds *DeleteSet) *DeleteSet {
	s := txn.doc.store
	unapplied := NewDeleteSet()
	for _, client := range ds.Clients() {
		state := s.getState(client)
		for _, r := range ds.clients[client] {
			clock, end := r.Clock, r.End()
			if clock >= state {
				unapplied.Add(client, clock, r.Len)
				continue
			}
			if state < end {
				unapplied.Add(client, state, end-state)
			}
			index := s.findIndex(client, clock)
			if it, ok := s.clients[client][index].(*Item); ok && !it.deleted() && it.id.Clock < clock {
				s.insertAt(client, index+1, splitItem(txn, it, clock-it.id.Clock))
				index++
			}
			for index < len(s.clients[client]) {
				b := s.clients[client][index]
				index++
				if b.blockID().Clock >= end {
					break
				}
				it, ok := b.(*Item)
				if !ok || it.deleted() {
					continue
				}
				if end < it.id.Clock+it.length {
					s.insertAt(client, index, splitItem(txn, it, end-it.id.Clock))
				}
				it.delete(txn)
			}
		}
	}
	unapplied.SortAndMerge()
	return unapplied
}
