package crdt

import (
	"sort"

	"ycrdt/common"
)

// blockStore keeps every struct of a document, grouped by client and sorted
// by clock. Each client's structs cover the clock range [0, state) without
// gaps.
type blockStore struct {
	clients map[common.ClientID][]block

	// pending holds decoded structs waiting for missing dependencies.
	pending *pendingStructs
	// pendingDeletes holds deletions of clocks not received yet.
	pendingDeletes *DeleteSet
}

type pendingStructs struct {
	blocks  map[common.ClientID][]block
	missing *StateVector
}

func newBlockStore() *blockStore {
	return &blockStore{clients: make(map[common.ClientID][]block)}
}

// getState returns the next expected clock of client.
func (s *blockStore) getState(client common.ClientID) uint64 {
	blocks := s.clients[client]
	if len(blocks) == 0 {
		return 0
	}
	return blockEnd(blocks[len(blocks)-1])
}

func (s *blockStore) stateVector() *StateVector {
	sv := NewStateVector()
	for client := range s.clients {
		sv.Set(client, s.getState(client))
	}
	return sv
}

func (s *blockStore) addStruct(b block) {
	id := b.blockID()
	if state := s.getState(id.Client); state != id.Clock {
		panic(common.ErrInternal{Message: "struct " + id.String() + " does not continue the client's clock range"})
	}
	s.clients[id.Client] = append(s.clients[id.Client], b)
}

// findIndexSS returns the index of the struct that contains clock.
func findIndexSS(blocks []block, clock uint64) int {
	i := sort.Search(len(blocks), func(i int) bool {
		return blockEnd(blocks[i]) > clock
	})
	if i == len(blocks) || blocks[i].blockID().Clock > clock {
		panic(common.ErrInternal{Message: "no struct contains the requested clock"})
	}
	return i
}

func (s *blockStore) findIndex(client common.ClientID, clock uint64) int {
	return findIndexSS(s.clients[client], clock)
}

// find returns the struct that contains id.
func (s *blockStore) find(id common.ID) block {
	blocks := s.clients[id.Client]
	return blocks[findIndexSS(blocks, id.Clock)]
}

func (s *blockStore) insertAt(client common.ClientID, index int, b block) {
	blocks := append(s.clients[client], nil)
	copy(blocks[index+1:], blocks[index:])
	blocks[index] = b
	s.clients[client] = blocks
}

// findIndexCleanStart returns the index of the struct starting at clock,
// splitting the containing item if needed.
func (s *blockStore) findIndexCleanStart(txn *Transaction, client common.ClientID, clock uint64) int {
	index := s.findIndex(client, clock)
	b := s.clients[client][index]
	if it, ok := b.(*Item); ok && it.id.Clock < clock {
		s.insertAt(client, index+1, splitItem(txn, it, clock-it.id.Clock))
		return index + 1
	}
	return index
}

// getItemCleanStart returns the struct starting at id. GC structs are not
// split and may start before id.
func (s *blockStore) getItemCleanStart(txn *Transaction, id common.ID) block {
	return s.clients[id.Client][s.findIndexCleanStart(txn, id.Client, id.Clock)]
}

// getItemCleanEnd returns the struct ending at id. GC structs are not split
// and may end after id.
func (s *blockStore) getItemCleanEnd(txn *Transaction, id common.ID) block {
	index := s.findIndex(id.Client, id.Clock)
	b := s.clients[id.Client][index]
	if it, ok := b.(*Item); ok && id.Clock != it.id.Clock+it.length-1 {
		s.insertAt(id.Client, index+1, splitItem(txn, it, id.Clock-it.id.Clock+1))
	}
	return b
}

func (s *blockStore) replace(old, b block) {
	id := old.blockID()
	blocks := s.clients[id.Client]
	blocks[findIndexSS(blocks, id.Clock)] = b
}

// tryToMergeWithLefts merges the struct at pos into its left neighbours as
// far as possible and returns how many structs were absorbed.
func (s *blockStore) tryToMergeWithLefts(client common.ClientID, pos int) int {
	blocks := s.clients[client]
	i := pos
	for ; i > 0; i-- {
		left, right := blocks[i-1], blocks[i]
		if left.deleted() != right.deleted() || !mergeBlocks(left, right) {
			break
		}
		if ri, ok := right.(*Item); ok && ri.parentSub != nil && ri.parent.entries[*ri.parentSub] == ri {
			ri.parent.entries[*ri.parentSub] = left.(*Item)
		}
	}
	merged := pos - i
	if merged > 0 {
		s.clients[client] = append(blocks[:i+1], blocks[pos+1:]...)
	}
	return merged
}

func mergeBlocks(left, right block) bool {
	switch l := left.(type) {
	case *Item:
		r, ok := right.(*Item)
		return ok && l.mergeWith(r)
	case *gcBlock:
		r, ok := right.(*gcBlock)
		return ok && l.mergeWith(r)
	default:
		return false
	}
}
