package crdt

import (
	"sort"

	"github.com/pkg/errors"

	"ycrdt/common"
	"ycrdt/lib0"
)

// decodedUpdate is a v1 update read into memory: structs grouped by client
// and the delete set.
type decodedUpdate struct {
	blocks  map[common.ClientID][]block
	deletes *DeleteSet
}

func malformed(err error, what string) error {
	return errors.WithStack(common.ErrMalformedUpdate{Message: what + ": " + err.Error()})
}

func decodeUpdate(data []byte) (*decodedUpdate, error) {
	dec := lib0.NewDecoder(data)
	blocks, err := readClientsStructs(dec)
	if err != nil {
		return nil, err
	}
	ds, err := readDeleteSet(dec)
	if err != nil {
		return nil, err
	}
	if dec.HasContent() {
		return nil, common.ErrMalformedUpdate{Message: "trailing bytes after delete set"}
	}
	return &decodedUpdate{blocks: blocks, deletes: ds}, nil
}

func readClientsStructs(dec *lib0.Decoder) (map[common.ClientID][]block, error) {
	out := make(map[common.ClientID][]block)
	numClients, err := dec.ReadVarUint()
	if err != nil {
		return nil, malformed(err, "client count")
	}
	for i := uint64(0); i < numClients; i++ {
		numStructs, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "struct count")
		}
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "client")
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "start clock")
		}
		blocks := make([]block, 0, capHint(numStructs, dec.Remaining()))
		for j := uint64(0); j < numStructs; j++ {
			b, err := readStruct(dec, common.NewID(client, clock))
			if err != nil {
				return nil, err
			}
			end := clock + b.blockLen()
			if end <= clock {
				return nil, common.ErrMalformedUpdate{Message: "struct " + b.blockID().String() + " has an invalid length"}
			}
			clock = end
			blocks = append(blocks, b)
		}
		out[client] = append(out[client], blocks...)
	}
	return out, nil
}

func readStruct(dec *lib0.Decoder, id common.ID) (block, error) {
	info, err := dec.ReadUint8()
	if err != nil {
		return nil, malformed(err, "struct info")
	}
	switch info & bits5 {
	case refGC:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "gc length")
		}
		return &gcBlock{id: id, length: n}, nil
	case refSkip:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "skip length")
		}
		return &skipBlock{id: id, length: n}, nil
	}

	it := &Item{id: id}
	if info&bit8 != 0 {
		origin, err := readID(dec)
		if err != nil {
			return nil, malformed(err, "origin")
		}
		it.origin = &origin
	}
	if info&bit7 != 0 {
		rightOrigin, err := readID(dec)
		if err != nil {
			return nil, malformed(err, "right origin")
		}
		it.rightOrigin = &rightOrigin
	}
	if info&(bit7|bit8) == 0 {
		isRoot, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "parent info")
		}
		if isRoot == 1 {
			name, err := dec.ReadVarString()
			if err != nil {
				return nil, malformed(err, "parent name")
			}
			it.parentName = &name
		} else {
			pid, err := readID(dec)
			if err != nil {
				return nil, malformed(err, "parent id")
			}
			it.parentID = &pid
		}
		if info&bit6 != 0 {
			sub, err := dec.ReadVarString()
			if err != nil {
				return nil, malformed(err, "parent sub")
			}
			it.parentSub = &sub
		}
	}
	c, err := readContent(dec, info)
	if err != nil {
		return nil, err
	}
	it.content = c
	it.length = c.length()
	if c.countable() {
		it.info |= itemCountable
	}
	return it, nil
}

// encode writes the update in v1 format.
func (u *decodedUpdate) encode() []byte {
	enc := lib0.NewEncoder()
	clients := make([]common.ClientID, 0, len(u.blocks))
	for client, blocks := range u.blocks {
		if len(blocks) > 0 {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	enc.WriteVarUint(uint64(len(clients)))
	for _, client := range clients {
		blocks := u.blocks[client]
		enc.WriteVarUint(uint64(len(blocks)))
		enc.WriteVarUint(client)
		enc.WriteVarUint(blocks[0].blockID().Clock)
		for _, b := range blocks {
			mustWrite(b, enc, 0)
		}
	}
	u.deletes.write(enc)
	return enc.Bytes()
}

func mustWrite(b block, enc *lib0.Encoder, offset uint64) {
	if err := b.write(enc, offset); err != nil {
		panic(common.ErrInternal{Message: "encoding struct " + b.blockID().String() + ": " + err.Error()})
	}
}

// normalizeBlocks orders the decoded structs of one client, drops the parts
// seen more than once, and marks holes with skip structs. Skips of the input
// are dropped, since holes are recomputed.
func normalizeBlocks(list []block) []block {
	known := make([]block, 0, len(list))
	for _, b := range list {
		if _, skip := b.(*skipBlock); !skip {
			known = append(known, b)
		}
	}
	sort.SliceStable(known, func(i, j int) bool {
		a, b := known[i].blockID().Clock, known[j].blockID().Clock
		if a != b {
			return a < b
		}
		return known[i].blockLen() > known[j].blockLen()
	})

	out := make([]block, 0, len(known))
	for _, b := range known {
		if n := len(out); n > 0 {
			last := out[n-1]
			next := blockEnd(last)
			if blockEnd(b) <= next {
				continue
			}
			clock := b.blockID().Clock
			if clock < next {
				b = sliceBlock(b, next-clock)
			} else if clock > next {
				out = append(out, &skipBlock{id: common.NewID(b.blockID().Client, next), length: clock - next})
			} else if mergeDecoded(last, b) {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// mergeDecoded appends right to left when both are decoded structs and right
// continues left.
func mergeDecoded(left, right block) bool {
	switch l := left.(type) {
	case *gcBlock:
		r, ok := right.(*gcBlock)
		return ok && l.mergeWith(r)
	case *Item:
		r, ok := right.(*Item)
		if !ok || l.parent != nil || r.parent != nil {
			return false
		}
		if r.origin == nil || !r.origin.Equal(l.lastID()) || !common.EqualIDPtr(l.rightOrigin, r.rightOrigin) {
			return false
		}
		if r.parentName != nil || r.parentID != nil || r.parentSub != nil {
			return false
		}
		if l.content.ref() != r.content.ref() {
			return false
		}
		c := l.content.copy()
		if !c.mergeWith(r.content) {
			return false
		}
		l.content = c
		l.length += r.length
		return true
	default:
		return false
	}
}

// applyDecoded integrates a decoded update together with the structs and
// deletions left pending by earlier updates.
func (txn *Transaction) applyDecoded(u *decodedUpdate) {
	s := txn.doc.store
	refs := u.blocks
	if s.pending != nil {
		for client, blocks := range s.pending.blocks {
			refs[client] = append(refs[client], blocks...)
		}
		s.pending = nil
	}
	for client, blocks := range refs {
		if norm := normalizeBlocks(blocks); len(norm) > 0 {
			refs[client] = norm
		} else {
			delete(refs, client)
		}
	}

	rest, missing := integrateStructs(txn, refs)
	if len(rest) > 0 {
		s.pending = &pendingStructs{blocks: rest, missing: missing}
		logger.Debugw("structs pending", "clients", len(rest), "missing", missing.Map())
	}

	unapplied := applyDeleteSet(txn, u.deletes)
	if s.pendingDeletes != nil {
		unapplied = MergeDeleteSets(unapplied, applyDeleteSet(txn, s.pendingDeletes))
	}
	if unapplied.Empty() {
		s.pendingDeletes = nil
	} else {
		s.pendingDeletes = unapplied
		logger.Debugw("deletions pending", "clients", len(unapplied.clients))
	}
}

type structRefs struct {
	refs []block
	i    int
}

// integrateStructs integrates decoded structs in causal order. Structs whose
// dependencies are not available are returned along with the lowest missing
// clock per client.
func integrateStructs(txn *Transaction, clientRefs map[common.ClientID][]block) (map[common.ClientID][]block, *StateVector) {
	s := txn.doc.store
	targets := make(map[common.ClientID]*structRefs, len(clientRefs))
	ids := make([]common.ClientID, 0, len(clientRefs))
	for client, refs := range clientRefs {
		targets[client] = &structRefs{refs: refs}
		ids = append(ids, client)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nextTarget := func() *structRefs {
		for len(ids) > 0 {
			t := targets[ids[len(ids)-1]]
			if t != nil && t.i < len(t.refs) {
				return t
			}
			ids = ids[:len(ids)-1]
		}
		return nil
	}
	cur := nextTarget()
	if cur == nil {
		return nil, nil
	}

	rest := make(map[common.ClientID][]block)
	missing := NewStateVector()
	updateMissing := func(client common.ClientID, clock uint64) {
		if !missing.Has(client) || missing.Get(client) > clock {
			missing.Set(client, clock)
		}
	}
	state := make(map[common.ClientID]uint64)
	localState := func(client common.ClientID) uint64 {
		if clock, ok := state[client]; ok {
			return clock
		}
		clock := s.getState(client)
		state[client] = clock
		return clock
	}

	var stack []block
	addStackToRest := func() {
		for _, b := range stack {
			client := b.blockID().Client
			if t, ok := targets[client]; ok {
				// the head of the stack was taken from t but not applied
				t.i--
				rest[client] = append([]block(nil), t.refs[t.i:]...)
				t.refs, t.i = nil, 0
				delete(targets, client)
			} else if _, ok := rest[client]; !ok {
				rest[client] = []block{b}
			}
			for i, c := range ids {
				if c == client {
					ids = append(ids[:i:i], ids[i+1:]...)
					break
				}
			}
		}
		stack = stack[:0]
	}

	head := cur.refs[cur.i]
	cur.i++
	for {
		if _, skip := head.(*skipBlock); !skip {
			id := head.blockID()
			local := localState(id.Client)
			if local < id.Clock {
				// a struct of the same client is missing
				stack = append(stack, head)
				updateMissing(id.Client, id.Clock-1)
				addStackToRest()
			} else if client, ok := head.getMissing(txn); ok {
				stack = append(stack, head)
				t := targets[client]
				if t == nil || t.i == len(t.refs) {
					updateMissing(client, s.getState(client))
					addStackToRest()
				} else {
					head = t.refs[t.i]
					t.i++
					continue
				}
			} else if offset := local - id.Clock; offset < head.blockLen() {
				head.integrate(txn, offset)
				state[id.Client] = blockEnd(head)
			}
		}

		switch {
		case len(stack) > 0:
			head = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		case cur != nil && cur.i < len(cur.refs):
			head = cur.refs[cur.i]
			cur.i++
		default:
			cur = nextTarget()
			if cur == nil {
				return rest, missing
			}
			head = cur.refs[cur.i]
			cur.i++
		}
	}
}

// encodeUpdate writes the structs the store holds beyond sv, then ds. With
// pending set, structs waiting for dependencies are included as well.
func (d *Doc) encodeUpdate(sv *StateVector, ds *DeleteSet, pending bool) []byte {
	s := d.store
	type clientWrite struct {
		clock  uint64
		offset uint64
		blocks []block
	}
	writes := make(map[common.ClientID]*clientWrite)
	for client, blocks := range s.clients {
		from := sv.Get(client)
		if s.getState(client) <= from {
			continue
		}
		if first := blocks[0].blockID().Clock; from < first {
			from = first
		}
		idx := findIndexSS(blocks, from)
		writes[client] = &clientWrite{
			clock:  from,
			offset: from - blocks[idx].blockID().Clock,
			blocks: blocks[idx:len(blocks):len(blocks)],
		}
	}
	if pending && s.pending != nil {
		for client, blocks := range s.pending.blocks {
			state := s.getState(client)
			from := sv.Get(client)
			if from < state {
				from = state
			}
			var tail []block
			for _, b := range blocks {
				if blockEnd(b) <= from {
					continue
				}
				if clock := b.blockID().Clock; clock < from {
					b = sliceBlock(b, from-clock)
				}
				if _, skip := b.(*skipBlock); skip && len(tail) == 0 {
					continue
				}
				tail = append(tail, b)
			}
			if len(tail) == 0 {
				continue
			}
			w, ok := writes[client]
			if !ok {
				writes[client] = &clientWrite{clock: tail[0].blockID().Clock, blocks: tail}
				continue
			}
			if start := tail[0].blockID().Clock; start > state {
				w.blocks = append(w.blocks, &skipBlock{id: common.NewID(client, state), length: start - state})
			}
			w.blocks = append(w.blocks, tail...)
		}
	}

	clients := make([]common.ClientID, 0, len(writes))
	for client := range writes {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })

	enc := lib0.NewEncoder()
	enc.WriteVarUint(uint64(len(clients)))
	for _, client := range clients {
		w := writes[client]
		enc.WriteVarUint(uint64(len(w.blocks)))
		enc.WriteVarUint(client)
		enc.WriteVarUint(w.clock)
		mustWrite(w.blocks[0], enc, w.offset)
		for _, b := range w.blocks[1:] {
			mustWrite(b, enc, 0)
		}
	}
	ds.write(enc)
	return enc.Bytes()
}

// encodeDiff encodes the document beyond sv, including pending structs and
// the delete set of the whole document.
func (d *Doc) encodeDiff(sv *StateVector) []byte {
	ds := deleteSetFromStore(d.store)
	if d.store.pendingDeletes != nil {
		ds = MergeDeleteSets(ds, d.store.pendingDeletes)
	}
	return d.encodeUpdate(sv, ds, true)
}
