package crdt

import (
	"sort"

	"github.com/pkg/errors"

	"ycrdt/common"
)

// MergeUpdates combines several v1 updates into one. The result is applied
// like all inputs applied in any order. Overlapping structs are kept once and
// clock gaps are marked with skip structs.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	merged := &decodedUpdate{blocks: make(map[common.ClientID][]block)}
	sets := make([]*DeleteSet, 0, len(updates))
	for i, update := range updates {
		u, err := decodeUpdate(update)
		if err != nil {
			return nil, errors.Wrapf(err, "update %d", i)
		}
		for client, blocks := range u.blocks {
			merged.blocks[client] = append(merged.blocks[client], blocks...)
		}
		sets = append(sets, u.deletes)
	}
	for client, blocks := range merged.blocks {
		merged.blocks[client] = normalizeBlocks(blocks)
	}
	merged.deletes = MergeDeleteSets(sets...)
	return merged.encode(), nil
}

// EncodeStateVectorFromUpdate returns the encoded state a document would
// reach by applying only update to an empty document. Clients whose structs
// do not start at clock zero are left out.
func EncodeStateVectorFromUpdate(update []byte) ([]byte, error) {
	u, err := decodeUpdate(update)
	if err != nil {
		return nil, err
	}
	sv := NewStateVector()
	for client, blocks := range u.blocks {
		blocks = normalizeBlocks(blocks)
		if len(blocks) == 0 || blocks[0].blockID().Clock != 0 {
			continue
		}
		var clock uint64
		for _, b := range blocks {
			if _, skip := b.(*skipBlock); skip {
				break
			}
			clock = blockEnd(b)
		}
		if clock > 0 {
			sv.Set(client, clock)
		}
	}
	return sv.Encode(), nil
}

// DiffUpdate removes from update the structs already covered by the encoded
// state vector sv. The delete set is kept whole.
func DiffUpdate(update, sv []byte) ([]byte, error) {
	u, err := decodeUpdate(update)
	if err != nil {
		return nil, err
	}
	state, err := DecodeStateVector(sv)
	if err != nil {
		return nil, err
	}
	for client, blocks := range u.blocks {
		from := state.Get(client)
		var out []block
		for _, b := range normalizeBlocks(blocks) {
			if blockEnd(b) <= from {
				continue
			}
			if clock := b.blockID().Clock; clock < from {
				b = sliceBlock(b, from-clock)
			}
			if _, skip := b.(*skipBlock); skip && len(out) == 0 {
				continue
			}
			out = append(out, b)
		}
		if len(out) == 0 {
			delete(u.blocks, client)
		} else {
			u.blocks[client] = out
		}
	}
	return u.encode(), nil
}

// UpdateInfo is the decoded form of a v1 update.
type UpdateInfo struct {
	Structs []StructInfo `json:"structs" yaml:"structs"`
	Deletes []DeleteInfo `json:"deletes" yaml:"deletes"`
}

// StructInfo describes one encoded struct.
type StructInfo struct {
	Kind        string        `json:"kind" yaml:"kind"`
	ID          common.ID     `json:"id" yaml:"id"`
	Length      uint64        `json:"length" yaml:"length"`
	Content     string        `json:"content,omitempty" yaml:"content,omitempty"`
	Origin      *common.ID    `json:"origin,omitempty" yaml:"origin,omitempty"`
	RightOrigin *common.ID    `json:"rightOrigin,omitempty" yaml:"rightOrigin,omitempty"`
	Parent      string        `json:"parent,omitempty" yaml:"parent,omitempty"`
	ParentSub   *string       `json:"parentSub,omitempty" yaml:"parentSub,omitempty"`
	Values      []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
}

// DeleteInfo is one deleted clock range.
type DeleteInfo struct {
	Client common.ClientID `json:"client" yaml:"client"`
	Clock  uint64          `json:"clock" yaml:"clock"`
	Len    uint64          `json:"len" yaml:"len"`
}

// DecodeUpdate decodes update for inspection. Structs are listed by client,
// highest client first, in encoding order.
func DecodeUpdate(update []byte) (*UpdateInfo, error) {
	u, err := decodeUpdate(update)
	if err != nil {
		return nil, err
	}
	clients := make([]common.ClientID, 0, len(u.blocks))
	for client := range u.blocks {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })

	info := &UpdateInfo{}
	for _, client := range clients {
		for _, b := range u.blocks[client] {
			info.Structs = append(info.Structs, describeBlock(b))
		}
	}
	for _, client := range u.deletes.Clients() {
		for _, r := range u.deletes.Ranges(client) {
			info.Deletes = append(info.Deletes, DeleteInfo{Client: client, Clock: r.Clock, Len: r.Len})
		}
	}
	return info, nil
}

func describeBlock(b block) StructInfo {
	si := StructInfo{ID: b.blockID(), Length: b.blockLen()}
	switch x := b.(type) {
	case *gcBlock:
		si.Kind = "GC"
	case *skipBlock:
		si.Kind = "Skip"
	case *Item:
		si.Kind = "Item"
		si.Origin = x.origin
		si.RightOrigin = x.rightOrigin
		si.ParentSub = x.parentSub
		switch {
		case x.parentName != nil:
			si.Parent = *x.parentName
		case x.parentID != nil:
			si.Parent = x.parentID.String()
		}
		si.Content, si.Values = describeContent(x.content)
	}
	return si
}

func describeContent(c content) (string, []interface{}) {
	switch x := c.(type) {
	case *contentDeleted:
		return "Deleted", nil
	case *contentJSON:
		return "JSON", x.vals
	case *contentBinary:
		return "Binary", []interface{}{x.data}
	case *contentString:
		return "String", []interface{}{x.str}
	case *contentEmbed:
		return "Embed", []interface{}{x.value}
	case *contentFormat:
		return "Format", []interface{}{map[string]interface{}{x.key: x.value}}
	case *contentType:
		name := x.branch.kind.String()
		if x.branch.nodeName != "" {
			name += "(" + x.branch.nodeName + ")"
		}
		return "Type", []interface{}{name}
	case *contentAny:
		return "Any", x.vals
	default:
		return "Unknown", nil
	}
}
