package crdt

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/pkg/errors"

	"ycrdt/common"
	"ycrdt/lib0"
)

// Content refs written in the low bits of a struct's info byte.
const (
	refGC      = 0
	refDeleted = 1
	refJSON    = 2
	refBinary  = 3
	refString  = 4
	refEmbed   = 5
	refFormat  = 6
	refType    = 7
	refAny     = 8
	refDoc     = 9
	refSkip    = 10
)

// content is the payload of an Item. Lengths are measured in clock ticks.
type content interface {
	ref() uint8
	length() uint64
	countable() bool
	// values returns one element per clock tick.
	values() []interface{}
	copy() content
	// splice keeps the first offset ticks and returns the rest.
	splice(offset uint64) content
	mergeWith(right content) bool
	integrate(txn *Transaction, item *Item)
	delete(txn *Transaction)
	gc(s *blockStore)
	write(enc *lib0.Encoder, offset uint64) error
}

// contentDeleted stands in for content that has been garbage collected.
type contentDeleted struct {
	n uint64
}

func (c *contentDeleted) ref() uint8            { return refDeleted }
func (c *contentDeleted) length() uint64        { return c.n }
func (c *contentDeleted) countable() bool       { return false }
func (c *contentDeleted) values() []interface{} { return nil }
func (c *contentDeleted) copy() content         { return &contentDeleted{n: c.n} }

func (c *contentDeleted) splice(offset uint64) content {
	right := &contentDeleted{n: c.n - offset}
	c.n = offset
	return right
}

func (c *contentDeleted) mergeWith(right content) bool {
	r, ok := right.(*contentDeleted)
	if !ok {
		return false
	}
	c.n += r.n
	return true
}

func (c *contentDeleted) integrate(txn *Transaction, item *Item) {
	txn.deleteSet.Add(item.id.Client, item.id.Clock, c.n)
	item.markDeleted()
}

func (c *contentDeleted) delete(*Transaction) {}
func (c *contentDeleted) gc(*blockStore)      {}

func (c *contentDeleted) write(enc *lib0.Encoder, offset uint64) error {
	enc.WriteVarUint(c.n - offset)
	return nil
}

// contentJSON holds values encoded as JSON strings by older peers.
type contentJSON struct {
	vals []interface{}
}

func (c *contentJSON) ref() uint8            { return refJSON }
func (c *contentJSON) length() uint64        { return uint64(len(c.vals)) }
func (c *contentJSON) countable() bool       { return true }
func (c *contentJSON) values() []interface{} { return c.vals }

func (c *contentJSON) copy() content {
	return &contentJSON{vals: append([]interface{}(nil), c.vals...)}
}

func (c *contentJSON) splice(offset uint64) content {
	right := &contentJSON{vals: append([]interface{}(nil), c.vals[offset:]...)}
	c.vals = c.vals[:offset:offset]
	return right
}

func (c *contentJSON) mergeWith(right content) bool {
	r, ok := right.(*contentJSON)
	if !ok {
		return false
	}
	c.vals = append(c.vals, r.vals...)
	return true
}

func (c *contentJSON) integrate(*Transaction, *Item) {}
func (c *contentJSON) delete(*Transaction)           {}
func (c *contentJSON) gc(*blockStore)                {}

func (c *contentJSON) write(enc *lib0.Encoder, offset uint64) error {
	enc.WriteVarUint(uint64(len(c.vals)) - offset)
	for _, v := range c.vals[offset:] {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "encode json content")
		}
		enc.WriteVarString(string(b))
	}
	return nil
}

// contentBinary is a single byte buffer.
type contentBinary struct {
	data []byte
}

func (c *contentBinary) ref() uint8                    { return refBinary }
func (c *contentBinary) length() uint64                { return 1 }
func (c *contentBinary) countable() bool               { return true }
func (c *contentBinary) values() []interface{}         { return []interface{}{c.data} }
func (c *contentBinary) copy() content                 { return &contentBinary{data: c.data} }
func (c *contentBinary) splice(uint64) content         { panic(common.ErrInternal{Message: "binary content cannot be split"}) }
func (c *contentBinary) mergeWith(content) bool        { return false }
func (c *contentBinary) integrate(*Transaction, *Item) {}
func (c *contentBinary) delete(*Transaction)           {}
func (c *contentBinary) gc(*blockStore)                {}

func (c *contentBinary) write(enc *lib0.Encoder, _ uint64) error {
	enc.WriteVarUint8Array(c.data)
	return nil
}

// contentString is a run of text. Its length is counted in UTF-16 code
// units, which keeps clocks compatible with every other peer of the format.
type contentString struct {
	str string
}

func (c *contentString) ref() uint8      { return refString }
func (c *contentString) length() uint64  { return utf16Len(c.str) }
func (c *contentString) countable() bool { return true }
func (c *contentString) copy() content   { return &contentString{str: c.str} }

// values yields one string per UTF-16 unit. A character outside the basic
// plane is followed by an empty string so that the element count matches
// the length while the concatenation stays intact.
func (c *contentString) values() []interface{} {
	out := make([]interface{}, 0, len(c.str))
	for _, r := range c.str {
		out = append(out, string(r))
		if r >= 0x10000 {
			out = append(out, "")
		}
	}
	return out
}

func (c *contentString) splice(offset uint64) content {
	left, right := splitUTF16(c.str, offset)
	c.str = left
	return &contentString{str: right}
}

func (c *contentString) mergeWith(right content) bool {
	r, ok := right.(*contentString)
	if !ok {
		return false
	}
	c.str += r.str
	return true
}

func (c *contentString) integrate(*Transaction, *Item) {}
func (c *contentString) delete(*Transaction)           {}
func (c *contentString) gc(*blockStore)                {}

func (c *contentString) write(enc *lib0.Encoder, offset uint64) error {
	if offset == 0 {
		enc.WriteVarString(c.str)
		return nil
	}
	_, right := splitUTF16(c.str, offset)
	enc.WriteVarString(right)
	return nil
}

// contentEmbed is an embedded object inside text.
type contentEmbed struct {
	value interface{}
}

func (c *contentEmbed) ref() uint8                    { return refEmbed }
func (c *contentEmbed) length() uint64                { return 1 }
func (c *contentEmbed) countable() bool               { return true }
func (c *contentEmbed) values() []interface{}         { return []interface{}{c.value} }
func (c *contentEmbed) copy() content                 { return &contentEmbed{value: c.value} }
func (c *contentEmbed) splice(uint64) content         { panic(common.ErrInternal{Message: "embed content cannot be split"}) }
func (c *contentEmbed) mergeWith(content) bool        { return false }
func (c *contentEmbed) integrate(*Transaction, *Item) {}
func (c *contentEmbed) delete(*Transaction)           {}
func (c *contentEmbed) gc(*blockStore)                {}

func (c *contentEmbed) write(enc *lib0.Encoder, _ uint64) error {
	b, err := json.Marshal(c.value)
	if err != nil {
		return errors.Wrap(err, "encode embed content")
	}
	enc.WriteVarString(string(b))
	return nil
}

// contentFormat is a formatting marker inside text. It takes a clock tick
// but no index position.
type contentFormat struct {
	key   string
	value interface{}
}

func (c *contentFormat) ref() uint8                    { return refFormat }
func (c *contentFormat) length() uint64                { return 1 }
func (c *contentFormat) countable() bool               { return false }
func (c *contentFormat) values() []interface{}         { return nil }
func (c *contentFormat) copy() content                 { return &contentFormat{key: c.key, value: c.value} }
func (c *contentFormat) splice(uint64) content         { panic(common.ErrInternal{Message: "format content cannot be split"}) }
func (c *contentFormat) mergeWith(content) bool        { return false }
func (c *contentFormat) integrate(*Transaction, *Item) {}
func (c *contentFormat) delete(*Transaction)           {}
func (c *contentFormat) gc(*blockStore)                {}

func (c *contentFormat) write(enc *lib0.Encoder, _ uint64) error {
	enc.WriteVarString(c.key)
	b, err := json.Marshal(c.value)
	if err != nil {
		return errors.Wrap(err, "encode format content")
	}
	enc.WriteVarString(string(b))
	return nil
}

// contentType nests a shared type.
type contentType struct {
	branch *Branch
}

func (c *contentType) ref() uint8             { return refType }
func (c *contentType) length() uint64         { return 1 }
func (c *contentType) countable() bool        { return true }
func (c *contentType) values() []interface{}  { return []interface{}{c.branch.value()} }
func (c *contentType) copy() content          { return &contentType{branch: c.branch} }
func (c *contentType) splice(uint64) content  { panic(common.ErrInternal{Message: "type content cannot be split"}) }
func (c *contentType) mergeWith(content) bool { return false }

func (c *contentType) integrate(txn *Transaction, item *Item) {
	c.branch.integrate(txn.doc, item)
}

func (c *contentType) delete(txn *Transaction) {
	for it := c.branch.start; it != nil; it = it.right {
		if !it.deleted() {
			it.delete(txn)
		} else if it.id.Clock < txn.beforeState.Get(it.id.Client) {
			txn.mergeStructs = append(txn.mergeStructs, it)
		}
	}
	for _, it := range c.branch.entries {
		if !it.deleted() {
			it.delete(txn)
		} else if it.id.Clock < txn.beforeState.Get(it.id.Client) {
			txn.mergeStructs = append(txn.mergeStructs, it)
		}
	}
	delete(txn.changed, c.branch)
}

func (c *contentType) gc(s *blockStore) {
	for it := c.branch.start; it != nil; it = it.right {
		it.gc(s, true)
	}
	c.branch.start = nil
	for _, it := range c.branch.entries {
		for ; it != nil; it = it.left {
			it.gc(s, true)
		}
	}
	c.branch.entries = make(map[string]*Item)
}

func (c *contentType) write(enc *lib0.Encoder, _ uint64) error {
	enc.WriteVarUint(uint64(c.branch.kind))
	switch c.branch.kind {
	case common.TypeRefXmlElement, common.TypeRefXmlHook:
		enc.WriteVarString(c.branch.nodeName)
	}
	return nil
}

// contentAny is a run of primitive values.
type contentAny struct {
	vals []interface{}
}

func (c *contentAny) ref() uint8            { return refAny }
func (c *contentAny) length() uint64        { return uint64(len(c.vals)) }
func (c *contentAny) countable() bool       { return true }
func (c *contentAny) values() []interface{} { return c.vals }

func (c *contentAny) copy() content {
	return &contentAny{vals: append([]interface{}(nil), c.vals...)}
}

func (c *contentAny) splice(offset uint64) content {
	right := &contentAny{vals: append([]interface{}(nil), c.vals[offset:]...)}
	c.vals = c.vals[:offset:offset]
	return right
}

func (c *contentAny) mergeWith(right content) bool {
	r, ok := right.(*contentAny)
	if !ok {
		return false
	}
	c.vals = append(c.vals, r.vals...)
	return true
}

func (c *contentAny) integrate(*Transaction, *Item) {}
func (c *contentAny) delete(*Transaction)           {}
func (c *contentAny) gc(*blockStore)                {}

func (c *contentAny) write(enc *lib0.Encoder, offset uint64) error {
	enc.WriteVarUint(uint64(len(c.vals)) - offset)
	for _, v := range c.vals[offset:] {
		if err := enc.WriteAny(v); err != nil {
			return err
		}
	}
	return nil
}

func readContent(dec *lib0.Decoder, info uint8) (content, error) {
	switch info & bits5 {
	case refDeleted:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "deleted content length")
		}
		return &contentDeleted{n: n}, nil
	case refJSON:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "json content length")
		}
		vals := make([]interface{}, 0, capHint(n, dec.Remaining()))
		for i := uint64(0); i < n; i++ {
			s, err := dec.ReadVarString()
			if err != nil {
				return nil, malformed(err, "json content")
			}
			v, err := parseJSON(s)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return &contentJSON{vals: vals}, nil
	case refBinary:
		b, err := dec.ReadVarUint8Array()
		if err != nil {
			return nil, malformed(err, "binary content")
		}
		return &contentBinary{data: b}, nil
	case refString:
		s, err := dec.ReadVarString()
		if err != nil {
			return nil, malformed(err, "string content")
		}
		return &contentString{str: s}, nil
	case refEmbed:
		s, err := dec.ReadVarString()
		if err != nil {
			return nil, malformed(err, "embed content")
		}
		v, err := parseJSON(s)
		if err != nil {
			return nil, err
		}
		return &contentEmbed{value: v}, nil
	case refFormat:
		key, err := dec.ReadVarString()
		if err != nil {
			return nil, malformed(err, "format key")
		}
		s, err := dec.ReadVarString()
		if err != nil {
			return nil, malformed(err, "format value")
		}
		v, err := parseJSON(s)
		if err != nil {
			return nil, err
		}
		return &contentFormat{key: key, value: v}, nil
	case refType:
		ref, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "type ref")
		}
		kind := common.TypeRef(ref)
		var name string
		switch kind {
		case common.TypeRefXmlElement, common.TypeRefXmlHook:
			if name, err = dec.ReadVarString(); err != nil {
				return nil, malformed(err, "type name")
			}
		case common.TypeRefArray, common.TypeRefMap, common.TypeRefText,
			common.TypeRefXmlFragment, common.TypeRefXmlText:
		default:
			return nil, common.ErrMalformedUpdate{Message: "unknown type ref " + kind.String()}
		}
		return &contentType{branch: newBranch(kind, name)}, nil
	case refAny:
		n, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "any content length")
		}
		vals := make([]interface{}, 0, capHint(n, dec.Remaining()))
		for i := uint64(0); i < n; i++ {
			v, err := dec.ReadAny()
			if err != nil {
				return nil, malformed(err, "any content")
			}
			vals = append(vals, v)
		}
		return &contentAny{vals: vals}, nil
	case refDoc:
		return nil, common.ErrMalformedUpdate{Message: "sub-documents are not supported"}
	default:
		return nil, common.ErrMalformedUpdate{Message: "unknown content ref"}
	}
}

func parseJSON(s string) (interface{}, error) {
	if s == "undefined" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, common.ErrMalformedUpdate{Message: "invalid json content: " + err.Error()}
	}
	return v, nil
}

func capHint(n uint64, remaining int) int {
	if n > uint64(remaining) {
		return remaining
	}
	return int(n)
}

func utf16Len(s string) uint64 {
	var n uint64
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// splitUTF16 cuts s after offset UTF-16 units. A cut through a surrogate pair
// replaces both halves with U+FFFD.
func splitUTF16(s string, offset uint64) (string, string) {
	var units uint64
	for i, r := range s {
		if units == offset {
			return s[:i], s[i:]
		}
		w := uint64(1)
		if r >= 0x10000 {
			w = 2
		}
		if units+w > offset {
			_, size := utf8.DecodeRuneInString(s[i:])
			return s[:i] + "�", "�" + s[i+size:]
		}
		units += w
	}
	return s, ""
}
