package common

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ClientID identifies one replica of a document. Two replicas that will ever
// exchange updates must never share a ClientID.
type ClientID = uint64

// ID is the globally unique identifier of a single element inserted by a
// replica: the replica's client id and the sequence number (clock) of the
// element within that replica's history.
type ID struct {
	Client ClientID `json:"client"`
	Clock  uint64   `json:"clock"`
}

// NewID creates an ID.
func NewID(client ClientID, clock uint64) ID {
	return ID{Client: client, Clock: clock}
}

// Equal reports whether two ids point to the same element.
func (id ID) Equal(other ID) bool {
	return id.Client == other.Client && id.Clock == other.Clock
}

// Compare compares two ids, client first, then clock.
// Returns:
//
//	-1 if id < other
//	 0 if id == other
//	 1 if id > other
func (id ID) Compare(other ID) int {
	if id.Client != other.Client {
		if id.Client < other.Client {
			return -1
		}
		return 1
	}
	if id.Clock < other.Clock {
		return -1
	}
	if id.Clock > other.Clock {
		return 1
	}
	return 0
}

// Add returns the id shifted by n clock ticks on the same client.
func (id ID) Add(n uint64) ID {
	return ID{Client: id.Client, Clock: id.Clock + n}
}

// String returns a compact representation, e.g. "42:7".
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// EqualIDPtr compares optional ids; two nil ids are equal.
func EqualIDPtr(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// ClientIDSource produces replica identifiers for documents created without an
// explicit client id.
type ClientIDSource interface {
	NextClientID() ClientID
}

// ClientIDSourceFunc adapts a function to ClientIDSource.
type ClientIDSourceFunc func() ClientID

// NextClientID calls f.
func (f ClientIDSourceFunc) NextClientID() ClientID {
	return f()
}

// uuidSource draws replica ids from the random bits of a UUID v4. Ids are
// kept within 32 bits so they stay exact when read by peers that store
// numbers as doubles.
type uuidSource struct{}

func (uuidSource) NextClientID() ClientID {
	id := uuid.New()
	return ClientID(binary.BigEndian.Uint32(id[:4]))
}

// SequentialSource hands out consecutive ids starting at Next. Useful when a
// test needs to know which replica wins a tie-break.
type SequentialSource struct {
	mu   sync.Mutex
	Next ClientID
}

// NextClientID returns the next id of the sequence.
func (s *SequentialSource) NextClientID() ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.Next
	s.Next++
	return id
}

var (
	clientIDSource   ClientIDSource = uuidSource{}
	clientIDSourceMu sync.RWMutex
)

// NewClientID returns a replica id from the process-wide source.
func NewClientID() ClientID {
	clientIDSourceMu.RLock()
	src := clientIDSource
	clientIDSourceMu.RUnlock()
	return src.NextClientID()
}

// SetClientIDSource replaces the process-wide replica id source and returns a
// function restoring the previous one. A nil source restores the default.
func SetClientIDSource(src ClientIDSource) (restore func()) {
	if src == nil {
		src = uuidSource{}
	}
	clientIDSourceMu.Lock()
	prev := clientIDSource
	clientIDSource = src
	clientIDSourceMu.Unlock()
	return func() {
		clientIDSourceMu.Lock()
		clientIDSource = prev
		clientIDSourceMu.Unlock()
	}
}

// NewGUID returns a random document GUID.
func NewGUID() string {
	return uuid.NewString()
}

// TypeRef identifies the kind of a shared type on the wire.
type TypeRef uint8

const (
	// TypeRefArray is an ordered sequence.
	TypeRefArray TypeRef = 0
	// TypeRefMap is a key-value map.
	TypeRefMap TypeRef = 1
	// TypeRefText is a string.
	TypeRefText TypeRef = 2
	// TypeRefXmlElement is an XML element carrying a node name.
	TypeRefXmlElement TypeRef = 3
	// TypeRefXmlFragment is a list of XML nodes.
	TypeRefXmlFragment TypeRef = 4
	// TypeRefXmlHook is a map with a hook name.
	TypeRefXmlHook TypeRef = 5
	// TypeRefXmlText is text inside an XML tree.
	TypeRefXmlText TypeRef = 6
	// TypeRefUndefined marks a root whose kind has not been requested yet.
	TypeRefUndefined TypeRef = 15
)

var typeRefNames = map[TypeRef]string{
	TypeRefArray:       "array",
	TypeRefMap:         "map",
	TypeRefText:        "text",
	TypeRefXmlElement:  "xml_element",
	TypeRefXmlFragment: "xml_fragment",
	TypeRefXmlHook:     "xml_hook",
	TypeRefXmlText:     "xml_text",
	TypeRefUndefined:   "undefined",
}

func (t TypeRef) String() string {
	if name, ok := typeRefNames[t]; ok {
		return name
	}
	return fmt.Sprintf("typeref(%d)", uint8(t))
}
