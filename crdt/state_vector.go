package crdt

import (
	"sort"

	"ycrdt/common"
	"ycrdt/lib0"
)

// StateVector는 클라이언트별로 다음에 기대하는 clock 값을 추적합니다.
// 즉 해당 클라이언트로부터 지금까지 받은 블록 길이의 합입니다.
type StateVector struct {
	// vector는 클라이언트 ID에서 clock 값으로의 맵입니다.
	vector map[common.ClientID]uint64
}

// NewStateVector는 새 상태 벡터를 생성합니다.
func NewStateVector() *StateVector {
	return &StateVector{
		vector: make(map[common.ClientID]uint64),
	}
}

// StateVectorFromMap은 맵에서 상태 벡터를 생성합니다.
func StateVectorFromMap(m map[common.ClientID]uint64) *StateVector {
	sv := NewStateVector()
	for client, clock := range m {
		sv.vector[client] = clock
	}
	return sv
}

// Get은 주어진 클라이언트의 clock 값을 반환합니다. 모르는 클라이언트는 0입니다.
func (sv *StateVector) Get(client common.ClientID) uint64 {
	if sv == nil {
		return 0
	}
	return sv.vector[client]
}

// Has는 클라이언트가 벡터에 있는지 확인합니다.
func (sv *StateVector) Has(client common.ClientID) bool {
	if sv == nil {
		return false
	}
	_, ok := sv.vector[client]
	return ok
}

// Set은 클라이언트의 clock 값을 설정합니다.
func (sv *StateVector) Set(client common.ClientID, clock uint64) {
	sv.vector[client] = clock
}

// Update는 clock 값이 더 클 때만 갱신합니다.
func (sv *StateVector) Update(client common.ClientID, clock uint64) {
	if current, ok := sv.vector[client]; !ok || clock > current {
		sv.vector[client] = clock
	}
}

// Merge는 다른 상태 벡터와 이 벡터를 병합합니다.
func (sv *StateVector) Merge(other *StateVector) {
	if other == nil {
		return
	}
	for client, clock := range other.vector {
		sv.Update(client, clock)
	}
}

// Len은 벡터에 있는 클라이언트 수를 반환합니다.
func (sv *StateVector) Len() int {
	if sv == nil {
		return 0
	}
	return len(sv.vector)
}

// Clients는 클라이언트 ID를 내림차순으로 반환합니다.
func (sv *StateVector) Clients() []common.ClientID {
	if sv == nil {
		return nil
	}
	clients := make([]common.ClientID, 0, len(sv.vector))
	for client := range sv.vector {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	return clients
}

// Map은 벡터의 복사본을 반환합니다.
func (sv *StateVector) Map() map[common.ClientID]uint64 {
	result := make(map[common.ClientID]uint64, sv.Len())
	if sv == nil {
		return result
	}
	for client, clock := range sv.vector {
		result[client] = clock
	}
	return result
}

// HasUpdates는 이 벡터가 다른 벡터에 없는 내용을 알고 있는지 확인합니다.
func (sv *StateVector) HasUpdates(other *StateVector) bool {
	if sv == nil {
		return false
	}
	for client, clock := range sv.vector {
		if clock > other.Get(client) {
			return true
		}
	}
	return false
}

// Equal은 두 벡터가 같은 내용을 가리키는지 확인합니다. clock이 0인 항목은
// 없는 것과 같게 취급합니다.
func (sv *StateVector) Equal(other *StateVector) bool {
	return !sv.HasUpdates(other) && !other.HasUpdates(sv)
}

// Encode는 v1 형식으로 벡터를 인코딩합니다.
func (sv *StateVector) Encode() []byte {
	enc := lib0.NewEncoder()
	sv.write(enc)
	return enc.Bytes()
}

func (sv *StateVector) write(enc *lib0.Encoder) {
	clients := sv.Clients()
	enc.WriteVarUint(uint64(len(clients)))
	for _, client := range clients {
		enc.WriteVarUint(client)
		enc.WriteVarUint(sv.vector[client])
	}
}

// DecodeStateVector는 v1 상태 벡터를 디코딩합니다. 빈 입력은 빈 벡터입니다.
func DecodeStateVector(data []byte) (*StateVector, error) {
	sv := NewStateVector()
	if len(data) == 0 {
		return sv, nil
	}
	dec := lib0.NewDecoder(data)
	n, err := dec.ReadVarUint()
	if err != nil {
		return nil, malformed(err, "state vector length")
	}
	for i := uint64(0); i < n; i++ {
		client, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "state vector client")
		}
		clock, err := dec.ReadVarUint()
		if err != nil {
			return nil, malformed(err, "state vector clock")
		}
		sv.vector[client] = clock
	}
	if dec.HasContent() {
		return nil, common.ErrMalformedUpdate{Message: "trailing bytes after state vector"}
	}
	return sv, nil
}
