package crdtsync

import (
	"fmt"

	"github.com/pkg/errors"

	"ycrdt/lib0"
)

// MessageType는 동기화 메시지의 종류를 나타냅니다.
type MessageType uint64

const (
	// MessageSyncStep1은 보내는 쪽의 상태 벡터를 담습니다.
	MessageSyncStep1 MessageType = 0

	// MessageSyncStep2는 step1에 대한 응답으로, 상대가 모르는 변경 사항을 담은 업데이트입니다.
	MessageSyncStep2 MessageType = 1

	// MessageUpdate는 로컬 트랜잭션이 만든 증분 업데이트입니다.
	MessageUpdate MessageType = 2
)

// String은 메시지 종류의 이름을 반환합니다.
func (t MessageType) String() string {
	switch t {
	case MessageSyncStep1:
		return "sync_step1"
	case MessageSyncStep2:
		return "sync_step2"
	case MessageUpdate:
		return "update"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(t))
	}
}

// ErrUnknownMessageType은 알 수 없는 메시지 종류를 받았을 때 반환됩니다.
var ErrUnknownMessageType = errors.New("unknown sync message type")

// Message는 동기화 프로토콜의 메시지 하나입니다.
type Message struct {
	// Type은 메시지 종류입니다.
	Type MessageType

	// Payload는 상태 벡터 또는 v1 업데이트입니다.
	Payload []byte
}

// NewSyncStep1은 상태 벡터를 담은 step1 메시지를 생성합니다.
func NewSyncStep1(sv []byte) *Message {
	return &Message{Type: MessageSyncStep1, Payload: sv}
}

// NewSyncStep2는 업데이트를 담은 step2 메시지를 생성합니다.
func NewSyncStep2(update []byte) *Message {
	return &Message{Type: MessageSyncStep2, Payload: update}
}

// NewUpdate는 증분 업데이트 메시지를 생성합니다.
func NewUpdate(update []byte) *Message {
	return &Message{Type: MessageUpdate, Payload: update}
}

// Encode는 메시지를 varuint 종류 + 길이 접두 페이로드로 인코딩합니다.
func (m *Message) Encode() []byte {
	enc := lib0.NewEncoder()
	enc.WriteVarUint(uint64(m.Type))
	enc.WriteVarUint8Array(m.Payload)
	return enc.Bytes()
}

// DecodeMessage는 인코딩된 메시지를 디코딩합니다.
func DecodeMessage(data []byte) (*Message, error) {
	dec := lib0.NewDecoder(data)
	kind, err := dec.ReadVarUint()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message type")
	}
	t := MessageType(kind)
	if t > MessageUpdate {
		return nil, errors.Wrapf(ErrUnknownMessageType, "type %d", kind)
	}
	payload, err := dec.ReadVarUint8Array()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s payload", t)
	}
	if dec.HasContent() {
		return nil, errors.Errorf("%d trailing bytes after %s message", dec.Remaining(), t)
	}
	return &Message{Type: t, Payload: payload}, nil
}
