package crdtsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ycrdt/common"
	"ycrdt/crdt"
)

// queue는 보낸 메시지를 쌓아두는 테스트용 전송 계층입니다.
type queue struct {
	msgs [][]byte
}

func (q *queue) Broadcast(_ context.Context, msg []byte) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *queue) drain() [][]byte {
	out := q.msgs
	q.msgs = nil
	return out
}

// pump는 양쪽 대기열이 빌 때까지 메시지를 교환합니다.
func pump(t *testing.T, a *Peer, qa *queue, b *Peer, qb *queue) {
	t.Helper()
	ctx := context.Background()
	for len(qa.msgs)+len(qb.msgs) > 0 {
		for _, m := range qa.drain() {
			require.NoError(t, b.Receive(ctx, m))
		}
		for _, m := range qb.drain() {
			require.NoError(t, a.Receive(ctx, m))
		}
	}
}

func newDoc(client common.ClientID) *crdt.Doc {
	return crdt.NewDoc(crdt.WithClientID(client), crdt.WithGUID("shared"))
}

func insert(t *testing.T, p *Peer, index int, chunk string) {
	t.Helper()
	err := p.Transact(func(txn *crdt.Transaction) error {
		text, err := txn.GetText("text")
		if err != nil {
			return err
		}
		return text.Insert(txn, index, chunk)
	})
	require.NoError(t, err)
}

func read(t *testing.T, p *Peer) string {
	t.Helper()
	var out string
	err := p.Transact(func(txn *crdt.Transaction) error {
		text, err := txn.GetText("text")
		if err != nil {
			return err
		}
		out, err = text.ToString(txn)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestMessageEncoding(t *testing.T) {
	encoded := NewSyncStep1([]byte{1, 2}).Encode()
	assert.Equal(t, []byte{0, 2, 1, 2}, encoded)

	msg, err := DecodeMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, MessageSyncStep1, msg.Type)
	assert.Equal(t, []byte{1, 2}, msg.Payload)

	msg, err = DecodeMessage(NewUpdate(nil).Encode())
	require.NoError(t, err)
	assert.Equal(t, MessageUpdate, msg.Type)
	assert.Empty(t, msg.Payload)
	assert.Equal(t, "update", msg.Type.String())
}

func TestDecodeMessageErrors(t *testing.T) {
	// 알 수 없는 종류
	_, err := DecodeMessage([]byte{5, 0})
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	// 잘린 페이로드
	_, err = DecodeMessage([]byte{2, 3, 1})
	assert.Error(t, err)

	// 뒤에 남은 바이트
	_, err = DecodeMessage([]byte{2, 0, 9})
	assert.Error(t, err)

	// 빈 입력
	_, err = DecodeMessage(nil)
	assert.Error(t, err)
}

func TestPeerHandshake(t *testing.T) {
	ctx := context.Background()
	qa, qb := &queue{}, &queue{}
	a := NewPeer(newDoc(1), qa, WithName("a"))
	b := NewPeer(newDoc(2), qb, WithName("b"))

	// 연결 전 각자의 변경
	insert(t, a, 0, "ab")
	insert(t, b, 0, "xy")
	qa.drain()
	qb.drain()

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	assert.False(t, a.Synced())

	pump(t, a, qa, b, qb)

	assert.True(t, a.Synced())
	assert.True(t, b.Synced())
	assert.Equal(t, "abxy", read(t, a))
	assert.Equal(t, "abxy", read(t, b))
}

func TestPeerForwardsLocalUpdates(t *testing.T) {
	ctx := context.Background()
	qa, qb := &queue{}, &queue{}
	a := NewPeer(newDoc(1), qa)
	b := NewPeer(newDoc(2), qb)

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	pump(t, a, qa, b, qb)

	insert(t, a, 0, "hi")
	require.Len(t, qa.msgs, 1)
	msg, err := DecodeMessage(qa.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, MessageUpdate, msg.Type)

	// 원격 업데이트는 다시 전달되지 않음
	require.NoError(t, b.Receive(ctx, qa.drain()[0]))
	assert.Empty(t, qb.msgs)
	assert.Equal(t, "hi", read(t, b))
}

func TestPeerClose(t *testing.T) {
	ctx := context.Background()
	qa := &queue{}
	a := NewPeer(newDoc(1), qa)

	a.Close()
	a.Close()

	insert(t, a, 0, "x")
	assert.Empty(t, qa.msgs)
	assert.ErrorIs(t, a.Start(ctx), ErrPeerClosed)
	assert.ErrorIs(t, a.Receive(ctx, NewSyncStep1(nil).Encode()), ErrPeerClosed)
}

func TestPeerRejectsMalformedUpdate(t *testing.T) {
	ctx := context.Background()
	a := NewPeer(newDoc(1), &queue{})

	err := a.Receive(ctx, NewUpdate([]byte{1}).Encode())
	assert.Error(t, err)
	assert.Equal(t, "", read(t, a))
}

func TestPeersSharingDoc(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	hub := newDoc(1)
	qa, qc := &queue{}, &queue{}
	toA := NewPeer(hub, qa, WithLocker(&mu))
	toC := NewPeer(hub, qc, WithLocker(&mu))
	defer toA.Close()
	defer toC.Close()

	remote := NewPeer(newDoc(2), &queue{})
	insert(t, remote, 0, "r")
	update, err := crdt.EncodeStateAsUpdate(remote.Doc(), nil)
	require.NoError(t, err)

	// a에서 온 업데이트는 c에게만 전달됨
	require.NoError(t, toA.Receive(ctx, NewUpdate(update).Encode()))
	assert.Empty(t, qa.msgs)
	require.Len(t, qc.msgs, 1)
}

func TestMemoryHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewMemoryHub()
	defer hub.Close()

	epA, err := hub.Join("a")
	require.NoError(t, err)
	epB, err := hub.Join("b")
	require.NoError(t, err)
	_, err = hub.Join("a")
	assert.Error(t, err)

	a := NewPeer(newDoc(1), epA, WithName("a"))
	b := NewPeer(newDoc(2), epB, WithName("b"))
	insert(t, a, 0, "one")

	require.NoError(t, epA.Serve(ctx, a.Receive))
	require.NoError(t, epB.Serve(ctx, b.Receive))
	assert.Error(t, epA.Serve(ctx, a.Receive))

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	require.Eventually(t, func() bool {
		return a.Synced() && b.Synced() && read(t, b) == "one"
	}, time.Second, 5*time.Millisecond)

	insert(t, b, 3, "!")
	require.Eventually(t, func() bool {
		return read(t, a) == "one!"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.ErrorIs(t, epA.Broadcast(ctx, []byte{0, 0}), ErrHubClosed)
	_, err = hub.Join("c")
	assert.ErrorIs(t, err, ErrHubClosed)
}
