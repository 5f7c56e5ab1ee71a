package crdtsync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ycrdt/crdt"
	"ycrdt/internal/ylog"
)

// Broadcaster는 인코딩된 동기화 메시지를 상대에게 전달하는 인터페이스입니다.
type Broadcaster interface {
	// Broadcast는 메시지를 전송합니다.
	Broadcast(ctx context.Context, msg []byte) error
}

// BroadcasterFunc는 함수를 Broadcaster로 사용할 수 있게 합니다.
type BroadcasterFunc func(ctx context.Context, msg []byte) error

// Broadcast는 f(ctx, msg)를 호출합니다.
func (f BroadcasterFunc) Broadcast(ctx context.Context, msg []byte) error {
	return f(ctx, msg)
}

// ErrPeerClosed는 닫힌 피어를 사용할 때 반환됩니다.
var ErrPeerClosed = errors.New("sync peer is closed")

// PeerOption은 피어 설정 옵션입니다.
type PeerOption func(*Peer)

// WithName은 로그에 쓰이는 피어 이름을 설정합니다.
func WithName(name string) PeerOption {
	return func(p *Peer) {
		p.name = name
	}
}

// WithLocker는 문서 접근을 보호하는 잠금을 설정합니다.
// 같은 문서에 여러 피어를 연결할 때는 같은 잠금을 공유해야 합니다.
func WithLocker(l sync.Locker) PeerOption {
	return func(p *Peer) {
		p.mu = l
	}
}

// Peer는 문서 하나를 원격 상대와 동기화합니다.
// 로컬 트랜잭션의 업데이트는 Update 메시지로 전달되고,
// 피어 자신이 적용한 원격 업데이트는 다시 전달되지 않습니다.
type Peer struct {
	// 동기화 대상 문서
	doc *crdt.Doc

	// 메시지 전송 대상
	out Broadcaster

	// 문서 접근 잠금
	mu sync.Locker

	// 로그용 이름
	name string

	// Start에 전달된 컨텍스트
	ctx context.Context

	// step2 수신 여부
	synced bool

	// 닫힘 여부
	closed bool

	// 업데이트 핸들러 해제 함수
	unsubscribe func()

	logger *zap.Logger
}

// NewPeer는 doc을 out에 연결하는 피어를 생성합니다.
func NewPeer(doc *crdt.Doc, out Broadcaster, opts ...PeerOption) *Peer {
	p := &Peer{
		doc:  doc,
		out:  out,
		mu:   &sync.Mutex{},
		name: doc.GUID(),
		ctx:  context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = ylog.Named("crdtsync").With(zap.String("peer", p.name))
	p.unsubscribe = doc.OnUpdate(p.forward)
	return p
}

// forward는 로컬 업데이트를 Update 메시지로 전달합니다.
// 문서 커밋 중에 호출되므로 잠금은 이미 호출자가 잡고 있습니다.
func (p *Peer) forward(update []byte, origin interface{}) {
	if p.closed || origin == p {
		return
	}
	if err := p.out.Broadcast(p.ctx, NewUpdate(update).Encode()); err != nil {
		p.logger.Warn("failed to broadcast update", zap.Int("bytes", len(update)), zap.Error(err))
	}
}

// Start는 상태 벡터를 담은 step1 메시지를 보내 동기화를 시작합니다.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	p.ctx = ctx

	sv, err := crdt.EncodeStateVector(p.doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode state vector")
	}
	p.logger.Debug("sending sync step1", zap.Int("bytes", len(sv)))
	return p.out.Broadcast(ctx, NewSyncStep1(sv).Encode())
}

// Receive는 상대로부터 받은 메시지를 처리합니다.
// step1에는 step2로 응답하고, step2와 Update는 문서에 적용합니다.
func (p *Peer) Receive(ctx context.Context, data []byte) error {
	msg, err := DecodeMessage(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	p.logger.Debug("received message", zap.Stringer("type", msg.Type), zap.Int("bytes", len(msg.Payload)))

	switch msg.Type {
	case MessageSyncStep1:
		update, err := crdt.EncodeStateAsUpdate(p.doc, msg.Payload)
		if err != nil {
			return errors.Wrap(err, "failed to encode sync step2")
		}
		return p.out.Broadcast(ctx, NewSyncStep2(update).Encode())
	case MessageSyncStep2:
		if err := crdt.ApplyUpdateWithOrigin(p.doc, msg.Payload, p); err != nil {
			return errors.Wrap(err, "failed to apply sync step2")
		}
		p.synced = true
	default:
		if err := crdt.ApplyUpdateWithOrigin(p.doc, msg.Payload, p); err != nil {
			return errors.Wrap(err, "failed to apply update")
		}
	}
	return nil
}

// Transact는 피어의 잠금 아래에서 문서 트랜잭션을 실행합니다.
func (p *Peer) Transact(fn func(txn *crdt.Transaction) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Transact(fn)
}

// Synced는 상대의 step2를 적용했는지 여부를 반환합니다.
func (p *Peer) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Doc은 동기화 대상 문서를 반환합니다.
func (p *Peer) Doc() *crdt.Doc {
	return p.doc
}

// Close는 문서와의 연결을 해제합니다.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.unsubscribe()
}
