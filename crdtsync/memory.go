package crdtsync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ycrdt/internal/ylog"
)

// Handler는 수신한 메시지를 처리하는 함수입니다. Peer.Receive가 이 형태입니다.
type Handler func(ctx context.Context, msg []byte) error

// ErrHubClosed는 닫힌 허브를 사용할 때 반환됩니다.
var ErrHubClosed = errors.New("memory hub is closed")

// MemoryHub는 프로세스 내부에서 메시지를 중계하는 허브입니다.
// 한 엔드포인트가 보낸 메시지는 다른 모든 엔드포인트에 보낸 순서대로 전달됩니다.
type MemoryHub struct {
	// 엔드포인트 맵 (이름 -> 엔드포인트)
	endpoints map[string]*Endpoint

	// 뮤텍스
	mutex sync.RWMutex

	// 닫힘 여부
	closed bool

	logger *zap.Logger
}

// NewMemoryHub는 새 메모리 허브를 생성합니다.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		endpoints: make(map[string]*Endpoint),
		logger:    ylog.Named("crdtsync").With(zap.String("hub", "memory")),
	}
}

// Join은 이름이 id인 엔드포인트를 허브에 추가합니다.
// 엔드포인트가 받은 메시지는 Serve가 호출될 때까지 대기열에 쌓입니다.
func (h *MemoryHub) Join(id string) (*Endpoint, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if _, ok := h.endpoints[id]; ok {
		return nil, errors.Errorf("endpoint %q already joined", id)
	}

	ep := &Endpoint{hub: h, id: id}
	ep.cond = sync.NewCond(&ep.mu)
	h.endpoints[id] = ep
	return ep, nil
}

// publish는 from을 제외한 모든 엔드포인트의 대기열에 메시지를 넣습니다.
func (h *MemoryHub) publish(from string, msg []byte) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	for id, ep := range h.endpoints {
		if id == from {
			continue
		}
		ep.enqueue(append([]byte(nil), msg...))
	}
	return nil
}

func (h *MemoryHub) leave(id string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.endpoints, id)
}

// Close는 허브와 모든 엔드포인트를 닫습니다.
func (h *MemoryHub) Close() error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil
	}
	h.closed = true
	endpoints := h.endpoints
	h.endpoints = make(map[string]*Endpoint)
	h.mutex.Unlock()

	for _, ep := range endpoints {
		ep.stop()
	}
	return nil
}

// Endpoint는 허브에 연결된 참가자입니다. Broadcaster를 구현합니다.
type Endpoint struct {
	hub *MemoryHub
	id  string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	serving bool
	closed  bool
}

// ID는 엔드포인트 이름을 반환합니다.
func (e *Endpoint) ID() string {
	return e.id
}

// Broadcast는 메시지를 다른 모든 엔드포인트에 보냅니다.
func (e *Endpoint) Broadcast(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrHubClosed
	}
	return e.hub.publish(e.id, msg)
}

// Serve는 대기열의 메시지를 handler로 전달하는 고루틴을 시작합니다.
// ctx가 취소되거나 엔드포인트가 닫히면 중단됩니다.
func (e *Endpoint) Serve(ctx context.Context, handler Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrHubClosed
	}
	if e.serving {
		return errors.Errorf("endpoint %q is already serving", e.id)
	}
	e.serving = true

	context.AfterFunc(ctx, e.stop)
	go e.run(ctx, handler)
	return nil
}

func (e *Endpoint) run(ctx context.Context, handler Handler) {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		msg := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if err := handler(ctx, msg); err != nil {
			e.hub.logger.Warn("failed to handle message",
				zap.String("endpoint", e.id),
				zap.Error(err))
		}
	}
}

func (e *Endpoint) enqueue(msg []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, msg)
	e.cond.Signal()
}

func (e *Endpoint) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.queue = nil
	e.cond.Broadcast()
}

// Close는 엔드포인트를 허브에서 제거합니다.
func (e *Endpoint) Close() error {
	e.stop()
	e.hub.leave(e.id)
	return nil
}
