package crdtstorage

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore는 메모리 기반 업데이트 저장소입니다.
type MemoryStore struct {
	// documents는 문서 ID에서 업데이트 로그로의 맵입니다.
	documents map[string][][]byte

	// mutex는 문서 맵에 대한 동시 접근을 보호합니다.
	mutex sync.RWMutex

	closed bool
}

var _ UpdateStore = (*MemoryStore)(nil)

// NewMemoryStore는 새 메모리 저장소를 생성합니다.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string][][]byte),
	}
}

// Append는 업데이트를 메모리 로그에 추가합니다.
func (s *MemoryStore) Append(ctx context.Context, docID string, update []byte) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	s.documents[docID] = append(s.documents[docID], copyBytes(update))
	return nil
}

// Load는 문서의 업데이트 로그 사본을 반환합니다.
func (s *MemoryStore) Load(ctx context.Context, docID string) ([][]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		return nil, ErrStorageClosed
	}
	updates, ok := s.documents[docID]
	if !ok {
		return nil, errors.Wrap(ErrDocumentNotFound, docID)
	}

	out := make([][]byte, len(updates))
	for i, u := range updates {
		out[i] = copyBytes(u)
	}
	return out, nil
}

// Replace는 로그의 앞쪽 consumed개를 스냅샷으로 교체합니다.
func (s *MemoryStore) Replace(ctx context.Context, docID string, consumed int, snapshot []byte) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	log := s.documents[docID]
	if err := checkConsumed(docID, consumed, len(log)); err != nil {
		return err
	}
	s.documents[docID] = append([][]byte{copyBytes(snapshot)}, log[consumed:]...)
	return nil
}

// Delete는 문서 로그를 삭제합니다.
func (s *MemoryStore) Delete(ctx context.Context, docID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	delete(s.documents, docID)
	return nil
}

// List는 문서 ID 목록을 반환합니다.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		return nil, ErrStorageClosed
	}
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close는 저장소를 닫고 모든 데이터를 버립니다.
func (s *MemoryStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closed = true
	s.documents = nil
	return nil
}
