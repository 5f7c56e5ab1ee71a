package crdtstorage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/pkg/errors"
)

// DatastoreStore는 go-datastore 위에 업데이트 로그를 저장하는 저장소입니다.
// 업데이트 하나가 /<prefix>/docs/<docID>/<seq> 키 하나에 저장됩니다.
type DatastoreStore struct {
	store  ds.Datastore
	prefix string

	// 문서별 다음 순번 할당을 직렬화합니다.
	mu sync.Mutex
}

var _ UpdateStore = (*DatastoreStore)(nil)

// NewDatastoreStore는 새 데이터스토어 저장소를 생성합니다.
func NewDatastoreStore(store ds.Datastore, prefix string) *DatastoreStore {
	return &DatastoreStore{
		store:  store,
		prefix: prefix,
	}
}

func (s *DatastoreStore) docsKey() ds.Key {
	return ds.KeyWithNamespaces([]string{s.prefix, "docs"})
}

func (s *DatastoreStore) docKey(docID string) ds.Key {
	return s.docsKey().ChildString(docID)
}

// seqKey는 순번을 0으로 채워 키 순서가 추가 순서와 같도록 합니다.
func (s *DatastoreStore) seqKey(docID string, seq uint64) ds.Key {
	return s.docKey(docID).ChildString(fmt.Sprintf("%020d", seq))
}

// entries는 문서의 항목을 키 순서로 반환합니다.
func (s *DatastoreStore) entries(ctx context.Context, docID string, keysOnly bool) ([]dsq.Entry, error) {
	results, err := s.store.Query(ctx, dsq.Query{
		Prefix:   s.docKey(docID).String(),
		KeysOnly: keysOnly,
		Orders:   []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query datastore")
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read query results")
	}
	return entries, nil
}

// Append는 다음 순번 키에 업데이트를 저장합니다.
func (s *DatastoreStore) Append(ctx context.Context, docID string, update []byte) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.entries(ctx, docID, true)
	if err != nil {
		return err
	}
	next := uint64(0)
	if len(entries) > 0 {
		last := ds.RawKey(entries[len(entries)-1].Key).BaseNamespace()
		seq, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "corrupt update key %q", entries[len(entries)-1].Key)
		}
		next = seq + 1
	}

	if err := s.store.Put(ctx, s.seqKey(docID, next), update); err != nil {
		return errors.Wrap(err, "failed to put update")
	}
	return nil
}

// Load는 문서의 모든 업데이트를 순번 순서로 반환합니다.
func (s *DatastoreStore) Load(ctx context.Context, docID string) ([][]byte, error) {
	entries, err := s.entries(ctx, docID, false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrap(ErrDocumentNotFound, docID)
	}

	updates := make([][]byte, len(entries))
	for i, e := range entries {
		updates[i] = copyBytes(e.Value)
	}
	return updates, nil
}

// Replace는 앞쪽 consumed개 업데이트를 지우고 그중 마지막 순번에 스냅샷을 저장합니다.
// 남은 업데이트의 순번은 모두 그보다 크므로 스냅샷이 먼저 읽힙니다.
// 데이터스토어가 배치를 지원하면 한 번에 커밋합니다.
func (s *DatastoreStore) Replace(ctx context.Context, docID string, consumed int, snapshot []byte) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.entries(ctx, docID, true)
	if err != nil {
		return err
	}
	if err := checkConsumed(docID, consumed, len(entries)); err != nil {
		return err
	}
	prefix := entries[:consumed]

	var w ds.Write = s.store
	var batch ds.Batch
	if b, ok := s.store.(ds.Batching); ok {
		if batch, err = b.Batch(ctx); err != nil {
			return errors.Wrap(err, "failed to start batch")
		}
		w = batch
	}

	for _, e := range prefix[:consumed-1] {
		if err := w.Delete(ctx, ds.RawKey(e.Key)); err != nil {
			return errors.Wrap(err, "failed to delete update")
		}
	}
	if err := w.Put(ctx, ds.RawKey(prefix[consumed-1].Key), snapshot); err != nil {
		return errors.Wrap(err, "failed to put snapshot")
	}
	if batch != nil {
		if err := batch.Commit(ctx); err != nil {
			return errors.Wrap(err, "failed to commit batch")
		}
	}
	return nil
}

// Delete는 문서의 모든 업데이트를 삭제합니다.
func (s *DatastoreStore) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.entries(ctx, docID, true)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.store.Delete(ctx, ds.RawKey(e.Key)); err != nil {
			return errors.Wrap(err, "failed to delete update")
		}
	}
	return nil
}

// List는 업데이트가 하나 이상 있는 문서 ID 목록을 반환합니다.
func (s *DatastoreStore) List(ctx context.Context) ([]string, error) {
	results, err := s.store.Query(ctx, dsq.Query{
		Prefix:   s.docsKey().String(),
		KeysOnly: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query datastore")
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read query results")
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		// /<prefix>/docs/<docID>/<seq>
		parent := ds.RawKey(e.Key).Parent()
		seen[parent.BaseNamespace()] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close는 하위 데이터스토어를 닫습니다.
func (s *DatastoreStore) Close() error {
	return s.store.Close()
}
