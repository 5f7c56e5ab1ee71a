package crdtstorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ycrdt/crdt"
)

func newTestStorage(t *testing.T, opts ...Option) (*Storage, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	s, err := NewStorage(store, DefaultOptions().Apply(opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, store
}

func appendText(t *testing.T, doc *crdt.Doc, chunk string) {
	t.Helper()
	err := doc.Transact(func(txn *crdt.Transaction) error {
		text, err := txn.GetText("text")
		if err != nil {
			return err
		}
		return text.Push(txn, chunk)
	})
	require.NoError(t, err)
}

func readText(t *testing.T, doc *crdt.Doc) string {
	t.Helper()
	var out string
	err := doc.Transact(func(txn *crdt.Transaction) error {
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

func TestStorageOpenPersistsUpdates(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t)

	doc, err := s.Open(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.GUID())
	appendText(t, doc, "hello")

	// 캐시된 문서는 같은 인스턴스
	again, err := s.Open(ctx, "notes")
	require.NoError(t, err)
	assert.Same(t, doc, again)

	updates, err := store.Load(ctx, "notes")
	require.NoError(t, err)
	assert.Len(t, updates, 1)

	// 캐시에서 제거한 뒤 다시 열면 저장된 내용으로 복원
	assert.True(t, s.Forget("notes"))
	reopened, err := s.Open(ctx, "notes")
	require.NoError(t, err)
	assert.NotSame(t, doc, reopened)
	assert.Equal(t, "hello", readText(t, reopened))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes"}, ids)
}

func TestStorageRecordsRemoteUpdates(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t)

	doc, err := s.Open(ctx, "shared")
	require.NoError(t, err)

	remote := crdt.NewDoc(crdt.WithClientID(7))
	appendText(t, remote, "remote")
	update, err := crdt.EncodeStateAsUpdate(remote, nil)
	require.NoError(t, err)
	require.NoError(t, crdt.ApplyUpdate(doc, update))

	updates, err := store.Load(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestStorageCompact(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t)

	doc, err := s.Open(ctx, "log")
	require.NoError(t, err)
	appendText(t, doc, "a")
	appendText(t, doc, "b")
	appendText(t, doc, "c")

	updates, err := store.Load(ctx, "log")
	require.NoError(t, err)
	require.Len(t, updates, 3)

	require.NoError(t, s.Compact(ctx, "log"))
	updates, err = store.Load(ctx, "log")
	require.NoError(t, err)
	require.Len(t, updates, 1)

	s.Forget("log")
	doc, err = s.Open(ctx, "log")
	require.NoError(t, err)
	assert.Equal(t, "abc", readText(t, doc))

	// 없는 문서는 압축할 수 없음
	assert.ErrorIs(t, s.Compact(ctx, "missing"), ErrDocumentNotFound)
}

// interleavingStore는 첫 Load 직후 한 번 onLoad를 실행해
// 로드와 교체 사이에 끼어드는 쓰기를 만듭니다.
type interleavingStore struct {
	UpdateStore
	onLoad func()
}

func (s *interleavingStore) Load(ctx context.Context, docID string) ([][]byte, error) {
	updates, err := s.UpdateStore.Load(ctx, docID)
	if s.onLoad != nil {
		fn := s.onLoad
		s.onLoad = nil
		fn()
	}
	return updates, err
}

func TestStorageCompactKeepsConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := &interleavingStore{UpdateStore: NewMemoryStore()}
	s, err := NewStorage(store, DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	doc, err := s.Open(ctx, "race")
	require.NoError(t, err)
	appendText(t, doc, "a")
	appendText(t, doc, "b")

	// 압축이 로그를 읽은 뒤 열린 문서에서 새 변경이 기록됨
	store.onLoad = func() { appendText(t, doc, "c") }
	require.NoError(t, s.Compact(ctx, "race"))
	assert.Equal(t, "abc", readText(t, doc))

	updates, err := store.Load(ctx, "race")
	require.NoError(t, err)
	assert.Len(t, updates, 2)

	s.Forget("race")
	reopened, err := s.Open(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, "abc", readText(t, reopened))
}

func TestStorageAutoCompact(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t, WithCompactThreshold(2))

	doc, err := s.Open(ctx, "auto")
	require.NoError(t, err)
	appendText(t, doc, "x")
	appendText(t, doc, "y")
	appendText(t, doc, "z")
	s.Forget("auto")

	doc, err = s.Open(ctx, "auto")
	require.NoError(t, err)
	assert.Equal(t, "xyz", readText(t, doc))

	updates, err := store.Load(ctx, "auto")
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestStorageEviction(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t, WithCacheSize(1))

	a, err := s.Open(ctx, "a")
	require.NoError(t, err)
	_, err = s.Open(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, s.Cached())

	// 밀려난 문서의 변경은 저장되지 않음
	appendText(t, a, "lost")
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestStorageDeleteAndClose(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStorage(t)

	doc, err := s.Open(ctx, "gone")
	require.NoError(t, err)
	appendText(t, doc, "x")
	require.NoError(t, s.Delete(ctx, "gone"))
	assert.Empty(t, s.Cached())
	_, err = store.Load(ctx, "gone")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = s.Open(ctx, "bad/id")
	assert.ErrorIs(t, err, ErrInvalidDocumentID)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Open(ctx, "gone")
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestOptions(t *testing.T) {
	opts, err := ParseOptions([]byte("backend: datastore\nkey_prefix: app\ncache_size: 4\ngc: false\n"))
	require.NoError(t, err)
	assert.Equal(t, BackendDatastore, opts.Backend)
	assert.Equal(t, "app", opts.KeyPrefix)
	assert.Equal(t, 4, opts.CacheSize)
	assert.False(t, opts.GC)
	// 지정하지 않은 값은 기본값 유지
	assert.Equal(t, "localhost:6379", opts.RedisAddr)

	_, err = ParseOptions([]byte("backend: tape\n"))
	assert.Error(t, err)
	_, err = ParseOptions([]byte("cache_size: 0\n"))
	assert.Error(t, err)
	_, err = ParseOptions([]byte("backend: [\n"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\ncompact_threshold: 10\n"), 0o600))
	opts, err = LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 10, opts.CompactThreshold)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	opts = DefaultOptions().Apply(WithRedis("redis:6379", "pw", 2), WithKeyPrefix("p"), WithGC(false))
	assert.Equal(t, BackendRedis, opts.Backend)
	assert.Equal(t, 2, opts.RedisDB)
	assert.NoError(t, opts.Validate())
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, DefaultOptions().Apply(WithBackend(BackendDatastore)))
	require.NoError(t, err)
	assert.IsType(t, &DatastoreStore{}, store)
	require.NoError(t, store.Close())

	// 호출자가 준 데이터스토어에 기록됨
	shared := dssync.MutexWrap(ds.NewMapDatastore())
	store, err = NewStore(ctx, DefaultOptions().Apply(WithDatastore(shared), WithKeyPrefix("app")))
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "doc", []byte{1}))
	updates, err := NewDatastoreStore(shared, "app").Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1}}, updates)

	_, err = NewStore(ctx, DefaultOptions().Apply(WithBackend("tape")))
	assert.Error(t, err)
}
