package crdtstorage

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ycrdt/crdt"
	"ycrdt/internal/ylog"
)

// NewStore는 옵션에 맞는 업데이트 저장소를 생성합니다.
// datastore 백엔드는 Options.Datastore를 사용하고, 지정되지 않았으면
// 프로세스 내부 맵 데이터스토어를 사용하므로 내용이 프로세스 밖에 남지 않습니다.
func NewStore(ctx context.Context, opts *Options) (UpdateStore, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	switch opts.Backend {
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "failed to connect to redis at %s", opts.RedisAddr)
		}
		store := NewRedisStore(client, opts.KeyPrefix)
		store.ownsClient = true
		return store, nil
	case BackendDatastore:
		var store ds.Datastore = opts.Datastore
		if opts.Datastore == nil {
			store = dssync.MutexWrap(ds.NewMapDatastore())
		}
		return NewDatastoreStore(store, opts.KeyPrefix), nil
	default:
		return NewMemoryStore(), nil
	}
}

// Storage는 업데이트 저장소 위에서 문서를 열고 변경 사항을 기록합니다.
// 열린 문서의 로컬 및 원격 업데이트는 모두 저장소 로그에 추가됩니다.
type Storage struct {
	// options는 저장소 옵션입니다.
	options *Options

	// store는 업데이트 로그 저장소입니다.
	store UpdateStore

	// cache는 열린 문서 캐시입니다.
	cache *DocCache

	// ctx는 저장 핸들러가 사용하는 컨텍스트입니다. Close에서 취소됩니다.
	ctx    context.Context
	cancel context.CancelFunc

	// mutex는 문서 열기와 캐시 접근을 보호합니다.
	mutex sync.Mutex

	closed bool

	logger *zap.Logger
}

// NewStorage는 store를 사용하는 저장소를 생성합니다.
func NewStorage(store UpdateStore, opts *Options) (*Storage, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cache, err := NewDocCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Storage{
		options: opts,
		store:   store,
		cache:   cache,
		ctx:     ctx,
		cancel:  cancel,
		logger:  ylog.Named("crdtstorage").With(zap.String("backend", opts.Backend)),
	}, nil
}

// Open은 문서를 열어 반환합니다. 캐시에 있으면 같은 문서를 반환하고,
// 없으면 저장된 업데이트를 적용한 새 문서를 만들어 저장 핸들러를 연결합니다.
// 저장된 적 없는 문서는 빈 문서로 열립니다.
func (s *Storage) Open(ctx context.Context, docID string, opts ...crdt.Option) (*crdt.Doc, error) {
	if err := validateDocID(docID); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, ErrStorageClosed
	}
	if doc, ok := s.cache.Get(docID); ok {
		return doc, nil
	}

	updates, err := s.store.Load(ctx, docID)
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return nil, errors.Wrapf(err, "failed to load document %s", docID)
	}

	docOpts := append([]crdt.Option{crdt.WithGUID(docID), crdt.WithGC(s.options.GC)}, opts...)
	doc := crdt.NewDoc(docOpts...)
	for i, update := range updates {
		if err := crdt.ApplyUpdate(doc, update); err != nil {
			return nil, errors.Wrapf(err, "failed to apply stored update %d of %s", i, docID)
		}
	}
	s.logger.Debug("opened document",
		zap.String("doc", docID),
		zap.Int("updates", len(updates)),
		zap.Bool("pending", doc.HasPending()))

	if s.options.CompactThreshold > 0 && len(updates) > s.options.CompactThreshold {
		if err := s.compact(ctx, docID, updates); err != nil {
			s.logger.Warn("failed to compact document", zap.String("doc", docID), zap.Error(err))
		}
	}

	detach := doc.OnUpdate(func(update []byte, _ interface{}) {
		if err := s.store.Append(s.ctx, docID, update); err != nil {
			s.logger.Warn("failed to append update",
				zap.String("doc", docID),
				zap.Int("bytes", len(update)),
				zap.Error(err))
		}
	})
	s.cache.Add(docID, doc, detach)
	return doc, nil
}

// Compact는 문서의 업데이트 로그를 병합된 업데이트 하나로 교체합니다.
func (s *Storage) Compact(ctx context.Context, docID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	updates, err := s.store.Load(ctx, docID)
	if err != nil {
		return err
	}
	return s.compact(ctx, docID, updates)
}

func (s *Storage) compact(ctx context.Context, docID string, updates [][]byte) error {
	if len(updates) < 2 {
		return nil
	}
	merged, err := crdt.MergeUpdates(updates...)
	if err != nil {
		return errors.Wrapf(err, "failed to merge updates of %s", docID)
	}
	if err := s.store.Replace(ctx, docID, len(updates), merged); err != nil {
		return err
	}
	s.logger.Info("compacted document",
		zap.String("doc", docID),
		zap.Int("updates", len(updates)),
		zap.Int("bytes", len(merged)))
	return nil
}

// Forget은 문서를 캐시에서 제거하고 저장 핸들러를 해제합니다.
// 이후의 변경 사항은 저장되지 않습니다.
func (s *Storage) Forget(docID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cache.Remove(docID)
}

// Delete는 문서를 캐시와 저장소에서 삭제합니다.
func (s *Storage) Delete(ctx context.Context, docID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	s.cache.Remove(docID)
	return s.store.Delete(ctx, docID)
}

// List는 저장된 문서 ID 목록을 반환합니다.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Cached는 캐시된 문서 ID를 오래된 순서로 반환합니다.
func (s *Storage) Cached() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cache.Keys()
}

// Close는 모든 문서의 저장 핸들러를 해제하고 저장소를 닫습니다.
func (s *Storage) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.Purge()
	s.cancel()
	return s.store.Close()
}
