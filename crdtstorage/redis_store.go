package crdtstorage

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// maxReplaceAttempts는 Replace의 낙관적 트랜잭션 재시도 횟수입니다.
const maxReplaceAttempts = 8

// RedisStore는 Redis 리스트에 업데이트 로그를 저장하는 저장소입니다.
// 문서마다 리스트 하나를 사용하고, 문서 ID 목록은 별도의 집합에 유지합니다.
type RedisStore struct {
	// client는 Redis 클라이언트입니다.
	client *redis.Client

	// keyPrefix는 Redis 키 접두사입니다.
	keyPrefix string

	// ownsClient가 참이면 Close에서 클라이언트도 닫습니다.
	ownsClient bool
}

var _ UpdateStore = (*RedisStore)(nil)

// NewRedisStore는 새 Redis 저장소를 생성합니다.
// 클라이언트는 호출자가 관리하며 Close에서 닫지 않습니다.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// getDocumentKey는 문서 ID에 대한 Redis 키를 반환합니다.
func (s *RedisStore) getDocumentKey(docID string) string {
	return fmt.Sprintf("%s:doc:%s", s.keyPrefix, docID)
}

// getDocumentListKey는 문서 목록에 대한 Redis 키를 반환합니다.
func (s *RedisStore) getDocumentListKey() string {
	return fmt.Sprintf("%s:docs", s.keyPrefix)
}

// Append는 업데이트를 문서 리스트 끝에 추가합니다.
func (s *RedisStore) Append(ctx context.Context, docID string, update []byte) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.getDocumentKey(docID), update)
		pipe.SAdd(ctx, s.getDocumentListKey(), docID)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to append update")
	}
	return nil
}

// Load는 문서 리스트의 모든 업데이트를 반환합니다.
func (s *RedisStore) Load(ctx context.Context, docID string) ([][]byte, error) {
	values, err := s.client.LRange(ctx, s.getDocumentKey(docID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load updates")
	}
	if len(values) == 0 {
		return nil, errors.Wrap(ErrDocumentNotFound, docID)
	}

	updates := make([][]byte, len(values))
	for i, v := range values {
		updates[i] = []byte(v)
	}
	return updates, nil
}

// Replace는 리스트의 앞쪽 consumed개를 스냅샷으로 원자적으로 교체합니다.
// 길이 확인과 교체 사이에 리스트가 바뀌면 다시 시도합니다.
func (s *RedisStore) Replace(ctx context.Context, docID string, consumed int, snapshot []byte) error {
	if err := validateDocID(docID); err != nil {
		return err
	}

	key := s.getDocumentKey(docID)
	replace := func(tx *redis.Tx) error {
		length, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if err := checkConsumed(docID, consumed, int(length)); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LTrim(ctx, key, int64(consumed), -1)
			pipe.LPush(ctx, key, snapshot)
			pipe.SAdd(ctx, s.getDocumentListKey(), docID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxReplaceAttempts; attempt++ {
		err := s.client.Watch(ctx, replace, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrShortLog) {
				return err
			}
			return errors.Wrap(err, "failed to replace updates")
		}
		return nil
	}
	return errors.Errorf("failed to replace updates of %s: list kept changing", docID)
}

// Delete는 문서 리스트를 삭제하고 목록에서 제거합니다.
func (s *RedisStore) Delete(ctx context.Context, docID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.getDocumentKey(docID))
		pipe.SRem(ctx, s.getDocumentListKey(), docID)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	return nil
}

// List는 문서 ID 목록을 반환합니다.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.getDocumentListKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document list")
	}
	sort.Strings(members)
	return members, nil
}

// Close는 저장소를 닫습니다.
func (s *RedisStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
