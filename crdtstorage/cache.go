package crdtstorage

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"ycrdt/crdt"
)

// cachedDoc은 캐시에 올라간 문서와 저장 핸들러 해제 함수입니다.
type cachedDoc struct {
	doc    *crdt.Doc
	detach func()
}

// DocCache는 최근에 연 문서를 유지하는 LRU 캐시입니다.
// 캐시에서 밀려난 문서는 저장소와의 연결이 끊어집니다.
type DocCache struct {
	cache *lru.Cache[string, *cachedDoc]
}

// NewDocCache는 최대 size개의 문서를 유지하는 캐시를 생성합니다.
func NewDocCache(size int) (*DocCache, error) {
	cache, err := lru.NewWithEvict(size, func(_ string, entry *cachedDoc) {
		entry.detach()
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create document cache")
	}
	return &DocCache{cache: cache}, nil
}

// Get은 캐시된 문서를 반환합니다.
func (c *DocCache) Get(docID string) (*crdt.Doc, bool) {
	entry, ok := c.cache.Get(docID)
	if !ok {
		return nil, false
	}
	return entry.doc, true
}

// Add는 문서를 캐시에 추가합니다. 문서가 밀려나거나 제거될 때 detach가 호출됩니다.
func (c *DocCache) Add(docID string, doc *crdt.Doc, detach func()) {
	c.cache.Add(docID, &cachedDoc{doc: doc, detach: detach})
}

// Remove는 문서를 캐시에서 제거합니다.
func (c *DocCache) Remove(docID string) bool {
	return c.cache.Remove(docID)
}

// Keys는 캐시된 문서 ID를 오래된 순서로 반환합니다.
func (c *DocCache) Keys() []string {
	return c.cache.Keys()
}

// Len은 캐시된 문서 수를 반환합니다.
func (c *DocCache) Len() int {
	return c.cache.Len()
}

// Purge는 모든 문서를 제거합니다.
func (c *DocCache) Purge() {
	c.cache.Purge()
}
