package tileclient

import (
	"sync"
	"time"

	"github.com/hitoshi/roomsearch/internal/model"
)

// DefaultCacheSize は1つの地図ビューが保持するタイルキャッシュの上限数。
const DefaultCacheSize = 80

// cacheEntry は取得済みのタイルレスポンスとその取得時刻。
type cacheEntry struct {
	resp      *model.MapResponse
	fetchedAt time.Time
}

// Cache はタイルレスポンスの有限キャッシュ。
// 上限を超えると取得時刻が最も古いエントリから追い出す。
// グローバル状態を持たず、地図ビューごとに独立したインスタンスとして生成する。
type Cache struct {
	mu         sync.RWMutex
	maxEntries int
	entries    map[string]cacheEntry
}

// NewCache は新しいタイルキャッシュを生成する。
// maxEntriesが0以下の場合はDefaultCacheSizeを使う。
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

// Get はタイルキーに対応するレスポンスを返す。
func (c *Cache) Get(key string) (*model.MapResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.resp, true
}

// Put はタイルレスポンスを現在時刻付きで格納する。
// 上限を超える場合は最も古いエントリを追い出してから格納する。
func (c *Cache) Put(key string, resp *model.MapResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{resp: resp, fetchedAt: time.Now()}
}

// Invalidate はすべてのエントリを破棄する。フィルタ変更時に呼ばれる。
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len は現在のエントリ数を返す。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldestLocked は取得時刻が最も古いエントリを1つ削除する。
// エントリ数は高々DefaultCacheSize程度なので線形走査で足りる。
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.fetchedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.fetchedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
