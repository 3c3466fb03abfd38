package collector

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"candlesync/internal/market"
)

// 每根 K 线在缓存计量里按固定字节数估算，够用且避免反射开销。
const candleSizeBytes = 80

// HotRangeCache 缓存最近组装完成的块结果：短 TTL + 字节上限 LRU。
// 单实例一把锁；条目存取均为拷贝，绝不外泄内部切片。
type HotRangeCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxBytes int64
	curBytes int64
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key       string
	candles   market.Candles
	createdAt time.Time
	size      int64
}

func NewHotRangeCache(ttl time.Duration, maxBytes int64) *HotRangeCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &HotRangeCache{
		ttl:      ttl,
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func cacheKey(symbol, timeframe string, r TimeRange) string {
	return fmt.Sprintf("%s@%s:%d-%d", symbol, timeframe, r.From, r.To)
}

// Get 返回命中条目的拷贝；过期条目在读取时剔除。nil 接收者安全。
func (c *HotRangeCache) Get(key string) (market.Candles, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.createdAt) > c.ttl {
		c.removeLocked(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	out := make(market.Candles, len(entry.candles))
	copy(out, entry.candles)
	return out, true
}

// Put 写入拷贝；超出字节上限时从最久未用端逐出。nil 接收者安全。
func (c *HotRangeCache) Put(key string, candles market.Candles) {
	if c == nil || len(candles) == 0 {
		return
	}
	size := int64(len(candles)) * candleSizeBytes
	if size > c.maxBytes {
		return
	}
	dup := make(market.Candles, len(candles))
	copy(dup, candles)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	entry := &cacheEntry{key: key, candles: dup, createdAt: time.Now(), size: size}
	el := c.ll.PushFront(entry)
	c.items[key] = el
	c.curBytes += size
	for c.curBytes > c.maxBytes {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
	}
}

// Len 返回当前条目数，测试用。
func (c *HotRangeCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *HotRangeCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
	c.curBytes -= entry.size
}
