package collector

import (
	"testing"
	"time"

	"candlesync/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGetCopies(t *testing.T) {
	c := NewHotRangeCache(time.Minute, 1<<20)
	key := cacheKey(fakeSymbol, "1m", TimeRange{From: fakeBase, To: fakeBase + fakeStep})
	in := market.Candles{realCandle(fakeBase), realCandle(fakeBase + fakeStep)}

	c.Put(key, in)
	in[0].Close = -1 // 写入后改输入不应污染缓存

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.NotEqual(t, -1.0, got[0].Close)

	got[1].Close = -2 // 改读出的拷贝不应污染缓存
	again, ok := c.Get(key)
	require.True(t, ok)
	assert.NotEqual(t, -2.0, again[1].Close)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewHotRangeCache(10*time.Millisecond, 1<<20)
	c.Put("k", market.Candles{realCandle(fakeBase)})

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheLRUEviction(t *testing.T) {
	// 上限放得下两条单根条目，放不下三条。
	c := NewHotRangeCache(time.Minute, 2*candleSizeBytes)
	c.Put("a", market.Candles{realCandle(fakeBase)})
	c.Put("b", market.Candles{realCandle(fakeBase + fakeStep)})

	// 触碰 a，使 b 成为最久未用。
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", market.Candles{realCandle(fakeBase + 2*fakeStep)})
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCacheRejectsOversizedEntry(t *testing.T) {
	c := NewHotRangeCache(time.Minute, candleSizeBytes)
	c.Put("big", market.Candles{realCandle(fakeBase), realCandle(fakeBase + fakeStep)})
	assert.Zero(t, c.Len())
}

func TestCacheNilReceiverSafe(t *testing.T) {
	var c *HotRangeCache
	c.Put("k", market.Candles{realCandle(fakeBase)})
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}
