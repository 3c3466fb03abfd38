package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试统一锚定在固定 now 上，COUNT_ONLY/END_ONLY 的锚点可预测。
var (
	testAnchor = fakeBase + 9*fakeStep
	testNow    = time.UnixMilli(testAnchor + 30_000)
)

func newTestCollector(fs *fakeStore, src *fakeSource, opts ...Option) *Collector {
	opts = append([]Option{WithNow(func() time.Time { return testNow })}, opts...)
	return New(fs, src, opts...)
}

func TestCollectEmptyStore(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.NoError(t, err)

	require.Len(t, src.calls, 1)
	assert.Equal(t, 5, src.calls[0].count)
	assert.Equal(t, testAnchor+fakeStep, src.calls[0].before)

	require.Len(t, candles, 5)
	assert.Equal(t, testAnchor-4*fakeStep, candles[0].OpenTime)
	assert.Equal(t, testAnchor, candles[4].OpenTime)

	assert.True(t, state.CountReached)
	assert.False(t, state.RemoteExhausted)
	assert.Equal(t, int64(5), state.TotalCollected)
	require.Len(t, state.Chunks, 1)
	assert.Equal(t, OverlapNone, state.Chunks[0].Overlap.State)
	assert.Equal(t, ChunkCompleted, state.Chunks[0].Status)
	assert.Equal(t, 5, state.Chunks[0].Inserted)
	assert.NotEmpty(t, state.RequestID)
}

func TestCollectSecondRunHitsStoreOnly(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c := newTestCollector(fs, src)
	req := Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5}

	_, _, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, src.calls, 1)

	// 第二次：库内已完整，一次远端调用都不该发生。
	state, candles, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, src.calls, 1)
	assert.Len(t, candles, 5)
	assert.True(t, state.CountReached)
	require.Len(t, state.Chunks, 1)
	assert.Equal(t, OverlapComplete, state.Chunks[0].Overlap.State)
	assert.Zero(t, state.Chunks[0].Inserted)
}

func TestCollectPartialStartFetchesOnlyMissing(t *testing.T) {
	fs := newFakeStore()
	// 锚点侧最新 3 根已在库内。
	for ts := testAnchor - 2*fakeStep; ts <= testAnchor; ts += fakeStep {
		fs.seed(fakeSymbol, "1m", realCandle(ts))
	}
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.NoError(t, err)

	require.Len(t, src.calls, 1)
	assert.Equal(t, 2, src.calls[0].count)
	// 只拉缺失子区间 [anchor-4, anchor-3]，before 为其最新端的下一 tick。
	assert.Equal(t, testAnchor-2*fakeStep, src.calls[0].before)

	require.Len(t, candles, 5)
	assert.True(t, state.CountReached)
	assert.Equal(t, int64(5), state.TotalCollected)
	require.Len(t, state.Chunks, 1)
	assert.Equal(t, OverlapPartialStart, state.Chunks[0].Overlap.State)
	assert.Equal(t, 2, state.Chunks[0].Inserted)
}

func TestCollectRemoteExhausted(t *testing.T) {
	fs := newFakeStore()
	// 远端历史只有最近 3 根，请求 5 根。
	src := &fakeSource{history: ascendingHistory(testAnchor-2*fakeStep, testAnchor)}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.NoError(t, err)

	assert.True(t, state.RemoteExhausted)
	assert.False(t, state.CountReached)
	assert.Equal(t, int64(3), state.TotalCollected)
	require.Len(t, state.Chunks, 1)
	assert.True(t, state.Chunks[0].Exhausted)
	// 历史尽头之外不得伪造占位。
	require.Len(t, candles, 3)
	assert.Equal(t, testAnchor-2*fakeStep, candles[0].OpenTime)
	for _, c := range candles {
		assert.False(t, c.Synthetic)
	}
}

func TestCollectMultiChunk(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c := newTestCollector(fs, src, WithChunkSize(2))

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.NoError(t, err)

	// 5 根按 2+2+1 切块，锚点逐块回退。
	require.Len(t, src.calls, 3)
	assert.Equal(t, 2, src.calls[0].count)
	assert.Equal(t, testAnchor+fakeStep, src.calls[0].before)
	assert.Equal(t, 2, src.calls[1].count)
	assert.Equal(t, testAnchor-fakeStep, src.calls[1].before)
	assert.Equal(t, 1, src.calls[2].count)
	assert.Equal(t, testAnchor-3*fakeStep, src.calls[2].before)

	require.Len(t, candles, 5)
	assert.True(t, state.CountReached)
	assert.Equal(t, int64(5), state.TotalCollected)
	require.Len(t, state.Chunks, 3)
}

func TestCollectContinuesAfterCompleteChunk(t *testing.T) {
	fs := newFakeStore()
	// 首块窗口在库内完整，续块必须从库内边界的下一更早 tick 接上。
	fs.seed(fakeSymbol, "1m", realCandle(testAnchor), realCandle(testAnchor-fakeStep))
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c := newTestCollector(fs, src, WithChunkSize(2))

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 4})
	require.NoError(t, err)

	require.Len(t, src.calls, 1)
	assert.Equal(t, 2, src.calls[0].count)
	assert.Equal(t, testAnchor-fakeStep, src.calls[0].before)

	require.Len(t, state.Chunks, 2)
	assert.Equal(t, OverlapComplete, state.Chunks[0].Overlap.State)
	assert.Equal(t, testAnchor-fakeStep, state.Chunks[0].EffectiveEnd)
	assert.Equal(t, OverlapNone, state.Chunks[1].Overlap.State)
	require.Len(t, candles, 4)
	assert.Equal(t, int64(4), state.TotalCollected)
}

// 锚定在 now 的请求里，锚点 tick 正是进行中的一根：交易所按 limit
// 截断后数据源把它剔掉，首拉必然少一根。这不是历史耗尽，收集必须
// 继续推进到请求的总量。
func TestCollectFormingCandleShortfallNotExhaustion(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{
		history: ascendingHistory(testAnchor-400*fakeStep, testAnchor),
		forming: testAnchor,
	}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 300})
	require.NoError(t, err)

	assert.False(t, state.RemoteExhausted)
	assert.True(t, state.CountReached)
	assert.Equal(t, int64(300), state.TotalCollected)

	require.Len(t, state.Chunks, 2)
	assert.Equal(t, 199, state.Chunks[0].FetchedCount)
	assert.False(t, state.Chunks[0].Exhausted)
	assert.Equal(t, 100, state.Chunks[1].FetchedCount)

	require.Len(t, src.calls, 2)
	assert.Equal(t, 200, src.calls[0].count)
	assert.Equal(t, 100, src.calls[1].count)

	// 锚点 tick 尚未收盘，实现窗口比请求窗口短一根，且不含占位。
	require.Len(t, candles, 299)
	assert.Equal(t, testAnchor-fakeStep, candles[298].OpenTime)
	for _, cd := range candles {
		assert.False(t, cd.Synthetic)
	}
}

// 旧端真缺才算耗尽：进行中一根被剔掉的同时历史也到头，仍要收尾。
func TestCollectExhaustionStillDetectedWithFormingCandle(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{
		history: ascendingHistory(testAnchor-2*fakeStep, testAnchor),
		forming: testAnchor,
	}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.NoError(t, err)

	assert.True(t, state.RemoteExhausted)
	assert.False(t, state.CountReached)
	require.Len(t, candles, 2)
	assert.Equal(t, testAnchor-2*fakeStep, candles[0].OpenTime)
}

func TestCollectToEndWindow(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{
		Symbol:    fakeSymbol,
		Timeframe: "1m",
		To:        testAnchor - 2*fakeStep,
		End:       testAnchor - 6*fakeStep,
	})
	require.NoError(t, err)

	require.Len(t, candles, 5)
	assert.Equal(t, testAnchor-6*fakeStep, candles[0].OpenTime)
	assert.Equal(t, testAnchor-2*fakeStep, candles[4].OpenTime)
	assert.True(t, state.TimeReached)
}

func TestCollectFillsOmittedTicks(t *testing.T) {
	fs := newFakeStore()
	// 远端账本缺一个中间 tick：零成交周期被省略。
	history := ascendingHistory(testAnchor-4*fakeStep, testAnchor)
	omitted := testAnchor - 2*fakeStep
	holed := history[:0:0]
	for _, c := range history {
		if c.OpenTime != omitted {
			holed = append(holed, c)
		}
	}
	src := &fakeSource{history: holed}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.NoError(t, err)

	require.Len(t, candles, 5)
	ph := candles[2]
	assert.True(t, ph.Synthetic)
	assert.Equal(t, omitted, ph.OpenTime)
	assert.Zero(t, ph.Volume)
	require.Len(t, state.Chunks, 1)
	assert.Equal(t, 1, state.Chunks[0].Filled)
}

func TestCollectRemoteErrorAbortsRun(t *testing.T) {
	fs := newFakeStore()
	src := &fakeSource{err: errors.New("boom")}
	c := newTestCollector(fs, src)

	state, candles, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5})
	require.Error(t, err)
	var rfe *RemoteFetchError
	assert.ErrorAs(t, err, &rfe)
	assert.Nil(t, candles)
	require.NotNil(t, state)
	require.Len(t, state.Chunks, 0)
}

func TestCollectInvalidTimeframe(t *testing.T) {
	c := newTestCollector(newFakeStore(), &fakeSource{})
	_, _, err := c.Run(context.Background(), Request{Symbol: fakeSymbol, Timeframe: "7m", Count: 5})
	require.Error(t, err)
	var inv *InvalidRequestError
	assert.ErrorAs(t, err, &inv)
}

func TestCollectCacheAvoidsRefetch(t *testing.T) {
	cache := NewHotRangeCache(time.Minute, 1<<20)
	src := &fakeSource{history: ascendingHistory(fakeBase-20*fakeStep, testAnchor)}
	c1 := newTestCollector(newFakeStore(), src, WithCache(cache))
	c2 := newTestCollector(newFakeStore(), src, WithCache(cache))

	req := Request{Symbol: fakeSymbol, Timeframe: "1m", Count: 5}
	_, _, err := c1.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, src.calls, 1)

	// 第二个 collector 库是空的，但同窗结果仍在热缓存里。
	state, candles, err := c2.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, src.calls, 1)
	require.Len(t, candles, 5)
	require.Len(t, state.Chunks, 1)
	assert.True(t, state.Chunks[0].CacheHit)
}
