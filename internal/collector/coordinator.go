package collector

import (
	"context"
	"time"

	"candlesync/internal/logger"
	"candlesync/internal/market"
	"candlesync/internal/timeframe"

	"github.com/google/uuid"
)

// 单块最多 200 根：远端分页上限，也是内存占用的天花板。
const defaultChunkSize = 200

// CollectionState 是一次顶层请求的聚合根，仅由协调器改写，
// 请求结束即弃。三个完成条件彼此独立，任一满足即收尾。
type CollectionState struct {
	RequestID      string       `json:"request_id"`
	Plan           Plan         `json:"-"`
	TotalRequested int64        `json:"total_requested"`
	TotalCollected int64        `json:"total_collected"`
	Chunks         []*ChunkInfo `json:"chunks"`
	Current        *ChunkInfo   `json:"-"`

	CountReached    bool `json:"count_reached"`
	TimeReached     bool `json:"time_reached"`
	RemoteExhausted bool `json:"remote_exhausted"`

	StartedAt time.Time `json:"started_at"`
}

func (s *CollectionState) done() bool {
	return s.CountReached || s.TimeReached || s.RemoteExhausted
}

// Collector 对外暴露唯一入口 Collect：把请求规范化成计划后按块
// 顺序推进，最后从库里一次性读回整个已实现窗口。
// 同一请求内块与块严格串行；不同 symbol/timeframe 的请求可并发，
// 它们共享 store/source/cache 但各自持有独立的 CollectionState。
type Collector struct {
	store     Store
	source    Source
	cache     *HotRangeCache
	chunkSize int64
	now       func() time.Time
}

type Option func(*Collector)

func WithCache(cache *HotRangeCache) Option {
	return func(c *Collector) { c.cache = cache }
}

func WithChunkSize(n int64) Option {
	return func(c *Collector) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store Store, source Source, opts ...Option) *Collector {
	c := &Collector{
		store:     store,
		source:    source,
		chunkSize: defaultChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect 返回覆盖已实现窗口的时间升序 K 线；失败时返回类型化错误，
// 绝不给出含糊的部分成功。
func (c *Collector) Collect(ctx context.Context, req Request) ([]market.Candle, error) {
	_, candles, err := c.Run(ctx, req)
	return candles, err
}

// Run 与 Collect 相同，但额外返回本次收集的状态快照。
func (c *Collector) Run(ctx context.Context, req Request) (*CollectionState, []market.Candle, error) {
	tf, err := timeframe.Parse(req.Timeframe)
	if err != nil {
		return nil, nil, invalidRequest("%v", err)
	}
	plan, err := Normalize(req, tf, c.now())
	if err != nil {
		return nil, nil, err
	}
	state := &CollectionState{
		RequestID:      uuid.NewString(),
		Plan:           plan,
		TotalRequested: plan.Expected,
		StartedAt:      c.now(),
	}
	logger.Infof("[collect %s] %s %s shape=%s 窗口=[%d,%d] 预计=%d",
		state.RequestID, plan.Symbol, tf.Key, plan.Shape, plan.Boundary, plan.Anchor, plan.Expected)

	pipeline := &chunkPipeline{
		store:  c.store,
		source: c.source,
		cache:  c.cache,
		filler: NewGapFiller(tf),
		tf:     tf,
	}

	anchor := plan.Anchor
	for seq := 0; !state.done(); seq++ {
		if err := ctx.Err(); err != nil {
			return state, nil, err
		}
		planned := state.TotalRequested - state.TotalCollected
		if planned > c.chunkSize {
			planned = c.chunkSize
		}
		if ticks := tf.ExpectedCandles(plan.Boundary, anchor); planned > ticks {
			planned = ticks
		}
		if planned <= 0 {
			state.CountReached = true
			break
		}
		chunk := &ChunkInfo{
			Seq:             seq,
			Status:          ChunkPending,
			PlannedCount:    planned,
			PlannedAnchor:   anchor,
			PlannedBoundary: tf.Step(anchor, -(planned - 1)),
		}
		state.Current = chunk
		if err := pipeline.run(ctx, state, chunk); err != nil {
			logger.Errorf("[collect %s] 块 #%d 失败: %v", state.RequestID, seq, err)
			return state, nil, err
		}
		state.Chunks = append(state.Chunks, chunk)
		state.Current = nil
		state.TotalCollected += chunk.Collected

		state.CountReached = state.TotalCollected >= state.TotalRequested
		state.TimeReached = chunk.EffectiveEnd <= plan.Boundary
		logger.Debugf("[collect %s] 块 #%d 完成 collected=%d/%d effective_end=%d",
			state.RequestID, seq, state.TotalCollected, state.TotalRequested, chunk.EffectiveEnd)
		if state.done() {
			break
		}

		// 下一块锚点由上一块最权威的最旧覆盖点回退一个 tick 得出，
		// 即使上一块既没拉取也没补洞（库内完整），也能正确续接。
		anchor = tf.Step(chunk.EffectiveEnd, -1)
		if anchor < plan.Boundary {
			state.TimeReached = true
			break
		}
	}

	// 结果装配只在收尾读一次库，内存始终只驻留单块数据。
	realizedOldest := plan.Boundary
	if n := len(state.Chunks); n > 0 {
		realizedOldest = state.Chunks[n-1].EffectiveEnd
	}
	candles, err := c.store.QueryRange(ctx, plan.Symbol, tf.Key, realizedOldest, plan.Anchor)
	if err != nil {
		return state, nil, storeErr("QueryRange", err)
	}
	logger.Infof("[collect %s] 完成 count_reached=%t time_reached=%t exhausted=%t 返回=%d",
		state.RequestID, state.CountReached, state.TimeReached, state.RemoteExhausted, len(candles))
	return state, candles, nil
}
