package collector

import (
	"context"

	"candlesync/internal/logger"
	"candlesync/internal/market"
	"candlesync/internal/timeframe"
)

// Source 是收集器依赖的远端拉取能力，由 internal/source 实现。
type Source interface {
	// FetchCandles 返回 before（开区间）之前最近的 count 根 K 线，从新到旧。
	FetchCandles(ctx context.Context, symbol, interval string, count int, before int64) ([]market.Candle, error)
	Name() string
}

// ChunkStatus 是单块工作的生命周期状态。
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkFailed     ChunkStatus = "failed"
)

// ChunkInfo 记录一个有界工作单元走过各阶段留下的痕迹，
// 字段按阶段分组：计划 / 重叠 / 实测 / 终值。
// 在途期间由流水线独占，完成后挂到 CollectionState 上冻结。
type ChunkInfo struct {
	Seq    int         `json:"seq"`
	Status ChunkStatus `json:"status"`

	// 计划
	PlannedCount    int64 `json:"planned_count"`
	PlannedAnchor   int64 `json:"planned_anchor"`
	PlannedBoundary int64 `json:"planned_boundary"`

	// 重叠
	Overlap OverlapRecord `json:"overlap"`

	// 实测（拉取阶段）
	FetchedCount  int   `json:"fetched_count"`
	FetchedNewest int64 `json:"fetched_newest,omitempty"`
	FetchedOldest int64 `json:"fetched_oldest,omitempty"`
	CacheHit      bool  `json:"cache_hit,omitempty"`
	Exhausted     bool  `json:"exhausted,omitempty"`

	// 终值（补洞与落库之后）
	FinalCount  int   `json:"final_count"`
	FinalNewest int64 `json:"final_newest,omitempty"`
	FinalOldest int64 `json:"final_oldest,omitempty"`
	Inserted    int   `json:"inserted"`
	Filled      int   `json:"filled"`

	// EffectiveEnd 是本块已覆盖数据最权威的最旧端，锚定下一块。
	EffectiveEnd int64 `json:"effective_end"`
	// Collected 是本块对 totalCollected 的贡献。
	Collected int64 `json:"collected"`
}

// 各阶段的显式结果类型，沿状态机逐级传递。
type planResult struct {
	overlap OverlapRecord
	skip    bool
}

type fetchResult struct {
	candles   market.Candles // 缓存命中时为升序成品，否则为从新到旧的原始记录
	requested int64
	fromCache bool
	exhausted bool
}

type reconcileResult struct {
	candles market.Candles // 时间升序
	filled  int
}

// chunkPipeline 驱动单块经过 计划→拉取→补洞→落库。
type chunkPipeline struct {
	store  Store
	source Source
	cache  *HotRangeCache
	filler GapFiller
	tf     timeframe.Timeframe
}

// run 执行一个块。任何阶段出错即把块标记为 failed 并返回错误，
// 上层据此中止整个收集，绝不静默续跑。
func (p *chunkPipeline) run(ctx context.Context, state *CollectionState, chunk *ChunkInfo) error {
	chunk.Status = ChunkProcessing

	pr, err := p.plan(ctx, state, chunk)
	if err != nil {
		chunk.Status = ChunkFailed
		return err
	}
	if pr.skip {
		// 库内已完整：无需网络与补洞，库内边界即本块结果。
		chunk.FinalCount = int(chunk.PlannedCount)
		chunk.FinalNewest = chunk.PlannedAnchor
		chunk.FinalOldest = chunk.PlannedBoundary
		chunk.EffectiveEnd = chunk.PlannedBoundary
		chunk.Collected = chunk.PlannedCount
		chunk.Status = ChunkCompleted
		return nil
	}

	fr, err := p.fetch(ctx, state, chunk, pr)
	if err != nil {
		chunk.Status = ChunkFailed
		return err
	}
	rr := p.reconcile(state, chunk, pr, fr)
	if err := p.persist(ctx, state, chunk, rr); err != nil {
		chunk.Status = ChunkFailed
		return err
	}
	p.finalize(chunk, pr, rr)
	chunk.Status = ChunkCompleted
	return nil
}

func (p *chunkPipeline) plan(ctx context.Context, state *CollectionState, chunk *ChunkInfo) (planResult, error) {
	window := TimeRange{From: chunk.PlannedBoundary, To: chunk.PlannedAnchor}
	analyzer := NewOverlapAnalyzer(p.store)
	ov, err := analyzer.Analyze(ctx, state.Plan.Symbol, p.tf, window, chunk.PlannedCount)
	if err != nil {
		return planResult{}, err
	}
	chunk.Overlap = ov
	logger.Debugf("[collect %s] 块 #%d 重叠=%s 窗口=[%d,%d]", state.RequestID, chunk.Seq, ov.State, window.From, window.To)
	return planResult{overlap: ov, skip: ov.State == OverlapComplete}, nil
}

func (p *chunkPipeline) fetch(ctx context.Context, state *CollectionState, chunk *ChunkInfo, pr planResult) (fetchResult, error) {
	remote := pr.overlap.Remote
	requested := remote.Ticks(p.tf)
	key := cacheKey(state.Plan.Symbol, p.tf.Key, *remote)

	if cached, ok := p.cache.Get(key); ok {
		chunk.CacheHit = true
		chunk.FetchedCount = len(cached)
		if oldest, ok := market.Candles(cached).Oldest(); ok {
			chunk.FetchedOldest = oldest.OpenTime
		}
		if newest, ok := market.Candles(cached).Newest(); ok {
			chunk.FetchedNewest = newest.OpenTime
		}
		return fetchResult{candles: cached, requested: requested, fromCache: true}, nil
	}

	before := p.tf.Step(remote.To, 1)
	raw, err := p.source.FetchCandles(ctx, state.Plan.Symbol, p.tf.SourceInterval, int(requested), before)
	if err != nil {
		return fetchResult{}, &RemoteFetchError{Err: err}
	}
	chunk.FetchedCount = len(raw)
	if len(raw) > 0 {
		chunk.FetchedNewest = raw[0].OpenTime
		chunk.FetchedOldest = raw[len(raw)-1].OpenTime
	}
	fr := fetchResult{candles: raw, requested: requested}
	if int64(len(raw)) < requested {
		// 只有旧端没盖住才是历史到头。新端短缺另有来源：交易所先按
		// limit 截断再由数据源剔掉未收盘的最新一根，不代表历史耗尽。
		oldEndCovered := len(raw) > 0 && raw[len(raw)-1].OpenTime <= remote.From
		if oldEndCovered {
			logger.Debugf("[collect %s] 块 #%d 新端短缺：请求 %d 实得 %d，旧端已盖住", state.RequestID, chunk.Seq, requested, len(raw))
		} else {
			fr.exhausted = true
			chunk.Exhausted = true
			state.RemoteExhausted = true
			logger.Infof("[collect %s] 块 #%d 远端历史耗尽：请求 %d 实得 %d", state.RequestID, chunk.Seq, requested, len(raw))
		}
	}
	return fr, nil
}

func (p *chunkPipeline) reconcile(state *CollectionState, chunk *ChunkInfo, pr planResult, fr fetchResult) reconcileResult {
	if fr.fromCache {
		return reconcileResult{candles: fr.candles}
	}
	remote := pr.overlap.Remote
	firstChunk := len(state.Chunks) == 0
	implicit := state.Plan.AnchorImplicit() && remote.To == state.Plan.Anchor
	assembled := p.filler.Fill(fr.candles, remote.To, remote.From, firstChunk, implicit)
	filled := len(assembled) - len(fr.candles)
	if filled < 0 {
		filled = 0
	}
	chunk.Filled = filled
	if filled > 0 {
		logger.Debugf("[collect %s] 块 #%d 补洞 %d 根", state.RequestID, chunk.Seq, filled)
	}
	// 耗尽块不入缓存，避免短窗内掩盖"历史到头"的信号。
	if !fr.exhausted && len(assembled) > 0 {
		p.cache.Put(cacheKey(state.Plan.Symbol, p.tf.Key, *remote), assembled)
	}
	return reconcileResult{candles: assembled, filled: filled}
}

func (p *chunkPipeline) persist(ctx context.Context, state *CollectionState, chunk *ChunkInfo, rr reconcileResult) error {
	inserted, err := p.store.SaveCandles(ctx, state.Plan.Symbol, p.tf.Key, rr.candles)
	if err != nil {
		return storeErr("SaveCandles", err)
	}
	chunk.Inserted = inserted
	return nil
}

// finalize 记录终值并解析 effective end：补洞后的边界优先，其次是
// 重叠分析给出的库内边界，再次是原始拉取边界，最后才退回计划边界。
func (p *chunkPipeline) finalize(chunk *ChunkInfo, pr planResult, rr reconcileResult) {
	chunk.FinalCount = len(rr.candles)
	if len(rr.candles) > 0 {
		chunk.FinalOldest = rr.candles[0].OpenTime
		chunk.FinalNewest = rr.candles[len(rr.candles)-1].OpenTime
	}

	effective := int64(0)
	if len(rr.candles) > 0 {
		effective = chunk.FinalOldest
	}
	if local := pr.overlap.Local; local != nil {
		if effective == 0 || local.From < effective {
			effective = local.From
		}
	}
	if effective == 0 && chunk.FetchedOldest > 0 {
		effective = chunk.FetchedOldest
	}
	if effective == 0 {
		effective = chunk.PlannedBoundary
	}
	chunk.EffectiveEnd = effective

	if chunk.Exhausted {
		covered := int64(len(rr.candles))
		if local := pr.overlap.Local; local != nil {
			covered += local.Ticks(p.tf)
		}
		chunk.Collected = covered
	} else {
		chunk.Collected = chunk.PlannedCount
	}
}
