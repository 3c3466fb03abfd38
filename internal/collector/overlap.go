package collector

import (
	"context"
	"fmt"

	"candlesync/internal/market"
	"candlesync/internal/timeframe"
)

// Store 是收集器依赖的本地持久层能力子集，由 internal/store 实现。
// 所有区间均为时间升序闭区间。
type Store interface {
	HasAnyDataInRange(ctx context.Context, symbol, timeframe string, start, end int64) (bool, error)
	HasDataAt(ctx context.Context, symbol, timeframe string, ts int64) (bool, error)
	IsRangeComplete(ctx context.Context, symbol, timeframe string, start, end, expected int64) (bool, error)
	FindLastContinuousTime(ctx context.Context, symbol, timeframe string, newest, oldest, step int64) (int64, error)
	FindDataStartInRange(ctx context.Context, symbol, timeframe string, start, end int64) (int64, bool, error)
	IsContinuousTillEnd(ctx context.Context, symbol, timeframe string, from, end, step int64) (bool, error)
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error)
	QueryRange(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// OverlapState 是目标窗口与库内数据的五种重叠关系之一。
type OverlapState string

const (
	OverlapNone             OverlapState = "no_overlap"
	OverlapComplete         OverlapState = "complete_overlap"
	OverlapPartialStart     OverlapState = "partial_start"
	OverlapMiddleContinuous OverlapState = "partial_middle_continuous"
	OverlapMiddleFragment   OverlapState = "partial_middle_fragment"
)

// TimeRange 是时间升序的闭区间 [From, To]。
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Ticks 返回区间内的 tick 数（含两端）。
func (r TimeRange) Ticks(tf timeframe.Timeframe) int64 {
	return tf.ExpectedCandles(r.From, r.To)
}

// OverlapRecord 是一次重叠分析的不可变结果。
// 状态不变量：COMPLETE 无远端子区间，NO_OVERLAP 与 MIDDLE_FRAGMENT 无本地子区间。
type OverlapRecord struct {
	State    OverlapState `json:"state"`
	Local    *TimeRange   `json:"local,omitempty"`
	Remote   *TimeRange   `json:"remote,omitempty"`
	Expected int64        `json:"expected"`
}

// OverlapAnalyzer 按代价从低到高依次探测，命中即返回。
type OverlapAnalyzer struct {
	store Store
}

func NewOverlapAnalyzer(store Store) *OverlapAnalyzer {
	return &OverlapAnalyzer{store: store}
}

// Analyze 把目标窗口（window.To 为锚点/最新端）与库内数据分类，
// 并给出仍需远端拉取的最小子区间。存储错误原样上抛；
// 探测结果出现矛盾组合时视为缺陷直接报错，绝不静默兜底。
func (a *OverlapAnalyzer) Analyze(ctx context.Context, symbol string, tf timeframe.Timeframe, window TimeRange, expected int64) (OverlapRecord, error) {
	step := tf.StepMillis()
	rec := OverlapRecord{Expected: expected}

	// 1. 存在性：窗口内完全无数据则整窗拉取。
	any, err := a.store.HasAnyDataInRange(ctx, symbol, tf.Key, window.From, window.To)
	if err != nil {
		return rec, storeErr("HasAnyDataInRange", err)
	}
	if !any {
		rec.State = OverlapNone
		remote := window
		rec.Remote = &remote
		return rec, nil
	}

	// 2. 完整性：数量恰好填满网格则无需任何拉取。
	complete, err := a.store.IsRangeComplete(ctx, symbol, tf.Key, window.From, window.To, expected)
	if err != nil {
		return rec, storeErr("IsRangeComplete", err)
	}
	if complete {
		rec.State = OverlapComplete
		local := window
		rec.Local = &local
		return rec, nil
	}

	// 3. 锚点边：锚点处有数据则从锚点向更早方向找连续覆盖的尽头。
	atAnchor, err := a.store.HasDataAt(ctx, symbol, tf.Key, window.To)
	if err != nil {
		return rec, storeErr("HasDataAt", err)
	}
	if atAnchor {
		last, err := a.store.FindLastContinuousTime(ctx, symbol, tf.Key, window.To, window.From, step)
		if err != nil {
			return rec, storeErr("FindLastContinuousTime", err)
		}
		if last <= window.From {
			// 连续覆盖贯穿整窗而前一探测又判定不完整，数据自相矛盾。
			return rec, fmt.Errorf("重叠分析矛盾: %s %s 窗口 [%d,%d] 连续却不完整", symbol, tf.Key, window.From, window.To)
		}
		rec.State = OverlapPartialStart
		rec.Local = &TimeRange{From: last, To: window.To}
		rec.Remote = &TimeRange{From: window.From, To: last - step}
		return rec, nil
	}

	// 4. 数据起点：窗口内存在数据但锚点处没有，定位回溯途中数据
	//    开始出现的位置并检验其到边界是否连续。
	dataStart, ok, err := a.store.FindDataStartInRange(ctx, symbol, tf.Key, window.From, window.To)
	if err != nil {
		return rec, storeErr("FindDataStartInRange", err)
	}
	if !ok || dataStart >= window.To {
		return rec, fmt.Errorf("重叠分析矛盾: %s %s 窗口 [%d,%d] 数据起点探测异常", symbol, tf.Key, window.From, window.To)
	}
	cont, err := a.store.IsContinuousTillEnd(ctx, symbol, tf.Key, dataStart, window.From, step)
	if err != nil {
		return rec, storeErr("IsContinuousTillEnd", err)
	}
	if cont {
		rec.State = OverlapMiddleContinuous
		rec.Local = &TimeRange{From: window.From, To: dataStart}
		rec.Remote = &TimeRange{From: dataStart + step, To: window.To}
		return rec, nil
	}

	// 窗口内存在第二个缺口：保守地整窗重拉，不做碎片级缝合。
	rec.State = OverlapMiddleFragment
	remote := window
	rec.Remote = &remote
	return rec, nil
}
