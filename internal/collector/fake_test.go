package collector

import (
	"context"
	"fmt"
	"sort"

	"candlesync/internal/market"
)

// fakeStore 用内存 map 模拟 internal/store 的探针语义，测试专用。
type fakeStore struct {
	candles map[string]map[int64]market.Candle
}

func newFakeStore() *fakeStore {
	return &fakeStore{candles: make(map[string]map[int64]market.Candle)}
}

func (f *fakeStore) bucket(symbol, timeframe string) map[int64]market.Candle {
	key := symbol + "@" + timeframe
	if f.candles[key] == nil {
		f.candles[key] = make(map[int64]market.Candle)
	}
	return f.candles[key]
}

func (f *fakeStore) seed(symbol, timeframe string, candles ...market.Candle) {
	b := f.bucket(symbol, timeframe)
	for _, c := range candles {
		b[c.OpenTime] = c
	}
}

func (f *fakeStore) HasAnyDataInRange(_ context.Context, symbol, timeframe string, start, end int64) (bool, error) {
	for ts := range f.bucket(symbol, timeframe) {
		if ts >= start && ts <= end {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) HasDataAt(ctx context.Context, symbol, timeframe string, ts int64) (bool, error) {
	return f.HasAnyDataInRange(ctx, symbol, timeframe, ts, ts)
}

func (f *fakeStore) countInRange(symbol, timeframe string, start, end int64) int64 {
	var n int64
	for ts := range f.bucket(symbol, timeframe) {
		if ts >= start && ts <= end {
			n++
		}
	}
	return n
}

func (f *fakeStore) IsRangeComplete(_ context.Context, symbol, timeframe string, start, end, expected int64) (bool, error) {
	return f.countInRange(symbol, timeframe, start, end) == expected, nil
}

func (f *fakeStore) FindLastContinuousTime(_ context.Context, symbol, timeframe string, newest, oldest, step int64) (int64, error) {
	b := f.bucket(symbol, timeframe)
	if _, ok := b[newest]; !ok {
		return 0, fmt.Errorf("时间戳 %d 不存在", newest)
	}
	last := newest
	for cursor := newest - step; cursor >= oldest; cursor -= step {
		if _, ok := b[cursor]; !ok {
			break
		}
		last = cursor
	}
	return last, nil
}

func (f *fakeStore) FindDataStartInRange(_ context.Context, symbol, timeframe string, start, end int64) (int64, bool, error) {
	found := false
	var max int64
	for ts := range f.bucket(symbol, timeframe) {
		if ts >= start && ts <= end && (!found || ts > max) {
			found = true
			max = ts
		}
	}
	return max, found, nil
}

func (f *fakeStore) IsContinuousTillEnd(_ context.Context, symbol, timeframe string, from, end, step int64) (bool, error) {
	expected := (from-end)/step + 1
	return f.countInRange(symbol, timeframe, end, from) == expected, nil
}

func (f *fakeStore) SaveCandles(_ context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	b := f.bucket(symbol, timeframe)
	inserted := 0
	for _, c := range candles {
		if _, ok := b[c.OpenTime]; ok {
			continue
		}
		b[c.OpenTime] = c
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) QueryRange(_ context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if end < start {
		start, end = end, start
	}
	var out []market.Candle
	for ts, c := range f.bucket(symbol, timeframe) {
		if ts >= start && ts <= end {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

type fetchCall struct {
	symbol   string
	interval string
	count    int
	before   int64
}

// fakeSource 用一份升序的"远端全量账本"回应分页拉取：
// 返回 before 之前最近的 count 根，从新到旧；不足 count 表示历史到头。
// forming 模拟仍在进行中的最新一根：交易所先按 count 截断，
// 数据源侧再把这根未收盘的剔掉（与 Binance 的真实顺序一致）。
type fakeSource struct {
	history market.Candles // 升序
	forming int64
	calls   []fetchCall
	err     error
}

func (f *fakeSource) FetchCandles(_ context.Context, symbol, interval string, count int, before int64) ([]market.Candle, error) {
	f.calls = append(f.calls, fetchCall{symbol: symbol, interval: interval, count: count, before: before})
	if f.err != nil {
		return nil, f.err
	}
	var eligible market.Candles
	for _, c := range f.history {
		if c.OpenTime < before {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) > count {
		eligible = eligible[len(eligible)-count:]
	}
	out := make(market.Candles, 0, len(eligible))
	for _, c := range eligible {
		if f.forming != 0 && c.OpenTime == f.forming {
			continue
		}
		out = append(out, c)
	}
	out.Reverse()
	return out, nil
}

func (f *fakeSource) Name() string { return "fake" }

const (
	fakeSymbol = "BTCUSDT"
	fakeStep   = int64(60_000)
	fakeBase   = int64(1_700_000_040_000) // 1m 网格上
)

// realCandle 构造一根可辨识的真实 K 线，收盘价编码其时刻。
func realCandle(ts int64) market.Candle {
	price := float64(ts % 1_000_000)
	return market.Candle{
		OpenTime:  ts,
		CloseTime: ts + fakeStep - 1,
		Open:      price, High: price + 2, Low: price - 2, Close: price + 1,
		Volume: 1, Trades: 5,
	}
}

// ascendingHistory 生成 [from, to] 网格上每个 tick 一根的升序序列。
func ascendingHistory(from, to int64) market.Candles {
	var out market.Candles
	for ts := from; ts <= to; ts += fakeStep {
		out = append(out, realCandle(ts))
	}
	return out
}
