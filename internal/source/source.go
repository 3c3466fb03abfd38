package source

import (
	"context"
	"fmt"

	"candlesync/internal/market"
)

// RemoteError 标记远端拉取失败，便于上层与参数错误/存储错误区分。
// RateLimited 表示触发了交易所限频。
type RemoteError struct {
	Source      string
	RateLimited bool
	Err         error
}

func (e *RemoteError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: 触发限频: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: 拉取失败: %v", e.Source, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// CandleSource 统一不同交易所的历史 K 线拉取行为。
type CandleSource interface {
	// FetchCandles 返回 before（毫秒，开区间；<=0 表示从当前时间）之前
	// 最近的 count 根已收盘 K 线，按时间从新到旧排列。返回数量少于
	// count 意味着远端历史已经到头。
	FetchCandles(ctx context.Context, symbol, interval string, count int, before int64) ([]market.Candle, error)
	Name() string
	Close() error
}
