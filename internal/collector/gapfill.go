package collector

import (
	"candlesync/internal/logger"
	"candlesync/internal/market"
	"candlesync/internal/timeframe"
)

// GapFiller 把远端省略的零成交周期补成占位 K 线：OHLC 取更早一根真实
// K 线的收盘价，成交量为零，并带 Synthetic 标记。
type GapFiller struct {
	tf timeframe.Timeframe
}

func NewGapFiller(tf timeframe.Timeframe) GapFiller {
	return GapFiller{tf: tf}
}

// Fill 接收从新到旧的原始记录与窗口两端（newest >= oldest，均已对齐），
// 返回时间升序、窗口内每个 tick 至多一条的序列。
//
// 规则：
//   - 原始记录最旧一根恰好落在窗口最旧端时说明无省略，直接原样返回。
//   - firstChunk 且锚点由 now 推导（implicitAnchor）时，比最新真实记录
//     更新的前导 tick 不补占位。
//   - 比最旧真实记录更早的 tick 不补占位：那是远端历史的尽头而非省略。
//   - OHLC 违反 high>=low 的记录记日志后原样放行，保留审计线索；
//     无法落在网格上的记录记日志后不参与补洞走查。
func (g GapFiller) Fill(raw market.Candles, newest, oldest int64, firstChunk, implicitAnchor bool) market.Candles {
	if len(raw) == 0 {
		return nil
	}
	step := g.tf.StepMillis()

	oldestRaw := raw[len(raw)-1].OpenTime
	if oldestRaw == oldest && int64(len(raw)) == g.tf.ExpectedCandles(oldest, newest) {
		out := make(market.Candles, len(raw))
		copy(out, raw)
		out.Reverse()
		return out
	}

	start := newest
	if firstChunk && implicitAnchor && raw[0].OpenTime < newest {
		start = raw[0].OpenTime
	}

	out := make(market.Candles, 0, g.tf.ExpectedCandles(oldest, start))
	i := 0
	prevOpen := int64(0)
	for tick := start; tick >= oldest; tick -= step {
		for i < len(raw) && raw[i].OpenTime > tick {
			logger.Warnf("[gapfill] 记录 %d 不在网格或乱序（前一条 %d），跳过走查", raw[i].OpenTime, prevOpen)
			i++
		}
		if i >= len(raw) {
			// 没有更早的真实记录可参考：远端历史到头，停止补洞。
			break
		}
		if raw[i].OpenTime == tick {
			c := raw[i]
			if c.High < c.Low {
				logger.Warnf("[gapfill] 记录 %d OHLC 异常 high=%.8f < low=%.8f，原样放行", c.OpenTime, c.High, c.Low)
			}
			out = append(out, c)
			prevOpen = c.OpenTime
			i++
			continue
		}
		// 缺失 tick：取更早一根真实记录的收盘价做平盘占位。
		ref := raw[i].Close
		out = append(out, market.Candle{
			OpenTime:  tick,
			CloseTime: g.tf.CloseTime(tick),
			Open:      ref,
			High:      ref,
			Low:       ref,
			Close:     ref,
			Volume:    0,
			Trades:    0,
			Synthetic: true,
		})
	}
	out.Reverse()
	return out
}
