package collector

import (
	"time"

	"candlesync/internal/pkg/symbol"
	"candlesync/internal/timeframe"
)

// Shape 是请求的四种形态之一，决定锚点与边界如何推导。
type Shape string

const (
	// ShapeCountOnly 以当前时间为锚点，向前取 count 根。
	ShapeCountOnly Shape = "count_only"
	// ShapeToCount 以 to 为锚点，向前取 count 根。
	ShapeToCount Shape = "to_count"
	// ShapeToEnd 显式给定 [end, to] 窗口。
	ShapeToEnd Shape = "to_end"
	// ShapeEndOnly 以当前时间为锚点，回溯到 end。
	ShapeEndOnly Shape = "end_only"
)

// Request 是 collect 的原始入参。Count 为 0 表示未给出；
// To/End 为毫秒时间戳，0 表示未给出。
type Request struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int64  `json:"count,omitempty"`
	To        int64  `json:"to,omitempty"`
	End       int64  `json:"end,omitempty"`
}

// Plan 是一次请求的规范化结果，所有字段在入口处一次性算好，
// 后续组件不再各自取 now 或重复对齐。
// 序列从 Anchor（最新端）向 Boundary（最旧端）回溯，Anchor >= Boundary。
type Plan struct {
	Shape       Shape
	Symbol      string
	TF          timeframe.Timeframe
	RequestedAt int64
	Anchor      int64
	Boundary    int64
	Expected    int64
}

// AnchorImplicit 报告锚点是否由 now 推导而非用户显式给出。
// 首块补洞的前导占位规则依赖该区分。
func (p Plan) AnchorImplicit() bool {
	return p.Shape == ShapeCountOnly || p.Shape == ShapeEndOnly
}

// Normalize 把原始请求转成规范化计划。now 在此处采样一次。
func Normalize(req Request, tf timeframe.Timeframe, now time.Time) (Plan, error) {
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		return Plan{}, invalidRequest("symbol 不能为空")
	}
	hasCount := req.Count != 0
	hasTo := req.To != 0
	hasEnd := req.End != 0

	if hasCount && req.Count <= 0 {
		return Plan{}, invalidRequest("count 需 > 0，实际为 %d", req.Count)
	}
	if hasCount && hasEnd {
		return Plan{}, invalidRequest("count 与 end 不能同时给出")
	}
	if !hasCount && !hasEnd {
		return Plan{}, invalidRequest("count 与 end 至少给出一个")
	}
	nowMs := now.UnixMilli()
	if hasTo && req.To > nowMs {
		return Plan{}, invalidRequest("to 不能位于未来")
	}
	if hasEnd && req.End > nowMs {
		return Plan{}, invalidRequest("end 不能位于未来")
	}

	plan := Plan{
		Symbol:      sym,
		TF:          tf,
		RequestedAt: nowMs,
	}
	anchor := tf.Align(nowMs)
	if hasTo {
		anchor = tf.Align(req.To)
	}
	plan.Anchor = anchor

	switch {
	case hasCount && !hasTo:
		plan.Shape = ShapeCountOnly
		plan.Expected = req.Count
		plan.Boundary = tf.Step(anchor, -(req.Count - 1))
	case hasCount && hasTo:
		plan.Shape = ShapeToCount
		plan.Expected = req.Count
		plan.Boundary = tf.Step(anchor, -(req.Count - 1))
	case hasTo: // to + end
		plan.Shape = ShapeToEnd
		plan.Boundary = tf.Align(req.End)
		if plan.Boundary > plan.Anchor {
			return Plan{}, invalidRequest("end 不能晚于 to（对齐后 %d > %d）", plan.Boundary, plan.Anchor)
		}
		plan.Expected = tf.ExpectedCandles(plan.Boundary, plan.Anchor)
	default: // end only
		plan.Shape = ShapeEndOnly
		plan.Boundary = tf.Align(req.End)
		if plan.Boundary > plan.Anchor {
			return Plan{}, invalidRequest("end 不能晚于当前时间（对齐后）")
		}
		plan.Expected = tf.ExpectedCandles(plan.Boundary, plan.Anchor)
	}
	return plan, nil
}
