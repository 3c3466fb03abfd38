package timeframe

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述一个周期（内部 duration + 数据源 interval）。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var supported = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, SourceInterval: "1m"},
	"3m":  {Key: "3m", Duration: 3 * time.Minute, SourceInterval: "3m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour, SourceInterval: "1w"},
}

// Parse 返回标准化周期定义。
func Parse(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supported[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// Supported 返回所有支持的 key（排序后）。
func Supported() []string {
	keys := make([]string, 0, len(supported))
	for k := range supported {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StepMillis 返回一个 tick 的毫秒宽度。
func (tf Timeframe) StepMillis() int64 {
	return tf.Duration.Milliseconds()
}

// Align 将毫秒时间戳向下对齐到周期网格。
func (tf Timeframe) Align(ts int64) int64 {
	step := tf.StepMillis()
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// Step 从 ts 开始移动 n 个 tick（n 为负表示向更早方向）。
func (tf Timeframe) Step(ts int64, n int64) int64 {
	return ts + n*tf.StepMillis()
}

// AlignRange 将输入对齐到网格并保证 start<=end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	if end < start {
		start, end = end, start
	}
	alStart := tf.Align(start)
	alEnd := tf.Align(end)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedCandles 计算 start~end（含两端）应存在的 K 线数量。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := tf.StepMillis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}

// OnGrid 判断 ts 是否落在周期网格上。
func (tf Timeframe) OnGrid(ts int64) bool {
	step := tf.StepMillis()
	return step > 0 && ts%step == 0
}

// CloseTime 返回某根 K 线的收盘时间戳（交易所惯例：下一 tick 减 1ms）。
func (tf Timeframe) CloseTime(openTime int64) int64 {
	return openTime + tf.StepMillis() - 1
}
