package market

// Candle 表示某 symbol 在一个周期桶内的一根 OHLCV K 线。
// OpenTime 为对齐后的毫秒时间戳，同一 (symbol, timeframe) 下唯一。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
	// Synthetic 标记补洞生成的占位 K 线（零成交周期交易所会直接省略）。
	Synthetic bool `json:"synthetic,omitempty"`
}

type Candles []Candle

// Reverse 原地反转顺序（远端返回最新在前，落库前需转为时间升序）。
func (c Candles) Reverse() {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// Oldest 返回时间最早的一根；要求已按时间排序（任一方向）。
func (c Candles) Oldest() (Candle, bool) {
	if len(c) == 0 {
		return Candle{}, false
	}
	if c[0].OpenTime <= c[len(c)-1].OpenTime {
		return c[0], true
	}
	return c[len(c)-1], true
}

// Newest 返回时间最晚的一根；要求已按时间排序（任一方向）。
func (c Candles) Newest() (Candle, bool) {
	if len(c) == 0 {
		return Candle{}, false
	}
	if c[0].OpenTime >= c[len(c)-1].OpenTime {
		return c[0], true
	}
	return c[len(c)-1], true
}
