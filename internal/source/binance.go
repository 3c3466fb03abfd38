package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"candlesync/internal/market"
	"candlesync/internal/pkg/circuit"
	"candlesync/internal/timeframe"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const maxFetchLimit = 1500

// BinanceConfig 配置 Binance USDT 合约数据源。
type BinanceConfig struct {
	RESTBaseURL     string
	HTTPTimeout     time.Duration
	ProxyURL        string
	RateLimitPerMin int
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (c *BinanceConfig) withDefaults() BinanceConfig {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.RateLimitPerMin <= 0 {
		out.RateLimitPerMin = 480
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}

// BinanceSource 基于 go-binance SDK 拉取 USDT 合约历史 K 线。
// 出站请求经过限频器与熔断器，限频由调用方之外统一承担。
type BinanceSource struct {
	cfg     BinanceConfig
	client  *futures.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker
}

func NewBinanceSource(cfg BinanceConfig) (*BinanceSource, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &BinanceSource{
		cfg:     final,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(final.RateLimitPerMin)/60.0), 10),
		breaker: circuit.NewBreaker("binance", final.BreakerFailures, final.BreakerCooldown),
	}, nil
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Close() error { return nil }

// FetchCandles 拉取 before 之前最近的 count 根已收盘 K 线，从新到旧返回。
func (s *BinanceSource) FetchCandles(ctx context.Context, symbol, interval string, count int, before int64) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if count <= 0 {
		count = 1
	}
	if count > maxFetchLimit {
		count = maxFetchLimit
	}
	if !s.breaker.Allow() {
		return nil, &RemoteError{Source: s.Name(), Err: errors.New("circuit open")}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &RemoteError{Source: s.Name(), Err: err}
	}
	svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(count)
	if before > 0 {
		// Binance 的 endTime 为闭区间，before 为开区间。
		svc = svc.EndTime(before - 1)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, &RemoteError{Source: s.Name(), RateLimited: isRateLimited(err), Err: err}
	}
	s.breaker.RecordSuccess()
	out := make(market.Candles, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if tf, err := timeframe.Parse(interval); err == nil {
		out = dropUnclosed(out, tf, time.Now().UnixMilli())
	}
	out.Reverse()
	return out, nil
}

// dropUnclosed 去掉仍在进行中的最后一根（Binance 会把当前未收盘 K 线一并返回）。
func dropUnclosed(candles market.Candles, tf timeframe.Timeframe, nowMs int64) market.Candles {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	if nowMs < last.OpenTime+tf.StepMillis() {
		return candles[:len(candles)-1]
	}
	return candles
}

func isRateLimited(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == -1003 || apiErr.Code == -1015
	}
	return false
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
