package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 是 candlesync 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Store   StoreConfig   `toml:"store"`
	Source  SourceConfig  `toml:"source"`
	Collect CollectConfig `toml:"collect"`
	Cache   CacheConfig   `toml:"cache"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type StoreConfig struct {
	DataRoot string `toml:"data_root"`
}

type SourceConfig struct {
	Exchange        string `toml:"exchange"`
	RESTBaseURL     string `toml:"rest_base_url"`
	ProxyURL        string `toml:"proxy_url"`
	HTTPTimeoutSec  int    `toml:"http_timeout_seconds"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	BreakerFailures int    `toml:"breaker_failures"`
	BreakerCooldown int    `toml:"breaker_cooldown_seconds"`
}

type CollectConfig struct {
	ChunkSize int `toml:"chunk_size"`
}

type CacheConfig struct {
	Enabled  bool  `toml:"enabled"`
	TTLMs    int   `toml:"ttl_ms"`
	MaxBytes int64 `toml:"max_bytes"`
}

// Load 读取 YAML 配置并套用默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回无配置文件时的可用默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9980"
	}
	if c.Store.DataRoot == "" {
		c.Store.DataRoot = "data/candles"
	}
	if c.Source.Exchange == "" {
		c.Source.Exchange = "binance"
	}
	if c.Source.HTTPTimeoutSec <= 0 {
		c.Source.HTTPTimeoutSec = 15
	}
	if c.Source.RateLimitPerMin <= 0 {
		c.Source.RateLimitPerMin = 480
	}
	if c.Source.BreakerFailures <= 0 {
		c.Source.BreakerFailures = 5
	}
	if c.Source.BreakerCooldown <= 0 {
		c.Source.BreakerCooldown = 30
	}
	if c.Collect.ChunkSize <= 0 || c.Collect.ChunkSize > 200 {
		c.Collect.ChunkSize = 200
	}
	if c.Cache.TTLMs <= 0 {
		c.Cache.TTLMs = 3000
	}
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = 4 << 20
	}
}

func validate(c *Config) error {
	switch strings.ToLower(c.Source.Exchange) {
	case "binance":
	default:
		return fmt.Errorf("未知数据源: %s", c.Source.Exchange)
	}
	return nil
}
