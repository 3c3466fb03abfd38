package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"candlesync/internal/collector"
	cscfg "candlesync/internal/config"
	"candlesync/internal/logger"
	"candlesync/internal/source"
	"candlesync/internal/store"
	httptransport "candlesync/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CANDLESYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，数据目录=%s）", cfg.App.Env, cfg.Store.DataRoot)

	st, err := store.New(cfg.Store.DataRoot)
	if err != nil {
		log.Fatalf("初始化存储失败: %v", err)
	}
	defer st.Close()

	src, err := source.NewBinanceSource(source.BinanceConfig{
		RESTBaseURL:     cfg.Source.RESTBaseURL,
		HTTPTimeout:     time.Duration(cfg.Source.HTTPTimeoutSec) * time.Second,
		ProxyURL:        cfg.Source.ProxyURL,
		RateLimitPerMin: cfg.Source.RateLimitPerMin,
		BreakerFailures: cfg.Source.BreakerFailures,
		BreakerCooldown: time.Duration(cfg.Source.BreakerCooldown) * time.Second,
	})
	if err != nil {
		log.Fatalf("初始化数据源失败: %v", err)
	}
	defer src.Close()

	opts := []collector.Option{collector.WithChunkSize(int64(cfg.Collect.ChunkSize))}
	if cfg.Cache.Enabled {
		opts = append(opts, collector.WithCache(collector.NewHotRangeCache(
			time.Duration(cfg.Cache.TTLMs)*time.Millisecond, cfg.Cache.MaxBytes)))
	}
	coll := collector.New(st, src, opts...)

	srv, err := httptransport.NewServer(httptransport.Config{
		Addr:      cfg.App.HTTPAddr,
		Collector: coll,
		Store:     st,
	})
	if err != nil {
		log.Fatalf("初始化 HTTP 服务失败: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP 服务监听 %s", cfg.App.HTTPAddr)
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func loadConfig(path string) (*cscfg.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cscfg.Default(), nil
		}
		return nil, err
	}
	return cscfg.Load(path)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
