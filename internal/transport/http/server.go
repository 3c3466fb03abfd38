package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"candlesync/internal/collector"
	"candlesync/internal/store"
	"candlesync/internal/timeframe"

	"github.com/gin-gonic/gin"
)

// Server 提供 Gin 接口：触发收集、查询 K 线与覆盖情况。
type Server struct {
	addr      string
	collector *collector.Collector
	store     *store.Store
	router    *gin.Engine
	srv       *http.Server
}

type Config struct {
	Addr      string
	Collector *collector.Collector
	Store     *store.Store
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Collector == nil {
		return nil, errors.New("collector 不能为空")
	}
	if cfg.Store == nil {
		return nil, errors.New("store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		collector: cfg.Collector,
		store:     cfg.Store,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.POST("/collect", s.handleCollect)
	api.GET("/candles", s.handleCandles)
	api.GET("/manifest", s.handleManifest)
	api.GET("/integrity", s.handleIntegrity)
}

// Run 阻塞运行直到 ctx 取消，随后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

type collectRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe" binding:"required"`
	Count     int64  `json:"count"`
	To        int64  `json:"to"`
	End       int64  `json:"end"`
}

func (s *Server) handleCollect(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, candles, err := s.collector.Run(c.Request.Context(), collector.Request{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Count:     req.Count,
		To:        req.To,
		End:       req.End,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":   state,
		"count":   len(candles),
		"candles": candles,
	})
}

func statusFor(err error) int {
	var invalid *collector.InvalidRequestError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest
	}
	var remote *collector.RemoteFetchError
	if errors.As(err, &remote) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tfKey := c.Query("timeframe")
	start, err1 := parseInt64(c.Query("start"))
	end, err2 := parseInt64(c.Query("end"))
	if symbol == "" || tfKey == "" || err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe/start/end 均为必填"})
		return
	}
	candles, err := s.store.QueryRange(c.Request.Context(), symbol, tfKey, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(candles), "candles": candles})
}

func (s *Server) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tfKey := c.Query("timeframe")
	if symbol == "" || tfKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 均为必填"})
		return
	}
	m, err := s.store.Manifest(c.Request.Context(), symbol, tfKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleIntegrity(c *gin.Context) {
	symbol := c.Query("symbol")
	tfKey := c.Query("timeframe")
	start, err1 := parseInt64(c.Query("start"))
	end, err2 := parseInt64(c.Query("end"))
	if symbol == "" || tfKey == "" || err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe/start/end 均为必填"})
		return
	}
	tf, err := timeframe.Parse(tfKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.store.CheckIntegrity(c.Request.Context(), symbol, tf, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseInt64(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.ParseInt(v, 10, 64)
}
