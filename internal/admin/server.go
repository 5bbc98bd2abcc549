// Package admin 提供管理 HTTP 接口：健康检查、Prometheus 指标与最近一次周期报告。
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/monitor"
	"open-interest-monitor/internal/util/timeutil"
)

// StatusSource 周期状态来源，由 monitor.Orchestrator 实现
type StatusSource interface {
	LastReport() *monitor.CycleReport
	Stats() (cycles, alerts int64)
	Symbols() map[model.Exchange]int
}

// Option 配置 Server
type Option func(*Server)

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithGatherer 设置指标来源，默认 prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithStaleAfter 最近一次周期早于该时长时 /healthz 返回 503
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) { s.staleAfter = d }
}

// WithClock 设置时钟
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger 设置日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server 管理接口服务
type Server struct {
	echo       *echo.Echo
	src        StatusSource
	addr       string
	gatherer   prometheus.Gatherer
	staleAfter time.Duration
	clock      timeutil.Clock
	logger     *zap.Logger
	startedAt  time.Time
}

// StatusResponse /status 响应
type StatusResponse struct {
	Cycles    int64                  `json:"cycles"`
	Alerts    int64                  `json:"alerts"`
	Symbols   map[model.Exchange]int `json:"symbols"`
	Uptime    string                 `json:"uptime"`
	LastCycle *monitor.CycleReport   `json:"last_cycle,omitempty"`
}

// NewServer 创建管理接口服务
func NewServer(src StatusSource, opts ...Option) *Server {
	s := &Server{
		src:      src,
		addr:     ":9090",
		gatherer: prometheus.DefaultGatherer,
		clock:    timeutil.SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("admin")
	s.startedAt = s.clock.Now()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", s.healthz)
	e.GET("/status", s.status)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo = e
	return s
}

// Start 在后台启动监听
func (s *Server) Start() {
	go func() {
		s.logger.Info("管理接口已启动", zap.String("addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("管理接口异常退出", zap.Error(err))
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭管理接口失败: %w", err)
	}
	s.logger.Info("管理接口已关闭")
	return nil
}

// Handler 返回 HTTP 处理器，便于测试
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) healthz(c echo.Context) error {
	rep := s.src.LastReport()
	if s.staleAfter > 0 && rep != nil && s.clock.Now().Sub(rep.FinishedAt) > s.staleAfter {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":         "stale",
			"last_cycle_end": timeutil.FormatISO(rep.FinishedAt),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(c echo.Context) error {
	cycles, alerts := s.src.Stats()
	return c.JSON(http.StatusOK, StatusResponse{
		Cycles:    cycles,
		Alerts:    alerts,
		Symbols:   s.src.Symbols(),
		Uptime:    timeutil.FormatUptime(s.clock.Now().Sub(s.startedAt)),
		LastCycle: s.src.LastReport(),
	})
}
