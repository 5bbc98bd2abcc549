package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"open-interest-monitor/internal/notify"
	"open-interest-monitor/internal/notify/telegram"
	"open-interest-monitor/internal/util/timeutil"
)

// DefaultInterval 默认周期间隔
const DefaultInterval = 900 * time.Second

// SchedulerConfig 调度参数
type SchedulerConfig struct {
	// Interval 周期间隔
	Interval time.Duration
	// CycleTimeout 单个周期超时，<=0 时取 Interval
	CycleTimeout time.Duration
	// ThresholdPct 启动消息展示用
	ThresholdPct float64
	// NotifyLifecycle 是否发送启动/停止消息
	NotifyLifecycle bool
}

// Scheduler 周期调度器
// 启动后立即执行一次，之后按固定间隔执行；周期在调度 goroutine 内串行运行。
type Scheduler struct {
	cfg      SchedulerConfig
	orch     *Orchestrator
	notifier notify.Notifier
	clock    timeutil.Clock
	logger   *zap.Logger

	startedAt time.Time
}

// NewScheduler 创建调度器
func NewScheduler(cfg SchedulerConfig, orch *Orchestrator, notifier notify.Notifier, clock timeutil.Clock, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.Interval
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		orch:     orch,
		notifier: notifier,
		clock:    clock,
		logger:   logger.Named("scheduler"),
	}
}

// Run 运行直到 ctx 取消
// 取消后当前周期会执行完毕，随后发送停止消息并返回。
func (s *Scheduler) Run(ctx context.Context) error {
	s.startedAt = s.clock.Now()
	s.logger.Info("监控调度启动",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("symbols", s.orch.TotalSymbols()),
	)
	if s.cfg.NotifyLifecycle {
		s.notify(ctx, telegram.FormatStartup(telegram.StartupInfo{
			Symbols:      s.orch.Symbols(),
			Interval:     s.cfg.Interval,
			ThresholdPct: s.cfg.ThresholdPct,
			StartedAt:    s.startedAt,
		}))
	}

	s.runCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.runCycle(ctx)
		}
	}
}

// RunOnce 执行单个周期
// 返回: 周期级错误
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.safeCycle(ctx)
	return err
}

// runCycle 执行一个周期并上报错误，不会终止调度
func (s *Scheduler) runCycle(ctx context.Context) {
	rep, err := s.safeCycle(ctx)
	if err != nil {
		s.logger.Error("监控周期失败", zap.Error(err))
		s.notify(ctx, telegram.FormatError(err))
		return
	}
	if rep != nil {
		s.logger.Debug("周期结束", zap.String("cycle_id", rep.ID), zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)))
	}
}

// safeCycle 在独立超时下运行周期
// 周期上下文不继承 ctx 的取消，收到停止信号时当前周期仍能完成。
func (s *Scheduler) safeCycle(ctx context.Context) (rep *CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("周期 panic: %v", r)
		}
	}()
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CycleTimeout)
	defer cancel()
	return s.orch.RunCycle(cctx)
}

func (s *Scheduler) shutdown() {
	cycles, alerts := s.orch.Stats()
	now := s.clock.Now()
	s.logger.Info("监控调度停止",
		zap.Int64("cycles", cycles),
		zap.Int64("alerts", alerts),
		zap.String("uptime", timeutil.FormatUptime(now.Sub(s.startedAt))),
	)
	if s.cfg.NotifyLifecycle {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.notify(ctx, telegram.FormatShutdown(telegram.ShutdownInfo{
			Uptime:    now.Sub(s.startedAt),
			Cycles:    cycles,
			Alerts:    alerts,
			StoppedAt: now,
		}))
	}
}

// notify 尽力发送，失败只记录日志
func (s *Scheduler) notify(ctx context.Context, text string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.notifier.Send(sctx, text); err != nil && !errors.Is(err, notify.ErrDisabled) {
		s.logger.Warn("通知发送失败", zap.Error(err))
	}
}
