// Package monitor 实现监控周期编排与调度。
// 所有核心状态（观测日志、去重键、窗口记录）只在单个周期内被修改，周期之间不重叠。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"open-interest-monitor/internal/core/dedup"
	"open-interest-monitor/internal/core/detect"
	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/core/store"
	"open-interest-monitor/internal/core/window"
	"open-interest-monitor/internal/exchange"
	"open-interest-monitor/internal/notify"
	"open-interest-monitor/internal/notify/telegram"
	"open-interest-monitor/internal/output/snapshot"
	"open-interest-monitor/internal/util/timeutil"
)

// SnapshotSaver 快照持久化
type SnapshotSaver interface {
	Save(data snapshot.Data) error
}

// WindowSink 已关闭窗口的下游（CSV、数据库）
type WindowSink interface {
	Name() string
	Write(ctx context.Context, windows []model.Window) error
}

// Metrics 周期指标
type Metrics interface {
	RecordCycle(ok bool, d time.Duration, finishedAt time.Time)
	RecordFetchFailure(exchange string)
	RecordObservation(exchange string)
	RecordRejected(exchange, reason string)
	RecordAlert(kind, severity string)
	RecordSuppressed(kind string)
	RecordDeliveryFailure(channel string)
	SetSeries(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordCycle(bool, time.Duration, time.Time) {}
func (nopMetrics) RecordFetchFailure(string)                  {}
func (nopMetrics) RecordObservation(string)                   {}
func (nopMetrics) RecordRejected(string, string)              {}
func (nopMetrics) RecordAlert(string, string)                 {}
func (nopMetrics) RecordSuppressed(string)                    {}
func (nopMetrics) RecordDeliveryFailure(string)               {}
func (nopMetrics) SetSeries(int)                              {}

// Config 编排器参数
type Config struct {
	// Retention 观测保留期，<=0 表示不限制
	Retention time.Duration
	// SendSummary 有告警时是否额外发送汇总消息
	SendSummary bool
}

// Deps 编排器依赖
// Store、Detector、Aggregator、Dedup 为空时使用默认实现。
type Deps struct {
	Targets    []exchange.Target
	Store      *store.Store
	Detector   *detect.Detector
	Aggregator *window.Aggregator
	Dedup      *dedup.Deduplicator
	Notifier   notify.Notifier
	Sinks      notify.Sinks
	Snapshot   SnapshotSaver
	Windows    []WindowSink
	Metrics    Metrics
	Clock      timeutil.Clock
	Logger     *zap.Logger
}

// CycleReport 单个周期的执行结果
type CycleReport struct {
	ID          string                    `json:"id"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`
	Fetched     map[model.Exchange]int    `json:"fetched"`
	FetchErrors map[model.Exchange]string `json:"fetch_errors,omitempty"`
	Accepted    int                       `json:"accepted"`
	Rejected    int                       `json:"rejected"`
	Suppressed  int                       `json:"suppressed"`
	Alerts      []model.Alert             `json:"alerts"`
	// DeliveryFailures 通知失败次数
	DeliveryFailures int `json:"delivery_failures"`
	// Trimmed 按保留期删除的观测数
	Trimmed int `json:"trimmed"`
	// ClosedWindows 本周期导出的已关闭窗口数
	ClosedWindows int `json:"closed_windows"`
	// PersistErrors 快照或导出失败（不影响周期结果）
	PersistErrors []string `json:"persist_errors,omitempty"`
	// Err 周期级错误
	Err string `json:"error,omitempty"`
}

// Orchestrator 监控周期编排器
type Orchestrator struct {
	cfg        Config
	targets    []exchange.Target
	store      *store.Store
	detector   *detect.Detector
	aggregator *window.Aggregator
	dedup      *dedup.Deduplicator
	notifier   notify.Notifier
	sinks      notify.Sinks
	snapshot   SnapshotSaver
	windows    []WindowSink
	metrics    Metrics
	clock      timeutil.Clock
	logger     *zap.Logger

	// running 周期互斥，防止重入
	running atomic.Bool

	cycles atomic.Int64
	alerts atomic.Int64

	reportMu sync.RWMutex
	last     *CycleReport
}

// ErrCycleRunning 上一个周期尚未结束
var ErrCycleRunning = errors.New("上一个周期仍在运行")

// New 创建编排器
func New(cfg Config, d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		targets:    d.Targets,
		store:      d.Store,
		detector:   d.Detector,
		aggregator: d.Aggregator,
		dedup:      d.Dedup,
		notifier:   d.Notifier,
		sinks:      d.Sinks,
		snapshot:   d.Snapshot,
		windows:    d.Windows,
		metrics:    d.Metrics,
		clock:      d.Clock,
		logger:     d.Logger,
	}
	if o.store == nil {
		o.store = store.New(store.DefaultMaxPerSeries)
	}
	if o.detector == nil {
		o.detector = detect.New(detect.MediumSeverityPct)
	}
	if o.aggregator == nil {
		o.aggregator = window.NewAggregator(window.DefaultSpikeRatio)
	}
	if o.clock == nil {
		o.clock = timeutil.SystemClock{}
	}
	if o.dedup == nil {
		o.dedup = dedup.New(nil, dedup.WithClock(o.clock))
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("monitor")
	return o
}

// Store 返回观测日志（仅供启动恢复使用）
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Symbols 返回每个交易所的监控交易对数
func (o *Orchestrator) Symbols() map[model.Exchange]int {
	out := make(map[model.Exchange]int, len(o.targets))
	for _, t := range o.targets {
		out[t.Fetcher.Exchange()] += len(t.Symbols)
	}
	return out
}

// TotalSymbols 返回监控交易对总数
func (o *Orchestrator) TotalSymbols() int {
	n := 0
	for _, t := range o.targets {
		n += len(t.Symbols)
	}
	return n
}

// Stats 返回累计周期数与告警数
func (o *Orchestrator) Stats() (cycles, alerts int64) {
	return o.cycles.Load(), o.alerts.Load()
}

// LastReport 返回最近一次周期报告
func (o *Orchestrator) LastReport() *CycleReport {
	o.reportMu.RLock()
	defer o.reportMu.RUnlock()
	return o.last
}

// RunCycle 执行一个完整周期
// 拉取、检测、去重、窗口聚合、通知、持久化。
// 单个观测、单个交易所、持久化、通知的失败只记录日志；panic 被转换为错误返回。
// 返回的错误表示周期级失败，如全部交易所拉取失败。
func (o *Orchestrator) RunCycle(ctx context.Context) (rep *CycleReport, err error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer o.running.Store(false)

	now := o.clock.Now()
	rep = &CycleReport{
		ID:          uuid.NewString(),
		StartedAt:   now,
		Fetched:     make(map[model.Exchange]int),
		FetchErrors: make(map[model.Exchange]string),
	}
	log := o.logger.With(zap.String("cycle_id", rep.ID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("周期 panic: %v", r)
			log.Error("周期异常", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		rep.FinishedAt = o.clock.Now()
		if err != nil {
			rep.Err = err.Error()
		}
		o.cycles.Add(1)
		o.alerts.Add(int64(len(rep.Alerts)))
		o.metrics.RecordCycle(err == nil, rep.FinishedAt.Sub(rep.StartedAt), rep.FinishedAt)
		o.metrics.SetSeries(len(o.store.Keys()))

		o.reportMu.Lock()
		o.last = rep
		o.reportMu.Unlock()
	}()

	log.Info("开始监控周期", zap.Int("symbols", o.TotalSymbols()))

	fetchErr := o.ingest(ctx, now, rep, log)

	res := o.aggregator.Update(o.store, now)
	rep.Alerts = append(rep.Alerts, res.Alerts...)
	rep.ClosedWindows = len(res.Closed)
	for _, a := range res.Alerts {
		o.metrics.RecordAlert(a.Kind.String(), a.Severity.String())
		log.Info("窗口突增",
			zap.String("series", a.SeriesKey()),
			zap.Float64("ratio", a.Window.Ratio),
		)
	}

	o.deliver(ctx, rep, log)
	o.persist(ctx, now, rep, res.Closed, log)

	log.Info("监控周期完成",
		zap.Int("accepted", rep.Accepted),
		zap.Int("rejected", rep.Rejected),
		zap.Int("alerts", len(rep.Alerts)),
		zap.Int("suppressed", rep.Suppressed),
	)
	return rep, fetchErr
}

// ingest 拉取并写入观测，运行 Tick/Average 检测
// 返回: 全部交易所均失败时的合并错误
func (o *Orchestrator) ingest(ctx context.Context, now time.Time, rep *CycleReport, log *zap.Logger) error {
	results := exchange.FetchAll(ctx, o.targets, now)

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			rep.FetchErrors[r.Exchange] = r.Err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", r.Exchange, r.Err))
			o.metrics.RecordFetchFailure(string(r.Exchange))
			log.Warn("交易所拉取失败，本周期跳过", zap.String("exchange", string(r.Exchange)), zap.Error(r.Err))
			continue
		}
		rep.Fetched[r.Exchange] = len(r.Observations)
		log.Debug("交易所拉取完成",
			zap.String("exchange", string(r.Exchange)),
			zap.Int("count", len(r.Observations)),
			zap.Duration("took", r.Duration),
		)
		for _, obs := range r.Observations {
			o.observe(ctx, obs, rep, log)
		}
	}

	if len(results) > 0 && len(errs) == len(results) {
		return fmt.Errorf("全部交易所拉取失败: %w", errors.Join(errs...))
	}
	return nil
}

// observe 写入单条观测并检测
func (o *Orchestrator) observe(ctx context.Context, obs model.Observation, rep *CycleReport, log *zap.Logger) {
	key := obs.SeriesKey()
	preMean := o.store.Mean(key)

	if err := o.store.Append(obs); err != nil {
		rep.Rejected++
		reason := "invalid"
		if errors.Is(err, store.ErrStale) {
			reason = "stale"
		}
		o.metrics.RecordRejected(string(obs.Exchange), reason)
		log.Warn("观测被拒绝", zap.String("series", key), zap.String("reason", reason), zap.Error(err))
		return
	}
	rep.Accepted++
	o.metrics.RecordObservation(string(obs.Exchange))

	candidates := []*model.Alert{
		o.detector.Tick(o.store.All(key), preMean),
		o.detector.Average(obs, preMean),
	}
	for _, a := range candidates {
		if a == nil {
			continue
		}
		if !o.dedup.ShouldEmit(ctx, a) {
			rep.Suppressed++
			o.metrics.RecordSuppressed(a.Kind.String())
			log.Debug("告警处于冷却期", zap.String("series", key), zap.Stringer("kind", a.Kind))
			continue
		}
		rep.Alerts = append(rep.Alerts, *a)
		o.metrics.RecordAlert(a.Kind.String(), a.Severity.String())
		log.Info("持仓量异常",
			zap.String("series", key),
			zap.Stringer("kind", a.Kind),
			zap.Stringer("severity", a.Severity),
			zap.Float64("change_pct", a.PercentageChange),
		)
	}
}

// deliver 逐条通知并投递结构化下游
func (o *Orchestrator) deliver(ctx context.Context, rep *CycleReport, log *zap.Logger) {
	if len(rep.Alerts) == 0 {
		return
	}
	send := func(text string) {
		err := o.notifier.Send(ctx, text)
		switch {
		case err == nil:
		case errors.Is(err, notify.ErrDisabled):
		default:
			rep.DeliveryFailures++
			o.metrics.RecordDeliveryFailure("telegram")
			log.Error("通知发送失败，告警丢失", zap.Error(err))
		}
	}

	for i := range rep.Alerts {
		send(telegram.FormatAlert(rep.Alerts[i]))
	}
	if o.cfg.SendSummary {
		send(telegram.FormatSummary(rep.Alerts, o.TotalSymbols()))
	}

	if err := o.sinks.Publish(ctx, rep.ID, rep.Alerts, log); err != nil {
		rep.DeliveryFailures++
		o.metrics.RecordDeliveryFailure("sink")
	}
}

// persist 清理、保存快照、导出窗口
// 失败时记录日志，周期继续，内存状态保持不变。
func (o *Orchestrator) persist(ctx context.Context, now time.Time, rep *CycleReport, closed []model.Window, log *zap.Logger) {
	if o.cfg.Retention > 0 {
		rep.Trimmed = o.store.Trim(now, o.cfg.Retention)
	}
	if n := o.dedup.Prune(); n > 0 {
		log.Debug("清理过期冷却键", zap.Int("count", n))
	}

	if o.snapshot != nil {
		if err := o.snapshot.Save(o.store.Snapshot()); err != nil {
			rep.PersistErrors = append(rep.PersistErrors, err.Error())
			log.Error("保存快照失败，仅保留内存状态", zap.Error(err))
		}
	}

	for _, sink := range o.windows {
		if err := sink.Write(ctx, closed); err != nil {
			rep.PersistErrors = append(rep.PersistErrors, fmt.Sprintf("%s: %v", sink.Name(), err))
			log.Error("导出窗口失败", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}
