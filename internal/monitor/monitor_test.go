package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"open-interest-monitor/internal/core/dedup"
	"open-interest-monitor/internal/core/detect"
	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/core/store"
	"open-interest-monitor/internal/exchange"
	"open-interest-monitor/internal/output/snapshot"
	"open-interest-monitor/internal/util/timeutil"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// scriptFetcher 每次调用返回脚本中的下一个值
type scriptFetcher struct {
	ex     model.Exchange
	values []float64
	calls  int
	err    error
	hook   func()
}

func (f *scriptFetcher) Exchange() model.Exchange { return f.ex }

func (f *scriptFetcher) Fetch(_ context.Context, symbols []string, at time.Time) ([]model.Observation, error) {
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	v := f.values[min(f.calls, len(f.values)-1)]
	f.calls++
	out := make([]model.Observation, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, model.Observation{Symbol: s, Exchange: f.ex, OpenInterestValue: v, Timestamp: at})
	}
	return out, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return n.err
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type failingSnapshot struct{}

func (failingSnapshot) Save(snapshot.Data) error { return errors.New("disk full") }

type memorySink struct {
	windows []model.Window
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(_ context.Context, w []model.Window) error {
	m.windows = append([]model.Window(nil), w...)
	return nil
}

func newOrch(clock *timeutil.ManualClock, n *recordingNotifier, threshold float64, targets ...exchange.Target) *Orchestrator {
	return New(Config{SendSummary: true}, Deps{
		Targets:  targets,
		Store:    store.New(store.DefaultMaxPerSeries),
		Detector: detect.New(threshold),
		Dedup:    dedup.New(nil, dedup.WithClock(clock)),
		Notifier: n,
		Clock:    clock,
	})
}

func kinds(alerts []model.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Kind.String()+"/"+a.Severity.String())
	}
	return out
}

func TestRunCycle_TickAndAverageWithCooldown(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	n := &recordingNotifier{}
	f := &scriptFetcher{ex: model.ExchangeBinance, values: []float64{1_000_000, 1_400_000, 1_960_000}}
	o := newOrch(clock, n, 30, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})
	ctx := context.Background()

	rep, err := o.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Accepted)
	require.Empty(t, rep.Alerts)
	require.Empty(t, n.messages())

	clock.Advance(15 * time.Minute)
	rep, err = o.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"spike/medium", "avg_spike/medium"}, kinds(rep.Alerts))
	require.InDelta(t, 40.0, rep.Alerts[0].PercentageChange, 1e-9)
	// 两条告警 + 一条汇总
	require.Len(t, n.messages(), 3)
	require.Contains(t, n.messages()[2], "OPEN INTEREST MONITORING SUMMARY")

	// 再涨 40%：Tick Medium 处于冷却期；均值 1.2M 偏离 63% 为新的 High 键
	clock.Advance(15 * time.Minute)
	rep, err = o.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"avg_spike/high"}, kinds(rep.Alerts))
	require.Equal(t, 1, rep.Suppressed)

	cycles, alerts := o.Stats()
	require.Equal(t, int64(3), cycles)
	require.Equal(t, int64(3), alerts)
	require.Equal(t, rep, o.LastReport())
}

func TestRunCycle_NoAlertBelowThreshold(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	f := &scriptFetcher{ex: model.ExchangeBybit, values: []float64{1_000_000, 1_400_000}}
	o := newOrch(clock, &recordingNotifier{}, 50, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)
	rep, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Empty(t, rep.Alerts)
}

func TestRunCycle_PartialAndTotalFailure(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	bad := &scriptFetcher{ex: model.ExchangeBinance, err: errors.New("timeout")}
	good := &scriptFetcher{ex: model.ExchangeBybit, values: []float64{5}}
	o := newOrch(clock, &recordingNotifier{}, 30,
		exchange.Target{Fetcher: bad, Symbols: []string{"BTCUSDT"}},
		exchange.Target{Fetcher: good, Symbols: []string{"BTCUSDT", "ETHUSDT"}},
	)

	rep, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Accepted)
	require.Contains(t, rep.FetchErrors[model.ExchangeBinance], "timeout")
	require.Equal(t, 2, rep.Fetched[model.ExchangeBybit])

	o2 := newOrch(clock, &recordingNotifier{}, 30, exchange.Target{Fetcher: bad, Symbols: []string{"BTCUSDT"}})
	rep, err = o2.RunCycle(context.Background())
	require.Error(t, err)
	require.NotEmpty(t, rep.Err)
}

func TestRunCycle_RejectsStaleObservation(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	f := &scriptFetcher{ex: model.ExchangeBinance, values: []float64{1, 2}}
	o := newOrch(clock, &recordingNotifier{}, 30, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	// 时钟未前进，第二次观测时间相同
	rep, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Rejected)
	require.Equal(t, 0, rep.Accepted)
}

func TestRunCycle_WindowSpikeBypassesDedup(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	f := &scriptFetcher{ex: model.ExchangeBybit, values: []float64{2, 102, 102}}
	sink := &memorySink{}
	o := New(Config{}, Deps{
		Targets:  []exchange.Target{{Fetcher: f, Symbols: []string{"SOLUSDT"}}},
		Detector: detect.New(1_000_000),
		Windows:  []WindowSink{sink},
		Clock:    clock,
	})

	var all []model.Alert
	for i := 0; i < 3; i++ {
		rep, err := o.RunCycle(context.Background())
		require.NoError(t, err)
		all = append(all, rep.Alerts...)
		clock.Advance(15 * time.Minute)
	}
	require.Equal(t, []string{"window_spike/high"}, kinds(all))
	require.InDelta(t, 51.0, all[0].Window.Ratio, 1e-9)
	require.Len(t, sink.windows, 2)
}

func TestRunCycle_PersistFailureDoesNotFailCycle(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	f := &scriptFetcher{ex: model.ExchangeBinance, values: []float64{1}}
	o := New(Config{Retention: time.Hour}, Deps{
		Targets:  []exchange.Target{{Fetcher: f, Symbols: []string{"BTCUSDT"}}},
		Snapshot: failingSnapshot{},
		Clock:    clock,
	})
	rep, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.PersistErrors, 1)
	require.Equal(t, 1, o.Store().Len("binance:BTCUSDT"))
}

func TestRunCycle_DeliveryFailureCounted(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	n := &recordingNotifier{err: errors.New("telegram down")}
	f := &scriptFetcher{ex: model.ExchangeBinance, values: []float64{100, 300}}
	o := newOrch(clock, n, 30, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})

	_, _ = o.RunCycle(context.Background())
	clock.Advance(time.Minute)
	rep, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Alerts, 2)
	require.Equal(t, 3, rep.DeliveryFailures)
}

func TestScheduler_GracefulShutdown(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	n := &recordingNotifier{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 周期内收到停止信号，周期仍应完成
	f := &scriptFetcher{ex: model.ExchangeBinance, values: []float64{1}, hook: cancel}
	o := newOrch(clock, n, 30, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})
	s := NewScheduler(SchedulerConfig{Interval: time.Hour, ThresholdPct: 30, NotifyLifecycle: true}, o, n, clock, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("调度器未在取消后退出")
	}

	msgs := n.messages()
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[0], "Monitor Started")
	require.Contains(t, msgs[1], "Monitor Stopped")
	require.Contains(t, msgs[1], "Cycles: 1")
	require.Equal(t, 1, o.Store().Len("binance:BTCUSDT"))
}

func TestScheduler_ReportsCycleError(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	n := &recordingNotifier{}
	f := &scriptFetcher{ex: model.ExchangeBinance, err: errors.New("exchange unreachable")}
	o := newOrch(clock, n, 30, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, o, n, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(n.messages()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	require.NoError(t, s.Run(ctx))

	msgs := n.messages()
	require.Len(t, msgs, 1)
	require.True(t, strings.HasPrefix(msgs[0], "❌ <b>Open Interest Monitor Error</b>"))
	require.Contains(t, msgs[0], "exchange unreachable")
}

func TestScheduler_RunOnce(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	f := &scriptFetcher{ex: model.ExchangeBinance, err: errors.New("down")}
	o := newOrch(clock, &recordingNotifier{}, 30, exchange.Target{Fetcher: f, Symbols: []string{"BTCUSDT"}})
	s := NewScheduler(SchedulerConfig{}, o, nil, clock, nil)
	require.Error(t, s.RunOnce(context.Background()))
}

func TestRunCycle_PrunesExpiredCooldownKeys(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	cooldowns := dedup.NewMemoryStore()
	_, _ = cooldowns.Acquire(context.Background(), "OLDUSDT|spike|low", time.Hour, t0.Add(-2*time.Hour))
	f := &scriptFetcher{ex: model.ExchangeBinance, values: []float64{100}}
	o := New(Config{}, Deps{
		Targets:  []exchange.Target{{Fetcher: f, Symbols: []string{"BTCUSDT"}}},
		Store:    store.New(0),
		Detector: detect.New(30),
		Dedup:    dedup.New(cooldowns, dedup.WithClock(clock)),
		Notifier: &recordingNotifier{},
		Clock:    clock,
	})

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, cooldowns.Len())
}
