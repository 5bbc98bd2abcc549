// Package window 窗口聚合测试
package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/core/store"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func sample(at time.Time, value float64) model.Observation {
	return model.Observation{
		Symbol:            "SOLUSDT",
		Exchange:          model.ExchangeBybit,
		OpenInterestValue: value,
		Timestamp:         at,
	}
}

const key = "bybit:SOLUSDT"

func TestBucket_QuarterHourAlignment(t *testing.T) {
	series := []model.Observation{
		sample(at(10, 2), 100),
		sample(at(10, 9), 200),
		sample(at(10, 14), 600),
		sample(at(10, 16), 50),
	}
	windows := Bucket(key, series)
	require.Len(t, windows, 2)

	first := windows[0]
	require.Equal(t, at(10, 0), first.Start)
	require.Equal(t, at(10, 15), first.End)
	require.Equal(t, 3, first.Count)
	require.InDelta(t, 300.0, first.Average, 1e-9)
	require.Equal(t, key, first.Key)

	second := windows[1]
	require.Equal(t, at(10, 15), second.Start)
	require.Equal(t, at(10, 30), second.End)
	require.Equal(t, 1, second.Count)
	require.Equal(t, 50.0, second.Average)

	require.Empty(t, Bucket(key, nil))
}

func TestAlign_Boundaries(t *testing.T) {
	start, end := Align(at(10, 15))
	require.Equal(t, at(10, 15), start)
	require.Equal(t, at(10, 30), end)

	start, _ = Align(at(10, 14).Add(59*time.Second + 999*time.Millisecond))
	require.Equal(t, at(10, 0), start)
}

// feed 每个窗口写入一个样本，并在每个样本后以下一窗口起点为 now 执行聚合
func feed(t *testing.T, agg *Aggregator, st *store.Store, values ...float64) []model.Alert {
	t.Helper()
	var alerts []model.Alert
	for i, v := range values {
		ts := at(10, 0).Add(time.Duration(i) * Size)
		require.NoError(t, st.Append(sample(ts, v)))
		res := agg.Update(st, ts.Add(Size))
		alerts = append(alerts, res.Alerts...)
	}
	return alerts
}

func TestAggregator_SpikeRequiresRatioAbove50(t *testing.T) {
	// 比例恰好 50 不触发
	agg := NewAggregator(0)
	require.Empty(t, feed(t, agg, store.New(0), 2, 100))

	// 比例 51 触发
	agg = NewAggregator(0)
	alerts := feed(t, agg, store.New(0), 2, 102)
	require.Len(t, alerts, 1)

	a := alerts[0]
	require.Equal(t, model.WindowSpikeKind(), a.Kind)
	require.Equal(t, model.SeverityHigh, a.Severity)
	require.Equal(t, "SOLUSDT", a.Symbol)
	require.Equal(t, model.ExchangeBybit, a.Exchange)
	require.Equal(t, 102.0, a.CurrentValue)
	require.Equal(t, 2.0, a.ReferenceValue)
	require.NotNil(t, a.Window)
	require.InDelta(t, 51.0, a.Window.Ratio, 1e-9)
	require.Equal(t, at(10, 0), a.Window.Previous.Start)
	require.Equal(t, at(10, 15), a.Window.Current.Start)
	require.Equal(t, at(10, 30), a.Window.Current.End)
}

func TestAggregator_ZeroPreviousAverageNeverFires(t *testing.T) {
	agg := NewAggregator(0)
	require.Empty(t, feed(t, agg, store.New(0), 0, 1_000_000, 1))
}

func TestAggregator_NoRepeatForSameWindow(t *testing.T) {
	agg := NewAggregator(0)
	st := store.New(0)
	require.Len(t, feed(t, agg, st, 1, 100), 1)

	// 没有新窗口关闭时重复聚合不会再次告警
	now := at(10, 40)
	for i := 0; i < 3; i++ {
		res := agg.Update(st, now)
		require.Empty(t, res.Alerts)
		require.Len(t, res.Closed, 2)
	}
	last, ok := agg.LastClosed(key)
	require.True(t, ok)
	require.Equal(t, at(10, 30), last.End)
}

func TestAggregator_CurrentAndClosed(t *testing.T) {
	agg := NewAggregator(0)
	st := store.New(0)
	require.NoError(t, st.Append(sample(at(10, 2), 10)))
	require.NoError(t, st.Append(sample(at(10, 16), 20)))
	require.NoError(t, st.Append(sample(at(10, 20), 40)))

	res := agg.Update(st, at(10, 21))
	require.Len(t, res.Closed, 1)
	require.Equal(t, at(10, 0), res.Closed[0].Start)
	require.Len(t, res.Current, 1)
	require.Equal(t, at(10, 15), res.Current[0].Start)
	require.InDelta(t, 30.0, res.Current[0].Average, 1e-9)
	require.Empty(t, res.Alerts)

	// 首个已关闭窗口只记录，不告警
	_, ok := agg.LastClosed(key)
	require.True(t, ok)
}

func TestAggregator_SkipsPartialOldestWindow(t *testing.T) {
	agg := NewAggregator(0)
	st := store.New(2)
	require.NoError(t, st.Append(sample(at(10, 1), 10)))
	require.NoError(t, st.Append(sample(at(10, 5), 10)))
	require.NoError(t, st.Append(sample(at(10, 16), 20)))

	// [10:00,10:15) 已丢失 10:01 的样本，不参与导出
	res := agg.Update(st, at(10, 31))
	require.Len(t, res.Closed, 1)
	require.Equal(t, at(10, 15), res.Closed[0].Start)
}

func TestAggregator_RestoredTrimmedSeriesSkipsPartialWindow(t *testing.T) {
	st := store.New(0)
	require.NoError(t, st.Append(sample(at(10, 1), 10)))
	require.NoError(t, st.Append(sample(at(10, 5), 10)))
	require.NoError(t, st.Append(sample(at(10, 10), 1000)))
	require.NoError(t, st.Append(sample(at(10, 16), 20)))
	// 保留期裁掉 10:01 与 10:05，[10:00,10:15) 只剩 10:10
	require.Equal(t, 2, st.Trim(at(10, 36), 30*time.Minute))

	live := NewAggregator(0).Update(st, at(10, 31))
	require.Len(t, live.Closed, 1)
	require.Equal(t, at(10, 15), live.Closed[0].Start)

	restored := store.New(0)
	loaded, skipped := restored.Restore(st.Snapshot())
	require.Equal(t, 2, loaded)
	require.Equal(t, 0, skipped)

	res := NewAggregator(0).Update(restored, at(10, 31))
	require.Len(t, res.Closed, 1)
	require.Equal(t, at(10, 15), res.Closed[0].Start)
	require.Equal(t, 20.0, res.Closed[0].Average)
}
