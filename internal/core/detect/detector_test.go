// Package detect 检测器测试
package detect

import (
	"math"
	"testing"
	"time"

	"open-interest-monitor/internal/core/model"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func pair(prev, cur float64) []model.Observation {
	return []model.Observation{
		{Symbol: "BTCUSDT", Exchange: model.ExchangeBinance, OpenInterestValue: prev, Timestamp: t0},
		{Symbol: "BTCUSDT", Exchange: model.ExchangeBinance, OpenInterestValue: cur, Timestamp: t0.Add(15 * time.Minute)},
	}
}

func TestTick_SpikeMediumAt30(t *testing.T) {
	d := New(30)
	a := d.Tick(pair(1_000_000, 1_400_000), 0)
	if a == nil {
		t.Fatalf("40%% 变化在 30%% 阈值下应触发告警")
	}
	if a.Kind != model.TickKind(model.DirectionSpike) {
		t.Fatalf("Kind=%s, want spike", a.Kind)
	}
	if math.Abs(a.PercentageChange-40.0) > 1e-9 {
		t.Fatalf("PercentageChange=%f, want 40.0", a.PercentageChange)
	}
	if a.Severity != model.SeverityMedium {
		t.Fatalf("Severity=%s, want medium", a.Severity)
	}
	if a.ReferenceValue != 1_000_000 || a.CurrentValue != 1_400_000 {
		t.Fatalf("Reference=%f Current=%f", a.ReferenceValue, a.CurrentValue)
	}
}

func TestTick_NoAlertAt50(t *testing.T) {
	d := New(50)
	if a := d.Tick(pair(1_000_000, 1_400_000), 0); a != nil {
		t.Fatalf("40%% 变化在 50%% 阈值下不应触发，got %s", a.Kind)
	}
}

func TestTick_Drop(t *testing.T) {
	d := New(30)
	a := d.Tick(pair(1_000_000, 400_000), 0)
	if a == nil {
		t.Fatalf("-60%% 变化应触发告警")
	}
	if a.Kind != model.TickKind(model.DirectionDrop) {
		t.Fatalf("Kind=%s, want drop", a.Kind)
	}
	if a.Severity != model.SeverityHigh {
		t.Fatalf("Severity=%s, want high", a.Severity)
	}
}

func TestTick_RequiresTwoObservations(t *testing.T) {
	d := New(1)
	if a := d.Tick(pair(1, 100)[:1], 0); a != nil {
		t.Fatalf("单条观测不应触发")
	}
	if a := d.Tick(nil, 0); a != nil {
		t.Fatalf("空序列不应触发")
	}
}

func TestTick_ZeroReference(t *testing.T) {
	d := New(0.0001)
	if a := d.Tick(pair(0, 1_000_000), 0); a != nil {
		t.Fatalf("参照值为 0 时变化定义为 0，不应触发")
	}
}

func TestAverage_UsesPreUpdateMean(t *testing.T) {
	d := New(30)
	cur := model.Observation{Symbol: "ETHUSDT", Exchange: model.ExchangeBybit, OpenInterestValue: 200, Timestamp: t0}

	// 历史均值 100，新值 200：+100%
	a := d.Average(cur, 100)
	if a == nil {
		t.Fatalf("偏离均值 100%% 应触发")
	}
	if a.Kind != model.AverageKind(model.DirectionSpike) {
		t.Fatalf("Kind=%s, want avg_spike", a.Kind)
	}
	if a.ReferenceValue != 100 || a.AverageValue != 100 {
		t.Fatalf("Reference=%f Average=%f, want 100", a.ReferenceValue, a.AverageValue)
	}
	if a.Severity != model.SeverityHigh {
		t.Fatalf("Severity=%s, want high", a.Severity)
	}

	if a := d.Average(cur, 0); a != nil {
		t.Fatalf("均值为 0 时不应检测")
	}
	if a := d.Average(cur, 180); a != nil {
		t.Fatalf("偏离 11%% 不应触发")
	}
}

func TestSeverityFor_Boundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want model.Severity
	}{
		{50, model.SeverityHigh},
		{-50, model.SeverityHigh},
		{49.99, model.SeverityMedium},
		{30, model.SeverityMedium},
		{-30, model.SeverityMedium},
		{29.99, model.SeverityLow},
		{0, model.SeverityLow},
	}
	for _, c := range cases {
		if got := SeverityFor(c.pct); got != c.want {
			t.Fatalf("SeverityFor(%f)=%s, want %s", c.pct, got, c.want)
		}
	}
}
