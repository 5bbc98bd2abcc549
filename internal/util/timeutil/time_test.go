// Package timeutil 时间工具测试
package timeutil

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFloorTo_QuarterHour(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{base.Add(2 * time.Minute), base},
		{base.Add(14*time.Minute + 59*time.Second), base},
		{base.Add(15 * time.Minute), base.Add(15 * time.Minute)},
		{base.Add(16 * time.Minute), base.Add(15 * time.Minute)},
	}
	for _, c := range cases {
		if got := FloorTo(c.in, 15*time.Minute); !got.Equal(c.want) {
			t.Fatalf("FloorTo(%s)=%s, want %s", c.in, got, c.want)
		}
	}
}

func TestFloorTo_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("对齐结果不晚于原时间且相差小于粒度", prop.ForAll(
		func(sec int64) bool {
			ts := time.Unix(sec, 0).UTC()
			f := FloorTo(ts, 15*time.Minute)
			if f.After(ts) {
				return false
			}
			if ts.Sub(f) >= 15*time.Minute {
				return false
			}
			return f.Minute()%15 == 0 && f.Second() == 0
		},
		gen.Int64Range(1_600_000_000, 1_900_000_000),
	))

	properties.TestingRun(t)
}

func TestManualClock_Advance(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Fatalf("Now=%s, want %s", got, start.Add(time.Hour))
	}
}

func TestFormatUptime(t *testing.T) {
	cases := map[time.Duration]string{
		30 * time.Second:                           "30s",
		5 * time.Minute:                            "5m",
		2*time.Hour + 3*time.Minute:                "2h 3m",
		26*time.Hour + 1*time.Minute + time.Second: "1d 2h 1m",
	}
	for d, want := range cases {
		if got := FormatUptime(d); got != want {
			t.Fatalf("FormatUptime(%s)=%s, want %s", d, got, want)
		}
	}
}

func TestParseISO_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	got, err := ParseISO(FormatISO(ts))
	if err != nil {
		t.Fatalf("ParseISO 失败: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("got=%s, want %s", got, ts)
	}
}
