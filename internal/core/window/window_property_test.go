// Package window 窗口属性测试
package window

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"open-interest-monitor/internal/core/model"
)

func TestBucket_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("窗口起点为 15 分钟整点且包含样本时间", prop.ForAll(
		func(sec int64) bool {
			ts := day.Add(time.Duration(sec) * time.Second)
			start, end := Align(ts)
			return start.Minute()%15 == 0 &&
				start.Second() == 0 &&
				!ts.Before(start) && ts.Before(end) &&
				end.Sub(start) == Size
		},
		gen.Int64Range(0, 7*24*3600),
	))

	properties.Property("分桶计数之和等于样本数，窗口互不重叠", prop.ForAll(
		func(gaps []int64) bool {
			series := make([]model.Observation, 0, len(gaps))
			ts := at(10, 0)
			for _, g := range gaps {
				ts = ts.Add(time.Duration(g+1) * time.Second)
				series = append(series, sample(ts, float64(g)))
			}
			windows := Bucket(key, series)
			total := 0
			for i, w := range windows {
				total += w.Count
				if i > 0 && w.Start.Before(windows[i-1].End) {
					return false
				}
			}
			return total == len(series)
		},
		gen.SliceOf(gen.Int64Range(0, 1800)),
	))

	properties.TestingRun(t)
}
