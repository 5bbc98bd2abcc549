// Package window 实现 15 分钟对齐窗口聚合与窗口间突增检测。
package window

import (
	"time"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/timeutil"
)

const (
	// Size 窗口长度
	Size = model.WindowSize
	// DefaultSpikeRatio 窗口突增默认比例阈值（严格大于才触发）
	DefaultSpikeRatio = 50.0
)

// Align 返回时间点所在窗口的 [start, end)
// start 为不大于 t 的最大 15 分钟整点（UTC）
func Align(t time.Time) (start, end time.Time) {
	start = timeutil.FloorTo(t, Size)
	return start, start.Add(Size)
}

// Bucket 将一条序列的观测按窗口分组
// 参数 key: 序列 key，写入每个窗口
// 参数 series: 时间升序的观测
// 返回: 按 Start 升序的窗口列表
func Bucket(key string, series []model.Observation) []model.Window {
	if len(series) == 0 {
		return nil
	}

	var (
		out []model.Window
		sum float64
		cur model.Window
	)
	flush := func() {
		if cur.Count == 0 {
			return
		}
		cur.Average = sum / float64(cur.Count)
		out = append(out, cur)
	}

	for i := range series {
		o := &series[i]
		if cur.Count > 0 && cur.Contains(o.Timestamp) {
			sum += o.OpenInterestValue
			cur.Count++
			continue
		}
		flush()
		start, end := Align(o.Timestamp)
		cur = model.Window{Key: key, Start: start, End: end, Count: 1}
		sum = o.OpenInterestValue
	}
	flush()
	return out
}
