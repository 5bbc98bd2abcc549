package window

import (
	"time"

	"open-interest-monitor/internal/core/model"
)

// Source 聚合器读取的观测来源（由 store.Store 实现）
type Source interface {
	Keys() []string
	All(key string) []model.Observation
	Truncated(key string) bool
}

// Result 单次聚合结果
type Result struct {
	// Alerts 新产生的窗口突增告警
	Alerts []model.Alert
	// Current 每条序列当前（可能未关闭）的窗口
	Current []model.Window
	// Closed 全部已关闭的完整窗口，按 (Key, Start) 升序，用于导出
	Closed []model.Window
}

// Aggregator 窗口聚合器
// 每条序列记录最近一次见到的已关闭窗口，只有出现更新的已关闭窗口时才比较，
// 因此同一对窗口不会重复告警。
type Aggregator struct {
	// ratio 突增比例阈值
	ratio float64
	// lastClosed 每条序列最近见到的已关闭窗口
	lastClosed map[string]model.Window
}

// NewAggregator 创建窗口聚合器
// 参数 ratio: 比例阈值，<=0 时使用 DefaultSpikeRatio
func NewAggregator(ratio float64) *Aggregator {
	if ratio <= 0 {
		ratio = DefaultSpikeRatio
	}
	return &Aggregator{
		ratio:      ratio,
		lastClosed: make(map[string]model.Window),
	}
}

// LastClosed 返回序列最近记录的已关闭窗口
func (a *Aggregator) LastClosed(key string) (model.Window, bool) {
	w, ok := a.lastClosed[key]
	return w, ok
}

// Update 基于最新观测日志执行一次聚合
// 参数 src: 观测来源
// 参数 now: 当前时间，End <= now 的窗口视为已关闭
func (a *Aggregator) Update(src Source, now time.Time) Result {
	var res Result
	for _, key := range src.Keys() {
		windows := Bucket(key, src.All(key))
		// 序列被截断过时，最早的窗口可能缺少样本
		if src.Truncated(key) && len(windows) > 0 {
			windows = windows[1:]
		}
		if len(windows) == 0 {
			continue
		}

		closed := windows
		if last := windows[len(windows)-1]; !last.ClosedAt(now) {
			res.Current = append(res.Current, last)
			closed = windows[:len(windows)-1]
		}
		res.Closed = append(res.Closed, closed...)
		if len(closed) == 0 {
			continue
		}

		newest := closed[len(closed)-1]
		prev, seen := a.lastClosed[key]
		if seen && !newest.End.After(prev.End) {
			// 同一窗口重算时刷新均值，但不比较
			if newest.End.Equal(prev.End) {
				a.lastClosed[key] = newest
			}
			continue
		}
		a.lastClosed[key] = newest

		if !seen {
			continue
		}
		if alert := a.compare(key, prev, newest, now); alert != nil {
			res.Alerts = append(res.Alerts, *alert)
		}
	}
	return res
}

func (a *Aggregator) compare(key string, prev, cur model.Window, now time.Time) *model.Alert {
	if prev.Average <= 0 {
		return nil
	}
	ratio := cur.Average / prev.Average
	if ratio <= a.ratio {
		return nil
	}

	ex, symbol, _ := model.SplitSeriesKey(key)
	return &model.Alert{
		Symbol:           symbol,
		Exchange:         ex,
		CurrentValue:     cur.Average,
		ReferenceValue:   prev.Average,
		PercentageChange: (cur.Average - prev.Average) / prev.Average * 100,
		AverageValue:     prev.Average,
		Timestamp:        now,
		Kind:             model.WindowSpikeKind(),
		Severity:         model.SeverityHigh,
		Window: &model.WindowSpike{
			Previous: prev,
			Current:  cur,
			Ratio:    ratio,
		},
	}
}
