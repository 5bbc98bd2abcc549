// Package detect 实现持仓量异常检测。
// 包含 Tick 检测器（相邻采样比较）与 Average 检测器（与历史均值比较）。
package detect

import (
	"math"

	"open-interest-monitor/internal/core/model"
)

// 告警级别阈值（百分比绝对值）
const (
	// HighSeverityPct >= 50% 为高级别
	HighSeverityPct = 50.0
	// MediumSeverityPct >= 30% 为中级别
	MediumSeverityPct = 30.0
)

// PercentageChange 计算变化百分比
// 公式: (current - reference) / reference × 100；reference 为 0 时返回 0
func PercentageChange(current, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return (current - reference) / reference * 100
}

// SeverityFor 按变化幅度绝对值确定告警级别
// >=50 High，>=30 Medium，其余 Low
func SeverityFor(changePct float64) model.Severity {
	abs := math.Abs(changePct)
	switch {
	case abs >= HighSeverityPct:
		return model.SeverityHigh
	case abs >= MediumSeverityPct:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// Detector Tick/Average 检测器
// 无内部状态，可在同一周期内对同一序列同时运行两种检测。
type Detector struct {
	// thresholdPct 触发阈值（百分比），|变化| >= 阈值即告警
	thresholdPct float64
}

// New 创建检测器
// 参数 thresholdPct: 触发阈值（百分比，如 30 表示 30%）
func New(thresholdPct float64) *Detector {
	return &Detector{thresholdPct: thresholdPct}
}

// Threshold 返回触发阈值
func (d *Detector) Threshold() float64 {
	return d.thresholdPct
}

// Tick 比较序列最新与次新观测
// 参数 series: 时间升序的观测序列，至少 2 条才会检测
// 参数 avg: 展示用的历史均值
// 返回: 触发时返回 Tick 告警，否则返回 nil
func (d *Detector) Tick(series []model.Observation, avg float64) *model.Alert {
	n := len(series)
	if n < 2 {
		return nil
	}
	cur, prev := series[n-1], series[n-2]
	return d.evaluate(cur, prev.OpenInterestValue, avg, model.OriginTick)
}

// Average 比较最新观测与追加前的历史均值
// 均值必须在最新观测写入前计算，告警反映相对既有历史的偏离。
// 参数 cur: 最新观测
// 参数 preMean: 追加前的序列均值，<=0 时不检测
// 返回: 触发时返回 Average 告警，否则返回 nil
func (d *Detector) Average(cur model.Observation, preMean float64) *model.Alert {
	if preMean <= 0 {
		return nil
	}
	return d.evaluate(cur, preMean, preMean, model.OriginAverage)
}

func (d *Detector) evaluate(cur model.Observation, reference, avg float64, origin model.Origin) *model.Alert {
	change := PercentageChange(cur.OpenInterestValue, reference)
	if math.Abs(change) < d.thresholdPct {
		return nil
	}

	dir := model.DirectionSpike
	if change <= 0 {
		dir = model.DirectionDrop
	}
	kind := model.TickKind(dir)
	if origin == model.OriginAverage {
		kind = model.AverageKind(dir)
	}

	return &model.Alert{
		Symbol:           cur.Symbol,
		Exchange:         cur.Exchange,
		CurrentValue:     cur.OpenInterestValue,
		ReferenceValue:   reference,
		PercentageChange: change,
		AverageValue:     avg,
		Timestamp:        cur.Timestamp,
		Kind:             kind,
		Severity:         SeverityFor(change),
	}
}
