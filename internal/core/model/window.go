package model

import "time"

// WindowSize 聚合窗口长度，窗口按 UTC 15 分钟整点对齐
const WindowSize = 15 * time.Minute

// Window 单序列的对齐时间窗口 [Start, End)
// 派生数据，不单独持久化；导出时作为一行记录。
type Window struct {
	// Key 序列 key（exchange:SYMBOL）
	Key string `json:"key"`
	// Start 窗口起点（含）
	Start time.Time `json:"start"`
	// End 窗口终点（不含）
	End time.Time `json:"end"`
	// Average 窗口内 OpenInterestValue 算术平均
	Average float64 `json:"average"`
	// Count 窗口内样本数
	Count int `json:"count"`
}

// Contains 判断时间点是否落在窗口内
func (w *Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ClosedAt 判断窗口在 now 时刻是否已关闭
func (w *Window) ClosedAt(now time.Time) bool {
	return !now.Before(w.End)
}
