// Package timeutil 提供时间相关的工具函数。
// 主要用于可注入时钟、窗口对齐和统一的时间格式。
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock 时钟接口
// 核心组件通过 Clock 获取当前时间，测试时注入 ManualClock。
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟（UTC）
type SystemClock struct{}

// Now 返回当前 UTC 时间
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock 手动推进的时钟，用于测试和回放
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 创建手动时钟
// 参数 start: 初始时间
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now 返回当前设定时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set 设置当前时间
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance 向前推进 d
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// FloorTo 将时间向下对齐到 d 的整数倍（基于 UTC 纪元）
// 例如 d=15m 时 10:14:59 -> 10:00:00，10:15:00 -> 10:15:00。
// 参数 t: 时间点
// 参数 d: 对齐粒度，<=0 时原样返回
func FloorTo(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	return t.UTC().Truncate(d)
}

// FormatISO 格式化为 ISO-8601（RFC3339，UTC，秒精度）
func FormatISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseISO 解析 ISO-8601 时间（兼容纳秒精度）
func ParseISO(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatUptime 将运行时长格式化为 1d 2h 3m 形式
func FormatUptime(d time.Duration) string {
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	d = d.Truncate(time.Minute)
	days := int64(d / (24 * time.Hour))
	hours := int64(d%(24*time.Hour)) / int64(time.Hour)
	mins := int64(d%time.Hour) / int64(time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
