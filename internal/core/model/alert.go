package model

import (
	"fmt"
	"time"
)

// Origin 告警来源（检测器类型）
type Origin uint8

const (
	// OriginTick 相邻两次采样比较
	OriginTick Origin = iota + 1
	// OriginAverage 与历史均值比较
	OriginAverage
	// OriginWindow 15 分钟窗口间比较
	OriginWindow
)

// Direction 变化方向
type Direction uint8

const (
	// DirectionSpike 上升
	DirectionSpike Direction = iota + 1
	// DirectionDrop 下降
	DirectionDrop
)

// Kind 告警类型（封闭枚举）
// 合法取值: Tick{Spike|Drop}、Average{Spike|Drop}、WindowSpike。
// 只能通过 TickKind / AverageKind / WindowSpikeKind 构造。
type Kind struct {
	origin    Origin
	direction Direction
}

// TickKind 构造 Tick 告警类型
func TickKind(d Direction) Kind { return Kind{origin: OriginTick, direction: d} }

// AverageKind 构造 Average 告警类型
func AverageKind(d Direction) Kind { return Kind{origin: OriginAverage, direction: d} }

// WindowSpikeKind 构造 WindowSpike 告警类型
func WindowSpikeKind() Kind { return Kind{origin: OriginWindow, direction: DirectionSpike} }

// Origin 返回告警来源
func (k Kind) Origin() Origin { return k.origin }

// Direction 返回变化方向（WindowSpike 恒为 Spike）
func (k Kind) Direction() Direction { return k.direction }

// IsZero 是否为零值
func (k Kind) IsZero() bool { return k.origin == 0 }

// String 返回告警类型的稳定文本表示
// spike / drop / avg_spike / avg_drop / window_spike
func (k Kind) String() string {
	switch k.origin {
	case OriginTick:
		return k.dirString()
	case OriginAverage:
		return "avg_" + k.dirString()
	case OriginWindow:
		return "window_spike"
	}
	return "unknown"
}

func (k Kind) dirString() string {
	if k.direction == DirectionDrop {
		return "drop"
	}
	return "spike"
}

// ParseKind 解析告警类型文本
func ParseKind(s string) (Kind, error) {
	switch s {
	case "spike":
		return TickKind(DirectionSpike), nil
	case "drop":
		return TickKind(DirectionDrop), nil
	case "avg_spike":
		return AverageKind(DirectionSpike), nil
	case "avg_drop":
		return AverageKind(DirectionDrop), nil
	case "window_spike":
		return WindowSpikeKind(), nil
	}
	return Kind{}, fmt.Errorf("未知告警类型: %q", s)
}

// MarshalText 实现 encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, fmt.Errorf("告警类型为空")
	}
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Severity 告警级别，High > Medium > Low
type Severity uint8

const (
	// SeverityLow 低
	SeverityLow Severity = iota + 1
	// SeverityMedium 中
	SeverityMedium
	// SeverityHigh 高
	SeverityHigh
)

// String 返回级别文本
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return "unknown"
}

// MarshalText 实现 encoding.TextMarshaler
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("未知告警级别: %q", b)
	}
	return nil
}

// Alert 检测器产生的告警
// 创建后不可修改；不作为一等实体持久化。
type Alert struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Exchange 交易所
	Exchange Exchange `json:"exchange"`
	// CurrentValue 当前持仓价值
	CurrentValue float64 `json:"current_value"`
	// ReferenceValue 参照值：上一次采样值或历史均值（WindowSpike 为上一窗口均值）
	ReferenceValue float64 `json:"reference_value"`
	// PercentageChange 变化百分比（带符号）
	PercentageChange float64 `json:"percentage_change"`
	// AverageValue 告警时的历史均值（仅用于展示）
	AverageValue float64 `json:"average_value"`
	// Timestamp 触发告警的采样时间
	Timestamp time.Time `json:"timestamp"`
	// Kind 告警类型
	Kind Kind `json:"kind"`
	// Severity 告警级别
	Severity Severity `json:"severity"`
	// Window 窗口告警详情，仅 WindowSpike 非空
	Window *WindowSpike `json:"window,omitempty"`
}

// SeriesKey 返回告警所属序列 key
func (a *Alert) SeriesKey() string {
	return SeriesKey(a.Exchange, a.Symbol)
}

// WindowSpike 窗口间突增详情
type WindowSpike struct {
	// Previous 上一个已关闭窗口
	Previous Window `json:"previous"`
	// Current 新关闭的窗口
	Current Window `json:"current"`
	// Ratio 当前窗口均值 / 上一窗口均值
	Ratio float64 `json:"ratio"`
}
