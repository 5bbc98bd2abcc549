package telegram

import (
	"fmt"
	"html"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/numfmt"
	"open-interest-monitor/internal/util/timeutil"
)

// 单个交易所在汇总消息中最多展示的告警数
const summaryPerExchange = 5

const timeLayout = "2006-01-02 15:04:05 UTC"

// FormatAlert 格式化单条告警
func FormatAlert(a model.Alert) string {
	switch a.Kind.Origin() {
	case model.OriginWindow:
		return formatWindowSpike(a)
	case model.OriginAverage:
		return formatChange(a, "OPEN INTEREST AVERAGE DEVIATION ALERT", "AVERAGE "+directionLabel(a.Kind.Direction()), "Avg OI")
	default:
		return formatChange(a, "OPEN INTEREST ALERT", directionLabel(a.Kind.Direction()), "Previous OI")
	}
}

func directionLabel(d model.Direction) string {
	if d == model.DirectionDrop {
		return "DROP"
	}
	return "SPIKE"
}

// alertEmoji 按方向与级别选择图标
func alertEmoji(d model.Direction, s model.Severity) string {
	if d == model.DirectionDrop {
		switch s {
		case model.SeverityHigh:
			return "🔻"
		case model.SeverityMedium:
			return "📉"
		}
		return "🔽"
	}
	switch s {
	case model.SeverityHigh:
		return "🚨"
	case model.SeverityMedium:
		return "⚠️"
	}
	return "📈"
}

func formatChange(a model.Alert, title, typeLabel, refLabel string) string {
	emoji := alertEmoji(a.Kind.Direction(), a.Severity)

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> %s\n\n", emoji, title, emoji)
	fmt.Fprintf(&b, "<b>Token:</b> %s\n", html.EscapeString(a.Symbol))
	fmt.Fprintf(&b, "<b>Exchange:</b> %s\n", strings.ToUpper(string(a.Exchange)))
	fmt.Fprintf(&b, "<b>Change:</b> %+.2f%%\n", a.PercentageChange)
	fmt.Fprintf(&b, "<b>Current OI:</b> %s\n", numfmt.USD(a.CurrentValue))
	fmt.Fprintf(&b, "<b>%s:</b> %s\n", refLabel, numfmt.USD(a.ReferenceValue))
	fmt.Fprintf(&b, "<b>Avg OI:</b> %s\n", numfmt.USD(a.AverageValue))
	fmt.Fprintf(&b, "<b>Type:</b> %s\n", typeLabel)
	fmt.Fprintf(&b, "<b>Severity:</b> %s\n", strings.ToUpper(a.Severity.String()))
	fmt.Fprintf(&b, "<b>Time:</b> %s\n\n", a.Timestamp.UTC().Format(timeLayout))

	switch abs := math.Abs(a.PercentageChange); {
	case abs > 50:
		b.WriteString("🔥 <b>EXTREME VOLATILITY DETECTED!</b> 🔥\n")
	case abs > 30:
		b.WriteString("⚡ <b>HIGH VOLATILITY DETECTED!</b> ⚡\n")
	}
	return b.String()
}

func formatWindowSpike(a model.Alert) string {
	var b strings.Builder
	b.WriteString("🚀 <b>OPEN INTEREST WINDOW SPIKE</b> 🚀\n\n")
	fmt.Fprintf(&b, "<b>Token:</b> %s\n", html.EscapeString(a.Symbol))
	fmt.Fprintf(&b, "<b>Exchange:</b> %s\n", strings.ToUpper(string(a.Exchange)))
	if w := a.Window; w != nil {
		fmt.Fprintf(&b, "<b>Previous Window:</b> %s avg %s (%d samples)\n",
			windowRange(w.Previous), numfmt.USD(w.Previous.Average), w.Previous.Count)
		fmt.Fprintf(&b, "<b>Current Window:</b> %s avg %s (%d samples)\n",
			windowRange(w.Current), numfmt.USD(w.Current.Average), w.Current.Count)
		fmt.Fprintf(&b, "<b>Ratio:</b> %.2fx\n", w.Ratio)
	} else {
		fmt.Fprintf(&b, "<b>Previous Avg:</b> %s\n", numfmt.USD(a.ReferenceValue))
		fmt.Fprintf(&b, "<b>Current Avg:</b> %s\n", numfmt.USD(a.CurrentValue))
	}
	fmt.Fprintf(&b, "<b>Change:</b> %+.2f%%\n", a.PercentageChange)
	fmt.Fprintf(&b, "<b>Time:</b> %s\n", a.Timestamp.UTC().Format(timeLayout))
	return b.String()
}

func windowRange(w model.Window) string {
	return w.Start.UTC().Format("01-02 15:04") + "-" + w.End.UTC().Format("15:04") + " UTC"
}

// FormatSummary 格式化周期汇总消息
// 告警按交易所分组，每个交易所最多展示 5 条。
func FormatSummary(alerts []model.Alert, totalSymbols int) string {
	if len(alerts) == 0 {
		return "✅ <b>Open Interest Monitor</b>\n\nNo significant changes detected."
	}

	var b strings.Builder
	b.WriteString("📊 <b>OPEN INTEREST MONITORING SUMMARY</b>\n\n")
	fmt.Fprintf(&b, "🔍 Monitored Symbols: %d\n", totalSymbols)
	fmt.Fprintf(&b, "🚨 Alerts Generated: %d\n\n", len(alerts))

	groups := lo.GroupBy(alerts, func(a model.Alert) model.Exchange { return a.Exchange })
	exchanges := lo.Keys(groups)
	slices.Sort(exchanges)

	for _, ex := range exchanges {
		fmt.Fprintf(&b, "<b>%s</b>:\n", strings.ToUpper(string(ex)))
		list := groups[ex]
		if len(list) > summaryPerExchange {
			list = list[:summaryPerExchange]
		}
		for _, a := range list {
			emoji := "⚠️"
			if math.Abs(a.PercentageChange) > 30 {
				emoji = "🚨"
			}
			fmt.Fprintf(&b, "  %s %s [%s]: %+.1f%% (OI: $%s, Avg: $%s)\n",
				emoji, html.EscapeString(a.Symbol), a.Kind, a.PercentageChange,
				numfmt.Compact(a.CurrentValue), numfmt.Compact(a.AverageValue))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// StartupInfo 启动消息内容
type StartupInfo struct {
	// Symbols 每个交易所监控的交易对数
	Symbols map[model.Exchange]int
	// Interval 周期间隔
	Interval time.Duration
	// ThresholdPct 告警阈值
	ThresholdPct float64
	// StartedAt 启动时间
	StartedAt time.Time
}

// FormatStartup 格式化启动消息
func FormatStartup(info StartupInfo) string {
	var b strings.Builder
	b.WriteString("🚀 <b>Open Interest Monitor Started</b>\n\n")

	exchanges := lo.Keys(info.Symbols)
	slices.Sort(exchanges)
	total := 0
	for _, ex := range exchanges {
		n := info.Symbols[ex]
		total += n
		fmt.Fprintf(&b, "📊 %s: %d symbols\n", strings.ToUpper(string(ex)), n)
	}
	fmt.Fprintf(&b, "🔍 Total: %d\n", total)
	fmt.Fprintf(&b, "⏰ Interval: %s\n", timeutil.FormatUptime(info.Interval))
	fmt.Fprintf(&b, "🎯 Threshold: %.1f%%\n", info.ThresholdPct)
	fmt.Fprintf(&b, "📅 Started on: %s\n", info.StartedAt.UTC().Format(timeLayout))
	return b.String()
}

// ShutdownInfo 停止消息内容
type ShutdownInfo struct {
	// Uptime 运行时长
	Uptime time.Duration
	// Cycles 已完成周期数
	Cycles int64
	// Alerts 已发出告警数
	Alerts int64
	// StoppedAt 停止时间
	StoppedAt time.Time
}

// FormatShutdown 格式化停止消息
func FormatShutdown(info ShutdownInfo) string {
	var b strings.Builder
	b.WriteString("🛑 <b>Open Interest Monitor Stopped</b>\n\n")
	fmt.Fprintf(&b, "📅 Stopped on: %s\n", info.StoppedAt.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "⏱️ Total uptime: %s\n", timeutil.FormatUptime(info.Uptime))
	fmt.Fprintf(&b, "🔄 Cycles: %d\n", info.Cycles)
	fmt.Fprintf(&b, "🚨 Alerts: %d\n", info.Alerts)
	return b.String()
}

// FormatError 格式化周期错误消息
func FormatError(err error) string {
	return "❌ <b>Open Interest Monitor Error</b>\n\n" + html.EscapeString(err.Error())
}
