// Package numfmt 提供交易所数值字符串解析与展示格式化。
// 交易所 REST/WS 返回的价格、持仓量均为十进制字符串，统一经 decimal 解析，
// 避免 "1e-8" 之类的科学计数法或超长小数带来的精度问题。
package numfmt

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFloat 解析十进制字符串为 float64
// 空字符串视为错误。
// 参数 s: 待解析的字符串，如 "12345.67"
// 返回: 解析后的浮点数和可能的错误
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("空数值字符串")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("解析数值 %q 失败: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// ParseOptional 解析可选字段，空字符串或非法值返回 0
// 用于成交量、资金费率等非关键字段。
func ParseOptional(s string) float64 {
	v, err := ParseFloat(s)
	if err != nil {
		return 0
	}
	return v
}

// MulString 计算两个十进制字符串的乘积
// 用于 持仓量 × 标记价格，先在 decimal 域相乘再转换为 float64。
func MulString(a, b string) (float64, error) {
	da, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return 0, fmt.Errorf("解析数值 %q 失败: %w", a, err)
	}
	db, err := decimal.NewFromString(strings.TrimSpace(b))
	if err != nil {
		return 0, fmt.Errorf("解析数值 %q 失败: %w", b, err)
	}
	return da.Mul(db).InexactFloat64(), nil
}

// Compact 将大数格式化为 K/M/B 形式，保留两位小数
// 例如 1_234_567 -> "1.23M"
func Compact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", v/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.2fK", v/1_000)
	}
	return fmt.Sprintf("%.2f", v)
}

// USD 格式化为带千分位的美元整数，如 $1,234,567
func USD(v float64) string {
	d := decimal.NewFromFloat(v).Round(0)
	s := d.Abs().String()

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	pre := len(s) % 3
	if pre == 0 {
		pre = 3
	}
	b.WriteString(s[:pre])
	for i := pre; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
