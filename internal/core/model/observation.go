// Package model 定义监控器中使用的核心数据结构。
// 包含持仓量观测、告警、时间窗口等核心类型。
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Exchange 交易所标识
type Exchange string

const (
	// ExchangeBinance Binance U 本位永续
	ExchangeBinance Exchange = "binance"
	// ExchangeBybit Bybit linear 永续
	ExchangeBybit Exchange = "bybit"
)

// Exchanges 支持的交易所列表（固定顺序，用于日志与汇总输出）
var Exchanges = []Exchange{ExchangeBinance, ExchangeBybit}

// Valid 判断交易所标识是否受支持
func (e Exchange) Valid() bool {
	return e == ExchangeBinance || e == ExchangeBybit
}

// ParseExchange 解析交易所标识（大小写不敏感）
func ParseExchange(s string) (Exchange, error) {
	ex := Exchange(strings.ToLower(strings.TrimSpace(s)))
	if !ex.Valid() {
		return "", fmt.Errorf("未知交易所: %q", s)
	}
	return ex, nil
}

// Observation 单次持仓量采样
// 创建后不可修改；所有比较均基于 OpenInterestValue。
type Observation struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// Exchange 交易所
	Exchange Exchange `json:"exchange"`
	// OpenInterest 持仓量（合约张数/币数）
	OpenInterest float64 `json:"open_interest"`
	// OpenInterestValue 持仓名义价值（USD）= OpenInterest × 标记价格
	OpenInterestValue float64 `json:"open_interest_value"`
	// Timestamp 采样时间，同一序列内严格递增
	Timestamp time.Time `json:"timestamp"`
	// Price 标记价格（可选）
	Price float64 `json:"price"`
	// Volume24h 24 小时成交额（可选）
	Volume24h float64 `json:"volume_24h"`
	// FundingRate 资金费率（可选）
	FundingRate float64 `json:"funding_rate"`
}

// SeriesKey 返回该观测所属序列的 key，格式 exchange:SYMBOL
// 同一交易对在不同交易所是两条独立序列。
func (o *Observation) SeriesKey() string {
	return SeriesKey(o.Exchange, o.Symbol)
}

// SeriesKey 构造序列 key
func SeriesKey(ex Exchange, symbol string) string {
	return string(ex) + ":" + symbol
}

// SplitSeriesKey 拆分序列 key
// 返回: 交易所、交易对；格式错误时 ok=false
func SplitSeriesKey(key string) (ex Exchange, symbol string, ok bool) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return Exchange(key[:i]), key[i+1:], true
}

// Validate 检查观测字段是否合法
// 不检查时间单调性（由 Store 负责）。
func (o *Observation) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if !o.Exchange.Valid() {
		return fmt.Errorf("无效交易所: %q", o.Exchange)
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("%s: timestamp 不能为空", o.SeriesKey())
	}
	if math.IsNaN(o.OpenInterestValue) || math.IsInf(o.OpenInterestValue, 0) {
		return fmt.Errorf("%s: open_interest_value 非有限数", o.SeriesKey())
	}
	if o.OpenInterestValue < 0 {
		return fmt.Errorf("%s: open_interest_value 不能为负数: %f", o.SeriesKey(), o.OpenInterestValue)
	}
	return nil
}
