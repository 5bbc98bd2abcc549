package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/numfmt"
)

var errNotTicker = errors.New("非 tickers 频道消息")

// BuildObservation 将行情转为观测
// 持仓价值优先取交易所给出的 openInterestValue，缺失时用 持仓量 × 标记价格。
func BuildObservation(t Ticker, at time.Time) (model.Observation, error) {
	oi, err := numfmt.ParseFloat(t.OpenInterest)
	if err != nil {
		return model.Observation{}, fmt.Errorf("%s 解析持仓量失败: %w", t.Symbol, err)
	}
	price := numfmt.ParseOptional(t.MarkPrice)
	if price <= 0 {
		price = numfmt.ParseOptional(t.LastPrice)
	}

	value := numfmt.ParseOptional(t.OpenInterestValue)
	if value <= 0 {
		if price <= 0 {
			return model.Observation{}, fmt.Errorf("%s 缺少有效价格", t.Symbol)
		}
		value = oi * price
	}

	return model.Observation{
		Symbol:            t.Symbol,
		Exchange:          model.ExchangeBybit,
		OpenInterest:      oi,
		OpenInterestValue: value,
		Timestamp:         at,
		Price:             price,
		Volume24h:         numfmt.ParseOptional(t.Turnover24h),
		FundingRate:       numfmt.ParseOptional(t.FundingRate),
	}, nil
}

// ParseTicker 解析 WS tickers 推送
// 返回交易对、推送类型与行情
func ParseTicker(data []byte) (TickerMessage, error) {
	var msg TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("解析 tickers 消息失败: %w", err)
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return msg, errNotTicker
	}
	if msg.Data.Symbol == "" {
		msg.Data.Symbol = strings.TrimPrefix(msg.Topic, "tickers.")
	}
	return msg, nil
}

// IsOpResponse 判断是否为订阅或心跳响应
func IsOpResponse(data []byte) (OpResponse, bool) {
	var r OpResponse
	if err := json.Unmarshal(data, &r); err != nil || r.Op == "" {
		return r, false
	}
	return r, true
}

// merge 将 delta 中的非空字段合并到 dst
func merge(dst *Ticker, src Ticker) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.LastPrice, src.LastPrice)
	set(&dst.MarkPrice, src.MarkPrice)
	set(&dst.OpenInterest, src.OpenInterest)
	set(&dst.OpenInterestValue, src.OpenInterestValue)
	set(&dst.FundingRate, src.FundingRate)
	set(&dst.Turnover24h, src.Turnover24h)
}

// complete 是否已具备生成观测所需字段
func complete(t Ticker) bool {
	if t.OpenInterest == "" {
		return false
	}
	return t.OpenInterestValue != "" || t.MarkPrice != "" || t.LastPrice != ""
}
