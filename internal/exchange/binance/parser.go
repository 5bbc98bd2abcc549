package binance

import (
	"errors"
	"fmt"
	"time"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/numfmt"
)

var errNoData = errors.New("接口未返回该交易对数据")

// Quote 单个交易对的原始行情字段（字符串形式）
type Quote struct {
	Symbol       string
	OpenInterest string
	MarkPrice    string
	FundingRate  string
	LastPrice    string
	QuoteVolume  string
}

// BuildObservation 将原始行情转为观测
// 持仓价值 = 持仓量 × 标记价格；标记价格缺失时退回最新价。
// 可选字段解析失败时取 0。
func BuildObservation(q Quote, at time.Time) (model.Observation, error) {
	oi, err := numfmt.ParseFloat(q.OpenInterest)
	if err != nil {
		return model.Observation{}, fmt.Errorf("解析持仓量失败: %w", err)
	}

	priceStr := q.MarkPrice
	price := numfmt.ParseOptional(priceStr)
	if price <= 0 {
		priceStr = q.LastPrice
		price = numfmt.ParseOptional(priceStr)
	}
	if price <= 0 {
		return model.Observation{}, fmt.Errorf("%s 缺少有效价格", q.Symbol)
	}

	value, err := numfmt.MulString(q.OpenInterest, priceStr)
	if err != nil {
		value = oi * price
	}

	return model.Observation{
		Symbol:            q.Symbol,
		Exchange:          model.ExchangeBinance,
		OpenInterest:      oi,
		OpenInterestValue: value,
		Timestamp:         at,
		Price:             price,
		Volume24h:         numfmt.ParseOptional(q.QuoteVolume),
		FundingRate:       numfmt.ParseOptional(q.FundingRate),
	}, nil
}
