package binance

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
)

// marketAPI Binance U 本位合约行情接口
// 便于在测试中替换 SDK。
type marketAPI interface {
	// OpenInterest 返回持仓量（合约单位）
	OpenInterest(ctx context.Context, symbol string) (string, error)
	// PremiumIndex 返回标记价格与最新资金费率
	PremiumIndex(ctx context.Context, symbol string) (markPrice, fundingRate string, err error)
	// Ticker24h 返回最新价与 24 小时成交额
	Ticker24h(ctx context.Context, symbol string) (lastPrice, quoteVolume string, err error)
	// PerpetualSymbols 返回交易中的 USDT 永续合约
	PerpetualSymbols(ctx context.Context) ([]string, error)
}

// sdkAPI 基于 go-binance 的实现
type sdkAPI struct {
	client *futures.Client
}

func (s sdkAPI) OpenInterest(ctx context.Context, symbol string) (string, error) {
	oi, err := s.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return "", err
	}
	return oi.OpenInterest, nil
}

func (s sdkAPI) PremiumIndex(ctx context.Context, symbol string) (string, string, error) {
	list, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return "", "", err
	}
	for _, p := range list {
		if p != nil && p.Symbol == symbol {
			return p.MarkPrice, p.LastFundingRate, nil
		}
	}
	return "", "", errNoData
}

func (s sdkAPI) Ticker24h(ctx context.Context, symbol string) (string, string, error) {
	list, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return "", "", err
	}
	for _, t := range list {
		if t != nil && t.Symbol == symbol {
			return t.LastPrice, t.QuoteVolume, nil
		}
	}
	return "", "", errNoData
}

func (s sdkAPI) PerpetualSymbols(ctx context.Context) ([]string, error) {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if string(sym.ContractType) != "PERPETUAL" || sym.Status != "TRADING" {
			continue
		}
		if !strings.EqualFold(sym.QuoteAsset, "USDT") {
			continue
		}
		out = append(out, sym.Symbol)
	}
	return out, nil
}
