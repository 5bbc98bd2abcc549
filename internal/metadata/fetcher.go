package metadata

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
)

// InstrumentSource 交易所合约元数据来源
// binance.Client 与 bybit.RESTFetcher 均实现该接口。
type InstrumentSource interface {
	// Exchange 返回交易所标识
	Exchange() model.Exchange
	// Instruments 返回交易中的 USDT 永续合约
	Instruments(ctx context.Context) ([]string, error)
}

// ValidateSymbols 依据交易所合约列表过滤监控交易对
// 不存在的交易对记录警告后移除；某交易所过滤后为空时返回错误。
// 元数据获取失败时保留原列表并记录警告。
func ValidateSymbols(ctx context.Context, symbols map[model.Exchange][]string, sources []InstrumentSource, logger *zap.Logger) (map[model.Exchange][]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make(map[model.Exchange][]string, len(symbols))
	for ex, s := range symbols {
		out[ex] = s
	}

	for _, src := range sources {
		ex := src.Exchange()
		want, ok := symbols[ex]
		if !ok {
			continue
		}

		known, err := src.Instruments(ctx)
		if err != nil {
			logger.Warn("获取合约元数据失败，跳过校验", zap.String("exchange", string(ex)), zap.Error(err))
			continue
		}
		set := lo.SliceToMap(known, func(s string) (string, struct{}) { return s, struct{}{} })

		valid, invalid := lo.FilterReject(want, func(s string, _ int) bool {
			_, ok := set[s]
			return ok
		})
		if len(invalid) > 0 {
			logger.Warn("交易对不存在，已移除",
				zap.String("exchange", string(ex)),
				zap.Strings("symbols", invalid))
		}
		out[ex] = valid
	}

	for ex, s := range out {
		if len(s) == 0 {
			return nil, fmt.Errorf("交易所 %s 没有可监控的交易对", ex)
		}
	}
	return out, nil
}
