// Package exchange 定义交易所持仓量拉取接口与并发拉取流程。
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
)

// Fetcher 交易所持仓量拉取器
type Fetcher interface {
	// Exchange 返回交易所标识
	Exchange() model.Exchange
	// Fetch 拉取一批交易对的持仓量
	// 参数 at: 本周期采样时间，写入每条观测的 Timestamp
	// 单个交易对失败时跳过；全部失败时返回错误。
	Fetch(ctx context.Context, symbols []string, at time.Time) ([]model.Observation, error)
}

// Target 一个交易所及其监控的交易对
type Target struct {
	Fetcher Fetcher
	Symbols []string
}

// Result 单个交易所的拉取结果
type Result struct {
	// Exchange 交易所
	Exchange model.Exchange
	// Observations 成功拉取的观测
	Observations []model.Observation
	// Err 拉取失败原因，非空时 Observations 为空
	Err error
	// Duration 拉取耗时
	Duration time.Duration
}

// FetchAll 并发拉取全部交易所
// 返回的结果与 targets 顺序一致；某个交易所失败不影响其它交易所。
func FetchAll(ctx context.Context, targets []Target, at time.Time) []Result {
	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			start := time.Now()
			obs, err := fetchSafe(ctx, t, at)
			r := Result{Exchange: t.Fetcher.Exchange(), Duration: time.Since(start)}
			if err != nil {
				r.Err = err
			} else {
				r.Observations = obs
			}
			results[i] = r
		}(i, t)
	}
	wg.Wait()
	return results
}

func fetchSafe(ctx context.Context, t Target, at time.Time) (obs []model.Observation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s 拉取 panic: %v", t.Fetcher.Exchange(), r)
		}
	}()
	if len(t.Symbols) == 0 {
		return nil, nil
	}
	return t.Fetcher.Fetch(ctx, t.Symbols, at)
}

// SymbolFunc 拉取单个交易对
type SymbolFunc func(ctx context.Context, symbol string) (model.Observation, error)

// CollectPerSymbol 逐个交易对拉取
// 单个交易对失败时记录日志并跳过；全部失败时返回合并错误。
func CollectPerSymbol(ctx context.Context, symbols []string, fn SymbolFunc, logger *zap.Logger) ([]model.Observation, error) {
	out := make([]model.Observation, 0, len(symbols))
	var errs []error
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		o, err := fn(ctx, sym)
		if err != nil {
			logger.Warn("拉取持仓量失败", zap.String("symbol", sym), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
