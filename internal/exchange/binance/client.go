// Package binance 实现 Binance U 本位合约持仓量拉取。
// 数据来源: /fapi/v1/openInterest、/fapi/v1/premiumIndex、/fapi/v1/ticker/24hr
package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/exchange"
)

// Config Binance 拉取配置
type Config struct {
	// APIKey 可选，公开行情接口无需鉴权
	APIKey string
	// APISecret 可选
	APISecret string
	// BaseURL 为空时使用 SDK 默认地址
	BaseURL string
	// RequestInterval 两次请求的最小间隔
	RequestInterval time.Duration
}

// Client Binance 持仓量拉取器
type Client struct {
	api     marketAPI
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient 创建 Binance 拉取器
func NewClient(cfg Config, logger *zap.Logger) *Client {
	fc := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		fc.BaseURL = cfg.BaseURL
	}
	return newClient(sdkAPI{client: fc}, cfg.RequestInterval, logger)
}

func newClient(api marketAPI, interval time.Duration, logger *zap.Logger) *Client {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger.Named("binance"),
	}
}

// Exchange 实现 exchange.Fetcher
func (c *Client) Exchange() model.Exchange { return model.ExchangeBinance }

// Fetch 实现 exchange.Fetcher
func (c *Client) Fetch(ctx context.Context, symbols []string, at time.Time) ([]model.Observation, error) {
	return exchange.CollectPerSymbol(ctx, symbols, func(ctx context.Context, sym string) (model.Observation, error) {
		return c.fetchOne(ctx, sym, at)
	}, c.logger)
}

func (c *Client) fetchOne(ctx context.Context, symbol string, at time.Time) (model.Observation, error) {
	q := Quote{Symbol: symbol}

	if err := c.limiter.Wait(ctx); err != nil {
		return model.Observation{}, err
	}
	oi, err := c.api.OpenInterest(ctx, symbol)
	if err != nil {
		return model.Observation{}, fmt.Errorf("获取持仓量失败: %w", err)
	}
	q.OpenInterest = oi

	if err := c.limiter.Wait(ctx); err != nil {
		return model.Observation{}, err
	}
	if q.MarkPrice, q.FundingRate, err = c.api.PremiumIndex(ctx, symbol); err != nil {
		c.logger.Debug("获取标记价格失败", zap.String("symbol", symbol), zap.Error(err))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return model.Observation{}, err
	}
	if q.LastPrice, q.QuoteVolume, err = c.api.Ticker24h(ctx, symbol); err != nil {
		c.logger.Debug("获取 24h 行情失败", zap.String("symbol", symbol), zap.Error(err))
	}

	return BuildObservation(q, at)
}

// Instruments 返回交易中的 USDT 永续合约，用于交易对校验
func (c *Client) Instruments(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	syms, err := c.api.PerpetualSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 Binance 合约列表失败: %w", err)
	}
	return syms, nil
}
