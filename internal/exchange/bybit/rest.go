package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/exchange"
)

// DefaultBaseURL Bybit REST 地址
const DefaultBaseURL = "https://api.bybit.com"

// RESTConfig REST 拉取配置
type RESTConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RequestInterval time.Duration
}

// RESTFetcher 通过 /v5/market/tickers 拉取持仓量
type RESTFetcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewRESTFetcher 创建 REST 拉取器
func NewRESTFetcher(cfg RESTConfig, logger *zap.Logger) *RESTFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestInterval <= 0 {
		cfg.RequestInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTFetcher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		logger:     logger.Named("bybit"),
	}
}

// Exchange 实现 exchange.Fetcher
func (f *RESTFetcher) Exchange() model.Exchange { return model.ExchangeBybit }

// Fetch 实现 exchange.Fetcher
func (f *RESTFetcher) Fetch(ctx context.Context, symbols []string, at time.Time) ([]model.Observation, error) {
	return exchange.CollectPerSymbol(ctx, symbols, func(ctx context.Context, sym string) (model.Observation, error) {
		var list TickerList
		q := url.Values{"category": {"linear"}, "symbol": {sym}}
		if err := f.get(ctx, "/v5/market/tickers", q, &list); err != nil {
			return model.Observation{}, err
		}
		for _, t := range list.List {
			if t.Symbol == sym {
				return BuildObservation(t, at)
			}
		}
		return model.Observation{}, fmt.Errorf("%s 无行情数据", sym)
	}, f.logger)
}

// Instruments 返回交易中的 USDT linear 永续合约
func (f *RESTFetcher) Instruments(ctx context.Context) ([]string, error) {
	var out []string
	cursor := ""
	for {
		q := url.Values{"category": {"linear"}, "limit": {"1000"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page InstrumentList
		if err := f.get(ctx, "/v5/market/instruments-info", q, &page); err != nil {
			return nil, fmt.Errorf("获取 Bybit 合约列表失败: %w", err)
		}
		for _, in := range page.List {
			if in.ContractType == "LinearPerpetual" && in.Status == "Trading" && in.QuoteCoin == "USDT" {
				out = append(out, in.Symbol)
			}
		}
		if page.NextPageCursor == "" || page.NextPageCursor == cursor {
			return out, nil
		}
		cursor = page.NextPageCursor
	}
}

// get 发送 GET 请求并解析 Result
func (f *RESTFetcher) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "open-interest-monitor/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP 状态码 %d: %s", resp.StatusCode, body)
	}

	var env Response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("bybit 错误 %d: %s", env.RetCode, env.RetMsg)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("解析 result 失败: %w", err)
	}
	return nil
}
