package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/backoff"
)

// DefaultStreamURL Bybit linear 公共行情 WS 地址
const DefaultStreamURL = "wss://stream.bybit.com/v5/public/linear"

// maxArgsPerRequest 单次订阅请求最多携带的 topic 数
const maxArgsPerRequest = 10

// StreamConfig WS 拉取配置
type StreamConfig struct {
	URL string
	// PingInterval 心跳间隔，Bybit 建议 20s
	PingInterval time.Duration
	// CollectTimeout 单次采集的最长时间
	CollectTimeout time.Duration
}

// WSFetcher 通过 tickers 频道采集持仓量
// 每次 Fetch 建立连接、订阅、收齐每个交易对的一条快照后断开。
// 采集期间断线会按退避重连，并只重新订阅尚未收到的交易对。
type WSFetcher struct {
	cfg    StreamConfig
	logger *zap.Logger

	// fetchMu 串行化 Fetch
	fetchMu sync.Mutex

	conn    *websocket.Conn
	connMu  sync.Mutex
	backoff *backoff.Backoff

	metrics   ConnectionMetrics
	metricsMu sync.RWMutex

	parseErrSampleCount uint64
	lastParseErrLogNs   int64
}

// NewWSFetcher 创建 WS 拉取器
func NewWSFetcher(cfg StreamConfig, logger *zap.Logger) *WSFetcher {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFetcher{
		cfg:     cfg,
		logger:  logger.Named("bybit-ws"),
		backoff: backoff.NewDefault(),
	}
}

// Exchange 实现 exchange.Fetcher
func (f *WSFetcher) Exchange() model.Exchange { return model.ExchangeBybit }

// Fetch 实现 exchange.Fetcher
func (f *WSFetcher) Fetch(ctx context.Context, symbols []string, at time.Time) ([]model.Observation, error) {
	f.fetchMu.Lock()
	defer f.fetchMu.Unlock()

	if len(symbols) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.CollectTimeout)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		return nil, err
	}
	defer f.closeConn()

	tickers := f.collect(ctx, symbols)

	out := make([]model.Observation, 0, len(symbols))
	for _, sym := range symbols {
		t, ok := tickers[sym]
		if !ok || !complete(t) {
			f.logger.Warn("未收到行情快照", zap.String("symbol", sym))
			continue
		}
		o, err := BuildObservation(t, at)
		if err != nil {
			f.logger.Warn("构造观测失败", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bybit WS 未采集到任何交易对: %w", context.Cause(ctx))
	}
	return out, nil
}

// collect 订阅并读取推送，直到全部交易对齐备或超时
func (f *WSFetcher) collect(ctx context.Context, symbols []string) map[string]Ticker {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	got := make(map[string]Ticker, len(symbols))

	missing := func() []string {
		var out []string
		for _, s := range symbols {
			if !complete(got[s]) {
				out = append(out, s)
			}
		}
		return out
	}

	if err := f.subscribe(symbols); err != nil {
		f.logger.Warn("订阅失败", zap.Error(err))
		f.closeConn()
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go f.pingLoop(pingCtx)

	deadline, _ := ctx.Deadline()
	for len(missing()) > 0 {
		if ctx.Err() != nil {
			return got
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			f.reconnect(ctx, missing())
			continue
		}

		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return got
			}
			f.logger.Warn("读取 Bybit 消息失败", zap.Error(err))
			f.incrementReconnectCount()
			f.reconnect(ctx, missing())
			continue
		}

		if r, ok := IsOpResponse(data); ok {
			if !r.Success {
				f.logger.Warn("Bybit 请求被拒绝", zap.String("op", r.Op), zap.String("msg", r.RetMsg))
			}
			continue
		}

		msg, err := ParseTicker(data)
		if err != nil {
			f.incrementParseErrorCount()
			f.maybeLogParseError(err, data)
			continue
		}
		sym := msg.Data.Symbol
		if !want[sym] {
			continue
		}
		t := got[sym]
		if msg.Type == "snapshot" {
			t = msg.Data
		} else {
			merge(&t, msg.Data)
		}
		t.Symbol = sym
		got[sym] = t

		f.metricsMu.Lock()
		f.metrics.Snapshots++
		f.metricsMu.Unlock()
	}
	return got
}

// connect 建立 WebSocket 连接
func (f *WSFetcher) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "open-interest-monitor/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 Bybit WebSocket 失败: %w", err)
	}

	f.conn = conn
	f.backoff.Reset()
	f.logger.Debug("Bybit WebSocket 连接成功", zap.String("url", f.cfg.URL))
	return nil
}

// subscribe 订阅 tickers 频道，按每批 10 个 topic 发送
func (f *WSFetcher) subscribe(symbols []string) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	for start := 0; start < len(symbols); start += maxArgsPerRequest {
		end := min(start+maxArgsPerRequest, len(symbols))
		args := make([]string, 0, end-start)
		for _, s := range symbols[start:end] {
			args = append(args, "tickers."+s)
		}
		data, err := json.Marshal(SubscribeRequest{Op: "subscribe", Args: args})
		if err != nil {
			return fmt.Errorf("序列化订阅请求失败: %w", err)
		}
		if err := f.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("发送订阅请求失败: %w", err)
		}
	}

	f.logger.Debug("Bybit 订阅请求已发送", zap.Int("symbols", len(symbols)))
	return nil
}

// pingLoop 心跳循环，发送 {"op":"ping"}
func (f *WSFetcher) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(SubscribeRequest{Op: "ping"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				if err := f.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
					f.logger.Warn("发送 Bybit ping 失败", zap.Error(err))
				}
			}
			f.connMu.Unlock()
		}
	}
}

// reconnect 退避后重连并重新订阅缺失的交易对
func (f *WSFetcher) reconnect(ctx context.Context, symbols []string) {
	f.closeConn()

	f.logger.Info("Bybit 准备重连", zap.Int("attempt", f.backoff.Attempt()+1), zap.Int("pending", len(symbols)))
	if _, err := f.backoff.Wait(ctx); err != nil {
		return
	}

	if err := f.connect(ctx); err != nil {
		f.logger.Error("Bybit 重连失败", zap.Error(err))
		return
	}
	if err := f.subscribe(symbols); err != nil {
		f.logger.Error("Bybit 重新订阅失败", zap.Error(err))
	}
}

// closeConn 关闭连接
func (f *WSFetcher) closeConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// Metrics 获取连接指标
func (f *WSFetcher) Metrics() ConnectionMetrics {
	f.metricsMu.RLock()
	defer f.metricsMu.RUnlock()
	return f.metrics
}

func (f *WSFetcher) incrementReconnectCount() {
	f.metricsMu.Lock()
	f.metrics.ReconnectCount++
	f.metricsMu.Unlock()
}

func (f *WSFetcher) incrementParseErrorCount() {
	f.metricsMu.Lock()
	f.metrics.ParseErrorCount++
	f.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误原始消息
// 每 100 次错误记录 1 条，且至少间隔 1 分钟。
func (f *WSFetcher) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&f.parseErrSampleCount, 1)
	if count%100 != 0 {
		return
	}

	nowNs := time.Now().UnixNano()
	last := atomic.LoadInt64(&f.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&f.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	f.logger.Warn("解析 Bybit 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
