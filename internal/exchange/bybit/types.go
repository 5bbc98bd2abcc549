// Package bybit 定义 Bybit V5 linear 永续合约的消息类型。
package bybit

import "encoding/json"

// Response Bybit V5 REST 统一响应信封
type Response struct {
	// RetCode 0 表示成功
	RetCode int `json:"retCode"`
	// RetMsg 错误描述
	RetMsg string `json:"retMsg"`
	// Result 延迟解析，结构随接口变化
	Result json.RawMessage `json:"result"`
	// Time 服务器时间（毫秒）
	Time int64 `json:"time"`
}

// TickerList /v5/market/tickers 返回结果
type TickerList struct {
	Category string   `json:"category"`
	List     []Ticker `json:"list"`
}

// Ticker linear 合约行情
// REST 与 WS tickers 频道字段一致，均为十进制字符串。
type Ticker struct {
	Symbol            string `json:"symbol"`
	LastPrice         string `json:"lastPrice"`
	MarkPrice         string `json:"markPrice"`
	OpenInterest      string `json:"openInterest"`
	OpenInterestValue string `json:"openInterestValue"`
	FundingRate       string `json:"fundingRate"`
	Turnover24h       string `json:"turnover24h"`
}

// InstrumentList /v5/market/instruments-info 返回结果
type InstrumentList struct {
	Category       string       `json:"category"`
	NextPageCursor string       `json:"nextPageCursor"`
	List           []Instrument `json:"list"`
}

// Instrument 合约信息
type Instrument struct {
	Symbol       string `json:"symbol"`
	ContractType string `json:"contractType"`
	Status       string `json:"status"`
	QuoteCoin    string `json:"quoteCoin"`
}

// SubscribeRequest WS 订阅请求
// 心跳同样使用该结构: {"op":"ping"}
type SubscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// OpResponse 订阅与心跳的响应
type OpResponse struct {
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
}

// TickerMessage tickers.<SYMBOL> 频道推送
type TickerMessage struct {
	// Topic 如 tickers.BTCUSDT
	Topic string `json:"topic"`
	// Type snapshot 或 delta
	Type string `json:"type"`
	// Data 行情，delta 仅包含变化字段
	Data Ticker `json:"data"`
	// Ts 推送时间（毫秒）
	Ts int64 `json:"ts"`
}

// ConnectionMetrics WS 连接指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// Snapshots 收到的行情推送条数
	Snapshots int64
}
