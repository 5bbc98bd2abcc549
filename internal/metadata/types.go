// Package metadata 负责加载监控交易对列表，并依据交易所合约元数据校验。
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"

	"open-interest-monitor/internal/core/model"
)

// TokenList 交易对列表
// Shared 适用于所有启用的交易所；PerExchange 中配置了的交易所只使用自己的列表。
type TokenList struct {
	Shared      []string
	PerExchange map[model.Exchange][]string
}

// Empty 判断列表是否为空
func (l TokenList) Empty() bool {
	if len(l.Shared) > 0 {
		return false
	}
	for _, s := range l.PerExchange {
		if len(s) > 0 {
			return false
		}
	}
	return true
}

// Merge 合并另一份列表，other 中的条目追加在后
func (l TokenList) Merge(other TokenList) TokenList {
	out := TokenList{
		Shared:      append(append([]string(nil), l.Shared...), other.Shared...),
		PerExchange: make(map[model.Exchange][]string),
	}
	for ex, s := range l.PerExchange {
		out.PerExchange[ex] = append(out.PerExchange[ex], s...)
	}
	for ex, s := range other.PerExchange {
		out.PerExchange[ex] = append(out.PerExchange[ex], s...)
	}
	return out
}

// UnmarshalJSON 支持以下几种格式:
//
//	["BTC/USDT:USDT", "ETHUSDT"]
//	{"symbol": "BTC/USDT:USDT"}
//	{"symbols": ["BTC", "ETH"], "bybit": ["SOL"]}
func (l *TokenList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &l.Shared)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("交易对列表格式错误: %w", err)
	}

	if raw, ok := obj["symbol"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("symbol 字段格式错误: %w", err)
		}
		l.Shared = append(l.Shared, s)
	}
	if raw, ok := obj["symbols"]; ok {
		var s []string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("symbols 字段格式错误: %w", err)
		}
		l.Shared = append(l.Shared, s...)
	}
	for _, ex := range model.Exchanges {
		raw, ok := obj[string(ex)]
		if !ok {
			continue
		}
		var s []string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%s 字段格式错误: %w", ex, err)
		}
		if l.PerExchange == nil {
			l.PerExchange = make(map[model.Exchange][]string)
		}
		l.PerExchange[ex] = append(l.PerExchange[ex], s...)
	}
	return nil
}
