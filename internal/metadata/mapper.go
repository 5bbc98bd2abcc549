package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"

	"open-interest-monitor/internal/core/model"
)

// quoteSuffixes 视为已带计价币种的后缀
var quoteSuffixes = []string{"USDT", "USDC"}

// Normalize 标准化交易对格式
// 例如: BTC/USDT:USDT -> BTCUSDT, eth -> ETHUSDT, sol-usdt -> SOLUSDT
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	// 移除 ccxt 风格的结算币后缀
	s = strings.Replace(s, "/USDT:USDT", "USDT", 1)
	s = strings.Replace(s, ":USDT", "USDT", 1)
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)

	for _, q := range quoteSuffixes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s
		}
	}
	return s + "USDT"
}

// NormalizeAll 标准化并去重，保留首次出现的顺序
func NormalizeAll(symbols []string) []string {
	out := lo.FilterMap(symbols, func(s string, _ int) (string, bool) {
		n := Normalize(s)
		return n, n != ""
	})
	return lo.Uniq(out)
}

// Resolve 计算每个启用交易所的监控列表
// 某交易所配置了独立列表时使用独立列表，否则使用共享列表。
func Resolve(list TokenList, enabled []model.Exchange) map[model.Exchange][]string {
	shared := NormalizeAll(list.Shared)
	out := make(map[model.Exchange][]string, len(enabled))
	for _, ex := range enabled {
		if own := NormalizeAll(list.PerExchange[ex]); len(own) > 0 {
			out[ex] = own
			continue
		}
		out[ex] = shared
	}
	return out
}

// LoadTokens 从 JSON 文件加载交易对列表
func LoadTokens(path string) (TokenList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TokenList{}, fmt.Errorf("读取交易对列表失败: %w", err)
	}
	var list TokenList
	if err := json.Unmarshal(data, &list); err != nil {
		return TokenList{}, fmt.Errorf("解析交易对列表 %s 失败: %w", path, err)
	}
	return list, nil
}
