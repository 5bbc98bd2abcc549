// Package metadata 元数据模块测试
package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"open-interest-monitor/internal/core/model"
)

// TestNormalize_Consistency 不同书写格式的同一交易对应标准化为相同结果
func TestNormalize_Consistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	coins := []string{"BTC", "ETH", "SOL", "DOGE", "XRP", "ADA", "DOT", "LINK", "UNI", "AVAX"}

	properties.Property("书写格式不影响标准化结果", prop.ForAll(
		func(idx int) bool {
			base := coins[idx%len(coins)]
			forms := []string{
				base,
				strings.ToLower(base),
				base + "USDT",
				base + "/USDT",
				base + "-usdt",
				base + "/USDT:USDT",
				base + ":USDT",
			}
			want := base + "USDT"
			for _, f := range forms {
				if Normalize(f) != want {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 9),
	))

	// 属性: 标准化是幂等的
	properties.Property("标准化幂等", prop.ForAll(
		func(s string) bool {
			n := Normalize(s)
			return Normalize(n) == n
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestNormalizeAll_Dedup(t *testing.T) {
	got := NormalizeAll([]string{"btc", "BTC/USDT:USDT", "", "  ", "ETHUSDC", "eth"})
	want := []string{"BTCUSDT", "ETHUSDC", "ETHUSDT"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("NormalizeAll=%v, want %v", got, want)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	return p
}

func TestLoadTokens_Shapes(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		shared []string
	}{
		{"single", `{"symbol": "BTC/USDT:USDT"}`, []string{"BTC/USDT:USDT"}},
		{"object", `{"symbols": ["BTC", "ETH/USDT"]}`, []string{"BTC", "ETH/USDT"}},
		{"array", ` ["SOLUSDT", "doge"]`, []string{"SOLUSDT", "doge"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			list, err := LoadTokens(writeFile(t, tc.body))
			if err != nil {
				t.Fatalf("LoadTokens: %v", err)
			}
			if strings.Join(list.Shared, ",") != strings.Join(tc.shared, ",") {
				t.Fatalf("Shared=%v, want %v", list.Shared, tc.shared)
			}
		})
	}

	if _, err := LoadTokens(writeFile(t, `{"symbols": "BTC"}`)); err == nil {
		t.Fatalf("symbols 非数组应返回错误")
	}
	if _, err := LoadTokens(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("文件不存在应返回错误")
	}
}

func TestResolve_PerExchange(t *testing.T) {
	list, err := LoadTokens(writeFile(t, `{"symbols": ["BTC", "ETH"], "bybit": ["sol/usdt:usdt"]}`))
	if err != nil {
		t.Fatalf("LoadTokens: %v", err)
	}
	got := Resolve(list, model.Exchanges)
	if strings.Join(got[model.ExchangeBinance], ",") != "BTCUSDT,ETHUSDT" {
		t.Fatalf("binance=%v, want [BTCUSDT ETHUSDT]", got[model.ExchangeBinance])
	}
	if strings.Join(got[model.ExchangeBybit], ",") != "SOLUSDT" {
		t.Fatalf("bybit=%v, want [SOLUSDT]", got[model.ExchangeBybit])
	}

	merged := TokenList{Shared: []string{"XRP"}}.Merge(list)
	if merged.Empty() || len(merged.Shared) != 3 || len(merged.PerExchange[model.ExchangeBybit]) != 1 {
		t.Fatalf("Merge=%+v", merged)
	}
	if !(TokenList{}).Empty() {
		t.Fatalf("空列表 Empty()=false, want true")
	}
}

type fakeSource struct {
	ex   model.Exchange
	syms []string
	err  error
}

func (f fakeSource) Exchange() model.Exchange { return f.ex }

func (f fakeSource) Instruments(context.Context) ([]string, error) { return f.syms, f.err }

func TestValidateSymbols(t *testing.T) {
	in := map[model.Exchange][]string{
		model.ExchangeBinance: {"BTCUSDT", "FAKEUSDT"},
		model.ExchangeBybit:   {"ETHUSDT"},
	}
	out, err := ValidateSymbols(context.Background(), in, []InstrumentSource{
		fakeSource{ex: model.ExchangeBinance, syms: []string{"BTCUSDT", "ETHUSDT"}},
		fakeSource{ex: model.ExchangeBybit, err: errors.New("timeout")},
	}, nil)
	if err != nil {
		t.Fatalf("ValidateSymbols: %v", err)
	}
	if strings.Join(out[model.ExchangeBinance], ",") != "BTCUSDT" {
		t.Fatalf("binance=%v, want [BTCUSDT]", out[model.ExchangeBinance])
	}
	// 元数据不可用时保留原列表
	if strings.Join(out[model.ExchangeBybit], ",") != "ETHUSDT" {
		t.Fatalf("bybit=%v, want [ETHUSDT]", out[model.ExchangeBybit])
	}

	_, err = ValidateSymbols(context.Background(), map[model.Exchange][]string{
		model.ExchangeBinance: {"FAKEUSDT"},
	}, []InstrumentSource{fakeSource{ex: model.ExchangeBinance, syms: []string{"BTCUSDT"}}}, nil)
	if err == nil {
		t.Fatalf("全部无效时应返回错误")
	}
}
