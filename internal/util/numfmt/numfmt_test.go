package numfmt

import (
	"math"
	"testing"
)

func TestParseFloat(t *testing.T) {
	v, err := ParseFloat("12345.67")
	if err != nil {
		t.Fatalf("ParseFloat 失败: %v", err)
	}
	if v != 12345.67 {
		t.Fatalf("v=%f, want 12345.67", v)
	}

	if _, err := ParseFloat(""); err == nil {
		t.Fatalf("空字符串应返回错误")
	}
	if _, err := ParseFloat("abc"); err == nil {
		t.Fatalf("非法字符串应返回错误")
	}
	if got := ParseOptional("bad"); got != 0 {
		t.Fatalf("ParseOptional=%f, want 0", got)
	}
}

func TestMulString(t *testing.T) {
	v, err := MulString("1234.5", "2")
	if err != nil {
		t.Fatalf("MulString 失败: %v", err)
	}
	if math.Abs(v-2469) > 1e-9 {
		t.Fatalf("v=%f, want 2469", v)
	}
}

func TestCompact(t *testing.T) {
	cases := map[float64]string{
		12.5:          "12.50",
		1_500:         "1.50K",
		2_340_000:     "2.34M",
		7_100_000_000: "7.10B",
	}
	for in, want := range cases {
		if got := Compact(in); got != want {
			t.Fatalf("Compact(%f)=%s, want %s", in, got, want)
		}
	}
}

func TestUSD(t *testing.T) {
	cases := map[float64]string{
		0:           "$0",
		999:         "$999",
		1000:        "$1,000",
		1_234_567.4: "$1,234,567",
		-45_000.6:   "-$45,001",
	}
	for in, want := range cases {
		if got := USD(in); got != want {
			t.Fatalf("USD(%f)=%s, want %s", in, got, want)
		}
	}
}
