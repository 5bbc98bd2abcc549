// Package snapshot 快照测试
package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/core/store"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	st := store.New(0)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.Append(model.Observation{
			Symbol:            "BTCUSDT",
			Exchange:          model.ExchangeBinance,
			OpenInterest:      1000 + float64(i),
			OpenInterestValue: 65_000_000.5 + float64(i),
			Timestamp:         t0.Add(time.Duration(i) * 15 * time.Minute),
			Price:             65000.25,
			Volume24h:         1.5e9,
			FundingRate:       0.0001,
		}))
	}
	require.NoError(t, st.Append(model.Observation{
		Symbol:            "ETHUSDT",
		Exchange:          model.ExchangeBybit,
		OpenInterestValue: 1,
		Timestamp:         t0,
	}))

	path := filepath.Join(t.TempDir(), "data", "snapshot.json")
	require.NoError(t, Save(path, st.Snapshot()))

	data, err := Load(path)
	require.NoError(t, err)

	restored := store.New(0)
	loaded, skipped := restored.Restore(data)
	require.Equal(t, 5, loaded)
	require.Equal(t, 0, skipped)

	for _, key := range st.Keys() {
		want := st.All(key)
		got := restored.All(key)
		require.Len(t, got, len(want))
		for i := range want {
			require.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "key=%s i=%d", key, i)
			got[i].Timestamp = want[i].Timestamp
			require.Equal(t, want[i], got[i])
		}
	}
}

func TestSnapshot_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, Save(path, Data{
		"binance:BTCUSDT": {{Symbol: "BTCUSDT", Exchange: model.ExchangeBinance, OpenInterestValue: 1, Timestamp: ts}},
	}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(b)
	require.True(t, strings.Contains(s, `"binance:BTCUSDT"`), s)
	require.True(t, strings.Contains(s, `"timestamp": "2024-05-01T10:00:00Z"`), s)
	require.True(t, strings.Contains(s, `"open_interest_value": 1`), s)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	require.True(t, IsNotExist(err))
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.False(t, IsNotExist(err))
}
