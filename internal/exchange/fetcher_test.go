package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
)

type stubFetcher struct {
	ex    model.Exchange
	err   error
	panic bool
}

func (s stubFetcher) Exchange() model.Exchange { return s.ex }

func (s stubFetcher) Fetch(_ context.Context, symbols []string, at time.Time) ([]model.Observation, error) {
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Observation, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, model.Observation{Symbol: sym, Exchange: s.ex, OpenInterestValue: 1, Timestamp: at})
	}
	return out, nil
}

func TestFetchAll_PartialFailure(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	results := FetchAll(context.Background(), []Target{
		{Fetcher: stubFetcher{ex: model.ExchangeBinance, err: errors.New("418")}, Symbols: []string{"BTCUSDT"}},
		{Fetcher: stubFetcher{ex: model.ExchangeBybit}, Symbols: []string{"BTCUSDT", "ETHUSDT"}},
	}, at)

	require.Len(t, results, 2)
	require.Equal(t, model.ExchangeBinance, results[0].Exchange)
	require.Error(t, results[0].Err)
	require.Empty(t, results[0].Observations)

	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Observations, 2)
	require.Equal(t, at, results[1].Observations[0].Timestamp)
}

func TestFetchAll_RecoversPanic(t *testing.T) {
	results := FetchAll(context.Background(), []Target{
		{Fetcher: stubFetcher{ex: model.ExchangeBybit, panic: true}, Symbols: []string{"X"}},
	}, time.Now())
	require.Error(t, results[0].Err)
}

func TestCollectPerSymbol(t *testing.T) {
	fn := func(_ context.Context, sym string) (model.Observation, error) {
		if sym == "BAD" {
			return model.Observation{}, errors.New("unknown symbol")
		}
		return model.Observation{Symbol: sym}, nil
	}

	obs, err := CollectPerSymbol(context.Background(), []string{"BTCUSDT", "BAD"}, fn, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, obs, 1)

	_, err = CollectPerSymbol(context.Background(), []string{"BAD"}, fn, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "BAD")
}
