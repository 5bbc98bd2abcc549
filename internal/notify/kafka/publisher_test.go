package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"open-interest-monitor/internal/core/model"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{writer: fw, topic: "oi-alerts"}

	alerts := []model.Alert{
		{Symbol: "BTCUSDT", Exchange: model.ExchangeBinance, Kind: model.TickKind(model.DirectionSpike), Severity: model.SeverityHigh},
		{Symbol: "ETHUSDT", Exchange: model.ExchangeBybit, Kind: model.AverageKind(model.DirectionDrop), Severity: model.SeverityLow},
	}
	require.NoError(t, p.Publish(context.Background(), "cycle-9", alerts))
	require.Len(t, fw.msgs, 2)
	require.Equal(t, "binance:BTCUSDT", string(fw.msgs[0].Key))

	var m Message
	require.NoError(t, json.Unmarshal(fw.msgs[1].Value, &m))
	require.Equal(t, "cycle-9", m.CycleID)
	require.Equal(t, model.AverageKind(model.DirectionDrop), m.Alert.Kind)

	require.NoError(t, p.Publish(context.Background(), "cycle-10", nil))
	require.Len(t, fw.msgs, 2)
}

func TestPublisher_WriteError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "t"}
	err := p.Publish(context.Background(), "c", []model.Alert{{Symbol: "X", Exchange: model.ExchangeBybit, Kind: model.WindowSpikeKind()}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "leader not available")
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "t"})
	require.Error(t, err)
	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)

	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	require.Equal(t, "kafka", p.Name())
	require.NoError(t, p.Close())
}
