// Package kafka 将告警以 JSON 消息发布到 Kafka。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"open-interest-monitor/internal/core/model"
)

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config 发布器配置
type Config struct {
	// Brokers broker 地址列表
	Brokers []string
	// Topic 告警主题
	Topic string
	// WriteTimeout 写超时
	WriteTimeout time.Duration
}

// Message 告警消息体
type Message struct {
	CycleID string      `json:"cycle_id"`
	Alert   model.Alert `json:"alert"`
}

// Publisher 告警发布器
// 以交易对作为消息 key，同一交易对的告警落在同一分区，保持顺序。
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher 创建发布器
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers 不能为空")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic 不能为空")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &Publisher{writer: w, topic: cfg.Topic}, nil
}

// Name 实现 notify.AlertSink
func (p *Publisher) Name() string { return "kafka" }

// Publish 实现 notify.AlertSink，整批写入
func (p *Publisher) Publish(ctx context.Context, cycleID string, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(alerts))
	now := time.Now()
	for i := range alerts {
		v, err := json.Marshal(Message{CycleID: cycleID, Alert: alerts[i]})
		if err != nil {
			return fmt.Errorf("编码告警失败: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(alerts[i].SeriesKey()),
			Value: v,
			Time:  now,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("写入 kafka 主题 %s 失败: %w", p.topic, err)
	}
	return nil
}

// Close 关闭写入器
func (p *Publisher) Close() error {
	return p.writer.Close()
}
