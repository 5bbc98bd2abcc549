// Package notify 定义通知与告警下游的接口。
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
)

// ErrDisabled 通知渠道未配置
var ErrDisabled = errors.New("通知渠道未启用")

// Notifier 文本通知渠道（如 Telegram）
// 发送失败不重试，由调用方记录日志。
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// AlertSink 结构化告警下游（如 Kafka、告警日志）
type AlertSink interface {
	Name() string
	Publish(ctx context.Context, cycleID string, alerts []model.Alert) error
}

// Nop 丢弃所有消息的通知渠道
type Nop struct{}

// Send 实现 Notifier
func (Nop) Send(context.Context, string) error { return ErrDisabled }

// Sinks 多个告警下游
type Sinks []AlertSink

// Publish 依次投递到全部下游，单个下游失败不影响其它下游
// 返回: 所有失败合并后的错误
func (s Sinks) Publish(ctx context.Context, cycleID string, alerts []model.Alert, logger *zap.Logger) error {
	if len(alerts) == 0 {
		return nil
	}
	var errs []error
	for _, sink := range s {
		if err := sink.Publish(ctx, cycleID, alerts); err != nil {
			if logger != nil {
				logger.Warn("告警下游投递失败",
					zap.String("sink", sink.Name()),
					zap.Int("alerts", len(alerts)),
					zap.Error(err),
				)
			}
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
