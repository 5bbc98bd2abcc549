// Package backoff 指数退避，用于交易所行情重连与数据库连接重试。
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy 退避参数
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0-1，0.2 表示 ±20%
}

// DefaultPolicy 行情重连默认参数: 1s 起步，最多 30s，抖动 ±20%
var DefaultPolicy = Policy{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2}

// Backoff 有状态的退避计算器，非并发安全
type Backoff struct {
	policy  Policy
	attempt int
}

// New 创建退避计算器
func New(base, max time.Duration, jitter float64) *Backoff {
	return FromPolicy(Policy{Base: base, Max: max, Jitter: jitter})
}

// FromPolicy 按参数创建退避计算器
func FromPolicy(p Policy) *Backoff {
	if p.Base <= 0 {
		p.Base = DefaultPolicy.Base
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	return &Backoff{policy: p}
}

// NewDefault 使用 DefaultPolicy
func NewDefault() *Backoff {
	return FromPolicy(DefaultPolicy)
}

// Next 返回下一次等待时长: base * 2^attempt，封顶 max 后再叠加抖动
func (b *Backoff) Next() time.Duration {
	delay := b.policy.Max
	// 超过 30 次位移后结果已无意义，直接取上限
	if b.attempt < 30 {
		if d := b.policy.Base << b.attempt; d > 0 && d < b.policy.Max {
			delay = d
		}
	}

	if b.policy.Jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.policy.Jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Wait 按 Next 的时长休眠，ctx 取消时提前返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	delay := b.Next()
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-t.C:
		return delay, nil
	}
}

// Reset 连接成功后归零
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 已经退避的次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Retry 最多执行 fn attempts 次，两次之间按 p 退避。
// onRetry 在每次失败且仍会重试时调用，可为 nil。
// 返回最后一次 fn 的错误，或 ctx 取消时的 ctx.Err()。
func Retry(ctx context.Context, p Policy, attempts int, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	b := FromPolicy(p)
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, b.peek(), err)
		}
		if _, werr := b.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// peek 下一次未加抖动的等待时长，仅用于日志
func (b *Backoff) peek() time.Duration {
	if b.attempt >= 30 {
		return b.policy.Max
	}
	if d := b.policy.Base << b.attempt; d > 0 && d < b.policy.Max {
		return d
	}
	return b.policy.Max
}
