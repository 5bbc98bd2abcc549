// Package dedup 实现告警冷却去重。
// 同一 (symbol, kind, severity) 在冷却期内只放行一次，过期判断为惰性检查。
package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/timeutil"
)

// DefaultCooldown 默认冷却期
const DefaultCooldown = time.Hour

// CooldownStore 冷却键存储
type CooldownStore interface {
	// Acquire 尝试激活 key
	// key 不存在或已过期时激活并返回 true；否则返回 false 且不修改状态。
	Acquire(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error)
}

// Pruner 可选接口：支持清理过期键的存储
// Redis 依靠 PX 自动过期，无需实现。
type Pruner interface {
	Prune(now time.Time) int
}

// Key 返回告警的去重键: symbol|kind|severity
func Key(a *model.Alert) string {
	return a.Symbol + "|" + a.Kind.String() + "|" + a.Severity.String()
}

// Deduplicator 告警去重器
type Deduplicator struct {
	store    CooldownStore
	cooldown time.Duration
	clock    timeutil.Clock
	logger   *zap.Logger
}

// Option 去重器选项
type Option func(*Deduplicator)

// WithCooldown 设置冷却期
func WithCooldown(d time.Duration) Option {
	return func(dd *Deduplicator) {
		if d > 0 {
			dd.cooldown = d
		}
	}
}

// WithClock 注入时钟
func WithClock(c timeutil.Clock) Option {
	return func(dd *Deduplicator) {
		if c != nil {
			dd.clock = c
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(dd *Deduplicator) {
		if l != nil {
			dd.logger = l.Named("dedup")
		}
	}
}

// New 创建去重器
// 参数 store: 冷却键存储，nil 时使用 MemoryStore
func New(store CooldownStore, opts ...Option) *Deduplicator {
	if store == nil {
		store = NewMemoryStore()
	}
	d := &Deduplicator{
		store:    store,
		cooldown: DefaultCooldown,
		clock:    timeutil.SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cooldown 返回冷却期
func (d *Deduplicator) Cooldown() time.Duration {
	return d.cooldown
}

// ShouldEmit 判断告警是否应当发出
// 存储出错时放行告警并记录日志，宁可重复也不丢失。
func (d *Deduplicator) ShouldEmit(ctx context.Context, a *model.Alert) bool {
	key := Key(a)
	ok, err := d.store.Acquire(ctx, key, d.cooldown, d.clock.Now())
	if err != nil {
		d.logger.Warn("冷却键存储失败，直接放行告警",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	return ok
}

// Prune 清理存储中已过期的冷却键，存储不支持时返回 0
func (d *Deduplicator) Prune() int {
	p, ok := d.store.(Pruner)
	if !ok {
		return 0
	}
	return p.Prune(d.clock.Now())
}
