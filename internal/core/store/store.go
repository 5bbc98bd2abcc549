// Package store 维护每条序列的持仓量观测日志。
// 使用单写者模式避免锁和竞态条件。
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/timeutil"
)

var (
	// ErrStale 观测时间不晚于序列最新时间
	ErrStale = errors.New("观测时间未严格递增")
	// ErrInvalid 观测字段非法
	ErrInvalid = errors.New("观测数据非法")
)

// DefaultMaxPerSeries 每条序列默认保留的最大观测数
const DefaultMaxPerSeries = 10

// Store 观测日志（单写者）
// 注意：本结构体默认由编排器单 goroutine 写入；若要跨 goroutine 读，请通过 Snapshot 拷贝传递。
type Store struct {
	// series 按序列 key（exchange:SYMBOL）缓存观测，时间升序
	series map[string][]model.Observation
	// truncated 序列是否因上限或保留期丢弃过观测
	// 最早的窗口可能因此不完整，窗口聚合器据此跳过它。
	truncated map[string]bool
	// maxPerSeries 每条序列的滚动上限，0 表示不限制
	maxPerSeries int
}

// New 创建观测日志
// 参数 maxPerSeries: 每条序列的滚动上限，0 表示不限制
func New(maxPerSeries int) *Store {
	if maxPerSeries < 0 {
		maxPerSeries = 0
	}
	return &Store{
		series:       make(map[string][]model.Observation),
		truncated:    make(map[string]bool),
		maxPerSeries: maxPerSeries,
	}
}

// Append 追加一条观测
// 拒绝条件: 字段非法（含 OpenInterestValue < 0），或时间戳不晚于序列最新时间。
// 返回的错误可用 errors.Is 与 ErrInvalid / ErrStale 比较。
func (s *Store) Append(obs model.Observation) error {
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	key := obs.SeriesKey()
	list := s.series[key]
	if n := len(list); n > 0 {
		last := list[n-1].Timestamp
		if !obs.Timestamp.After(last) {
			return fmt.Errorf("%w: %s 新时间 %s <= 最新时间 %s", ErrStale, key,
				obs.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		}
	}

	list = append(list, obs)
	if s.maxPerSeries > 0 && len(list) > s.maxPerSeries {
		drop := len(list) - s.maxPerSeries
		list = append(list[:0:0], list[drop:]...)
		s.truncated[key] = true
	}
	s.series[key] = list
	return nil
}

// Latest 获取序列最新观测
// 返回: 观测与是否存在
func (s *Store) Latest(key string) (model.Observation, bool) {
	list := s.series[key]
	if len(list) == 0 {
		return model.Observation{}, false
	}
	return list[len(list)-1], true
}

// All 获取序列全部观测（时间升序）
// 返回的切片为内部存储的只读视图，调用方不得修改。
func (s *Store) All(key string) []model.Observation {
	return s.series[key]
}

// Len 序列观测数
func (s *Store) Len(key string) int {
	return len(s.series[key])
}

// Mean 序列 OpenInterestValue 的算术平均，无数据时返回 0
func (s *Store) Mean(key string) float64 {
	list := s.series[key]
	if len(list) == 0 {
		return 0
	}
	var sum float64
	for i := range list {
		sum += list[i].OpenInterestValue
	}
	return sum / float64(len(list))
}

// Truncated 序列是否丢弃过观测
func (s *Store) Truncated(key string) bool {
	return s.truncated[key]
}

// Keys 返回全部序列 key（字典序）
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Trim 按保留期清理旧观测
// 删除时间早于 now-retention 的观测；清空的序列整体删除。
// 参数 retention: 保留期，<=0 表示不限制（不做任何清理）
// 返回: 删除的观测数
func (s *Store) Trim(now time.Time, retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := now.Add(-retention)
	removed := 0
	for key, list := range s.series {
		i := sort.Search(len(list), func(i int) bool {
			return !list[i].Timestamp.Before(cutoff)
		})
		if i == 0 {
			continue
		}
		removed += i
		if i == len(list) {
			delete(s.series, key)
			delete(s.truncated, key)
			continue
		}
		s.series[key] = append(list[:0:0], list[i:]...)
		s.truncated[key] = true
	}
	return removed
}

// Snapshot 深拷贝当前全部序列
func (s *Store) Snapshot() map[string][]model.Observation {
	out := make(map[string][]model.Observation, len(s.series))
	for k, list := range s.series {
		cp := make([]model.Observation, len(list))
		copy(cp, list)
		out[k] = cp
	}
	return out
}

// Restore 从快照恢复序列
// 逐条按 Append 规则加载：先按时间排序，非法或重复时间的观测被跳过。
// 快照中的 key 仅作分组用途，实际 key 由观测本身决定。
// 快照不记录截断状态：首条观测不在窗口起点的序列按已截断处理，
// 其最早窗口可能在重启前已被裁剪。
// 返回: 加载数量与跳过数量
func (s *Store) Restore(snap map[string][]model.Observation) (loaded, skipped int) {
	touched := make(map[string]struct{})
	defer s.markRestoredTruncated(touched)

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		list := append([]model.Observation(nil), snap[k]...)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp.Before(list[j].Timestamp)
		})
		for _, obs := range list {
			if err := s.Append(obs); err != nil {
				skipped++
				continue
			}
			touched[obs.SeriesKey()] = struct{}{}
			loaded++
		}
	}
	return loaded, skipped
}

func (s *Store) markRestoredTruncated(keys map[string]struct{}) {
	for key := range keys {
		list := s.series[key]
		if len(list) == 0 {
			continue
		}
		first := list[0].Timestamp
		if !first.Equal(timeutil.FloorTo(first, model.WindowSize)) {
			s.truncated[key] = true
		}
	}
}
