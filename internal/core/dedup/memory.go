package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 进程内冷却键存储
// 过期键在下次查询时才被覆盖，未清理的过期键不影响结果。
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time)}
}

// Acquire 实现 CooldownStore
func (m *MemoryStore) Acquire(_ context.Context, key string, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

// Prune 删除已过期的键
// 返回: 删除数量
func (m *MemoryStore) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, k)
			n++
		}
	}
	return n
}

// Len 当前键数量（含未清理的过期键）
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}
