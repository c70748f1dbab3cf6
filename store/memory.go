package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/shoprec/core"
)

// MemoryKV 是内存实现的 KeyValueStore，用于测试/开发/单机部署。
// 支持 TTL（过期时间），进程重启后数据丢失。
type MemoryKV struct {
	mu    sync.RWMutex
	data  map[string]*entry
	zsets map[string]map[string]float64 // zset key -> member -> score
}

type entry struct {
	value  []byte
	expire *time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data:  make(map[string]*entry),
		zsets: make(map[string]map[string]float64),
	}
}

var _ core.KeyValueStore = (*MemoryKV)(nil)

func (m *MemoryKV) Name() string { return "memory" }

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotFound, "key not found: "+key)
	}
	if e.expire != nil && time.Now().After(*e.expire) {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotFound, "key expired: "+key)
	}
	return e.value, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttlSeconds ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{value: value}
	if len(ttlSeconds) > 0 && ttlSeconds[0] > 0 {
		expire := time.Now().Add(time.Duration(ttlSeconds[0]) * time.Second)
		e.expire = &expire
	}
	m.data[key] = e
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.zsets, key)
	return nil
}

func (m *MemoryKV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

// ZRange 按分数降序返回 [start, stop] 区间的成员（与 Redis 实现的 ZRevRange 对齐）。
func (m *MemoryKV) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	zset, ok := m.zsets[key]
	if !ok || len(zset) == 0 {
		return nil, nil
	}

	type pair struct {
		member string
		score  float64
	}
	pairs := make([]pair, 0, len(zset))
	for member, score := range zset {
		pairs = append(pairs, pair{member: member, score: score})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].member < pairs[j].member
	})

	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= int64(len(pairs)) {
		stop = int64(len(pairs)) - 1
	}
	if start > stop {
		return nil, nil
	}

	result := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		result = append(result, pairs[i].member)
	}
	return result, nil
}

func (m *MemoryKV) Close() error { return nil }
