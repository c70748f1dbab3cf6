package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/shoprec/core"
)

// Memory 是全内存的 Interaction Store 实现，联查在内存中展开。
// 用于测试与原型验证，与 GORM 实现遵循同一套接口语义。
type Memory struct {
	mu               sync.RWMutex
	users            []core.UserRecord
	items            []core.ItemRecord
	facts            []core.InteractionFact
	personas         []core.PersonaRecord
	recommendations  []core.RecommendationRecord
	modelMetrics     []core.MetricRecord
	thresholdMetrics []core.ThresholdMetric
	elbowMetrics     []core.ElbowMetric
}

var (
	_ core.DatasetStore        = (*Memory)(nil)
	_ core.PersonaStore        = (*Memory)(nil)
	_ core.RecommendationStore = (*Memory)(nil)
	_ core.MetricStore         = (*Memory)(nil)
)

func NewMemory() *Memory { return &Memory{} }

// SeedUsers / SeedItems / SeedFacts 写入基础表（测试夹具）。

func (m *Memory) SeedUsers(users ...core.UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, users...)
}

func (m *Memory) SeedItems(items ...core.ItemRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
}

func (m *Memory) SeedFacts(facts ...core.InteractionFact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append(m.facts, facts...)
}

func (m *Memory) Users(ctx context.Context) ([]core.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.UserRecord(nil), m.users...), nil
}

func (m *Memory) Items(ctx context.Context) ([]core.ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.ItemRecord(nil), m.items...), nil
}

func (m *Memory) Facts(ctx context.Context) ([]core.InteractionFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.InteractionFact(nil), m.facts...), nil
}

func (m *Memory) JoinedFacts(ctx context.Context) ([]core.JoinedFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userIdx := make(map[string]core.UserRecord, len(m.users))
	for _, u := range m.users {
		userIdx[u.UserID] = u
	}
	itemIdx := make(map[string]core.ItemRecord, len(m.items))
	for _, it := range m.items {
		itemIdx[it.ItemID] = it
	}

	out := make([]core.JoinedFact, 0, len(m.facts))
	for _, f := range m.facts {
		u, uok := userIdx[f.UserID]
		it, iok := itemIdx[f.ItemID]
		if !uok || !iok {
			continue // inner join 语义
		}
		out = append(out, core.JoinedFact{User: u, Fact: f, Item: it})
	}
	return out, nil
}

func (m *Memory) LabeledFacts(ctx context.Context) ([]core.LabeledFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	personaIdx := make(map[string]core.PersonaRecord, len(m.personas))
	for _, p := range m.personas {
		personaIdx[p.UserID] = p
	}
	itemIdx := make(map[string]core.ItemRecord, len(m.items))
	for _, it := range m.items {
		itemIdx[it.ItemID] = it
	}

	out := make([]core.LabeledFact, 0, len(m.facts))
	for _, f := range m.facts {
		p, pok := personaIdx[f.UserID]
		it, iok := itemIdx[f.ItemID]
		if !pok || !iok {
			continue
		}
		out = append(out, core.LabeledFact{
			UserID: f.UserID, ItemID: f.ItemID, Label: f.Label,
			Category: it.Category,
			PVCount:  f.PVCount, Add2Cart: f.Add2Cart,
			CollectNum: f.CollectNum, LikeNum: f.LikeNum,
			ClusterLabel: p.ClusterLabel, IsChurnRisk: p.IsChurnRisk,
			LoyaltyScore: p.LoyaltyScore, PriceSensitivity: p.PriceSensitivity,
			Price: it.Price, DiscountRate: it.DiscountRate, HasVideo: it.HasVideo,
		})
	}
	return out, nil
}

func (m *Memory) ReplacePersonas(ctx context.Context, records []core.PersonaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personas = append([]core.PersonaRecord(nil), records...)
	return nil
}

func (m *Memory) Personas(ctx context.Context) ([]core.PersonaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.PersonaRecord(nil), m.personas...), nil
}

func (m *Memory) PersonaByUser(ctx context.Context, userID string) (*core.PersonaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.personas {
		if p.UserID == userID {
			rec := p
			return &rec, nil
		}
	}
	return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotFound,
		fmt.Sprintf("persona not found for user %s", userID))
}

func (m *Memory) PersonaCount(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.personas)), nil
}

func (m *Memory) PersonaTagDistribution(ctx context.Context) ([]core.NameCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int64)
	for _, p := range m.personas {
		counts[p.PersonaTag]++
	}
	return sortedCounts(counts, 0), nil
}

func (m *Memory) ConsumptionLevels(ctx context.Context) ([]core.NameCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int64)
	for _, p := range m.personas {
		counts[p.ConsumptionLevel]++
	}
	return sortedCounts(counts, 0), nil
}

// sortedCounts 把分组计数展开为降序列表，平局按名称升序。
func sortedCounts(counts map[string]int64, limit int) []core.NameCount {
	out := make([]core.NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, core.NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ReplaceModel(ctx context.Context, model string, fill func(insert core.BatchInsert) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 先在副本上执行替换，fill 失败时旧数据保持可见（模拟事务回滚）
	kept := make([]core.RecommendationRecord, 0, len(m.recommendations))
	for _, r := range m.recommendations {
		if r.ModelType != model {
			kept = append(kept, r)
		}
	}
	insert := func(records []core.RecommendationRecord) error {
		kept = append(kept, records...)
		return nil
	}
	if err := fill(insert); err != nil {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodePersistFailed,
			fmt.Sprintf("replace recommendations %s: %v", model, err))
	}
	m.recommendations = kept
	return nil
}

func (m *Memory) RecommendationsByModel(ctx context.Context, model string) ([]core.RecommendationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.RecommendationRecord
	for _, r := range m.recommendations {
		if r.ModelType == model {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) UserRecommendations(ctx context.Context, userID, model string, limit int) ([]core.RecommendationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.RecommendationRecord
	for _, r := range m.recommendations {
		if r.UserID == userID && r.ModelType == model {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CategoryTrend(ctx context.Context, userID, model string, limit int) ([]core.CategoryScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := make(map[string]float64)
	for _, r := range m.recommendations {
		if r.UserID != userID || r.ModelType != model {
			continue
		}
		if r.Score > best[r.Category] {
			best[r.Category] = r.Score
		}
	}
	out := make([]core.CategoryScore, 0, len(best))
	for category, score := range best {
		out = append(out, core.CategoryScore{Category: category, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Category < out[j].Category
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// CategoryReach 统计各品类覆盖的去重用户数（同一用户在一个品类下只计一次）。
func (m *Memory) CategoryReach(ctx context.Context, model string, limit int) ([]core.NameCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reach := make(map[string]map[string]bool)
	for _, r := range m.recommendations {
		if r.ModelType != model {
			continue
		}
		if reach[r.Category] == nil {
			reach[r.Category] = make(map[string]bool)
		}
		reach[r.Category][r.UserID] = true
	}
	counts := make(map[string]int64, len(reach))
	for category, users := range reach {
		counts[category] = int64(len(users))
	}
	return sortedCounts(counts, limit), nil
}

func (m *Memory) RecommendationCount(ctx context.Context, model string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, r := range m.recommendations {
		if r.ModelType == model {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ReplaceModelMetrics(ctx context.Context, records []core.MetricRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelMetrics = append([]core.MetricRecord(nil), records...)
	return nil
}

func (m *Memory) ModelMetrics(ctx context.Context) ([]core.MetricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.MetricRecord(nil), m.modelMetrics...), nil
}

func (m *Memory) ReplaceThresholdMetrics(ctx context.Context, records []core.ThresholdMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholdMetrics = append([]core.ThresholdMetric(nil), records...)
	return nil
}

func (m *Memory) ThresholdMetrics(ctx context.Context) ([]core.ThresholdMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.ThresholdMetric(nil), m.thresholdMetrics...), nil
}

func (m *Memory) ReplaceElbowMetrics(ctx context.Context, records []core.ElbowMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elbowMetrics = append([]core.ElbowMetric(nil), records...)
	return nil
}

func (m *Memory) ElbowMetrics(ctx context.Context) ([]core.ElbowMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.ElbowMetric(nil), m.elbowMetrics...), nil
}
