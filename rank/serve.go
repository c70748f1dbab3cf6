package rank

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rushteam/shoprec/core"
)

// Recommendation 是读路径的返回单元。
type Recommendation struct {
	ItemID   string  `json:"item_id"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Reader 从已持久化的打分结果提供只读查询，不触发任何计算。
// 配置了 KV 时做读穿缓存：首查回填，五分钟过期。
type Reader struct {
	Recs core.RecommendationStore
	KV   core.KeyValueStore // 可选
}

const serveCacheTTL = 300 // 秒

// TopRecommendations 返回 userID 在排序模型下按 rank 升序的前 topN 条。
func (r *Reader) TopRecommendations(ctx context.Context, userID string, topN int) ([]Recommendation, error) {
	if topN <= 0 {
		topN = 5
	}
	cacheKey := fmt.Sprintf("shoprec:serve:%s:%d", userID, topN)

	if r.KV != nil {
		if data, err := r.KV.Get(ctx, cacheKey); err == nil {
			var cached []Recommendation
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}

	rows, err := r.Recs.UserRecommendations(ctx, userID, core.ModelRFOptimized, topN)
	if err != nil {
		return nil, err
	}
	out := make([]Recommendation, 0, len(rows))
	for _, row := range rows {
		out = append(out, Recommendation{ItemID: row.ItemID, Category: row.Category, Score: row.Score})
	}

	if r.KV != nil {
		if data, err := json.Marshal(out); err == nil {
			_ = r.KV.Set(ctx, cacheKey, data, serveCacheTTL)
		}
	}
	return out, nil
}
