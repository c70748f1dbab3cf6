package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rushteam/shoprec/core"
)

func fillWith(rows ...core.RecommendationRecord) func(insert core.BatchInsert) error {
	return func(insert core.BatchInsert) error { return insert(rows) }
}

func TestReplaceModelIsolatesModels(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceModel(ctx, core.ModelUserCF, fillWith(
		core.RecommendationRecord{UserID: "u1", ItemID: "i1", ModelType: core.ModelUserCF, Rank: 1},
	)); err != nil {
		t.Fatalf("写入 User-CF 失败: %v", err)
	}
	if err := m.ReplaceModel(ctx, core.ModelRFOptimized, fillWith(
		core.RecommendationRecord{UserID: "u1", ItemID: "i2", ModelType: core.ModelRFOptimized, Rank: 1},
	)); err != nil {
		t.Fatalf("写入 RF-Optimized 失败: %v", err)
	}

	// 重写 RF-Optimized 不应触碰 User-CF 的行
	if err := m.ReplaceModel(ctx, core.ModelRFOptimized, fillWith(
		core.RecommendationRecord{UserID: "u2", ItemID: "i3", ModelType: core.ModelRFOptimized, Rank: 1},
	)); err != nil {
		t.Fatalf("重写 RF-Optimized 失败: %v", err)
	}

	cf, _ := m.RecommendationCount(ctx, core.ModelUserCF)
	rf, _ := m.RecommendationCount(ctx, core.ModelRFOptimized)
	if cf != 1 || rf != 1 {
		t.Errorf("模型行未隔离: User-CF=%d RF-Optimized=%d", cf, rf)
	}
	rows, _ := m.RecommendationsByModel(ctx, core.ModelRFOptimized)
	if rows[0].UserID != "u2" {
		t.Errorf("RF-Optimized 旧行未被替换: %+v", rows)
	}
}

// fill 回调失败时旧数据必须原样保留（事务回滚语义）。
func TestReplaceModelRollbackOnFillError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceModel(ctx, core.ModelUserCF, fillWith(
		core.RecommendationRecord{UserID: "u1", ItemID: "i1", ModelType: core.ModelUserCF, Rank: 1},
	)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	err := m.ReplaceModel(ctx, core.ModelUserCF, func(insert core.BatchInsert) error {
		_ = insert([]core.RecommendationRecord{
			{UserID: "u9", ItemID: "i9", ModelType: core.ModelUserCF, Rank: 1},
		})
		return errors.New("boom")
	})
	if !core.IsPersistFailed(err) {
		t.Fatalf("期望 PERSIST_FAILED 错误，实际: %v", err)
	}

	rows, _ := m.RecommendationsByModel(ctx, core.ModelUserCF)
	if len(rows) != 1 || rows[0].UserID != "u1" {
		t.Errorf("失败的替换不应留下半成品: %+v", rows)
	}
}

func TestUserRecommendationsOrderedByRank(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceModel(ctx, core.ModelUserCF, fillWith(
		core.RecommendationRecord{UserID: "u1", ItemID: "i3", ModelType: core.ModelUserCF, Rank: 3},
		core.RecommendationRecord{UserID: "u1", ItemID: "i1", ModelType: core.ModelUserCF, Rank: 1},
		core.RecommendationRecord{UserID: "u1", ItemID: "i2", ModelType: core.ModelUserCF, Rank: 2},
		core.RecommendationRecord{UserID: "u2", ItemID: "i9", ModelType: core.ModelUserCF, Rank: 1},
	)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	rows, err := m.UserRecommendations(ctx, "u1", core.ModelUserCF, 2)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(rows) != 2 || rows[0].ItemID != "i1" || rows[1].ItemID != "i2" {
		t.Errorf("应按排名升序截断: %+v", rows)
	}
}

func TestCategoryTrend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceModel(ctx, core.ModelRFOptimized, fillWith(
		core.RecommendationRecord{UserID: "u1", ItemID: "i1", Category: "图书", ModelType: core.ModelRFOptimized, Score: 0.9, Rank: 1},
		core.RecommendationRecord{UserID: "u1", ItemID: "i2", Category: "图书", ModelType: core.ModelRFOptimized, Score: 0.4, Rank: 2},
		core.RecommendationRecord{UserID: "u1", ItemID: "i3", Category: "家电", ModelType: core.ModelRFOptimized, Score: 0.7, Rank: 3},
	)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	trend, err := m.CategoryTrend(ctx, "u1", core.ModelRFOptimized, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(trend) != 2 {
		t.Fatalf("期望 2 个品类，实际 %d 个", len(trend))
	}
	if trend[0].Category != "图书" || trend[0].Score != 0.9 {
		t.Errorf("首位应为品类内最高分: %+v", trend[0])
	}
	if trend[1].Category != "家电" || trend[1].Score != 0.7 {
		t.Errorf("次位错误: %+v", trend[1])
	}
}

func TestPersonaDistributions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.ReplacePersonas(ctx, []core.PersonaRecord{
		{UserID: "u1", PersonaTag: "高价值核心", ConsumptionLevel: "高消费"},
		{UserID: "u2", PersonaTag: "高价值核心", ConsumptionLevel: "中等消费"},
		{UserID: "u3", PersonaTag: "潜力新客", ConsumptionLevel: "低消费"},
	}); err != nil {
		t.Fatalf("写入画像失败: %v", err)
	}

	tags, err := m.PersonaTagDistribution(ctx)
	if err != nil {
		t.Fatalf("标签分布查询失败: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("期望 2 个标签分组，实际 %d 个", len(tags))
	}
	if tags[0].Name != "高价值核心" || tags[0].Count != 2 {
		t.Errorf("首位应为人数最多的标签: %+v", tags[0])
	}

	levels, err := m.ConsumptionLevels(ctx)
	if err != nil {
		t.Fatalf("消费等级分布查询失败: %v", err)
	}
	if len(levels) != 3 {
		t.Errorf("期望 3 个消费等级分组，实际 %d 个", len(levels))
	}
	for _, l := range levels {
		if l.Count != 1 {
			t.Errorf("各等级应各有 1 人: %+v", l)
		}
	}
}

// 同一用户在一个品类下出现多条结果时只计入一次覆盖。
func TestCategoryReachDistinctUsers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.ReplaceModel(ctx, core.ModelRFOptimized, fillWith(
		core.RecommendationRecord{UserID: "u1", ItemID: "i1", Category: "图书", ModelType: core.ModelRFOptimized, Rank: 1},
		core.RecommendationRecord{UserID: "u1", ItemID: "i2", Category: "图书", ModelType: core.ModelRFOptimized, Rank: 2},
		core.RecommendationRecord{UserID: "u2", ItemID: "i1", Category: "图书", ModelType: core.ModelRFOptimized, Rank: 1},
		core.RecommendationRecord{UserID: "u2", ItemID: "i3", Category: "家电", ModelType: core.ModelRFOptimized, Rank: 2},
	)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	// 其他模型的行不计入
	if err := m.ReplaceModel(ctx, core.ModelUserCF, fillWith(
		core.RecommendationRecord{UserID: "u3", ItemID: "i1", Category: "图书", ModelType: core.ModelUserCF, Rank: 1},
	)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	reach, err := m.CategoryReach(ctx, core.ModelRFOptimized, 10)
	if err != nil {
		t.Fatalf("品类覆盖查询失败: %v", err)
	}
	if len(reach) != 2 {
		t.Fatalf("期望 2 个品类，实际 %d 个", len(reach))
	}
	if reach[0].Name != "图书" || reach[0].Count != 2 {
		t.Errorf("图书应覆盖 2 个去重用户: %+v", reach[0])
	}
	if reach[1].Name != "家电" || reach[1].Count != 1 {
		t.Errorf("家电应覆盖 1 个用户: %+v", reach[1])
	}

	// limit 截断生效
	if top, _ := m.CategoryReach(ctx, core.ModelRFOptimized, 1); len(top) != 1 {
		t.Errorf("limit=1 应只返回榜首，实际 %d 个", len(top))
	}
}

func TestPersonaByUserNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.PersonaByUser(context.Background(), "nobody"); !core.IsNotFound(err) {
		t.Errorf("期望 NOT_FOUND 错误，实际: %v", err)
	}
}

func TestJoinedFactsInnerJoin(t *testing.T) {
	m := NewMemory()
	m.SeedUsers(core.UserRecord{UserID: "u1"})
	m.SeedItems(core.ItemRecord{ItemID: "i1", Category: "图书"})
	m.SeedFacts(
		core.InteractionFact{UserID: "u1", ItemID: "i1"},
		core.InteractionFact{UserID: "u1", ItemID: "ghost"}, // 商品缺维表行
		core.InteractionFact{UserID: "ghost", ItemID: "i1"}, // 用户缺维表行
	)

	joined, err := m.JoinedFacts(context.Background())
	if err != nil {
		t.Fatalf("联查失败: %v", err)
	}
	if len(joined) != 1 {
		t.Errorf("内连接应丢弃缺维表行的事实: 期望 1 行，实际 %d 行", len(joined))
	}
}
