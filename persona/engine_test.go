package persona

import (
	"context"
	"testing"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/pkg/logger"
	"github.com/rushteam/shoprec/store"
)

// seedDataset 构造 6 个用户、消费呈三档分布的夹具。
func seedDataset() *store.Memory {
	m := store.NewMemory()
	m.SeedUsers(
		core.UserRecord{UserID: "u1", Age: 22, RegisterDays: 10, TotalSpend: 100, PurchaseFreq: 1, FansNum: 10, FollowNum: 20},
		core.UserRecord{UserID: "u2", Age: 25, RegisterDays: 30, TotalSpend: 150, PurchaseFreq: 2, FansNum: 5, FollowNum: 8},
		core.UserRecord{UserID: "u3", Age: 30, RegisterDays: 200, TotalSpend: 5000, PurchaseFreq: 10, FansNum: 50, FollowNum: 30},
		core.UserRecord{UserID: "u4", Age: 35, RegisterDays: 300, TotalSpend: 5500, PurchaseFreq: 12, FansNum: 500, FollowNum: 100},
		core.UserRecord{UserID: "u5", Age: 40, RegisterDays: 500, TotalSpend: 20000, PurchaseFreq: 30, FansNum: 80, FollowNum: 10},
		core.UserRecord{UserID: "u6", Age: 45, RegisterDays: 600, TotalSpend: 22000, PurchaseFreq: 28, FansNum: 60, FollowNum: 15},
	)
	m.SeedItems(
		core.ItemRecord{ItemID: "i1", Category: "图书", Price: 30, DiscountRate: 0.1},
		core.ItemRecord{ItemID: "i2", Category: "家电", Price: 2000, DiscountRate: 0.3},
	)
	for _, userID := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		gap := 5.0
		rate := 20.0
		if userID == "u2" {
			gap = 45 // 超过 30 天静默 → 流失风险
			rate = 3 // 低于 10 → 沉睡
		}
		m.SeedFacts(
			core.InteractionFact{UserID: userID, ItemID: "i1", PVCount: 3, InteractionRate: rate, LastClickGap: gap},
			core.InteractionFact{UserID: userID, ItemID: "i2", PVCount: 1, InteractionRate: rate, LastClickGap: gap},
		)
	}
	return m
}

func personaByUser(t *testing.T, m *store.Memory, userID string) core.PersonaRecord {
	t.Helper()
	p, err := m.PersonaByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("查询画像失败 %s: %v", userID, err)
	}
	return *p
}

func TestBuildPersonas(t *testing.T) {
	m := seedDataset()
	engine := &Engine{Data: m, Personas: m, Log: logger.Nop(), Seed: 42}

	outcome, err := engine.Build(context.Background(), 4)
	if err != nil {
		t.Fatalf("画像构建失败: %v", err)
	}
	if !outcome.OK {
		t.Fatalf("期望成功结果，实际: %s", outcome.Message)
	}

	count, _ := m.PersonaCount(context.Background())
	if count != 6 {
		t.Fatalf("期望 6 条画像，实际 %d 条", count)
	}

	// 消费等级必须随消费总额单调：低消费组 < 中消费组 < 高消费组
	low := personaByUser(t, m, "u1")
	mid := personaByUser(t, m, "u3")
	high := personaByUser(t, m, "u5")
	if !(low.ConsumptionTier < mid.ConsumptionTier && mid.ConsumptionTier < high.ConsumptionTier) {
		t.Errorf("消费等级未按消费额单调: u1=%d u3=%d u5=%d",
			low.ConsumptionTier, mid.ConsumptionTier, high.ConsumptionTier)
	}
	if low.ConsumptionLevel != "低消费" || high.ConsumptionLevel != "高消费" {
		t.Errorf("消费等级标签错误: %s / %s", low.ConsumptionLevel, high.ConsumptionLevel)
	}
}

func TestBuildDerivedAttributes(t *testing.T) {
	m := seedDataset()
	engine := &Engine{Data: m, Personas: m, Log: logger.Nop(), Seed: 42}
	if _, err := engine.Build(context.Background(), 4); err != nil {
		t.Fatalf("画像构建失败: %v", err)
	}

	churned := personaByUser(t, m, "u2")
	if !churned.IsChurnRisk {
		t.Error("静默 45 天的用户应标记为流失风险")
	}
	if churned.ActivityLevel != "沉睡" {
		t.Errorf("低互动率用户应为沉睡，实际 %s", churned.ActivityLevel)
	}

	active := personaByUser(t, m, "u1")
	if active.IsChurnRisk {
		t.Error("静默 5 天的用户不应标记为流失风险")
	}
	if active.ActivityLevel != "活跃" {
		t.Errorf("高互动率用户应为活跃，实际 %s", active.ActivityLevel)
	}

	// 社交影响力 = 0.7*fans + 0.3*follow，夹在 [0,100]
	if got, want := active.SocialInfluence, 10*0.7+20*0.3; got != want {
		t.Errorf("社交影响力期望 %v，实际 %v", want, got)
	}
	bigV := personaByUser(t, m, "u4") // 0.7*500 + 0.3*100 = 380 → 夹到 100
	if bigV.SocialInfluence != 100 {
		t.Errorf("社交影响力应夹在 100 以内，实际 %v", bigV.SocialInfluence)
	}

	// 交互最多的品类
	if active.PreferredCategory != "图书" {
		t.Errorf("偏好品类期望 图书，实际 %s", active.PreferredCategory)
	}
}

func TestBuildNoData(t *testing.T) {
	m := store.NewMemory()
	engine := &Engine{Data: m, Personas: m, Log: logger.Nop()}

	outcome, err := engine.Build(context.Background(), 4)
	if err == nil {
		t.Fatal("空库构建应该失败")
	}
	if !core.IsNoData(err) {
		t.Errorf("期望 NO_DATA 错误，实际: %v", err)
	}
	if outcome.OK {
		t.Error("失败路径不应返回成功结果")
	}
	if count, _ := m.PersonaCount(context.Background()); count != 0 {
		t.Errorf("失败时不应写入画像，实际 %d 条", count)
	}
}

// 画像表是整表替换语义：重复构建不会累积行。
func TestBuildReplacesWholeTable(t *testing.T) {
	m := seedDataset()
	engine := &Engine{Data: m, Personas: m, Log: logger.Nop(), Seed: 42}

	ctx := context.Background()
	if _, err := engine.Build(ctx, 4); err != nil {
		t.Fatalf("首次构建失败: %v", err)
	}
	if _, err := engine.Build(ctx, 2); err != nil {
		t.Fatalf("二次构建失败: %v", err)
	}
	if count, _ := m.PersonaCount(ctx); count != 6 {
		t.Errorf("重复构建后画像应仍为 6 条，实际 %d 条", count)
	}
}

func TestBuildTagRuleOverride(t *testing.T) {
	m := seedDataset()
	engine := &Engine{
		Data: m, Personas: m, Log: logger.Nop(), Seed: 42,
		TagRules: []TagRule{
			{Expr: `user.total_spend > 10000.0`, Tag: "超级VIP"},
		},
	}
	if _, err := engine.Build(context.Background(), 4); err != nil {
		t.Fatalf("画像构建失败: %v", err)
	}

	if got := personaByUser(t, m, "u5").PersonaTag; got != "超级VIP" {
		t.Errorf("规则应覆盖默认标签，实际 %s", got)
	}
	if got := personaByUser(t, m, "u1").PersonaTag; got == "超级VIP" {
		t.Error("低消费用户不应命中 VIP 规则")
	}
}

func TestBuildInvalidRuleFailsFast(t *testing.T) {
	m := seedDataset()
	engine := &Engine{
		Data: m, Personas: m, Log: logger.Nop(),
		TagRules: []TagRule{{Expr: `user.total_spend >`, Tag: "bad"}},
	}
	if _, err := engine.Build(context.Background(), 4); err == nil {
		t.Fatal("非法规则表达式应在入口直接失败")
	}
	if count, _ := m.PersonaCount(context.Background()); count != 0 {
		t.Errorf("规则编译失败时不应写入画像，实际 %d 条", count)
	}
}

func TestApplyRulesLastMatchWins(t *testing.T) {
	rules, err := compileRules([]TagRule{
		{Expr: `user.total_spend > 100.0`, Tag: "first"},
		{Expr: `user.total_spend > 200.0`, Tag: "second"},
	})
	if err != nil {
		t.Fatalf("编译规则失败: %v", err)
	}
	got := applyRules(rules, "default", map[string]any{"total_spend": 300.0})
	if got != "second" {
		t.Errorf("后匹配规则应覆盖前者，实际 %s", got)
	}
	got = applyRules(rules, "default", map[string]any{"total_spend": 50.0})
	if got != "default" {
		t.Errorf("无规则命中时应保留默认标签，实际 %s", got)
	}
}
