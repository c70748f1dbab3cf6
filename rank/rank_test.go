package rank

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/model"
	"github.com/rushteam/shoprec/pkg/logger"
	"github.com/rushteam/shoprec/store"
)

func TestFeatureNames(t *testing.T) {
	names := featureNames(map[string]struct{}{"家电": {}, "图书": {}})

	if len(names) != len(baseFeatures)+2 {
		t.Fatalf("期望 %d 列，实际 %d 列", len(baseFeatures)+2, len(names))
	}
	// 基础列在前，独热列按字典序追加
	for i, base := range baseFeatures {
		if names[i] != base {
			t.Errorf("位置 %d: 期望 %s，实际 %s", i, base, names[i])
		}
	}
	oneHot := names[len(baseFeatures):]
	if !strings.HasPrefix(oneHot[0], categoryPrefix) || !strings.HasPrefix(oneHot[1], categoryPrefix) {
		t.Errorf("独热列缺少前缀: %v", oneHot)
	}
	if oneHot[0] >= oneHot[1] {
		t.Errorf("独热列应按字典序排列: %v", oneHot)
	}
}

func TestStratifiedSplit(t *testing.T) {
	var rows []core.LabeledFact
	for i := 0; i < 100; i++ {
		label := 0
		if i < 20 {
			label = 1
		}
		rows = append(rows, core.LabeledFact{UserID: "u", ItemID: "i", Label: label})
	}

	rng := rand.New(rand.NewSource(42))
	train, val := stratifiedSplit(rows, 0.2, rng)

	if len(train)+len(val) != 100 {
		t.Fatalf("拆分后样本总数不守恒: train=%d val=%d", len(train), len(val))
	}
	countPos := func(rows []core.LabeledFact) int {
		var n int
		for _, r := range rows {
			if r.Label == 1 {
				n++
			}
		}
		return n
	}
	// 分层拆分：正类 20 个，验证集恰好 4 个
	if got := countPos(val); got != 4 {
		t.Errorf("验证集正类期望 4 个，实际 %d 个", got)
	}
	if got := countPos(train); got != 16 {
		t.Errorf("训练集正类期望 16 个，实际 %d 个", got)
	}
}

func TestUndersample(t *testing.T) {
	var rows []core.LabeledFact
	for i := 0; i < 5; i++ {
		rows = append(rows, core.LabeledFact{Label: 1})
	}
	for i := 0; i < 100; i++ {
		rows = append(rows, core.LabeledFact{Label: 0})
	}

	rng := rand.New(rand.NewSource(42))
	balanced := undersample(rows, negPosRatio, rng)

	var pos, neg int
	for _, r := range balanced {
		if r.Label == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos != 5 {
		t.Errorf("欠采样不应丢弃正类: 期望 5，实际 %d", pos)
	}
	if neg != 5*negPosRatio {
		t.Errorf("负类应采样到 %d 个，实际 %d 个", 5*negPosRatio, neg)
	}
}

func TestUndersampleKeepsAllWhenBalanced(t *testing.T) {
	rows := []core.LabeledFact{{Label: 1}, {Label: 0}, {Label: 0}}
	rng := rand.New(rand.NewSource(42))
	if got := undersample(rows, negPosRatio, rng); len(got) != 3 {
		t.Errorf("负类不足配额时应全量保留: 期望 3，实际 %d", len(got))
	}
}

func TestPRF(t *testing.T) {
	tests := []struct {
		name       string
		tp, fp, fn float64
		p, r, f1   float64
	}{
		{"全对", 10, 0, 0, 1, 1, 1},
		{"对半", 5, 5, 5, 0.5, 0.5, 0.5},
		{"无预测", 0, 0, 10, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r, f1 := prf(tt.tp, tt.fp, tt.fn)
			if p != tt.p || r != tt.r || f1 != tt.f1 {
				t.Errorf("期望 (%v, %v, %v)，实际 (%v, %v, %v)", tt.p, tt.r, tt.f1, p, r, f1)
			}
		})
	}
}

func TestSplitUsers(t *testing.T) {
	users := []string{"a", "b", "c", "d", "e"}

	chunks := splitUsers(users, 2)
	if len(chunks) != 2 {
		t.Fatalf("期望 2 个分片，实际 %d 个", len(chunks))
	}

	// 分片数超过用户数时收缩，不产生空分片
	chunks = splitUsers(users, 20)
	if len(chunks) != 5 {
		t.Fatalf("分片数应收缩到用户数: 期望 5，实际 %d", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c) == 0 {
			t.Error("不应出现空分片")
		}
		total += len(c)
	}
	if total != 5 {
		t.Errorf("分片后用户总数不守恒: %d", total)
	}

	if got := splitUsers(nil, 4); len(got) != 0 {
		t.Errorf("空用户列表应返回空分片，实际 %d 个", len(got))
	}
}

// scoringFixture 训练一个把 pv_count 高的候选判为正类的小森林。
func scoringFixture(t *testing.T) *ScoringContext {
	t.Helper()
	names := []string{"pv_count", "price", "category_图书"}
	var X [][]float64
	var y []int
	for i := 0; i < 30; i++ {
		X = append(X, []float64{10 + float64(i%5), 30, 1})
		y = append(y, 1)
		X = append(X, []float64{float64(i % 3), 30, 1})
		y = append(y, 0)
	}
	forest := model.TrainForest(X, y, names, 20, 5, 2, 42)

	return &ScoringContext{
		Forest: forest,
		Items: []core.ItemRecord{
			{ItemID: "hot", Category: "图书", Price: 30},
			{ItemID: "cold", Category: "图书", Price: 30},
		},
		Users: map[string]userFeatures{"u1": {}},
		Behavior: map[string]behaviorFeatures{
			behaviorKey("u1", "hot"): {PVCount: 12},
			// cold 无行为记录 → 左连接补零
		},
		Affinity: map[string]float64{},
	}
}

func TestScoreChunkThresholdAndRank(t *testing.T) {
	sc := scoringFixture(t)

	rows, err := scoreChunk(context.Background(), sc, []string{"u1"}, 5, 0.5)
	if err != nil {
		t.Fatalf("打分失败: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("高分候选应过阈值")
	}
	if rows[0].ItemID != "hot" {
		t.Errorf("首位应为高行为量候选，实际 %s", rows[0].ItemID)
	}
	for i, r := range rows {
		if r.Rank != i+1 {
			t.Errorf("排名应稠密递增: 位置 %d 实际 %d", i, r.Rank)
		}
		if r.Score < 0.5 {
			t.Errorf("过阈值结果的分数不应低于阈值: %v", r.Score)
		}
		if r.ModelType != core.ModelRFOptimized {
			t.Errorf("模型标识错误: %s", r.ModelType)
		}
	}
}

// 阈值高到全军覆没时，保底保留该用户分数最高的一条。
func TestScoreChunkSingleBestFallback(t *testing.T) {
	sc := scoringFixture(t)

	rows, err := scoreChunk(context.Background(), sc, []string{"u1"}, 5, 0.999)
	if err != nil {
		t.Fatalf("打分失败: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("兜底应恰好保留 1 条，实际 %d 条", len(rows))
	}
	if rows[0].ItemID != "hot" || rows[0].Rank != 1 {
		t.Errorf("兜底应为最高分候选且排名为 1: %+v", rows[0])
	}
}

func TestScoreChunkCancelled(t *testing.T) {
	sc := scoringFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := scoreChunk(ctx, sc, []string{"u1"}, 5, 0.5); err == nil {
		t.Fatal("已取消的上下文应中止分片")
	}
}

// brokenForest 构造一棵带非法分支的决策树：pv_count 超过阈值的样本
// 会走到空子节点触发 panic，低于阈值的样本正常落叶。
func brokenForest() *model.Forest {
	return &model.Forest{
		Trees: []*model.TreeNode{{
			Feature:   0, // pv_count
			Threshold: 5,
			Left:      &model.TreeNode{Leaf: true, Proba: 0.9},
		}},
		FeatureNames: []string{"pv_count"},
	}
}

func TestScoreChunkRecoversPanic(t *testing.T) {
	sc := &ScoringContext{
		Forest:   brokenForest(),
		Items:    []core.ItemRecord{{ItemID: "i1", Category: "图书"}},
		Users:    map[string]userFeatures{"u1": {}},
		Behavior: map[string]behaviorFeatures{behaviorKey("u1", "i1"): {PVCount: 10}},
		Affinity: map[string]float64{},
	}

	rows, err := scoreChunk(context.Background(), sc, []string{"u1"}, 5, 0.5)
	if err == nil {
		t.Fatal("分片内 panic 应被拦截为错误返回")
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Errorf("错误应标注 panic 来源: %v", err)
	}
	if rows != nil {
		t.Errorf("失败分片不应产出任何行: %+v", rows)
	}
}

// 单个分片失败只造成覆盖缺口：其余分片照常落库，结果消息上报缺席规模。
func TestScoreAllPartialCoverage(t *testing.T) {
	m := store.NewMemory()
	m.SeedItems(core.ItemRecord{ItemID: "i1", Category: "图书"})
	trainer := &Trainer{Data: m, Recs: m, Log: logger.Nop(), Workers: 1, Chunks: 2}

	// u1 行为量低走正常叶子，u2 行为量高触发分片 panic
	raw := []core.LabeledFact{
		{UserID: "u1", ItemID: "i1", PVCount: 1},
		{UserID: "u2", ItemID: "i1", PVCount: 10},
	}
	outcome, err := trainer.scoreAll(context.Background(), brokenForest(), raw, map[string]float64{}, 5, 0.5)
	if err != nil {
		t.Fatalf("部分失败不应中止整次打分: %v", err)
	}
	if !outcome.OK {
		t.Fatalf("部分覆盖仍应是成功结果: %s", outcome.Message)
	}
	if !strings.Contains(outcome.Message, "部分覆盖") || !strings.Contains(outcome.Message, "1/2") {
		t.Errorf("结果消息应上报失败分片数: %s", outcome.Message)
	}

	ctx := context.Background()
	if rows, _ := m.UserRecommendations(ctx, "u1", core.ModelRFOptimized, 0); len(rows) != 1 {
		t.Errorf("成功分片的用户应有落库结果: %+v", rows)
	}
	if rows, _ := m.UserRecommendations(ctx, "u2", core.ModelRFOptimized, 0); len(rows) != 0 {
		t.Errorf("失败分片的用户应缺席本次输出: %+v", rows)
	}
}

// 全部分片失败时不执行替换，上一版结果保持完整。
func TestScoreAllKeepsPreviousOnTotalFailure(t *testing.T) {
	m := store.NewMemory()
	m.SeedItems(core.ItemRecord{ItemID: "i1", Category: "图书"})
	previous := core.RecommendationRecord{
		UserID: "u1", ItemID: "i1", ModelType: core.ModelRFOptimized, Score: 0.8, Rank: 1,
	}
	err := m.ReplaceModel(context.Background(), core.ModelRFOptimized, func(insert core.BatchInsert) error {
		return insert([]core.RecommendationRecord{previous})
	})
	if err != nil {
		t.Fatalf("预置旧结果失败: %v", err)
	}

	trainer := &Trainer{Data: m, Recs: m, Log: logger.Nop(), Workers: 1, Chunks: 1}
	raw := []core.LabeledFact{{UserID: "u2", ItemID: "i1", PVCount: 10}}

	outcome, err := trainer.scoreAll(context.Background(), brokenForest(), raw, map[string]float64{}, 5, 0.5)
	if err == nil {
		t.Fatal("全部分片失败应返回错误")
	}
	if outcome.OK {
		t.Errorf("全部分片失败不应是成功结果: %s", outcome.Message)
	}
	count, _ := m.RecommendationCount(context.Background(), core.ModelRFOptimized)
	if count != 1 {
		t.Errorf("失败的打分不应清空上一版结果，期望保留 1 条，实际 %d 条", count)
	}
}

// seedTraining 构造可以跑通完整训练链路的夹具：画像已就位，标签可分。
func seedTraining(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	m.SeedItems(
		core.ItemRecord{ItemID: "i1", Category: "图书", Price: 30},
		core.ItemRecord{ItemID: "i2", Category: "家电", Price: 2000},
	)

	var personas []core.PersonaRecord
	for i := 0; i < 10; i++ {
		userID := "u" + string(rune('a'+i))
		personas = append(personas, core.PersonaRecord{UserID: userID, LoyaltyScore: 50})
		// 正样本：高行为量；负样本：低行为量
		m.SeedFacts(
			core.InteractionFact{UserID: userID, ItemID: "i1", PVCount: 15, Add2Cart: 3, Label: 1},
			core.InteractionFact{UserID: userID, ItemID: "i2", PVCount: 1, Label: 0},
		)
	}
	if err := m.ReplacePersonas(context.Background(), personas); err != nil {
		t.Fatalf("写入画像夹具失败: %v", err)
	}
	return m
}

func TestTrainEndToEnd(t *testing.T) {
	m := seedTraining(t)
	trainer := &Trainer{
		Data: m, Recs: m, Metrics: m, Log: logger.Nop(),
		ArtifactPath: filepath.Join(t.TempDir(), "rf_model.json"),
		NumTrees:     10, MaxDepth: 5, MinSamplesLeaf: 2,
		Workers: 2, Chunks: 4, Seed: 42,
	}

	ctx := context.Background()
	outcome, err := trainer.Train(ctx, 2, 0.3)
	if err != nil {
		t.Fatalf("训练失败: %v", err)
	}
	if !outcome.OK {
		t.Fatalf("期望成功结果: %s", outcome.Message)
	}

	// 模型工件已持久化且可回读
	forest, err := model.LoadArtifact(trainer.ArtifactPath)
	if err != nil {
		t.Fatalf("加载模型工件失败: %v", err)
	}
	if len(forest.FeatureNames) == 0 {
		t.Error("工件应携带特征列序")
	}

	// 每个活跃用户都有落库结果，排名稠密
	count, _ := m.RecommendationCount(ctx, core.ModelRFOptimized)
	if count == 0 {
		t.Fatal("训练后应有落库的推荐结果")
	}
	rows, _ := m.UserRecommendations(ctx, "ua", core.ModelRFOptimized, 0)
	if len(rows) == 0 {
		t.Fatal("用户 ua 应有推荐结果")
	}
	for i, r := range rows {
		if r.Rank != i+1 {
			t.Errorf("排名应为稠密的 1..N: %+v", rows)
		}
	}

	// 诊断指标整表落库：阈值扫描 9 行，手肘法 K=2..8 共 7 行
	thresholds, _ := m.ThresholdMetrics(ctx)
	if len(thresholds) != 9 {
		t.Errorf("阈值敏感度期望 9 行，实际 %d 行", len(thresholds))
	}
	elbow, _ := m.ElbowMetrics(ctx)
	if len(elbow) != 7 {
		t.Errorf("手肘法期望 7 行，实际 %d 行", len(elbow))
	}
}

func TestTrainNoData(t *testing.T) {
	trainer := &Trainer{
		Data: store.NewMemory(), Recs: store.NewMemory(), Metrics: store.NewMemory(),
		Log: logger.Nop(),
	}
	if _, err := trainer.Train(context.Background(), 5, 0.6); !core.IsNoData(err) {
		t.Errorf("无训练样本应返回 NO_DATA，实际: %v", err)
	}
}
