package rank

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/model"
	"github.com/rushteam/shoprec/pkg/logger"
)

// Trainer 负责排序模型的训练、诊断与全量打分落库。
//
// 训练流程：
//  1. 三表联查加载带标签样本
//  2. 按标签分层的 80/20 训练/验证拆分
//  3. 训练池内负类欠采样到 4:1（负:正），保留信号的同时矫正极端不平衡
//  4. 用户×品类偏好特征（平衡训练集内按品类求和 pv_count）
//  5. 品类独热 + 类别加权随机森林拟合
//  6. 验证集注入 10 倍重复负样本，在"海选"分布上做阈值敏感度扫描（0.1..0.9）
//  7. K-Means 手肘法诊断（K=2..8），与敏感度一并整表替换落库
//  8. 模型 + 精确特征列序持久化为工件，随后并行全量打分
type Trainer struct {
	Data    core.DatasetStore
	Recs    core.RecommendationStore
	Metrics core.MetricStore
	Log     *logger.Logger

	ArtifactPath string

	NumTrees       int // 默认 150
	MaxDepth       int // 默认 15
	MinSamplesLeaf int // 默认 10
	Workers        int // 打分并发 worker 数，默认 4
	Chunks         int // 用户分片数，默认 20
	Seed           int64
}

const (
	negPosRatio    = 4  // 训练池欠采样后的 负:正 比例
	valNoiseFactor = 10 // 验证集负样本过采样倍数
	elbowMinK      = 2
	elbowMaxK      = 8
)

// Train 执行完整的训练 + 打分流程。
func (t *Trainer) Train(ctx context.Context, topN int, threshold float64) (core.Outcome, error) {
	log := t.Log.With("component", "rank")
	log.Info("RF-Optimized 训练启动", "top_n", topN, "threshold", threshold)

	raw, err := t.Data.LabeledFacts(ctx)
	if err != nil {
		return core.FailureFromErr(err), err
	}
	if len(raw) == 0 {
		err := core.NewDomainError(core.ModuleRank, core.ErrorCodeNoData, "没有可用的训练样本，请先构建画像")
		return core.FailureFromErr(err), err
	}

	rng := rand.New(rand.NewSource(t.seed()))

	trainPool, valPool := stratifiedSplit(raw, 0.2, rng)
	balanced := undersample(trainPool, negPosRatio, rng)
	log.Info("非对称拆分完成", "train", len(balanced), "val", len(valPool))

	// 用户×品类偏好：平衡训练集内按 (user, category) 求和 pv_count
	affinity := make(map[string]float64)
	categories := make(map[string]struct{})
	for _, row := range balanced {
		affinity[affinityKey(row.UserID, row.Category)] += row.PVCount
		categories[row.Category] = struct{}{}
	}

	names := featureNames(categories)
	X := make([][]float64, 0, len(balanced))
	y := make([]int, 0, len(balanced))
	for _, row := range balanced {
		feats := sampleFeatures(row, affinity[affinityKey(row.UserID, row.Category)])
		X = append(X, model.FeatureVector(names, feats))
		y = append(y, row.Label)
	}

	log.Info("正在拟合随机森林", "samples", len(X), "features", len(names))
	forest := model.TrainForest(X, y, names, t.NumTrees, t.MaxDepth, t.MinSamplesLeaf, t.seed())

	// 诊断指标：失败只告警，不中断训练主链路
	if err := t.recordSensitivity(ctx, forest, valPool, affinity, rng); err != nil {
		log.Warn("阈值敏感度分析失败", "err", err)
	}
	if err := t.recordElbow(ctx, raw); err != nil {
		log.Warn("手肘法指标记录失败", "err", err)
	}

	if err := model.SaveArtifact(t.artifactPath(), forest); err != nil {
		return core.FailureFromErr(err), core.NewDomainError(core.ModuleRank, core.ErrorCodePersistFailed,
			fmt.Sprintf("模型工件保存失败: %v", err))
	}

	return t.scoreAll(ctx, forest, raw, affinity, topN, threshold)
}

// stratifiedSplit 按标签分层拆分：正负两类各自按 valFrac 划入验证池，
// 两个分区的类别占比与全量一致。
func stratifiedSplit(rows []core.LabeledFact, valFrac float64, rng *rand.Rand) (train, val []core.LabeledFact) {
	var pos, neg []core.LabeledFact
	for _, row := range rows {
		if row.Label == 1 {
			pos = append(pos, row)
		} else {
			neg = append(neg, row)
		}
	}
	split := func(class []core.LabeledFact) {
		shuffled := append([]core.LabeledFact(nil), class...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		cut := int(float64(len(shuffled)) * valFrac)
		val = append(val, shuffled[:cut]...)
		train = append(train, shuffled[cut:]...)
	}
	split(pos)
	split(neg)
	return train, val
}

// undersample 把训练池的负类随机下采样到 ratio:1（负:正），再整体洗牌。
func undersample(rows []core.LabeledFact, ratio int, rng *rand.Rand) []core.LabeledFact {
	var pos, neg []core.LabeledFact
	for _, row := range rows {
		if row.Label == 1 {
			pos = append(pos, row)
		} else {
			neg = append(neg, row)
		}
	}
	target := len(pos) * ratio
	if len(neg) > target {
		rng.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })
		neg = neg[:target]
	}
	out := append(append([]core.LabeledFact(nil), pos...), neg...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// recordSensitivity 在加噪验证集上扫描阈值 0.1..0.9 的 P/R/F1 并整表替换落库。
// 负样本 10 倍有放回过采样模拟真实海选分布，避免自然不平衡带来的召回虚高。
func (t *Trainer) recordSensitivity(ctx context.Context, forest *model.Forest, valPool []core.LabeledFact, affinity map[string]float64, rng *rand.Rand) error {
	if len(valPool) == 0 {
		return nil
	}

	tough := append([]core.LabeledFact(nil), valPool...)
	var negVal []core.LabeledFact
	for _, row := range valPool {
		if row.Label == 0 {
			negVal = append(negVal, row)
		}
	}
	for i := 0; i < len(negVal)*valNoiseFactor; i++ {
		tough = append(tough, negVal[rng.Intn(len(negVal))])
	}

	probs := make([]float64, 0, len(tough))
	labels := make([]int, 0, len(tough))
	for _, row := range tough {
		feats := sampleFeatures(row, affinity[affinityKey(row.UserID, row.Category)])
		x := model.FeatureVector(forest.FeatureNames, feats)
		probs = append(probs, forest.PredictProba(x))
		labels = append(labels, row.Label)
	}

	records := make([]core.ThresholdMetric, 0, 9)
	for step := 1; step <= 9; step++ {
		threshold := float64(step) / 10
		var tp, fp, fn float64
		for i, p := range probs {
			pred := 0
			if p >= threshold {
				pred = 1
			}
			switch {
			case pred == 1 && labels[i] == 1:
				tp++
			case pred == 1 && labels[i] == 0:
				fp++
			case pred == 0 && labels[i] == 1:
				fn++
			}
		}
		precision, recall, f1 := prf(tp, fp, fn)
		records = append(records, core.ThresholdMetric{
			Threshold: threshold, Precision: precision, Recall: recall, F1: f1,
		})
	}
	return t.Metrics.ReplaceThresholdMetrics(ctx, records)
}

func prf(tp, fp, fn float64) (precision, recall, f1 float64) {
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return
}

// recordElbow 在连续数值特征上跑 K=2..8 的 K-Means，落库各 K 的 SSE。
func (t *Trainer) recordElbow(ctx context.Context, raw []core.LabeledFact) error {
	data := make([][]float64, 0, len(raw))
	for _, row := range raw {
		data = append(data, []float64{row.LoyaltyScore, row.PriceSensitivity, row.PVCount, row.Add2Cart})
	}
	if len(data) == 0 {
		return nil
	}

	records := make([]core.ElbowMetric, 0, elbowMaxK-elbowMinK+1)
	for k := elbowMinK; k <= elbowMaxK; k++ {
		km := &model.KMeans{K: k, Seed: t.seed()}
		km.Fit(data)
		records = append(records, core.ElbowMetric{K: k, SSE: km.Inertia})
	}
	return t.Metrics.ReplaceElbowMetrics(ctx, records)
}

func (t *Trainer) seed() int64 {
	if t.Seed != 0 {
		return t.Seed
	}
	return 42
}

func (t *Trainer) artifactPath() string {
	if t.ArtifactPath != "" {
		return t.ArtifactPath
	}
	return "libs/rf_model.json"
}
