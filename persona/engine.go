// Package persona 实现画像引擎：行为特征聚合 → 消费分层 → 综合聚类 → 画像落库。
package persona

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/model"
	"github.com/rushteam/shoprec/pkg/logger"
)

// 消费等级词表：tier 0..2 按消费均值升序对应 低/中/高。
var consumptionLevels = [3]string{"低消费", "中消费", "高消费"}

// 画像标签默认词表：K=4 时的固定映射，超出词表的簇用 cluster-N。
var defaultPersonaTags = map[int]string{
	0: "潜力新客",
	1: "高价值核心",
	2: "流失风险",
	3: "低频长尾",
}

// Engine 是画像引擎。
//
// 构建流程：
//  1. 三表联查展开 → 按用户聚合特征
//  2. 社交影响力 / 忠诚度 / 价格敏感度 / 流失风险 / 活跃度
//  3. 消费总额一维 K-Means(K=3) → 按质心均值升序重排为消费等级
//  4. {消费, 购买频次, 互动率, 购买意向} 标准化后 K 路聚类 → 画像标签
//  5. 单事务整表替换 usr_persona
//
// 消费等级重排是强制步骤：聚类算法产出的原始簇编号不携带序数含义，
// 必须按各簇消费均值升序重新编号，tier 与消费水平才单调对应。
type Engine struct {
	Data     core.DatasetStore
	Personas core.PersonaStore
	Log      *logger.Logger

	ChurnGapDays float64   // 流失判定的静默天数阈值，默认 30
	ActiveRate   float64   // 活跃判定的互动率阈值，默认 10
	TagRules     []TagRule // 可选的 CEL 标签覆盖规则
	Seed         int64     // 聚类随机种子，默认 42
}

// userFeature 是按用户聚合后的特征行。
type userFeature struct {
	userID          string
	age             int
	registerDays    float64
	totalSpend      float64
	purchaseFreq    float64
	fansNum         float64
	followNum       float64
	interactionRate float64 // mean
	purchaseIntent  float64 // mean
	lastClickGap    float64 // max
	itemDiscount    float64 // mean
}

// Build 全量重算画像并整表替换。clusterCount 是综合聚类的 K（<2 时取 4）。
// 失败时不触碰已持久化的画像。
func (e *Engine) Build(ctx context.Context, clusterCount int) (core.Outcome, error) {
	log := e.Log.With("component", "persona")

	rules, err := compileRules(e.TagRules)
	if err != nil {
		return core.FailureFromErr(err), core.NewDomainError(core.ModulePersona, core.ErrorCodeInvalidInput, err.Error())
	}

	joined, err := e.Data.JoinedFacts(ctx)
	if err != nil {
		return core.FailureFromErr(err), err
	}
	if len(joined) == 0 {
		err := core.NewDomainError(core.ModulePersona, core.ErrorCodeNoData, "数据库为空，请先入库数据")
		return core.FailureFromErr(err), err
	}

	features := aggregate(joined)
	log.Info("用户特征聚合完成", "users", len(features), "facts", len(joined))

	// 消费分层：一维聚类 + 质心均值升序重排
	tiers := e.spendTiers(features)

	// 核心偏好品类
	preferred := preferredCategories(joined)

	// 综合画像聚类
	k := clusterCount
	if k < 2 {
		k = 4
	}
	labels := e.personaClusters(features, k)

	records := make([]core.PersonaRecord, 0, len(features))
	for i, f := range features {
		tier := tiers[i]
		tag, ok := defaultPersonaTags[labels[i]]
		if !ok {
			tag = fmt.Sprintf("cluster-%d", labels[i])
		}
		if len(rules) > 0 {
			tag = applyRules(rules, tag, featureMap(f))
		}

		records = append(records, core.PersonaRecord{
			UserID:            f.userID,
			ClusterLabel:      labels[i],
			PersonaTag:        tag,
			SocialInfluence:   clip(f.fansNum*0.7+f.followNum*0.3, 0, 100),
			ConsumptionTier:   tier,
			ConsumptionLevel:  consumptionLevels[tier],
			PreferredCategory: preferred[f.userID],
			PriceSensitivity:  f.itemDiscount * 10.0,
			LoyaltyScore:      clip(f.registerDays*0.3+f.interactionRate*0.7, 0, 100),
			IsChurnRisk:       f.lastClickGap > e.churnGapDays(),
			ActivityLevel:     e.activityLevel(f.interactionRate),
		})
	}

	if err := e.Personas.ReplacePersonas(ctx, records); err != nil {
		return core.FailureFromErr(err), err
	}

	log.Info("画像整表替换完成", "personas", len(records), "k", k)
	return core.Success("深度画像构建完成，共 %d 个用户", len(records)), nil
}

// aggregate 按用户聚合联查展开行：静态属性取首值，互动率/购买意向/折扣取均值，
// 静默天数取最大值。输出顺序为用户首次出现的顺序，保证重跑结果可复现。
func aggregate(joined []core.JoinedFact) []userFeature {
	order := make([]string, 0)
	acc := make(map[string]*userFeature)
	counts := make(map[string]int)

	for _, row := range joined {
		f, ok := acc[row.User.UserID]
		if !ok {
			f = &userFeature{
				userID:       row.User.UserID,
				age:          row.User.Age,
				registerDays: row.User.RegisterDays,
				totalSpend:   row.User.TotalSpend,
				purchaseFreq: row.User.PurchaseFreq,
				fansNum:      row.User.FansNum,
				followNum:    row.User.FollowNum,
			}
			acc[row.User.UserID] = f
			order = append(order, row.User.UserID)
		}
		counts[row.User.UserID]++
		f.interactionRate += row.Fact.InteractionRate
		f.purchaseIntent += row.Fact.PurchaseIntent
		f.itemDiscount += row.Item.DiscountRate
		if row.Fact.LastClickGap > f.lastClickGap {
			f.lastClickGap = row.Fact.LastClickGap
		}
	}

	out := make([]userFeature, 0, len(order))
	for _, userID := range order {
		f := acc[userID]
		n := float64(counts[userID])
		f.interactionRate /= n
		f.purchaseIntent /= n
		f.itemDiscount /= n
		out = append(out, *f)
	}
	return out
}

// spendTiers 对消费总额做一维 3 路聚类，并把任意簇编号重排为按消费均值
// 升序的 tier 0..2。
func (e *Engine) spendTiers(features []userFeature) []int {
	data := make([][]float64, len(features))
	for i, f := range features {
		data[i] = []float64{f.totalSpend}
	}
	km := &model.KMeans{K: 3, Seed: e.seed()}
	km.Fit(data)

	// 各簇的消费均值
	k := len(km.Centers)
	sums := make([]float64, k)
	counts := make([]float64, k)
	for i, label := range km.Labels {
		sums[label] += features[i].totalSpend
		counts[label]++
	}

	type clusterMean struct {
		cluster int
		mean    float64
	}
	means := make([]clusterMean, 0, k)
	for c := 0; c < k; c++ {
		mean := 0.0
		if counts[c] > 0 {
			mean = sums[c] / counts[c]
		}
		means = append(means, clusterMean{cluster: c, mean: mean})
	}
	sort.Slice(means, func(i, j int) bool { return means[i].mean < means[j].mean })

	remap := make(map[int]int, k)
	for tier, cm := range means {
		t := tier
		if t > 2 {
			t = 2 // 样本不足 3 个时聚类收缩，上限夹在最高档
		}
		remap[cm.cluster] = t
	}

	tiers := make([]int, len(features))
	for i, label := range km.Labels {
		tiers[i] = remap[label]
	}
	return tiers
}

// preferredCategories 统计每个用户交互次数最多的品类。
// 次数相同时取字典序较小者，保证重跑稳定。
func preferredCategories(joined []core.JoinedFact) map[string]string {
	counts := make(map[string]map[string]int)
	for _, row := range joined {
		if counts[row.User.UserID] == nil {
			counts[row.User.UserID] = make(map[string]int)
		}
		counts[row.User.UserID][row.Item.Category]++
	}

	out := make(map[string]string, len(counts))
	for userID, byCategory := range counts {
		best, bestCount := "", -1
		categories := make([]string, 0, len(byCategory))
		for category := range byCategory {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			if byCategory[category] > bestCount {
				best, bestCount = category, byCategory[category]
			}
		}
		out[userID] = best
	}
	return out
}

// personaClusters 在标准化后的 {消费, 购买频次, 互动率, 购买意向} 上做 K 路聚类。
func (e *Engine) personaClusters(features []userFeature, k int) []int {
	data := make([][]float64, len(features))
	for i, f := range features {
		data[i] = []float64{f.totalSpend, f.purchaseFreq, f.interactionRate, f.purchaseIntent}
	}
	scaler := &model.StandardScaler{}
	scaled := scaler.FitTransform(data)

	km := &model.KMeans{K: k, Seed: e.seed()}
	km.Fit(scaled)
	return km.Labels
}

func featureMap(f userFeature) map[string]any {
	return map[string]any{
		"age":              float64(f.age),
		"register_days":    f.registerDays,
		"total_spend":      f.totalSpend,
		"purchase_freq":    f.purchaseFreq,
		"fans_num":         f.fansNum,
		"follow_num":       f.followNum,
		"interaction_rate": f.interactionRate,
		"purchase_intent":  f.purchaseIntent,
		"last_click_gap":   f.lastClickGap,
		"item_discount":    f.itemDiscount,
	}
}

func (e *Engine) churnGapDays() float64 {
	if e.ChurnGapDays > 0 {
		return e.ChurnGapDays
	}
	return 30
}

func (e *Engine) activityLevel(rate float64) string {
	threshold := e.ActiveRate
	if threshold <= 0 {
		threshold = 10
	}
	if rate > threshold {
		return "活跃"
	}
	return "沉睡"
}

func (e *Engine) seed() int64 {
	if e.Seed != 0 {
		return e.Seed
	}
	return 42
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
