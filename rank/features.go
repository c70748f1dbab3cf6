// Package rank 实现监督排序模型：随机森林训练、诊断指标与并行全量打分。
package rank

import (
	"sort"

	"github.com/rushteam/shoprec/core"
)

// 基础特征列（固定顺序），品类独热列追加在其后。
var baseFeatures = []string{
	"pv_count", "add2cart", "collect_num", "like_num",
	"cluster_label", "is_churn_risk", "loyalty_score", "price_sensitivity",
	"price", "discount_rate", "has_video",
	"cat_pref_score",
}

const categoryPrefix = "category_"

// featureNames 返回完整列序：基础列 + 按字典序排列的品类独热列。
// 词表由训练期观察到的品类决定并随模型持久化；打分端按保存的列序对齐。
func featureNames(categories map[string]struct{}) []string {
	names := append([]string(nil), baseFeatures...)
	sorted := make([]string, 0, len(categories))
	for c := range categories {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)
	for _, c := range sorted {
		names = append(names, categoryPrefix+c)
	}
	return names
}

// userFeatures 是单用户的画像特征切片（打分端复用）。
type userFeatures struct {
	ClusterLabel     float64
	IsChurnRisk      float64
	LoyaltyScore     float64
	PriceSensitivity float64
}

// behaviorFeatures 是 (user, item) 维度的行为统计（左连接缺失 → 全零）。
type behaviorFeatures struct {
	PVCount    float64
	Add2Cart   float64
	CollectNum float64
	LikeNum    float64
}

// sampleFeatures 把一条训练样本展开为特征 map。
func sampleFeatures(row core.LabeledFact, affinity float64) map[string]float64 {
	f := map[string]float64{
		"pv_count":          row.PVCount,
		"add2cart":          row.Add2Cart,
		"collect_num":       row.CollectNum,
		"like_num":          row.LikeNum,
		"cluster_label":     float64(row.ClusterLabel),
		"loyalty_score":     row.LoyaltyScore,
		"price_sensitivity": row.PriceSensitivity,
		"price":             row.Price,
		"discount_rate":     row.DiscountRate,
		"cat_pref_score":    affinity,
	}
	if row.IsChurnRisk {
		f["is_churn_risk"] = 1
	}
	if row.HasVideo {
		f["has_video"] = 1
	}
	f[categoryPrefix+row.Category] = 1
	return f
}

// candidateFeatures 把一个 (用户画像, 商品, 行为统计, 品类偏好) 候选展开为特征 map。
func candidateFeatures(user userFeatures, item core.ItemRecord, behavior behaviorFeatures, affinity float64) map[string]float64 {
	f := map[string]float64{
		"pv_count":          behavior.PVCount,
		"add2cart":          behavior.Add2Cart,
		"collect_num":       behavior.CollectNum,
		"like_num":          behavior.LikeNum,
		"cluster_label":     user.ClusterLabel,
		"is_churn_risk":     user.IsChurnRisk,
		"loyalty_score":     user.LoyaltyScore,
		"price_sensitivity": user.PriceSensitivity,
		"price":             item.Price,
		"discount_rate":     item.DiscountRate,
		"cat_pref_score":    affinity,
	}
	if item.HasVideo {
		f["has_video"] = 1
	}
	f[categoryPrefix+item.Category] = 1
	return f
}

// affinityKey 是用户×品类偏好表的复合键。
func affinityKey(userID, category string) string { return userID + "\x00" + category }

// behaviorKey 是 (user, item) 行为统计表的复合键。
func behaviorKey(userID, itemID string) string { return userID + "\x00" + itemID }
