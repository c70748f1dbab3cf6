// Package eval 实现离线评估：持久化的推荐结果 vs 真实购买行为。
package eval

import (
	"context"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/pkg/logger"
)

// Engine 对比各模型的推荐结果与真值，计算宏平均 P/R/F1 并整表替换指标表。
//
// 真值定义：label=1 或 purchase_intent>=1 的 (user, item) 对，按用户归组为集合。
// 真值只用于离线评估，任何候选生成链路都不得读取。
type Engine struct {
	Data    core.DatasetStore
	Recs    core.RecommendationStore
	Metrics core.MetricStore
	Log     *logger.Logger

	// Models 是参评模型列表，缺省为 {User-CF, RF-Optimized}
	Models []string
}

// Evaluate 执行一轮评估。真值为空时整体跳过并报告该状态；
// 个别模型没有落库结果时告警跳过，其余模型继续。
func (e *Engine) Evaluate(ctx context.Context) (core.Outcome, error) {
	log := e.Log.With("component", "eval")

	truth, err := e.groundTruth(ctx)
	if err != nil {
		return core.FailureFromErr(err), err
	}
	if len(truth) == 0 {
		err := core.NewDomainError(core.ModuleEval, core.ErrorCodeNoData,
			"数据库中没有真实购买数据，评估跳过")
		return core.FailureFromErr(err), err
	}
	log.Info("真值加载完成", "users", len(truth))

	models := e.Models
	if len(models) == 0 {
		models = []string{core.ModelUserCF, core.ModelRFOptimized}
	}

	var results []core.MetricRecord
	for _, modelType := range models {
		rows, err := e.Recs.RecommendationsByModel(ctx, modelType)
		if err != nil {
			return core.FailureFromErr(err), err
		}
		if len(rows) == 0 {
			log.Warn("模型没有落库的推荐结果，跳过", "model", modelType)
			continue
		}

		metric := scoreModel(modelType, truth, rows)
		results = append(results, metric)
		log.Info("模型评估完成", "model", modelType,
			"precision", metric.Precision, "recall", metric.Recall, "f1", metric.F1)
	}

	if len(results) == 0 {
		return core.Success("没有可评估的模型结果"), nil
	}
	if err := e.Metrics.ReplaceModelMetrics(ctx, results); err != nil {
		return core.FailureFromErr(err), err
	}
	return core.Success("评估完成，%d 个模型的指标已更新", len(results)), nil
}

// groundTruth 构建 user -> 已购商品集合 的真值映射。
func (e *Engine) groundTruth(ctx context.Context) (map[string]map[string]bool, error) {
	facts, err := e.Data.Facts(ctx)
	if err != nil {
		return nil, err
	}
	truth := make(map[string]map[string]bool)
	for _, f := range facts {
		if f.Label != 1 && f.PurchaseIntent < 1 {
			continue
		}
		if truth[f.UserID] == nil {
			truth[f.UserID] = make(map[string]bool)
		}
		truth[f.UserID][f.ItemID] = true
	}
	return truth, nil
}

// scoreModel 逐真值用户计算指标后取宏平均。
// 模型未覆盖的真值用户按 precision=0, recall=0 计入（惩罚覆盖缺口），不跳过。
func scoreModel(modelType string, truth map[string]map[string]bool, rows []core.RecommendationRecord) core.MetricRecord {
	predicted := make(map[string]map[string]bool)
	for _, r := range rows {
		if predicted[r.UserID] == nil {
			predicted[r.UserID] = make(map[string]bool)
		}
		predicted[r.UserID][r.ItemID] = true
	}

	var sumPrecision, sumRecall float64
	for userID, trueItems := range truth {
		predItems, covered := predicted[userID]
		if !covered {
			continue // 0 贡献，但仍计入分母
		}
		var hits float64
		for itemID := range predItems {
			if trueItems[itemID] {
				hits++
			}
		}
		if len(predItems) > 0 {
			sumPrecision += hits / float64(len(predItems))
		}
		if len(trueItems) > 0 {
			sumRecall += hits / float64(len(trueItems))
		}
	}

	n := float64(len(truth))
	precision := sumPrecision / n
	recall := sumRecall / n
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return core.MetricRecord{ModelType: modelType, Precision: precision, Recall: recall, F1: f1}
}
