// Package shoprec 是一个电商离线推荐流水线（Shop Recommender）。
//
// 设计要点：
// - Pipeline-first: 画像 → User-CF 基准 → 随机森林排序 → 离线评估 串联为一次全量重构
// - 结果可服务: 各阶段产物全部落库，读路径只查已持久化结果，不触发计算
// - 单槽调度: 同一时刻至多一次全量重构在途，运行令牌贯穿始终
package shoprec

import (
	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/pipeline"
)

// 轻量 facade：便于用户直接 import "shoprec" 使用核心抽象。
type Runner = pipeline.Runner
type Scheduler = pipeline.Scheduler
type RunToken = pipeline.RunToken
type Outcome = core.Outcome

const (
	ModelUserCF      = core.ModelUserCF
	ModelRFOptimized = core.ModelRFOptimized
)

// NewScheduler 构造单槽调度器。
var NewScheduler = pipeline.NewScheduler
