package pipeline

import (
	"context"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/eval"
	"github.com/rushteam/shoprec/persona"
	"github.com/rushteam/shoprec/pkg/logger"
	"github.com/rushteam/shoprec/rank"
	"github.com/rushteam/shoprec/recall"
)

// Runner 把整条流水线作为一个后台工作单元执行：
// 画像 → User-CF 基准 → 排序模型训练+打分 → 离线评估。
// 组件内部各自保证写事务原子性；阶段之间没有跨组件事务，
// 前一阶段已提交的结果不会因后一阶段失败而回滚。
type Runner struct {
	Data     core.DatasetStore
	Personas core.PersonaStore
	Recs     core.RecommendationStore
	Metrics  core.MetricStore
	KV       core.KeyValueStore // 可选
	Sched    *Scheduler
	Log      *logger.Logger

	PersonaK     int
	ChurnGapDays float64
	TagRules     []persona.TagRule
	CFNeighbors  int
	CFBatchSize  int
	ArtifactPath string
	NumTrees     int
	Workers      int
	Chunks       int
	Seed         int64
}

// Trigger 占用运行槽位并在后台执行整条流水线。
// 已有运行在途时立即返回失败，不排队。
func (r *Runner) Trigger(topN int, threshold float64) (core.Outcome, error) {
	token, err := r.Sched.Acquire()
	if err != nil {
		return core.FailureFromErr(err), err
	}

	go r.run(context.Background(), token, topN, threshold)

	return core.Success("全量重构流水线已启动 (Top-%d, Threshold-%.2f)", topN, threshold), nil
}

// AnalyzePersonas 占用运行槽位，后台单独重算画像（不跑后续阶段）。
func (r *Runner) AnalyzePersonas() (core.Outcome, error) {
	token, err := r.Sched.Acquire()
	if err != nil {
		return core.FailureFromErr(err), err
	}

	go func() {
		log := r.Log.With("component", "pipeline", "run_id", token.ID)
		out, err := r.personaEngine().Build(context.Background(), r.PersonaK)
		if err != nil {
			out = stepFailure("画像构建", out)
			log.Error("独立画像分析失败", "message", out.Message)
		} else {
			log.Info("独立画像分析完成", "message", out.Message)
		}
		token.Release(out)
	}()

	return core.Success("画像分析任务已在后台启动"), nil
}

// Evaluate 同步执行离线评估，结果整表替换指标表。
func (r *Runner) Evaluate(ctx context.Context) (core.Outcome, error) {
	return r.evaluator().Evaluate(ctx)
}

func (r *Runner) personaEngine() *persona.Engine {
	return &persona.Engine{
		Data:         r.Data,
		Personas:     r.Personas,
		Log:          r.Log,
		ChurnGapDays: r.ChurnGapDays,
		TagRules:     r.TagRules,
		Seed:         r.Seed,
	}
}

func (r *Runner) evaluator() *eval.Engine {
	return &eval.Engine{
		Data:    r.Data,
		Recs:    r.Recs,
		Metrics: r.Metrics,
		Log:     r.Log,
	}
}

// run 串联执行各阶段，首个失败阶段即终止，最终结果通过 token 留存。
func (r *Runner) run(ctx context.Context, token *RunToken, topN int, threshold float64) {
	log := r.Log.With("component", "pipeline", "run_id", token.ID)

	outcome := func() core.Outcome {
		log.Info("步骤 1: 构建用户画像")
		if out, err := r.personaEngine().Build(ctx, r.PersonaK); err != nil {
			return stepFailure("画像构建", out)
		}

		log.Info("步骤 2: User-CF 基准模型", "top_n", topN)
		cf := &recall.UserCF{
			Data:      r.Data,
			Recs:      r.Recs,
			KV:        r.KV,
			Log:       r.Log,
			Neighbors: r.CFNeighbors,
			BatchSize: r.CFBatchSize,
		}
		if out, err := cf.Persist(ctx, topN); err != nil {
			return stepFailure("User-CF", out)
		}

		log.Info("步骤 3: 排序模型训练与全量打分", "top_n", topN, "threshold", threshold)
		trainer := &rank.Trainer{
			Data:         r.Data,
			Recs:         r.Recs,
			Metrics:      r.Metrics,
			Log:          r.Log,
			ArtifactPath: r.ArtifactPath,
			NumTrees:     r.NumTrees,
			Workers:      r.Workers,
			Chunks:       r.Chunks,
			Seed:         r.Seed,
		}
		trainOut, err := trainer.Train(ctx, topN, threshold)
		if err != nil {
			return stepFailure("排序模型", trainOut)
		}

		log.Info("步骤 4: 离线评估")
		if out, err := r.evaluator().Evaluate(ctx); err != nil {
			return stepFailure("离线评估", out)
		}

		return core.Success("全量任务完成 (Top-%d, Threshold-%.2f)；%s", topN, threshold, trainOut.Message)
	}()

	if outcome.OK {
		log.Info("流水线执行完成", "message", outcome.Message)
	} else {
		log.Error("流水线执行中断", "message", outcome.Message)
	}
	token.Release(outcome)
}

func stepFailure(step string, out core.Outcome) core.Outcome {
	return core.Failure("%s失败: %s", step, out.Message)
}
