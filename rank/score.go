package rank

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/model"
	"github.com/rushteam/shoprec/pkg/topk"
)

// ScoringContext 是打分阶段的只读共享输入，在 worker 启动时显式传入。
// worker 之间没有任何可变共享状态，也不互相通信。
type ScoringContext struct {
	Forest   *model.Forest
	Items    []core.ItemRecord
	Users    map[string]userFeatures     // userID -> 画像特征
	Behavior map[string]behaviorFeatures // behaviorKey -> 行为统计
	Affinity map[string]float64          // affinityKey -> 品类偏好分
}

// ChunkStatus 是单个用户分片的执行回执。
// 分片失败不会中止整次打分，但缺口必须显式上报而不是静默消失。
type ChunkStatus struct {
	Chunk int
	Users int   // 分片内用户数
	Rows  int   // 产出的推荐行数
	Err   error // 非 nil 表示该分片整体失败，其用户缺席本次输出
}

// scoreAll 构建共享输入，把活跃用户切成 Chunks 个分片，交给固定大小的
// worker 池全量打分，最后单事务替换本模型的推荐行。
func (t *Trainer) scoreAll(ctx context.Context, forest *model.Forest, raw []core.LabeledFact, affinity map[string]float64, topN int, threshold float64) (core.Outcome, error) {
	log := t.Log.With("component", "rank")

	items, err := t.Data.Items(ctx)
	if err != nil {
		return core.FailureFromErr(err), err
	}

	sc := &ScoringContext{
		Forest:   forest,
		Items:    items,
		Users:    make(map[string]userFeatures),
		Behavior: make(map[string]behaviorFeatures),
		Affinity: affinity,
	}

	// 活跃用户 = 出现在带标签样本中的用户；画像特征与行为统计都从样本行提取
	order := make([]string, 0)
	for _, row := range raw {
		if _, ok := sc.Users[row.UserID]; !ok {
			churn := 0.0
			if row.IsChurnRisk {
				churn = 1
			}
			sc.Users[row.UserID] = userFeatures{
				ClusterLabel:     float64(row.ClusterLabel),
				IsChurnRisk:      churn,
				LoyaltyScore:     row.LoyaltyScore,
				PriceSensitivity: row.PriceSensitivity,
			}
			order = append(order, row.UserID)
		}
		key := behaviorKey(row.UserID, row.ItemID)
		b := sc.Behavior[key]
		b.PVCount += row.PVCount
		b.Add2Cart += row.Add2Cart
		b.CollectNum += row.CollectNum
		b.LikeNum += row.LikeNum
		sc.Behavior[key] = b
	}

	chunks := splitUsers(order, t.chunks())
	log.Info("开始并行预测", "users", len(order), "chunks", len(chunks), "workers", t.workers())

	var (
		mu       sync.Mutex
		all      []core.RecommendationRecord
		statuses = make([]ChunkStatus, len(chunks))
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(t.workers())
	for c, chunk := range chunks {
		eg.Go(func() error {
			rows, chunkErr := scoreChunk(egCtx, sc, chunk, topN, threshold)
			status := ChunkStatus{Chunk: c, Users: len(chunk), Rows: len(rows), Err: chunkErr}

			mu.Lock()
			statuses[c] = status
			if chunkErr == nil {
				all = append(all, rows...)
			}
			mu.Unlock()

			if chunkErr != nil {
				log.Warn("分片预测失败", "chunk", c, "users", len(chunk), "err", chunkErr)
			} else {
				log.Info("分片预测完成", "chunk", c, "rows", len(rows))
			}
			return nil // 单分片失败不触发整体取消
		})
	}
	_ = eg.Wait()

	var failedChunks, missingUsers int
	for _, status := range statuses {
		if status.Err != nil {
			failedChunks++
			missingUsers += status.Users
		}
	}

	// 全部分片失败时不触碰已落库的旧结果
	if len(chunks) > 0 && failedChunks == len(chunks) {
		err := core.NewDomainError(core.ModuleRank, core.ErrorCodeInternalError,
			fmt.Sprintf("全部 %d 个分片预测失败，保留上一版结果", len(chunks)))
		return core.FailureFromErr(err), err
	}

	if err := t.persist(ctx, all); err != nil {
		return core.FailureFromErr(err), err
	}

	if failedChunks > 0 {
		return core.Success("RF-Optimized 完成（部分覆盖）：%d 条结果，%d/%d 分片失败，%d 个用户缺席",
			len(all), failedChunks, len(chunks), missingUsers), nil
	}
	return core.Success("RF-Optimized 完成：%d 个用户共 %d 条结果", len(order), len(all)), nil
}

// scoreChunk 独立处理一个用户分片：
// 用户×全量商品笛卡尔积 → 左连接行为/偏好特征（缺失补零）→ 按保存列序对齐 →
// 逐候选预测概率 → 阈值过滤 → Top-N 截断 + 稠密排名。
// 兜底：某用户没有任何候选过阈值时，保留其最高分候选一条（rank=1）。
func scoreChunk(ctx context.Context, sc *ScoringContext, users []string, topN int, threshold float64) (rows []core.RecommendationRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("chunk panic: %v", r)
		}
	}()

	type candidate struct {
		itemID   string
		category string
	}

	for _, userID := range users {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		user := sc.Users[userID]
		scored := make([]topk.Scored[candidate], 0, len(sc.Items))
		for _, item := range sc.Items {
			behavior := sc.Behavior[behaviorKey(userID, item.ItemID)]
			affinity := sc.Affinity[affinityKey(userID, item.Category)]
			feats := candidateFeatures(user, item, behavior, affinity)
			x := model.FeatureVector(sc.Forest.FeatureNames, feats)
			scored = append(scored, topk.Scored[candidate]{
				Value: candidate{itemID: item.ItemID, category: item.Category},
				Score: sc.Forest.PredictProba(x),
			})
		}

		passed := make([]topk.Scored[candidate], 0, len(scored))
		for _, s := range scored {
			if s.Score >= threshold {
				passed = append(passed, s)
			}
		}

		var kept []topk.Scored[candidate]
		if len(passed) > 0 {
			kept = topk.Select(passed, topN, topk.Desc)
		} else if len(scored) > 0 {
			// 全军覆没时保底一条：该用户分数最高的候选
			kept = topk.Select(scored, 1, topk.Desc)
		}

		for _, r := range topk.DenseRank(kept) {
			rows = append(rows, core.RecommendationRecord{
				UserID:    userID,
				ItemID:    r.Value.itemID,
				Category:  r.Value.category,
				ModelType: core.ModelRFOptimized,
				Score:     r.Score,
				Rank:      r.Rank,
			})
		}
	}
	return rows, nil
}

// persist 单事务替换本模型的推荐行，分批插入约束峰值内存。
func (t *Trainer) persist(ctx context.Context, rows []core.RecommendationRecord) error {
	const batchSize = 2000
	return t.Recs.ReplaceModel(ctx, core.ModelRFOptimized, func(insert core.BatchInsert) error {
		for start := 0; start < len(rows); start += batchSize {
			end := start + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := insert(rows[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

// splitUsers 把用户均匀切成至多 n 个非空分片。
func splitUsers(users []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	if n > len(users) {
		n = len(users)
	}
	if n == 0 {
		return nil
	}
	chunks := make([][]string, 0, n)
	size := (len(users) + n - 1) / n
	for start := 0; start < len(users); start += size {
		end := start + size
		if end > len(users) {
			end = len(users)
		}
		chunks = append(chunks, users[start:end])
	}
	return chunks
}

func (t *Trainer) workers() int {
	if t.Workers > 0 {
		return t.Workers
	}
	return 4
}

func (t *Trainer) chunks() int {
	if t.Chunks > 0 {
		return t.Chunks
	}
	return 20
}
