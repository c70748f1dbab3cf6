// Package recall 实现基准相似度推荐：User-CF + 全局热门兜底。
package recall

import (
	"context"
	"fmt"
	"math"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/pkg/logger"
	"github.com/rushteam/shoprec/pkg/topk"
)

// 复合互动得分权重：浏览 1 / 加购 5 / 收藏 3 / 点赞 2 / 购买意向 4。
const (
	weightPV      = 1
	weightCart    = 5
	weightCollect = 3
	weightLike    = 2
	weightIntent  = 4
)

// PopularItemsKey 是热门榜在 KV 缓存中的 zset key。
const PopularItemsKey = "shoprec:popular:items"

type state int

const (
	stateEmpty state = iota
	stateLoaded
	stateFitted
)

// UserCF 是基于用户的协同过滤基准模型（User-based Collaborative Filtering）。
//
// 核心思想："兴趣相似的用户，喜欢相似的物品"
//
// 算法流程：
//  1. Load：行为事实 → 稀疏 用户×商品 复合得分矩阵，同时计算全局热门榜
//  2. Fit：全对 用户-用户 余弦相似度
//  3. Recommend：TopK 近邻加权求和打分 → 正分截断 → 热门兜底补齐
//  4. Persist：逐用户生成 Top-N，稠密排名，分批写库（只替换本模型的旧行）
//
// 状态机：empty → loaded → fitted，Recommend/Persist 要求 fitted。
type UserCF struct {
	Data core.DatasetStore
	Recs core.RecommendationStore
	KV   core.KeyValueStore // 可选：热门榜写入缓存
	Log  *logger.Logger

	Neighbors int // 近邻数，默认 10
	BatchSize int // 落库批大小，默认 500

	state      state
	userIDs    []string
	itemIDs    []string
	userIndex  map[string]int
	rows       []map[int]float64 // 稀疏矩阵：userIdx -> itemIdx -> score
	norms      []float64         // 每个用户向量的 L2 范数
	similarity [][]float64       // 用户相似度矩阵
	popular    []int             // 全局热门 itemIdx，按总得分降序
}

// Load 构建稀疏交互矩阵与全局热门榜。复合得分为零的交互被过滤。
func (m *UserCF) Load(ctx context.Context) error {
	facts, err := m.Data.Facts(ctx)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return core.NewDomainError(core.ModuleRecall, core.ErrorCodeNoData, "行为表为空，请先上传数据")
	}

	m.userIDs = m.userIDs[:0]
	m.itemIDs = m.itemIDs[:0]
	m.userIndex = make(map[string]int)
	itemIndex := make(map[string]int)
	m.rows = nil

	itemTotals := make(map[int]float64)

	for _, f := range facts {
		score := f.PVCount*weightPV + f.Add2Cart*weightCart +
			f.CollectNum*weightCollect + f.LikeNum*weightLike +
			f.PurchaseIntent*weightIntent
		if score <= 0 {
			continue
		}

		u, ok := m.userIndex[f.UserID]
		if !ok {
			u = len(m.userIDs)
			m.userIndex[f.UserID] = u
			m.userIDs = append(m.userIDs, f.UserID)
			m.rows = append(m.rows, make(map[int]float64))
		}
		i, ok := itemIndex[f.ItemID]
		if !ok {
			i = len(m.itemIDs)
			itemIndex[f.ItemID] = i
			m.itemIDs = append(m.itemIDs, f.ItemID)
		}
		m.rows[u][i] += score
		itemTotals[i] += score
	}

	if len(m.rows) == 0 {
		return core.NewDomainError(core.ModuleRecall, core.ErrorCodeNoData, "没有任何有效互动信号")
	}

	// 全局热门榜：按总得分降序
	scored := make([]topk.Scored[int], 0, len(itemTotals))
	for i := 0; i < len(m.itemIDs); i++ {
		scored = append(scored, topk.Scored[int]{Value: i, Score: itemTotals[i]})
	}
	ranked := topk.Select(scored, 0, topk.Desc)
	m.popular = make([]int, 0, len(ranked))
	for _, s := range ranked {
		m.popular = append(m.popular, s.Value)
	}

	m.norms = make([]float64, len(m.rows))
	for u, row := range m.rows {
		var sum float64
		for _, v := range row {
			sum += v * v
		}
		m.norms[u] = math.Sqrt(sum)
	}

	m.cachePopular(ctx, itemTotals)

	m.state = stateLoaded
	m.Log.Info("稀疏矩阵构建完成", "users", len(m.userIDs), "items", len(m.itemIDs))
	return nil
}

// cachePopular 把热门榜写入 KV 缓存（zset），缓存不可用时静默跳过。
func (m *UserCF) cachePopular(ctx context.Context, itemTotals map[int]float64) {
	if m.KV == nil {
		return
	}
	_ = m.KV.Delete(ctx, PopularItemsKey)
	for i, total := range itemTotals {
		_ = m.KV.ZAdd(ctx, PopularItemsKey, total, m.itemIDs[i])
	}
}

// Fit 计算全对用户余弦相似度。
func (m *UserCF) Fit(ctx context.Context) error {
	if m.state == stateEmpty {
		if err := m.Load(ctx); err != nil {
			return err
		}
	}

	n := len(m.rows)
	m.similarity = make([][]float64, n)
	for u := range m.similarity {
		m.similarity[u] = make([]float64, n)
	}
	for u := 0; u < n; u++ {
		m.similarity[u][u] = 1
		for v := u + 1; v < n; v++ {
			sim := m.cosine(u, v)
			m.similarity[u][v] = sim
			m.similarity[v][u] = sim
		}
	}

	m.state = stateFitted
	m.Log.Info("用户相似度矩阵计算完成", "users", n)
	return nil
}

// cosine 在两个稀疏行上计算余弦相似度，遍历较短的一行。
func (m *UserCF) cosine(u, v int) float64 {
	a, b := m.rows[u], m.rows[v]
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for i, av := range a {
		if bv, ok := b[i]; ok {
			dot += av * bv
		}
	}
	if dot == 0 || m.norms[u] == 0 || m.norms[v] == 0 {
		return 0
	}
	return dot / (m.norms[u] * m.norms[v])
}

// Recommend 为 userID 生成 Top-N 推荐。
// CF 打分不足 N 时用热门榜补齐（排除该用户已交互的商品），直到补满或热门池耗尽。
// 相似度全零的用户得到纯热门兜底列表。
func (m *UserCF) Recommend(userID string, topN int) ([]core.RecommendationRecord, error) {
	if m.state != stateFitted {
		return nil, core.NewDomainError(core.ModuleRecall, core.ErrorCodeInvalidInput, "模型尚未 fit")
	}
	u, ok := m.userIndex[userID]
	if !ok {
		return nil, core.NewDomainError(core.ModuleRecall, core.ErrorCodeNotFound,
			fmt.Sprintf("用户 %s 不在交互矩阵中", userID))
	}

	// TopK 近邻（排除自身，只保留正相似度）
	neighbors := make([]topk.Scored[int], 0, len(m.similarity[u]))
	for v, sim := range m.similarity[u] {
		if v == u || sim <= 0 {
			continue
		}
		neighbors = append(neighbors, topk.Scored[int]{Value: v, Score: sim})
	}
	k := m.Neighbors
	if k <= 0 {
		k = 10
	}
	neighbors = topk.Select(neighbors, k, topk.Desc)

	// 近邻加权求和得到商品预测分
	itemScores := make(map[int]float64)
	for _, nb := range neighbors {
		for i, score := range m.rows[nb.Value] {
			itemScores[i] += nb.Score * score
		}
	}

	candidates := make([]topk.Scored[int], 0, len(itemScores))
	for i := 0; i < len(m.itemIDs); i++ {
		if score, ok := itemScores[i]; ok && score > 0 {
			candidates = append(candidates, topk.Scored[int]{Value: i, Score: score})
		}
	}
	head := topk.Select(candidates, topN, topk.Desc)

	picked := make([]int, 0, topN)
	seen := make(map[int]bool, topN)
	for _, c := range head {
		picked = append(picked, c.Value)
		seen[c.Value] = true
	}

	// 热门兜底：跳过用户已交互的商品与已入选的商品，按榜单顺序补齐
	if len(picked) < topN {
		history := m.rows[u]
		for _, i := range m.popular {
			if len(picked) >= topN {
				break
			}
			if seen[i] {
				continue
			}
			if _, interacted := history[i]; interacted {
				continue
			}
			picked = append(picked, i)
			seen[i] = true
		}
	}

	// 名次来自入选顺序（近邻得分在前、热门补位在后），得分取名次倒数
	final := make([]topk.Scored[int], 0, len(picked))
	for _, i := range picked {
		final = append(final, topk.Scored[int]{Value: i})
	}
	out := make([]core.RecommendationRecord, 0, len(picked))
	for _, r := range topk.DenseRank(final) {
		out = append(out, core.RecommendationRecord{
			UserID:    userID,
			ItemID:    m.itemIDs[r.Value],
			ModelType: core.ModelUserCF,
			Score:     1.0 / float64(r.Rank),
			Rank:      r.Rank,
		})
	}
	return out, nil
}

// Persist 为所有用户生成 Top-N 并落库：单事务内删除本模型旧行，
// 然后按 BatchSize 分批插入，约束峰值内存。
func (m *UserCF) Persist(ctx context.Context, topN int) (core.Outcome, error) {
	if m.state != stateFitted {
		if err := m.Fit(ctx); err != nil {
			return core.FailureFromErr(err), err
		}
	}

	items, err := m.Data.Items(ctx)
	if err != nil {
		return core.FailureFromErr(err), err
	}
	itemCategory := make(map[string]string, len(items))
	for _, it := range items {
		itemCategory[it.ItemID] = it.Category
	}

	batchSize := m.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var total int
	err = m.Recs.ReplaceModel(ctx, core.ModelUserCF, func(insert core.BatchInsert) error {
		batch := make([]core.RecommendationRecord, 0, batchSize)
		for _, userID := range m.userIDs {
			recs, err := m.Recommend(userID, topN)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				category, ok := itemCategory[rec.ItemID]
				if !ok {
					category = "Other"
				}
				rec.Category = category
				batch = append(batch, rec)
			}
			if len(batch) >= batchSize {
				if err := insert(batch); err != nil {
					return err
				}
				total += len(batch)
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			if err := insert(batch); err != nil {
				return err
			}
			total += len(batch)
		}
		return nil
	})
	if err != nil {
		return core.FailureFromErr(err), err
	}

	m.Log.Info("User-CF 结果落库完成", "rows", total, "top_n", topN)
	return core.Success("User-CF 处理完成，总计存入 %d 条结果", total), nil
}
