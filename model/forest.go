package model

import (
	"math"
	"math/rand"
	"sort"
)

// Forest 实现了随机森林二分类器（树集成 + Bagging）。
//
// 核心思想："多棵弱决策树投票，方差互相抵消"
//
// 算法流程：
//  1. 每棵树在 Bootstrap 重采样的训练集上独立生长
//  2. 每次分裂只考察 sqrt(d) 个随机特征
//  3. 分裂准则：样本类别加权的基尼不纯度
//  4. 预测：所有树的叶子正类概率取平均
//
// 类别加权（班级均衡损失）：正负样本按 n/(2*n_c) 反比加权，
// 与采样端的 4:1 欠采样叠加，共同对抗原始数据的极端类别不平衡。
type Forest struct {
	NumTrees       int     `json:"num_trees"`        // 默认 150
	MaxDepth       int     `json:"max_depth"`        // 默认 15
	MinSamplesLeaf int     `json:"min_samples_leaf"` // 默认 10
	Seed           int64   `json:"seed"`

	Trees        []*TreeNode `json:"trees"`
	FeatureNames []string    `json:"feature_names"` // 训练时的精确列序，打分端必须按此对齐
	ClassWeights [2]float64  `json:"class_weights"`
}

// TreeNode 是决策树节点。叶子节点只有 Proba 有效。
type TreeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      *TreeNode `json:"l,omitempty"`
	Right     *TreeNode `json:"r,omitempty"`
	Leaf      bool      `json:"leaf,omitempty"`
	Proba     float64   `json:"p"` // 叶子内加权正类占比
}

// TrainForest 在特征矩阵 X 与标签 y 上训练随机森林。
// featureNames 与 X 的列一一对应，随模型一同持久化。
func TrainForest(X [][]float64, y []int, featureNames []string, numTrees, maxDepth, minSamplesLeaf int, seed int64) *Forest {
	f := &Forest{
		NumTrees:       numTrees,
		MaxDepth:       maxDepth,
		MinSamplesLeaf: minSamplesLeaf,
		Seed:           seed,
		FeatureNames:   append([]string(nil), featureNames...),
	}
	if f.NumTrees <= 0 {
		f.NumTrees = 150
	}
	if f.MaxDepth <= 0 {
		f.MaxDepth = 15
	}
	if f.MinSamplesLeaf <= 0 {
		f.MinSamplesLeaf = 10
	}
	if len(X) == 0 {
		return f
	}

	// balanced 类别权重：w_c = n / (2 * n_c)
	var pos int
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	neg := len(y) - pos
	n := float64(len(y))
	f.ClassWeights = [2]float64{1, 1}
	if neg > 0 {
		f.ClassWeights[0] = n / (2 * float64(neg))
	}
	if pos > 0 {
		f.ClassWeights[1] = n / (2 * float64(pos))
	}

	dim := len(X[0])
	mtry := int(math.Sqrt(float64(dim)))
	if mtry < 1 {
		mtry = 1
	}

	rng := rand.New(rand.NewSource(f.Seed))
	f.Trees = make([]*TreeNode, 0, f.NumTrees)
	for t := 0; t < f.NumTrees; t++ {
		// Bootstrap 重采样
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}
		tree := f.grow(X, y, idx, mtry, 0, rng)
		f.Trees = append(f.Trees, tree)
	}
	return f
}

// PredictProba 返回单样本的正类概率（各树叶子概率均值）。
// x 的列序必须与 FeatureNames 一致。
func (f *Forest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, tree := range f.Trees {
		node := tree
		for !node.Leaf {
			if x[node.Feature] <= node.Threshold {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		sum += node.Proba
	}
	return sum / float64(len(f.Trees))
}

func (f *Forest) grow(X [][]float64, y []int, idx []int, mtry, depth int, rng *rand.Rand) *TreeNode {
	if depth >= f.MaxDepth || len(idx) <= f.MinSamplesLeaf*2 || pure(y, idx) {
		return f.leaf(y, idx)
	}

	feature, threshold, ok := f.bestSplit(X, y, idx, mtry, rng)
	if !ok {
		return f.leaf(y, idx)
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < f.MinSamplesLeaf || len(right) < f.MinSamplesLeaf {
		return f.leaf(y, idx)
	}

	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      f.grow(X, y, left, mtry, depth+1, rng),
		Right:     f.grow(X, y, right, mtry, depth+1, rng),
	}
}

func (f *Forest) leaf(y []int, idx []int) *TreeNode {
	var posW, totW float64
	for _, i := range idx {
		w := f.ClassWeights[y[i]]
		totW += w
		if y[i] == 1 {
			posW += w
		}
	}
	p := 0.0
	if totW > 0 {
		p = posW / totW
	}
	return &TreeNode{Leaf: true, Proba: p}
}

// bestSplit 在 mtry 个随机特征上搜索加权基尼增益最大的切分点。
func (f *Forest) bestSplit(X [][]float64, y []int, idx []int, mtry int, rng *rand.Rand) (int, float64, bool) {
	dim := len(X[0])
	features := rng.Perm(dim)[:mtry]

	bestGini := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	for _, feature := range features {
		values := make([]float64, 0, len(idx))
		for _, i := range idx {
			values = append(values, X[i][feature])
		}
		sort.Float64s(values)

		// 相邻不等值的中点作为候选阈值；候选过多时按步长抽样
		step := 1
		if len(values) > 32 {
			step = len(values) / 32
		}
		for v := step; v < len(values); v += step {
			if values[v] == values[v-1] {
				continue
			}
			threshold := (values[v] + values[v-1]) / 2
			if g := f.splitGini(X, y, idx, feature, threshold); g < bestGini {
				bestGini = g
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitGini 计算按 (feature, threshold) 二分后的加权基尼不纯度。
func (f *Forest) splitGini(X [][]float64, y []int, idx []int, feature int, threshold float64) float64 {
	var lw, lp, rw, rp float64
	for _, i := range idx {
		w := f.ClassWeights[y[i]]
		if X[i][feature] <= threshold {
			lw += w
			if y[i] == 1 {
				lp += w
			}
		} else {
			rw += w
			if y[i] == 1 {
				rp += w
			}
		}
	}
	gini := func(total, pos float64) float64 {
		if total == 0 {
			return 0
		}
		p := pos / total
		return 2 * p * (1 - p)
	}
	tot := lw + rw
	if tot == 0 {
		return math.Inf(1)
	}
	return lw/tot*gini(lw, lp) + rw/tot*gini(rw, rp)
}

func pure(y []int, idx []int) bool {
	if len(idx) == 0 {
		return true
	}
	first := y[idx[0]]
	for _, i := range idx[1:] {
		if y[i] != first {
			return false
		}
	}
	return true
}
