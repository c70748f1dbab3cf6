package model

import (
	"math"
	"math/rand"
)

// KMeans 实现了标准 K-Means 聚类。
//
// 预测原理：
// 1. k-means++ 选择初始质心（确定性随机种子，结果可复现）
// 2. 迭代：分配样本到最近质心 → 重算质心，直到收敛或达到迭代上限
//
// 注意：K-Means 产出的簇编号是任意的，不携带任何序数含义。
// 需要有序语义（如消费等级）时，调用方必须按质心均值重排标签。
type KMeans struct {
	K        int
	MaxIter  int   // 默认 100
	Seed     int64 // 随机种子，相同输入 + 相同种子 → 相同结果

	Centers [][]float64 // 拟合后的质心
	Labels  []int       // 每个样本的簇编号
	Inertia float64     // 簇内平方和（SSE），手肘法诊断用
}

// Fit 对样本矩阵执行聚类。样本数少于 K 时按实际样本数收缩 K。
func (m *KMeans) Fit(data [][]float64) {
	if len(data) == 0 {
		return
	}
	k := m.K
	if k < 1 {
		k = 1
	}
	if k > len(data) {
		k = len(data)
	}
	maxIter := m.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}
	rng := rand.New(rand.NewSource(m.Seed))

	centers := m.seedCenters(data, k, rng)
	labels := make([]int, len(data))

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, row := range data {
			best := nearestCenter(row, centers)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		// 重算质心
		dim := len(data[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, row := range data {
			c := labels[i]
			counts[c]++
			for j, v := range row {
				sums[c][j] += v
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				continue // 空簇保留原质心
			}
			for j := range centers[c] {
				centers[c][j] = sums[c][j] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	var inertia float64
	for i, row := range data {
		inertia += squaredDistance(row, centers[labels[i]])
	}

	m.Centers = centers
	m.Labels = labels
	m.Inertia = inertia
}

// seedCenters 实现 k-means++ 初始化：首个质心随机，其余按距离平方加权采样。
func (m *KMeans) seedCenters(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	first := data[rng.Intn(len(data))]
	centers = append(centers, append([]float64(nil), first...))

	dists := make([]float64, len(data))
	for len(centers) < k {
		var total float64
		for i, row := range data {
			d := math.Inf(1)
			for _, c := range centers {
				if sd := squaredDistance(row, c); sd < d {
					d = sd
				}
			}
			dists[i] = d
			total += d
		}
		if total == 0 {
			// 所有样本都与某质心重合，退化为重复质心
			centers = append(centers, append([]float64(nil), data[0]...))
			continue
		}
		target := rng.Float64() * total
		var acc float64
		pick := len(data) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centers = append(centers, append([]float64(nil), data[pick]...))
	}
	return centers
}

func nearestCenter(row []float64, centers [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, center := range centers {
		if d := squaredDistance(row, center); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
