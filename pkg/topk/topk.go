// Package topk 提供统一的 Top-K 选取与稠密排名工具。
// User-CF 与排序模型两条链路共用同一份实现，避免各自重写截断/排名逻辑。
package topk

import "sort"

// Scored 是参与排序的最小单元。
type Scored[T any] struct {
	Value T
	Score float64
}

// Order 指定排序方向。
type Order int

const (
	Desc Order = iota // 分数降序（默认，推荐场景）
	Asc               // 分数升序
)

// Select 返回按 order 排序后的前 k 个元素。
// 排序是稳定的：分数相同的元素保持输入顺序（插入序打破平局）。
// k <= 0 或 k >= len(items) 时返回全量排序结果。
func Select[T any](items []Scored[T], k int, order Order) []Scored[T] {
	out := make([]Scored[T], len(items))
	copy(out, items)
	if order == Asc {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	}
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

// Ranked 是带稠密排名的结果行。
type Ranked[T any] struct {
	Value T
	Score float64
	Rank  int // 1..N，无空洞无重复
}

// DenseRank 按列表顺序赋予 1..N 的稠密排名。
// 输入应当已经有序（通常是 Select 的输出）。
func DenseRank[T any](items []Scored[T]) []Ranked[T] {
	out := make([]Ranked[T], 0, len(items))
	for i, it := range items {
		out = append(out, Ranked[T]{Value: it.Value, Score: it.Score, Rank: i + 1})
	}
	return out
}
