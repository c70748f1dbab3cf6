package model

import "math"

// StandardScaler 对特征矩阵做按列标准化：z = (x - mean) / std。
// 综合画像聚类的输入量纲差异极大（消费金额 vs 互动率），不标准化会让单一维度主导距离。
type StandardScaler struct {
	Means []float64
	Stds  []float64
}

// FitTransform 拟合各列均值/标准差并返回标准化后的新矩阵。
// 标准差为 0 的列（常量列）输出 0。
func (s *StandardScaler) FitTransform(data [][]float64) [][]float64 {
	if len(data) == 0 {
		return nil
	}
	dim := len(data[0])
	s.Means = make([]float64, dim)
	s.Stds = make([]float64, dim)

	for j := 0; j < dim; j++ {
		var sum float64
		for _, row := range data {
			sum += row[j]
		}
		mean := sum / float64(len(data))
		var variance float64
		for _, row := range data {
			d := row[j] - mean
			variance += d * d
		}
		s.Means[j] = mean
		s.Stds[j] = math.Sqrt(variance / float64(len(data)))
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		scaled := make([]float64, dim)
		for j, v := range row {
			if s.Stds[j] > 0 {
				scaled[j] = (v - s.Means[j]) / s.Stds[j]
			}
		}
		out[i] = scaled
	}
	return out
}
