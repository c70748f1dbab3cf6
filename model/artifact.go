package model

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Artifact 是持久化的排序模型工件：分类器本体 + 训练时的精确特征列序。
// 独热列依赖训练期观察到的品类词表，打分端必须按 FeatureNames 重建同一列集
// （缺失列补 0），否则概率没有意义。
type Artifact struct {
	Forest *Forest `json:"forest"`
}

// SaveArtifact 把模型工件以 JSON 写到 path，目录不存在时自动创建。
func SaveArtifact(path string, forest *Forest) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(&Artifact{Forest: forest})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadArtifact 从 path 读回模型工件。
func LoadArtifact(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, err
	}
	return artifact.Forest, nil
}

// FeatureVector 按 names 的列序从特征 map 构建向量，缺失特征补 0。
// 这是对品类词表漂移的容错：训练期没见过/打分期没出现的独热列都按 0 处理。
func FeatureVector(names []string, features map[string]float64) []float64 {
	x := make([]float64, len(names))
	for i, name := range names {
		x[i] = features[name]
	}
	return x
}
