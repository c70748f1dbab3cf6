// Package config 提供 YAML 文件配置的加载与默认值。
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/shoprec/persona"
)

// Config 是进程级配置。
type Config struct {
	Mode string `yaml:"mode"` // dev / prod，控制日志格式
	HTTP struct {
		Addr string `yaml:"addr"` // 默认 ":8000"
	} `yaml:"http"`

	DB struct {
		Driver string `yaml:"driver"` // sqlite（默认）/ postgres
		DSN    string `yaml:"dsn"`    // sqlite 文件路径或 postgres DSN
	} `yaml:"db"`

	Redis struct {
		Addr string `yaml:"addr"` // 为空则使用内存 KV
		DB   int    `yaml:"db"`
	} `yaml:"redis"`

	Persona struct {
		ClusterK     int               `yaml:"cluster_k"`      // 默认 4
		ChurnGapDays float64           `yaml:"churn_gap_days"` // 默认 30
		TagRules     []persona.TagRule `yaml:"tag_rules"`
	} `yaml:"persona"`

	Baseline struct {
		TopN      int `yaml:"top_n"`      // 默认 5
		Neighbors int `yaml:"neighbors"`  // 默认 10
		BatchSize int `yaml:"batch_size"` // 默认 500
	} `yaml:"baseline"`

	Rank struct {
		TopN         int     `yaml:"top_n"`         // 默认 5
		Threshold    float64 `yaml:"threshold"`     // 默认 0.6
		NumTrees     int     `yaml:"num_trees"`     // 默认 150
		Workers      int     `yaml:"workers"`       // 默认 4
		Chunks       int     `yaml:"chunks"`        // 默认 20
		ArtifactPath string  `yaml:"artifact_path"` // 默认 libs/rf_model.json
	} `yaml:"rank"`

	Seed int64 `yaml:"seed"` // 默认 42
}

// Default 返回带默认值的配置。
func Default() *Config {
	cfg := &Config{Mode: "dev", Seed: 42}
	cfg.HTTP.Addr = ":8000"
	cfg.DB.Driver = "sqlite"
	cfg.DB.DSN = "shoprec.db"
	cfg.Persona.ClusterK = 4
	cfg.Persona.ChurnGapDays = 30
	cfg.Baseline.TopN = 5
	cfg.Baseline.Neighbors = 10
	cfg.Baseline.BatchSize = 500
	cfg.Rank.TopN = 5
	cfg.Rank.Threshold = 0.6
	cfg.Rank.NumTrees = 150
	cfg.Rank.Workers = 4
	cfg.Rank.Chunks = 20
	cfg.Rank.ArtifactPath = "libs/rf_model.json"
	return cfg
}

// Load 读取 YAML 配置文件，未设置的字段保留默认值。
// path 为空时直接返回默认配置。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
