package core

import "context"

// 存储接口定义在 core 包，具体实现（GORM/内存/Redis）在 store 包。
// 算法组件只依赖这里的接口，与持久化技术完全解耦。

// BatchInsert 在一次替换事务内部追加一批行。
// 分批写入用于约束峰值内存，整个替换过程仍是单事务。
type BatchInsert func(rows []RecommendationRecord) error

// DatasetStore 提供维表与事实表的只读访问（含联查展开）。
type DatasetStore interface {
	// Users 返回全部用户维表行
	Users(ctx context.Context) ([]UserRecord, error)

	// Items 返回全部商品维表行
	Items(ctx context.Context) ([]ItemRecord, error)

	// Facts 返回全部行为事实行
	Facts(ctx context.Context) ([]InteractionFact, error)

	// JoinedFacts 返回行为事实与用户/商品属性的联查展开（画像构建输入）
	JoinedFacts(ctx context.Context) ([]JoinedFact, error)

	// LabeledFacts 返回行为事实与画像/商品特征的联查展开（排序模型训练输入）
	LabeledFacts(ctx context.Context) ([]LabeledFact, error)
}

// PersonaStore 管理 usr_persona 表。画像整表归 Persona Engine 独占。
type PersonaStore interface {
	// ReplacePersonas 单事务内清空并重写整表；任何失败都不得留下混合世代的半成品
	ReplacePersonas(ctx context.Context, records []PersonaRecord) error

	// Personas 返回全部画像行
	Personas(ctx context.Context) ([]PersonaRecord, error)

	// PersonaByUser 按用户查画像；不存在时返回 NOT_FOUND
	PersonaByUser(ctx context.Context, userID string) (*PersonaRecord, error)

	// PersonaCount 返回画像行数（就绪状态探测用）
	PersonaCount(ctx context.Context) (int64, error)

	// PersonaTagDistribution 返回各画像标签的用户数，按数量降序
	PersonaTagDistribution(ctx context.Context) ([]NameCount, error)

	// ConsumptionLevels 返回各消费等级的用户数，按数量降序
	ConsumptionLevels(ctx context.Context) ([]NameCount, error)
}

// RecommendationStore 管理 recommendation_results 表。
// 所有写入都按 model_type 列隔离：一个模型的重跑只替换自己的行。
type RecommendationStore interface {
	// ReplaceModel 单事务内删除 model 的旧行，然后通过 fill 回调分批插入新行
	ReplaceModel(ctx context.Context, model string, fill func(insert BatchInsert) error) error

	// RecommendationsByModel 返回某模型的全部结果行
	RecommendationsByModel(ctx context.Context, model string) ([]RecommendationRecord, error)

	// UserRecommendations 返回某用户在某模型下按 rank 升序的前 limit 条
	UserRecommendations(ctx context.Context, userID, model string, limit int) ([]RecommendationRecord, error)

	// CategoryTrend 返回某用户分品类的最高得分（降序前 limit 个品类）
	CategoryTrend(ctx context.Context, userID, model string, limit int) ([]CategoryScore, error)

	// RecommendationCount 返回某模型的结果行数
	RecommendationCount(ctx context.Context, model string) (int64, error)

	// CategoryReach 返回某模型下各品类覆盖的去重用户数，降序前 limit 个
	CategoryReach(ctx context.Context, model string, limit int) ([]NameCount, error)
}

// MetricStore 管理评估与诊断指标表，均为整表替换语义。
type MetricStore interface {
	ReplaceModelMetrics(ctx context.Context, records []MetricRecord) error
	ModelMetrics(ctx context.Context) ([]MetricRecord, error)

	ReplaceThresholdMetrics(ctx context.Context, records []ThresholdMetric) error
	ThresholdMetrics(ctx context.Context) ([]ThresholdMetric, error)

	ReplaceElbowMetrics(ctx context.Context, records []ElbowMetric) error
	ElbowMetrics(ctx context.Context) ([]ElbowMetric, error)
}

// KeyValueStore 是轻量 KV 缓存接口（热门榜、读路径缓存）。
// 内存实现用于测试与单机部署，Redis 实现用于共享部署。
type KeyValueStore interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds ...int) error
	Delete(ctx context.Context, key string) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Close() error
}
