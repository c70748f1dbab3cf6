package core

// UserRecord 是用户维表的一行：静态属性在入库后不再变化。
type UserRecord struct {
	UserID       string
	Age          int
	RegisterDays float64 // 注册天数（资历）
	TotalSpend   float64
	PurchaseFreq float64
	FansNum      float64
	FollowNum    float64
}

// ItemRecord 是商品维表的一行。
type ItemRecord struct {
	ItemID       string
	Category     string
	Price        float64
	DiscountRate float64
	HasVideo     bool
}

// InteractionFact 是行为事实表的一行：(user, item) 维度的计数器与标签。
// Label 是离线评估的唯一真值来源，链路中不得用于候选生成。
type InteractionFact struct {
	UserID          string
	ItemID          string
	PVCount         float64
	Add2Cart        float64
	CollectNum      float64
	LikeNum         float64
	PurchaseIntent  float64
	Label           int // 1 = 实际购买
	InteractionRate float64
	LastClickGap    float64 // 距上次点击的天数
}

// JoinedFact 是画像构建的输入：行为事实 + 用户静态属性 + 商品属性的联查展开行。
type JoinedFact struct {
	User UserRecord
	Fact InteractionFact
	Item ItemRecord
}

// PersonaRecord 是派生的用户画像，每个用户一条，整表随每次构建全量重算替换。
// ConsumptionTier 已按消费均值升序重排，tier 0 恒为最低消费档。
type PersonaRecord struct {
	UserID            string
	ClusterLabel      int
	PersonaTag        string
	SocialInfluence   float64
	ConsumptionTier   int
	ConsumptionLevel  string // tier 对应的可读标签（低/中/高消费）
	PreferredCategory string
	PriceSensitivity  float64
	LoyaltyScore      float64
	IsChurnRisk       bool
	ActivityLevel     string
}

// LabeledFact 是排序模型的训练样本：行为事实 + 画像特征 + 商品特征的联查展开行。
type LabeledFact struct {
	UserID           string
	ItemID           string
	Label            int
	Category         string
	PVCount          float64
	Add2Cart         float64
	CollectNum       float64
	LikeNum          float64
	ClusterLabel     int
	IsChurnRisk      bool
	LoyaltyScore     float64
	PriceSensitivity float64
	Price            float64
	DiscountRate     float64
	HasVideo         bool
}

// RecommendationRecord 是推荐结果表的一行。
// 同一 (UserID, ModelType) 下 Rank 必须是 1..N 的稠密序列。
type RecommendationRecord struct {
	UserID    string
	ItemID    string
	Category  string
	ModelType string
	Score     float64
	Rank      int
}

// MetricRecord 是一次离线评估中单个模型的汇总指标。
type MetricRecord struct {
	ModelType string
	Precision float64
	Recall    float64
	F1        float64
}

// ThresholdMetric 是阈值敏感度诊断的一行：验证集上某个阈值下的 P/R/F1。
type ThresholdMetric struct {
	Threshold float64
	Precision float64
	Recall    float64
	F1        float64
}

// ElbowMetric 是 K-Means 手肘法诊断的一行。
type ElbowMetric struct {
	K   int
	SSE float64
}

// CategoryScore 是单用户分品类的得分汇总（趋势查询用）。
type CategoryScore struct {
	Category string
	Score    float64
}

// NameCount 是分组计数统计的一行（分布与排行查询用）。
type NameCount struct {
	Name  string
	Count int64
}

// 模型标识：推荐结果表的 model_type 列取值，多模型结果共存互不覆盖。
const (
	ModelUserCF      = "User-CF"
	ModelRFOptimized = "RF-Optimized"
)
