package store

import "github.com/rushteam/shoprec/core"

// 本文件定义各逻辑表的带标签结构体（schema 显式化，入库即校验），
// 并负责与 core 记录的互转。算法层看不到任何 GORM 类型。

type dimUser struct {
	UserID       string  `gorm:"column:user_id;primaryKey;size:50"`
	Age          int     `gorm:"column:age"`
	RegisterDays float64 `gorm:"column:register_days"`
	TotalSpend   float64 `gorm:"column:total_spend"`
	PurchaseFreq float64 `gorm:"column:purchase_freq"`
	FansNum      float64 `gorm:"column:fans_num"`
	FollowNum    float64 `gorm:"column:follow_num"`
}

func (dimUser) TableName() string { return "dim_user" }

type dimItem struct {
	ItemID       string  `gorm:"column:item_id;primaryKey;size:50"`
	Category     string  `gorm:"column:category;size:50;index"`
	Price        float64 `gorm:"column:price"`
	DiscountRate float64 `gorm:"column:discount_rate"`
	HasVideo     bool    `gorm:"column:has_video"`
}

func (dimItem) TableName() string { return "dim_item" }

type factUserBehavior struct {
	ID              int64   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID          string  `gorm:"column:user_id;size:50;index"`
	ItemID          string  `gorm:"column:item_id;size:50;index"`
	PVCount         float64 `gorm:"column:pv_count"`
	Add2Cart        float64 `gorm:"column:add2cart"`
	CollectNum      float64 `gorm:"column:collect_num"`
	LikeNum         float64 `gorm:"column:like_num"`
	PurchaseIntent  float64 `gorm:"column:purchase_intent"`
	Label           int     `gorm:"column:label;index"`
	InteractionRate float64 `gorm:"column:interaction_rate"`
	LastClickGap    float64 `gorm:"column:last_click_gap"`
}

func (factUserBehavior) TableName() string { return "fact_user_behavior" }

type usrPersona struct {
	UserID            string  `gorm:"column:user_id;primaryKey;size:50"`
	ClusterLabel      int     `gorm:"column:cluster_label"`
	PersonaTag        string  `gorm:"column:persona_tag;size:100"`
	SocialInfluence   float64 `gorm:"column:social_influence"`
	ConsumptionTier   int     `gorm:"column:consumption_tier"`
	ConsumptionLevel  string  `gorm:"column:consumption_level;size:20"`
	PreferredCategory string  `gorm:"column:preferred_category;size:50"`
	PriceSensitivity  float64 `gorm:"column:price_sensitivity"`
	LoyaltyScore      float64 `gorm:"column:loyalty_score"`
	IsChurnRisk       bool    `gorm:"column:is_churn_risk"`
	ActivityLevel     string  `gorm:"column:activity_level;size:20"`
}

func (usrPersona) TableName() string { return "usr_persona" }

type recommendationResult struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string  `gorm:"column:user_id;size:50;index:idx_rec_user_model"`
	ItemID    string  `gorm:"column:item_id;size:50"`
	Category  string  `gorm:"column:category;size:50"`
	ModelType string  `gorm:"column:model_type;size:50;index:idx_rec_user_model"`
	Score     float64 `gorm:"column:score"`
	Rank      int     `gorm:"column:rank"`
}

func (recommendationResult) TableName() string { return "recommendation_results" }

type modelMetric struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	ModelType string  `gorm:"column:model_type;size:50"`
	Precision float64 `gorm:"column:precision_val"`
	Recall    float64 `gorm:"column:recall_val"`
	F1        float64 `gorm:"column:f1_val"`
}

func (modelMetric) TableName() string { return "model_metrics" }

type sensitivityMetric struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Threshold float64 `gorm:"column:threshold"`
	Precision float64 `gorm:"column:precision_val"`
	Recall    float64 `gorm:"column:recall_val"`
	F1        float64 `gorm:"column:f1_val"`
}

func (sensitivityMetric) TableName() string { return "rf_sensitivity_metrics" }

type kmeansMetric struct {
	ID  int64   `gorm:"column:id;primaryKey;autoIncrement"`
	K   int     `gorm:"column:k_value"`
	SSE float64 `gorm:"column:sse_value"`
}

func (kmeansMetric) TableName() string { return "kmeans_metrics" }

func (r usrPersona) toCore() core.PersonaRecord {
	return core.PersonaRecord{
		UserID:            r.UserID,
		ClusterLabel:      r.ClusterLabel,
		PersonaTag:        r.PersonaTag,
		SocialInfluence:   r.SocialInfluence,
		ConsumptionTier:   r.ConsumptionTier,
		ConsumptionLevel:  r.ConsumptionLevel,
		PreferredCategory: r.PreferredCategory,
		PriceSensitivity:  r.PriceSensitivity,
		LoyaltyScore:      r.LoyaltyScore,
		IsChurnRisk:       r.IsChurnRisk,
		ActivityLevel:     r.ActivityLevel,
	}
}

func personaRow(r core.PersonaRecord) usrPersona {
	return usrPersona{
		UserID:            r.UserID,
		ClusterLabel:      r.ClusterLabel,
		PersonaTag:        r.PersonaTag,
		SocialInfluence:   r.SocialInfluence,
		ConsumptionTier:   r.ConsumptionTier,
		ConsumptionLevel:  r.ConsumptionLevel,
		PreferredCategory: r.PreferredCategory,
		PriceSensitivity:  r.PriceSensitivity,
		LoyaltyScore:      r.LoyaltyScore,
		IsChurnRisk:       r.IsChurnRisk,
		ActivityLevel:     r.ActivityLevel,
	}
}

func (r recommendationResult) toCore() core.RecommendationRecord {
	return core.RecommendationRecord{
		UserID:    r.UserID,
		ItemID:    r.ItemID,
		Category:  r.Category,
		ModelType: r.ModelType,
		Score:     r.Score,
		Rank:      r.Rank,
	}
}

func recommendationRow(r core.RecommendationRecord) recommendationResult {
	return recommendationResult{
		UserID:    r.UserID,
		ItemID:    r.ItemID,
		Category:  r.Category,
		ModelType: r.ModelType,
		Score:     r.Score,
		Rank:      r.Rank,
	}
}
