package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/rushteam/shoprec/core"
)

// DB 是关系型 Interaction Store 的 GORM 实现。
// 同时实现 core.DatasetStore / PersonaStore / RecommendationStore / MetricStore。
type DB struct {
	db *gorm.DB
}

var (
	_ core.DatasetStore        = (*DB)(nil)
	_ core.PersonaStore        = (*DB)(nil)
	_ core.RecommendationStore = (*DB)(nil)
	_ core.MetricStore         = (*DB)(nil)
)

// Open 按驱动打开数据库连接。driver 支持 "sqlite"（默认）与 "postgres"。
func Open(driver, dsn string) (*DB, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return &DB{db: db}, nil
}

// AutoMigrate 建齐所有逻辑表。
func (s *DB) AutoMigrate() error {
	return s.db.AutoMigrate(
		&dimUser{}, &dimItem{}, &factUserBehavior{},
		&usrPersona{}, &recommendationResult{},
		&modelMetric{}, &sensitivityMetric{}, &kmeansMetric{},
	)
}

func persistErr(op string, err error) error {
	return core.NewDomainError(core.ModuleStore, core.ErrorCodePersistFailed,
		fmt.Sprintf("%s: %v", op, err))
}

// ---- DatasetStore ----

func (s *DB) Users(ctx context.Context) ([]core.UserRecord, error) {
	var rows []dimUser
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.UserRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.UserRecord{
			UserID: r.UserID, Age: r.Age, RegisterDays: r.RegisterDays,
			TotalSpend: r.TotalSpend, PurchaseFreq: r.PurchaseFreq,
			FansNum: r.FansNum, FollowNum: r.FollowNum,
		})
	}
	return out, nil
}

func (s *DB) Items(ctx context.Context) ([]core.ItemRecord, error) {
	var rows []dimItem
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.ItemRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.ItemRecord{
			ItemID: r.ItemID, Category: r.Category, Price: r.Price,
			DiscountRate: r.DiscountRate, HasVideo: r.HasVideo,
		})
	}
	return out, nil
}

func (s *DB) Facts(ctx context.Context) ([]core.InteractionFact, error) {
	var rows []factUserBehavior
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.InteractionFact, 0, len(rows))
	for _, r := range rows {
		out = append(out, factToCore(r))
	}
	return out, nil
}

func factToCore(r factUserBehavior) core.InteractionFact {
	return core.InteractionFact{
		UserID: r.UserID, ItemID: r.ItemID,
		PVCount: r.PVCount, Add2Cart: r.Add2Cart,
		CollectNum: r.CollectNum, LikeNum: r.LikeNum,
		PurchaseIntent: r.PurchaseIntent, Label: r.Label,
		InteractionRate: r.InteractionRate, LastClickGap: r.LastClickGap,
	}
}

// JoinedFacts 对应画像构建的三表联查：fact JOIN dim_user JOIN dim_item。
func (s *DB) JoinedFacts(ctx context.Context) ([]core.JoinedFact, error) {
	type joinedRow struct {
		factUserBehavior
		Age          int     `gorm:"column:age"`
		RegisterDays float64 `gorm:"column:register_days"`
		TotalSpend   float64 `gorm:"column:total_spend"`
		PurchaseFreq float64 `gorm:"column:purchase_freq"`
		FansNum      float64 `gorm:"column:fans_num"`
		FollowNum    float64 `gorm:"column:follow_num"`
		Category     string  `gorm:"column:category"`
		Price        float64 `gorm:"column:price"`
		DiscountRate float64 `gorm:"column:discount_rate"`
		HasVideo     bool    `gorm:"column:has_video"`
	}
	var rows []joinedRow
	err := s.db.WithContext(ctx).
		Table("fact_user_behavior b").
		Select("b.*, u.age, u.register_days, u.total_spend, u.purchase_freq, u.fans_num, u.follow_num, " +
			"i.category, i.price, i.discount_rate, i.has_video").
		Joins("JOIN dim_user u ON u.user_id = b.user_id").
		Joins("JOIN dim_item i ON i.item_id = b.item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]core.JoinedFact, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.JoinedFact{
			User: core.UserRecord{
				UserID: r.UserID, Age: r.Age, RegisterDays: r.RegisterDays,
				TotalSpend: r.TotalSpend, PurchaseFreq: r.PurchaseFreq,
				FansNum: r.FansNum, FollowNum: r.FollowNum,
			},
			Fact: factToCore(r.factUserBehavior),
			Item: core.ItemRecord{
				ItemID: r.ItemID, Category: r.Category, Price: r.Price,
				DiscountRate: r.DiscountRate, HasVideo: r.HasVideo,
			},
		})
	}
	return out, nil
}

// LabeledFacts 对应训练样本的三表联查：fact JOIN usr_persona JOIN dim_item。
func (s *DB) LabeledFacts(ctx context.Context) ([]core.LabeledFact, error) {
	var rows []core.LabeledFact
	err := s.db.WithContext(ctx).
		Table("fact_user_behavior b").
		Select("b.user_id, b.item_id, b.label, i.category, "+
			"b.pv_count, b.add2cart AS add2_cart, b.collect_num, b.like_num, "+
			"p.cluster_label, p.is_churn_risk, p.loyalty_score, p.price_sensitivity, "+
			"i.price, i.discount_rate, i.has_video").
		Joins("JOIN usr_persona p ON p.user_id = b.user_id").
		Joins("JOIN dim_item i ON i.item_id = b.item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ---- PersonaStore ----

func (s *DB) ReplacePersonas(ctx context.Context, records []core.PersonaRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&usrPersona{}).Error; err != nil {
			return err
		}
		rows := make([]usrPersona, 0, len(records))
		for _, r := range records {
			rows = append(rows, personaRow(r))
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return persistErr("replace personas", err)
	}
	return nil
}

func (s *DB) Personas(ctx context.Context) ([]core.PersonaRecord, error) {
	var rows []usrPersona
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.PersonaRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (s *DB) PersonaByUser(ctx context.Context, userID string) (*core.PersonaRecord, error) {
	var row usrPersona
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotFound,
			fmt.Sprintf("persona not found for user %s", userID))
	}
	if err != nil {
		return nil, err
	}
	rec := row.toCore()
	return &rec, nil
}

func (s *DB) PersonaCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&usrPersona{}).Count(&count).Error
	return count, err
}

func (s *DB) PersonaTagDistribution(ctx context.Context) ([]core.NameCount, error) {
	var rows []core.NameCount
	err := s.db.WithContext(ctx).
		Table("usr_persona").
		Select("persona_tag AS name, COUNT(*) AS count").
		Group("persona_tag").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *DB) ConsumptionLevels(ctx context.Context) ([]core.NameCount, error) {
	var rows []core.NameCount
	err := s.db.WithContext(ctx).
		Table("usr_persona").
		Select("consumption_level AS name, COUNT(*) AS count").
		Group("consumption_level").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ---- RecommendationStore ----

func (s *DB) ReplaceModel(ctx context.Context, model string, fill func(insert core.BatchInsert) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("model_type = ?", model).Delete(&recommendationResult{}).Error; err != nil {
			return err
		}
		insert := func(records []core.RecommendationRecord) error {
			if len(records) == 0 {
				return nil
			}
			rows := make([]recommendationResult, 0, len(records))
			for _, r := range records {
				rows = append(rows, recommendationRow(r))
			}
			return tx.CreateInBatches(rows, 1000).Error
		}
		return fill(insert)
	})
	if err != nil {
		return persistErr("replace recommendations "+model, err)
	}
	return nil
}

func (s *DB) RecommendationsByModel(ctx context.Context, model string) ([]core.RecommendationRecord, error) {
	var rows []recommendationResult
	err := s.db.WithContext(ctx).Where("model_type = ?", model).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]core.RecommendationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (s *DB) UserRecommendations(ctx context.Context, userID, model string, limit int) ([]core.RecommendationRecord, error) {
	var rows []recommendationResult
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND model_type = ?", userID, model).
		Order("rank ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.RecommendationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCore())
	}
	return out, nil
}

func (s *DB) CategoryTrend(ctx context.Context, userID, model string, limit int) ([]core.CategoryScore, error) {
	var rows []core.CategoryScore
	q := s.db.WithContext(ctx).
		Table("recommendation_results").
		Select("category, MAX(score) AS score").
		Where("user_id = ? AND model_type = ?", userID, model).
		Group("category").
		Order("score DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CategoryReach 统计各品类覆盖的去重用户数（同一用户在一个品类下只计一次）。
func (s *DB) CategoryReach(ctx context.Context, model string, limit int) ([]core.NameCount, error) {
	var rows []core.NameCount
	q := s.db.WithContext(ctx).
		Table("recommendation_results").
		Select("category AS name, COUNT(DISTINCT user_id) AS count").
		Where("model_type = ?", model).
		Group("category").
		Order("count DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *DB) RecommendationCount(ctx context.Context, model string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&recommendationResult{}).
		Where("model_type = ?", model).Count(&count).Error
	return count, err
}

// ---- MetricStore ----

func (s *DB) ReplaceModelMetrics(ctx context.Context, records []core.MetricRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&modelMetric{}).Error; err != nil {
			return err
		}
		rows := make([]modelMetric, 0, len(records))
		for _, r := range records {
			rows = append(rows, modelMetric{
				ModelType: r.ModelType, Precision: r.Precision,
				Recall: r.Recall, F1: r.F1,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return persistErr("replace model metrics", err)
	}
	return nil
}

func (s *DB) ModelMetrics(ctx context.Context) ([]core.MetricRecord, error) {
	var rows []modelMetric
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.MetricRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.MetricRecord{
			ModelType: r.ModelType, Precision: r.Precision, Recall: r.Recall, F1: r.F1,
		})
	}
	return out, nil
}

func (s *DB) ReplaceThresholdMetrics(ctx context.Context, records []core.ThresholdMetric) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&sensitivityMetric{}).Error; err != nil {
			return err
		}
		rows := make([]sensitivityMetric, 0, len(records))
		for _, r := range records {
			rows = append(rows, sensitivityMetric{
				Threshold: r.Threshold, Precision: r.Precision,
				Recall: r.Recall, F1: r.F1,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return persistErr("replace threshold metrics", err)
	}
	return nil
}

func (s *DB) ThresholdMetrics(ctx context.Context) ([]core.ThresholdMetric, error) {
	var rows []sensitivityMetric
	if err := s.db.WithContext(ctx).Order("threshold ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.ThresholdMetric, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.ThresholdMetric{
			Threshold: r.Threshold, Precision: r.Precision, Recall: r.Recall, F1: r.F1,
		})
	}
	return out, nil
}

func (s *DB) ReplaceElbowMetrics(ctx context.Context, records []core.ElbowMetric) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&kmeansMetric{}).Error; err != nil {
			return err
		}
		rows := make([]kmeansMetric, 0, len(records))
		for _, r := range records {
			rows = append(rows, kmeansMetric{K: r.K, SSE: r.SSE})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return persistErr("replace elbow metrics", err)
	}
	return nil
}

func (s *DB) ElbowMetrics(ctx context.Context) ([]core.ElbowMetric, error) {
	var rows []kmeansMetric
	if err := s.db.WithContext(ctx).Order("k_value ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.ElbowMetric, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.ElbowMetric{K: r.K, SSE: r.SSE})
	}
	return out, nil
}

// ---- 上游入库（ingestion 层的写目标，核心组件不调用） ----

// ImportUsers 批量写入用户维表（upsert 语义由上游保证唯一）。
func (s *DB) ImportUsers(ctx context.Context, records []core.UserRecord) error {
	rows := make([]dimUser, 0, len(records))
	for _, r := range records {
		rows = append(rows, dimUser{
			UserID: r.UserID, Age: r.Age, RegisterDays: r.RegisterDays,
			TotalSpend: r.TotalSpend, PurchaseFreq: r.PurchaseFreq,
			FansNum: r.FansNum, FollowNum: r.FollowNum,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// ImportItems 批量写入商品维表。
func (s *DB) ImportItems(ctx context.Context, records []core.ItemRecord) error {
	rows := make([]dimItem, 0, len(records))
	for _, r := range records {
		rows = append(rows, dimItem{
			ItemID: r.ItemID, Category: r.Category, Price: r.Price,
			DiscountRate: r.DiscountRate, HasVideo: r.HasVideo,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// ImportFacts 批量写入行为事实表。
func (s *DB) ImportFacts(ctx context.Context, records []core.InteractionFact) error {
	rows := make([]factUserBehavior, 0, len(records))
	for _, r := range records {
		rows = append(rows, factUserBehavior{
			UserID: r.UserID, ItemID: r.ItemID,
			PVCount: r.PVCount, Add2Cart: r.Add2Cart,
			CollectNum: r.CollectNum, LikeNum: r.LikeNum,
			PurchaseIntent: r.PurchaseIntent, Label: r.Label,
			InteractionRate: r.InteractionRate, LastClickGap: r.LastClickGap,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 1000).Error
}
