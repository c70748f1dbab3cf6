// Package server 暴露流水线的 HTTP 管理与查询接口。
// 写路径只有一个：触发全量重构；其余接口均为已持久化结果的只读查询。
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rushteam/shoprec/core"
	"github.com/rushteam/shoprec/pipeline"
	"github.com/rushteam/shoprec/pkg/logger"
	"github.com/rushteam/shoprec/rank"
)

// Server 组合 HTTP 层依赖。
type Server struct {
	Runner   *pipeline.Runner
	Data     core.DatasetStore
	Personas core.PersonaStore
	Recs     core.RecommendationStore
	Metrics  core.MetricStore
	Reader   *rank.Reader
	Log      *logger.Logger

	DefaultTopN      int
	DefaultThreshold float64
}

type trainRequest struct {
	TopN      int     `json:"top_n"`
	Threshold float64 `json:"threshold"`
}

// Router 构建 gin 路由。跨域全放行，与前端分离部署。
func (s *Server) Router(mode string) *gin.Engine {
	switch mode {
	case "prod", "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"*"},
	}))

	api := r.Group("/api")
	{
		api.POST("/recommend/train", s.handleTrain)
		api.POST("/analyze/persona", s.handleAnalyzePersona)
		api.POST("/model/evaluate", s.handleEvaluate)
		api.GET("/system/status", s.handleStatus)
		api.GET("/user/profile/:user_id", s.handleProfile)
		api.GET("/recommend/user/:user_id", s.handleRecommend)
		api.GET("/recommend/trend/:user_id", s.handleTrend)
		api.GET("/model/metrics", s.handleMetrics)
		api.GET("/model/diagnostics", s.handleDiagnostics)
		api.GET("/stats/persona_distribution", s.handlePersonaDistribution)
		api.GET("/stats/consumption_level", s.handleConsumptionLevels)
		api.GET("/stats/category_ranking", s.handleCategoryRanking)
	}
	return r
}

// handleTrain 后台触发整条流水线。已有运行在途时返回 409。
func (s *Server) handleTrain(c *gin.Context) {
	// body 可省略，解析失败一律回落默认参数
	req := trainRequest{TopN: s.DefaultTopN, Threshold: s.DefaultThreshold}
	if err := c.ShouldBindJSON(&req); err != nil {
		req = trainRequest{TopN: s.DefaultTopN, Threshold: s.DefaultThreshold}
	}
	if req.TopN <= 0 {
		req.TopN = s.DefaultTopN
	}
	if req.Threshold <= 0 || req.Threshold >= 1 {
		req.Threshold = s.DefaultThreshold
	}

	outcome, err := s.Runner.Trigger(req.TopN, req.Threshold)
	if err != nil {
		if core.IsRunActive(err) {
			c.JSON(http.StatusConflict, outcome)
			return
		}
		c.JSON(http.StatusInternalServerError, outcome)
		return
	}
	c.JSON(http.StatusAccepted, outcome)
}

// handleAnalyzePersona 后台单独重算画像，与全量流水线共用运行槽位。
func (s *Server) handleAnalyzePersona(c *gin.Context) {
	outcome, err := s.Runner.AnalyzePersonas()
	if err != nil {
		if core.IsRunActive(err) {
			c.JSON(http.StatusConflict, outcome)
			return
		}
		c.JSON(http.StatusInternalServerError, outcome)
		return
	}
	c.JSON(http.StatusAccepted, outcome)
}

// handleEvaluate 同步跑一次离线评估，指标整表替换。
func (s *Server) handleEvaluate(c *gin.Context) {
	outcome, err := s.Runner.Evaluate(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// handleStatus 返回数据就绪标志与调度器快照。
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	facts, err := s.Data.Facts(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	personaCount, err := s.Personas.PersonaCount(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	recCount, err := s.Recs.RecommendationCount(ctx, core.ModelRFOptimized)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uploaded":       len(facts) > 0,
		"profiled":       personaCount > 0,
		"persona_count":  personaCount,
		"recommendable":  recCount > 0,
		"ranked_results": recCount,
		"run":            s.Runner.Sched.Status(),
	})
}

func (s *Server) handleProfile(c *gin.Context) {
	p, err := s.Personas.PersonaByUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":            p.UserID,
		"cluster_label":      p.ClusterLabel,
		"persona_tag":        p.PersonaTag,
		"social_influence":   p.SocialInfluence,
		"consumption_tier":   p.ConsumptionTier,
		"consumption_level":  p.ConsumptionLevel,
		"preferred_category": p.PreferredCategory,
		"price_sensitivity":  p.PriceSensitivity,
		"loyalty_score":      p.LoyaltyScore,
		"is_churn_risk":      p.IsChurnRisk,
		"activity_level":     p.ActivityLevel,
	})
}

func (s *Server) handleRecommend(c *gin.Context) {
	topN := s.DefaultTopN
	if raw := c.Query("top_n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			topN = v
		}
	}

	recs, err := s.Reader.TopRecommendations(c.Request.Context(), c.Param("user_id"), topN)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "recommendations": recs})
}

const trendCategoryLimit = 10

func (s *Server) handleTrend(c *gin.Context) {
	trend, err := s.Recs.CategoryTrend(c.Request.Context(), c.Param("user_id"), core.ModelRFOptimized, trendCategoryLimit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(trend))
	for _, t := range trend {
		out = append(out, gin.H{"category": t.Category, "score": t.Score})
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user_id"), "trend": out})
}

func (s *Server) handleMetrics(c *gin.Context) {
	rows, err := s.Metrics.ModelMetrics(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, m := range rows {
		out = append(out, gin.H{
			"model_type": m.ModelType,
			"precision":  m.Precision,
			"recall":     m.Recall,
			"f1":         m.F1,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": out})
}

// handleDiagnostics 返回训练期留存的阈值敏感度与手肘法曲线。
func (s *Server) handleDiagnostics(c *gin.Context) {
	ctx := c.Request.Context()

	thresholds, err := s.Metrics.ThresholdMetrics(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	elbow, err := s.Metrics.ElbowMetrics(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	tOut := make([]gin.H, 0, len(thresholds))
	for _, t := range thresholds {
		tOut = append(tOut, gin.H{"threshold": t.Threshold, "precision": t.Precision, "recall": t.Recall, "f1": t.F1})
	}
	eOut := make([]gin.H, 0, len(elbow))
	for _, e := range elbow {
		eOut = append(eOut, gin.H{"k": e.K, "sse": e.SSE})
	}
	c.JSON(http.StatusOK, gin.H{"threshold_sensitivity": tOut, "kmeans_elbow": eOut})
}

const categoryRankingLimit = 10

// handlePersonaDistribution 返回各画像标签的用户数（饼图数据源）。
func (s *Server) handlePersonaDistribution(c *gin.Context) {
	rows, err := s.Personas.PersonaTagDistribution(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distribution": nameCounts(rows)})
}

// handleConsumptionLevels 返回各消费等级的用户数。
func (s *Server) handleConsumptionLevels(c *gin.Context) {
	rows, err := s.Personas.ConsumptionLevels(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": nameCounts(rows)})
}

// handleCategoryRanking 返回排序模型结果中各品类覆盖的去重用户数排名。
func (s *Server) handleCategoryRanking(c *gin.Context) {
	rows, err := s.Recs.CategoryReach(c.Request.Context(), core.ModelRFOptimized, categoryRankingLimit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": nameCounts(rows)})
}

func nameCounts(rows []core.NameCount) []gin.H {
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{"name": r.Name, "value": r.Count})
	}
	return out
}

// fail 把领域错误映射为 HTTP 状态码。
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsNotFound(err):
		status = http.StatusNotFound
	case core.IsNoData(err):
		status = http.StatusBadRequest
	case core.IsRunActive(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.Log.Error("请求处理失败", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
