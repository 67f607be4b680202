package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/andresuchdata/controltower/internal/api/handlers"
	"github.com/andresuchdata/controltower/internal/api/middleware"
	"github.com/andresuchdata/controltower/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Risk     *service.RiskService
	Planning *service.PlanningService
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		origins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(origins) > 0 {
			corsConfig.AllowOrigins = origins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", health)
	apiGroup := router.Group("/api/v1")
	apiGroup.GET("/health", health)

	if services == nil {
		return router
	}

	if services.Risk != nil {
		riskHandler := handlers.NewRiskHandler(services.Risk)
		riskGroup := apiGroup.Group("/risk")
		{
			riskGroup.GET("", riskHandler.GetScores)
			riskGroup.GET("/summary", riskHandler.GetSummary)
			riskGroup.GET("/sensitivity", riskHandler.GetSensitivity)
		}
		apiGroup.GET("/actions", riskHandler.GetActions)
	}

	if services.Planning != nil {
		planningHandler := handlers.NewPlanningHandler(services.Planning)
		planGroup := apiGroup.Group("/plans")
		{
			planGroup.GET("/production", planningHandler.GetProductionPlans)
			planGroup.GET("/purchase", planningHandler.GetPurchaseRecommendations)
		}
		apiGroup.GET("/forecasts/:product_id", planningHandler.GetForecasts)
		apiGroup.GET("/runs", planningHandler.GetRuns)
	}

	return router
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
