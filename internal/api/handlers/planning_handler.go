package handlers

import (
	"errors"
	"net/http"

	"github.com/andresuchdata/controltower/internal/service"
	"github.com/gin-gonic/gin"
)

type PlanningHandler struct {
	service *service.PlanningService
}

func NewPlanningHandler(service *service.PlanningService) *PlanningHandler {
	return &PlanningHandler{service: service}
}

func (h *PlanningHandler) GetProductionPlans(c *gin.Context) {
	rows, err := h.service.ProductionPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch production plans", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(rows), "total": len(rows)})
}

func (h *PlanningHandler) GetPurchaseRecommendations(c *gin.Context) {
	rows, err := h.service.PurchaseRecommendations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch purchase recommendations", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(rows), "total": len(rows)})
}

func (h *PlanningHandler) GetForecasts(c *gin.Context) {
	rows, err := h.service.Forecasts(c.Request.Context(), c.Param("product_id"))
	if errors.Is(err, service.ErrMissingProduct) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch forecasts", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": c.Param("product_id"), "items": nonNil(rows)})
}

func (h *PlanningHandler) GetRuns(c *gin.Context) {
	rows, err := h.service.Runs(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch pipeline runs", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(rows), "total": len(rows)})
}
