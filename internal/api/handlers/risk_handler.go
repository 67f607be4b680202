package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/service"
	"github.com/gin-gonic/gin"
)

type RiskHandler struct {
	service *service.RiskService
}

func NewRiskHandler(service *service.RiskService) *RiskHandler {
	return &RiskHandler{service: service}
}

func (h *RiskHandler) GetScores(c *gin.Context) {
	filter := domain.RiskFilter{
		Grade: strings.ToUpper(strings.TrimSpace(c.Query("grade"))),
		Limit: queryLimit(c, 100),
	}

	rows, err := h.service.Scores(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch risk scores", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(rows), "total": len(rows)})
}

func (h *RiskHandler) GetSummary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch risk summary", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *RiskHandler) GetSensitivity(c *gin.Context) {
	report, err := h.service.Sensitivity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute weight sensitivity", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *RiskHandler) GetActions(c *gin.Context) {
	filter := domain.ActionFilter{
		EvalDate: strings.TrimSpace(c.Query("eval_date")),
		Status:   strings.TrimSpace(c.Query("status")),
		Limit:    queryLimit(c, 0),
	}

	rows, err := h.service.Actions(c.Request.Context(), filter)
	if errors.Is(err, service.ErrInvalidDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch actions", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(rows), "total": len(rows)})
}

// queryLimit parses ?limit=, falling back to def on absent or invalid input.
func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
