package service

import (
	"context"
	"sort"
	"strings"

	"github.com/andresuchdata/controltower/internal/domain"
)

type PlanningStore interface {
	LatestProductionPlans(ctx context.Context) ([]domain.ProductionPlan, error)
	LatestPurchaseRecommendations(ctx context.Context) ([]domain.PurchaseRecommendation, error)
	ProductForecasts(ctx context.Context, productID string) ([]domain.Forecast, error)
	Runs(ctx context.Context, limit int) ([]domain.StageRun, error)
}

type PlanningService struct {
	store PlanningStore
}

func NewPlanningService(store PlanningStore) *PlanningService {
	return &PlanningService{store: store}
}

// ProductionPlans returns the newest plan, most pressing priority first.
func (s *PlanningService) ProductionPlans(ctx context.Context) ([]domain.ProductionPlan, error) {
	rows, err := s.store.LatestProductionPlans(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := domain.LevelRank(rows[i].Priority), domain.LevelRank(rows[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return rows[i].ProductID < rows[j].ProductID
	})
	return rows, nil
}

// PurchaseRecommendations returns the newest recommendations, most urgent first.
func (s *PlanningService) PurchaseRecommendations(ctx context.Context) ([]domain.PurchaseRecommendation, error) {
	rows, err := s.store.LatestPurchaseRecommendations(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := domain.LevelRank(rows[i].Urgency), domain.LevelRank(rows[j].Urgency)
		if ri != rj {
			return ri < rj
		}
		return rows[i].ComponentProductID < rows[j].ComponentProductID
	})
	return rows, nil
}

func (s *PlanningService) Forecasts(ctx context.Context, productID string) ([]domain.Forecast, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, ErrMissingProduct
	}
	return s.store.ProductForecasts(ctx, productID)
}

func (s *PlanningService) Runs(ctx context.Context, limit int) ([]domain.StageRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.Runs(ctx, limit)
}
