package service

import (
	"context"
	"sort"
	"time"

	"github.com/andresuchdata/controltower/internal/cache"
	"github.com/andresuchdata/controltower/internal/config"
	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/risk"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/rs/zerolog/log"
)

const dateLayout = "2006-01-02"

type RiskStore interface {
	LatestRiskScores(ctx context.Context) ([]domain.RiskScore, error)
	RiskScores(ctx context.Context, filter domain.RiskFilter) ([]domain.RiskScore, error)
	Actions(ctx context.Context, evalDate time.Time, status string) ([]domain.Action, error)
	LatestActionDate(ctx context.Context) (time.Time, error)
}

type RiskService struct {
	store RiskStore
	cache cache.DashboardCache
	cfg   config.RiskConfig
}

func NewRiskService(store RiskStore, cacheImpl cache.DashboardCache, cfg config.RiskConfig) *RiskService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopDashboardCache()
	}
	return &RiskService{store: store, cache: cacheImpl, cfg: cfg}
}

func (s *RiskService) Scores(ctx context.Context, filter domain.RiskFilter) ([]domain.RiskScore, error) {
	return s.store.RiskScores(ctx, filter)
}

// Summary returns the grade distribution of the latest evaluation, served
// from the dashboard cache when possible.
func (s *RiskService) Summary(ctx context.Context) (*domain.RiskSummary, error) {
	if summary, ok, err := s.cache.GetRiskSummary(ctx, ""); err == nil && ok {
		return summary, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("risk: cache get summary failed")
	}

	scores, err := s.store.LatestRiskScores(ctx)
	if err != nil {
		return nil, err
	}
	summary := Summarize(scores)

	if summary.Products > 0 {
		date, err := s.store.LatestActionDate(ctx)
		if err != nil {
			return nil, err
		}
		if !date.IsZero() {
			pending, err := s.store.Actions(ctx, date, domain.ActionStatusPending)
			if err != nil {
				return nil, err
			}
			summary.OpenActions = len(pending)
		}
	}

	if err := s.cache.SetRiskSummary(ctx, "", summary); err != nil {
		log.Warn().Err(err).Msg("risk: cache set summary failed")
	}
	return summary, nil
}

// Summarize counts grades and averages total risk. EvalDate is the newest
// evaluation among scores.
func Summarize(scores []domain.RiskScore) *domain.RiskSummary {
	summary := &domain.RiskSummary{Products: len(scores), Grades: make([]domain.GradeCount, 0)}
	if len(scores) == 0 {
		return summary
	}

	counts := make(map[string]int)
	totals := make([]float64, len(scores))
	var newest time.Time
	for i, r := range scores {
		counts[r.RiskGrade]++
		totals[i] = r.TotalRisk
		if r.EvalDate.After(newest) {
			newest = r.EvalDate
		}
	}
	for g, n := range counts {
		summary.Grades = append(summary.Grades, domain.GradeCount{Grade: g, Count: n})
	}
	sort.Slice(summary.Grades, func(i, j int) bool { return summary.Grades[i].Grade < summary.Grades[j].Grade })
	summary.AvgTotalRisk = stats.Round(stats.Mean(totals), 2)
	summary.EvalDate = newest.Format(dateLayout)
	return summary
}

// Sensitivity re-grades the latest risk scores under the configured weights
// and the alternative weightings.
func (s *RiskService) Sensitivity(ctx context.Context) (*domain.RiskSensitivity, error) {
	scores, err := s.store.LatestRiskScores(ctx)
	if err != nil {
		return nil, err
	}
	out := &domain.RiskSensitivity{
		EvalDate:  Summarize(scores).EvalDate,
		Products:  len(scores),
		Scenarios: risk.Sensitivity(scores, risk.Scenarios(s.cfg.Weights), s.cfg.Grades),
	}
	return out, nil
}

// Actions lists the queue for filter.EvalDate, or for the newest evaluation
// when it is empty.
func (s *RiskService) Actions(ctx context.Context, filter domain.ActionFilter) ([]domain.Action, error) {
	var date time.Time
	if filter.EvalDate != "" {
		d, err := time.Parse(dateLayout, filter.EvalDate)
		if err != nil {
			return nil, ErrInvalidDate
		}
		date = d
	} else {
		d, err := s.store.LatestActionDate(ctx)
		if err != nil {
			return nil, err
		}
		if d.IsZero() {
			return []domain.Action{}, nil
		}
		date = d
	}

	rows, err := s.store.Actions(ctx, date, filter.Status)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return domain.LevelRank(rows[i].Severity) < domain.LevelRank(rows[j].Severity)
	})
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}
