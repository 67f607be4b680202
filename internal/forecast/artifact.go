package forecast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andresuchdata/controltower/internal/domain"
	"github.com/andresuchdata/controltower/internal/stats"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Artifact is the JSON summary of one forecast run kept in object storage.
type Artifact struct {
	ModelID      string                        `json:"model_id"`
	RunID        string                        `json:"run_id"`
	ForecastDate string                        `json:"forecast_date"`
	Strategy     string                        `json:"strategy"`
	Tuned        bool                          `json:"tuned"`
	Params       map[string]map[string]float64 `json:"params"`
	Horizons     []HorizonSummary              `json:"horizons"`
	Importance   []domain.FeatureImportance    `json:"importance"`
	Tuning       []domain.TuningResult         `json:"tuning,omitempty"`
}

// HorizonSummary averages the walk-forward metrics of one horizon.
type HorizonSummary struct {
	HorizonKey   string  `json:"horizon_key"`
	Products     int     `json:"products"`
	MAE          float64 `json:"mae"`
	RMSE         float64 `json:"rmse"`
	CoverageRate float64 `json:"coverage_rate"`
	PinballP50   float64 `json:"pinball_p50"`
}

// ArtifactKey is where a run's artifact is stored.
func ArtifactKey(modelID, forecastDate, runID string) string {
	return fmt.Sprintf("forecast/%s/%s/%s.json", modelID, forecastDate, runID)
}

func summarize(horizons []domain.Horizon, evals []domain.ModelEvaluation) []HorizonSummary {
	out := make([]HorizonSummary, 0, len(horizons))
	for _, h := range horizons {
		var mae, rmse, cov, pb []float64
		for _, e := range evals {
			if e.HorizonKey != h.Key {
				continue
			}
			mae = append(mae, e.MAE)
			rmse = append(rmse, e.RMSE)
			cov = append(cov, e.CoverageRate)
			pb = append(pb, e.PinballP50)
		}
		if len(mae) == 0 {
			continue
		}
		out = append(out, HorizonSummary{
			HorizonKey:   h.Key,
			Products:     len(mae),
			MAE:          stats.Round(stats.Mean(mae), 6),
			RMSE:         stats.Round(stats.Mean(rmse), 6),
			CoverageRate: stats.Round(stats.Mean(cov), 2),
			PinballP50:   stats.Round(stats.Mean(pb), 6),
		})
	}
	return out
}

// uploadArtifact writes the run summary when storage is configured. Upload
// failures are logged; the tables are already committed.
func (s *Stage[R]) uploadArtifact(ctx context.Context, r *run[R], evals []domain.ModelEvaluation, imp []domain.FeatureImportance, tuning []domain.TuningResult) {
	if s.artifacts == nil {
		return
	}

	runID := r.env.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	a := Artifact{
		ModelID:      r.modelID,
		RunID:        runID,
		ForecastDate: r.env.Today.Format("2006-01-02"),
		Strategy:     r.strategy.Name(),
		Tuned:        len(tuning) > 0,
		Params:       make(map[string]map[string]float64, len(r.params)),
		Horizons:     summarize(r.horizons, evals),
		Importance:   imp,
		Tuning:       tuning,
	}
	for k, p := range r.params {
		a.Params[k] = p.Map()
	}

	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("encode forecast artifact")
		return
	}

	key := ArtifactKey(a.ModelID, a.ForecastDate, a.RunID)
	if err := s.artifacts.UploadObject(ctx, key, payload, "application/json"); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("forecast artifact upload failed")
		return
	}
	log.Info().Str("key", key).Int("bytes", len(payload)).Msg("forecast artifact uploaded")
}
