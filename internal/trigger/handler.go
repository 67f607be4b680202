// Package trigger exposes the pipeline to schedulers over a small webhook.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/andresuchdata/controltower/internal/pipeline"
	"github.com/andresuchdata/controltower/internal/service"
	"github.com/andresuchdata/controltower/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type Runner interface {
	Run(ctx context.Context, req service.RunRequest) (*service.RunReport, error)
	Stages() []service.StageInfo
}

type Handler struct {
	runner    Runner
	artifacts storage.ObjectStorage
}

// NewHandler creates a Handler. artifacts may be nil when no object storage
// is configured.
func NewHandler(runner Runner, artifacts storage.ObjectStorage) *Handler {
	return &Handler{runner: runner, artifacts: artifacts}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/pipeline/run", h.Run).Methods(http.MethodPost)
	router.HandleFunc("/pipeline/stages", h.Stages).Methods(http.MethodGet)
	router.HandleFunc("/pipeline/artifacts", h.Artifacts).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// Run executes the selected stages synchronously.
//
//	POST /pipeline/run?steps=0,1,3m&tune=true&keep_going=true&date=2024-06-30
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := service.RunRequest{Keys: pipeline.ParseKeys(query.Get("steps"))}

	var err error
	if req.Tune, err = boolParam(query.Get("tune")); err != nil {
		http.Error(w, "tune must be a boolean", http.StatusBadRequest)
		return
	}
	if req.KeepGoing, err = boolParam(query.Get("keep_going")); err != nil {
		http.Error(w, "keep_going must be a boolean", http.StatusBadRequest)
		return
	}
	if raw := query.Get("date"); raw != "" {
		if req.Today, err = time.Parse("2006-01-02", raw); err != nil {
			http.Error(w, service.ErrInvalidDate.Error(), http.StatusBadRequest)
			return
		}
	}

	report, err := h.runner.Run(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrPipelineBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil && report == nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		log.Error().Err(err).Str("run_id", report.RunID).Msg("webhook run failed")
		writeJSON(w, http.StatusInternalServerError, report)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (h *Handler) Stages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.Stages())
}

// Artifacts lists stored run artifacts under ?prefix= (default "forecast/").
func (h *Handler) Artifacts(w http.ResponseWriter, r *http.Request) {
	if h.artifacts == nil {
		http.Error(w, "object storage is not configured", http.StatusNotFound)
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "forecast/"
	}

	objects, err := h.artifacts.ListObjects(r.Context(), prefix)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, objects)
}

func boolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
