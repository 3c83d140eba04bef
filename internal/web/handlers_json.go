package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// intParam reads a positive integer query parameter bounded by upper.
func intParam(r *http.Request, name string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return min(v, upper), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status.Status())
}

type whalesResponse struct {
	Summary domain.WhaleSummary     `json:"summary"`
	Whales  []domain.WhaleFeedEntry `json:"whales"`
}

func (s *Server) handleWhales(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r, "minutes", 60, 24*60)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 20, 200)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window := time.Duration(minutes) * time.Minute

	whales, err := s.whales.RecentWhales(r.Context(), window, limit, s.status.Status().Price)
	if err != nil {
		s.logger.Error("Failed to list whales", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list whales")
		return
	}
	summary, err := s.whales.Summary(r.Context(), window)
	if err != nil {
		s.logger.Error("Failed to summarize whales", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to summarize whales")
		return
	}
	if whales == nil {
		whales = []domain.WhaleFeedEntry{}
	}
	s.writeJSON(w, whalesResponse{Summary: summary, Whales: whales})
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20, 500)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	preds, err := s.predictions.RecentPredictions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list predictions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}
	s.writeJSON(w, preds)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	p, err := s.predictions.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "prediction not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load prediction", zap.Int64("prediction_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load prediction")
		return
	}
	s.writeJSON(w, p)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.predictions.Insights(r.Context())
	if err != nil {
		s.logger.Error("Failed to compute insights", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to compute insights")
		return
	}
	s.writeJSON(w, insights)
}

type patternsResponse struct {
	Summary domain.PatternSummary    `json:"summary"`
	Levels  domain.SupportResistance `json:"levels"`
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", 24, 24*7)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.patterns.RecentPatterns(r.Context(), hours)
	if err != nil {
		s.logger.Error("Failed to summarize patterns", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to summarize patterns")
		return
	}
	levels, err := s.patterns.DetectSupportResistance(r.Context(), hours)
	if err != nil {
		s.logger.Error("Failed to detect levels", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to detect levels")
		return
	}
	s.writeJSON(w, patternsResponse{Summary: summary, Levels: levels})
}

type orderFlowResponse struct {
	Latest domain.OrderFlowAnalysis `json:"latest"`
	Trend  domain.OrderFlowTrend    `json:"trend"`
}

func (s *Server) handleOrderFlow(w http.ResponseWriter, r *http.Request) {
	periods, err := intParam(r, "periods", 10, 100)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, orderFlowResponse{Latest: s.flow.Latest(), Trend: s.flow.Trend(periods)})
}
