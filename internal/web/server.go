package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
	"github.com/vitos/perp_scanner/internal/usecase"
	"go.uber.org/zap"
)

type StatusProvider interface {
	Status() usecase.PipelineStatus
}

type WhaleReader interface {
	RecentWhales(ctx context.Context, window time.Duration, limit int, currentPrice float64) ([]domain.WhaleFeedEntry, error)
	Summary(ctx context.Context, window time.Duration) (domain.WhaleSummary, error)
}

type PredictionReader interface {
	RecentPredictions(ctx context.Context, limit int) ([]domain.Prediction, error)
	Get(ctx context.Context, id int64) (*domain.Prediction, error)
	Insights(ctx context.Context) (domain.LearningInsights, error)
}

type OrderFlowReader interface {
	Latest() domain.OrderFlowAnalysis
	Trend(periods int) domain.OrderFlowTrend
}

type PatternReader interface {
	RecentPatterns(ctx context.Context, hours int) (domain.PatternSummary, error)
	DetectSupportResistance(ctx context.Context, lookbackHours int) (domain.SupportResistance, error)
}

// Server exposes the read-only JSON API over the engine's state.
type Server struct {
	router      *http.ServeMux
	server      *http.Server
	status      StatusProvider
	whales      WhaleReader
	predictions PredictionReader
	patterns    PatternReader
	flow        OrderFlowReader
	logger      *zap.Logger
}

func NewServer(
	port int,
	status StatusProvider,
	whales WhaleReader,
	predictions PredictionReader,
	patterns PatternReader,
	flow OrderFlowReader,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:      http.NewServeMux(),
		status:      status,
		whales:      whales,
		predictions: predictions,
		patterns:    patterns,
		flow:        flow,
		logger:      logger.With(zap.String("component", "web")),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("GET /api/whales", s.handleWhales)
	s.router.HandleFunc("GET /api/predictions", s.handlePredictions)
	s.router.HandleFunc("GET /api/predictions/{id}", s.handlePrediction)
	s.router.HandleFunc("GET /api/insights", s.handleInsights)
	s.router.HandleFunc("GET /api/patterns", s.handlePatterns)
	s.router.HandleFunc("GET /api/orderflow", s.handleOrderFlow)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
