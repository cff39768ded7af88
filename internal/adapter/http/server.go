package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IncidentService is the dispatch behaviour behind the REST API.
type IncidentService interface {
	CreateIncident(ctx context.Context, inc domain.IncidentReport) (domain.IncidentReport, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.IncidentReport, error)
	ListRecent(ctx context.Context) ([]domain.IncidentReport, error)
	History(ctx context.Context, author string) ([]domain.IncidentReport, error)
	Predict(ctx context.Context) (domain.PredictionSnapshot, error)
	CheckReadiness(ctx context.Context) error
}

// Server exposes the incident API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	svc        IncidentService
	logger     *slog.Logger
}

// NewServer wires every route. live serves the prediction websocket and may
// be nil, in which case the route is not registered.
func NewServer(addr string, svc IncidentService, live http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:    svc,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(svc))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/reports", s.handleCreate)
	mux.HandleFunc("GET /api/reports", s.handleList)
	mux.HandleFunc("PUT /api/reports/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("GET /api/ai-predict", s.handlePredict)
	if live != nil {
		mux.Handle("GET /ws/predictions", live)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
