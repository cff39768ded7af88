// Package dispatch is the server's service layer: it accepts incident
// reports, applies status changes, and keeps prediction subscribers and the
// incident event stream up to date.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/google/uuid"
)

// Repository persists incidents.
type Repository interface {
	Insert(ctx context.Context, inc domain.IncidentReport) (domain.IncidentReport, bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.IncidentReport, domain.Status, error)
	ListRecent(ctx context.Context, limit int) ([]domain.IncidentReport, error)
	ListByAuthor(ctx context.Context, author string) ([]domain.IncidentReport, error)
	ListAll(ctx context.Context) ([]domain.IncidentReport, error)
	Ping(ctx context.Context) error
}

// Publisher writes incident events to a downstream stream.
type Publisher interface {
	Publish(ctx context.Context, event domain.IncidentEvent) error
}

// Broadcaster pushes a prediction snapshot to live subscribers.
type Broadcaster interface {
	Broadcast(snapshot domain.PredictionSnapshot)
}

// Service implements the dispatch API. The geocoder, publisher and
// broadcaster are optional.
type Service struct {
	repo        Repository
	geocoder    domain.Geocoder
	publisher   Publisher
	broadcaster Broadcaster
	recentLimit int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Geocoder    domain.Geocoder
	Publisher   Publisher
	Broadcaster Broadcaster
	RecentLimit int
}

// NewService creates a Service backed by repo.
func NewService(repo Repository, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Service {
	limit := opts.RecentLimit
	if limit <= 0 {
		limit = 50
	}
	return &Service{
		repo:        repo,
		geocoder:    opts.Geocoder,
		publisher:   opts.Publisher,
		broadcaster: opts.Broadcaster,
		recentLimit: limit,
		logger:      logger,
		metrics:     metrics,
	}
}

// CreateIncident stores a report. A report whose id already exists is not
// stored again; the existing row is returned with created=false. Reports
// posted without an id (dashboards, simulations) get a fresh one, and the
// status is stored in its canonical spelling.
func (s *Service) CreateIncident(ctx context.Context, inc domain.IncidentReport) (domain.IncidentReport, bool, error) {
	inc.ID = strings.TrimSpace(inc.ID)
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	inc.Type = strings.TrimSpace(inc.Type)
	inc.Details = strings.TrimSpace(inc.Details)
	if strings.TrimSpace(inc.AuthorIdentity) == "" {
		inc.AuthorIdentity = domain.AnonymousIdentity
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = domain.Now()
	}
	if err := s.canonicalStatus(&inc); err != nil {
		s.metrics.IncidentsCreated.WithLabelValues("invalid").Inc()
		return domain.IncidentReport{}, false, err
	}
	if err := inc.Validate(); err != nil {
		s.metrics.IncidentsCreated.WithLabelValues("invalid").Inc()
		return domain.IncidentReport{}, false, err
	}

	inc = domain.EnrichWithPlace(ctx, inc, s.geocoder, s.logger)

	stored, created, err := s.repo.Insert(ctx, inc)
	if err != nil {
		s.metrics.IncidentsCreated.WithLabelValues("error").Inc()
		return domain.IncidentReport{}, false, fmt.Errorf("create incident: %w", err)
	}

	if !created {
		s.metrics.IncidentsCreated.WithLabelValues("duplicate").Inc()
		s.logger.Info("duplicate incident ignored", "incident_id", stored.ID)
		return stored, false, nil
	}

	s.metrics.IncidentsCreated.WithLabelValues("created").Inc()
	s.logger.Info("incident created",
		"incident_id", stored.ID, "type", stored.Type, "place", stored.PlaceName)

	s.publish(ctx, domain.NewIncidentEvent(domain.EventCreated, stored, ""))
	s.broadcastPredictions(ctx)
	return stored, true, nil
}

func (s *Service) canonicalStatus(inc *domain.IncidentReport) error {
	if strings.TrimSpace(string(inc.Status)) == "" {
		inc.Status = domain.StatusPending
		return nil
	}
	status, err := domain.ParseStatus(string(inc.Status))
	if err != nil {
		return err
	}
	inc.Status = status
	return nil
}

// UpdateStatus parses status and applies it. It returns domain.ErrNotFound for
// an unknown id and domain.ErrInvalidTransition for a backward move.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (domain.IncidentReport, error) {
	next, err := domain.ParseStatus(status)
	if err != nil {
		s.metrics.StatusUpdates.WithLabelValues("rejected").Inc()
		return domain.IncidentReport{}, err
	}

	updated, previous, err := s.repo.UpdateStatus(ctx, id, next)
	switch {
	case err == nil:
	case isNotFound(err):
		s.metrics.StatusUpdates.WithLabelValues("not_found").Inc()
		return domain.IncidentReport{}, err
	case isRejected(err):
		s.metrics.StatusUpdates.WithLabelValues("rejected").Inc()
		return domain.IncidentReport{}, err
	default:
		s.metrics.StatusUpdates.WithLabelValues("error").Inc()
		return domain.IncidentReport{}, fmt.Errorf("update status: %w", err)
	}

	s.metrics.StatusUpdates.WithLabelValues("updated").Inc()
	if previous == updated.Status {
		return updated, nil
	}

	s.logger.Info("incident status changed",
		"incident_id", id, "from", string(previous), "to", string(updated.Status))
	s.publish(ctx, domain.NewIncidentEvent(domain.EventStatusChanged, updated, previous))
	s.broadcastPredictions(ctx)
	return updated, nil
}

// ListRecent returns the newest incidents up to the configured limit.
func (s *Service) ListRecent(ctx context.Context) ([]domain.IncidentReport, error) {
	return s.repo.ListRecent(ctx, s.recentLimit)
}

// History returns the incidents reported by author, newest first.
func (s *Service) History(ctx context.Context, author string) ([]domain.IncidentReport, error) {
	return s.repo.ListByAuthor(ctx, author)
}

// Predict computes a fresh resource estimate over every stored incident.
func (s *Service) Predict(ctx context.Context) (domain.PredictionSnapshot, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return domain.PredictionSnapshot{}, fmt.Errorf("load incidents: %w", err)
	}
	s.metrics.Predictions.Inc()
	return domain.Predict(all), nil
}

// CheckReadiness reports whether the incident database is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("incident database: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event domain.IncidentEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.EventsPublished.WithLabelValues("error").Inc()
		s.logger.Warn("publish incident event failed",
			"incident_id", event.Incident.ID, "kind", string(event.Kind), "error", err)
		return
	}
	s.metrics.EventsPublished.WithLabelValues("success").Inc()
}

func (s *Service) broadcastPredictions(ctx context.Context) {
	if s.broadcaster == nil {
		return
	}
	snap, err := s.Predict(ctx)
	if err != nil {
		s.logger.Warn("prediction refresh failed", "error", err)
		return
	}
	s.broadcaster.Broadcast(snap)
}
