package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/dispatch"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository with the same dedup and transition rules
// as the SQLite table.
type memRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.IncidentReport
	pingErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]domain.IncidentReport{}}
}

func (r *memRepo) Insert(_ context.Context, inc domain.IncidentReport) (domain.IncidentReport, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[inc.ID]; ok {
		return existing, false, nil
	}
	r.rows[inc.ID] = inc
	return inc, true, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id string, status domain.Status) (domain.IncidentReport, domain.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.rows[id]
	if !ok {
		return domain.IncidentReport{}, "", domain.ErrNotFound
	}
	prev := inc.Status
	if err := domain.CheckTransition(prev, status); err != nil {
		return domain.IncidentReport{}, prev, err
	}
	inc.Status = status
	r.rows[id] = inc
	return inc, prev, nil
}

func (r *memRepo) sorted(filter func(domain.IncidentReport) bool) []domain.IncidentReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.IncidentReport{}
	for _, inc := range r.rows {
		if filter(inc) {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memRepo) ListRecent(_ context.Context, limit int) ([]domain.IncidentReport, error) {
	all := r.sorted(func(domain.IncidentReport) bool { return true })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memRepo) ListByAuthor(_ context.Context, author string) ([]domain.IncidentReport, error) {
	return r.sorted(func(inc domain.IncidentReport) bool { return inc.AuthorIdentity == author }), nil
}

func (r *memRepo) ListAll(_ context.Context) ([]domain.IncidentReport, error) {
	return r.sorted(func(domain.IncidentReport) bool { return true }), nil
}

func (r *memRepo) Ping(context.Context) error { return r.pingErr }

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.IncidentEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e domain.IncidentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type captureBroadcaster struct {
	snapshots []domain.PredictionSnapshot
}

func (b *captureBroadcaster) Broadcast(s domain.PredictionSnapshot) {
	b.snapshots = append(b.snapshots, s)
}

type fixedGeocoder struct {
	result domain.GeocodingResult
	err    error
}

func (g fixedGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	return g.result, g.err
}

type fixture struct {
	repo    *memRepo
	pub     *capturePublisher
	bcast   *captureBroadcaster
	metrics *observability.Metrics
	svc     *dispatch.Service
}

func newFixture(t *testing.T, geocoder domain.Geocoder) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 14, 7, 0, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	f := &fixture{
		repo:    newMemRepo(),
		pub:     &capturePublisher{},
		bcast:   &captureBroadcaster{},
		metrics: observability.NewMetricsForTesting(),
	}
	f.svc = dispatch.NewService(f.repo, dispatch.Options{
		Geocoder:    geocoder,
		Publisher:   f.pub,
		Broadcaster: f.bcast,
		RecentLimit: 2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)
	return f
}

func fireReport() domain.IncidentReport {
	return domain.NewIncidentReport("Fire", "smoke from the market", domain.Coordinates{Lat: 28.6139, Lon: 77.209}, "ravi@example.org")
}

func TestCreateIncident_PublishesAndBroadcasts(t *testing.T) {
	f := newFixture(t, nil)

	stored, created, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPending, stored.Status)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, domain.EventCreated, f.pub.events[0].Kind)
	assert.Equal(t, stored.ID, f.pub.events[0].Incident.ID)

	require.Len(t, f.bcast.snapshots, 1)
	snap := f.bcast.snapshots[0]
	assert.Equal(t, 1, snap.ActiveIncidents)
	assert.Equal(t, 2, snap.FireVans)
}

func TestCreateIncident_DuplicateIsNotReapplied(t *testing.T) {
	f := newFixture(t, nil)
	r := fireReport()

	_, created, err := f.svc.CreateIncident(context.Background(), r)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.svc.CreateIncident(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.ID, again.ID)

	assert.Len(t, f.pub.events, 1)
	assert.Len(t, f.bcast.snapshots, 1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.IncidentsCreated.WithLabelValues("duplicate")), 0)
}

func TestCreateIncident_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	r := fireReport()
	r.Lat = 123

	_, _, err := f.svc.CreateIncident(context.Background(), r)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, f.pub.events)
}

func TestCreateIncident_DefaultsAnonymousAuthor(t *testing.T) {
	f := newFixture(t, nil)
	r := fireReport()
	r.AuthorIdentity = ""
	r.Status = ""

	stored, _, err := f.svc.CreateIncident(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, domain.AnonymousIdentity, stored.AuthorIdentity)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestCreateIncident_StoresCanonicalStatus(t *testing.T) {
	tests := []struct {
		in   domain.Status
		want domain.Status
	}{
		{"resolved", domain.StatusResolved},
		{"ACTIVE", domain.StatusActive},
		{" pending ", domain.StatusPending},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			f := newFixture(t, nil)
			r := fireReport()
			r.Status = tt.in

			stored, created, err := f.svc.CreateIncident(context.Background(), r)
			require.NoError(t, err)
			require.True(t, created)
			assert.Equal(t, tt.want, stored.Status)

			row := f.repo.rows[r.ID]
			assert.Equal(t, tt.want, row.Status)
		})
	}
}

func TestCreateIncident_LowercaseResolvedIsNotActive(t *testing.T) {
	f := newFixture(t, nil)
	r := fireReport()
	r.Status = "resolved"

	_, _, err := f.svc.CreateIncident(context.Background(), r)
	require.NoError(t, err)

	snap, err := f.svc.Predict(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.ActiveIncidents)
	assert.Zero(t, snap.Ambulances)
	assert.Zero(t, snap.FireVans)
	assert.Zero(t, snap.Volunteers)

	updated, err := f.svc.UpdateStatus(context.Background(), r.ID, "Resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, updated.Status)
}

func TestCreateIncident_UnknownStatusRejected(t *testing.T) {
	f := newFixture(t, nil)
	r := fireReport()
	r.Status = "closed"

	_, _, err := f.svc.CreateIncident(context.Background(), r)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, f.repo.rows)
	assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.IncidentsCreated.WithLabelValues("invalid")), 0)
}

func TestCreateIncident_AssignsMissingID(t *testing.T) {
	f := newFixture(t, nil)
	r := domain.IncidentReport{
		Type:        "Flood",
		Details:     "Basement flooding",
		Coordinates: domain.Coordinates{Lat: 13.0827, Lon: 80.2707},
	}

	stored, created, err := f.svc.CreateIncident(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, created)

	_, perr := uuid.Parse(stored.ID)
	require.NoError(t, perr, "generated id must be a UUID")
	assert.Equal(t, domain.Now(), stored.CreatedAt)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, domain.AnonymousIdentity, stored.AuthorIdentity)

	second, created, err := f.svc.CreateIncident(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, stored.ID, second.ID, "each id-less post is a new incident")
}

func TestCreateIncident_PlaceEnrichment(t *testing.T) {
	f := newFixture(t, fixedGeocoder{result: domain.GeocodingResult{FormattedAddress: "Connaught Place, New Delhi, India"}})

	stored, _, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)
	assert.Equal(t, "Connaught Place, New Delhi, India", stored.PlaceName)
}

func TestCreateIncident_GeocodeFailureDegrades(t *testing.T) {
	f := newFixture(t, fixedGeocoder{err: errors.New("mapbox down")})

	stored, created, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, stored.PlaceName)
}

func TestCreateIncident_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.err = errors.New("broker unavailable")

	_, created, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)
	assert.True(t, created)
	assert.InDelta(t, 1.0, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues("error")), 0)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	stored, _, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(context.Background(), stored.ID, "resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, updated.Status)

	require.Len(t, f.pub.events, 2)
	ev := f.pub.events[1]
	assert.Equal(t, domain.EventStatusChanged, ev.Kind)
	assert.Equal(t, domain.StatusPending, ev.PreviousStatus)

	// Resolved incidents drop out of the estimate.
	require.Len(t, f.bcast.snapshots, 2)
	assert.Zero(t, f.bcast.snapshots[1].ActiveIncidents)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	stored, _, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), stored.ID, "Pending")
	require.NoError(t, err)
	assert.Len(t, f.pub.events, 1)
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(t, nil)
	stored, _, err := f.svc.CreateIncident(context.Background(), fireReport())
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), stored.ID, "Resolved")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), "missing", "Active")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), stored.ID, "Active")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(context.Background(), stored.ID, "closed")
	assert.True(t, domain.IsValidation(err))

	assert.InDelta(t, 2.0, testutil.ToFloat64(f.metrics.StatusUpdates.WithLabelValues("rejected")), 0)
}

func TestListRecentAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, author := range []string{"a@example.org", "b@example.org", "a@example.org"} {
		r := domain.NewIncidentReport("Flood", "water", domain.Coordinates{Lat: 1, Lon: 1}, author)
		r.CreatedAt = r.CreatedAt.Add(time.Duration(len(f.repo.rows)) * time.Minute)
		_, _, err := f.svc.CreateIncident(ctx, r)
		require.NoError(t, err)
	}

	recent, err := f.svc.ListRecent(ctx)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	mine, err := f.svc.History(ctx, "a@example.org")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestCheckReadiness(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.CheckReadiness(context.Background()))

	f.repo.pingErr = errors.New("disk I/O error")
	assert.ErrorContains(t, f.svc.CheckReadiness(context.Background()), "incident database")
}
