// Package connectivity tracks whether the dispatch server is reachable and
// reports debounced online/offline edges.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Prober performs a single reachability check. A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// EventKind identifies a connectivity edge.
type EventKind int

const (
	WentOnline EventKind = iota + 1
	WentOffline
)

func (k EventKind) String() string {
	switch k {
	case WentOnline:
		return "went_online"
	case WentOffline:
		return "went_offline"
	default:
		return "unknown"
	}
}

// Event is emitted once per adopted state transition.
type Event struct {
	Kind EventKind
	At   time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// Monitor samples a Prober on a fixed interval. A new state is adopted only
// after the configured number of consecutive samples agree on it.
type Monitor struct {
	prober   Prober
	interval time.Duration
	samples  int
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	events   chan Event

	state atomic.Int32

	// Only touched by the Run goroutine.
	candidate domain.ConnectivityState
	streak    int
}

// NewMonitor creates a Monitor that starts in the Offline state.
func NewMonitor(p Prober, interval time.Duration, samples int, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Monitor {
	if samples < 1 {
		samples = 1
	}
	m := &Monitor{
		prober:   p,
		interval: interval,
		samples:  samples,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		metrics:  metrics,
		events:   make(chan Event, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state.Store(int32(domain.Offline))
	m.metrics.ConnectivityOnline.Set(0)
	return m
}

// State returns the current debounced state. Safe for concurrent use.
func (m *Monitor) State() domain.ConnectivityState {
	return domain.ConnectivityState(m.state.Load())
}

// Events returns the edge stream. It is closed when Run returns.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Run samples immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.events)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("connectivity monitor started",
		"interval", m.interval, "debounce_samples", m.samples)

	if !m.sample(ctx) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if !m.sample(ctx) {
				return nil
			}
		}
	}
}

// sample probes once and emits an event if the debounced state changed.
// Returns false if ctx was cancelled while delivering the event.
func (m *Monitor) sample(ctx context.Context) bool {
	observed := domain.Online
	if err := m.prober.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.logger.Debug("probe failed", "error", err)
		observed = domain.Offline
	}

	next, changed := m.observe(observed)
	if !changed {
		return true
	}

	kind := WentOffline
	direction := "offline"
	gauge := 0.0
	if next == domain.Online {
		kind = WentOnline
		direction = "online"
		gauge = 1
	}
	m.metrics.ConnectivityOnline.Set(gauge)
	m.metrics.ConnectivityTransitions.WithLabelValues(direction).Inc()
	m.logger.Info("connectivity changed", "state", next.String())

	select {
	case m.events <- Event{Kind: kind, At: m.clock.Now()}:
		return true
	case <-ctx.Done():
		return false
	}
}

// observe feeds one raw sample into the debounce window and reports whether
// the adopted state flipped.
func (m *Monitor) observe(observed domain.ConnectivityState) (domain.ConnectivityState, bool) {
	current := m.State()
	if observed == current {
		m.streak = 0
		return current, false
	}

	if observed == m.candidate && m.streak > 0 {
		m.streak++
	} else {
		m.candidate = observed
		m.streak = 1
	}

	if m.streak < m.samples {
		return current, false
	}

	m.streak = 0
	m.state.Store(int32(observed))
	return observed, true
}
