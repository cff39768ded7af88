// Package submission owns the field client's report lifecycle: reports are
// validated, written to the durable queue, and drained to the remote store by
// a single-flight coordinator whenever connectivity allows.
package submission

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/connectivity"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Queue is the durable local outbox.
type Queue interface {
	Enqueue(ctx context.Context, report domain.IncidentReport, photoPath string) (domain.QueueEntry, error)
	ListAll(ctx context.Context) ([]domain.QueueEntry, error)
	Remove(ctx context.Context, ids ...string) error
	RecordFailure(ctx context.Context, id, reason string) error
	SetPhotoRef(ctx context.Context, id, url string) error
	Len(ctx context.Context) (int, error)

	// AcquirePass claims or renews the drain lease shared by every process
	// using the same queue. PassActive reports whether any holder has one.
	AcquirePass(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	ReleasePass(ctx context.Context, holder string) error
	PassActive(ctx context.Context) (bool, error)
}

// IncidentStore inserts reports remotely. Inserting an id twice must be harmless.
type IncidentStore interface {
	Insert(ctx context.Context, report domain.IncidentReport) error
}

// Uploader stores photo evidence and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// Connectivity reports reachability and its edges.
type Connectivity interface {
	State() domain.ConnectivityState
	Events() <-chan connectivity.Event
}

// ErrPassInProgress is returned by PassOnce when another pass is running,
// in this process or in another one sharing the queue.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Indicator is the user-facing sync status.
type Indicator string

const (
	IndicatorQueued  Indicator = "queued"
	IndicatorSyncing Indicator = "syncing"
	IndicatorSynced  Indicator = "synced"
)

type state int32

const (
	stateIdle state = iota
	stateDraining
	stateDrainingWithPendingRequest
)

func (s state) String() string {
	switch s {
	case stateDraining:
		return "draining"
	case stateDrainingWithPendingRequest:
		return "draining_with_pending_request"
	default:
		return "idle"
	}
}

// DefaultLeaseTTL bounds how long a crashed process can block other drains.
const DefaultLeaseTTL = 2 * time.Minute

// Config holds the coordinator's retry policy and drain lease length.
type Config struct {
	RetryInitial time.Duration
	RetryMax     time.Duration
	LeaseTTL     time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock used for retry timers and pass timing.
func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithReadFile replaces how photo files are read from local storage.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(co *Coordinator) { co.readFile = fn }
}

// Coordinator drains the queue to the remote store. At most one pass runs at
// a time; requests that arrive during a pass are folded into one follow-up.
type Coordinator struct {
	queue    Queue
	store    IncidentStore
	uploader Uploader
	conn     Connectivity
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	readFile func(string) ([]byte, error)
	holder   string

	requests chan string
	state    atomic.Int32
	inFlight atomic.Bool
}

// New creates a Coordinator. uploader may be nil, in which case photos are
// never uploaded and reports go out text-only.
func New(q Queue, store IncidentStore, uploader Uploader, conn Connectivity, cfg Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:    q,
		store:    store,
		uploader: uploader,
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		clock:    clockwork.NewRealClock(),
		readFile: os.ReadFile,
		holder:   uuid.NewString(),
		requests: make(chan string, 1),
	}
	if c.cfg.LeaseTTL <= 0 {
		c.cfg.LeaseTTL = DefaultLeaseTTL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates report and writes it to the queue. Once Submit returns
// nil the report is durable. A pass is requested only while online; offline
// reports wait for the next WentOnline edge.
func (c *Coordinator) Submit(ctx context.Context, report domain.IncidentReport, photoPath string) (domain.QueueEntry, error) {
	if err := report.Validate(); err != nil {
		return domain.QueueEntry{}, err
	}

	entry, err := c.queue.Enqueue(ctx, report, photoPath)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	c.metrics.SubmissionsQueued.Inc()
	c.refreshDepth(ctx)

	state := c.conn.State()
	c.logger.Info("report queued",
		"incident_id", report.ID, "photo", photoPath != "", "connectivity", state.String())

	if state == domain.Online {
		c.request("submit")
	}
	return entry, nil
}

// SyncAll asks for a pass regardless of connectivity.
func (c *Coordinator) SyncAll() {
	c.request("manual")
}

// request hands a pass request to Run without blocking. A full channel means
// a request is already waiting, which covers this one too.
func (c *Coordinator) request(reason string) {
	select {
	case c.requests <- reason:
	default:
		c.metrics.SyncCoalesced.Inc()
	}
}

// Indicator summarizes sync status for display. A pass held by another
// process sharing the queue counts as syncing.
func (c *Coordinator) Indicator(ctx context.Context) (Indicator, error) {
	if c.inFlight.Load() {
		return IndicatorSyncing, nil
	}
	active, err := c.queue.PassActive(ctx)
	if err != nil {
		return "", err
	}
	if active {
		return IndicatorSyncing, nil
	}
	n, err := c.queue.Len(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return IndicatorQueued, nil
	}
	return IndicatorSynced, nil
}

// Run consumes pass requests, connectivity edges and retry timers until ctx
// is cancelled. All state transitions happen on this goroutine. On
// cancellation Run waits for an in-flight pass to stop before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("submission coordinator started")

	var (
		events  = c.conn.Events()
		done    = make(chan PassResult, 1)
		backoff = c.cfg.RetryInitial
		retryT  clockwork.Timer
		retryC  <-chan time.Time
	)

	stopRetry := func() {
		if retryT != nil {
			retryT.Stop()
			retryT, retryC = nil, nil
		}
	}
	defer stopRetry()

	start := func(reason string) {
		c.setState(stateDraining)
		c.logger.Debug("sync pass starting", "reason", reason)
		go func() { done <- c.pass(ctx) }()
	}

	onRequest := func(reason string) {
		switch c.currentState() {
		case stateIdle:
			stopRetry()
			start(reason)
		case stateDraining:
			c.setState(stateDrainingWithPendingRequest)
			c.metrics.SyncCoalesced.Inc()
		case stateDrainingWithPendingRequest:
			c.metrics.SyncCoalesced.Inc()
		}
	}

	for {
		select {
		case <-ctx.Done():
			if c.currentState() != stateIdle {
				<-done
				c.setState(stateIdle)
			}
			c.logger.Info("submission coordinator stopping", "reason", ctx.Err())
			return nil

		case reason := <-c.requests:
			onRequest(reason)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case connectivity.WentOnline:
				backoff = c.cfg.RetryInitial
				onRequest("went_online")
			case connectivity.WentOffline:
				stopRetry()
			}

		case <-retryC:
			retryT, retryC = nil, nil
			onRequest("retry")

		case res := <-done:
			if c.currentState() == stateDrainingWithPendingRequest {
				start("coalesced")
				continue
			}
			c.setState(stateIdle)

			switch {
			case errors.Is(res.Err, ErrPassInProgress):
				// Another process holds the lease; look again once it may be done.
				if c.conn.State() == domain.Online && retryT == nil {
					retryT = c.clock.NewTimer(backoff)
					retryC = retryT.Chan()
				}
			case res.Cancelled || res.Err != nil:
				// Shutdown or a local storage failure; the next request retries.
			case res.Failed == 0:
				backoff = c.cfg.RetryInitial
			case c.conn.State() == domain.Online && retryT == nil:
				c.logger.Info("scheduling retry pass", "in", backoff, "failed", res.Failed)
				retryT = c.clock.NewTimer(backoff)
				retryC = retryT.Chan()
				backoff = retry.NextBackoff(backoff, c.cfg.RetryMax)
			}
		}
	}
}

// PassOnce runs a single pass on the calling goroutine. It is meant for
// one-shot commands that do not start Run.
func (c *Coordinator) PassOnce(ctx context.Context) (PassResult, error) {
	res := c.pass(ctx)
	return res, res.Err
}

func (c *Coordinator) setState(s state) {
	c.state.Store(int32(s))
}

func (c *Coordinator) currentState() state {
	return state(c.state.Load())
}

func (c *Coordinator) refreshDepth(ctx context.Context) {
	if n, err := c.queue.Len(ctx); err == nil {
		c.metrics.QueueDepth.Set(float64(n))
	}
}
