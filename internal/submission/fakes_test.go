package submission_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/connectivity"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

// memQueue is an in-memory Queue with failure injection.
type memQueue struct {
	mu       sync.Mutex
	entries  []domain.QueueEntry
	removeFn func(id string) error
	listErr  error

	// leaseHolder is the process currently draining; "" means free.
	leaseHolder string
	releases    int
}

func (q *memQueue) Enqueue(_ context.Context, r domain.IncidentReport, photoPath string) (domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.Report.ID == r.ID {
			return e, nil
		}
	}
	e := domain.QueueEntry{Report: r, PhotoPath: photoPath, EnqueuedAt: domain.Now()}
	q.entries = append(q.entries, e)
	return e, nil
}

func (q *memQueue) ListAll(_ context.Context) ([]domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return nil, q.listErr
	}
	return append([]domain.QueueEntry(nil), q.entries...), nil
}

func (q *memQueue) Remove(_ context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		if q.removeFn != nil {
			if err := q.removeFn(id); err != nil {
				return err
			}
		}
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !drop[e.Report.ID] {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return nil
}

func (q *memQueue) RecordFailure(_ context.Context, id, reason string) error {
	return q.update(id, func(e *domain.QueueEntry) {
		e.AttemptCount++
		e.LastError = reason
	})
}

func (q *memQueue) SetPhotoRef(_ context.Context, id, url string) error {
	return q.update(id, func(e *domain.QueueEntry) { e.Report.PhotoRef = url })
}

func (q *memQueue) update(id string, fn func(*domain.QueueEntry)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].Report.ID == id {
			fn(&q.entries[i])
			return nil
		}
	}
	return &domain.StorageError{Op: "update", Err: domain.ErrNotFound}
}

func (q *memQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

func (q *memQueue) AcquirePass(_ context.Context, holder string, _ time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leaseHolder != "" && q.leaseHolder != holder {
		return false, nil
	}
	q.leaseHolder = holder
	return true, nil
}

func (q *memQueue) ReleasePass(_ context.Context, holder string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leaseHolder == holder {
		q.leaseHolder = ""
		q.releases++
	}
	return nil
}

func (q *memQueue) PassActive(_ context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.leaseHolder != "", nil
}

func (q *memQueue) holdLease(holder string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.leaseHolder = holder
}

func (q *memQueue) lease() (string, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.leaseHolder, q.releases
}

func (q *memQueue) snapshot() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QueueEntry(nil), q.entries...)
}

// recordingStore records every insert and tracks how many run at once.
type recordingStore struct {
	mu       sync.Mutex
	inserted []domain.IncidentReport
	insertFn func(ctx context.Context, r domain.IncidentReport) error

	active    atomic.Int32
	maxActive atomic.Int32
}

func (s *recordingStore) Insert(ctx context.Context, r domain.IncidentReport) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if s.insertFn != nil {
		if err := s.insertFn(ctx, r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, r)
	return nil
}

func (s *recordingStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.inserted))
	for i, r := range s.inserted {
		out[i] = r.ID
	}
	return out
}

func (s *recordingStore) reports() []domain.IncidentReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.IncidentReport(nil), s.inserted...)
}

type stubUploader struct {
	calls atomic.Int32
	url   string
	err   error
}

func (u *stubUploader) Upload(_ context.Context, key string, _ []byte) (string, error) {
	u.calls.Add(1)
	if u.err != nil {
		return "", u.err
	}
	return u.url + key, nil
}

// switchableConn is a Connectivity source driven by the test.
type switchableConn struct {
	state  atomic.Int32
	events chan connectivity.Event
}

func newConn(s domain.ConnectivityState) *switchableConn {
	c := &switchableConn{events: make(chan connectivity.Event, 4)}
	c.state.Store(int32(s))
	return c
}

func (c *switchableConn) State() domain.ConnectivityState {
	return domain.ConnectivityState(c.state.Load())
}

func (c *switchableConn) Events() <-chan connectivity.Event { return c.events }

func (c *switchableConn) goOnline() {
	c.state.Store(int32(domain.Online))
	c.events <- connectivity.Event{Kind: connectivity.WentOnline}
}

var errUnreachable = &domain.RemoteError{Err: errors.New("dial tcp: connection refused")}
