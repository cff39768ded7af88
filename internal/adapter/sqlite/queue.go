package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS queue_entries (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT NOT NULL UNIQUE,
    report         TEXT NOT NULL,
    photo_path     TEXT NOT NULL DEFAULT '',
    enqueued_at    INTEGER NOT NULL,
    attempt_count  INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_lease (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    holder      TEXT NOT NULL,
    expires_at  INTEGER NOT NULL
);
`

// Queue is the field client's durable outbox. Entries survive restarts and
// are listed in the order they were first enqueued.
type Queue struct {
	db *db
}

// OpenQueue opens or creates the outbox database at path.
func OpenQueue(path string) (*Queue, error) {
	d, err := open(path, queueSchema)
	if err != nil {
		return nil, &domain.StorageError{Op: "open queue", Err: err}
	}
	return &Queue{db: d}, nil
}

// Close releases the database handle.
func (q *Queue) Close() error {
	return q.db.close()
}

// Enqueue persists report before returning. Enqueueing an id that is already
// queued returns the stored entry unchanged.
func (q *Queue) Enqueue(ctx context.Context, report domain.IncidentReport, photoPath string) (domain.QueueEntry, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return domain.QueueEntry{}, &domain.StorageError{Op: "enqueue", Err: fmt.Errorf("encode report: %w", err)}
	}

	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, &domain.StorageError{Op: "enqueue", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_entries (id, report, photo_path, enqueued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		report.ID, string(body), photoPath, domain.Now().UnixNano(),
	)
	if err != nil {
		return domain.QueueEntry{}, &domain.StorageError{Op: "enqueue", Err: err}
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, report.ID))
	if err != nil {
		return domain.QueueEntry{}, &domain.StorageError{Op: "enqueue", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return domain.QueueEntry{}, &domain.StorageError{Op: "enqueue", Err: err}
	}
	return entry, nil
}

// ListAll returns every queued entry in enqueue order without removing any.
func (q *Queue) ListAll(ctx context.Context) ([]domain.QueueEntry, error) {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	rows, err := q.db.conn.QueryContext(ctx, selectEntry+` ORDER BY seq`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list queue", Err: err}
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "list queue", Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list queue", Err: err}
	}
	return entries, nil
}

// Remove deletes the given ids in a single transaction. Unknown ids are ignored.
func (q *Queue) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "remove", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return &domain.StorageError{Op: "remove", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "remove", Err: err}
	}
	return nil
}

// RecordFailure bumps the attempt counter and stores the latest failure reason.
func (q *Queue) RecordFailure(ctx context.Context, id, reason string) error {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	res, err := q.db.conn.ExecContext(ctx, `
		UPDATE queue_entries
		SET attempt_count = attempt_count + 1, last_error = ?
		WHERE id = ?`, reason, id)
	if err != nil {
		return &domain.StorageError{Op: "record failure", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.StorageError{Op: "record failure", Err: fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)}
	}
	return nil
}

// SetPhotoRef stores the uploaded photo URL on the queued report so a retry
// skips the upload.
func (q *Queue) SetPhotoRef(ctx context.Context, id, url string) error {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "set photo ref", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var body string
	err = tx.QueryRowContext(ctx, `SELECT report FROM queue_entries WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.StorageError{Op: "set photo ref", Err: fmt.Errorf("entry %s: %w", id, domain.ErrNotFound)}
	}
	if err != nil {
		return &domain.StorageError{Op: "set photo ref", Err: err}
	}

	var report domain.IncidentReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return &domain.StorageError{Op: "set photo ref", Err: fmt.Errorf("decode report: %w", err)}
	}
	report.PhotoRef = url
	updated, err := json.Marshal(report)
	if err != nil {
		return &domain.StorageError{Op: "set photo ref", Err: fmt.Errorf("encode report: %w", err)}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE queue_entries SET report = ? WHERE id = ?`, string(updated), id); err != nil {
		return &domain.StorageError{Op: "set photo ref", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "set photo ref", Err: err}
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	var n int
	if err := q.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "queue length", Err: err}
	}
	return n, nil
}

// AcquirePass claims the drain lease for holder until ttl from now. It
// succeeds when the lease is free, expired, or already held by holder, in
// which case the expiry is extended. The lease lives in the queue database,
// so it excludes passes from other processes sharing the same file.
func (q *Queue) AcquirePass(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	now := domain.Now()
	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, &domain.StorageError{Op: "acquire sync lease", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_lease (id, holder, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE sync_lease.holder = excluded.holder OR sync_lease.expires_at <= ?`,
		holder, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, &domain.StorageError{Op: "acquire sync lease", Err: err}
	}

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT holder FROM sync_lease WHERE id = 1`).Scan(&current); err != nil {
		return false, &domain.StorageError{Op: "acquire sync lease", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &domain.StorageError{Op: "acquire sync lease", Err: err}
	}
	return current == holder, nil
}

// ReleasePass drops the lease if holder owns it.
func (q *Queue) ReleasePass(ctx context.Context, holder string) error {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	if _, err := q.db.conn.ExecContext(ctx, `DELETE FROM sync_lease WHERE holder = ?`, holder); err != nil {
		return &domain.StorageError{Op: "release sync lease", Err: err}
	}
	return nil
}

// PassActive reports whether any process holds an unexpired drain lease.
func (q *Queue) PassActive(ctx context.Context) (bool, error) {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	var n int
	err := q.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_lease WHERE expires_at > ?`, domain.Now().UnixNano()).Scan(&n)
	if err != nil {
		return false, &domain.StorageError{Op: "read sync lease", Err: err}
	}
	return n > 0, nil
}

const selectEntry = `SELECT report, photo_path, enqueued_at, attempt_count, last_error FROM queue_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.QueueEntry, error) {
	var (
		body       string
		e          domain.QueueEntry
		enqueuedAt int64
	)
	if err := row.Scan(&body, &e.PhotoPath, &enqueuedAt, &e.AttemptCount, &e.LastError); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := json.Unmarshal([]byte(body), &e.Report); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("decode report: %w", err)
	}
	e.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return e, nil
}
