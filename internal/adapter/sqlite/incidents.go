package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

const incidentSchema = `
CREATE TABLE IF NOT EXISTS incidents (
    id            TEXT PRIMARY KEY,
    type          TEXT NOT NULL,
    details       TEXT NOT NULL,
    latitude      REAL NOT NULL,
    longitude     REAL NOT NULL,
    evidence_url  TEXT NOT NULL DEFAULT '',
    user_email    TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'Pending',
    place_name    TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at);
CREATE INDEX IF NOT EXISTS idx_incidents_user_email ON incidents(user_email, created_at);
`

// IncidentRepository is the dispatch server's incident table. Inserts are
// idempotent on the client-generated id.
type IncidentRepository struct {
	db *db
}

// OpenIncidents opens or creates the incident database at path.
func OpenIncidents(path string) (*IncidentRepository, error) {
	d, err := open(path, incidentSchema)
	if err != nil {
		return nil, err
	}
	return &IncidentRepository{db: d}, nil
}

// Close releases the database handle.
func (r *IncidentRepository) Close() error {
	return r.db.close()
}

// Ping verifies the database is usable.
func (r *IncidentRepository) Ping(ctx context.Context) error {
	return r.db.conn.PingContext(ctx)
}

// Insert stores inc unless a row with the same id exists. It returns the
// stored row and whether this call created it.
func (r *IncidentRepository) Insert(ctx context.Context, inc domain.IncidentReport) (domain.IncidentReport, bool, error) {
	if inc.Status == "" {
		inc.Status = domain.StatusPending
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = domain.Now()
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.IncidentReport{}, false, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO incidents (id, type, details, latitude, longitude, evidence_url, user_email, status, place_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		inc.ID, inc.Type, inc.Details, inc.Lat, inc.Lon, inc.PhotoRef,
		inc.AuthorIdentity, string(inc.Status), inc.PlaceName, inc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return domain.IncidentReport{}, false, fmt.Errorf("insert incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.IncidentReport{}, false, fmt.Errorf("insert incident: %w", err)
	}

	stored, err := scanIncident(tx.QueryRowContext(ctx, selectIncident+` WHERE id = ?`, inc.ID))
	if err != nil {
		return domain.IncidentReport{}, false, fmt.Errorf("read inserted incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.IncidentReport{}, false, fmt.Errorf("commit insert: %w", err)
	}
	return stored, n == 1, nil
}

// Get returns one incident or domain.ErrNotFound.
func (r *IncidentRepository) Get(ctx context.Context, id string) (domain.IncidentReport, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	inc, err := scanIncident(r.db.conn.QueryRowContext(ctx, selectIncident+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IncidentReport{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IncidentReport{}, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// UpdateStatus moves an incident to status and returns the updated row along
// with its previous status. Backward moves fail with domain.ErrInvalidTransition;
// an unchanged status leaves the row untouched.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.IncidentReport, domain.Status, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.IncidentReport{}, "", fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	current, err := scanIncident(tx.QueryRowContext(ctx, selectIncident+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IncidentReport{}, "", domain.ErrNotFound
	}
	if err != nil {
		return domain.IncidentReport{}, "", fmt.Errorf("read incident: %w", err)
	}

	previous := current.Status
	if err := domain.CheckTransition(previous, status); err != nil {
		return domain.IncidentReport{}, previous, err
	}
	if previous == status {
		return current, previous, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return domain.IncidentReport{}, previous, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.IncidentReport{}, previous, fmt.Errorf("commit update: %w", err)
	}

	current.Status = status
	return current, previous, nil
}

// ListRecent returns up to limit incidents, newest first.
func (r *IncidentRepository) ListRecent(ctx context.Context, limit int) ([]domain.IncidentReport, error) {
	return r.query(ctx, selectIncident+` ORDER BY created_at DESC, id LIMIT ?`, limit)
}

// ListByAuthor returns every incident reported by author, newest first.
func (r *IncidentRepository) ListByAuthor(ctx context.Context, author string) ([]domain.IncidentReport, error) {
	return r.query(ctx, selectIncident+` WHERE user_email = ? ORDER BY created_at DESC, id`, author)
}

// ListAll returns the whole table. Used to compute predictions.
func (r *IncidentRepository) ListAll(ctx context.Context) ([]domain.IncidentReport, error) {
	return r.query(ctx, selectIncident+` ORDER BY created_at`)
}

func (r *IncidentRepository) query(ctx context.Context, q string, args ...any) ([]domain.IncidentReport, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	rows, err := r.db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	incidents := []domain.IncidentReport{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

const selectIncident = `SELECT id, type, details, latitude, longitude, evidence_url, user_email, status, place_name, created_at FROM incidents`

func scanIncident(row rowScanner) (domain.IncidentReport, error) {
	var (
		inc       domain.IncidentReport
		status    string
		createdAt int64
	)
	err := row.Scan(&inc.ID, &inc.Type, &inc.Details, &inc.Lat, &inc.Lon, &inc.PhotoRef,
		&inc.AuthorIdentity, &status, &inc.PlaceName, &createdAt)
	if err != nil {
		return domain.IncidentReport{}, err
	}
	inc.Status = domain.Status(status)
	inc.CreatedAt = time.Unix(0, createdAt).UTC()
	return inc, nil
}
