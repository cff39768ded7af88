package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIncidents(t *testing.T) *IncidentRepository {
	t.Helper()
	repo, err := OpenIncidents(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestIncidents_InsertIsIdempotent(t *testing.T) {
	freezeClock(t)
	repo := openTestIncidents(t)
	ctx := context.Background()
	r := newReport(t, "water rising")

	stored, created, err := repo.Insert(ctx, r)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, r, stored)

	// A client retry after a crash between insert and local removal.
	again, created, err := repo.Insert(ctx, r)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored, again)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIncidents_InsertDefaultsStatus(t *testing.T) {
	freezeClock(t)
	repo := openTestIncidents(t)
	r := newReport(t, "a")
	r.Status = ""

	stored, _, err := repo.Insert(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestIncidents_UpdateStatus(t *testing.T) {
	freezeClock(t)
	repo := openTestIncidents(t)
	ctx := context.Background()
	r := newReport(t, "a")
	_, _, err := repo.Insert(ctx, r)
	require.NoError(t, err)

	updated, prev, err := repo.UpdateStatus(ctx, r.ID, domain.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, prev)
	assert.Equal(t, domain.StatusActive, updated.Status)

	same, prev, err := repo.UpdateStatus(ctx, r.ID, domain.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, prev)
	assert.Equal(t, domain.StatusActive, same.Status)

	_, _, err = repo.UpdateStatus(ctx, r.ID, domain.StatusResolved)
	require.NoError(t, err)

	_, _, err = repo.UpdateStatus(ctx, r.ID, domain.StatusPending)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := repo.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, got.Status)
}

func TestIncidents_UpdateStatusNotFound(t *testing.T) {
	repo := openTestIncidents(t)
	_, _, err := repo.UpdateStatus(context.Background(), "missing", domain.StatusActive)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIncidents_ListRecentAndByAuthor(t *testing.T) {
	clock := freezeClock(t)
	repo := openTestIncidents(t)
	ctx := context.Background()

	var inserted []domain.IncidentReport
	for i, author := range []string{"asha@example.org", "ravi@example.org", "asha@example.org"} {
		r := domain.NewIncidentReport("Fire", "smoke seen", domain.Coordinates{Lat: float64(i), Lon: 1}, author)
		_, _, err := repo.Insert(ctx, r)
		require.NoError(t, err)
		inserted = append(inserted, r)
		clock.Advance(time.Minute)
	}

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, inserted[2].ID, recent[0].ID)
	assert.Equal(t, inserted[1].ID, recent[1].ID)

	mine, err := repo.ListByAuthor(ctx, "asha@example.org")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, inserted[2].ID, mine[0].ID)
	assert.Equal(t, inserted[0].ID, mine[1].ID)

	none, err := repo.ListByAuthor(ctx, "nobody@example.org")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestIncidents_Ping(t *testing.T) {
	repo := openTestIncidents(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
