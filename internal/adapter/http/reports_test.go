package http_test

import (
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	httpadapter "github.com/couchcryptid/resqnet-dispatch/internal/adapter/http"
	"github.com/couchcryptid/resqnet-dispatch/internal/adapter/sqlite"
	"github.com/couchcryptid/resqnet-dispatch/internal/dispatch"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStoreServer wires the routes to the real service and a temp SQLite table.
func newStoreServer(t *testing.T) *httpadapter.Server {
	t.Helper()
	repo, err := sqlite.OpenIncidents(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := dispatch.NewService(repo, dispatch.Options{}, logger, observability.NewMetricsForTesting())
	return httpadapter.NewServer(":0", svc, nil, logger)
}

func TestCreateReport_LowercaseStatusIsStoredCanonical(t *testing.T) {
	srv := newStoreServer(t)
	id := uuid.NewString()

	rec := do(srv, http.MethodPost, "/api/reports", `{
		"id": "`+id+`",
		"type": "Fire",
		"details": "warehouse blaze",
		"latitude": 28.7041,
		"longitude": 77.1025,
		"status": "resolved"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Resolved", decode(t, rec)["status"])

	rec = do(srv, http.MethodGet, "/api/ai-predict", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 0.0, body["active_incidents"], 0)
	assert.Equal(t, map[string]any{"ambulances": 0.0, "fire_vans": 0.0, "volunteers": 0.0}, body["predictions"])

	rec = do(srv, http.MethodPut, "/api/reports/"+id+"/status", `{"status":"Resolved"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateReport_WithoutIDGetsGeneratedUUID(t *testing.T) {
	srv := newStoreServer(t)

	rec := do(srv, http.MethodPost, "/api/reports", `{
		"type": "Medical",
		"details": "injured person needs help",
		"latitude": 12.9716,
		"longitude": 77.5946,
		"user_email": "kiran@example.org"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	id, ok := body["id"].(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, "Pending", body["status"])
	assert.NotEqual(t, "0001-01-01T00:00:00Z", body["created_at"])

	rec = do(srv, http.MethodGet, "/api/reports?user_email=kiran@example.org", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
}
