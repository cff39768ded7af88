package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport() domain.IncidentReport {
	return domain.IncidentReport{
		ID:             "0b9c6f1e-6a0c-4c4e-9a55-8f3f2e0f7d11",
		Type:           "Flood",
		Details:        "water rising near the station",
		Coordinates:    domain.Coordinates{Lat: 19.076, Lon: 72.8777},
		AuthorIdentity: "asha@example.org",
		Status:         domain.StatusPending,
		CreatedAt:      time.Date(2025, 7, 14, 7, 0, 0, 0, time.UTC),
	}
}

func TestInsert_CreatedAndDuplicateAreSuccess(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusOK} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/reports", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var got map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				assert.Equal(t, "0b9c6f1e-6a0c-4c4e-9a55-8f3f2e0f7d11", got["id"])
				assert.InDelta(t, 19.076, got["latitude"], 1e-9)
				assert.Equal(t, "asha@example.org", got["user_email"])

				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			require.NoError(t, New(srv.URL, time.Second).Insert(context.Background(), testReport()))
		})
	}
}

func TestInsert_RejectedIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database is locked"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, time.Second).Insert(context.Background(), testReport())

	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestInsert_UnreachableIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	err := New(base, time.Second).Insert(context.Background(), testReport())

	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Zero(t, re.StatusCode)
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/reports", r.URL.Path)
		assert.Equal(t, "asha+field@example.org", r.URL.Query().Get("user_email"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]domain.IncidentReport{testReport()})
	}))
	defer srv.Close()

	got, err := New(srv.URL+"/", time.Second).History(context.Background(), "asha+field@example.org")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testReport(), got[0])
}

func TestHistory_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).History(context.Background(), "x")
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusServiceUnavailable, re.StatusCode)
	assert.Contains(t, err.Error(), "Service Unavailable")
}
