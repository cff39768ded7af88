package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the resolution state of an incident.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusActive   Status = "Active"
	StatusResolved Status = "Resolved"
)

// AnonymousIdentity is recorded as the author when no signed-in user is known.
const AnonymousIdentity = "SOS_USER"

// SOS reports are sent with a fixed type and message.
const (
	SOSType    = "SOS"
	SOSDetails = "EMERGENCY SOS BEACON ACTIVATED"
)

// ParseStatus maps a wire string to a Status, ignoring case.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "active":
		return StatusActive, nil
	case "resolved":
		return StatusResolved, nil
	default:
		return "", &ValidationError{Field: "status", Reason: "unknown status " + quote(s)}
	}
}

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// IncidentReport is a single field report. ID is generated on the client and
// stays the same across every retry; it is the only deduplication key.
//
// The JSON form is the wire format shared by the REST API and the client:
// coordinates are flattened into latitude/longitude columns.
type IncidentReport struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Details string `json:"details"`
	Coordinates
	PhotoRef       string    `json:"evidence_url,omitempty"`
	AuthorIdentity string    `json:"user_email"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`

	// PlaceName is filled in by the server from reverse geocoding.
	PlaceName string `json:"place_name,omitempty"`
}

// NewIncidentReport builds a Pending report with a fresh ID and creation time.
// An empty author is recorded as AnonymousIdentity.
func NewIncidentReport(incidentType, details string, coords Coordinates, author string) IncidentReport {
	if strings.TrimSpace(author) == "" {
		author = AnonymousIdentity
	}
	return IncidentReport{
		ID:             uuid.NewString(),
		Type:           strings.TrimSpace(incidentType),
		Details:        strings.TrimSpace(details),
		Coordinates:    coords,
		AuthorIdentity: author,
		Status:         StatusPending,
		CreatedAt:      clock.Now().UTC(),
	}
}

// NewSOSReport builds the one-tap emergency beacon report.
func NewSOSReport(author string, coords Coordinates) IncidentReport {
	return NewIncidentReport(SOSType, SOSDetails, coords, author)
}

// Validate checks the fields required before a report may be queued.
func (r IncidentReport) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return &ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	if strings.TrimSpace(r.Type) == "" {
		return &ValidationError{Field: "type", Reason: "is required"}
	}
	if strings.TrimSpace(r.Details) == "" {
		return &ValidationError{Field: "details", Reason: "please describe the situation briefly"}
	}
	if r.Coordinates.Lat < -90 || r.Coordinates.Lat > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if r.Coordinates.Lon < -180 || r.Coordinates.Lon > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	if r.Status != "" {
		if _, err := ParseStatus(string(r.Status)); err != nil {
			return err
		}
	}
	return nil
}

// IsActive reports whether the incident still needs resources.
func (r IncidentReport) IsActive() bool {
	return r.Status != StatusResolved
}

func quote(s string) string {
	return `"` + s + `"`
}
