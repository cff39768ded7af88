package domain

import "time"

// EventKind names what happened to an incident.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "status_changed"
)

// IncidentEvent is published to the incident stream after every accepted
// create or status change.
type IncidentEvent struct {
	Kind           EventKind      `json:"kind"`
	Incident       IncidentReport `json:"incident"`
	PreviousStatus Status         `json:"previous_status,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// NewIncidentEvent stamps an event with the current time.
func NewIncidentEvent(kind EventKind, inc IncidentReport, previous Status) IncidentEvent {
	return IncidentEvent{
		Kind:           kind,
		Incident:       inc,
		PreviousStatus: previous,
		OccurredAt:     clock.Now().UTC(),
	}
}
