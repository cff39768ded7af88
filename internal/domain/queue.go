package domain

import "time"

// QueueEntry is a report waiting in the client's durable queue, plus the
// local bookkeeping that never leaves the device.
type QueueEntry struct {
	Report IncidentReport `json:"report"`

	// PhotoPath points at a local photo to upload before insert. Empty when
	// the report has no attachment.
	PhotoPath string `json:"photo_path,omitempty"`

	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
}

// NeedsUpload reports whether the entry has a photo that has not been uploaded yet.
func (e QueueEntry) NeedsUpload() bool {
	return e.PhotoPath != "" && e.Report.PhotoRef == ""
}

// ConnectivityState is the process-wide reachability state.
type ConnectivityState int32

const (
	Offline ConnectivityState = iota
	Online
)

func (s ConnectivityState) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}
