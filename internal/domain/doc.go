// Package domain models field incident reports and the dispatch estimate
// derived from them.
//
// # Incident lifecycle
//
// A report is created on a field device with a client-generated UUID and the
// status Pending. The same ID is sent on every delivery attempt, so the server
// can treat a repeated insert as the same incident. Status only moves forward:
//
//	Pending -> Active -> Resolved
//	Pending -> Resolved
//
// Setting the current status again is accepted and changes nothing. Backward
// moves are rejected with [ErrInvalidTransition].
//
// # Local queue entries
//
// [QueueEntry] wraps a report while it waits on the device. It records when
// it was queued, how many delivery passes have failed for it, and an optional
// local photo path. Entries are removed only after the server confirms the
// insert, which gives at-least-once delivery: a crash between the insert and
// the removal resends the report on the next pass.
//
// # Dispatch estimate
//
// [Predict] looks at incidents that are not Resolved:
//
//	volume     = number of active incidents
//	spread     = distinct sites, coordinates rounded to 3 decimals (~111 m)
//	fireVolume = active incidents whose type or details mention
//	             "fire", "smoke" or "blast" (any case)
//
//	ambulances = round(0.3*volume + 0.5*spread + 1)
//	fireVans   = round(0.4*fireVolume + 0.6*spread + 1), or 0 without fire
//	volunteers = ceil(volume / 4)
//
// Rounding is half away from zero. No active incidents means all zeros.
package domain
