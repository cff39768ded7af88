package domain

import (
	"math"
	"strings"
	"time"
)

// Estimator weights. These are empirical heuristics carried over unchanged so
// that predictions stay comparable with earlier deployments.
const (
	ambulancePerIncident = 0.3
	ambulancePerSite     = 0.5
	fireVanPerFire       = 0.4
	fireVanPerSite       = 0.6
	baseUnits            = 1
	incidentsPerTeam     = 4

	// bucketScale rounds coordinates to 3 decimal degrees (about 111 m).
	bucketScale = 1000
)

// fireKeywords mark an incident as needing fire vans when found in its type or details.
var fireKeywords = []string{"fire", "smoke", "blast"}

// PredictionSnapshot is the estimated dispatch demand for the current incident set.
// It is derived on every call and never stored.
type PredictionSnapshot struct {
	ActiveIncidents int       `json:"active_incidents"`
	Ambulances      int       `json:"ambulances"`
	FireVans        int       `json:"fire_vans"`
	Volunteers      int       `json:"volunteers"`
	ComputedAt      time.Time `json:"computed_at"`
}

type siteKey struct {
	lat, lon int64
}

// Predict converts the incident set into dispatch counts. Resolved incidents
// are ignored; an empty active set yields all zeros.
func Predict(incidents []IncidentReport) PredictionSnapshot {
	snap := PredictionSnapshot{ComputedAt: clock.Now().UTC()}

	sites := make(map[siteKey]struct{})
	volume, fireVolume := 0, 0
	for _, inc := range incidents {
		if !inc.IsActive() {
			continue
		}
		volume++
		sites[bucketOf(inc.Coordinates)] = struct{}{}
		if isFireRelated(inc) {
			fireVolume++
		}
	}

	snap.ActiveIncidents = volume
	if volume == 0 {
		return snap
	}
	spread := float64(len(sites))

	snap.Ambulances = int(math.Round(ambulancePerIncident*float64(volume) + ambulancePerSite*spread + baseUnits))
	if fireVolume > 0 {
		snap.FireVans = int(math.Round(fireVanPerFire*float64(fireVolume) + fireVanPerSite*spread + baseUnits))
	}
	snap.Volunteers = (volume + incidentsPerTeam - 1) / incidentsPerTeam
	return snap
}

// CountActive returns the number of incidents that are not Resolved.
func CountActive(incidents []IncidentReport) int {
	n := 0
	for _, inc := range incidents {
		if inc.IsActive() {
			n++
		}
	}
	return n
}

func bucketOf(c Coordinates) siteKey {
	return siteKey{
		lat: int64(math.Round(c.Lat * bucketScale)),
		lon: int64(math.Round(c.Lon * bucketScale)),
	}
}

func isFireRelated(inc IncidentReport) bool {
	typ := strings.ToLower(inc.Type)
	details := strings.ToLower(inc.Details)
	for _, kw := range fireKeywords {
		if strings.Contains(typ, kw) || strings.Contains(details, kw) {
			return true
		}
	}
	return false
}

// DispatchCounts is the per-resource part of a PredictionView.
type DispatchCounts struct {
	Ambulances int `json:"ambulances"`
	FireVans   int `json:"fire_vans"`
	Volunteers int `json:"volunteers"`
}

// PredictionView is the shape dashboards receive over REST and websocket.
type PredictionView struct {
	ActiveIncidents int            `json:"active_incidents"`
	Predictions     DispatchCounts `json:"predictions"`
	ComputedAt      time.Time      `json:"computed_at"`
}

// View converts the snapshot to its dashboard form.
func (s PredictionSnapshot) View() PredictionView {
	return PredictionView{
		ActiveIncidents: s.ActiveIncidents,
		Predictions: DispatchCounts{
			Ambulances: s.Ambulances,
			FireVans:   s.FireVans,
			Volunteers: s.Volunteers,
		},
		ComputedAt: s.ComputedAt,
	}
}
