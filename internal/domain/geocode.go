package domain

import (
	"context"
	"log/slog"
)

// EnrichWithPlace attaches a place name to the incident. A nil geocoder, a
// failed lookup or an empty result leave the incident unchanged; geocoding
// never blocks an incident from being stored.
func EnrichWithPlace(ctx context.Context, inc IncidentReport, geocoder Geocoder, logger *slog.Logger) IncidentReport {
	if geocoder == nil || inc.PlaceName != "" {
		return inc
	}
	if inc.Lat == 0 && inc.Lon == 0 {
		return inc
	}

	result, err := geocoder.ReverseGeocode(ctx, inc.Lat, inc.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"incident_id", inc.ID,
			"lat", inc.Lat,
			"lon", inc.Lon,
			"error", err,
		)
		return inc
	}

	switch {
	case result.FormattedAddress != "":
		inc.PlaceName = result.FormattedAddress
	case result.PlaceName != "":
		inc.PlaceName = result.PlaceName
	}
	return inc
}
