package tracker

import "time"

// LocationEvent is the raw sample a conductor/vehicle device publishes onto
// the location queue via the api ingress.
type LocationEvent struct {
	TripID string `json:"trip_id"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`

	RecordedAt time.Time `json:"recorded_at"`
}
