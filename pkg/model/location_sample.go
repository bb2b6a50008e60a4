package model

import "time"

// LocationSample is the latest known position of a vehicle on a trip. Each
// new sample supersedes the previous one; only the latest is retained for
// fan-out-on-join.
type LocationSample struct {
	TripIdentifier string `groups:"internal"`

	Location Location `groups:"basic"`
	Speed    float64  `groups:"basic"`
	Heading  float64  `groups:"basic"`

	RecordedAt time.Time `groups:"basic"`

	NextStopRef   string `groups:"basic"`
	NextStopOrder int    `groups:"basic"`
}
