package model

import "time"

var TripIDFormat = "TRIP:%s:%s"

type Trip struct {
	PrimaryIdentifier string `groups:"basic"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	TripType TripType   `groups:"basic"`
	Status   TripStatus `groups:"basic"`

	BusIdentifier   string `groups:"basic"`
	RouteIdentifier string `groups:"basic"`

	Stops []*Stop `groups:"basic" bson:"-"`

	SchoolLocation *Location `groups:"basic"`

	VehicleLocation  *Location `groups:"basic"`
	VehicleBearing   float64   `groups:"basic"`
	VehicleSpeed     float64   `groups:"basic"`
	LocationRecorded time.Time `groups:"basic"`

	NextStopRef   string `groups:"basic"`
	NextStopOrder int    `groups:"basic"`
}

type TripType string

const (
	TripTypeMorning TripType = "morning"
	TripTypeEvening TripType = "evening"
	TripTypeSpecial TripType = "special"
)

type TripStatus string

const (
	TripStatusScheduled  TripStatus = "scheduled"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// Active trips are the only ones with a live channel. Completed trips are
// archived and never mutated again.
func (t *Trip) Active() bool {
	return t.Status == TripStatusInProgress
}
