package model

import "time"

type Route struct {
	PrimaryIdentifier string `groups:"basic"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	Name             string `groups:"basic"`
	SchoolIdentifier string `groups:"basic"`

	SchoolLocation *Location `groups:"basic"`
}

// Stop order is unique within a route and ascends from origin to terminus.
// Stops are immutable once a trip on their route has started.
type Stop struct {
	PrimaryIdentifier string `groups:"basic"`

	RouteIdentifier string `groups:"internal"`

	Name  string `groups:"basic"`
	Order int    `groups:"basic"`

	Location *Location `groups:"basic"`

	ScheduledArrival string `groups:"basic"`
}
