package model

type Student struct {
	PrimaryIdentifier string `groups:"basic"`

	Name string `groups:"basic"`

	ParentUserID string `groups:"internal"`

	RouteIdentifier string `groups:"internal"`

	// Order of the student's own stop on the route.
	PickupStopOrder int `groups:"basic"`

	PickupLocation *Location `groups:"basic"`
	DropLocation   *Location `groups:"basic"`
}
