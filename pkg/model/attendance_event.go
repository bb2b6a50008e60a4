package model

import "time"

// AttendanceEvent is append-only, never updated once recorded.
type AttendanceEvent struct {
	PrimaryIdentifier string `groups:"basic"`

	CreationDateTime time.Time `groups:"detailed"`

	StudentIdentifier string `groups:"basic"`
	TripIdentifier    string `groups:"basic"`

	EventType AttendanceEventType `groups:"basic"`

	RecordedAt time.Time `groups:"basic"`
}

type AttendanceEventType string

const (
	AttendanceEventTypeCheckin  AttendanceEventType = "checkin"
	AttendanceEventTypeCheckout AttendanceEventType = "checkout"
)
