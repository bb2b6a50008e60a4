package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/schoolrun/schoolrun/pkg/model"
)

type MessageType string

const (
	MessageTypeLocationUpdate  MessageType = "location_update"
	MessageTypeTripInfo        MessageType = "trip_info"
	MessageTypeAttendanceEvent MessageType = "attendance_event"
	MessageTypeTripStatus      MessageType = "trip_status"
	MessageTypePing            MessageType = "ping"
	MessageTypePong            MessageType = "pong"
)

// Message is the envelope for everything sent over a trip channel.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type LocationUpdateData struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`

	NextStopRef   string `json:"next_stop,omitempty"`
	NextStopOrder int    `json:"next_stop_order,omitempty"`
}

// TripInfoData is the snapshot pushed to a subscriber immediately after it
// joins a channel. LatestLocation is absent when no sample has been seen yet.
type TripInfoData struct {
	TripID   string `json:"trip_id"`
	TripType string `json:"trip_type"`
	Status   string `json:"status"`

	LatestLocation *LocationUpdateData `json:"latest_location,omitempty"`
}

type AttendanceEventData struct {
	StudentID string    `json:"student_id"`
	TripID    string    `json:"trip_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

type TripStatusData struct {
	TripID string `json:"trip_id"`
	Status string `json:"status"`
}

// ProtocolError marks a single malformed or unknown message. The session it
// arrived on stays open; only the message is discarded.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

func NewLocationUpdate(sample *model.LocationSample) Message {
	data, _ := json.Marshal(LocationUpdateDataFromSample(sample))

	return Message{
		Type: MessageTypeLocationUpdate,
		Data: data,
	}
}

func LocationUpdateDataFromSample(sample *model.LocationSample) *LocationUpdateData {
	return &LocationUpdateData{
		Latitude:  sample.Location.Latitude(),
		Longitude: sample.Location.Longitude(),
		Speed:     sample.Speed,
		Heading:   sample.Heading,
		Timestamp: sample.RecordedAt,

		NextStopRef:   sample.NextStopRef,
		NextStopOrder: sample.NextStopOrder,
	}
}

func (d *LocationUpdateData) ToSample(tripID string) *model.LocationSample {
	return &model.LocationSample{
		TripIdentifier: tripID,

		Location: *model.NewLocation(d.Latitude, d.Longitude),
		Speed:    d.Speed,
		Heading:  d.Heading,

		RecordedAt: d.Timestamp,

		NextStopRef:   d.NextStopRef,
		NextStopOrder: d.NextStopOrder,
	}
}

func NewTripInfo(trip *model.Trip, sample *model.LocationSample) Message {
	info := TripInfoData{
		TripID:   trip.PrimaryIdentifier,
		TripType: string(trip.TripType),
		Status:   string(trip.Status),
	}

	if sample != nil {
		info.LatestLocation = LocationUpdateDataFromSample(sample)
	}

	data, _ := json.Marshal(info)

	return Message{
		Type: MessageTypeTripInfo,
		Data: data,
	}
}

func NewAttendanceEvent(event *model.AttendanceEvent) Message {
	data, _ := json.Marshal(AttendanceEventData{
		StudentID: event.StudentIdentifier,
		TripID:    event.TripIdentifier,
		EventType: string(event.EventType),
		Timestamp: event.RecordedAt,
	})

	return Message{
		Type: MessageTypeAttendanceEvent,
		Data: data,
	}
}

func NewTripStatus(tripID string, status model.TripStatus) Message {
	data, _ := json.Marshal(TripStatusData{
		TripID: tripID,
		Status: string(status),
	})

	return Message{
		Type: MessageTypeTripStatus,
		Data: data,
	}
}

// Decode parses a raw channel frame, rejecting unknown message types so a
// single bad frame never takes the session down with it.
func Decode(raw []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(raw, &message); err != nil {
		return Message{}, &ProtocolError{Reason: err.Error()}
	}

	switch message.Type {
	case MessageTypeLocationUpdate, MessageTypeTripInfo, MessageTypeAttendanceEvent,
		MessageTypeTripStatus, MessageTypePing, MessageTypePong:
		return message, nil
	default:
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", message.Type)}
	}
}

func (m Message) Encode() []byte {
	raw, _ := json.Marshal(m)
	return raw
}

func (m Message) DecodeData(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return &ProtocolError{Reason: err.Error()}
	}

	return nil
}
