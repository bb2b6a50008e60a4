package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/model"
)

type stubTripLoader struct {
	trips map[string]*model.Trip
}

func (l *stubTripLoader) Trip(tripID string) *model.Trip {
	return l.trips[tripID]
}

func locationUpdatePayload(latitude float64, longitude float64) []byte {
	data, _ := json.Marshal(channel.LocationUpdateData{
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: time.Now(),
	})

	return channel.Message{Type: channel.MessageTypeLocationUpdate, Data: data}.Encode()
}

func TestRelayMalformedPayload(t *testing.T) {
	b := NewBroker(stubValidator{})
	b.OpenTrip(testTrip("trip-1"))

	relay := &Relay{Broker: b}

	session, err := b.Subscribe("trip-1", "valid-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Unsubscribe(session)
	drain(t, session) // trip_info

	// Garbage payloads are discarded without taking the relay down.
	relay.handle("channel:trip:trip-1", []byte(`{"type":`))
	relay.handle("channel:trip:trip-1", []byte(`{"type":"teleport"}`))

	relay.handle("channel:trip:trip-1", locationUpdatePayload(51.5, -0.12))

	message := drain(t, session)
	if message.Type != channel.MessageTypeLocationUpdate {
		t.Errorf("expected location_update after the bad frames, got %s", message.Type)
	}
}

func TestRelayOpensChannelForActiveTrip(t *testing.T) {
	b := NewBroker(stubValidator{})

	relay := &Relay{
		Broker: b,
		Trips:  &stubTripLoader{trips: map[string]*model.Trip{"trip-1": testTrip("trip-1")}},
	}

	// No channel exists yet; the relay should load the trip, open one and
	// republish the message it was holding.
	relay.handle("channel:trip:trip-1", locationUpdatePayload(51.5, -0.12))

	session, err := b.Subscribe("trip-1", "valid-token")
	if err != nil {
		t.Fatalf("expected channel to be open, got %v", err)
	}
	defer b.Unsubscribe(session)

	message := drain(t, session)
	if message.Type != channel.MessageTypeTripInfo {
		t.Fatalf("expected trip_info first, got %s", message.Type)
	}

	var info channel.TripInfoData
	if err := message.DecodeData(&info); err != nil {
		t.Fatal(err)
	}
	if info.LatestLocation == nil || info.LatestLocation.Latitude != 51.5 {
		t.Errorf("expected the relayed sample in the snapshot, got %+v", info.LatestLocation)
	}
}

func TestRelayIgnoresInactiveTrip(t *testing.T) {
	completed := testTrip("trip-9")
	completed.Status = model.TripStatusCompleted

	b := NewBroker(stubValidator{})
	relay := &Relay{
		Broker: b,
		Trips:  &stubTripLoader{trips: map[string]*model.Trip{"trip-9": completed}},
	}

	relay.handle("channel:trip:trip-9", locationUpdatePayload(51.5, -0.12))

	if _, err := b.Subscribe("trip-9", "valid-token"); err == nil {
		t.Error("expected no channel for a completed trip")
	}
}

func TestRelayStatusClosesChannel(t *testing.T) {
	b := NewBroker(stubValidator{})
	b.OpenTrip(testTrip("trip-1"))

	relay := &Relay{Broker: b}

	session, err := b.Subscribe("trip-1", "valid-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drain(t, session) // trip_info

	relay.handle("channel:trip:trip-1", channel.NewTripStatus("trip-1", model.TripStatusCompleted).Encode())

	message := drain(t, session)
	if message.Type != channel.MessageTypeTripStatus {
		t.Fatalf("expected final trip_status, got %s", message.Type)
	}

	if _, open := <-session.Messages(); open {
		t.Error("expected session channel to close with the trip")
	}
}
