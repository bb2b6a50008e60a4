package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/schoolrun/schoolrun/pkg/model"
)

func TestDecode(t *testing.T) {
	t.Run("KnownType", func(t *testing.T) {
		message, err := Decode([]byte(`{"type":"ping"}`))
		if err != nil {
			t.Fatal(err)
		}
		if message.Type != MessageTypePing {
			t.Errorf("expected ping got %s", message.Type)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"teleport"}`))

		var protocolError *ProtocolError
		if !errors.As(err, &protocolError) {
			t.Errorf("expected ProtocolError got %v", err)
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":`))

		var protocolError *ProtocolError
		if !errors.As(err, &protocolError) {
			t.Errorf("expected ProtocolError got %v", err)
		}
	})
}

func TestLocationUpdateRoundTrip(t *testing.T) {
	recorded := time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC)

	sample := &model.LocationSample{
		TripIdentifier: "TRIP:ROUTE1:20240304",

		Location: *model.NewLocation(51.5074, -0.1278),
		Speed:    8.2,
		Heading:  90,

		RecordedAt: recorded,

		NextStopRef:   "STOP:3",
		NextStopOrder: 3,
	}

	message, err := Decode(NewLocationUpdate(sample).Encode())
	if err != nil {
		t.Fatal(err)
	}

	var data LocationUpdateData
	if err := message.DecodeData(&data); err != nil {
		t.Fatal(err)
	}

	decoded := data.ToSample("TRIP:ROUTE1:20240304")

	if decoded.Location.Latitude() != 51.5074 || decoded.Location.Longitude() != -0.1278 {
		t.Errorf("location mismatch: %v", decoded.Location)
	}
	if decoded.NextStopOrder != 3 {
		t.Errorf("expected next stop order 3 got %d", decoded.NextStopOrder)
	}
	if !decoded.RecordedAt.Equal(recorded) {
		t.Errorf("timestamp mismatch: %v", decoded.RecordedAt)
	}
}

func TestTripInfoOmitsMissingLocation(t *testing.T) {
	trip := &model.Trip{
		PrimaryIdentifier: "TRIP:ROUTE1:20240304",
		TripType:          model.TripTypeMorning,
		Status:            model.TripStatusInProgress,
	}

	message := NewTripInfo(trip, nil)

	var data TripInfoData
	if err := message.DecodeData(&data); err != nil {
		t.Fatal(err)
	}

	if data.LatestLocation != nil {
		t.Error("expected no latest location before the first sample")
	}
	if data.TripType != "morning" {
		t.Errorf("expected morning got %s", data.TripType)
	}
}
