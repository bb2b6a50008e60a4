package projection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/schoolrun/schoolrun/pkg/model"
)

type fakeDirections struct {
	mu       sync.Mutex
	requests int
	fail     bool

	lastWaypoints []*model.Location

	result *RouteResult
}

func (d *fakeDirections) Route(ctx context.Context, origin *model.Location, destination *model.Location, waypoints []*model.Location) (*RouteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests++
	d.lastWaypoints = waypoints

	if d.fail {
		return nil, &RouteServiceError{Reason: "rate limited"}
	}

	if d.result != nil {
		return d.result, nil
	}

	return &RouteResult{
		Polyline: "_p~iF~ps|U_ulLnnqC",
		Legs: []RouteLeg{
			{DurationSeconds: 600, DistanceMeters: 3400},
		},
	}, nil
}

func (d *fakeDirections) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func sampleAt(lat, lon float64, nextStopOrder int) *model.LocationSample {
	return &model.LocationSample{
		Location:      *model.NewLocation(lat, lon),
		NextStopOrder: nextStopOrder,
		RecordedAt:    time.Now(),
	}
}

func routeStops(count int) []*model.Stop {
	stops := make([]*model.Stop, 0, count)
	for i := 1; i <= count; i++ {
		stops = append(stops, &model.Stop{
			PrimaryIdentifier: "stop",
			Order:             i,
			Location:          model.NewLocation(float64(i)*0.01, float64(i)*0.01),
		})
	}
	return stops
}

func morningInput(boarded bool) Input {
	return Input{
		Sample:   sampleAt(51.5, -0.1, 1),
		TripType: model.TripTypeMorning,
		Boarded:  boarded,

		Stops:               routeStops(5),
		SubscriberStopOrder: 4,

		PickupLocation: model.NewLocation(51.6, -0.2),
		DropLocation:   model.NewLocation(51.7, -0.3),
		SchoolLocation: model.NewLocation(51.8, -0.4),
	}
}

func TestDestinationRule(t *testing.T) {
	t.Run("MorningNotBoarded", func(t *testing.T) {
		input := morningInput(false)
		if got := Destination(input); got != input.PickupLocation {
			t.Error("expected pickup coordinates for morning unboarded")
		}
	})

	t.Run("MorningBoardedFlips", func(t *testing.T) {
		input := morningInput(true)
		if got := Destination(input); got != input.SchoolLocation {
			t.Error("expected school coordinates once boarded")
		}
	})

	t.Run("EveningDrop", func(t *testing.T) {
		input := morningInput(false)
		input.TripType = model.TripTypeEvening
		if got := Destination(input); got != input.DropLocation {
			t.Error("expected drop coordinates for evening run")
		}
	})

	t.Run("EveningFallsBackToPickup", func(t *testing.T) {
		input := morningInput(true)
		input.TripType = model.TripTypeEvening
		input.DropLocation = nil
		if got := Destination(input); got != input.PickupLocation {
			t.Error("expected pickup fallback when drop unset")
		}
	})

	t.Run("SpecialBehavesLikeEvening", func(t *testing.T) {
		input := morningInput(false)
		input.TripType = model.TripTypeSpecial
		if got := Destination(input); got != input.DropLocation {
			t.Error("expected drop coordinates for special run")
		}
	})
}

func TestWaypoints(t *testing.T) {
	t.Run("NotBoardedExcludesDestinationStop", func(t *testing.T) {
		input := morningInput(false)
		input.Sample = sampleAt(51.5, -0.1, 2)

		waypoints := Waypoints(input)

		// nextSeq 2, subscriber stop order 4: stops 2 and 3 only.
		if len(waypoints) != 2 {
			t.Fatalf("expected 2 waypoints, got %d", len(waypoints))
		}
	})

	t.Run("BoardedIncludesAllUpcoming", func(t *testing.T) {
		input := morningInput(true)
		input.Sample = sampleAt(51.5, -0.1, 2)

		waypoints := Waypoints(input)

		// Stops 2 through 5.
		if len(waypoints) != 4 {
			t.Fatalf("expected 4 waypoints, got %d", len(waypoints))
		}
	})

	t.Run("NeverExceedsProviderCap", func(t *testing.T) {
		input := morningInput(true)
		input.Stops = routeStops(60)
		input.Sample = sampleAt(51.5, -0.1, 0)

		waypoints := Waypoints(input)

		if len(waypoints) > maxWaypoints {
			t.Errorf("waypoints exceed provider cap: %d", len(waypoints))
		}
		if len(waypoints) != maxWaypoints {
			t.Errorf("expected truncation to %d, got %d", maxWaypoints, len(waypoints))
		}
	})

	t.Run("ZeroNextSeqWhenSampleAbsent", func(t *testing.T) {
		input := morningInput(false)
		input.Sample = nil

		waypoints := Waypoints(input)

		// All stops below the subscriber's: 1, 2, 3.
		if len(waypoints) != 3 {
			t.Fatalf("expected 3 waypoints, got %d", len(waypoints))
		}
	})
}

func TestThrottle(t *testing.T) {
	t.Run("SmallMoveWithinWindowSuppressed", func(t *testing.T) {
		directions := &fakeDirections{}
		engine := NewEngine(directions)

		currentTime := time.Now()
		engine.now = func() time.Time { return currentTime }

		input := morningInput(false)
		if _, err := engine.Update(context.Background(), input); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Both ends move under 111 m, 5 seconds later.
		currentTime = currentTime.Add(5 * time.Second)
		input.Sample = sampleAt(51.5004, -0.1004, 1)

		if _, err := engine.Update(context.Background(), input); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if directions.requestCount() != 1 {
			t.Errorf("expected second call suppressed, got %d requests", directions.requestCount())
		}
	})

	t.Run("SamePointsAfterWindowRefetches", func(t *testing.T) {
		directions := &fakeDirections{}
		engine := NewEngine(directions)

		currentTime := time.Now()
		engine.now = func() time.Time { return currentTime }

		input := morningInput(false)
		engine.Update(context.Background(), input)

		currentTime = currentTime.Add(20 * time.Second)
		engine.Update(context.Background(), input)

		if directions.requestCount() != 2 {
			t.Errorf("expected refetch after window, got %d requests", directions.requestCount())
		}
	})

	t.Run("SignificantMoveRefetchesImmediately", func(t *testing.T) {
		directions := &fakeDirections{}
		engine := NewEngine(directions)

		currentTime := time.Now()
		engine.now = func() time.Time { return currentTime }

		input := morningInput(false)
		engine.Update(context.Background(), input)

		currentTime = currentTime.Add(2 * time.Second)
		input.Sample = sampleAt(51.51, -0.11, 1)
		engine.Update(context.Background(), input)

		if directions.requestCount() != 2 {
			t.Errorf("expected immediate refetch on movement, got %d requests", directions.requestCount())
		}
	})
}

func TestProviderFailureKeepsProjection(t *testing.T) {
	directions := &fakeDirections{}
	engine := NewEngine(directions)

	currentTime := time.Now()
	engine.now = func() time.Time { return currentTime }

	input := morningInput(false)
	good, err := engine.Update(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if good == nil || good.ETA != "10m" || good.DistanceRemaining != "3.4 km" {
		t.Fatalf("unexpected projection: %+v", good)
	}

	directions.mu.Lock()
	directions.fail = true
	directions.mu.Unlock()

	currentTime = currentTime.Add(20 * time.Second)
	stale, err := engine.Update(context.Background(), input)

	var routeErr *RouteServiceError
	if !errors.As(err, &routeErr) {
		t.Fatalf("expected RouteServiceError, got %v", err)
	}
	if stale != good {
		t.Error("expected previous projection retained unchanged on provider failure")
	}
}

func TestTripCompleteSuppressesComputation(t *testing.T) {
	directions := &fakeDirections{}
	engine := NewEngine(directions)

	input := morningInput(false)
	input.TripComplete = true

	projection, err := engine.Update(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if projection != nil {
		t.Error("expected no projection once trip is complete")
	}
	if directions.requestCount() != 0 {
		t.Errorf("expected zero provider requests, got %d", directions.requestCount())
	}
}

func TestFormatETA(t *testing.T) {
	cases := []struct {
		seconds  int
		expected string
	}{
		{0, "0m"},
		{720, "12m"},
		{3900, "1h 5m"},
		{7200, "2h 0m"},
	}

	for _, c := range cases {
		if got := FormatETA(c.seconds); got != c.expected {
			t.Errorf("FormatETA(%d): expected %q, got %q", c.seconds, c.expected, got)
		}
	}
}
