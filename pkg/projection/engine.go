package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/polyline"
	"golang.org/x/exp/slices"
)

// Degree delta treated as significant movement, roughly 111 metres at the
// equator. Compared per axis, not great-circle.
const movementThresholdDegrees = 0.001

const refetchInterval = 15 * time.Second

// Directions providers commonly cap origin+destination+waypoints near 25.
const maxWaypoints = 23

// Input is everything the engine needs for one recomputation pass.
type Input struct {
	Sample *model.LocationSample

	TripType     model.TripType
	Boarded      bool
	TripComplete bool

	// Stops for the trip's route; any order, sorted internally.
	Stops []*model.Stop

	// SubscriberStopOrder is the order of the viewer's own stop on the route.
	SubscriberStopOrder int

	PickupLocation *model.Location
	DropLocation   *model.Location
	SchoolLocation *model.Location
}

// Projection is derived state: recomputed whole, never patched in place.
type Projection struct {
	Path []*model.Location

	ETA               string
	DistanceRemaining string

	ComputedAt time.Time
}

// Engine turns the latest location sample plus trip state into a destination,
// a route and an ETA, while throttling redundant provider requests.
type Engine struct {
	directions Directions

	mu              sync.Mutex
	lastOrigin      *model.Location
	lastDestination *model.Location
	lastFetch       time.Time
	current         *Projection

	sequence        uint64
	latestCompleted uint64

	now func() time.Time
}

func NewEngine(directions Directions) *Engine {
	return &Engine{
		directions: directions,
		now:        time.Now,
	}
}

// Current returns the last computed projection, which may be stale after a
// provider failure but is never blanked by one.
func (e *Engine) Current() *Projection {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.current
}

// Destination applies the deterministic destination rule.
func Destination(input Input) *model.Location {
	if input.TripType == model.TripTypeMorning {
		if input.Boarded {
			return input.SchoolLocation
		}
		return input.PickupLocation
	}

	// Evening and special runs head for the drop point, falling back to the
	// pickup point when no drop is set.
	if input.DropLocation != nil {
		return input.DropLocation
	}
	return input.PickupLocation
}

// Waypoints assembles the intermediate stops between the vehicle and the
// destination, capped at the provider limit.
func Waypoints(input Input) []*model.Location {
	stops := make([]*model.Stop, len(input.Stops))
	copy(stops, input.Stops)
	slices.SortFunc(stops, func(a, b *model.Stop) int {
		return a.Order - b.Order
	})

	nextSeq := 0
	if input.Sample != nil {
		nextSeq = input.Sample.NextStopOrder
	}

	var waypoints []*model.Location
	for _, stop := range stops {
		if stop.Order < nextSeq {
			continue
		}

		if !input.Boarded {
			// The subscriber's stop is the route endpoint, not a waypoint.
			if stop.Order >= input.SubscriberStopOrder {
				break
			}
		}

		waypoints = append(waypoints, stop.Location)

		if len(waypoints) == maxWaypoints {
			break
		}
	}

	return waypoints
}

// Update runs one recomputation pass. It returns the projection the caller
// should display; on provider failure that is the previous one, unchanged,
// alongside a RouteServiceError for logging.
func (e *Engine) Update(ctx context.Context, input Input) (*Projection, error) {
	if input.TripComplete {
		// Trip is done for this viewer: no destination, no marker, no fetches.
		return nil, nil
	}

	if input.Sample == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.current, nil
	}

	origin := &input.Sample.Location
	destination := Destination(input)
	if destination == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.current, nil
	}

	e.mu.Lock()

	movedSignificantly := e.lastOrigin == nil || e.lastDestination == nil ||
		!origin.WithinDegreeDelta(e.lastOrigin, movementThresholdDegrees) ||
		!destination.WithinDegreeDelta(e.lastDestination, movementThresholdDegrees)

	if !movedSignificantly && e.current != nil && e.now().Sub(e.lastFetch) < refetchInterval {
		current := e.current
		e.mu.Unlock()
		return current, nil
	}

	e.sequence++
	sequence := e.sequence
	e.mu.Unlock()

	result, err := e.directions.Route(ctx, origin, destination, Waypoints(input))

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Msg("Route request failed, keeping previous projection")
		return e.current, err
	}

	// A newer request may have completed while this one was in flight;
	// last completion wins, stale results are discarded.
	if sequence <= e.latestCompleted {
		return e.current, nil
	}
	e.latestCompleted = sequence

	path, decodeErr := polyline.Decode(result.Polyline)
	if decodeErr != nil {
		return e.current, &RouteServiceError{Reason: decodeErr.Error()}
	}

	var totalSeconds, totalMeters int
	for _, leg := range result.Legs {
		totalSeconds += leg.DurationSeconds
		totalMeters += leg.DistanceMeters
	}

	e.current = &Projection{
		Path: path,

		ETA:               FormatETA(totalSeconds),
		DistanceRemaining: FormatDistance(totalMeters),

		ComputedAt: e.now(),
	}
	e.lastOrigin = origin
	e.lastDestination = destination
	e.lastFetch = e.now()

	return e.current, nil
}

// FormatETA renders seconds as hours and minutes, omitting hours at zero.
func FormatETA(totalSeconds int) string {
	minutes := totalSeconds / 60
	hours := minutes / 60
	minutes = minutes % 60

	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// FormatDistance renders metres as kilometres to one decimal place.
func FormatDistance(totalMeters int) string {
	return fmt.Sprintf("%.1f km", float64(totalMeters)/1000)
}
