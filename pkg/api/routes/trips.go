package routes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/schoolrun/schoolrun/pkg/attendance"
	"github.com/schoolrun/schoolrun/pkg/broker"
	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/events"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/tracker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TripsRouterDependencies struct {
	Broker *broker.Broker

	LocationQueue   rmq.Queue
	AttendanceQueue rmq.Queue

	EnsureValidToken fiber.Handler
}

// TripLookup resolves trip documents from the database, stops included.
type TripLookup struct{}

func (TripLookup) Trip(tripID string) *model.Trip {
	tripsCollection := database.GetCollection("trips")

	var trip *model.Trip
	tripsCollection.FindOne(context.Background(), bson.M{"primaryidentifier": tripID}).Decode(&trip)

	if trip != nil {
		trip.Stops = getRouteStops(trip.RouteIdentifier)
	}

	return trip
}

func TripsRouter(router fiber.Router, deps TripsRouterDependencies) {
	router.Get("/:identifier", deps.getTrip)
	router.Get("/:identifier/snapshot", deps.getTripSnapshot)
	router.Get("/:identifier/channel", channelUpgradeCheck, channelHandler(deps.Broker))

	router.Post("/:identifier/location", deps.EnsureValidToken, deps.postTripLocation)
	router.Post("/:identifier/attendance", deps.EnsureValidToken, deps.postTripAttendance)
	router.Get("/:identifier/attendance/onboard", deps.EnsureValidToken, deps.getTripOnboard)
}

func getRouteStops(routeID string) []*model.Stop {
	stopsCollection := database.GetCollection("stops")

	cursor, err := stopsCollection.Find(
		context.Background(),
		bson.M{"routeidentifier": routeID},
		options.Find().SetSort(bson.M{"order": 1}),
	)
	if err != nil {
		return nil
	}

	var stops []*model.Stop
	cursor.All(context.Background(), &stops)

	return stops
}

func (deps TripsRouterDependencies) getTrip(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	trip := TripLookup{}.Trip(identifier)

	if trip == nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find a trip matching this identifier",
		})
	}

	groups := []string{"basic"}
	if c.Query("detailed") == "true" {
		groups = append(groups, "detailed")
	}

	reducedTrip, err := sheriff.Marshal(&sheriff.Options{Groups: groups}, trip)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Failed to serialise trip",
		})
	}

	return c.JSON(reducedTrip)
}

// getTripSnapshot returns the same payload a channel subscriber receives as
// its first message, for clients polling over plain HTTP.
func (deps TripsRouterDependencies) getTripSnapshot(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	trip := TripLookup{}.Trip(identifier)

	if trip == nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find a trip matching this identifier",
		})
	}

	message := channel.NewTripInfo(trip, deps.Broker.LatestSample(identifier))

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(message.Encode())
}

func (deps TripsRouterDependencies) postTripLocation(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	var locationEvent *tracker.LocationEvent
	if err := json.Unmarshal(c.Body(), &locationEvent); err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": "Failed to decode location event",
		})
	}

	locationEvent.TripID = identifier
	if locationEvent.RecordedAt.IsZero() {
		locationEvent.RecordedAt = time.Now()
	}

	payload, _ := json.Marshal(locationEvent)
	if err := deps.LocationQueue.PublishBytes(payload); err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Failed to queue location event",
		})
	}

	c.SendStatus(fiber.StatusAccepted)
	return c.JSON(fiber.Map{
		"status": "queued",
	})
}

func (deps TripsRouterDependencies) postTripAttendance(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	var input *events.AttendanceInput
	if err := json.Unmarshal(c.Body(), &input); err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": "Failed to decode attendance event",
		})
	}

	eventType := model.AttendanceEventType(input.EventType)
	if eventType != model.AttendanceEventTypeCheckin && eventType != model.AttendanceEventTypeCheckout {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": "Unknown attendance event type",
		})
	}

	input.TripID = identifier
	if input.RecordedAt.IsZero() {
		input.RecordedAt = time.Now()
	}

	payload, _ := json.Marshal(input)
	if err := deps.AttendanceQueue.PublishBytes(payload); err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Failed to queue attendance event",
		})
	}

	c.SendStatus(fiber.StatusAccepted)
	return c.JSON(fiber.Map{
		"status": "queued",
	})
}

// getTripOnboard folds the trip's recorded attendance events into the number
// of students currently on the bus.
func (deps TripsRouterDependencies) getTripOnboard(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	attendanceCollection := database.GetCollection("attendance_events")

	cursor, err := attendanceCollection.Find(
		context.Background(),
		bson.M{"tripidentifier": identifier},
		options.Find().SetSort(bson.M{"recordedat": 1}),
	)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Failed to query attendance events",
		})
	}

	state := attendance.NewState(identifier)

	for cursor.Next(context.Background()) {
		var event *model.AttendanceEvent
		if err := cursor.Decode(&event); err != nil {
			continue
		}

		state.Apply(event)
	}

	return c.JSON(fiber.Map{
		"trip":    identifier,
		"onboard": state.OnBusCount(),
	})
}
