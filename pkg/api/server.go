package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/api/routes"
	"github.com/schoolrun/schoolrun/pkg/broker"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/events"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"github.com/schoolrun/schoolrun/pkg/tracker"
	"go.mongodb.org/mongo-driver/bson"
)

func SetupServer(listen string) {
	tokenValidator := NewJWTValidator()

	liveBroker := broker.NewBroker(tokenValidator).
		WithSampleStore(tracker.NewSampleCache())

	openActiveTrips(liveBroker)

	relay := &broker.Relay{
		Broker: liveBroker,
		Client: redis_client.Client,
		Trips:  routes.TripLookup{},
	}
	go relay.Run(context.Background())

	go func() {
		ticker := time.NewTicker(broker.HeartbeatInterval)
		for range ticker.C {
			liveBroker.SweepExpired()
		}
	}()

	locationQueue, err := redis_client.QueueConnection.OpenQueue(tracker.LocationQueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open location queue")
	}
	attendanceQueue, err := redis_client.QueueConnection.OpenQueue(events.AttendanceQueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open attendance queue")
	}

	webApp := fiber.New()
	webApp.Use(NewLogger())

	group := webApp.Group("/core")

	group.Get("version", routes.APIVersion)
	routes.TripsRouter(group.Group("/trips"), routes.TripsRouterDependencies{
		Broker: liveBroker,

		LocationQueue:   locationQueue,
		AttendanceQueue: attendanceQueue,

		EnsureValidToken: EnsureValidToken(tokenValidator),
	})

	webApp.Listen(listen)
}

// openActiveTrips pre-opens a channel for every trip already in progress so a
// subscriber arriving before the first relayed message still finds one.
func openActiveTrips(liveBroker *broker.Broker) {
	tripsCollection := database.GetCollection("trips")

	cursor, err := tripsCollection.Find(context.Background(), bson.M{"status": model.TripStatusInProgress})
	if err != nil {
		log.Error().Err(err).Msg("Failed to query in-progress trips")
		return
	}

	opened := 0
	for cursor.Next(context.Background()) {
		var trip *model.Trip
		if err := cursor.Decode(&trip); err != nil {
			continue
		}

		liveBroker.OpenTrip(trip)
		opened += 1
	}

	log.Info().Int("trips", opened).Msg("Opened channels for in-progress trips")
}
