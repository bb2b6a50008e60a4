package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/broker"
	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const LocationQueueName = "location-queue"

const numConsumers = 5
const batchSize = 200

var sampleCache *SampleCache

func StartConsumers() {
	sampleCache = NewSampleCache()

	log.Info().Msg("Starting location consumers")

	queue, err := redis_client.QueueConnection.OpenQueue(LocationQueueName)
	if err != nil {
		panic(err)
	}
	if err := queue.StartConsuming(numConsumers*batchSize, 1*time.Second); err != nil {
		panic(err)
	}

	for i := 0; i < numConsumers; i++ {
		go startLocationConsumer(queue, i)
	}
}

func startLocationConsumer(queue rmq.Queue, id int) {
	log.Info().Msgf("Starting location consumer %d", id)

	if _, err := queue.AddBatchConsumer(fmt.Sprintf("location-queue-%d", id), int64(batchSize), 2*time.Second, NewBatchConsumer(id)); err != nil {
		panic(err)
	}
}

type BatchConsumer struct {
	id int
}

func NewBatchConsumer(id int) *BatchConsumer {
	return &BatchConsumer{id: id}
}

func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	payloads := batch.Payloads()

	var tripUpdateOperations []mongo.WriteModel

	for _, payload := range payloads {
		var locationEvent *LocationEvent
		if err := json.Unmarshal([]byte(payload), &locationEvent); err != nil {
			log.Error().Err(err).Msg("Failed to decode location event")
			continue
		}

		sample := consumer.processLocationEvent(locationEvent)
		if sample == nil {
			continue
		}

		writeModel := tripUpdateModel(sample)
		tripUpdateOperations = append(tripUpdateOperations, writeModel)

		if err := broker.PublishMessage(context.Background(), redis_client.Client,
			sample.TripIdentifier, channel.NewLocationUpdate(sample)); err != nil {
			log.Error().Err(err).Str("trip", sample.TripIdentifier).Msg("Failed to relay location update")
		}
	}

	if len(tripUpdateOperations) > 0 {
		tripsCollection := database.GetCollection("trips")

		startTime := time.Now()
		_, err := tripsCollection.BulkWrite(context.Background(), tripUpdateOperations, &options.BulkWriteOptions{})
		log.Info().Int("Length", len(tripUpdateOperations)).Str("Time", time.Since(startTime).String()).Msg("Bulk write")

		if err != nil {
			log.Error().Err(err).Msg("Failed to bulk write trip locations")
		}
	}

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Fatal().Err(err).Msg("Failed to consume location event")
		}
	}
}

// processLocationEvent derives the sample for an event: next stop from the
// trip's route, monotonic with the previous sample, then caches it as the
// trip's latest.
func (consumer *BatchConsumer) processLocationEvent(locationEvent *LocationEvent) *model.LocationSample {
	trip := lookupTrip(locationEvent.TripID)
	if trip == nil {
		log.Debug().Str("trip", locationEvent.TripID).Msg("Dropping location for unknown trip")
		return nil
	}

	if !trip.Active() {
		// Completed trips are archived and never mutated.
		log.Debug().Str("trip", trip.PrimaryIdentifier).Msg("Dropping location for inactive trip")
		return nil
	}

	location := model.NewLocation(locationEvent.Latitude, locationEvent.Longitude)

	// Every stop below the previous target has been passed.
	lastPassedOrder := 0
	if previous := sampleCache.LatestSample(trip.PrimaryIdentifier); previous != nil && previous.NextStopOrder > 0 {
		lastPassedOrder = previous.NextStopOrder - 1
	}

	sample := &model.LocationSample{
		TripIdentifier: trip.PrimaryIdentifier,

		Location: *location,
		Speed:    locationEvent.Speed,
		Heading:  locationEvent.Heading,

		RecordedAt: locationEvent.RecordedAt,
	}

	stops := lookupStops(trip.RouteIdentifier)
	if nextStop := NextStop(stops, location, lastPassedOrder); nextStop != nil {
		sample.NextStopRef = nextStop.PrimaryIdentifier
		sample.NextStopOrder = nextStop.Order
	}

	if err := sampleCache.Store(sample); err != nil {
		log.Error().Err(err).Str("trip", trip.PrimaryIdentifier).Msg("Failed to cache sample")
	}

	return sample
}

func tripUpdateModel(sample *model.LocationSample) mongo.WriteModel {
	searchQuery := bson.M{"primaryidentifier": sample.TripIdentifier}

	updateMap := bson.M{
		"modificationdatetime": time.Now(),
		"vehiclelocation":      sample.Location,
		"vehiclebearing":       sample.Heading,
		"vehiclespeed":         sample.Speed,
		"locationrecorded":     sample.RecordedAt,
		"nextstopref":          sample.NextStopRef,
		"nextstoporder":        sample.NextStopOrder,
	}

	bsonRep, _ := bson.Marshal(bson.M{"$set": updateMap})
	updateModel := mongo.NewUpdateOneModel()
	updateModel.SetFilter(searchQuery)
	updateModel.SetUpdate(bsonRep)

	return updateModel
}

func lookupTrip(tripID string) *model.Trip {
	tripsCollection := database.GetCollection("trips")

	var trip *model.Trip
	tripsCollection.FindOne(context.Background(), bson.M{"primaryidentifier": tripID}).Decode(&trip)

	return trip
}

func lookupStops(routeID string) []*model.Stop {
	stopsCollection := database.GetCollection("stops")

	cursor, _ := stopsCollection.Find(context.Background(), bson.M{"routeidentifier": routeID},
		options.Find().SetSort(bson.M{"order": 1}))

	var stops []*model.Stop
	for cursor.Next(context.Background()) {
		var stop *model.Stop
		if err := cursor.Decode(&stop); err != nil {
			log.Error().Err(err).Msg("Failed to decode stop")
			continue
		}

		stops = append(stops, stop)
	}

	return stops
}
