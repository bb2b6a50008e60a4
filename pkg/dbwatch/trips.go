package dbwatch

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/broker"
	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TripsWatch raises trip_status channel messages whenever a trip document's
// status field changes, so subscribers learn about completion or cancellation
// without a dedicated message type from the publisher.
type TripsWatch struct {
	RedisClient *redis.Client
}

type tripUpdate struct {
	OperationType     string `bson:"operationType"`
	UpdateDescription struct {
		UpdatedFields model.Trip `bson:"updatedFields"`
	} `bson:"updateDescription"`
	FullDocument model.Trip `bson:"fullDocument"`
}

func NewTripsWatch(redisClient *redis.Client) *TripsWatch {
	return &TripsWatch{
		RedisClient: redisClient,
	}
}

func (w *TripsWatch) Run() {
	log.Info().Msg("Starting dbwatch on collection trips")
	collection := database.GetCollection("trips")
	matchPipeline := bson.D{
		{
			Key: "$match", Value: bson.D{
				{
					Key: "$and", Value: bson.A{
						bson.D{{Key: "operationType", Value: "update"}},
						bson.D{
							{
								Key:   "updateDescription.updatedFields.status",
								Value: bson.D{{Key: "$exists", Value: true}},
							},
						},
					},
				},
			},
		},
	}

	opts := options.ChangeStream().SetFullDocument(options.WhenAvailable)
	stream, err := collection.Watch(context.Background(), mongo.Pipeline{matchPipeline}, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to watch collection")
	}

	defer stream.Close(context.Background())

	for stream.Next(context.Background()) {
		var data tripUpdate

		if err := stream.Decode(&data); err != nil {
			log.Error().Err(err).Msg("Failed to decode event")
			continue
		}

		tripID := data.FullDocument.PrimaryIdentifier
		status := data.UpdateDescription.UpdatedFields.Status

		if tripID == "" || status == "" {
			continue
		}

		log.Info().Str("trip", tripID).Str("status", string(status)).Msg("Trip status changed")

		err := broker.PublishMessage(context.Background(), w.RedisClient,
			tripID, channel.NewTripStatus(tripID, status))
		if err != nil {
			log.Error().Err(err).Str("trip", tripID).Msg("Failed to relay trip status")
		}
	}
}
