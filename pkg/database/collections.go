package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func createIndexes() {
	createTripsIndexes()
	createRoutesIndexes()
	createAttendanceIndexes()
	createStudentsIndexes()
	createNotificationTargetIndexes()
}

func createTripsIndexes() {
	tripsCollection := GetCollection("trips")
	tripsIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "busidentifier", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "vehiclelocation.coordinates", Value: "2d"}},
		},
	}

	opts := options.CreateIndexes()
	_, err := tripsCollection.Indexes().CreateMany(context.Background(), tripsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createRoutesIndexes() {
	routesCollection := GetCollection("routes")
	routesIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
	}

	opts := options.CreateIndexes()
	_, err := routesCollection.Indexes().CreateMany(context.Background(), routesIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	stopsCollection := GetCollection("stops")
	stopsIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "routeidentifier", Value: 1}, {Key: "order", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "location.coordinates", Value: "2d"}},
		},
	}

	opts = options.CreateIndexes()
	_, err = stopsCollection.Indexes().CreateMany(context.Background(), stopsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createAttendanceIndexes() {
	attendanceCollection := GetCollection("attendance_events")
	attendanceIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "tripidentifier", Value: 1}, {Key: "studentidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "recordedat", Value: 1}},
		},
	}

	opts := options.CreateIndexes()
	_, err := attendanceCollection.Indexes().CreateMany(context.Background(), attendanceIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createStudentsIndexes() {
	studentsCollection := GetCollection("students")
	studentsIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "routeidentifier", Value: 1}},
		},
	}

	opts := options.CreateIndexes()
	_, err := studentsCollection.Indexes().CreateMany(context.Background(), studentsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createNotificationTargetIndexes() {
	targetsCollection := GetCollection("user_push_notification_target")
	targetsIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userid", Value: 1}},
		},
	}

	opts := options.CreateIndexes()
	_, err := targetsCollection.Indexes().CreateMany(context.Background(), targetsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
