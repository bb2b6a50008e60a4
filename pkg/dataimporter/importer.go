package dataimporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ImportDataSet parses one dataset file and upserts its records. Stop
// datasets are rejected whole if any route carries a duplicated stop order,
// as a broken ordering would corrupt next-stop tracking for live trips.
func ImportDataSet(dataset *DataSet) error {
	// Allow records with missing trailing columns
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.FieldsPerRecord = -1
		return r
	})

	file, err := os.Open(dataset.Source)
	if err != nil {
		return err
	}
	defer file.Close()

	switch dataset.Format {
	case DataSetFormatRoutes:
		return importRoutes(file)
	case DataSetFormatStops:
		return importStops(file)
	case DataSetFormatStudents:
		return importStudents(file)
	default:
		return fmt.Errorf("unsupported dataset format %s", dataset.Format)
	}
}

func importRoutes(file io.Reader) error {
	var records []*RouteRecord
	if err := gocsv.Unmarshal(file, &records); err != nil {
		return err
	}

	var operations []mongo.WriteModel
	for _, record := range records {
		route := record.ToRoute()

		operations = append(operations, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"primaryidentifier": route.PrimaryIdentifier}).
			SetReplacement(route).
			SetUpsert(true))
	}

	return bulkWrite("routes", operations)
}

func importStops(file io.Reader) error {
	operations, err := parseStops(file)
	if err != nil {
		return err
	}

	return bulkWrite("stops", operations)
}

func parseStops(file io.Reader) ([]mongo.WriteModel, error) {
	var records []*StopRecord
	if err := gocsv.Unmarshal(file, &records); err != nil {
		return nil, err
	}

	seenOrders := map[string]map[int]bool{}

	var operations []mongo.WriteModel
	for _, record := range records {
		stop := record.ToStop()

		if seenOrders[stop.RouteIdentifier] == nil {
			seenOrders[stop.RouteIdentifier] = map[int]bool{}
		}
		if seenOrders[stop.RouteIdentifier][stop.Order] {
			return nil, fmt.Errorf("duplicate stop order %d on route %s", stop.Order, stop.RouteIdentifier)
		}
		seenOrders[stop.RouteIdentifier][stop.Order] = true

		operations = append(operations, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"primaryidentifier": stop.PrimaryIdentifier}).
			SetReplacement(stop).
			SetUpsert(true))
	}

	return operations, nil
}

func importStudents(file io.Reader) error {
	var records []*StudentRecord
	if err := gocsv.Unmarshal(file, &records); err != nil {
		return err
	}

	var operations []mongo.WriteModel
	for _, record := range records {
		student := record.ToStudent()

		operations = append(operations, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"primaryidentifier": student.PrimaryIdentifier}).
			SetReplacement(student).
			SetUpsert(true))
	}

	return bulkWrite("students", operations)
}

func bulkWrite(collectionName string, operations []mongo.WriteModel) error {
	if len(operations) == 0 {
		return nil
	}

	collection := database.GetCollection(collectionName)

	_, err := collection.BulkWrite(context.Background(), operations, options.BulkWrite())
	if err != nil {
		return err
	}

	log.Info().Int("records", len(operations)).Str("collection", collectionName).Msg("Imported records")

	return nil
}
