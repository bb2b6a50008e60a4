package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/broker"
	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/database"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/notify"
	"github.com/schoolrun/schoolrun/pkg/redis_client"
	"github.com/sourcegraph/conc/pool"
	"go.mongodb.org/mongo-driver/bson"
)

const AttendanceQueueName = "attendance-queue"

// AttendanceInput is what the conductor device publishes onto the attendance
// queue via the api ingress.
type AttendanceInput struct {
	TripID    string `json:"trip_id"`
	StudentID string `json:"student_id"`
	EventType string `json:"event_type"`

	RecordedAt time.Time `json:"recorded_at"`
}

type BatchConsumer struct {
	id int

	pushManager *notify.PushManager
}

func NewBatchConsumer(id int, pushManager *notify.PushManager) *BatchConsumer {
	return &BatchConsumer{id: id, pushManager: pushManager}
}

func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	payloads := batch.Payloads()

	var insertDocuments []interface{}
	var recorded []*model.AttendanceEvent

	for _, payload := range payloads {
		var input *AttendanceInput
		if err := json.Unmarshal([]byte(payload), &input); err != nil {
			log.Error().Err(err).Msg("Failed to decode attendance event")
			continue
		}

		eventType := model.AttendanceEventType(input.EventType)
		if eventType != model.AttendanceEventTypeCheckin && eventType != model.AttendanceEventTypeCheckout {
			log.Error().Str("event_type", input.EventType).Msg("Discarding unknown attendance event type")
			continue
		}

		event := &model.AttendanceEvent{
			PrimaryIdentifier: fmt.Sprintf("ATTENDANCE:%s", uuid.New().String()),

			CreationDateTime: time.Now(),

			StudentIdentifier: input.StudentID,
			TripIdentifier:    input.TripID,

			EventType: eventType,

			RecordedAt: input.RecordedAt,
		}

		insertDocuments = append(insertDocuments, event)
		recorded = append(recorded, event)
	}

	if len(insertDocuments) > 0 {
		// Append-only: attendance events are never updated once written.
		attendanceCollection := database.GetCollection("attendance_events")
		if _, err := attendanceCollection.InsertMany(context.Background(), insertDocuments); err != nil {
			log.Error().Err(err).Msg("Failed to insert attendance events")
		}
	}

	for _, event := range recorded {
		if err := broker.PublishMessage(context.Background(), redis_client.Client,
			event.TripIdentifier, channel.NewAttendanceEvent(event)); err != nil {
			log.Error().Err(err).Str("trip", event.TripIdentifier).Msg("Failed to relay attendance event")
		}
	}

	consumer.notifyParents(recorded)

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Fatal().Err(err).Msg("Failed to consume attendance event")
		}
	}
}

func (consumer *BatchConsumer) notifyParents(events []*model.AttendanceEvent) {
	if consumer.pushManager == nil {
		return
	}

	sendPool := pool.New().WithMaxGoroutines(8)

	for _, event := range events {
		event := event
		sendPool.Go(func() {
			student := lookupStudent(event.StudentIdentifier)
			if student == nil || student.ParentUserID == "" {
				return
			}

			title := "Checked in"
			message := fmt.Sprintf("%s boarded the bus", student.Name)
			if event.EventType == model.AttendanceEventTypeCheckout {
				title = "Checked out"
				message = fmt.Sprintf("%s left the bus", student.Name)
			}

			err := consumer.pushManager.SendPush(model.Notification{
				TargetUser: student.ParentUserID,
				Type:       model.NotificationTypePush,

				Title:   title,
				Message: message,
			})
			if err != nil {
				log.Error().Err(err).Str("student", event.StudentIdentifier).Msg("Failed to send attendance push")
			}
		})
	}

	sendPool.Wait()
}

func encodeInput(input AttendanceInput) ([]byte, error) {
	return json.Marshal(input)
}

func lookupStudent(studentID string) *model.Student {
	studentsCollection := database.GetCollection("students")

	var student *model.Student
	studentsCollection.FindOne(context.Background(), bson.M{"primaryidentifier": studentID}).Decode(&student)

	return student
}
