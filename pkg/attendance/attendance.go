// Package attendance derives boarding and completion state from the
// append-only attendance event stream. It only consumes events; upstream
// ordering is never re-validated here.
package attendance

import (
	"sync"

	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/model"
)

// State accumulates attendance events for one active trip as seen by one
// viewer. Events referencing other trips are recorded but never affect
// boarding or completion for the active trip.
type State struct {
	mu sync.Mutex

	activeTripID string

	// Latest event per student for the active trip.
	latest map[string]model.AttendanceEventType

	// Students with any checkout recorded on the active trip. Sticky: a
	// later checkin updates latest but never clears this.
	checkedOut map[string]bool
}

func NewState(activeTripID string) *State {
	return &State{
		activeTripID: activeTripID,
		latest:       map[string]model.AttendanceEventType{},
		checkedOut:   map[string]bool{},
	}
}

// Apply folds one event into the state. Events whose trip does not match the
// active trip are ignored - a stale checkout from an earlier trip must never
// mark the new trip complete.
func (s *State) Apply(event *model.AttendanceEvent) {
	if event.TripIdentifier != s.activeTripID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[event.StudentIdentifier] = event.EventType

	if event.EventType == model.AttendanceEventTypeCheckout {
		s.checkedOut[event.StudentIdentifier] = true
	}
}

// ApplyMessage folds a raw attendance_event channel payload.
func (s *State) ApplyMessage(data *channel.AttendanceEventData) {
	s.Apply(&model.AttendanceEvent{
		StudentIdentifier: data.StudentID,
		TripIdentifier:    data.TripID,
		EventType:         model.AttendanceEventType(data.EventType),
		RecordedAt:        data.Timestamp,
	})
}

// Boarded reports whether the student has an open checkin without a later
// checkout on the active trip.
func (s *State) Boarded(studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest[studentID] == model.AttendanceEventTypeCheckin
}

// TripComplete reports whether any checkout exists for the student on the
// active trip. Once true the projection engine suppresses destination
// computation and the subscription may idle.
func (s *State) TripComplete(studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkedOut[studentID]
}

// OnBusCount tallies students currently on the bus: a plain fold over the
// latest status per student.
func (s *State) OnBusCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, eventType := range s.latest {
		if eventType == model.AttendanceEventTypeCheckin {
			count++
		}
	}

	return count
}
