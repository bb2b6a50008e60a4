package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/sourcegraph/conc"
)

const HeartbeatInterval = 30 * time.Second

// Sessions that have not pinged for twice the heartbeat interval are expired.
const heartbeatGrace = 2 * HeartbeatInterval

// TokenValidator checks a bearer token and returns the user it belongs to.
// Validation is expected to be fast and local or cache backed.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// SampleStore is an optional external latest-sample lookup, used when this
// broker instance has not yet seen a sample for a trip (for example right
// after an api process restart while the tracker kept running).
type SampleStore interface {
	LatestSample(tripID string) *model.LocationSample
}

// Broker maintains one broadcast channel per active trip and fans publisher
// messages out to every subscriber of that trip.
type Broker struct {
	validator TokenValidator
	samples   SampleStore

	mu       sync.RWMutex
	channels map[string]*tripChannel

	now func() time.Time
}

type tripChannel struct {
	trip *model.Trip

	// Guards the subscriber map and the latest-sample cache. Held only for
	// the fan-out walk; sends themselves never block.
	mu           sync.Mutex
	sessions     map[string]*Session
	latestSample *model.LocationSample
}

func NewBroker(validator TokenValidator) *Broker {
	return &Broker{
		validator: validator,
		channels:  map[string]*tripChannel{},
		now:       time.Now,
	}
}

// WithSampleStore attaches an external latest-sample fallback.
func (b *Broker) WithSampleStore(store SampleStore) *Broker {
	b.samples = store
	return b
}

// OpenTrip creates the broadcast channel for a trip. Opening an already open
// trip is a no-op.
func (b *Broker) OpenTrip(trip *model.Trip) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.channels[trip.PrimaryIdentifier]; exists {
		return
	}

	b.channels[trip.PrimaryIdentifier] = &tripChannel{
		trip:     trip,
		sessions: map[string]*Session{},
	}

	log.Info().Str("trip", trip.PrimaryIdentifier).Msg("Opened trip channel")
}

// CloseTrip broadcasts the final status then tears the channel down. Sessions
// see their message channel close.
func (b *Broker) CloseTrip(tripID string, status model.TripStatus) {
	b.mu.Lock()
	tripChannel := b.channels[tripID]
	delete(b.channels, tripID)
	b.mu.Unlock()

	if tripChannel == nil {
		return
	}

	tripChannel.mu.Lock()
	tripChannel.trip.Status = status
	sessions := make([]*Session, 0, len(tripChannel.sessions))
	for _, session := range tripChannel.sessions {
		session.enqueue(channel.NewTripStatus(tripID, status))
		sessions = append(sessions, session)
	}
	tripChannel.sessions = map[string]*Session{}
	tripChannel.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}

	log.Info().Str("trip", tripID).Str("status", string(status)).Msg("Closed trip channel")
}

// Subscribe joins a viewer to a trip channel. The first message the session
// receives is always a trip_info snapshot carrying the latest known location
// sample, if there is one.
func (b *Broker) Subscribe(tripID string, authToken string) (*Session, error) {
	if authToken == "" {
		return nil, &AuthError{Reason: "missing token"}
	}

	userID, err := b.validator.Validate(authToken)
	if err != nil {
		return nil, &AuthError{Reason: err.Error()}
	}

	b.mu.RLock()
	tripChannel := b.channels[tripID]
	b.mu.RUnlock()

	if tripChannel == nil {
		return nil, &NotFoundError{TripID: tripID}
	}

	session := newSession(uuid.New().String(), tripID, userID, b.now())

	tripChannel.mu.Lock()
	if tripChannel.latestSample == nil && b.samples != nil {
		tripChannel.latestSample = b.samples.LatestSample(tripID)
	}
	tripChannel.sessions[session.ID] = session
	session.enqueue(channel.NewTripInfo(tripChannel.trip, tripChannel.latestSample))
	tripChannel.mu.Unlock()

	log.Debug().Str("trip", tripID).Str("user", userID).Msg("Subscriber joined")

	return session, nil
}

// Unsubscribe releases a session. Other subscribers and the latest-sample
// cache are unaffected.
func (b *Broker) Unsubscribe(session *Session) {
	b.mu.RLock()
	tripChannel := b.channels[session.TripID]
	b.mu.RUnlock()

	if tripChannel != nil {
		tripChannel.mu.Lock()
		delete(tripChannel.sessions, session.ID)
		tripChannel.mu.Unlock()
	}

	session.close()
}

// Publish fans a message out to every current subscriber of the trip,
// preserving the order messages arrived from the publisher. Delivery is
// at-most-once per subscriber; a full subscriber buffer drops the message.
func (b *Broker) Publish(tripID string, message channel.Message) error {
	b.mu.RLock()
	tripChannel := b.channels[tripID]
	b.mu.RUnlock()

	if tripChannel == nil {
		return &NotFoundError{TripID: tripID}
	}

	tripChannel.mu.Lock()
	defer tripChannel.mu.Unlock()

	if message.Type == channel.MessageTypeLocationUpdate {
		var data channel.LocationUpdateData
		if err := json.Unmarshal(message.Data, &data); err != nil {
			return &channel.ProtocolError{Reason: fmt.Sprintf("bad location_update payload: %s", err)}
		}

		tripChannel.latestSample = data.ToSample(tripID)
	}

	if message.Type == channel.MessageTypeTripStatus {
		var data channel.TripStatusData
		if err := json.Unmarshal(message.Data, &data); err == nil {
			tripChannel.trip.Status = model.TripStatus(data.Status)
		}
	}

	for _, session := range tripChannel.sessions {
		session.enqueue(message)
	}

	return nil
}

// Heartbeat answers a session ping with a pong and refreshes its expiry.
func (b *Broker) Heartbeat(session *Session) {
	session.recordPing(b.now())
	session.enqueue(channel.Message{Type: channel.MessageTypePong})
}

// SweepExpired drops sessions that have missed heartbeats beyond the grace
// window. Intended to run on a ticker from the serving process.
func (b *Broker) SweepExpired() {
	cutoff := b.now().Add(-heartbeatGrace)

	b.mu.RLock()
	channels := make([]*tripChannel, 0, len(b.channels))
	for _, tripChannel := range b.channels {
		channels = append(channels, tripChannel)
	}
	b.mu.RUnlock()

	for _, tripChannel := range channels {
		var expired []*Session

		tripChannel.mu.Lock()
		for id, session := range tripChannel.sessions {
			if session.pingBefore(cutoff) {
				delete(tripChannel.sessions, id)
				expired = append(expired, session)
			}
		}
		tripChannel.mu.Unlock()

		for _, session := range expired {
			log.Debug().Str("trip", session.TripID).Str("user", session.UserID).Msg("Expired stale session")
			session.close()
		}
	}
}

// LatestSample returns the cached sample for a trip, primarily for the REST
// snapshot fallback.
func (b *Broker) LatestSample(tripID string) *model.LocationSample {
	b.mu.RLock()
	tripChannel := b.channels[tripID]
	b.mu.RUnlock()

	if tripChannel == nil {
		return nil
	}

	tripChannel.mu.Lock()
	defer tripChannel.mu.Unlock()

	return tripChannel.latestSample
}

// Stop closes every open channel concurrently.
func (b *Broker) Stop() {
	b.mu.Lock()
	channels := b.channels
	b.channels = map[string]*tripChannel{}
	b.mu.Unlock()

	var wg conc.WaitGroup
	for tripID, tripChannel := range channels {
		tripID, tripChannel := tripID, tripChannel
		wg.Go(func() {
			tripChannel.mu.Lock()
			sessions := tripChannel.sessions
			tripChannel.sessions = map[string]*Session{}
			tripChannel.mu.Unlock()

			for _, session := range sessions {
				session.close()
			}

			log.Debug().Str("trip", tripID).Msg("Closed trip channel on shutdown")
		})
	}
	wg.Wait()
}
