package broker

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/channel"
	"github.com/schoolrun/schoolrun/pkg/model"
)

const relayChannelPrefix = "channel:trip:"

// TripLoader resolves a trip document when the relay sees traffic for a trip
// this broker has no channel for yet.
type TripLoader interface {
	Trip(tripID string) *model.Trip
}

// Relay feeds channel messages published by other processes (tracker, events,
// dbwatch) into an in-process broker via redis pub/sub.
type Relay struct {
	Broker *Broker
	Client *redis.Client
	Trips  TripLoader
}

// PublishMessage sends a channel message towards every broker instance
// relaying the trip.
func PublishMessage(ctx context.Context, client *redis.Client, tripID string, message channel.Message) error {
	return client.Publish(ctx, relayChannelPrefix+tripID, message.Encode()).Err()
}

// Run blocks consuming the relay subscription until the context is cancelled.
// A malformed payload is logged and skipped; it never stops the relay.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.Client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case received, ok := <-pubsub.Channel():
			if !ok {
				return
			}

			r.handle(received.Channel, []byte(received.Payload))
		}
	}
}

func (r *Relay) handle(redisChannel string, payload []byte) {
	tripID := strings.TrimPrefix(redisChannel, relayChannelPrefix)

	message, err := channel.Decode(payload)
	if err != nil {
		log.Error().Err(err).Str("trip", tripID).Msg("Discarding relayed message")
		return
	}

	if message.Type == channel.MessageTypeTripStatus {
		r.handleStatus(tripID, message)
		return
	}

	err = r.Broker.Publish(tripID, message)

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		// No channel yet - open one if the trip is genuinely live.
		if trip := r.loadActiveTrip(tripID); trip != nil {
			r.Broker.OpenTrip(trip)
			r.Broker.Publish(tripID, message)
		}
	}
}

func (r *Relay) handleStatus(tripID string, message channel.Message) {
	var data channel.TripStatusData
	if err := message.DecodeData(&data); err != nil {
		log.Error().Err(err).Str("trip", tripID).Msg("Discarding relayed trip_status")
		return
	}

	switch model.TripStatus(data.Status) {
	case model.TripStatusCompleted, model.TripStatusCancelled:
		r.Broker.CloseTrip(tripID, model.TripStatus(data.Status))
	case model.TripStatusInProgress:
		if trip := r.loadActiveTrip(tripID); trip != nil {
			r.Broker.OpenTrip(trip)
		}
		r.Broker.Publish(tripID, message)
	default:
		r.Broker.Publish(tripID, message)
	}
}

func (r *Relay) loadActiveTrip(tripID string) *model.Trip {
	if r.Trips == nil {
		return nil
	}

	trip := r.Trips.Trip(tripID)
	if trip == nil || !trip.Active() {
		return nil
	}

	return trip
}
