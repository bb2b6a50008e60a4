package connmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/channel"
)

type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateReconnectWait State = "RECONNECT_WAIT"
	StateFailed        State = "FAILED"
)

const (
	backoffBase       = 1 * time.Second
	backoffCap        = 30 * time.Second
	maxAttempts       = 5
	heartbeatInterval = 30 * time.Second
	pollInterval      = 30 * time.Second
)

// ConnectionError is a transport-level failure, retried with backoff. It
// never reaches the UI except as a connectivity indicator.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failure: %s", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Conn is one live socket to a trip channel.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer establishes a socket to a trip channel, presenting the bearer token
// as a connection parameter.
type Dialer interface {
	Dial(ctx context.Context, tripID string, token string) (Conn, error)
}

// TokenSource supplies the current bearer token. It is re-read before every
// connection attempt so a token refreshed after a failure is picked up on the
// next retry.
type TokenSource func() string

// PollFunc is the non-realtime fallback, fetching a trip_info-shaped snapshot
// from the REST query interface.
type PollFunc func(ctx context.Context, tripID string) (*channel.TripInfoData, error)

// Listeners survive reconnects: they belong to the Subscription, not to any
// transient socket.
type Listeners struct {
	OnTripInfo        func(*channel.TripInfoData)
	OnLocationUpdate  func(*channel.LocationUpdateData)
	OnAttendanceEvent func(*channel.AttendanceEventData)
	OnTripStatus      func(*channel.TripStatusData)
	OnStateChange     func(State)
}

// Subscription owns the lifecycle of one (viewer, trip) binding: at most one
// active socket and one pending reconnect timer at any time.
type Subscription struct {
	TripID string

	dialer    Dialer
	token     TokenSource
	listeners Listeners
	poll      PollFunc

	mu             sync.Mutex
	state          State
	attempt        int
	conn           Conn
	reconnectTimer *time.Timer
	generation     int
	stopped        bool
	cancelRead     context.CancelFunc
	pollCancel     context.CancelFunc

	// Overridable in tests.
	afterFunc     func(time.Duration, func()) *time.Timer
	heartbeatTick time.Duration
	pollTick      time.Duration
}

func NewSubscription(tripID string, dialer Dialer, token TokenSource, listeners Listeners) *Subscription {
	return &Subscription{
		TripID: tripID,

		dialer:    dialer,
		token:     token,
		listeners: listeners,

		state:         StateDisconnected,
		afterFunc:     time.AfterFunc,
		heartbeatTick: heartbeatInterval,
		pollTick:      pollInterval,
	}
}

// WithPollFallback sets the snapshot poller used once the reconnection budget
// is exhausted.
func (s *Subscription) WithPollFallback(poll PollFunc) *Subscription {
	s.poll = poll
	return s
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Subscription) setStateLocked(state State) {
	if s.state == state {
		return
	}

	s.state = state

	if s.listeners.OnStateChange != nil {
		go s.listeners.OnStateChange(state)
	}
}

// Start begins connecting and launches the heartbeat timer. A subscription
// with no token available stays DISCONNECTED and makes no attempt.
func (s *Subscription) Start() {
	s.mu.Lock()
	if s.stopped || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}

	if s.token() == "" {
		log.Debug().Str("trip", s.TripID).Msg("No auth token, staying disconnected")
		s.mu.Unlock()
		return
	}

	s.mu.Unlock()

	go s.heartbeatLoop()
	s.connect()
}

// Stop tears the subscription down: socket closed, pending reconnect timer
// cancelled, state back to DISCONNECTED. The attempt counter only resets with
// a fresh Subscription.
func (s *Subscription) Stop() {
	s.mu.Lock()

	s.stopped = true
	s.generation++

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}

	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}

	conn := s.conn
	s.conn = nil

	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Subscription) connect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	token := s.token()
	if token == "" {
		// Token refresh is external; wait for the next reconnect cycle.
		s.failureLocked()
		s.mu.Unlock()
		return
	}

	s.setStateLocked(StateConnecting)
	generation := s.generation

	// One context covers the dial and the read loop, so Stop can abort a
	// hung dial the same way it unblocks a read.
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRead = cancel
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.TripID, token)

	s.mu.Lock()
	if s.stopped || s.generation != generation {
		s.mu.Unlock()
		cancel()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Debug().Err(&ConnectionError{Err: err}).Str("trip", s.TripID).Msg("Connect attempt failed")
		cancel()
		s.cancelRead = nil
		s.failureLocked()
		s.mu.Unlock()
		return
	}

	s.conn = conn
	s.attempt = 0
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	go s.readLoop(ctx, conn, generation)
}

// failureLocked applies the backoff rules: attempt n waits min(1s*2^n, 30s)
// before the next CONNECTING; the budget exhausts at maxAttempts.
func (s *Subscription) failureLocked() {
	s.attempt++

	if s.attempt > maxAttempts {
		s.setStateLocked(StateFailed)
		s.startPollingLocked()
		return
	}

	delay := backoffBase << s.attempt
	if delay > backoffCap {
		delay = backoffCap
	}

	s.setStateLocked(StateReconnectWait)

	generation := s.generation
	s.reconnectTimer = s.afterFunc(delay, func() {
		s.mu.Lock()
		stale := s.stopped || s.generation != generation
		s.reconnectTimer = nil
		s.mu.Unlock()

		if !stale {
			s.connect()
		}
	})
}

func (s *Subscription) readLoop(ctx context.Context, conn Conn, generation int) {
	for {
		payload, err := conn.Read(ctx)
		if err != nil {
			conn.Close()

			s.mu.Lock()
			if s.stopped || s.generation != generation {
				s.mu.Unlock()
				return
			}

			s.conn = nil
			if s.cancelRead != nil {
				s.cancelRead()
				s.cancelRead = nil
			}
			s.failureLocked()
			s.mu.Unlock()
			return
		}

		s.dispatch(payload)
	}
}

func (s *Subscription) dispatch(payload []byte) {
	message, err := channel.Decode(payload)
	if err != nil {
		// Single bad frame: log and discard, the connection stays open.
		log.Warn().Err(err).Str("trip", s.TripID).Msg("Discarding channel message")
		return
	}

	switch message.Type {
	case channel.MessageTypeTripInfo:
		var data channel.TripInfoData
		if message.DecodeData(&data) == nil && s.listeners.OnTripInfo != nil {
			s.listeners.OnTripInfo(&data)
		}
	case channel.MessageTypeLocationUpdate:
		var data channel.LocationUpdateData
		if message.DecodeData(&data) == nil && s.listeners.OnLocationUpdate != nil {
			s.listeners.OnLocationUpdate(&data)
		}
	case channel.MessageTypeAttendanceEvent:
		var data channel.AttendanceEventData
		if message.DecodeData(&data) == nil && s.listeners.OnAttendanceEvent != nil {
			s.listeners.OnAttendanceEvent(&data)
		}
	case channel.MessageTypeTripStatus:
		var data channel.TripStatusData
		if message.DecodeData(&data) == nil && s.listeners.OnTripStatus != nil {
			s.listeners.OnTripStatus(&data)
		}
	case channel.MessageTypePong:
		// Heartbeat acknowledged, nothing to do.
	}
}

// heartbeatLoop runs independently of connection state but only sends while
// CONNECTED; with no open socket the ping is silently skipped.
func (s *Subscription) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeatTick)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		conn := s.conn
		connected := s.state == StateConnected
		s.mu.Unlock()

		if !connected || conn == nil {
			continue
		}

		ping := channel.Message{Type: channel.MessageTypePing}
		if err := conn.Write(context.Background(), ping.Encode()); err != nil {
			log.Debug().Err(err).Str("trip", s.TripID).Msg("Heartbeat write failed")
		}
	}
}

// startPollingLocked degrades to periodic snapshots once the reconnection
// budget is spent. The viewer keeps getting updates, just not live ones.
func (s *Subscription) startPollingLocked() {
	if s.poll == nil || s.pollCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel

	go func() {
		ticker := time.NewTicker(s.pollTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := s.poll(ctx, s.TripID)
				if err != nil {
					log.Debug().Err(err).Str("trip", s.TripID).Msg("Snapshot poll failed")
					continue
				}

				if s.listeners.OnTripInfo != nil {
					s.listeners.OnTripInfo(info)
				}
			}
		}
	}()
}
