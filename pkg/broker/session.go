package broker

import (
	"sync"
	"time"

	"github.com/schoolrun/schoolrun/pkg/channel"
)

const sessionBufferSize = 64

// Session is one viewer's live binding to a trip channel. Outbound messages
// go through a fixed-size buffer; a full buffer drops the message rather than
// stalling the publisher.
type Session struct {
	ID     string
	TripID string
	UserID string

	send chan channel.Message

	mu       sync.Mutex
	closed   bool
	lastPing time.Time

	dropped uint64
}

func newSession(id string, tripID string, userID string, now time.Time) *Session {
	return &Session{
		ID:     id,
		TripID: tripID,
		UserID: userID,

		send:     make(chan channel.Message, sessionBufferSize),
		lastPing: now,
	}
}

// Messages is the transport-facing side of the session. The channel is closed
// when the session ends.
func (s *Session) Messages() <-chan channel.Message {
	return s.send
}

func (s *Session) enqueue(message channel.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.send <- message:
	default:
		// Slow consumer, drop instead of blocking the publisher.
		s.dropped++
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.send)
}

func (s *Session) recordPing(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPing = now
}

func (s *Session) pingBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastPing.Before(cutoff)
}

// Dropped reports how many messages were discarded because this session's
// buffer was full.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropped
}
