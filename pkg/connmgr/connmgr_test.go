package connmgr

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/schoolrun/schoolrun/pkg/channel"
)

type fakeConn struct {
	incoming chan []byte
	writes   [][]byte
	mu       sync.Mutex
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload, ok := <-c.incoming:
		if !ok {
			return nil, errors.New("socket closed")
		}
		return payload, nil
	}
}

func (c *fakeConn) Write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.incoming)
	}
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, tripID string, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, &ConnectionError{Err: errors.New("refused")}
	}

	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// capturedTimer records scheduled reconnects and lets the test fire them
// synchronously instead of sleeping.
type timerCapture struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

func (tc *timerCapture) afterFunc(d time.Duration, f func()) *time.Timer {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.delays = append(tc.delays, d)
	tc.funcs = append(tc.funcs, f)
	return time.NewTimer(time.Hour)
}

func (tc *timerCapture) fireNext() bool {
	tc.mu.Lock()
	if len(tc.funcs) == 0 {
		tc.mu.Unlock()
		return false
	}
	f := tc.funcs[0]
	tc.funcs = tc.funcs[1:]
	tc.mu.Unlock()

	f()
	return true
}

func staticToken(token string) TokenSource {
	return func() string { return token }
}

func waitForState(t *testing.T, s *Subscription, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, stuck at %s", want, s.State())
}

func TestNoTokenNoAttempt(t *testing.T) {
	dialer := &fakeDialer{}
	s := NewSubscription("trip-1", dialer, staticToken(""), Listeners{})

	s.Start()

	if s.State() != StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", s.State())
	}
	if dialer.dialCount() != 0 {
		t.Errorf("expected no dial attempts, got %d", dialer.dialCount())
	}
}

func TestConnectResetsAttemptCounter(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	capture := &timerCapture{}

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{})
	s.afterFunc = capture.afterFunc

	s.Start()
	waitForState(t, s, StateReconnectWait)

	capture.fireNext()
	waitForState(t, s, StateReconnectWait)

	capture.fireNext()
	waitForState(t, s, StateConnected)

	s.mu.Lock()
	attempt := s.attempt
	s.mu.Unlock()
	if attempt != 0 {
		t.Errorf("expected attempt counter reset on connect, got %d", attempt)
	}
}

func TestBackoffSchedule(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	capture := &timerCapture{}

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{})
	s.afterFunc = capture.afterFunc

	s.Start()
	waitForState(t, s, StateReconnectWait)

	for capture.fireNext() {
		if s.State() == StateFailed {
			break
		}
	}

	waitForState(t, s, StateFailed)

	// attempt n waits min(2^n seconds, 30s)
	expected := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}

	capture.mu.Lock()
	delays := append([]time.Duration{}, capture.delays...)
	capture.mu.Unlock()

	if len(delays) != len(expected) {
		t.Fatalf("expected %d scheduled attempts, got %d (%v)", len(expected), len(delays), delays)
	}
	for i, want := range expected {
		if delays[i] != want {
			t.Errorf("attempt %d: expected delay %s, got %s", i+1, want, delays[i])
		}
	}

	// FAILED is terminal: no further automatic attempts.
	dialsAtFailure := dialer.dialCount()
	if capture.fireNext() {
		t.Error("expected no reconnect timers pending after FAILED")
	}
	if dialer.dialCount() != dialsAtFailure {
		t.Error("expected no dials after FAILED")
	}
}

func TestSocketCloseSchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	capture := &timerCapture{}

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{})
	s.afterFunc = capture.afterFunc

	s.Start()
	waitForState(t, s, StateConnected)

	// Non-user-initiated close mid-trip.
	dialer.conns[0].Close()
	waitForState(t, s, StateReconnectWait)

	capture.mu.Lock()
	delay := capture.delays[0]
	capture.mu.Unlock()

	if delay != 2*time.Second {
		t.Errorf("expected first retry at 2s, got %s", delay)
	}
}

func TestStopCancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{failures: 100}
	capture := &timerCapture{}

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{})
	s.afterFunc = capture.afterFunc

	s.Start()
	waitForState(t, s, StateReconnectWait)

	s.Stop()

	if s.State() != StateDisconnected {
		t.Errorf("expected DISCONNECTED after Stop, got %s", s.State())
	}

	dials := dialer.dialCount()
	capture.fireNext()
	time.Sleep(20 * time.Millisecond)
	if dialer.dialCount() != dials {
		t.Error("cancelled timer still dialled")
	}
}

type blockingDialer struct {
	dialStarted chan struct{}
	released    chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context, tripID string, token string) (Conn, error) {
	close(d.dialStarted)

	select {
	case <-ctx.Done():
		close(d.released)
		return nil, &ConnectionError{Err: ctx.Err()}
	case <-time.After(5 * time.Second):
		return nil, &ConnectionError{Err: errors.New("dial was never cancelled")}
	}
}

func TestStopAbortsHungDial(t *testing.T) {
	dialer := &blockingDialer{
		dialStarted: make(chan struct{}),
		released:    make(chan struct{}),
	}

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{})

	go s.Start()
	<-dialer.dialStarted

	s.Stop()

	select {
	case <-dialer.released:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the in-flight dial")
	}

	if s.State() != StateDisconnected {
		t.Errorf("expected DISCONNECTED after Stop, got %s", s.State())
	}
}

func TestTokenReReadOnRetry(t *testing.T) {
	dialer := &fakeDialer{failures: 1}
	capture := &timerCapture{}

	var mu sync.Mutex
	token := "first-token"

	s := NewSubscription("trip-1", dialer, func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	}, Listeners{})
	s.afterFunc = capture.afterFunc

	s.Start()
	waitForState(t, s, StateReconnectWait)

	mu.Lock()
	token = "refreshed-token"
	mu.Unlock()

	capture.fireNext()
	waitForState(t, s, StateConnected)
}

func TestListenersSurviveReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	capture := &timerCapture{}

	var mu sync.Mutex
	var received []float64

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{
		OnLocationUpdate: func(data *channel.LocationUpdateData) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, data.Latitude)
		},
	})
	s.afterFunc = capture.afterFunc

	s.Start()
	waitForState(t, s, StateConnected)

	locationFrame := func(latitude float64) []byte {
		return []byte(`{"type":"location_update","data":{"latitude":` +
			strconv.FormatFloat(latitude, 'f', -1, 64) + `,"longitude":0}}`)
	}

	dialer.conns[0].incoming <- locationFrame(1)

	// Drop the socket, reconnect, deliver on the new socket.
	dialer.conns[0].Close()
	waitForState(t, s, StateReconnectWait)
	capture.fireNext()
	waitForState(t, s, StateConnected)

	dialer.conns[1].incoming <- locationFrame(2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != 1 || received[1] != 2 {
		t.Errorf("listener missed updates across reconnect: %v", received)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	dialer := &fakeDialer{}

	s := NewSubscription("trip-1", dialer, staticToken("tok"), Listeners{})
	s.Start()
	waitForState(t, s, StateConnected)

	dialer.conns[0].incoming <- []byte(`{"type":"alien_message"}`)
	dialer.conns[0].incoming <- []byte(`not json at all`)

	time.Sleep(20 * time.Millisecond)
	if s.State() != StateConnected {
		t.Errorf("protocol error should not drop the session, state %s", s.State())
	}
}

