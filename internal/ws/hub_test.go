package ws

import (
	"errors"
	"testing"
	"time"
)

type chanSubscriber struct {
	received chan []byte
	sendErr  error
	closed   chan struct{}
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{received: make(chan []byte, 8), closed: make(chan struct{}, 1)}
}

func (s *chanSubscriber) Send(payload []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.received <- payload
	return nil
}

func (s *chanSubscriber) Close() {
	select {
	case s.closed <- struct{}{}:
	default:
	}
}

func waitFor(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
		return nil
	}
}

func TestHubBroadcastsToTenantSubscribers(t *testing.T) {
	hub := NewHub(0)
	sub := newChanSubscriber()
	other := newChanSubscriber()
	hub.Register("t1", sub)
	hub.Register("t2", other)

	hub.Broadcast("t1", []byte(`{"type":"incident_created"}`))

	payload := waitFor(t, sub.received)
	if string(payload) != `{"type":"incident_created"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	select {
	case leaked := <-other.received:
		t.Fatalf("tenant t2 subscriber received t1 event: %s", leaked)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub(0)
	failing := newChanSubscriber()
	failing.sendErr = errors.New("write: broken pipe")
	healthy := newChanSubscriber()
	hub.Register("t1", failing)
	hub.Register("t1", healthy)

	hub.Broadcast("t1", []byte("event"))

	waitFor(t, healthy.received)
	select {
	case <-failing.closed:
	case <-time.After(time.Second):
		t.Fatalf("failing subscriber was not closed")
	}

	// A second broadcast must still reach the healthy subscriber only.
	hub.Broadcast("t1", []byte("event2"))
	waitFor(t, healthy.received)
}

type stuckSubscriber struct {
	entered chan struct{}
	release chan struct{}
}

func newStuckSubscriber() *stuckSubscriber {
	return &stuckSubscriber{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *stuckSubscriber) Send(payload []byte) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return nil
}

func (s *stuckSubscriber) Close() {}

func TestHubBroadcastNeverBlocksPublisher(t *testing.T) {
	hub := NewHub(1)
	sub := newStuckSubscriber()
	defer close(sub.release)
	hub.Register("t1", sub)

	// First event parks the run loop inside Send; second fills the buffer.
	hub.Broadcast("t1", []byte("e1"))
	select {
	case <-sub.entered:
	case <-time.After(time.Second):
		t.Fatalf("run loop never delivered the first event")
	}
	hub.Broadcast("t1", []byte("e2"))

	done := make(chan struct{})
	go func() {
		hub.Broadcast("t1", []byte("e3"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("publish blocked behind a stuck subscriber")
	}
	if hub.Dropped() == 0 {
		t.Fatalf("overflow event was not counted as dropped")
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(0)
	sub := newChanSubscriber()
	hub.Register("t1", sub)
	hub.Unregister("t1", sub)

	hub.Broadcast("t1", []byte("event"))
	select {
	case payload := <-sub.received:
		t.Fatalf("unregistered subscriber received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
