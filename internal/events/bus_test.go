package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(4)
	ch := b.Subscribe("sub-1")

	b.Publish(Event{Type: TierChanged, AgentID: "agent-1", Summary: "tier changed to II"})

	select {
	case evt := <-ch:
		if evt.AgentID != "agent-1" {
			t.Fatalf("expected event for agent-1, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected to receive the published event")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBus(1)
	_ = b.Subscribe("sub-1")

	// Fill the buffered channel, then publish again: the second publish
	// must not block (non-blocking drop for a slow/unread subscriber).
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: TierChanged, Summary: "first"})
		b.Publish(Event{Type: TierChanged, Summary: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Publish to never block even when a subscriber's channel is full")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	ch := b.Subscribe("sub-1")
	b.Unsubscribe("sub-1")

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe")
	}

	if _, ok := <-ch; ok {
		t.Fatalf("expected the channel to be closed after unsubscribe")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := NewBus(4)
	b.Subscribe("a")
	b.Subscribe("b")
	if b.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.SubscriberCount())
	}
}
