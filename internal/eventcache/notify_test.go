package eventcache

import (
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	id string
	mu sync.Mutex
	got []Notification
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) Send(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingSubscriber) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	b := NewBus(nil)
	sub := &recordingSubscriber{id: "s1"}
	b.Subscribe(sub)

	b.Publish(Notification{Type: NotifyEventsStored, GroupID: "g1"})

	if sub.count() != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", sub.count())
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	sub := &recordingSubscriber{id: "s1"}
	b.Subscribe(sub)
	b.Unsubscribe("s1")

	b.Publish(Notification{Type: NotifyEventsStored})

	if sub.count() != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", sub.count())
	}
}

func TestBus_PublishAssignsIDAndTimestamp(t *testing.T) {
	b := NewBus(nil)
	sub := &recordingSubscriber{id: "s1"}
	b.Subscribe(sub)

	b.Publish(Notification{Type: NotifyError})

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.got[0].ID == "" {
		t.Error("expected Publish to assign a non-empty ID")
	}
	if sub.got[0].At.IsZero() {
		t.Error("expected Publish to assign a non-zero timestamp")
	}
}

func TestBus_PublishThrottledSuppressesRepeats(t *testing.T) {
	b := NewBus(nil)
	sub := &recordingSubscriber{id: "s1"}
	b.Subscribe(sub)

	b.PublishThrottled("g1", Notification{Type: NotifyMemoryPressure, Level: "high"})
	b.PublishThrottled("g1", Notification{Type: NotifyMemoryPressure, Level: "high"})

	if sub.count() != 1 {
		t.Fatalf("expected the second crossing to be throttled, got %d deliveries", sub.count())
	}
}

func TestBus_PublishThrottledDistinguishesKeys(t *testing.T) {
	b := NewBus(nil)
	sub := &recordingSubscriber{id: "s1"}
	b.Subscribe(sub)

	b.PublishThrottled("g1", Notification{Type: NotifyMemoryPressure})
	b.PublishThrottled("g2", Notification{Type: NotifyMemoryPressure})

	if sub.count() != 2 {
		t.Fatalf("distinct keys must not throttle each other, got %d deliveries", sub.count())
	}
}

func TestBus_PublishThrottledAllowsAfterInterval(t *testing.T) {
	b := NewBus(nil)
	sub := &recordingSubscriber{id: "s1"}
	b.Subscribe(sub)

	b.PublishThrottled("g1", Notification{Type: NotifyMemoryPressure})
	time.Sleep(1100 * time.Millisecond)
	b.PublishThrottled("g1", Notification{Type: NotifyMemoryPressure})

	if sub.count() != 2 {
		t.Fatalf("expected a second delivery after the throttle interval elapsed, got %d", sub.count())
	}
}
