package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := s.Subscribe(ctx)
	ch2 := s.Subscribe(ctx)

	evt := StatusEvent{
		EngagementID: "e-1",
		ReferenceNo:  "REF-001",
		OldStatus:    "scheduled",
		NewStatus:    "approved",
		ActorID:      "c-1",
		Timestamp:    time.Now().UTC(),
	}
	s.Publish(evt)

	for _, ch := range []<-chan StatusEvent{ch1, ch2} {
		select {
		case got := <-ch:
			if got.EngagementID != "e-1" || got.NewStatus != "approved" {
				t.Fatalf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}

	// Publishing after the subscriber left must not panic or block.
	s.Publish(StatusEvent{EngagementID: "e-2"})
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		// Channel buffer is 16; publishing more must drop, not block.
		for i := 0; i < 64; i++ {
			s.Publish(StatusEvent{EngagementID: "e-3"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
