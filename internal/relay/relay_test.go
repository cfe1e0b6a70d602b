package relay

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestBroadcasterPublishesToSubscriber(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := broadcaster.Subscribe(ctx, TopicAlerts)
	defer cleanup()

	broadcaster.Publish(TopicAlerts, map[string]any{"message": "line down"})

	select {
	case received := <-stream:
		if received.Topic != TopicAlerts {
			t.Fatalf("expected topic %s, got %s", TopicAlerts, received.Topic)
		}
		payload, ok := received.Payload.(map[string]any)
		if !ok || payload["message"] != "line down" {
			t.Fatalf("unexpected payload: %#v", received.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestBroadcasterIsolatedByTopic(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobStream, jobCleanup := broadcaster.Subscribe(ctx, TopicJobs)
	defer jobCleanup()

	alertStream, alertCleanup := broadcaster.Subscribe(ctx, TopicAlerts)
	defer alertCleanup()

	broadcaster.Publish(TopicAlerts, "shift change")

	select {
	case <-jobStream:
		t.Fatal("did not expect event on unrelated topic")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-alertStream:
		if event.Payload != "shift change" {
			t.Fatalf("unexpected payload: %#v", event.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event on subscribed topic")
	}
}

func TestBroadcasterDeliversInPublishOrder(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := broadcaster.Subscribe(ctx, TopicProducts)
	defer cleanup()

	const total = 10
	for i := 0; i < total; i++ {
		broadcaster.Publish(TopicProducts, fmt.Sprintf("event-%d", i))
	}

	for i := 0; i < total; i++ {
		select {
		case event := <-stream:
			expected := fmt.Sprintf("event-%d", i)
			if event.Payload != expected {
				t.Fatalf("expected %s at position %d, got %#v", expected, i, event.Payload)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("missing event at position %d", i)
		}
	}
}

func TestBroadcasterDropsWhenSubscriberStalls(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := broadcaster.Subscribe(ctx, TopicProductCounts)
	defer cleanup()

	// Publish never blocks even when nothing drains the subscriber.
	for i := 0; i < defaultBufferSize*4; i++ {
		broadcaster.Publish(TopicProductCounts, i)
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received != defaultBufferSize {
				t.Fatalf("expected %d buffered events, got %d", defaultBufferSize, received)
			}
			return
		}
	}
}

func TestBroadcasterUnsubscribesOnContextDone(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := broadcaster.Subscribe(ctx, TopicJobs)
	defer cleanup()

	if count := broadcaster.SubscriberCount(TopicJobs); count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	cancel()

	deadline := time.After(time.Second)
	for broadcaster.SubscriberCount(TopicJobs) != 0 {
		select {
		case <-deadline:
			t.Fatal("expected subscriber removal after context cancellation")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBroadcasterDoesNotReplayAfterResubscribe(t *testing.T) {
	broadcaster := NewBroadcaster()
	ctx := context.Background()

	firstStream, firstCleanup := broadcaster.Subscribe(ctx, TopicJobs)
	broadcaster.Publish(TopicJobs, "before-disconnect")
	select {
	case received := <-firstStream:
		if received.Payload != "before-disconnect" {
			t.Fatalf("unexpected payload: %#v", received.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
	firstCleanup()

	// Published with no subscription open; must be gone forever.
	broadcaster.Publish(TopicJobs, "while-disconnected")

	secondStream, secondCleanup := broadcaster.Subscribe(ctx, TopicJobs)
	defer secondCleanup()
	broadcaster.Publish(TopicJobs, "after-reconnect")

	select {
	case received := <-secondStream:
		if received.Payload != "after-reconnect" {
			t.Fatalf("expected only post-resubscribe events, got %#v", received.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}

	select {
	case received := <-secondStream:
		t.Fatalf("expected no further events, got %#v", received.Payload)
	default:
	}
}
