package relay

import (
	"context"
	"sync"
	"time"
)

// Topic names an independent broadcast channel with its own subscriber set.
type Topic string

const (
	TopicJobs          Topic = "jobs"
	TopicProducts      Topic = "products"
	TopicProductCounts Topic = "product-counts"
	TopicAlerts        Topic = "alerts"
)

const defaultBufferSize = 16

// Event wraps a published payload together with its topic and publish time.
type Event struct {
	Topic       Topic
	Payload     any
	PublishedAt time.Time
}

// Broadcaster fans published events out to every open subscription on a topic.
// Delivery is best effort: a subscriber whose buffer is full misses the event
// rather than stalling the publisher or the other subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[int64]*subscription
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type subscription struct {
	id     int64
	stream chan Event
}

// NewBroadcaster constructs a Broadcaster with the default per-subscriber buffer.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[Topic]map[int64]*subscription),
		bufferSize:  defaultBufferSize,
		clock:       time.Now,
	}
}

// Subscribe registers a new stream on the topic. The returned channel receives
// every event published while the subscription is open, in publish order. The
// subscription is removed when the context is done or the cleanup func runs.
func (b *Broadcaster) Subscribe(ctx context.Context, topic Topic) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscription{
		id:     b.nextSequence(),
		stream: make(chan Event, b.bufferSize),
	}
	b.register(topic, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.unregister(topic, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the payload to every subscription currently open on the
// topic. It never blocks: a subscriber that cannot keep up drops the event.
func (b *Broadcaster) Publish(topic Topic, payload any) {
	if topic == "" || payload == nil {
		return
	}
	event := Event{Topic: topic, Payload: payload, PublishedAt: b.clock().UTC()}
	b.mu.RLock()
	subscribers := b.subscribers[topic]
	if len(subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	copies := make([]*subscription, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	b.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open subscriptions on the topic.
func (b *Broadcaster) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

func (b *Broadcaster) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broadcaster) register(topic Topic, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]*subscription)
	}
	b.subscribers[topic][sub.id] = sub
}

func (b *Broadcaster) unregister(topic Topic, subscriberID int64) {
	b.mu.Lock()
	subscribers := b.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(b.subscribers, topic)
		}
	}
	b.mu.Unlock()
}
