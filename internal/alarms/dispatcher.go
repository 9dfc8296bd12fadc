package alarms

import (
	"context"
	"sync"
)

// Event is one published domain event: a topic name plus its typed payload.
type Event struct {
	Name    string
	Payload any
}

// Dispatcher is the in-process pub/sub bus for domain events. Delivery is
// best-effort: a subscriber that falls behind loses events rather than
// blocking the publisher, which relies on the next sync trigger to converge.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*dispatcherSubscriber
	nextID      int64
	bufferSize  int
}

type dispatcherSubscriber struct {
	id     int64
	topics map[string]struct{}
	stream chan Event
	done   chan struct{}
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*dispatcherSubscriber),
		bufferSize:  64,
	}
}

// Subscribe registers interest in the given topics (all topics when none are
// given) and returns the event stream plus a cleanup func. The subscription
// is also removed when ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, topics ...string) (<-chan Event, func()) {
	subscriber := &dispatcherSubscriber{
		stream: make(chan Event, d.bufferSize),
		done:   make(chan struct{}),
	}
	if len(topics) > 0 {
		subscriber.topics = make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			subscriber.topics[topic] = struct{}{}
		}
	}

	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, subscriber.id)
			d.mu.Unlock()
			close(subscriber.done)
		})
	}
	// The watcher must also exit on explicit cleanup, or it would park on a
	// non-cancellable context forever.
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-subscriber.done:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every matching subscriber without blocking.
func (d *Dispatcher) Publish(event Event) {
	if event.Name == "" {
		return
	}
	d.mu.RLock()
	targets := make([]*dispatcherSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		if subscriber.topics != nil {
			if _, ok := subscriber.topics[event.Name]; !ok {
				continue
			}
		}
		targets = append(targets, subscriber)
	}
	d.mu.RUnlock()

	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}
