// Package eventbus is an in-process publish/subscribe bus for pipeline
// lifecycle events: a single consumer goroutine drains a bounded queue and
// dispatches to subscribers, recovering and logging subscriber panics.
// Delivery is best-effort, at-most-once, and ordered per publisher.
package eventbus

import (
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/pkg/model"
)

const defaultQueueCapacity = 1024

// Subscriber receives every event published after it subscribes.
type Subscriber func(model.Event)

// Bus is a bounded-queue, single-consumer event bus. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       deque.Deque[model.Event]
	capacity    int
	subscribers []Subscriber
	closed      bool
	done        chan struct{}
}

// New builds a Bus with the given bounded queue capacity (0 uses the
// default) and starts its consumer loop.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	b := &Bus{capacity: capacity, done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.consumeLoop()
	return b
}

// Subscribe registers fn to receive all subsequent events.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish enqueues an event, constructing its wire envelope. If the queue
// is at capacity, Publish blocks (a bounded wait) until space frees up or
// the bus is closed.
func (b *Bus) Publish(eventType model.EventType, source string, data map[string]any) {
	evt := model.Event{Type: eventType, Data: data, Ts: time.Now().Unix(), Source: source}

	b.mu.Lock()
	for b.queue.Len() >= b.capacity && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue.PushBack(evt)
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *Bus) consumeLoop() {
	for {
		b.mu.Lock()
		for b.queue.Len() == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.queue.Len() == 0 && b.closed {
			b.mu.Unlock()
			close(b.done)
			return
		}
		evt := b.queue.PopFront()
		subs := make([]Subscriber, len(b.subscribers))
		copy(subs, b.subscribers)
		b.mu.Unlock()
		b.cond.Broadcast()

		for _, sub := range subs {
			b.dispatch(sub, evt)
		}
	}
}

func (b *Bus) dispatch(sub Subscriber, evt model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("eventbus subscriber panicked", "event_type", string(evt.Type), "recovered", r)
		}
	}()
	sub(evt)
}

// Close stops accepting new events, drains the remaining queue to
// subscribers, then returns once the consumer loop has exited.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	<-b.done
}
