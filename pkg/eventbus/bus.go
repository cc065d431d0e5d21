package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize bounds each subscriber's delivery queue when no size is
// configured. Overflow drops the oldest queued event and counts it.
const DefaultQueueSize = 256

type subscription struct {
	id         string
	eventTypes map[EventType]bool // nil means all types
	sessionID  string             // empty means all sessions
	queue      chan Event
	done       chan struct{}
	dropped    atomic.Uint64
}

// matches evaluates the subscription's filters. Both filters are permissive
// when unset; a subscription with no filters receives every event.
func (s *subscription) matches(e Event) bool {
	if s.eventTypes != nil && !s.eventTypes[e.Type] {
		return false
	}
	if s.sessionID != "" && e.SessionID != s.sessionID {
		return false
	}
	return true
}

// Bus fans events out to subscribers. Delivery to one subscriber never
// blocks the emitter or other subscribers: each subscription owns a bounded
// queue with a drop-oldest overflow policy.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*subscription
	queueSize int
	dropped   atomic.Uint64
}

// NewBus creates a bus with the given per-subscriber queue size.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[string]*subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a subscription and returns its id. A generated id is
// used when subscriberID is empty. eventTypes nil and sessionID empty mean
// "no filter".
func (b *Bus) Subscribe(subscriberID string, eventTypes []EventType, sessionID string) string {
	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}
	var filter map[EventType]bool
	if eventTypes != nil {
		filter = make(map[EventType]bool, len(eventTypes))
		for _, et := range eventTypes {
			filter[et] = true
		}
	}
	sub := &subscription{
		id:         subscriberID,
		eventTypes: filter,
		sessionID:  sessionID,
		queue:      make(chan Event, b.queueSize),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[subscriberID]; ok {
		close(old.done)
	}
	b.subs[subscriberID] = sub
	b.mu.Unlock()
	return subscriberID
}

// Unsubscribe removes a subscription, terminating any active Listen on it.
func (b *Bus) Unsubscribe(subscriberID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriberID]
	if !ok {
		return false
	}
	close(sub.done)
	delete(b.subs, subscriberID)
	return true
}

// UnsubscribeSession terminates every subscription filtered to the given
// session. Called when a session is destroyed, so listeners bound to it end
// immediately instead of waiting out their timeout.
func (b *Bus) UnsubscribeSession(sessionID string) int {
	if sessionID == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, sub := range b.subs {
		if sub.sessionID == sessionID {
			close(sub.done)
			delete(b.subs, id)
			removed++
		}
	}
	return removed
}

// IsSubscribed reports whether the subscription still exists. Listeners use
// it to tell a Listen timeout apart from an explicit unsubscribe.
func (b *Bus) IsSubscribed(subscriberID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[subscriberID]
	return ok
}

// Emit delivers the event to every matching subscription and returns how
// many matched. Events emitted from one goroutine are enqueued in call
// order, so a single subscriber observes one publisher's events in order.
func (b *Bus) Emit(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, sub := range b.subs {
		if !sub.matches(e) {
			continue
		}
		b.enqueue(sub, e)
		count++
	}
	return count
}

// Publish creates and emits an event in one step.
func (b *Bus) Publish(eventType EventType, sessionID string, data map[string]any) Event {
	e := NewEvent(eventType, sessionID, data)
	b.Emit(e)
	return e
}

// enqueue appends to the subscriber queue, evicting the oldest queued event
// on overflow so a stalled listener can never block the emitter.
func (b *Bus) enqueue(sub *subscription, e Event) {
	for {
		select {
		case sub.queue <- e:
			return
		default:
			select {
			case <-sub.queue:
				sub.dropped.Add(1)
				b.dropped.Add(1)
			default:
			}
		}
	}
}

// Listen yields queued events for a subscription. The returned channel
// closes when the timeout elapses with nothing queued (timeout <= 0 waits
// forever), when the subscription is removed, or when ctx is cancelled.
// After the channel closes, IsSubscribed distinguishes timeout from
// unsubscribe.
func (b *Bus) Listen(ctx context.Context, subscriberID string, timeout time.Duration) <-chan Event {
	out := make(chan Event)

	b.mu.RLock()
	sub, ok := b.subs[subscriberID]
	b.mu.RUnlock()
	if !ok {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		var timer *time.Timer
		if timeout > 0 {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		for {
			var timeoutC <-chan time.Time
			if timer != nil {
				timeoutC = timer.C
			}
			select {
			case e := <-sub.queue:
				select {
				case out <- e:
				case <-sub.done:
					return
				case <-ctx.Done():
					return
				}
				if timer != nil {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(timeout)
				}
			case <-timeoutC:
				return
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events a subscription has shed on overflow.
func (b *Bus) Dropped(subscriberID string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[subscriberID]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// DroppedTotal returns the bus-wide overflow counter, surfaced in the
// health query payload.
func (b *Bus) DroppedTotal() uint64 {
	return b.dropped.Load()
}

// Clear removes every subscription and returns how many were removed.
func (b *Bus) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := len(b.subs)
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	return count
}
