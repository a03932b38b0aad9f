package events

import (
	"context"
	"sync"

	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Broker is the in-process fan-out point for mission events. Each
// subscription gets a bounded buffer; slow consumers lose their oldest
// buffered events and receive a single gap marker instead of stalling the
// publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int

	dropped int64
}

// Subscription is one subscriber's view of a mission's event stream. Items
// are buffered in order; when the buffer overflows, the oldest event is
// evicted and a gap marker takes the front of the queue. At most one gap
// marker exists at a time, so a stalled client sees a single resume point.
// The buffer holds up to capacity events plus the marker.
type Subscription struct {
	missionID string
	capacity  int

	mu     sync.Mutex
	items  []StreamItem
	notify chan struct{}
	closed bool
}

// NewBroker creates a broker whose subscriptions buffer the given number of
// items.
func NewBroker(buffer int) *Broker {
	if buffer < 2 {
		buffer = 2
	}
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscription for a mission's events.
func (b *Broker) Subscribe(missionID string) *Subscription {
	sub := &Subscription{
		missionID: missionID,
		capacity:  b.buffer,
		notify:    make(chan struct{}, 1),
	}
	b.mu.Lock()
	if b.subs[missionID] == nil {
		b.subs[missionID] = make(map[*Subscription]struct{})
	}
	b.subs[missionID][sub] = struct{}{}
	b.mu.Unlock()

	metrics.StreamSubscribers.Inc()
	return sub
}

// Unsubscribe removes the subscription; a blocked Next returns immediately.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	set, ok := b.subs[sub.missionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, present := set[sub]; !present {
		b.mu.Unlock()
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.missionID)
	}
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.wake()
	metrics.StreamSubscribers.Dec()
}

// Publish delivers one event to every subscription of its mission. The
// caller serializes publishes per mission, so subscribers observe sequence
// order.
func (b *Broker) Publish(evt *models.Event) {
	b.mu.RLock()
	set := b.subs[evt.MissionID]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.push(evt) {
			b.recordDrop()
		}
	}
}

// push enqueues the event, evicting the oldest buffered event when the
// subscriber is behind. Returns true when an event was dropped.
func (s *Subscription) push(evt *models.Event) bool {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.wake()
	}()
	if s.closed {
		return false
	}

	dropped := false
	if len(s.items) >= s.capacity {
		dropped = true
		if s.items[0].Gap {
			// Merge into the existing marker: evict the event right after
			// it and move the resume point forward.
			s.items = append(s.items[:1], s.items[2:]...)
		} else {
			s.items[0] = StreamItem{Gap: true}
		}
		if len(s.items) > 1 {
			s.items[0].ResumeFrom = s.items[1].Event.SequenceNumber
		} else {
			s.items[0].ResumeFrom = evt.SequenceNumber
		}
	}
	s.items = append(s.items, StreamItem{Event: evt})
	return dropped
}

// Next blocks until an item is available, the context is cancelled, or the
// subscription is closed. The second return is false once the stream ends.
func (s *Subscription) Next(ctx context.Context) (StreamItem, bool) {
	for {
		s.mu.Lock()
		if len(s.items) > 0 {
			item := s.items[0]
			s.items = s.items[1:]
			s.mu.Unlock()
			return item, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return StreamItem{}, false
		}

		select {
		case <-ctx.Done():
			return StreamItem{}, false
		case <-s.notify:
		}
	}
}

// TryNext pops the next buffered item without blocking.
func (s *Subscription) TryNext() (StreamItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return StreamItem{}, false
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, true
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (b *Broker) recordDrop() {
	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
	metrics.StreamDropped.Inc()
}

// Dropped returns the total number of events evicted from subscriber buffers.
func (b *Broker) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// SubscriberCount returns the number of subscriptions for one mission.
func (b *Broker) SubscriberCount(missionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[missionID])
}

// TotalSubscribers returns the number of subscriptions across all missions.
func (b *Broker) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, set := range b.subs {
		total += len(set)
	}
	return total
}
