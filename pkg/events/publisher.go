package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/redact"
)

// Appender is the slice of the store the publisher writes through.
type Appender interface {
	CreateMission(ctx context.Context, mission *models.Mission) (*models.Event, error)
	AppendEvent(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error)
}

// Publisher is the single write path for mission events: payloads are
// scrubbed of secrets, appended to the store, then broadcast to live
// subscribers. Appends for one mission are serialized here so the broadcast
// order matches the log order.
type Publisher struct {
	store    Appender
	broker   *Broker
	scrubber *redact.Scrubber

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPublisher creates a publisher over the given store and broker.
func NewPublisher(store Appender, broker *Broker, scrubber *redact.Scrubber) *Publisher {
	return &Publisher{
		store:    store,
		broker:   broker,
		scrubber: scrubber,
		locks:    make(map[string]*sync.Mutex),
	}
}

// CreateMission registers a mission and broadcasts its MISSION_START event.
func (p *Publisher) CreateMission(ctx context.Context, mission *models.Mission) (*models.Event, error) {
	evt, err := p.store.CreateMission(ctx, mission)
	if err != nil {
		return nil, err
	}
	metrics.EventsAppended.WithLabelValues(string(evt.EventKind)).Inc()
	p.broker.Publish(evt)
	return evt, nil
}

// Append scrubs the payload, appends the event, and broadcasts it.
func (p *Publisher) Append(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error) {
	raw, err := p.scrubPayload(payload)
	if err != nil {
		return nil, err
	}

	lock := p.missionLock(missionID)
	lock.Lock()
	defer lock.Unlock()

	evt, err := p.store.AppendEvent(ctx, missionID, kind, raw)
	if err != nil {
		return nil, err
	}
	metrics.EventsAppended.WithLabelValues(string(kind)).Inc()
	p.broker.Publish(evt)
	return evt, nil
}

// scrubPayload marshals the payload and removes secret material before it
// can reach the durable log.
func (p *Publisher) scrubPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
	}
	if p.scrubber != nil {
		raw = p.scrubber.ScrubBytes(raw)
	}
	return raw, nil
}

// missionLock returns the per-mission append lock, creating it on first use.
func (p *Publisher) missionLock(missionID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[missionID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[missionID] = lock
	}
	return lock
}
