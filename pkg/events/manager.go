package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// EventLister replays persisted events for catchup. Implemented by the store.
type EventLister interface {
	ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]*models.Event, error)
}

// ConnectionManager owns the websocket side of the event stream: one
// connection subscribes to exactly one mission, receives a catchup replay
// from the log, then live events from the broker. The stream is one-way;
// clients may only ping.
type ConnectionManager struct {
	broker       *Broker
	lister       EventLister
	logger       *slog.Logger
	writeTimeout time.Duration
	catchupLimit int

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection represents a single websocket client.
type Connection struct {
	ID        string
	MissionID string
	Conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewConnectionManager creates a manager over the given broker and log.
func NewConnectionManager(broker *Broker, lister EventLister, logger *slog.Logger, writeTimeout time.Duration, catchupLimit int) *ConnectionManager {
	if catchupLimit < 1 {
		catchupLimit = 200
	}
	return &ConnectionManager{
		broker:       broker,
		lister:       lister,
		logger:       logger.With("component", "stream"),
		writeTimeout: writeTimeout,
		catchupLimit: catchupLimit,
		connections:  make(map[string]*Connection),
	}
}

// HandleConnection manages the lifecycle of one websocket connection. Called
// by the HTTP handler after upgrade; blocks until the connection closes.
// afterSeq is the client's last seen sequence number; zero replays the whole
// log.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, missionID string, afterSeq int64) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:        connID,
		MissionID: missionID,
		Conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.register(c)
	defer m.unregister(c)

	// Subscribe before catchup so events published during the replay are not
	// lost; the pump deduplicates by sequence number.
	sub := m.broker.Subscribe(missionID)
	defer m.broker.Unsubscribe(sub)

	m.sendJSON(c, ServerMessage{
		Type:      MessageTypeEstablished,
		MissionID: missionID,
	})

	delivered, ok := m.catchup(ctx, c, afterSeq)
	if !ok {
		return
	}

	// Writer pump: live events from the broker, skipping anything the
	// catchup already delivered.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			item, ok := sub.Next(ctx)
			if !ok {
				return
			}
			if item.Gap {
				m.sendJSON(c, ServerMessage{
					Type:       MessageTypeGap,
					MissionID:  missionID,
					ResumeFrom: item.ResumeFrom,
				})
				continue
			}
			if item.Event.SequenceNumber <= delivered {
				continue
			}
			delivered = item.Event.SequenceNumber
			if err := m.sendEvent(c, item.Event); err != nil {
				cancel()
				return
			}
		}
	}()

	// Read loop: detect close, answer pings.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			cancel()
			<-writeDone
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("invalid websocket message",
				"connection_id", connID, "error", err)
			continue
		}
		if msg.Action == "ping" {
			m.sendJSON(c, ServerMessage{Type: MessageTypePong})
		}
	}
}

// catchup replays persisted events after afterSeq. Returns the highest
// sequence delivered and whether the connection is still healthy. When more
// events are missed than the catchup limit, a catchup.overflow message tells
// the client to reload from the REST log instead of paginating here.
func (m *ConnectionManager) catchup(ctx context.Context, c *Connection, afterSeq int64) (int64, bool) {
	delivered := afterSeq
	if m.lister == nil {
		return delivered, true
	}

	events, err := m.lister.ListEvents(ctx, c.MissionID, afterSeq, m.catchupLimit+1)
	if err != nil {
		m.logger.Error("catchup query failed",
			"mission_id", c.MissionID, "error", err)
		m.sendJSON(c, ServerMessage{
			Type:      MessageTypeError,
			MissionID: c.MissionID,
			Message:   "catchup failed",
		})
		return delivered, true
	}

	hasMore := len(events) > m.catchupLimit
	if hasMore {
		events = events[:m.catchupLimit]
	}

	for _, evt := range events {
		if err := m.sendEvent(c, evt); err != nil {
			return delivered, false
		}
		delivered = evt.SequenceNumber
	}

	if hasMore {
		m.sendJSON(c, ServerMessage{
			Type:       MessageTypeCatchupOverflow,
			MissionID:  c.MissionID,
			ResumeFrom: delivered,
		})
	}
	return delivered, true
}

// ActiveConnections returns the count of open websocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// MissionConnections returns the count of connections streaming one mission.
func (m *ConnectionManager) MissionConnections(missionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.connections {
		if c.MissionID == missionID {
			n++
		}
	}
	return n
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendEvent(c *Connection, evt *models.Event) error {
	return m.send(c, ServerMessage{
		Type:      MessageTypeEvent,
		MissionID: c.MissionID,
		Event:     evt,
	})
}

func (m *ConnectionManager) sendJSON(c *Connection, msg ServerMessage) {
	if err := m.send(c, msg); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("failed to send websocket message",
			"connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) send(c *Connection, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
