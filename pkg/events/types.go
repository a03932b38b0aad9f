// Package events provides real-time delivery of mission log events to
// websocket subscribers. Events are appended to the store first, then fanned
// out in-process; the store remains the source of truth and late subscribers
// catch up by replaying the log.
//
// Delivery contract per subscription:
//   - events arrive in sequence order, never duplicated
//   - under backpressure the oldest buffered events are dropped and a single
//     stream.gap marker tells the client where to resume from the log
package events

import "github.com/pathfind-io/pathfinder/pkg/models"

// Server → client message types.
const (
	MessageTypeEstablished     = "connection.established"
	MessageTypeEvent           = "event"
	MessageTypeGap             = "stream.gap"
	MessageTypeCatchupOverflow = "catchup.overflow"
	MessageTypePong            = "pong"
	MessageTypeError           = "error"
)

// ClientMessage is the JSON structure for client → server messages. The
// stream itself is one-way; clients may only ping.
type ClientMessage struct {
	Action string `json:"action"` // "ping"
}

// ServerMessage is the envelope for every server → client frame.
type ServerMessage struct {
	Type      string        `json:"type"`
	MissionID string        `json:"mission_id,omitempty"`
	Event     *models.Event `json:"event,omitempty"`

	// ResumeFrom is the sequence number clients should replay from after a
	// stream.gap or catchup.overflow.
	ResumeFrom int64  `json:"resume_from,omitempty"`
	Message    string `json:"message,omitempty"`
}

// StreamItem is one unit delivered on a broker subscription: either an event
// or a gap marker standing in for dropped events.
type StreamItem struct {
	Event *models.Event

	// Gap marks that events before ResumeFrom were dropped from this
	// subscription's buffer.
	Gap        bool
	ResumeFrom int64
}
