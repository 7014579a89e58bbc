// internal/app/system/realtime/frames.go
package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dalemusser/ridechat/internal/domain/models"
)

// Inbound frame types.
const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeLeave   = "leave"
)

// Outbound event types.
const (
	EventJoined  = "joined"
	EventLeft    = "left"
	EventMessage = "message"
	EventHistory = "history"
	EventError   = "error"
)

// ErrMalformedFrame is returned by DecodeFrame for payloads that are not a
// JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded inbound frame. The concrete type is one of
// FrameJoin, FrameMessage, FrameLeave or FrameUnknown.
type Frame interface {
	frameType() string
}

// FrameJoin asks to subscribe to a ride's chat.
type FrameJoin struct {
	RideID string
}

// FrameMessage carries a chat message for the joined ride.
type FrameMessage struct {
	Content string
	Kind    string
}

// FrameLeave unsubscribes from the joined ride.
type FrameLeave struct{}

// FrameUnknown is any well-formed frame with an unrecognized type.
type FrameUnknown struct {
	Type string
}

func (FrameJoin) frameType() string { return TypeJoin }
func (FrameMessage) frameType() string { return TypeMessage }
func (FrameLeave) frameType() string { return TypeLeave }
func (f FrameUnknown) frameType() string {
	return f.Type
}

type rawFrame struct {
	Type    string `json:"type"`
	RideID  string `json:"rideId"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

// DecodeFrame parses one inbound frame.
func DecodeFrame(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrMalformedFrame
	}
	switch raw.Type {
	case TypeJoin:
		return FrameJoin{RideID: raw.RideID}, nil
	case TypeMessage:
		return FrameMessage{Content: raw.Content, Kind: raw.Kind}, nil
	case TypeLeave:
		return FrameLeave{}, nil
	default:
		return FrameUnknown{Type: raw.Type}, nil
	}
}

// MessagePayload is the wire form of a chat message.
type MessagePayload struct {
	ID        string    `json:"id"`
	RideID    string    `json:"rideId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
}

// NewMessagePayload converts a persisted message for the wire.
func NewMessagePayload(m models.ChatMessage) MessagePayload {
	return MessagePayload{
		ID:        m.ID.Hex(),
		RideID:    m.RideID.Hex(),
		UserID:    m.UserID.Hex(),
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Kind:      m.Kind,
	}
}

// RideEvent is sent for joined and left.
type RideEvent struct {
	Type   string `json:"type"`
	RideID string `json:"rideId"`
}

// MessageEvent delivers one chat message.
type MessageEvent struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// HistoryEvent replays recent messages after a join, oldest first.
type HistoryEvent struct {
	Type     string           `json:"type"`
	RideID   string           `json:"rideId"`
	Messages []MessagePayload `json:"messages"`
}

// ErrorEvent reports a recoverable failure to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func joinedEvent(rideID string) RideEvent { return RideEvent{Type: EventJoined, RideID: rideID} }
func leftEvent(rideID string) RideEvent { return RideEvent{Type: EventLeft, RideID: rideID} }
func errorEvent(msg string) ErrorEvent { return ErrorEvent{Type: EventError, Message: msg} }

func messageEvent(m models.ChatMessage) MessageEvent {
	return MessageEvent{Type: EventMessage, Message: NewMessagePayload(m)}
}

func historyEvent(rideID string, msgs []models.ChatMessage) HistoryEvent {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessagePayload(m))
	}
	return HistoryEvent{Type: EventHistory, RideID: rideID, Messages: out}
}
