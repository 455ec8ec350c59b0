package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mizuki-dev/starwatch/internal/domain"
)

// ChannelRoomEvents is the per-room channel external consumers subscribe to.
const ChannelRoomEvents = "starwatch:room:%d:events"

// ChannelRoomEventsPattern matches every room's event channel.
const ChannelRoomEventsPattern = "starwatch:room:*:events"

// RoomEventsChannel returns the event channel name for one room.
func RoomEventsChannel(roomID int64) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}

// Envelope wraps a domain event for the wire. Delivery is at-least-once;
// consumers must be idempotent.
type Envelope struct {
	Kind      domain.EventKind `json:"kind"`
	RoomID    int64            `json:"room_id"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewEnvelope wraps a domain event with the current timestamp.
func NewEnvelope(event domain.Event) (*Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Kind:      event.Kind(),
		RoomID:    event.Room(),
		Payload:   payload,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload unmarshals the wrapped event into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher pushes domain events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Subscriber receives domain events published for rooms.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID int64) (<-chan *Envelope, error)
	SubscribeAll(ctx context.Context) (<-chan *Envelope, error)
}

// Bridge combines both directions of the external event stream.
type Bridge interface {
	Publisher
	Subscriber
	Close() error
}
