package domain

import (
	"time"
)

// LiveStatus is the gateway's live status code for a room.
type LiveStatus int

const (
	LiveStatusOff      LiveStatus = 0
	LiveStatusLive     LiveStatus = 1
	LiveStatusCarousel LiveStatus = 2 // rebroadcast loop; treated as off for statistics
)

// IsLive reports whether the room is actively broadcasting.
func (s LiveStatus) IsLive() bool { return s == LiveStatusLive }

// Room is one tracked streamer's room. It is owned by the tracker and
// mutated only by the controller that runs it.
type Room struct {
	UID    int64  `json:"uid"`
	Uname  string `json:"uname"`
	RoomID int64  `json:"room_id"`

	// Status is the last persisted live status, used for idempotency guards
	// and reconnect reconciliation.
	Status LiveStatus `json:"status"`

	// LastEndAt is the last persisted stream-end time; compared against the
	// blip grace window on the next stream-start notice.
	LastEndAt time.Time `json:"last_end_at"`

	// Reconnected flips to true after the first successful handshake so later
	// handshakes are treated as recovered connections.
	Reconnected bool `json:"-"`
}
