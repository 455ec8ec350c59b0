package domain

import (
	"encoding/json"
	"time"
)

// EventKind discriminates domain events.
type EventKind string

const (
	KindStreamStarted EventKind = "stream_started"
	KindStreamResumed EventKind = "stream_resumed" // stream came back within the blip grace window
	KindStreamStopped EventKind = "stream_stopped"
	KindReportReady   EventKind = "report_ready"
	KindFeedUpdated   EventKind = "feed_updated"
)

// Event is a domain event produced by a room controller. Delivery to
// consumers is at-least-once; handlers must be idempotent.
type Event interface {
	Kind() EventKind
	Room() int64
}

// StreamStarted is emitted when a genuinely new broadcast begins.
type StreamStarted struct {
	RoomID    int64     `json:"room_id"`
	UID       int64     `json:"uid"`
	Uname     string    `json:"uname"`
	Title     string    `json:"title"`
	Cover     string    `json:"cover"`
	StartTime time.Time `json:"start_time"`
}

func (e StreamStarted) Kind() EventKind { return KindStreamStarted }
func (e StreamStarted) Room() int64     { return e.RoomID }

// StreamResumed is emitted instead of StreamStarted when the streamer
// reconnects within the network-blip grace window.
type StreamResumed struct {
	RoomID int64 `json:"room_id"`
	UID    int64 `json:"uid"`
}

func (e StreamResumed) Kind() EventKind { return KindStreamResumed }
func (e StreamResumed) Room() int64     { return e.RoomID }

// StreamStopped is emitted when a broadcast ends.
type StreamStopped struct {
	RoomID  int64     `json:"room_id"`
	UID     int64     `json:"uid"`
	EndTime time.Time `json:"end_time"`
}

func (e StreamStopped) Kind() EventKind { return KindStreamStopped }
func (e StreamStopped) Room() int64     { return e.RoomID }

// ReportReady carries the finished session report emitted right after
// StreamStopped.
type ReportReady struct {
	RoomID int64  `json:"room_id"`
	Report Report `json:"report"`
}

func (e ReportReady) Kind() EventKind { return KindReportReady }
func (e ReportReady) Room() int64     { return e.RoomID }

// FeedUpdated forwards a social-feed post for a tracked streamer. It arrives
// through the out-of-band poller, never through the room socket, and mutates
// no statistics.
type FeedUpdated struct {
	RoomID int64           `json:"room_id"`
	UID    int64           `json:"uid"`
	FeedID string          `json:"feed_id"`
	Raw    json.RawMessage `json:"raw"`
}

func (e FeedUpdated) Kind() EventKind { return KindFeedUpdated }
func (e FeedUpdated) Room() int64     { return e.RoomID }

// Report is the per-session summary computed at stream stop.
type Report struct {
	RoomID    int64         `json:"room_id"`
	UID       int64         `json:"uid"`
	Uname     string        `json:"uname"`
	Title     string        `json:"title"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	ChatCount        int64   `json:"chat_count"`
	ChatParticipants int64   `json:"chat_participants"`
	BoxCount         int64   `json:"box_count"`
	BoxParticipants  int64   `json:"box_participants"`
	BoxProfit        float64 `json:"box_profit"`
	GiftProfit       float64 `json:"gift_profit"`
	GiftParticipants int64   `json:"gift_participants"`
	PaidProfit       float64 `json:"paid_profit"`
	PaidParticipants int64   `json:"paid_participants"`
	CaptainCount     int64   `json:"captain_count"`
	CommanderCount   int64   `json:"commander_count"`
	GovernorCount    int64   `json:"governor_count"`

	FansBefore      int64 `json:"fans_before"`
	FansAfter       int64 `json:"fans_after"`
	MedalFansBefore int64 `json:"medal_fans_before"`
	MedalFansAfter  int64 `json:"medal_fans_after"`
	GuardsBefore    int64 `json:"guards_before"`
	GuardsAfter     int64 `json:"guards_after"`
}
