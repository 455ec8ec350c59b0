package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mizuki-dev/starwatch/internal/domain"
)

// LookupError reports a failed REST lookup against the live gateway. The
// caller decides whether to retry (handshake, reconciliation) or skip.
type LookupError struct {
	Endpoint string
	Code     int
	Err      error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("lookup %s failed: gateway code %d", e.Endpoint, e.Code)
}

func (e *LookupError) Unwrap() error { return e.Err }

const (
	pathRoomPlayInfo = "/xlive/web-room/v1/index/getRoomPlayInfo"
	pathDanmuInfo    = "/xlive/web-room/v1/index/getDanmuInfo"
	pathInfoByRoom   = "/xlive/web-room/v1/index/getInfoByRoom"
	pathFeedSpace    = "/x/polymer/web-dynamic/v1/feed/space"
)

// RoomPlay is the resolved identity and live state of a room.
type RoomPlay struct {
	RealRoomID int64             `json:"room_id"`
	UID        int64             `json:"uid"`
	LiveStatus domain.LiveStatus `json:"live_status"`
	LiveTime   int64             `json:"live_time"`
}

// Host is one chat-gateway host candidate.
type Host struct {
	Host    string `json:"host"`
	WssPort int    `json:"wss_port"`
}

// URL returns the WebSocket endpoint for this host.
func (h Host) URL() string {
	return fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WssPort)
}

// ChatConf is the chat-gateway connection config for a room.
type ChatConf struct {
	Token string `json:"token"`
	Hosts []Host `json:"host_list"`
}

// RoomInfo is the presentation state of a room: title, cover, and the fan
// counters snapshotted at stream start for report deltas.
type RoomInfo struct {
	Uname         string
	Title         string
	Cover         string
	LiveStartTime time.Time
	Fans          int64
	MedalFans     int64
	Guards        int64
}

// FeedEntry is one social-feed post for a tracked streamer.
type FeedEntry struct {
	UID int64
	ID  string
	Raw json.RawMessage
}

// Client talks to the live gateway's REST API. Concurrent identical lookups
// are collapsed through singleflight so a burst of reconnecting rooms does
// not stampede the gateway.
type Client struct {
	base      string
	userAgent string
	http      *http.Client
	sf        singleflight.Group
}

// NewClient creates a lookup client against the given API base URL.
func NewClient(base, userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:      base,
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

// ResolveRoom resolves a display room id to its real room id, owner uid and
// current live status.
func (c *Client) ResolveRoom(ctx context.Context, roomID int64) (*RoomPlay, error) {
	key := fmt.Sprintf("play:%d", roomID)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		var out RoomPlay
		q := url.Values{"room_id": {strconv.FormatInt(roomID, 10)}}
		if err := c.get(ctx, pathRoomPlayInfo, q, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RoomPlay), nil
}

// ChatConf resolves the chat-gateway host candidates and auth token for a
// room.
func (c *Client) ChatConf(ctx context.Context, roomID int64) (*ChatConf, error) {
	key := fmt.Sprintf("conf:%d", roomID)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		var out ChatConf
		q := url.Values{"id": {strconv.FormatInt(roomID, 10)}}
		if err := c.get(ctx, pathDanmuInfo, q, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChatConf), nil
}

// roomInfoPayload mirrors the gateway's nested getInfoByRoom response.
type roomInfoPayload struct {
	RoomInfo struct {
		Title         string `json:"title"`
		Cover         string `json:"cover"`
		LiveStartTime int64  `json:"live_start_time"`
	} `json:"room_info"`
	AnchorInfo struct {
		BaseInfo struct {
			Uname string `json:"uname"`
		} `json:"base_info"`
		RelationInfo struct {
			Attention int64 `json:"attention"`
		} `json:"relation_info"`
		MedalInfo *struct {
			Fansclub int64 `json:"fansclub"`
		} `json:"medal_info"`
	} `json:"anchor_info"`
	GuardInfo struct {
		Count int64 `json:"count"`
	} `json:"guard_info"`
}

// RoomInfo fetches title, cover and fan counters for a room.
func (c *Client) RoomInfo(ctx context.Context, roomID int64) (*RoomInfo, error) {
	var payload roomInfoPayload
	q := url.Values{"room_id": {strconv.FormatInt(roomID, 10)}}
	if err := c.get(ctx, pathInfoByRoom, q, &payload); err != nil {
		return nil, err
	}

	info := &RoomInfo{
		Uname:  payload.AnchorInfo.BaseInfo.Uname,
		Title:  payload.RoomInfo.Title,
		Cover:  payload.RoomInfo.Cover,
		Fans:   payload.AnchorInfo.RelationInfo.Attention,
		Guards: payload.GuardInfo.Count,
	}
	if payload.RoomInfo.LiveStartTime > 0 {
		info.LiveStartTime = time.Unix(payload.RoomInfo.LiveStartTime, 0)
	}
	if payload.AnchorInfo.MedalInfo != nil {
		info.MedalFans = payload.AnchorInfo.MedalInfo.Fansclub
	}
	return info, nil
}

// RecentFeeds returns the latest social-feed posts for one streamer, newest
// first.
func (c *Client) RecentFeeds(ctx context.Context, uid int64) ([]FeedEntry, error) {
	var payload struct {
		Items []json.RawMessage `json:"items"`
	}
	q := url.Values{"host_mid": {strconv.FormatInt(uid, 10)}}
	if err := c.get(ctx, pathFeedSpace, q, &payload); err != nil {
		return nil, err
	}

	entries := make([]FeedEntry, 0, len(payload.Items))
	for _, raw := range payload.Items {
		var meta struct {
			IDStr string `json:"id_str"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil || meta.IDStr == "" {
			continue
		}
		entries = append(entries, FeedEntry{UID: uid, ID: meta.IDStr, Raw: raw})
	}
	return entries, nil
}

// envelope is the gateway's standard {code, message, data} response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return &LookupError{Endpoint: path, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &LookupError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &LookupError{Endpoint: path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &LookupError{Endpoint: path, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &LookupError{Endpoint: path, Err: err}
	}
	if env.Code != 0 {
		return &LookupError{Endpoint: path, Code: env.Code, Err: fmt.Errorf("%s", env.Message)}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &LookupError{Endpoint: path, Err: err}
	}
	return nil
}
