package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "starwatch-test", 2*time.Second)
}

func TestResolveRoom(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathRoomPlayInfo {
			t.Errorf("path = %q, want %q", r.URL.Path, pathRoomPlayInfo)
		}
		if got := r.URL.Query().Get("room_id"); got != "42" {
			t.Errorf("room_id = %q, want 42", got)
		}
		w.Write([]byte(`{"code":0,"data":{"room_id":4200,"uid":77,"live_status":1,"live_time":1700000000}}`))
	})

	play, err := c.ResolveRoom(context.Background(), 42)
	if err != nil {
		t.Fatalf("ResolveRoom() error = %v", err)
	}
	if play.RealRoomID != 4200 || play.UID != 77 || !play.LiveStatus.IsLive() {
		t.Errorf("ResolveRoom() = %+v", play)
	}
}

func TestChatConf(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"token":"tok","host_list":[{"host":"a.example.com","wss_port":443},{"host":"b.example.com","wss_port":2245}]}}`))
	})

	conf, err := c.ChatConf(context.Background(), 42)
	if err != nil {
		t.Fatalf("ChatConf() error = %v", err)
	}
	if conf.Token != "tok" || len(conf.Hosts) != 2 {
		t.Fatalf("ChatConf() = %+v", conf)
	}
	if got, want := conf.Hosts[1].URL(), "wss://b.example.com:2245/sub"; got != want {
		t.Errorf("Host.URL() = %q, want %q", got, want)
	}
}

func TestRoomInfoMissingMedal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{
			"room_info":{"title":"t","cover":"c","live_start_time":1700000000},
			"anchor_info":{"base_info":{"uname":"u"},"relation_info":{"attention":9},"medal_info":null},
			"guard_info":{"count":3}}}`))
	})

	info, err := c.RoomInfo(context.Background(), 42)
	if err != nil {
		t.Fatalf("RoomInfo() error = %v", err)
	}
	if info.Uname != "u" || info.Fans != 9 || info.Guards != 3 || info.MedalFans != 0 {
		t.Errorf("RoomInfo() = %+v", info)
	}
	if info.LiveStartTime.Unix() != 1700000000 {
		t.Errorf("LiveStartTime = %v", info.LiveStartTime)
	}
}

func TestGatewayCodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-412,"message":"rate limited"}`))
	})

	_, err := c.ResolveRoom(context.Background(), 42)
	var lerr *LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("error = %v, want LookupError", err)
	}
	if lerr.Code != -412 {
		t.Errorf("code = %d, want -412", lerr.Code)
	}
}

func TestRecentFeedsSkipsEntriesWithoutID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"items":[{"id_str":"f2","modules":{}},{"modules":{}},{"id_str":"f1"}]}}`))
	})

	feeds, err := c.RecentFeeds(context.Background(), 77)
	if err != nil {
		t.Fatalf("RecentFeeds() error = %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("len(feeds) = %d, want 2", len(feeds))
	}
	if feeds[0].ID != "f2" || feeds[1].ID != "f1" {
		t.Errorf("feed ids = %q, %q", feeds[0].ID, feeds[1].ID)
	}
}
