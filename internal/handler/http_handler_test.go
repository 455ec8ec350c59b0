package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/internal/stats"
)

type fakeRoster struct {
	rooms []domain.Room
}

func (f *fakeRoster) Rooms() []domain.Room { return f.rooms }

func newTestRouter(t *testing.T, store stats.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	roster := &fakeRoster{rooms: []domain.Room{{UID: 7, Uname: "streamer", RoomID: 42}}}
	NewHandler(roster, store).RegisterRoutes(r)
	return r
}

func doGet(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)

	var body struct {
		Success bool                       `json:"success"`
		Data    map[string]json.RawMessage `json:"data"`
	}
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return w, body.Data
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, stats.NewMemoryStore())
	w, _ := doGet(t, r, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRoomStatsCombinedView(t *testing.T) {
	store := stats.NewMemoryStore()
	ctx := context.Background()
	store.IncrSession(ctx, 42, stats.CounterChat, 5)
	store.FoldSessionIntoLifetime(ctx, 42)
	store.ResetSession(ctx, 42)
	store.IncrSession(ctx, 42, stats.CounterChat, 3)

	r := newTestRouter(t, store)
	w, data := doGet(t, r, "/api/v1/rooms/42/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var counters map[stats.Counter]float64
	if err := json.Unmarshal(data["counters"], &counters); err != nil {
		t.Fatalf("decode counters: %v", err)
	}
	if counters[stats.CounterChat] != 8 {
		t.Errorf("combined chat = %v, want 8", counters[stats.CounterChat])
	}
}

func TestRoomStatsRejectsBadScope(t *testing.T) {
	r := newTestRouter(t, stats.NewMemoryStore())
	w, _ := doGet(t, r, "/api/v1/rooms/42/stats?scope=bogus")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRoomRankTopN(t *testing.T) {
	store := stats.NewMemoryStore()
	ctx := context.Background()
	store.IncrSessionViewer(ctx, 42, stats.CounterChat, 100, 50)
	store.IncrSessionViewer(ctx, 42, stats.CounterChat, 200, 30)
	store.IncrSessionViewer(ctx, 42, stats.CounterChat, 300, 10)

	r := newTestRouter(t, store)
	w, data := doGet(t, r, "/api/v1/rooms/42/rank/chat?n=2&viewer=200")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var entries []stats.RankEntry
	if err := json.Unmarshal(data["entries"], &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 2 || entries[0].ViewerID != 100 || entries[1].ViewerID != 200 {
		t.Errorf("entries = %+v, want viewers 100, 200", entries)
	}

	var rank stats.RankInfo
	if err := json.Unmarshal(data["viewer_rank"], &rank); err != nil {
		t.Fatalf("decode viewer_rank: %v", err)
	}
	if rank.Position != 2 || rank.ScoresAhead != 1 || rank.Gap != 20 {
		t.Errorf("viewer_rank = %+v, want position 2, 1 ahead, gap 20", rank)
	}
}

func TestRoomRankUnknownCounter(t *testing.T) {
	r := newTestRouter(t, stats.NewMemoryStore())
	w, _ := doGet(t, r, "/api/v1/rooms/42/rank/bogus")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
