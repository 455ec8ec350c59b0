package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/internal/stats"
	"github.com/mizuki-dev/starwatch/pkg/log"
	"github.com/mizuki-dev/starwatch/pkg/response"
)

// Roster exposes the tracked-room snapshot for the read-only API.
type Roster interface {
	Rooms() []domain.Room
}

// Handler serves the read-only statistics API. It never mutates anything:
// all writes flow through the room controllers.
type Handler struct {
	roster Roster
	store  stats.Store
}

// NewHandler creates a new HTTP handler.
func NewHandler(roster Roster, store stats.Store) *Handler {
	return &Handler{roster: roster, store: store}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.ListRooms)
			rooms.GET("/:id/stats", h.RoomStats)
			rooms.GET("/:id/rank/:counter", h.RoomRank)
		}
	}
}

// Health reports process liveness.
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// ListRooms returns every tracked room with its persisted live state.
func (h *Handler) ListRooms(c *gin.Context) {
	response.Success(c, h.roster.Rooms())
}

// RoomStats returns every counter for a room. scope selects session,
// lifetime, or the combined on-read view (default).
func (h *Handler) RoomStats(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}

	scope := c.DefaultQuery("scope", "combined")
	values := make(map[stats.Counter]float64, len(stats.Counters))
	for _, counter := range stats.Counters {
		var v float64
		switch scope {
		case "combined":
			v, err = h.store.CombinedValue(ctx, roomID, counter)
		case string(stats.ScopeSession):
			v, err = h.store.Value(ctx, stats.ScopeSession, roomID, counter)
		case string(stats.ScopeLifetime):
			v, err = h.store.Value(ctx, stats.ScopeLifetime, roomID, counter)
		default:
			response.BadRequest(c, "invalid scope")
			return
		}
		if err != nil {
			l.Error().Err(err).Int64(log.FieldRoomID, roomID).Msg("failed to read room stats")
			response.InternalError(c, "failed to read room stats")
			return
		}
		values[counter] = v
	}

	response.Success(c, gin.H{"room_id": roomID, "scope": scope, "counters": values})
}

// RoomRank returns a ranked viewer query for one counter. order=top|bottom,
// n bounds the result, viewer adds a single viewer's standing.
func (h *Handler) RoomRank(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}

	counter := stats.Counter(c.Param("counter"))
	if !validCounter(counter) {
		response.NotFound(c, "unknown counter")
		return
	}

	scope := stats.Scope(c.DefaultQuery("scope", string(stats.ScopeSession)))
	if scope != stats.ScopeSession && scope != stats.ScopeLifetime {
		response.BadRequest(c, "invalid scope")
		return
	}

	n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
	if err != nil || n < 1 || n > 100 {
		n = 10
	}

	var entries []stats.RankEntry
	switch c.DefaultQuery("order", "top") {
	case "top":
		entries, err = h.store.TopN(ctx, scope, roomID, counter, n)
	case "bottom":
		entries, err = h.store.BottomN(ctx, scope, roomID, counter, n)
	default:
		response.BadRequest(c, "invalid order")
		return
	}
	if err != nil {
		l.Error().Err(err).Int64(log.FieldRoomID, roomID).Msg("failed to read ranking")
		response.InternalError(c, "failed to read ranking")
		return
	}

	result := gin.H{"room_id": roomID, "counter": counter, "entries": entries}
	if viewer := c.Query("viewer"); viewer != "" {
		viewerID, err := strconv.ParseInt(viewer, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid viewer id")
			return
		}
		rank, err := h.store.ViewerRank(ctx, scope, roomID, counter, viewerID)
		if err != nil {
			l.Error().Err(err).Int64(log.FieldRoomID, roomID).Msg("failed to read viewer rank")
			response.InternalError(c, "failed to read viewer rank")
			return
		}
		if rank == nil {
			response.NotFound(c, "viewer not in ranking")
			return
		}
		result["viewer_rank"] = rank
	}

	response.Success(c, result)
}

func validCounter(c stats.Counter) bool {
	for _, known := range stats.Counters {
		if c == known {
			return true
		}
	}
	return false
}
