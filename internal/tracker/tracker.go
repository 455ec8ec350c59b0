package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mizuki-dev/starwatch/internal/controller"
	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/internal/feed"
	"github.com/mizuki-dev/starwatch/internal/gateway"
	"github.com/mizuki-dev/starwatch/internal/pubsub"
	"github.com/mizuki-dev/starwatch/internal/repository"
	"github.com/mizuki-dev/starwatch/internal/session"
	"github.com/mizuki-dev/starwatch/internal/stats"
	"github.com/mizuki-dev/starwatch/pkg/log"
)

// Gateway is the REST surface the tracker and its rooms consume.
// *gateway.Client satisfies it.
type Gateway interface {
	ResolveRoom(ctx context.Context, roomID int64) (*gateway.RoomPlay, error)
	ChatConf(ctx context.Context, roomID int64) (*gateway.ChatConf, error)
	RoomInfo(ctx context.Context, roomID int64) (*gateway.RoomInfo, error)
}

// Config tunes the tracker's startup behavior.
type Config struct {
	// StaggerDelay spaces out room connections at startup so the chat
	// gateway is not hit by a burst of simultaneous handshakes.
	StaggerDelay time.Duration
	// StartupWait bounds how long Start waits for rooms to establish before
	// proceeding with a warning.
	StartupWait time.Duration

	Session    session.Config
	Controller controller.Config
}

// Tracker owns one controller per tracked room. Rooms run independently and
// never block each other; the tracker only fans domain events out to the
// external bridge.
type Tracker struct {
	repo   repository.RoomRepository
	gw     Gateway
	store  stats.Store
	bridge pubsub.Publisher
	poller *feed.Poller
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	controllers map[int64]*controller.Controller
}

// New creates a tracker. bridge and poller may be nil to disable external
// event publishing or feed polling.
func New(repo repository.RoomRepository, gw Gateway, store stats.Store, bridge pubsub.Publisher, poller *feed.Poller, cfg Config) *Tracker {
	if cfg.StaggerDelay <= 0 {
		cfg.StaggerDelay = time.Second
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = time.Minute
	}
	return &Tracker{
		repo:        repo,
		gw:          gw,
		store:       store,
		bridge:      bridge,
		poller:      poller,
		cfg:         cfg,
		logger:      log.L().With().Str("component", "tracker").Logger(),
		controllers: make(map[int64]*controller.Controller),
	}
}

// Start loads the roster and connects every enabled room, staggering the
// handshakes, then waits for most rooms to establish.
func (t *Tracker) Start(ctx context.Context) error {
	rooms, err := t.repo.ListEnabled(ctx)
	if err != nil {
		return err
	}
	t.logger.Info().Int("rooms", len(rooms)).Msg("starting tracked rooms")

	for i := range rooms {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.cfg.StaggerDelay):
			}
		}
		t.startRoom(ctx, rooms[i])
	}

	t.awaitEstablished(ctx, len(rooms))
	return nil
}

func (t *Tracker) startRoom(ctx context.Context, room domain.Room) {
	r := room

	// Seed the live status from REST so the idempotency guards and the first
	// reconnect reconciliation have a trustworthy baseline.
	if play, err := t.gw.ResolveRoom(ctx, r.RoomID); err == nil {
		r.Status = play.LiveStatus
	} else {
		t.logger.Warn().Err(err).Int64(log.FieldRoomID, r.RoomID).Msg("live status seed failed, using persisted status")
	}

	sess := session.New(r.RoomID, t.gw, t.cfg.Session)
	ctrl := controller.New(&r, sess, t.gw, t.store, t.repo, t.publishEvent, t.cfg.Controller)
	if t.poller != nil {
		t.poller.Track(r.UID, ctrl.HandleFeed)
	}

	if err := ctrl.Start(ctx); err != nil {
		t.logger.Warn().Err(err).Int64(log.FieldRoomID, r.RoomID).Msg("room connect refused")
	}

	t.mu.Lock()
	t.controllers[r.UID] = ctrl
	t.mu.Unlock()
}

// publishEvent is the narrow callback handed to each controller. A bridge
// failure is logged and dropped; event delivery is at-least-once, not
// guaranteed.
func (t *Tracker) publishEvent(e domain.Event) {
	if t.bridge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.bridge.Publish(ctx, e); err != nil {
		t.logger.Warn().Err(err).
			Int64(log.FieldRoomID, e.Room()).
			Str("kind", string(e.Kind())).
			Msg("event publish failed")
	}
}

// awaitEstablished waits until every room's session is established or the
// startup wait elapses, in which case it logs a warning and proceeds.
func (t *Tracker) awaitEstablished(ctx context.Context, total int) {
	if total == 0 {
		return
	}
	deadline := time.Now().Add(t.cfg.StartupWait)
	for time.Now().Before(deadline) {
		if n := t.establishedCount(); n == total {
			t.logger.Info().Int("rooms", total).Msg("all rooms established")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	t.logger.Warn().
		Int("established", t.establishedCount()).
		Int("rooms", total).
		Msg("startup wait elapsed before all rooms established")
}

func (t *Tracker) establishedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.controllers {
		if c.Session().State() == session.StateEstablished {
			n++
		}
	}
	return n
}

// Controller returns the controller for a streamer uid, nil when untracked.
func (t *Tracker) Controller(uid int64) *controller.Controller {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.controllers[uid]
}

// Rooms returns a snapshot of every tracked room.
func (t *Tracker) Rooms() []domain.Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Room, 0, len(t.controllers))
	for _, c := range t.controllers {
		out = append(out, c.RoomSnapshot())
	}
	return out
}

// Stop disconnects every room.
func (t *Tracker) Stop() {
	t.mu.Lock()
	controllers := make([]*controller.Controller, 0, len(t.controllers))
	for _, c := range t.controllers {
		controllers = append(controllers, c)
	}
	t.mu.Unlock()

	for _, c := range controllers {
		if t.poller != nil {
			t.poller.Untrack(c.Room().UID)
		}
		if err := c.Stop(); err != nil && !errors.Is(err, session.ErrNotActive) {
			t.logger.Warn().Err(err).Int64(log.FieldRoomID, c.Room().RoomID).Msg("room disconnect failed")
		}
	}
	t.logger.Info().Msg("tracker stopped")
}
