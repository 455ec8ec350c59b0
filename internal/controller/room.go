package controller

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/internal/gateway"
	"github.com/mizuki-dev/starwatch/internal/session"
	"github.com/mizuki-dev/starwatch/internal/stats"
	"github.com/mizuki-dev/starwatch/pkg/log"
)

const restTimeout = 10 * time.Second

// Lookup is the REST surface the controller needs for reconciliation and
// report metadata. *gateway.Client satisfies it.
type Lookup interface {
	ResolveRoom(ctx context.Context, roomID int64) (*gateway.RoomPlay, error)
	RoomInfo(ctx context.Context, roomID int64) (*gateway.RoomInfo, error)
}

// Recorder persists a room's live state across restarts. A nil Recorder keeps
// state in memory only.
type Recorder interface {
	SaveLiveState(ctx context.Context, uid int64, status domain.LiveStatus, lastEndAt time.Time) error
}

// Publisher receives every domain event the controller emits. Delivery is
// at-least-once; consumers must be idempotent.
type Publisher func(domain.Event)

// Counts selects which notice categories feed the statistics store. A
// category nobody consumes can be switched off to skip its store round trips.
type Counts struct {
	Chat   bool
	Gifts  bool
	Paid   bool
	Guards bool
}

// Config tunes one room controller.
type Config struct {
	// GraceWindow distinguishes a genuine new broadcast from a brief
	// network-blip reconnect: a start notice within this window of the last
	// recorded end is a resume, not a new stream.
	GraceWindow time.Duration
	Counts      Counts
}

// Controller owns one room's session, translates gateway notices into domain
// events, and keeps the statistics store current. All notice handling for a
// room is serialized; rooms never block each other.
type Controller struct {
	room    *domain.Room
	sess    *session.Session
	lookup  Lookup
	store   stats.Store
	rec     Recorder
	publish Publisher
	cfg     Config
	logger  zerolog.Logger

	// mu serializes notice handling with the fold+reset critical section.
	mu        sync.Mutex
	startTime time.Time
	baseline  *gateway.RoomInfo

	now func() time.Time
}

// New wires a controller to its session's event bus. Call before Start so no
// frame arrives unhandled.
func New(room *domain.Room, sess *session.Session, lookup Lookup, store stats.Store, rec Recorder, publish Publisher, cfg Config) *Controller {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 3 * time.Minute
	}
	if cfg.Counts == (Counts{}) {
		cfg.Counts = Counts{Chat: true, Gifts: true, Paid: true, Guards: true}
	}
	c := &Controller{
		room:    room,
		sess:    sess,
		lookup:  lookup,
		store:   store,
		rec:     rec,
		publish: publish,
		cfg:     cfg,
		logger: log.L().With().
			Int64(log.FieldRoomID, room.RoomID).
			Int64(log.FieldUID, room.UID).
			Logger(),
		now: time.Now,
	}

	bus := sess.Bus()
	bus.On(session.EventConnected, func(string, any) { c.onConnected() })
	bus.On("LIVE", c.notice(c.handleLive))
	bus.On("PREPARING", c.notice(func(json.RawMessage) { c.streamStopped() }))
	bus.On("DANMU_MSG", c.notice(c.handleChat))
	bus.On("SEND_GIFT", c.notice(c.handleGift))
	bus.On("SUPER_CHAT_MESSAGE", c.notice(c.handleSuperChat))
	bus.On("GUARD_BUY", c.notice(c.handleGuard))
	return c
}

// Room returns the controller's room entity. Only the controller mutates it;
// concurrent readers should use RoomSnapshot.
func (c *Controller) Room() *domain.Room { return c.room }

// RoomSnapshot returns a copy of the room entity safe for concurrent readers.
func (c *Controller) RoomSnapshot() domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.room
}

// Session returns the owned session.
func (c *Controller) Session() *session.Session { return c.sess }

// Start opens the room's gateway connection.
func (c *Controller) Start(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Stop deliberately closes the room's gateway connection.
func (c *Controller) Stop() error {
	return c.sess.Disconnect()
}

func (c *Controller) notice(handle func(json.RawMessage)) session.Handler {
	return func(name string, payload any) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		handle(raw)
	}
}

func (c *Controller) emit(e domain.Event) {
	if c.publish != nil {
		c.publish(e)
	}
}

// onConnected runs reconnect reconciliation. The first handshake only arms
// the reconnect flag; later handshakes re-query the live status and
// synthesize any transition missed while the socket was down. The lookup is
// best-effort: a failure skips reconciliation rather than blocking the
// session.
func (c *Controller) onConnected() {
	c.mu.Lock()
	first := !c.room.Reconnected
	if first {
		c.room.Reconnected = true
	}
	c.mu.Unlock()
	if first {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	play, err := c.lookup.ResolveRoom(ctx, c.room.RoomID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("reconnect reconciliation skipped")
		return
	}

	c.mu.Lock()
	persisted := c.room.Status
	c.mu.Unlock()

	switch {
	case play.LiveStatus.IsLive() && !persisted.IsLive():
		c.logger.Info().Msg("missed stream start while disconnected")
		c.streamStarted(time.Unix(play.LiveTime, 0))
	case !play.LiveStatus.IsLive() && persisted.IsLive():
		c.logger.Info().Msg("missed stream stop while disconnected")
		c.streamStopped()
	}
}

// handleLive accepts only genuine start notices; the gateway also emits this
// command for non-start reasons, without a live_time field.
func (c *Controller) handleLive(raw json.RawMessage) {
	var msg struct {
		LiveTime *int64 `json:"live_time"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.LiveTime == nil {
		return
	}
	c.streamStarted(time.Unix(*msg.LiveTime, 0))
}

func (c *Controller) streamStarted(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room.Status.IsLive() {
		return
	}

	now := c.now()
	if !c.room.LastEndAt.IsZero() && now.Sub(c.room.LastEndAt) <= c.cfg.GraceWindow {
		c.room.Status = domain.LiveStatusLive
		c.saveState()
		c.logger.Info().Msg("stream resumed within grace window")
		c.emit(domain.StreamResumed{RoomID: c.room.RoomID, UID: c.room.UID})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	info, err := c.lookup.RoomInfo(ctx, c.room.RoomID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("room info lookup failed, report baselines unavailable")
		info = &gateway.RoomInfo{}
	}

	// The previous session's stats survive until the next genuine start so
	// reports stay queryable between broadcasts. Fold them now, under the
	// same lock that guards ordinary increments.
	if err := c.store.FoldSessionIntoLifetime(ctx, c.room.RoomID); err != nil {
		c.logger.Error().Err(err).Msg("fold failed, session stats carried over")
	} else if err := c.store.ResetSession(ctx, c.room.RoomID); err != nil {
		c.logger.Error().Err(err).Msg("session reset failed")
	}

	if start.IsZero() || start.Unix() <= 0 {
		start = now
	}
	c.startTime = start
	c.baseline = info
	c.room.Status = domain.LiveStatusLive
	c.saveState()

	c.logger.Info().Time("start_time", start).Msg("stream started")
	c.emit(domain.StreamStarted{
		RoomID:    c.room.RoomID,
		UID:       c.room.UID,
		Uname:     c.room.Uname,
		Title:     info.Title,
		Cover:     info.Cover,
		StartTime: start,
	})
}

func (c *Controller) streamStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.room.Status.IsLive() {
		return
	}

	now := c.now()
	c.room.Status = domain.LiveStatusOff
	c.room.LastEndAt = now
	c.saveState()

	report := c.buildReport(now)
	c.logger.Info().Msg("stream stopped")
	c.emit(domain.StreamStopped{RoomID: c.room.RoomID, UID: c.room.UID, EndTime: now})
	c.emit(domain.ReportReady{RoomID: c.room.RoomID, Report: report})
}

func (c *Controller) buildReport(end time.Time) domain.Report {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	report := domain.Report{
		RoomID:    c.room.RoomID,
		UID:       c.room.UID,
		Uname:     c.room.Uname,
		StartTime: c.startTime,
		EndTime:   end,
	}
	if !c.startTime.IsZero() {
		report.Duration = end.Sub(c.startTime)
	}

	snap, err := c.store.SessionSnapshot(ctx, c.room.RoomID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("session snapshot failed, report counters omitted")
		snap = stats.Snapshot{}
	}
	report.ChatCount = int64(snap[stats.CounterChat])
	report.BoxCount = int64(snap[stats.CounterBoxCount])
	report.BoxProfit = snap[stats.CounterBoxProfit]
	report.GiftProfit = snap[stats.CounterGiftProfit]
	report.PaidProfit = snap[stats.CounterPaidProfit]
	report.CaptainCount = int64(snap[stats.CounterCaptain])
	report.CommanderCount = int64(snap[stats.CounterCommander])
	report.GovernorCount = int64(snap[stats.CounterGovernor])

	report.ChatParticipants = c.participants(ctx, stats.CounterChat)
	report.BoxParticipants = c.participants(ctx, stats.CounterBoxCount)
	report.GiftParticipants = c.participants(ctx, stats.CounterGiftProfit)
	report.PaidParticipants = c.participants(ctx, stats.CounterPaidProfit)

	if c.baseline != nil {
		report.Title = c.baseline.Title
		report.FansBefore = c.baseline.Fans
		report.MedalFansBefore = c.baseline.MedalFans
		report.GuardsBefore = c.baseline.Guards
	}
	if info, err := c.lookup.RoomInfo(ctx, c.room.RoomID); err == nil {
		report.FansAfter = info.Fans
		report.MedalFansAfter = info.MedalFans
		report.GuardsAfter = info.Guards
	} else {
		c.logger.Warn().Err(err).Msg("room info lookup failed, report deltas incomplete")
	}
	return report
}

func (c *Controller) handleChat(raw json.RawMessage) {
	if !c.cfg.Counts.Chat {
		return
	}
	var msg struct {
		Info []json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || len(msg.Info) < 3 {
		return
	}
	var user []json.RawMessage
	if err := json.Unmarshal(msg.Info[2], &user); err != nil || len(user) < 1 {
		return
	}
	var uid int64
	if err := json.Unmarshal(user[0], &uid); err != nil || uid == 0 {
		return
	}
	c.incrViewer(stats.CounterChat, uid, 1)
}

func (c *Controller) handleGift(raw json.RawMessage) {
	if !c.cfg.Counts.Gifts {
		return
	}
	var msg struct {
		Data struct {
			UID           int64           `json:"uid"`
			CoinType      string          `json:"coin_type"`
			TotalCoin     float64         `json:"total_coin"`
			DiscountPrice float64         `json:"discount_price"`
			Num           float64         `json:"num"`
			BlindGift     json.RawMessage `json:"blind_gift"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.UID == 0 {
		return
	}
	d := msg.Data

	if len(d.BlindGift) > 0 && string(d.BlindGift) != "null" {
		// Blind boxes track count and signed profit: payout minus price.
		profit := d.DiscountPrice/1000*d.Num - d.TotalCoin/1000
		c.incrViewer(stats.CounterBoxCount, d.UID, d.Num)
		c.incrViewer(stats.CounterBoxProfit, d.UID, profit)
		return
	}
	if d.CoinType == "gold" {
		c.incrViewer(stats.CounterGiftProfit, d.UID, d.TotalCoin/1000)
	}
}

func (c *Controller) handleSuperChat(raw json.RawMessage) {
	if !c.cfg.Counts.Paid {
		return
	}
	var msg struct {
		Data struct {
			UID   int64   `json:"uid"`
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.UID == 0 || msg.Data.Price <= 0 {
		return
	}
	c.incrViewer(stats.CounterPaidProfit, msg.Data.UID, msg.Data.Price)
}

func (c *Controller) handleGuard(raw json.RawMessage) {
	if !c.cfg.Counts.Guards {
		return
	}
	var msg struct {
		Data struct {
			UID        int64   `json:"uid"`
			GuardLevel int     `json:"guard_level"`
			Num        float64 `json:"num"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.UID == 0 {
		return
	}
	num := msg.Data.Num
	if num <= 0 {
		num = 1
	}
	switch msg.Data.GuardLevel {
	case 3:
		c.incrViewer(stats.CounterCaptain, msg.Data.UID, num)
	case 2:
		c.incrViewer(stats.CounterCommander, msg.Data.UID, num)
	case 1:
		c.incrViewer(stats.CounterGovernor, msg.Data.UID, num)
	}
}

// HandleFeed forwards an out-of-band social-feed post. No statistics are
// touched on this path.
func (c *Controller) HandleFeed(entry gateway.FeedEntry) {
	c.emit(domain.FeedUpdated{
		RoomID: c.room.RoomID,
		UID:    entry.UID,
		FeedID: entry.ID,
		Raw:    entry.Raw,
	})
}

// incrViewer applies one counter update. A store failure drops only this
// update; the session keeps running.
func (c *Controller) incrViewer(counter stats.Counter, uid int64, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	if err := c.store.IncrSessionViewer(ctx, c.room.RoomID, counter, uid, delta); err != nil {
		c.logger.Warn().Err(err).Str("counter", string(counter)).Msg("stats update dropped")
	}
}

func (c *Controller) participants(ctx context.Context, counter stats.Counter) int64 {
	n, err := c.store.ViewerCount(ctx, stats.ScopeSession, c.room.RoomID, counter)
	if err != nil {
		return 0
	}
	return n
}

func (c *Controller) saveState() {
	if c.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	if err := c.rec.SaveLiveState(ctx, c.room.UID, c.room.Status, c.room.LastEndAt); err != nil {
		c.logger.Warn().Err(err).Msg("live state not persisted")
	}
}
