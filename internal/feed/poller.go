package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mizuki-dev/starwatch/internal/gateway"
	"github.com/mizuki-dev/starwatch/pkg/log"
)

// Source lists recent social-feed posts for a streamer. *gateway.Client
// satisfies it.
type Source interface {
	RecentFeeds(ctx context.Context, uid int64) ([]gateway.FeedEntry, error)
}

// Sink receives new feed entries for one tracked streamer, oldest first.
type Sink func(gateway.FeedEntry)

// Poller periodically checks each tracked streamer's social feed and forwards
// posts not seen before. Feed updates travel out-of-band: they never touch the
// room socket or the statistics store.
type Poller struct {
	source   Source
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	sinks    map[int64]Sink
	lastSeen map[int64]string
}

// NewPoller creates a poller that checks feeds every interval.
func NewPoller(source Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		source:   source,
		interval: interval,
		logger:   log.L().With().Str("component", "feed_poller").Logger(),
		sinks:    make(map[int64]Sink),
		lastSeen: make(map[int64]string),
	}
}

// Track registers a streamer. The first poll primes the seen marker without
// emitting, so old posts are not replayed on startup.
func (p *Poller) Track(uid int64, sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks[uid] = sink
}

// Untrack stops polling a streamer.
func (p *Poller) Untrack(uid int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, uid)
	delete(p.lastSeen, uid)
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	uids := make([]int64, 0, len(p.sinks))
	for uid := range p.sinks {
		uids = append(uids, uid)
	}
	p.mu.Unlock()

	for _, uid := range uids {
		p.pollOne(ctx, uid)
	}
}

func (p *Poller) pollOne(ctx context.Context, uid int64) {
	entries, err := p.source.RecentFeeds(ctx, uid)
	if err != nil {
		p.logger.Warn().Err(err).Int64(log.FieldUID, uid).Msg("feed poll failed")
		return
	}
	if len(entries) == 0 {
		return
	}

	p.mu.Lock()
	sink, tracked := p.sinks[uid]
	marker, primed := p.lastSeen[uid]
	if tracked {
		p.lastSeen[uid] = entries[0].ID
	}
	p.mu.Unlock()
	if !tracked {
		return
	}
	if !primed {
		return
	}

	// Entries arrive newest first; collect everything ahead of the marker
	// and forward oldest first.
	var fresh []gateway.FeedEntry
	for _, e := range entries {
		if e.ID == marker {
			break
		}
		fresh = append(fresh, e)
	}
	for i := len(fresh) - 1; i >= 0; i-- {
		sink(fresh[i])
	}
}
