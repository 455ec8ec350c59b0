package feed

import (
	"context"
	"testing"
	"time"

	"github.com/mizuki-dev/starwatch/internal/gateway"
)

type fakeSource struct {
	entries []gateway.FeedEntry
}

func (f *fakeSource) RecentFeeds(ctx context.Context, uid int64) ([]gateway.FeedEntry, error) {
	return f.entries, nil
}

func entry(id string) gateway.FeedEntry {
	return gateway.FeedEntry{UID: 7, ID: id}
}

func TestPollerPrimesWithoutEmitting(t *testing.T) {
	src := &fakeSource{entries: []gateway.FeedEntry{entry("f2"), entry("f1")}}
	p := NewPoller(src, time.Minute)

	var got []string
	p.Track(7, func(e gateway.FeedEntry) { got = append(got, e.ID) })

	p.poll(context.Background())
	if len(got) != 0 {
		t.Errorf("entries on first poll = %v, want none", got)
	}
}

func TestPollerEmitsNewEntriesOldestFirst(t *testing.T) {
	src := &fakeSource{entries: []gateway.FeedEntry{entry("f2"), entry("f1")}}
	p := NewPoller(src, time.Minute)

	var got []string
	p.Track(7, func(e gateway.FeedEntry) { got = append(got, e.ID) })
	p.poll(context.Background())

	src.entries = []gateway.FeedEntry{entry("f4"), entry("f3"), entry("f2"), entry("f1")}
	p.poll(context.Background())

	if len(got) != 2 || got[0] != "f3" || got[1] != "f4" {
		t.Errorf("entries = %v, want [f3 f4]", got)
	}

	// Nothing new on the next poll.
	got = nil
	p.poll(context.Background())
	if len(got) != 0 {
		t.Errorf("entries on repeat poll = %v, want none", got)
	}
}

func TestPollerUntrackStops(t *testing.T) {
	src := &fakeSource{entries: []gateway.FeedEntry{entry("f1")}}
	p := NewPoller(src, time.Minute)

	var got []string
	p.Track(7, func(e gateway.FeedEntry) { got = append(got, e.ID) })
	p.poll(context.Background())
	p.Untrack(7)

	src.entries = []gateway.FeedEntry{entry("f2"), entry("f1")}
	p.poll(context.Background())
	if len(got) != 0 {
		t.Errorf("entries after untrack = %v, want none", got)
	}
}
