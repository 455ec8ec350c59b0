package stats

import (
	"context"
	"sync"
	"testing"
)

func TestCombinedValueIsSessionPlusLifetime(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.IncrSession(ctx, 1, CounterChat, 5); err != nil {
		t.Fatalf("IncrSession() error = %v", err)
	}
	if err := s.FoldSessionIntoLifetime(ctx, 1); err != nil {
		t.Fatalf("FoldSessionIntoLifetime() error = %v", err)
	}
	if err := s.ResetSession(ctx, 1); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if err := s.IncrSession(ctx, 1, CounterChat, 3); err != nil {
		t.Fatalf("IncrSession() error = %v", err)
	}

	sess, _ := s.Value(ctx, ScopeSession, 1, CounterChat)
	life, _ := s.Value(ctx, ScopeLifetime, 1, CounterChat)
	combined, _ := s.CombinedValue(ctx, 1, CounterChat)
	if sess != 3 || life != 5 || combined != 8 {
		t.Errorf("sess = %v, life = %v, combined = %v; want 3, 5, 8", sess, life, combined)
	}
}

func TestFoldConservesTotals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.IncrSessionViewer(ctx, 1, CounterGiftProfit, 100, 9.9); err != nil {
		t.Fatalf("IncrSessionViewer() error = %v", err)
	}
	if err := s.IncrSessionViewer(ctx, 1, CounterGiftProfit, 200, 0.1); err != nil {
		t.Fatalf("IncrSessionViewer() error = %v", err)
	}

	before, _ := s.CombinedValue(ctx, 1, CounterGiftProfit)
	beforeViewer, _ := s.CombinedViewerScore(ctx, 1, CounterGiftProfit, 100)

	if err := s.FoldSessionIntoLifetime(ctx, 1); err != nil {
		t.Fatalf("FoldSessionIntoLifetime() error = %v", err)
	}
	if err := s.ResetSession(ctx, 1); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}

	after, _ := s.CombinedValue(ctx, 1, CounterGiftProfit)
	afterViewer, _ := s.CombinedViewerScore(ctx, 1, CounterGiftProfit, 100)
	if after != before {
		t.Errorf("combined value after fold = %v, want %v", after, before)
	}
	if afterViewer != beforeViewer {
		t.Errorf("combined viewer score after fold = %v, want %v", afterViewer, beforeViewer)
	}

	sess, _ := s.Value(ctx, ScopeSession, 1, CounterGiftProfit)
	if sess != 0 {
		t.Errorf("session value after reset = %v, want 0", sess)
	}
	n, _ := s.ViewerCount(ctx, ScopeSession, 1, CounterGiftProfit)
	if n != 0 {
		t.Errorf("session viewer count after reset = %d, want 0", n)
	}
}

func TestRankingTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Two tied leaders, inserted 100 before 200.
	for _, step := range []struct {
		viewer int64
		delta  float64
	}{
		{100, 50},
		{200, 50},
		{300, 30},
		{400, 10},
	} {
		if err := s.IncrSessionViewer(ctx, 1, CounterChat, step.viewer, step.delta); err != nil {
			t.Fatalf("IncrSessionViewer() error = %v", err)
		}
	}

	top, err := s.TopN(ctx, ScopeSession, 1, CounterChat, 2)
	if err != nil {
		t.Fatalf("TopN() error = %v", err)
	}
	if len(top) != 2 || top[0].ViewerID != 100 || top[1].ViewerID != 200 {
		t.Errorf("TopN(2) = %+v, want viewers 100, 200", top)
	}

	bottom, err := s.BottomN(ctx, ScopeSession, 1, CounterChat, 1)
	if err != nil {
		t.Fatalf("BottomN() error = %v", err)
	}
	if len(bottom) != 1 || bottom[0].ViewerID != 400 {
		t.Errorf("BottomN(1) = %+v, want viewer 400", bottom)
	}
}

func TestViewerRank(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, step := range []struct {
		viewer int64
		delta  float64
	}{
		{100, 50},
		{200, 50},
		{300, 30},
		{400, 10},
	} {
		if err := s.IncrSessionViewer(ctx, 1, CounterChat, step.viewer, step.delta); err != nil {
			t.Fatalf("IncrSessionViewer() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		viewer int64
		want   RankInfo
	}{
		{"tied leader", 200, RankInfo{Position: 1, ScoresAhead: 0, Gap: 0}},
		{"behind tied pair", 300, RankInfo{Position: 3, ScoresAhead: 1, Gap: 20}},
		{"last", 400, RankInfo{Position: 4, ScoresAhead: 2, Gap: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ViewerRank(ctx, ScopeSession, 1, CounterChat, tt.viewer)
			if err != nil {
				t.Fatalf("ViewerRank() error = %v", err)
			}
			if got == nil || *got != tt.want {
				t.Errorf("ViewerRank(%d) = %+v, want %+v", tt.viewer, got, tt.want)
			}
		})
	}

	missing, err := s.ViewerRank(ctx, ScopeSession, 1, CounterChat, 999)
	if err != nil {
		t.Fatalf("ViewerRank() error = %v", err)
	}
	if missing != nil {
		t.Errorf("ViewerRank(unknown) = %+v, want nil", missing)
	}
}

func TestFoldMergesRankingsPerViewer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.IncrSessionViewer(ctx, 1, CounterChat, 100, 2); err != nil {
		t.Fatalf("IncrSessionViewer() error = %v", err)
	}
	if err := s.FoldSessionIntoLifetime(ctx, 1); err != nil {
		t.Fatalf("FoldSessionIntoLifetime() error = %v", err)
	}
	if err := s.ResetSession(ctx, 1); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if err := s.IncrSessionViewer(ctx, 1, CounterChat, 100, 3); err != nil {
		t.Fatalf("IncrSessionViewer() error = %v", err)
	}
	if err := s.FoldSessionIntoLifetime(ctx, 1); err != nil {
		t.Fatalf("FoldSessionIntoLifetime() error = %v", err)
	}

	life, _ := s.ViewerScore(ctx, ScopeLifetime, 1, CounterChat, 100)
	if life != 5 {
		t.Errorf("lifetime viewer score = %v, want 5", life)
	}
	n, _ := s.ViewerCount(ctx, ScopeLifetime, 1, CounterChat)
	if n != 1 {
		t.Errorf("lifetime viewer count = %d, want 1", n)
	}
}

func TestConcurrentReadsOfEmptyCounters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// Seed the room without touching CounterChat so the rank queries below
	// all hit counters nobody has incremented.
	if err := s.IncrSessionViewer(ctx, 1, CounterGiftProfit, 100, 1); err != nil {
		t.Fatalf("IncrSessionViewer() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TopN(ctx, ScopeSession, 1, CounterChat, 10); err != nil {
				t.Errorf("TopN() error = %v", err)
			}
			if _, err := s.ViewerScore(ctx, ScopeLifetime, 1, CounterChat, 100); err != nil {
				t.Errorf("ViewerScore() error = %v", err)
			}
			if _, err := s.ViewerRank(ctx, ScopeSession, 1, CounterChat, 100); err != nil {
				t.Errorf("ViewerRank() error = %v", err)
			}
			if _, err := s.ViewerCount(ctx, ScopeLifetime, 1, CounterChat); err != nil {
				t.Errorf("ViewerCount() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := s.ViewerCount(ctx, ScopeSession, 1, CounterChat); n != 0 {
		t.Errorf("viewer count for untouched counter = %d, want 0", n)
	}
}

func TestSessionSnapshotListsEveryCounter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.IncrSession(ctx, 1, CounterBoxProfit, -4.5); err != nil {
		t.Fatalf("IncrSession() error = %v", err)
	}

	snap, err := s.SessionSnapshot(ctx, 1)
	if err != nil {
		t.Fatalf("SessionSnapshot() error = %v", err)
	}
	if len(snap) != len(Counters) {
		t.Fatalf("len(snap) = %d, want %d", len(snap), len(Counters))
	}
	if snap[CounterBoxProfit] != -4.5 {
		t.Errorf("box profit = %v, want -4.5", snap[CounterBoxProfit])
	}
	if snap[CounterChat] != 0 {
		t.Errorf("chat = %v, want 0", snap[CounterChat])
	}
}
