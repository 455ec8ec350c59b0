package stats

import (
	"context"
	"sort"
	"sync"
)

// ranking keeps viewer scores plus first-insertion order so ties resolve
// stably.
type ranking struct {
	scores map[int64]float64
	order  []int64
}

func newRanking() *ranking {
	return &ranking{scores: make(map[int64]float64)}
}

func (r *ranking) incr(viewerID int64, delta float64) {
	if _, ok := r.scores[viewerID]; !ok {
		r.order = append(r.order, viewerID)
	}
	r.scores[viewerID] += delta
}

func (r *ranking) entries() []RankEntry {
	out := make([]RankEntry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, RankEntry{ViewerID: id, Score: r.scores[id]})
	}
	return out
}

type memRoom struct {
	scalars map[Scope]map[Counter]float64
	ranks   map[Scope]map[Counter]*ranking
}

func newMemRoom() *memRoom {
	return &memRoom{
		scalars: map[Scope]map[Counter]float64{
			ScopeSession:  {},
			ScopeLifetime: {},
		},
		ranks: map[Scope]map[Counter]*ranking{
			ScopeSession:  {},
			ScopeLifetime: {},
		},
	}
}

// rank lazily creates a ranking. Callers must hold the store's write lock.
func (m *memRoom) rank(scope Scope, c Counter) *ranking {
	r, ok := m.ranks[scope][c]
	if !ok {
		r = newRanking()
		m.ranks[scope][c] = r
	}
	return r
}

// rankView never mutates the maps, so read paths stay safe under the read
// lock. A counter nobody has incremented reads as empty.
func (m *memRoom) rankView(scope Scope, c Counter) *ranking {
	return m.ranks[scope][c]
}

func (r *ranking) score(viewerID int64) float64 {
	if r == nil {
		return 0
	}
	return r.scores[viewerID]
}

func (r *ranking) size() int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.scores))
}

func (r *ranking) entriesOrNil() []RankEntry {
	if r == nil {
		return nil
	}
	return r.entries()
}

// MemoryStore is an in-process Store used in tests and single-node runs
// without a Redis backend.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[int64]*memRoom
}

// NewMemoryStore creates an empty in-memory statistics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[int64]*memRoom)}
}

func (s *MemoryStore) room(roomID int64) *memRoom {
	r, ok := s.rooms[roomID]
	if !ok {
		r = newMemRoom()
		s.rooms[roomID] = r
	}
	return r
}

func (s *MemoryStore) IncrSession(ctx context.Context, roomID int64, c Counter, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).scalars[ScopeSession][c] += delta
	return nil
}

func (s *MemoryStore) IncrSessionViewer(ctx context.Context, roomID int64, c Counter, viewerID int64, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.room(roomID)
	room.scalars[ScopeSession][c] += delta
	room.rank(ScopeSession, c).incr(viewerID, delta)
	return nil
}

func (s *MemoryStore) Value(ctx context.Context, scope Scope, roomID int64, c Counter) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return room.scalars[scope][c], nil
}

func (s *MemoryStore) CombinedValue(ctx context.Context, roomID int64, c Counter) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return room.scalars[ScopeSession][c] + room.scalars[ScopeLifetime][c], nil
}

func (s *MemoryStore) ViewerScore(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return room.rankView(scope, c).score(viewerID), nil
}

func (s *MemoryStore) CombinedViewerScore(ctx context.Context, roomID int64, c Counter, viewerID int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return room.rankView(ScopeSession, c).score(viewerID) + room.rankView(ScopeLifetime, c).score(viewerID), nil
}

func (s *MemoryStore) TopN(ctx context.Context, scope Scope, roomID int64, c Counter, n int) ([]RankEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return topOf(room.rankView(scope, c).entriesOrNil(), n, true), nil
}

func (s *MemoryStore) BottomN(ctx context.Context, scope Scope, roomID int64, c Counter, n int) ([]RankEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return topOf(room.rankView(scope, c).entriesOrNil(), n, false), nil
}

func (s *MemoryStore) ViewerRank(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (*RankInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return rankOf(room.rankView(scope, c).entriesOrNil(), viewerID), nil
}

func (s *MemoryStore) ViewerCount(ctx context.Context, scope Scope, roomID int64, c Counter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return 0, nil
	}
	return room.rankView(scope, c).size(), nil
}

func (s *MemoryStore) SessionSnapshot(ctx context.Context, roomID int64) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(Counters))
	room, ok := s.rooms[roomID]
	for _, c := range Counters {
		if ok {
			snap[c] = room.scalars[ScopeSession][c]
		} else {
			snap[c] = 0
		}
	}
	return snap, nil
}

func (s *MemoryStore) FoldSessionIntoLifetime(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	for _, c := range Counters {
		room.scalars[ScopeLifetime][c] += room.scalars[ScopeSession][c]
		sess := room.rank(ScopeSession, c)
		life := room.rank(ScopeLifetime, c)
		for _, id := range sess.order {
			life.incr(id, sess.scores[id])
		}
	}
	return nil
}

func (s *MemoryStore) ResetSession(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	room.scalars[ScopeSession] = map[Counter]float64{}
	room.ranks[ScopeSession] = map[Counter]*ranking{}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// topOf orders entries by score (descending when desc) keeping insertion
// order for ties, and returns the first n.
func topOf(entries []RankEntry, n int, desc bool) []RankEntry {
	sorted := make([]RankEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if desc {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Score < sorted[j].Score
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// rankOf computes a viewer's competition rank, distinct scores ahead, and gap
// to the nearest distinct score above.
func rankOf(entries []RankEntry, viewerID int64) *RankInfo {
	var (
		score float64
		found bool
	)
	for _, e := range entries {
		if e.ViewerID == viewerID {
			score, found = e.Score, true
			break
		}
	}
	if !found {
		return nil
	}

	higher := 0
	distinct := make(map[float64]struct{})
	nearest := 0.0
	hasNearest := false
	for _, e := range entries {
		if e.Score > score {
			higher++
			if _, ok := distinct[e.Score]; !ok {
				distinct[e.Score] = struct{}{}
				if !hasNearest || e.Score < nearest {
					nearest = e.Score
					hasNearest = true
				}
			}
		}
	}

	info := &RankInfo{Position: higher + 1, ScoresAhead: len(distinct)}
	if hasNearest {
		info.Gap = nearest - score
	}
	return info
}
