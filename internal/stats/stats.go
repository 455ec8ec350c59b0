package stats

import (
	"context"
	"fmt"
)

// Counter identifies one statistic tracked per room, each with a room-level
// scalar and a per-viewer ranking.
type Counter string

const (
	CounterChat       Counter = "chat"        // chat message count
	CounterBoxCount   Counter = "box_count"   // blind-box gifts opened
	CounterBoxProfit  Counter = "box_profit"  // blind-box net profit, may be negative
	CounterGiftProfit Counter = "gift_profit" // paid gift value
	CounterPaidProfit Counter = "paid_profit" // paid highlighted messages
	CounterCaptain    Counter = "captain"     // guard tier 3
	CounterCommander  Counter = "commander"   // guard tier 2
	CounterGovernor   Counter = "governor"    // guard tier 1
)

// Counters lists every tracked counter; fold and reset iterate it.
var Counters = []Counter{
	CounterChat,
	CounterBoxCount,
	CounterBoxProfit,
	CounterGiftProfit,
	CounterPaidProfit,
	CounterCaptain,
	CounterCommander,
	CounterGovernor,
}

// Scope selects the session (current broadcast) or lifetime accumulation.
type Scope string

const (
	ScopeSession  Scope = "sess"
	ScopeLifetime Scope = "life"
)

// RankEntry is one viewer's position in a ranking query.
type RankEntry struct {
	ViewerID int64   `json:"viewer_id"`
	Score    float64 `json:"score"`
}

// RankInfo describes where a single viewer stands in a ranking.
type RankInfo struct {
	// Position is the 1-based competition rank (tied viewers share a rank).
	Position int `json:"position"`
	// ScoresAhead is the number of distinct scores strictly above this
	// viewer's.
	ScoresAhead int `json:"scores_ahead"`
	// Gap is the distance to the nearest distinct score above, 0 when
	// leading.
	Gap float64 `json:"gap"`
}

// Snapshot holds every session scalar for a room at one instant.
type Snapshot map[Counter]float64

// StoreError reports a failed statistics backend operation. The triggering
// update is dropped with a warning; domain events are not blocked by it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("stats store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the statistics backend shared by all rooms. Mutations are atomic
// per key; the only cross-operation ordering requirement (fold before reset,
// no concurrent increments for that room) is enforced by the room controller.
type Store interface {
	// IncrSession adds delta to a session scalar.
	IncrSession(ctx context.Context, roomID int64, c Counter, delta float64) error
	// IncrSessionViewer adds delta to a session scalar and to the viewer's
	// entry in the matching session ranking, atomically.
	IncrSessionViewer(ctx context.Context, roomID int64, c Counter, viewerID int64, delta float64) error

	// Value reads one scalar.
	Value(ctx context.Context, scope Scope, roomID int64, c Counter) (float64, error)
	// CombinedValue is session + lifetime, computed on read.
	CombinedValue(ctx context.Context, roomID int64, c Counter) (float64, error)
	// ViewerScore reads one viewer's ranking score.
	ViewerScore(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (float64, error)
	// CombinedViewerScore is session + lifetime for one viewer.
	CombinedViewerScore(ctx context.Context, roomID int64, c Counter, viewerID int64) (float64, error)

	// TopN returns the n highest-scored viewers; ties keep insertion order.
	TopN(ctx context.Context, scope Scope, roomID int64, c Counter, n int) ([]RankEntry, error)
	// BottomN returns the n lowest-scored viewers; ties keep insertion order.
	BottomN(ctx context.Context, scope Scope, roomID int64, c Counter, n int) ([]RankEntry, error)
	// ViewerRank describes one viewer's standing in a ranking.
	ViewerRank(ctx context.Context, scope Scope, roomID int64, c Counter, viewerID int64) (*RankInfo, error)
	// ViewerCount returns the number of distinct viewers in a ranking.
	ViewerCount(ctx context.Context, scope Scope, roomID int64, c Counter) (int64, error)

	// SessionSnapshot reads all session scalars at once for report building.
	SessionSnapshot(ctx context.Context, roomID int64) (Snapshot, error)

	// FoldSessionIntoLifetime adds every session scalar into its lifetime
	// counterpart and merges each session ranking into its lifetime
	// counterpart, summing per-viewer scores. Must complete before
	// ResetSession for the same room begins.
	FoldSessionIntoLifetime(ctx context.Context, roomID int64) error
	// ResetSession zeroes all session scalars and clears all session
	// rankings. Only valid immediately after a successful fold.
	ResetSession(ctx context.Context, roomID int64) error

	Close() error
}
