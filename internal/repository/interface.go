package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mizuki-dev/starwatch/internal/domain"
)

// ErrRoomNotFound is returned when a tracked room does not exist.
var ErrRoomNotFound = errors.New("tracked room not found")

// RoomRepository stores the roster of tracked rooms and their persisted live
// state.
type RoomRepository interface {
	// ListEnabled returns every room the tracker should connect.
	ListEnabled(ctx context.Context) ([]domain.Room, error)
	// GetByUID retrieves one tracked room.
	GetByUID(ctx context.Context, uid int64) (*domain.Room, error)
	// Upsert inserts or updates a roster entry.
	Upsert(ctx context.Context, room *domain.Room) error
	// SetEnabled toggles tracking for a room.
	SetEnabled(ctx context.Context, uid int64, enabled bool) error
	// SaveLiveState persists the live status and last end time so restarts
	// and reconnects can reconcile against it.
	SaveLiveState(ctx context.Context, uid int64, status domain.LiveStatus, lastEndAt time.Time) error
}
