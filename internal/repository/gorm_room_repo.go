package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mizuki-dev/starwatch/internal/domain"
	"github.com/mizuki-dev/starwatch/pkg/log"
)

// GormRoomRepository implements RoomRepository using GORM.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new GORM-based room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// ListEnabled returns every enabled tracked room.
func (r *GormRoomRepository) ListEnabled(ctx context.Context) ([]domain.Room, error) {
	l := log.Ctx(ctx)

	var models []domain.TrackedRoomModel
	result := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("uid").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Msg("failed to list tracked rooms from db")
		return nil, result.Error
	}

	rooms := make([]domain.Room, len(models))
	for i, model := range models {
		rooms[i] = *model.ToDomain()
	}
	return rooms, nil
}

// GetByUID retrieves a tracked room by streamer uid.
func (r *GormRoomRepository) GetByUID(ctx context.Context, uid int64) (*domain.Room, error) {
	l := log.Ctx(ctx)

	var model domain.TrackedRoomModel
	result := r.db.WithContext(ctx).First(&model, "uid = ?", uid)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		l.Error().Err(result.Error).Int64(log.FieldUID, uid).Msg("failed to get tracked room")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// Upsert inserts or updates a roster entry keyed by uid.
func (r *GormRoomRepository) Upsert(ctx context.Context, room *domain.Room) error {
	l := log.Ctx(ctx)

	model := domain.TrackedRoomModel{
		UID:        room.UID,
		Uname:      room.Uname,
		RoomID:     room.RoomID,
		Enabled:    true,
		LiveStatus: int(room.Status),
		LastEndAt:  room.LastEndAt,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"uname", "room_id", "enabled"}),
	}).Create(&model)
	if result.Error != nil {
		l.Error().Err(result.Error).Int64(log.FieldUID, room.UID).Msg("failed to upsert tracked room")
		return result.Error
	}
	l.Debug().Int64(log.FieldUID, room.UID).Msg("tracked room upserted")
	return nil
}

// SetEnabled toggles tracking for a room.
func (r *GormRoomRepository) SetEnabled(ctx context.Context, uid int64, enabled bool) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.TrackedRoomModel{}).
		Where("uid = ?", uid).
		Update("enabled", enabled)
	if result.Error != nil {
		l.Error().Err(result.Error).Int64(log.FieldUID, uid).Msg("failed to toggle tracked room")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// SaveLiveState persists a room's live status and last end time.
func (r *GormRoomRepository) SaveLiveState(ctx context.Context, uid int64, status domain.LiveStatus, lastEndAt time.Time) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.TrackedRoomModel{}).
		Where("uid = ?", uid).
		Updates(map[string]interface{}{
			"live_status": int(status),
			"last_end_at": lastEndAt,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Int64(log.FieldUID, uid).Msg("failed to persist live state")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}
