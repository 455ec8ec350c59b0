package domain

import (
	"time"

	"gorm.io/gorm"
)

// TrackedRoomModel is the GORM model for the tracked-room roster.
type TrackedRoomModel struct {
	UID        int64          `gorm:"primaryKey"`
	Uname      string         `gorm:"type:varchar(64)"`
	RoomID     int64          `gorm:"index"`
	Enabled    bool           `gorm:"index;not null;default:true"`
	LiveStatus int            `gorm:"not null;default:0"`
	LastEndAt  time.Time      `gorm:""`
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for TrackedRoomModel.
func (TrackedRoomModel) TableName() string {
	return "tracked_rooms"
}

// ToDomain converts TrackedRoomModel to a domain Room.
func (m *TrackedRoomModel) ToDomain() *Room {
	return &Room{
		UID:       m.UID,
		Uname:     m.Uname,
		RoomID:    m.RoomID,
		Status:    LiveStatus(m.LiveStatus),
		LastEndAt: m.LastEndAt,
	}
}
