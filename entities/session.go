package entities

import (
	"github.com/google/uuid"
	"mimic-export/constant"
	"time"
)

type SessionMetadata struct {
	TotalChunks          int     `json:"total_chunks" gorm:"not null;default:0"`
	AverageChunkDuration float64 `json:"average_chunk_duration" gorm:"not null;default:0"`
	Notes                string  `json:"notes" gorm:"type:text"`
}

type Session struct {
	ID            uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	VideoId       uuid.UUID              `json:"video_id" gorm:"type:uuid;not null;index:idx_sessions_video_id"`
	Name          string                 `json:"name" gorm:"type:varchar(255);not null"`
	Description   string                 `json:"description" gorm:"type:text"`
	TotalDuration int64                  `json:"total_duration" gorm:"not null;default:0"`
	Status        constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'active';index:idx_sessions_status"`
	ExportedAt    *time.Time             `json:"exported_at"`
	Metadata      SessionMetadata        `json:"metadata" gorm:"embedded;embeddedPrefix:meta_"`
	CreatedAt     time.Time              `json:"created_at" gorm:"not null;autoCreateTime:false"`
	UpdatedAt     time.Time              `json:"updated_at" gorm:"not null;index:idx_sessions_updated_at;autoUpdateTime:false"`

	Video *VideoSummary `json:"video,omitempty" gorm:"-"`
}

func (Session) TableName() string {
	return "sessions"
}
