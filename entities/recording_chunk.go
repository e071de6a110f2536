package entities

import (
	"github.com/google/uuid"
	"time"
)

type RecordingMetadata struct {
	Size       int64  `json:"size" gorm:"not null;default:0"`
	Format     string `json:"format" gorm:"type:varchar(20)"`
	AudioCodec string `json:"audio_codec" gorm:"type:varchar(20)"`
	VideoCodec string `json:"video_codec" gorm:"type:varchar(20)"`
}

type RecordingChunk struct {
	ID        uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID         `json:"session_id" gorm:"type:uuid;not null;index:idx_recording_chunks_session"`
	Duration  int64             `json:"duration" gorm:"not null"`
	Order     int               `json:"order" gorm:"column:chunk_order;not null"`
	Filepath  string            `json:"filepath" gorm:"type:varchar(1000);not null"`
	Metadata  RecordingMetadata `json:"metadata" gorm:"embedded;embeddedPrefix:meta_"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;autoCreateTime:false"`
}

func (RecordingChunk) TableName() string {
	return "recording_chunks"
}
