package entities

import (
	"github.com/google/uuid"
	"time"
)

type Video struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Filename      string    `json:"filename" gorm:"type:varchar(500);not null"`
	OriginalName  string    `json:"original_name" gorm:"type:varchar(500);not null"`
	Format        string    `json:"format" gorm:"type:varchar(10)"`
	Duration      int64     `json:"duration" gorm:"not null;default:0"`
	Resolution    string    `json:"resolution" gorm:"type:varchar(20)"`
	Filepath      string    `json:"filepath" gorm:"type:varchar(1000);not null"`
	ThumbnailPath *string   `json:"thumbnail_path" gorm:"type:varchar(1000)"`
	UploadedAt    time.Time `json:"uploaded_at" gorm:"not null"`
}

func (Video) TableName() string {
	return "videos"
}

// VideoSummary is the read-only projection attached to a session.
type VideoSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Thumbnail *string   `json:"thumbnail"`
	Duration  int64     `json:"duration"`
}

func (v *Video) Summary() *VideoSummary {
	return &VideoSummary{
		ID:        v.ID,
		Name:      v.OriginalName,
		Thumbnail: v.ThumbnailPath,
		Duration:  v.Duration,
	}
}
