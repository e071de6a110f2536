package entities

import (
	"github.com/google/uuid"
	"mimic-export/constant"
	"time"
)

type Export struct {
	ID           uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	SessionId    uuid.UUID              `json:"session_id" gorm:"type:uuid;not null;index:idx_exports_session"`
	Type         constant.ExportType    `json:"type" gorm:"type:varchar(20);not null"`
	Format       constant.ExportFormat  `json:"format" gorm:"type:varchar(10);not null"`
	Quality      constant.ExportQuality `json:"quality" gorm:"type:varchar(10);not null"`
	Fps          int                    `json:"fps" gorm:"not null"`
	Filepath     string                 `json:"filepath" gorm:"type:varchar(1000);not null"`
	Filesize     int64                  `json:"filesize" gorm:"not null;default:0"`
	ObjectKey    string                 `json:"object_key,omitempty" gorm:"type:varchar(1000)"`
	CreatedAt    time.Time              `json:"created_at" gorm:"not null;autoCreateTime:false"`
	DownloadedAt *time.Time             `json:"downloaded_at"`
}

func (Export) TableName() string {
	return "exports"
}
