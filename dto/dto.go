package dto

import (
	"github.com/google/uuid"
	"mimic-export/constant"
	"mimic-export/entities"
	"time"
)

type ExportSettings struct {
	Type    constant.ExportType    `json:"type"`
	Format  constant.ExportFormat  `json:"format"`
	Quality constant.ExportQuality `json:"quality"`
	Fps     int                    `json:"fps"`
}

type ExportStatus struct {
	ExportId uuid.UUID                `json:"export_id"`
	Status   constant.ExportJobStatus `json:"status"`
	Progress int                      `json:"progress"`
	Eta      *int                     `json:"eta,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// ExportRequestMessage is published on the export queue to render a session
// asynchronously.
type ExportRequestMessage struct {
	SessionId uuid.UUID      `json:"sessionId"`
	Settings  ExportSettings `json:"settings"`
}

// SessionPatch holds the caller-writable session fields. Nil means unchanged.
type SessionPatch struct {
	Name        *string                 `json:"name"`
	Description *string                 `json:"description"`
	Status      *constant.SessionStatus `json:"status"`
	ExportedAt  *time.Time              `json:"exported_at"`
	Notes       *string                 `json:"notes"`
}

type SessionFilter struct {
	VideoId *uuid.UUID
	Status  *constant.SessionStatus
}

type SessionPage struct {
	Sessions   []*entities.Session `json:"sessions"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
}

// Upload is a finished take sitting in a temporary location.
type Upload struct {
	Path string
	Size int64
}
