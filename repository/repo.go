package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"mimic-export/dto"
	"mimic-export/entities"
	"strings"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Repository is the persistent store. Every method is a single statement;
// callers never rely on multi-statement transactions.
type Repository interface {
	GetDB() *gorm.DB
	Migrate(ctx context.Context) error

	CreateVideo(ctx context.Context, video *entities.Video) error
	FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)

	CreateSession(ctx context.Context, session *entities.Session) error
	FindSessionById(ctx context.Context, id uuid.UUID) (*entities.Session, error)
	UpdateSession(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	ListSessions(ctx context.Context, filter dto.SessionFilter, limit, offset int) ([]*entities.Session, int64, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	CreateRecordingChunk(ctx context.Context, chunk *entities.RecordingChunk) error
	FindRecordingChunk(ctx context.Context, sessionId, chunkId uuid.UUID) (*entities.RecordingChunk, error)
	GetRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error)
	MaxRecordingChunkOrder(ctx context.Context, sessionId uuid.UUID) (int, error)
	SetRecordingChunkOrder(ctx context.Context, sessionId uuid.UUID, orderedIds []uuid.UUID) error
	SumRecordingChunks(ctx context.Context, sessionId uuid.UUID) (totalDuration int64, count int64, err error)
	DeleteRecordingChunk(ctx context.Context, id uuid.UUID) error
	DeleteRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)

	CreateExport(ctx context.Context, export *entities.Export) error
	FindExportById(ctx context.Context, id uuid.UUID) (*entities.Export, error)
	GetExportsBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.Export, error)
	MarkExportDownloaded(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteExport(ctx context.Context, id uuid.UUID) error
	DeleteExportsBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
}

type repo struct {
	db *gorm.DB
}

// NewRepo wraps an open postgres connection.
func NewRepo(db *sql.DB, level logger.LogLevel) (Repository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

// NewRepoFromGorm wraps an already opened gorm handle, e.g. sqlite.
func NewRepoFromGorm(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&entities.Video{},
		&entities.Session{},
		&entities.RecordingChunk{},
		&entities.Export{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *repo) CreateVideo(ctx context.Context, video *entities.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

func (r *repo) FindVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.db.WithContext(ctx).First(video, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return video, nil
}

func (r *repo) CreateSession(ctx context.Context, session *entities.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	session := &entities.Session{}
	err := r.db.WithContext(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (r *repo) UpdateSession(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&entities.Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) ListSessions(ctx context.Context, filter dto.SessionFilter, limit, offset int) ([]*entities.Session, int64, error) {
	scope := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&entities.Session{})
		if filter.VideoId != nil {
			query = query.Where("video_id = ?", *filter.VideoId)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		return query
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []*entities.Session
	err := scope().Order("updated_at DESC").Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *repo) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entities.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) CreateRecordingChunk(ctx context.Context, chunk *entities.RecordingChunk) error {
	return r.db.WithContext(ctx).Create(chunk).Error
}

func (r *repo) FindRecordingChunk(ctx context.Context, sessionId, chunkId uuid.UUID) (*entities.RecordingChunk, error) {
	chunk := &entities.RecordingChunk{}
	err := r.db.WithContext(ctx).First(chunk, "session_id = ? AND id = ?", sessionId, chunkId).Error
	if err != nil {
		return nil, notFound(err)
	}
	return chunk, nil
}

func (r *repo) GetRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error) {
	var chunks []*entities.RecordingChunk
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Order("chunk_order ASC").Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *repo) MaxRecordingChunkOrder(ctx context.Context, sessionId uuid.UUID) (int, error) {
	var maxOrder int
	err := r.db.WithContext(ctx).Model(&entities.RecordingChunk{}).
		Where("session_id = ?", sessionId).
		Select("COALESCE(MAX(chunk_order), 0)").
		Scan(&maxOrder).Error
	if err != nil {
		return 0, err
	}
	return maxOrder, nil
}

// SetRecordingChunkOrder assigns order = index+1 to every id in one UPDATE.
func (r *repo) SetRecordingChunkOrder(ctx context.Context, sessionId uuid.UUID, orderedIds []uuid.UUID) error {
	if len(orderedIds) == 0 {
		return nil
	}

	var caseBuilder strings.Builder
	args := make([]interface{}, 0, len(orderedIds)*2)
	caseBuilder.WriteString("CASE id")
	for i, id := range orderedIds {
		caseBuilder.WriteString(" WHEN ? THEN CAST(? AS INTEGER)")
		args = append(args, id, i+1)
	}
	caseBuilder.WriteString(" END")

	res := r.db.WithContext(ctx).Model(&entities.RecordingChunk{}).
		Where("session_id = ? AND id IN ?", sessionId, orderedIds).
		Update("chunk_order", gorm.Expr(caseBuilder.String(), args...))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(orderedIds)) {
		return fmt.Errorf("reorder touched %d of %d recording chunks", res.RowsAffected, len(orderedIds))
	}
	return nil
}

func (r *repo) SumRecordingChunks(ctx context.Context, sessionId uuid.UUID) (int64, int64, error) {
	var agg struct {
		Total int64
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&entities.RecordingChunk{}).
		Where("session_id = ?", sessionId).
		Select("COALESCE(SUM(duration), 0) AS total, COUNT(*) AS count").
		Scan(&agg).Error
	if err != nil {
		return 0, 0, err
	}
	return agg.Total, agg.Count, nil
}

func (r *repo) DeleteRecordingChunk(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entities.RecordingChunk{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) DeleteRecordingChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Delete(&entities.RecordingChunk{})
	return res.RowsAffected, res.Error
}

func (r *repo) CreateExport(ctx context.Context, export *entities.Export) error {
	return r.db.WithContext(ctx).Create(export).Error
}

func (r *repo) FindExportById(ctx context.Context, id uuid.UUID) (*entities.Export, error) {
	export := &entities.Export{}
	err := r.db.WithContext(ctx).First(export, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return export, nil
}

func (r *repo) GetExportsBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.Export, error) {
	var exports []*entities.Export
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Order("created_at DESC").Find(&exports).Error
	if err != nil {
		return nil, err
	}
	return exports, nil
}

func (r *repo) MarkExportDownloaded(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entities.Export{}).Where("id = ?", id).Update("downloaded_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) DeleteExport(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entities.Export{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) DeleteExportsBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Delete(&entities.Export{})
	return res.RowsAffected, res.Error
}
