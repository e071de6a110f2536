package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"mimic-export/constant"
	"mimic-export/dto"
	"mimic-export/entities"
	"mimic-export/pkg/apperror"
	"mimic-export/repository"
)

// RecordingService keeps a session's takes in a gapless 1..N order. Every
// mutation runs under the session lock and ends with an aggregate recompute.
type RecordingService interface {
	Append(ctx context.Context, sessionId uuid.UUID, upload dto.Upload, durationSeconds float64) (*entities.RecordingChunk, error)
	List(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error)
	Get(ctx context.Context, sessionId, chunkId uuid.UUID) (*entities.RecordingChunk, error)
	Delete(ctx context.Context, sessionId, chunkId uuid.UUID) error
	SetOrder(ctx context.Context, sessionId uuid.UUID, chunkIds []uuid.UUID) ([]*entities.RecordingChunk, error)
	DeleteAll(ctx context.Context, sessionId uuid.UUID) (int, error)
}

type recordingService struct {
	*core
	dir string
}

func (s *recordingService) Append(ctx context.Context, sessionId uuid.UUID, upload dto.Upload, durationSeconds float64) (*entities.RecordingChunk, error) {
	if upload.Path == "" {
		return nil, apperror.InvalidInput("recording file is required")
	}
	if math.IsNaN(durationSeconds) || durationSeconds < 0 || durationSeconds > constant.MaxRecordingDurationSeconds {
		return nil, apperror.InvalidInput(fmt.Sprintf("duration must be between 0 and %d seconds", constant.MaxRecordingDurationSeconds))
	}

	ctx = withFields(ctx, "append_recording", sessionId)
	unlock, err := s.lock(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.findSession(ctx, sessionId); err != nil {
		return nil, err
	}

	maxOrder, err := s.repo.MaxRecordingChunkOrder(ctx, sessionId)
	if err != nil {
		return nil, apperror.Storage("failed to read recording order", err)
	}

	id := uuid.New()
	order := maxOrder + 1
	ext := filepath.Ext(upload.Path)
	if ext == "" {
		ext = "." + constant.RecordingFormat
	}
	dst := filepath.Join(s.dir, fmt.Sprintf("recording_%s_%d_%s%s", sessionId, order, id, ext))
	if err := s.files.Move(upload.Path, dst); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("upload", upload.Path).Msg("failed to store recording file")
		return nil, apperror.Wrap(apperror.CodeStorageFailure, "FILE_ERROR", "failed to store recording file", err)
	}

	size := upload.Size
	if size <= 0 {
		if stat, err := s.files.Size(dst); err == nil {
			size = stat
		}
	}

	chunk := &entities.RecordingChunk{
		ID:        id,
		SessionId: sessionId,
		Duration:  int64(math.Round(durationSeconds * 1000)),
		Order:     order,
		Filepath:  dst,
		Metadata: entities.RecordingMetadata{
			Size:       size,
			Format:     constant.RecordingFormat,
			AudioCodec: constant.RecordingAudioCodec,
			VideoCodec: constant.RecordingVideoCodec,
		},
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateRecordingChunk(ctx, chunk); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to save recording")
		s.removeFile(ctx, dst)
		return nil, apperror.Storage("failed to save recording", err)
	}

	if err := s.recomputeAggregate(ctx, sessionId); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("chunk_id", chunk.ID.String()).
		Int("order", chunk.Order).
		Int64("duration_ms", chunk.Duration).
		Msg("recording saved")
	return chunk, nil
}

func (s *recordingService) List(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error) {
	if _, err := s.findSession(ctx, sessionId); err != nil {
		return nil, err
	}
	chunks, err := s.repo.GetRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		return nil, apperror.Storage("failed to list recordings", err)
	}
	return chunks, nil
}

func (s *recordingService) Get(ctx context.Context, sessionId, chunkId uuid.UUID) (*entities.RecordingChunk, error) {
	chunk, err := s.repo.FindRecordingChunk(ctx, sessionId, chunkId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("RECORDING_NOT_FOUND", "recording not found")
		}
		return nil, apperror.Storage("failed to load recording", err)
	}
	return chunk, nil
}

func (s *recordingService) Delete(ctx context.Context, sessionId, chunkId uuid.UUID) error {
	ctx = withFields(ctx, "delete_recording", sessionId)
	unlock, err := s.lock(ctx, sessionId)
	if err != nil {
		return err
	}
	defer unlock()

	chunk, err := s.Get(ctx, sessionId, chunkId)
	if err != nil {
		return err
	}

	s.removeFile(ctx, chunk.Filepath)
	if err := s.repo.DeleteRecordingChunk(ctx, chunk.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("RECORDING_NOT_FOUND", "recording not found")
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("chunk_id", chunkId.String()).Msg("failed to delete recording")
		return apperror.Storage("failed to delete recording", err)
	}

	if err := s.compact(ctx, sessionId); err != nil {
		return err
	}
	if err := s.recomputeAggregate(ctx, sessionId); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("chunk_id", chunkId.String()).Msg("recording deleted")
	return nil
}

// compact renumbers the remaining chunks to 1..N keeping their relative order.
func (s *recordingService) compact(ctx context.Context, sessionId uuid.UUID) error {
	chunks, err := s.repo.GetRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		return apperror.Storage("failed to list recordings", err)
	}
	ids := make([]uuid.UUID, 0, len(chunks))
	dense := true
	for i, chunk := range chunks {
		ids = append(ids, chunk.ID)
		if chunk.Order != i+1 {
			dense = false
		}
	}
	if dense {
		return nil
	}
	if err := s.repo.SetRecordingChunkOrder(ctx, sessionId, ids); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to compact recording order")
		return apperror.Storage("failed to compact recording order", err)
	}
	return nil
}

// SetOrder validates the whole list before touching any row, then writes the
// new order in one statement.
func (s *recordingService) SetOrder(ctx context.Context, sessionId uuid.UUID, chunkIds []uuid.UUID) ([]*entities.RecordingChunk, error) {
	ctx = withFields(ctx, "reorder_recordings", sessionId)
	unlock, err := s.lock(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.findSession(ctx, sessionId); err != nil {
		return nil, err
	}
	chunks, err := s.repo.GetRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		return nil, apperror.Storage("failed to list recordings", err)
	}

	owned := make(map[uuid.UUID]struct{}, len(chunks))
	for _, chunk := range chunks {
		owned[chunk.ID] = struct{}{}
	}
	seen := make(map[uuid.UUID]struct{}, len(chunkIds))
	for _, id := range chunkIds {
		if _, ok := owned[id]; !ok {
			return nil, apperror.NotFound("RECORDING_NOT_FOUND", "recording "+id.String()+" does not belong to this session")
		}
		if _, dup := seen[id]; dup {
			return nil, apperror.InvalidInput("recording " + id.String() + " is listed more than once")
		}
		seen[id] = struct{}{}
	}
	if len(seen) != len(owned) {
		return nil, apperror.InvalidInput(fmt.Sprintf("expected all %d recordings of the session, got %d", len(owned), len(seen)))
	}

	if err := s.repo.SetRecordingChunkOrder(ctx, sessionId, chunkIds); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to reorder recordings")
		return nil, apperror.Storage("failed to reorder recordings", err)
	}
	if err := s.recomputeAggregate(ctx, sessionId); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int("count", len(chunkIds)).Msg("recordings reordered")
	chunks, err = s.repo.GetRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		return nil, apperror.Storage("failed to list recordings", err)
	}
	return chunks, nil
}

func (s *recordingService) DeleteAll(ctx context.Context, sessionId uuid.UUID) (int, error) {
	ctx = withFields(ctx, "delete_all_recordings", sessionId)
	unlock, err := s.lock(ctx, sessionId)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if _, err := s.findSession(ctx, sessionId); err != nil {
		return 0, err
	}
	chunks, err := s.repo.GetRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		return 0, apperror.Storage("failed to list recordings", err)
	}
	for _, chunk := range chunks {
		s.removeFile(ctx, chunk.Filepath)
	}

	deleted, err := s.repo.DeleteRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to delete recordings")
		return 0, apperror.Storage("failed to delete recordings", err)
	}
	if err := s.recomputeAggregate(ctx, sessionId); err != nil {
		return 0, err
	}

	zerolog.Ctx(ctx).Info().Int64("deleted", deleted).Msg("all recordings deleted")
	return int(deleted), nil
}
