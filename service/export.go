package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"mimic-export/constant"
	"mimic-export/dto"
	"mimic-export/entities"
	"mimic-export/pkg/apperror"
	"mimic-export/pkg/encoder"
	"mimic-export/pkg/keylock"
	"mimic-export/repository"
)

type ExportService interface {
	ExportSession(ctx context.Context, sessionId uuid.UUID, settings dto.ExportSettings) (*entities.Export, error)
	ListExports(ctx context.Context, sessionId uuid.UUID) ([]*entities.Export, error)
	GetExport(ctx context.Context, id uuid.UUID) (*entities.Export, error)
	MarkDownloaded(ctx context.Context, id uuid.UUID) (*entities.Export, error)
	DeleteExport(ctx context.Context, id uuid.UUID) error
	GetExportStatus(ctx context.Context, id uuid.UUID) (*dto.ExportStatus, error)
}

type exportService struct {
	*core
	encoder encoder.Encoder
	// flights admits one export per session; a second caller gets Conflict
	// instead of queueing behind the session lock.
	flights *keylock.Locker[uuid.UUID]
	dir     string
	timeout time.Duration
}

// NormalizeSettings fills defaults and rejects unsupported values.
func NormalizeSettings(settings dto.ExportSettings) (dto.ExportSettings, error) {
	if settings.Type == "" {
		settings.Type = constant.ExportTypeSolo
	}
	if settings.Format == "" {
		settings.Format = constant.ExportFormatMP4
	}
	if settings.Quality == "" {
		settings.Quality = constant.ExportQuality720p
	}
	if settings.Fps == 0 {
		settings.Fps = constant.DefaultFPS
	}

	switch settings.Type {
	case constant.ExportTypeSolo, constant.ExportTypeComparison:
	default:
		return settings, apperror.InvalidInput("export type must be solo or comparison")
	}
	switch settings.Format {
	case constant.ExportFormatMP4, constant.ExportFormatWebM:
	default:
		return settings, apperror.InvalidInput("export format must be mp4 or webm")
	}
	if _, ok := encoder.ResolutionFor(settings.Quality); !ok {
		return settings, apperror.InvalidInput("export quality must be 480p, 720p or 1080p")
	}
	supported := false
	for _, fps := range constant.SupportedFPS {
		if settings.Fps == fps {
			supported = true
		}
	}
	if !supported {
		return settings, apperror.InvalidInput(fmt.Sprintf("fps %d is not supported", settings.Fps))
	}
	return settings, nil
}

// ExportSession renders the session and records the result. The session is
// exporting only while this call runs: it ends exported on success and
// active on any failure.
func (s *exportService) ExportSession(ctx context.Context, sessionId uuid.UUID, settings dto.ExportSettings) (_ *entities.Export, err error) {
	settings, err = NormalizeSettings(settings)
	if err != nil {
		return nil, err
	}

	ctx = withFields(ctx, "export_session", sessionId)
	release, ok := s.flights.TryLock(sessionId)
	if !ok {
		return nil, apperror.Conflict("EXPORT_IN_PROGRESS", "an export is already running for this session")
	}
	defer release()

	unlock, err := s.lock(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.findSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	chunks, err := s.repo.GetRecordingChunksBySessionId(ctx, sessionId)
	if err != nil {
		return nil, apperror.Storage("failed to list recordings", err)
	}
	if len(chunks) == 0 {
		return nil, apperror.New(apperror.CodeNoRecordings, "NO_RECORDINGS", "no recordings found for this session")
	}

	if err = s.setStatus(ctx, session, constant.SessionStatusExporting, constant.ExportTransitions, nil); err != nil {
		return nil, err
	}

	var (
		output string
		saved  *entities.Export
	)
	defer func() {
		if err == nil {
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to export session")
		s.rollback(ctx, session, output, saved)
		err = apperror.Classify(err, apperror.CodeExportError, "EXPORT_ERROR", "failed to export session")
	}()

	inputs, err := s.plan(ctx, session, chunks, settings.Type)
	if err != nil {
		return nil, err
	}

	if err = s.files.EnsureDir(s.dir); err != nil {
		return nil, apperror.Wrap(apperror.CodeStorageFailure, "FILE_ERROR", "failed to create exports directory", err)
	}
	output, err = s.outputPath(sessionId, settings)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("type", string(settings.Type)).
		Int("input_count", len(inputs)).
		Str("output", output).
		Msg("encoding export")
	if err = s.encode(ctx, inputs, output, settings); err != nil {
		return nil, err
	}

	size, err := s.files.Size(output)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeStorageFailure, "FILE_ERROR", "encoder output is missing", err)
	}

	record := &entities.Export{
		ID:        uuid.New(),
		SessionId: sessionId,
		Type:      settings.Type,
		Format:    settings.Format,
		Quality:   settings.Quality,
		Fps:       settings.Fps,
		Filepath:  output,
		Filesize:  size,
		CreatedAt: s.now(),
	}
	if s.publisher != nil {
		key := fmt.Sprintf("exports/%s/%s", sessionId, filepath.Base(output))
		if pubErr := s.publisher.Publish(ctx, output, key); pubErr != nil {
			zerolog.Ctx(ctx).Warn().Err(pubErr).Str("object_key", key).Msg("failed to publish export, keeping local copy only")
		} else {
			record.ObjectKey = key
		}
	}

	if err = s.repo.CreateExport(ctx, record); err != nil {
		s.unpublish(ctx, record.ObjectKey)
		return nil, apperror.Storage("failed to save export", err)
	}
	saved = record

	exportedAt := s.now()
	err = s.setStatus(ctx, session, constant.SessionStatusExported, constant.ExportTransitions, map[string]interface{}{
		"exported_at": exportedAt,
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("export_id", record.ID.String()).
		Str("type", string(record.Type)).
		Int64("filesize", record.Filesize).
		Msg("session exported")
	return record, nil
}

// plan returns the encoder inputs: the takes in order, preceded by the
// reference video for a comparison cut.
func (s *exportService) plan(ctx context.Context, session *entities.Session, chunks []*entities.RecordingChunk, kind constant.ExportType) ([]string, error) {
	inputs := make([]string, 0, len(chunks)+1)
	if kind == constant.ExportTypeComparison {
		video, err := s.findVideo(ctx, session.VideoId)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, video.Filepath)
	}
	for _, chunk := range chunks {
		inputs = append(inputs, chunk.Filepath)
	}
	return inputs, nil
}

// outputPath is export_{session}_{type}_{unixMillis}.{format}; the
// millisecond stamp is advanced past any file already on disk.
func (s *exportService) outputPath(sessionId uuid.UUID, settings dto.ExportSettings) (string, error) {
	stamp := s.now().UnixMilli()
	for {
		name := fmt.Sprintf("export_%s_%s_%d.%s", sessionId, settings.Type, stamp, settings.Format)
		path := filepath.Join(s.dir, name)
		exists, err := s.files.Exists(path)
		if err != nil {
			return "", apperror.Wrap(apperror.CodeStorageFailure, "FILE_ERROR", "failed to check export path", err)
		}
		if !exists {
			return path, nil
		}
		stamp++
	}
}

func (s *exportService) encode(ctx context.Context, inputs []string, output string, settings dto.ExportSettings) error {
	encodeCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		encodeCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := s.encoder.Encode(encodeCtx, inputs, output, encoder.Options{
		Format:  settings.Format,
		FPS:     settings.Fps,
		Quality: settings.Quality,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(apperror.CodeEncodeFailure, "ENCODE_TIMEOUT", "encoder timed out", err)
	}
	return apperror.Wrap(apperror.CodeEncodeFailure, "ENCODE_FAILED", "encoder failed", err)
}

// rollback returns the session to active and discards what the failed run
// produced. It runs detached from ctx so a cancelled caller still rolls back.
func (s *exportService) rollback(ctx context.Context, session *entities.Session, output string, record *entities.Export) {
	ctx = context.WithoutCancel(ctx)
	if record != nil {
		if err := s.repo.DeleteExport(ctx, record.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			zerolog.Ctx(ctx).Error().Err(err).Str("export_id", record.ID.String()).Msg("failed to remove export row")
		}
		s.unpublish(ctx, record.ObjectKey)
	}
	if output != "" {
		s.removeFile(ctx, output)
	}
	if err := s.setStatus(ctx, session, constant.SessionStatusActive, constant.ExportTransitions, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to reset session status")
	}
}

func (s *exportService) ListExports(ctx context.Context, sessionId uuid.UUID) ([]*entities.Export, error) {
	if _, err := s.findSession(ctx, sessionId); err != nil {
		return nil, err
	}
	exports, err := s.repo.GetExportsBySessionId(ctx, sessionId)
	if err != nil {
		return nil, apperror.Storage("failed to list exports", err)
	}
	return exports, nil
}

func (s *exportService) GetExport(ctx context.Context, id uuid.UUID) (*entities.Export, error) {
	export, err := s.repo.FindExportById(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("EXPORT_NOT_FOUND", "export not found")
		}
		return nil, apperror.Storage("failed to load export", err)
	}
	return export, nil
}

// MarkDownloaded stamps downloadedAt; repeat calls move the stamp forward.
func (s *exportService) MarkDownloaded(ctx context.Context, id uuid.UUID) (*entities.Export, error) {
	if err := s.repo.MarkExportDownloaded(ctx, id, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("EXPORT_NOT_FOUND", "export not found")
		}
		return nil, apperror.Storage("failed to mark export downloaded", err)
	}
	return s.GetExport(ctx, id)
}

func (s *exportService) DeleteExport(ctx context.Context, id uuid.UUID) error {
	export, err := s.GetExport(ctx, id)
	if err != nil {
		return err
	}
	ctx = withFields(ctx, "delete_export", export.SessionId)

	s.removeFile(ctx, export.Filepath)
	s.unpublish(ctx, export.ObjectKey)
	if err := s.repo.DeleteExport(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("EXPORT_NOT_FOUND", "export not found")
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("export_id", id.String()).Msg("failed to delete export")
		return apperror.Storage("failed to delete export", err)
	}

	zerolog.Ctx(ctx).Info().Str("export_id", id.String()).Msg("export deleted")
	return nil
}

// GetExportStatus reports a finished job for every stored export; exports
// are written only once encoding has completed.
func (s *exportService) GetExportStatus(ctx context.Context, id uuid.UUID) (*dto.ExportStatus, error) {
	export, err := s.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ExportStatus{
		ExportId: export.ID,
		Status:   constant.ExportJobStatusCompleted,
		Progress: 100,
	}, nil
}
