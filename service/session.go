package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"mimic-export/constant"
	"mimic-export/dto"
	"mimic-export/entities"
	"mimic-export/pkg/apperror"
	"mimic-export/repository"
)

type SessionService interface {
	Create(ctx context.Context, videoId uuid.UUID, name, description string) (*entities.Session, error)
	Get(ctx context.Context, id uuid.UUID, includeVideo bool) (*entities.Session, error)
	Update(ctx context.Context, id uuid.UUID, patch dto.SessionPatch) (*entities.Session, error)
	List(ctx context.Context, page, limit int, filter dto.SessionFilter) (*dto.SessionPage, error)
	Delete(ctx context.Context, id uuid.UUID) error

	Complete(ctx context.Context, id uuid.UUID) (*entities.Session, error)
	Archive(ctx context.Context, id uuid.UUID) (*entities.Session, error)
	Reopen(ctx context.Context, id uuid.UUID) (*entities.Session, error)
}

type sessionService struct {
	*core
}

func (s *sessionService) Create(ctx context.Context, videoId uuid.UUID, name, description string) (*entities.Session, error) {
	if _, err := s.findVideo(ctx, videoId); err != nil {
		return nil, err
	}

	now := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Session " + now.Format("2006-01-02")
	}

	session := &entities.Session{
		ID:          uuid.New(),
		VideoId:     videoId,
		Name:        name,
		Description: description,
		Status:      constant.SessionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", videoId.String()).Msg("failed to create session")
		return nil, apperror.Storage("failed to create session", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("video_id", videoId.String()).
		Msg("session created")
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, id uuid.UUID, includeVideo bool) (*entities.Session, error) {
	session, err := s.findSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !includeVideo {
		return session, nil
	}

	video, err := s.repo.FindVideoById(ctx, session.VideoId)
	switch {
	case err == nil:
		session.Video = video.Summary()
	case errors.Is(err, repository.ErrNotFound):
		zerolog.Ctx(ctx).Warn().Str("session_id", id.String()).Msg("session references a missing video")
	default:
		return nil, apperror.Storage("failed to load video", err)
	}
	return session, nil
}

func (s *sessionService) Update(ctx context.Context, id uuid.UUID, patch dto.SessionPatch) (*entities.Session, error) {
	ctx = withFields(ctx, "update_session", id)
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.findSession(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperror.InvalidInput("name must not be empty")
		}
		updates["name"] = name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.ExportedAt != nil {
		updates["exported_at"] = patch.ExportedAt.UTC()
	}
	if patch.Notes != nil {
		updates["meta_notes"] = *patch.Notes
	}

	if patch.Status != nil {
		err = s.setStatus(ctx, session, *patch.Status, constant.UserTransitions, updates)
	} else {
		updates["updated_at"] = s.now()
		err = s.repo.UpdateSession(ctx, id, updates)
		if err != nil {
			err = apperror.Storage("failed to update session", err)
		}
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update session")
		return nil, err
	}

	return s.findSession(ctx, id)
}

func (s *sessionService) List(ctx context.Context, page, limit int, filter dto.SessionFilter) (*dto.SessionPage, error) {
	if page == 0 {
		page = constant.DefaultPage
	}
	if limit == 0 {
		limit = constant.DefaultPageLimit
	}
	if page < 1 {
		return nil, apperror.InvalidInput("page must be at least 1")
	}
	if limit < 1 || limit > constant.MaxPageLimit {
		return nil, apperror.InvalidInput("limit must be between 1 and 100")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperror.InvalidInput("unknown session status " + string(*filter.Status))
	}

	sessions, total, err := s.repo.ListSessions(ctx, filter, limit, (page-1)*limit)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to list sessions")
		return nil, apperror.Storage("failed to list sessions", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &dto.SessionPage{
		Sessions:   sessions,
		Total:      total,
		Page:       page,
		TotalPages: totalPages,
	}, nil
}

// Delete removes the session with its recordings and exports. Files and
// published objects go first and best-effort; row removal is what makes the
// delete.
func (s *sessionService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx = withFields(ctx, "delete_session", id)
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.findSession(ctx, id); err != nil {
		return err
	}

	chunks, err := s.repo.GetRecordingChunksBySessionId(ctx, id)
	if err != nil {
		return apperror.Storage("failed to list recordings", err)
	}
	for _, chunk := range chunks {
		s.removeFile(ctx, chunk.Filepath)
	}
	exports, err := s.repo.GetExportsBySessionId(ctx, id)
	if err != nil {
		return apperror.Storage("failed to list exports", err)
	}
	for _, export := range exports {
		s.removeFile(ctx, export.Filepath)
		s.unpublish(ctx, export.ObjectKey)
	}

	if _, err := s.repo.DeleteRecordingChunksBySessionId(ctx, id); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to delete recordings")
		return apperror.Storage("failed to delete recordings", err)
	}
	if _, err := s.repo.DeleteExportsBySessionId(ctx, id); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to delete exports")
		return apperror.Storage("failed to delete exports", err)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("SESSION_NOT_FOUND", "session not found")
		}
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to delete session")
		return apperror.Storage("failed to delete session", err)
	}

	zerolog.Ctx(ctx).Info().
		Int("recordings", len(chunks)).
		Int("exports", len(exports)).
		Msg("session deleted")
	return nil
}

func (s *sessionService) Complete(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	return s.moveTo(ctx, id, constant.SessionStatusCompleted)
}

func (s *sessionService) Archive(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	return s.moveTo(ctx, id, constant.SessionStatusArchived)
}

func (s *sessionService) Reopen(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	return s.moveTo(ctx, id, constant.SessionStatusActive)
}

func (s *sessionService) moveTo(ctx context.Context, id uuid.UUID, target constant.SessionStatus) (*entities.Session, error) {
	ctx = withFields(ctx, "set_status", id)
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.findSession(ctx, id)
	if err != nil {
		return nil, err
	}
	from := session.Status
	if err := s.setStatus(ctx, session, target, constant.UserTransitions, nil); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("session status changed")
	return session, nil
}
