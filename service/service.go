package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"mimic-export/constant"
	"mimic-export/entities"
	"mimic-export/pkg/apperror"
	"mimic-export/pkg/encoder"
	"mimic-export/pkg/filestore"
	"mimic-export/pkg/keylock"
	"mimic-export/pkg/objectstore"
	"mimic-export/repository"
)

type Options struct {
	RecordingsDir string
	ExportsDir    string
	// EncodeTimeout bounds a single encoder run. Zero disables the bound.
	EncodeTimeout time.Duration
}

type Services struct {
	Sessions   SessionService
	Recordings RecordingService
	Exports    ExportService
}

// core holds what the three services share. The session lock is the one
// critical section guarding a session row and its chunks.
type core struct {
	repo      repository.Repository
	files     filestore.FileStore
	publisher objectstore.Publisher
	locks     *keylock.Locker[uuid.UUID]
	now       func() time.Time
}

// New wires the services over one shared per-session lock. publisher may be
// nil when exports are kept local only.
func New(repo repository.Repository, files filestore.FileStore, enc encoder.Encoder, publisher objectstore.Publisher, opts Options) *Services {
	c := &core{
		repo:      repo,
		files:     files,
		publisher: publisher,
		locks:     keylock.New[uuid.UUID](),
		now:       func() time.Time { return time.Now().UTC() },
	}
	return &Services{
		Sessions:   &sessionService{core: c},
		Recordings: &recordingService{core: c, dir: opts.RecordingsDir},
		Exports: &exportService{
			core:    c,
			encoder: enc,
			flights: keylock.New[uuid.UUID](),
			dir:     opts.ExportsDir,
			timeout: opts.EncodeTimeout,
		},
	}
}

func (c *core) lock(ctx context.Context, sessionId uuid.UUID) (func(), error) {
	unlock, err := c.locks.Lock(ctx, sessionId)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeOperationError, "LOCK_TIMEOUT", "failed to acquire session lock", err)
	}
	return unlock, nil
}

func (c *core) findSession(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	session, err := c.repo.FindSessionById(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("SESSION_NOT_FOUND", "session not found")
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", id.String()).Msg("failed to find session")
		return nil, apperror.Storage("failed to load session", err)
	}
	return session, nil
}

func (c *core) findVideo(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video, err := c.repo.FindVideoById(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("VIDEO_NOT_FOUND", "video not found")
		}
		return nil, apperror.Storage("failed to load video", err)
	}
	return video, nil
}

// transition checks a status write against table. Rewriting the current
// status is accepted.
func transition(session *entities.Session, target constant.SessionStatus, table constant.Transitions) error {
	if !target.Valid() {
		return apperror.InvalidInput("unknown session status " + string(target))
	}
	if session.Status == target {
		return nil
	}
	if !table.Allows(session.Status, target) {
		return apperror.Conflict("INVALID_STATUS_TRANSITION",
			"cannot move session from "+string(session.Status)+" to "+string(target))
	}
	return nil
}

// setStatus is the only path that writes sessions.status.
func (c *core) setStatus(ctx context.Context, session *entities.Session, target constant.SessionStatus, table constant.Transitions, extra map[string]interface{}) error {
	if err := transition(session, target, table); err != nil {
		return err
	}
	now := c.now()
	updates := map[string]interface{}{
		"status":     target,
		"updated_at": now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := c.repo.UpdateSession(ctx, session.ID, updates); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("SESSION_NOT_FOUND", "session not found")
		}
		return apperror.Storage("failed to update session status", err)
	}
	session.Status = target
	session.UpdatedAt = now
	return nil
}

// recomputeAggregate rewrites the derived duration and chunk counters from
// the current chunk rows. Callers hold the session lock.
func (c *core) recomputeAggregate(ctx context.Context, sessionId uuid.UUID) error {
	total, count, err := c.repo.SumRecordingChunks(ctx, sessionId)
	if err != nil {
		return apperror.Storage("failed to aggregate recordings", err)
	}
	average := 0.0
	if count > 0 {
		average = float64(total) / float64(count)
	}
	err = c.repo.UpdateSession(ctx, sessionId, map[string]interface{}{
		"total_duration":              total,
		"meta_total_chunks":           count,
		"meta_average_chunk_duration": average,
		"updated_at":                  c.now(),
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionId.String()).Msg("failed to update session aggregate")
		return apperror.Storage("failed to update session aggregate", err)
	}
	return nil
}

// removeFile deletes a backing file. Failures are logged, never returned.
func (c *core) removeFile(ctx context.Context, path string) {
	if err := c.files.Remove(path); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("filepath", path).Msg("failed to delete file")
		return
	}
	zerolog.Ctx(ctx).Debug().Str("filepath", path).Msg("file deleted")
}

// unpublish drops a published export object. Failures are logged only.
func (c *core) unpublish(ctx context.Context, key string) {
	if key == "" || c.publisher == nil {
		return
	}
	if err := c.publisher.Remove(ctx, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("object_key", key).Msg("failed to remove published export")
	}
}

// withFields returns ctx with a logger carrying the operation and session.
func withFields(ctx context.Context, operation string, sessionId uuid.UUID) context.Context {
	logger := zerolog.Ctx(ctx).With().
		Str("operation", operation).
		Str("session_id", sessionId.String()).
		Logger()
	return logger.WithContext(ctx)
}
