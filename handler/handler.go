package handler

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"mimic-export/dto"
	"mimic-export/pkg/apperror"
	"mimic-export/service"
)

type ServiceDependencies struct {
	ExportService service.ExportService
}

// ExportRequestHandler renders a queued export. Requests the service rejects
// as the caller's fault are logged and dropped; other failures are returned
// for retry.
func ExportRequestHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var request dto.ExportRequestMessage
	if err := json.Unmarshal(msg.Body, &request); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal export request")
		return backoff.Permanent(err)
	}
	if request.SessionId == uuid.Nil {
		zerolog.Ctx(ctx).Error().Msg("export request without session id")
		return backoff.Permanent(apperror.InvalidInput("sessionId is required"))
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", request.SessionId.String()).
		Str("type", string(request.Settings.Type)).
		Msg("received export request")

	export, err := deps.ExportService.ExportSession(ctx, request.SessionId, request.Settings)
	if err != nil {
		if apperror.IsClient(err) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", request.SessionId.String()).Msg("export request rejected")
			return nil
		}
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", request.SessionId.String()).
		Str("export_id", export.ID.String()).
		Msg("export request completed")
	return nil
}
