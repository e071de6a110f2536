package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"mimic-export/constant"
	"mimic-export/dto"
	"mimic-export/entities"
	"mimic-export/pkg/apperror"
	"mimic-export/pkg/rabbitmq"
	"mimic-export/service"
)

// Dependencies are what the routes call into. Queue may be nil, in which
// case exports are only available synchronously.
type Dependencies struct {
	Services  *service.Services
	Queue     rabbitmq.Publisher
	UploadDir string
}

type routes struct {
	Dependencies
}

// NewRouter maps the exposed session, recording and export operations onto
// HTTP. ctx carries the request logger.
func NewRouter(ctx context.Context, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx))
	addHealth(r)

	h := &routes{Dependencies: deps}
	api := r.Group("/api")

	sessions := api.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("", h.listSessions)
	sessions.GET("/:id", h.getSession)
	sessions.PATCH("/:id", h.updateSession)
	sessions.DELETE("/:id", h.deleteSession)
	sessions.POST("/:id/complete", h.setSessionStatus(deps.Services.Sessions.Complete))
	sessions.POST("/:id/archive", h.setSessionStatus(deps.Services.Sessions.Archive))
	sessions.POST("/:id/reopen", h.setSessionStatus(deps.Services.Sessions.Reopen))

	sessions.POST("/:id/recordings", h.appendRecording)
	sessions.GET("/:id/recordings", h.listRecordings)
	sessions.PUT("/:id/recordings/order", h.reorderRecordings)
	sessions.DELETE("/:id/recordings", h.deleteAllRecordings)
	sessions.DELETE("/:id/recordings/:chunkId", h.deleteRecording)

	sessions.POST("/:id/export", h.exportSession)
	sessions.GET("/:id/exports", h.listExports)
	if deps.Queue != nil {
		sessions.POST("/:id/export/queue", h.queueExport)
	}

	exports := api.Group("/exports")
	exports.GET("/:id", h.getExport)
	exports.DELETE("/:id", h.deleteExport)
	exports.GET("/:id/status", h.exportStatus)
	exports.POST("/:id/downloaded", h.markDownloaded)
	exports.GET("/:id/download", h.downloadExport)

	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger attaches the service logger to each request context.
func requestLogger(ctx context.Context) gin.HandlerFunc {
	base := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		logger := base.With().Str("method", c.Request.Method).Str("path", c.FullPath()).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
		logger.Debug().Int("status", c.Writer.Status()).Dur("latency", time.Since(start)).Msg("request handled")
	}
}

func writeError(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("unclassified error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    apperror.CodeOperationError,
			"message": "internal error",
		}})
		return
	}
	message := appErr.Message
	if appErr.Code.HTTPStatus() >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
	} else if appErr.Cause != nil {
		message = appErr.Error()
	}
	c.JSON(appErr.Code.HTTPStatus(), gin.H{"error": gin.H{
		"code":    appErr.Code,
		"reason":  appErr.Reason,
		"message": message,
	}})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		writeError(c, apperror.InvalidInput(name+" must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

type createSessionRequest struct {
	VideoId     uuid.UUID `json:"videoId" binding:"required"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

func (h *routes) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.InvalidInput(err.Error()))
		return
	}
	session, err := h.Services.Sessions.Create(c.Request.Context(), req.VideoId, req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *routes) listSessions(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		writeError(c, apperror.InvalidInput("page must be a number"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(constant.DefaultPageLimit)))
	if err != nil {
		writeError(c, apperror.InvalidInput("limit must be a number"))
		return
	}

	var filter dto.SessionFilter
	if v := c.Query("videoId"); v != "" {
		videoId, err := uuid.Parse(v)
		if err != nil {
			writeError(c, apperror.InvalidInput("videoId must be a uuid"))
			return
		}
		filter.VideoId = &videoId
	}
	if v := c.Query("status"); v != "" {
		status := constant.SessionStatus(v)
		filter.Status = &status
	}

	result, err := h.Services.Sessions.List(c.Request.Context(), page, limit, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *routes) getSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	includeVideo := c.Query("includeVideo") == "true"
	session, err := h.Services.Sessions.Get(c.Request.Context(), id, includeVideo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *routes) updateSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch dto.SessionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, apperror.InvalidInput(err.Error()))
		return
	}
	session, err := h.Services.Sessions.Update(c.Request.Context(), id, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *routes) deleteSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Services.Sessions.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *routes) setSessionStatus(op func(ctx context.Context, id uuid.UUID) (*entities.Session, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		session, err := op(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func (h *routes) appendRecording(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperror.InvalidInput("file is required"))
		return
	}
	duration, err := strconv.ParseFloat(c.PostForm("duration"), 64)
	if err != nil {
		writeError(c, apperror.InvalidInput("duration must be a number of seconds"))
		return
	}

	ext := filepath.Ext(file.Filename)
	if ext == "" {
		ext = "." + constant.RecordingFormat
	}
	tmp := filepath.Join(h.UploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, tmp); err != nil {
		writeError(c, apperror.Wrap(apperror.CodeStorageFailure, "FILE_ERROR", "failed to receive upload", err))
		return
	}

	chunk, err := h.Services.Recordings.Append(c.Request.Context(), id, dto.Upload{Path: tmp, Size: file.Size}, duration)
	if err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			zerolog.Ctx(c.Request.Context()).Warn().Err(rmErr).Str("filepath", tmp).Msg("failed to remove upload")
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chunk)
}

func (h *routes) listRecordings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	chunks, err := h.Services.Recordings.List(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunks)
}

type reorderRequest struct {
	ChunkIds []uuid.UUID `json:"chunkIds" binding:"required"`
}

func (h *routes) reorderRecordings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperror.InvalidInput("chunkIds must be a list of recording ids"))
		return
	}
	chunks, err := h.Services.Recordings.SetOrder(c.Request.Context(), id, req.ChunkIds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunks)
}

func (h *routes) deleteRecording(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	chunkId, ok := pathID(c, "chunkId")
	if !ok {
		return
	}
	if err := h.Services.Recordings.Delete(c.Request.Context(), id, chunkId); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *routes) deleteAllRecordings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deleted, err := h.Services.Recordings.DeleteAll(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *routes) bindSettings(c *gin.Context) (dto.ExportSettings, bool) {
	var settings dto.ExportSettings
	if c.Request.ContentLength == 0 {
		return settings, true
	}
	if err := c.ShouldBindJSON(&settings); err != nil {
		writeError(c, apperror.InvalidInput(err.Error()))
		return settings, false
	}
	return settings, true
}

func (h *routes) exportSession(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	settings, ok := h.bindSettings(c)
	if !ok {
		return
	}
	export, err := h.Services.Exports.ExportSession(c.Request.Context(), id, settings)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, export)
}

func (h *routes) queueExport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	settings, ok := h.bindSettings(c)
	if !ok {
		return
	}
	settings, err := service.NormalizeSettings(settings)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.Services.Sessions.Get(c.Request.Context(), id, false); err != nil {
		writeError(c, err)
		return
	}

	err = h.Queue.Publish(c.Request.Context(), dto.ExportRequestMessage{SessionId: id, Settings: settings})
	if err != nil {
		writeError(c, apperror.Wrap(apperror.CodeOperationError, "QUEUE_ERROR", "failed to queue export", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sessionId": id, "status": constant.ExportJobStatusPending})
}

func (h *routes) listExports(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	exports, err := h.Services.Exports.ListExports(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exports)
}

func (h *routes) getExport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	export, err := h.Services.Exports.GetExport(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (h *routes) deleteExport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Services.Exports.DeleteExport(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *routes) exportStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	status, err := h.Services.Exports.GetExportStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *routes) markDownloaded(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	export, err := h.Services.Exports.MarkDownloaded(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

func (h *routes) downloadExport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	export, err := h.Services.Exports.GetExport(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := os.Stat(export.Filepath); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("export_id", id.String()).Msg("export file unavailable")
		writeError(c, apperror.NotFound("EXPORT_FILE_NOT_FOUND", "export file not found"))
		return
	}
	export, err = h.Services.Exports.MarkDownloaded(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.FileAttachment(export.Filepath, filepath.Base(export.Filepath))
}
