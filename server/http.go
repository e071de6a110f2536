package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
	"mimic-export/config"
	"mimic-export/constant"
	exportHandler "mimic-export/handler"
	"mimic-export/pkg/encoder"
	"mimic-export/pkg/filestore"
	"mimic-export/pkg/objectstore"
	"mimic-export/pkg/rabbitmq"
	"mimic-export/repository"
	"mimic-export/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, err := OpenRepository(cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to open repository")
	}
	if err := repo.Migrate(ctx); err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to migrate database")
	}

	files := filestore.NewOS()
	for _, dir := range []string{cfg.Paths.Recordings, cfg.Paths.Exports, cfg.Paths.Uploads} {
		if err := files.EnsureDir(dir); err != nil {
			zerolog.Ctx(ctx).Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	var publisher objectstore.Publisher
	if cfg.Storage != nil {
		publisher = objectstore.NewMinIO(cfg.Storage, cfg.MinIOBucket)
	}

	services := service.New(repo, files, encoder.NewFFmpeg(encoder.WithBinary(cfg.Encoder.FFmpegPath)), publisher, service.Options{
		RecordingsDir: cfg.Paths.Recordings,
		ExportsDir:    cfg.Paths.Exports,
		EncodeTimeout: cfg.Encoder.Timeout,
	})

	deps := Dependencies{Services: services, UploadDir: cfg.Paths.Uploads}
	if cfg.Queue.Enabled() {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else {
			deps.Queue = rabbitmq.NewPublisher(conn, cfg.Queue)

			serviceDeps := exportHandler.ServiceDependencies{ExportService: services.Exports}
			exportConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, exportHandler.ExportRequestHandler)
			go func() {
				err := exportConsumer.Consume(ctx, serviceDeps)
				if err != nil && !errors.Is(err, context.Canceled) {
					zerolog.Ctx(ctx).Error().Err(err).Msg("Export consumer error")
				}
			}()
		}
	}

	handler := http.Server{
		Handler:           NewRouter(ctx, deps),
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// OpenRepository opens the configured store.
func OpenRepository(cfg *config.Config) (repository.Repository, error) {
	level := logger.Warn
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		level = logger.Info
	}
	if cfg.Database.Driver == config.DriverSQLite {
		return repository.OpenSQLite(cfg.Database.Path, level)
	}
	return repository.NewRepo(cfg.DB, level)
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
