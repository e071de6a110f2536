package config

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	Database    Database      `yaml:"database"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Paths       Paths         `yaml:"paths"`
	Encoder     Encoder       `yaml:"encoder"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

type Paths struct {
	Recordings string `yaml:"recordings"`
	Exports    string `yaml:"exports"`
	Uploads    string `yaml:"uploads"`
}

type Encoder struct {
	FFmpegPath string        `yaml:"ffmpeg_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Load reads config.yaml from path. Every key can be overridden from the
// environment with the MIMIC_ prefix, e.g. MIMIC_SERVER_PORT. A missing file
// leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MIMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	database := Database{
		Driver: v.GetString("database.driver"),
		DSN:    v.GetString("postgresql_host"),
		Path:   v.GetString("database.path"),
	}
	if database.Driver != DriverPostgres && database.Driver != DriverSQLite {
		return nil, errors.New("database.driver must be postgres or sqlite")
	}

	var db *sql.DB
	if database.Driver == DriverPostgres {
		var err error
		db, err = sql.Open("postgres", database.DSN)
		if err != nil {
			return nil, err
		}
	}

	var minioClient *minio.Client
	if url := v.GetString("minio.url"); url != "" {
		var err error
		minioClient, err = minio.New(url, &minio.Options{
			Creds:  credentials.NewStaticV4(v.GetString("minio.access_id"), v.GetString("minio.secret_access_key"), ""),
			Secure: v.GetBool("minio.secure"),
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		MinIOBucket: v.GetString("minio.bucket"),
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Database: database,
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		Paths: Paths{
			Recordings: v.GetString("paths.recordings"),
			Exports:    v.GetString("paths.exports"),
			Uploads:    v.GetString("paths.uploads"),
		},
		Encoder: Encoder{
			FFmpegPath: v.GetString("encoder.ffmpeg_path"),
			Timeout:    v.GetDuration("encoder.timeout"),
		},
		DB:      db,
		Queue:   loadRabbitMQ(v),
		Storage: minioClient,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 2)
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.path", "data/mimic.db")
	v.SetDefault("paths.recordings", "data/recordings")
	v.SetDefault("paths.exports", "data/exports")
	v.SetDefault("paths.uploads", "data/uploads")
	v.SetDefault("encoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("encoder.timeout", 30*time.Minute)
	v.SetDefault("minio.bucket", "mimic-exports")
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
}
