package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Storage drivers.
const (
	DriverDisk  = "disk"
	DriverMinio = "minio"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Storage   Storage   `mapstructure:"storage"`
	Upload    Upload    `mapstructure:"upload"`
	CORS      CORS      `mapstructure:"cors"`
	Messaging Messaging `mapstructure:"messaging"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort          string        `mapstructure:"http_port"`  // HTTP address to listen on
	PublicURL         string        `mapstructure:"public_url"` // base URL blobs are reachable under
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Storage selects and configures the blob store.
type Storage struct {
	Driver  string `mapstructure:"driver"`   // disk or minio
	BaseDir string `mapstructure:"base_dir"` // directory for the disk driver
	Minio   Minio  `mapstructure:"minio"`
}

// Minio holds configuration for the MinIO backend.
type Minio struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Prefix     string `mapstructure:"prefix"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Upload bounds accepted uploads.
type Upload struct {
	MaxFileSize   int64 `mapstructure:"max_file_size"`   // bytes per file
	MaxBatchFiles int   `mapstructure:"max_batch_files"` // files per batch request
}

// CORS lists origins allowed to call the API from a browser.
type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Messaging describes the gallery page and its viewer frames.
type Messaging struct {
	GalleryOrigin string   `mapstructure:"gallery_origin"`
	Viewers       []Viewer `mapstructure:"viewers"`
}

// Viewer is one viewer frame embedded by the gallery.
type Viewer struct {
	Name         string        `mapstructure:"name"`
	Origin       string        `mapstructure:"origin"`
	DisplayDelay time.Duration `mapstructure:"display_delay"`
}

// Kafka holds configuration for the image event stream.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":3001")
	v.SetDefault("server.public_url", "http://localhost:3001")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("storage.driver", DriverDisk)
	v.SetDefault("storage.base_dir", "./uploads")
	v.SetDefault("storage.minio.bucket_name", "images")

	v.SetDefault("upload.max_file_size", 10<<20)
	v.SetDefault("upload.max_batch_files", 10)

	v.SetDefault("cors.allowed_origins", []string{
		"http://localhost:3000",
		"http://localhost:3003",
		"http://localhost:3004",
		"http://localhost:3005",
	})

	v.SetDefault("messaging.gallery_origin", "http://localhost:3003")
	v.SetDefault("messaging.viewers", []map[string]any{
		{"name": "viewer", "origin": "http://localhost:3004", "display_delay": "300ms"},
		{"name": "viewer2", "origin": "http://localhost:3005", "display_delay": "500ms"},
	})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "image-events")
	v.SetDefault("kafka.group_id", "image-gallery")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.http_port":          "HTTP_PORT",
		"server.public_url":         "PUBLIC_URL",
		"storage.driver":            "STORAGE_DRIVER",
		"storage.base_dir":          "UPLOAD_DIR",
		"storage.minio.endpoint":    "MINIO_ENDPOINT",
		"storage.minio.access_key":  "MINIO_ACCESS_KEY",
		"storage.minio.secret_key":  "MINIO_SECRET_KEY",
		"storage.minio.bucket_name": "MINIO_BUCKET",
		"kafka.enabled":             "KAFKA_ENABLED",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from the YAML file at path, applying defaults
// and environment overrides. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		zlog.Logger.Warn().Str("path", path).Msg("config file not found, using defaults")
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration cannot be loaded.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverDisk:
		if c.Storage.BaseDir == "" {
			return errors.New("config: storage.base_dir is required for the disk driver")
		}
	case DriverMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.BucketName == "" {
			return errors.New("config: storage.minio.endpoint and bucket_name are required for the minio driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.Upload.MaxFileSize <= 0 || c.Upload.MaxBatchFiles <= 0 {
		return errors.New("config: upload limits must be positive")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("config: kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	return nil
}
