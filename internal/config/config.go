package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server     Server     `yaml:"server"`
	Storage    Storage    `yaml:"storage"`
	Database   Database   `yaml:"database"`
	Mongo      Mongo      `yaml:"mongo"`
	Redis      Redis      `yaml:"redis"`
	S3         S3         `yaml:"s3"`
	Chat       Chat       `yaml:"chat"`
	Reconciler Reconciler `yaml:"reconciler"`
	Queue      Queue      `yaml:"queue"`
}

// Server holds HTTP server configuration
type Server struct {
	Host           string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port           string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Storage selects the backend holding users, conversations and messages
type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
}

// Database holds PostgreSQL configuration
type Database struct {
	PostgresDSN  string        `yaml:"postgres_dsn" env:"DATABASE_URL"`
	// Zero keeps the pool_* value from the DSN, or the driver default.
	MaxConns     int32         `yaml:"max_conns" env:"DB_MAX_CONNS"`
	MinConns     int32         `yaml:"min_conns" env:"DB_MIN_CONNS"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME"`
	AutoMigrate  bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
}

// Mongo holds MongoDB configuration
type Mongo struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"neo_chat"`
}

// Redis holds Redis configuration. An empty URL keeps change signals in
// process and disables the repair queue.
type Redis struct {
	URL           string `yaml:"url" env:"REDIS_URL"`
	ChannelPrefix string `yaml:"channel_prefix" env:"REDIS_CHANNEL_PREFIX" env-default:"neo-chat:doc:"`
}

// S3 holds S3/MinIO storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"chat"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/chat"`
	KeyPrefix       string `yaml:"key_prefix" env:"S3_KEY_PREFIX" env-default:"attachments"`
}

// Chat holds limits and timeouts of chat operations
type Chat struct {
	OperationTimeout   time.Duration `yaml:"operation_timeout" env:"CHAT_OPERATION_TIMEOUT" env-default:"10s"`
	SnapshotTimeout    time.Duration `yaml:"snapshot_timeout" env:"CHAT_SNAPSHOT_TIMEOUT" env-default:"10s"`
	MaxAttachmentBytes int64         `yaml:"max_attachment_bytes" env:"CHAT_MAX_ATTACHMENT_BYTES" env-default:"10485760"`
	SocketSendBuffer   int           `yaml:"socket_send_buffer" env:"CHAT_SOCKET_SEND_BUFFER" env-default:"64"`
	SocketReadTimeout  time.Duration `yaml:"socket_read_timeout" env:"CHAT_SOCKET_READ_TIMEOUT" env-default:"60s"`
}

// Reconciler holds configuration of the stale summary sweep
type Reconciler struct {
	Enabled   bool          `yaml:"enabled" env:"RECONCILER_ENABLED" env-default:"true"`
	Interval  time.Duration `yaml:"interval" env:"RECONCILER_INTERVAL" env-default:"1m"`
	BatchSize int           `yaml:"batch_size" env:"RECONCILER_BATCH_SIZE" env-default:"50"`
}

// Queue holds repair queue configuration
type Queue struct {
	Name        string        `yaml:"name" env:"ASYNQ_QUEUE" env-default:"default"`
	Queues      string        `yaml:"queues" env:"ASYNQ_QUEUES"`
	Concurrency int           `yaml:"concurrency" env:"ASYNQ_CONCURRENCY" env-default:"5"`
	MaxRetry    int           `yaml:"max_retry" env:"ASYNQ_MAX_RETRY" env-default:"10"`
	UniqueTTL   time.Duration `yaml:"unique_ttl" env:"ASYNQ_UNIQUE_TTL" env-default:"1m"`
}

// Validate checks settings that have no usable default
func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s driver", DriverPostgres)
		}
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("MONGO_URI and MONGO_DATABASE are required for the %s driver", DriverMongo)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	return nil
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
