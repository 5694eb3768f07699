package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Webhook   WebhookConfig
	Logging   LoggingConfig
}

type APIConfig struct {
	Addr string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

const (
	StorageBackendLocal = "local"
	StorageBackendMinIO = "minio"
)

type StorageConfig struct {
	Backend    string
	LocalDir   string
	GalleryDir string
	Album      string
	ShareTTL   time.Duration

	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DatabaseConfig selects Postgres when DSN is set; otherwise stores are kept
// in memory.
type DatabaseConfig struct {
	DSN string
}

type PipelineConfig struct {
	CallTimeout time.Duration
	MaxUploadMB int
}

type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type WebhookConfig struct {
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

type LoggingConfig struct {
	Env   string
	Level string
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr: env("PIXELKIT_API_ADDR", ":8080"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Backend:    strings.ToLower(env("STORAGE_BACKEND", StorageBackendLocal)),
			LocalDir:   env("STORAGE_LOCAL_DIR", "./.pixelkit/assets"),
			GalleryDir: env("STORAGE_GALLERY_DIR", "./.pixelkit/gallery"),
			Album:      env("STORAGE_ALBUM", "CompressImage"),
			ShareTTL:   envDuration("STORAGE_SHARE_TTL", 24*time.Hour),
			Endpoint:   env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:  env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:     env("MINIO_BUCKET", "pixelkit-assets"),
			UseSSL:     envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Pipeline: PipelineConfig{
			CallTimeout: envDuration("PIPELINE_CALL_TIMEOUT", 30*time.Second),
			MaxUploadMB: envInt("PIPELINE_MAX_UPLOAD_MB", 50),
		},
		RateLimit: RateLimitConfig{
			Enabled: envBool("RATE_LIMIT_ENABLED", false),
			Rate:    envFloat("RATE_LIMIT_RPS", 5),
			Burst:   envInt("RATE_LIMIT_BURST", 20),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Webhook: WebhookConfig{
			Secret:     env("WEBHOOK_SECRET", ""),
			Timeout:    envDuration("WEBHOOK_TIMEOUT", 5*time.Second),
			MaxRetries: envInt("WEBHOOK_MAX_RETRIES", 3),
		},
		Logging: LoggingConfig{
			Env:   env("APP_ENV", "development"),
			Level: env("LOG_LEVEL", "info"),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envDuration accepts Go duration strings ("45s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
