// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	SessionLimits SessionLimitsConfig
	Stitch        StitchConfig
	Redis         RedisConfig
	SQLite        SQLiteConfig
	EventBus      EventBusConfig
	Kafka         KafkaConfig
	NATS          NATSConfig
	LLM           LLMConfig
	Database      DatabaseConfig
	Dispatch      DispatchConfig
	Batch         BatchConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal     string
	HTTPPort      string
	GRPCPort      string
	MetricsPort   string
	DefaultTenant string
	DefaultUser   string
}

type STTConfig struct {
	Provider       string // mock, google
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// SessionLimitsConfig bounds a single live session. Reaching a limit ends
// streaming the same way an explicit stop does.
type SessionLimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

type StitchConfig struct {
	Backend      string // redis, sqlite
	TTL          time.Duration
	KeyPrefix    string
	StoreTimeout time.Duration
	Broadcast    string // bus, redis
}

type RedisConfig struct {
	URL             string
	StreamName      string
	StreamMaxLength int64
}

type SQLiteConfig struct {
	Path string
}

type EventBusConfig struct {
	Backend string // kafka, nats, log
}

type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicFragment    string
	TopicInteraction string
	Principal        string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type LLMConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type DatabaseConfig struct {
	URL string
}

type DispatchConfig struct {
	LaneTimeout  time.Duration
	CleanTimeout time.Duration
}

type BatchConfig struct {
	MaxUploadBytes    int64
	TranscribeTimeout time.Duration
	ChunkWords        int
	Workers           int
	// JobStore is "redis" or "memory". Empty follows the session log.
	JobStore     string
	JobKeyPrefix string
	JobTTL       time.Duration
	StuckAfter   time.Duration
	ReapInterval time.Duration
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() *Configuration {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-intelligence")

	return &Configuration{
		Service: ServiceConfig{
			Principal:     principal,
			HTTPPort:      envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:      envOrDefault("GRPC_PORT", "50051"),
			MetricsPort:   envOrDefault("METRICS_PORT", "9090"),
			DefaultTenant: envOrDefault("MOCK_TENANT_ID", "default_org"),
			DefaultUser:   envOrDefault("DEFAULT_USER_ID", "web-mic-user"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		SessionLimits: SessionLimitsConfig{
			MaxAudioBytes: envOrDefaultInt64("SESSION_MAX_AUDIO_BYTES", 200*1024*1024),
			MaxDuration:   envOrDefaultDuration("SESSION_MAX_DURATION", 2*time.Hour),
		},
		Stitch: StitchConfig{
			Backend:      envOrDefault("STITCH_BACKEND", "redis"),
			TTL:          envOrDefaultDuration("STITCH_TTL", 24*time.Hour),
			KeyPrefix:    envOrDefault("STITCH_KEY_PREFIX", "session"),
			StoreTimeout: envOrDefaultDuration("STITCH_STORE_TIMEOUT", 3*time.Second),
			Broadcast:    envOrDefault("STITCH_BROADCAST", "bus"),
		},
		Redis: RedisConfig{
			URL:             envOrDefault("REDIS_URL", "redis://localhost:6379"),
			StreamName:      envOrDefault("REDIS_STREAM_NAME", "transcription_events"),
			StreamMaxLength: envOrDefaultInt64("REDIS_STREAM_MAXLEN", 10000),
		},
		SQLite: SQLiteConfig{
			Path: envOrDefault("SQLITE_PATH", "stitcher.sqlite"),
		},
		EventBus: EventBusConfig{
			Backend: envOrDefault("EVENT_BUS", "kafka"),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          splitCSV(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
			TopicFragment:    envOrDefault("KAFKA_TOPIC_FRAGMENT", "interaction.transcript.fragment"),
			TopicInteraction: envOrDefault("KAFKA_TOPIC_INTERACTION", "interaction.completed"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		NATS: NATSConfig{
			URL:           envOrDefault("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: envOrDefault("NATS_SUBJECT_PREFIX", "speech"),
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   envOrDefault("OPENAI_MODEL", "gpt-4o"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Timeout: envOrDefaultDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Dispatch: DispatchConfig{
			LaneTimeout:  envOrDefaultDuration("DISPATCH_LANE_TIMEOUT", 20*time.Second),
			CleanTimeout: envOrDefaultDuration("DISPATCH_CLEAN_TIMEOUT", 45*time.Second),
		},
		Batch: BatchConfig{
			MaxUploadBytes:    envOrDefaultInt64("BATCH_MAX_UPLOAD_BYTES", 10*1024*1024),
			TranscribeTimeout: envOrDefaultDuration("BATCH_TRANSCRIBE_TIMEOUT", 10*time.Minute),
			ChunkWords:        envOrDefaultInt("BATCH_CHUNK_WORDS", 500),
			Workers:           envOrDefaultInt("BATCH_WORKERS", 2),
			JobStore:          os.Getenv("BATCH_JOB_STORE"),
			JobKeyPrefix:      envOrDefault("BATCH_JOB_KEY_PREFIX", "batch"),
			JobTTL:            envOrDefaultDuration("BATCH_JOB_TTL", 7*24*time.Hour),
			StuckAfter:        envOrDefaultDuration("BATCH_STUCK_AFTER", 30*time.Minute),
			ReapInterval:      envOrDefaultDuration("BATCH_REAP_INTERVAL", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
