// Package config loads the environment-backed configuration shared across
// the gateway, worker, and analytics processes. Grounded on
// cmd/api/main.go's loadConfig/envOr pattern, generalized to the job
// orchestration substrate's full enumerated config surface.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/chatforge-io/orchestrator/internal/retry"
)

// Config holds every environment-backed setting the core subsystems need.
type Config struct {
	// Primary bus.
	BusURL         string
	TopicChat      string
	TopicFile      string
	TopicKB        string
	TopicRetry     string

	// Secondary bus.
	SecondaryBusURL   string
	TopicLLMCalls     string
	TopicFileProcess  string
	TopicChatbotEvent string
	ConsumerGroup     string

	// Stores.
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPass     string
	VectorStoreURL string
	VectorCollection string
	RedisURL      string
	ResultTTL     time.Duration

	// Worker pool.
	MaxWorkers  int
	Retry       retry.Opts
	MetricsPort int

	// Analytics.
	MetricWindowMinutes int

	// Gateway.
	Port           string
	CORSOrigin     string
	JWTSecret      string
	JWTIssuer      string
	AuthCookieName string
	CookieSecure   bool
	UploadDir      string
	MaxFileSizeMB  int

	// Login-lockout (admin login, applied uniformly at the gateway edge).
	LoginLockoutAttempts int
	LoginLockoutMinutes  int

	// LLM / embedding collaborators.
	LLMBaseURL      string
	LLMModel        string
	LLMAPIKey       string
	EmbedBaseURL    string
	EmbedModel      string
}

// Load reads Config from the environment, applying the spec's defaults for
// anything unset.
func Load() Config {
	return Config{
		BusURL:     envOr("BUS_URL", "nats://localhost:4222"),
		TopicChat:  envOr("TOPIC_CHAT", "chat"),
		TopicFile:  envOr("TOPIC_FILE", "file"),
		TopicKB:    envOr("TOPIC_KB", "kb"),
		TopicRetry: envOr("TOPIC_RETRY", "retry"),

		SecondaryBusURL:   envOr("SECONDARY_BUS_URL", "nats://localhost:4222"),
		TopicLLMCalls:     envOr("TOPIC_LLM_CALLS", "llm.calls"),
		TopicFileProcess:  envOr("TOPIC_FILE_PROCESSING", "file.processing"),
		TopicChatbotEvent: envOr("TOPIC_CHATBOT_EVENTS", "chatbot.events"),
		ConsumerGroup:     envOr("ANALYTICS_CONSUMER_GROUP", "analytics"),

		Neo4jURL:         envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:        envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:        envOr("NEO4J_PASS", "password"),
		VectorStoreURL:   envOr("VECTOR_STORE_URL", "localhost:6334"),
		VectorCollection: envOr("VECTOR_COLLECTION", "orchestrator"),
		RedisURL:         envOr("REDIS_URL", "redis://localhost:6379/0"),
		ResultTTL:        envDuration("RESULT_TTL_SECONDS", 300*time.Second),

		MaxWorkers: envInt("MAX_WORKERS", 10),
		Retry: retry.Opts{
			MaxRetries: envInt("RETRY_MAX_COUNT", 5),
			Base:       envDuration("RETRY_BASE_SECONDS", time.Second),
			Multiplier: envFloat("RETRY_MULTIPLIER", 2.0),
			MaxCap:     envDuration("RETRY_MAX_CAP_SECONDS", 120*time.Second),
			JitterMax:  envDuration("RETRY_JITTER_MAX_SECONDS", 2*time.Second),
		},
		MetricsPort: envInt("METRICS_PORT", 9090),

		MetricWindowMinutes: envInt("METRIC_WINDOW_MINUTES", 5),

		Port:           envOr("PORT", "8080"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		JWTSecret:      envOr("JWT_SECRET", "change-me"),
		JWTIssuer:      envOr("JWT_ISSUER", ""),
		AuthCookieName: envOr("AUTH_COOKIE_NAME", "session"),
		CookieSecure:   envBool("COOKIE_SECURE", true),
		UploadDir:      envOr("UPLOAD_DIR", "/tmp/orchestrator-uploads"),
		MaxFileSizeMB:  envInt("MAX_FILE_SIZE_MB", 5),

		LoginLockoutAttempts: envInt("LOGIN_LOCKOUT_ATTEMPTS", 5),
		LoginLockoutMinutes:  envInt("LOGIN_LOCKOUT_MINUTES", 15),

		LLMBaseURL:   envOr("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMModel:     envOr("LLM_MODEL", "llama3"),
		LLMAPIKey:    envOr("LLM_API_KEY", ""),
		EmbedBaseURL: envOr("EMBED_BASE_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", "nomic-embed-text"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}
