package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Snapshot backends for durable session state.
const (
	SnapshotNone     = "none"
	SnapshotPostgres = "postgres"
	SnapshotRedis    = "redis"
)

// Session lifecycle policies applied when a connection closes.
const (
	// PolicyEphemeral destroys the session as soon as its connection closes.
	PolicyEphemeral = "ephemeral"
	// PolicyPersistent keeps the session until the idle sweep evicts it, so
	// a client can reconnect with the same session id.
	PolicyPersistent = "persistent"
)

type Config struct {
	App     AppConfig
	Session SessionConfig
	Nats    NatsConfig
}

type AppConfig struct {
	Host           string
	Port           string
	Environment    string
	LogFilePath    string
	MaxConnections int
	SendQueueSize  int
	EventQueueSize int
}

type SessionConfig struct {
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	Policy          string
	SnapshotBackend string
	PostgresDSN     string
	RedisURL        string
	AutoPersist     bool
}

type NatsConfig struct {
	URL string // empty disables the outbound event bridge
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Host:           getEnv("GATEWAY_HOST", "127.0.0.1"),
			Port:           getEnv("GATEWAY_PORT", "9000"),
			Environment:    getEnv("GO_ENV", "development"),
			LogFilePath:    getEnv("LOG_FILE_PATH", "logs/gateway.log"),
			MaxConnections: getEnvAsInt("GATEWAY_MAX_CONNECTIONS", 256),
			SendQueueSize:  getEnvAsInt("GATEWAY_SEND_QUEUE_SIZE", 256),
			EventQueueSize: getEnvAsInt("GATEWAY_EVENT_QUEUE_SIZE", 256),
		},
		Session: SessionConfig{
			IdleTimeout:     time.Duration(getEnvAsInt("SESSION_TIMEOUT_MINUTES", 60)) * time.Minute,
			SweepInterval:   time.Duration(getEnvAsInt("SESSION_SWEEP_SECONDS", 60)) * time.Second,
			Policy:          getEnv("SESSION_POLICY", PolicyEphemeral),
			SnapshotBackend: getEnv("SESSION_SNAPSHOT_BACKEND", SnapshotNone),
			PostgresDSN:     getEnv("DB_CONNECTION_STRING", ""),
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
			AutoPersist:     getEnvAsBool("SESSION_AUTO_PERSIST", true),
		},
		Nats: NatsConfig{
			URL: getEnv("NATS_URL", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
