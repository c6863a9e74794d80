// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration read from the environment.
// The godotenv autoload import in main populates the environment from .env first.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Redis shared store
	RedisAddr string
	RedisDB   int

	// Postgres
	PGUser     string
	PGPassword string
	PGHost     string
	PGPort     string
	PGDatabase string

	// Matchmaking
	PairingInterval time.Duration
	RatingTolerance int

	// Simulation
	MatchTimeLimit time.Duration

	// ResultsQueueName is the Redis list finalized matches are pushed onto.
	ResultsQueueName string

	// TokenExpireTime is the raw TOKEN_EXPIRE_TIME value, parsed by auth.
	TokenExpireTime string
}

// Load builds a Config from environment variables, falling back to defaults.
func Load() *Config {
	env := getEnv("ENV", "development")
	defaultLevel := "info"
	if env == "development" {
		defaultLevel = "debug"
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      env,
		LogLevel: getEnv("LOG_LEVEL", defaultLevel),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		PGUser:     os.Getenv("POSTGRES_USER"),
		PGPassword: os.Getenv("POSTGRES_PASSWORD"),
		PGHost:     getEnv("PG_HOST", "localhost"),
		PGPort:     getEnv("PG_PORT", "5432"),
		PGDatabase: getEnv("PG_DATABASE", "arena"),

		PairingInterval: getEnvDuration("PAIRING_INTERVAL", 500*time.Millisecond),
		RatingTolerance: getEnvInt("RATING_TOLERANCE", 200),

		MatchTimeLimit: getEnvDuration("MATCH_TIME_LIMIT", 5*time.Minute),

		ResultsQueueName: getEnv("RESULTS_QUEUE_NAME", "arena_match_results"),

		TokenExpireTime: getEnv("TOKEN_EXPIRE_TIME", "24h"),
	}
}

// PostgresURL assembles the pgx connection string.
func (c *Config) PostgresURL() string {
	return "postgres://" + c.PGUser + ":" + c.PGPassword + "@" + c.PGHost + ":" + c.PGPort + "/" + c.PGDatabase
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt parses an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
