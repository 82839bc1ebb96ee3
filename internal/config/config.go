package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// NotifyChannel is the Postgres NOTIFY channel carrying inserted rows.
	NotifyChannel string

	RelayPort string
	RelayURL  string
	JWTSecret string
	// PushTransport selects the Subscriber: "relay" or "postgres".
	PushTransport string

	RedisURL         string
	IdentityCacheTTL time.Duration

	KafkaBrokers     []string
	KafkaNotifyTopic string

	AckDeliveredAfter time.Duration
	AckReadAfter      time.Duration

	LogLevel       string
	LogDevelopment bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "mailbox"),
		DBPassword:        getEnv("DB_PASSWORD", "mailbox_dev_password"),
		DBName:            getEnv("DB_NAME", "mailbox"),
		NotifyChannel:     getEnv("NOTIFY_CHANNEL", "dm_messages_insert"),
		RelayPort:         getEnv("RELAY_PORT", "8081"),
		RelayURL:          getEnv("RELAY_URL", "ws://localhost:8081/ws"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		PushTransport:     getEnv("PUSH_TRANSPORT", "relay"),
		RedisURL:          getEnv("REDIS_URL", ""),
		IdentityCacheTTL:  getDuration("IDENTITY_CACHE_TTL", 10*time.Minute),
		KafkaBrokers:      getList("KAFKA_BROKERS"),
		KafkaNotifyTopic:  getEnv("KAFKA_NOTIFY_TOPIC", "mailbox.notifications"),
		AckDeliveredAfter: getDuration("ACK_DELIVERED_AFTER", time.Second),
		AckReadAfter:      getDuration("ACK_READ_AFTER", 2*time.Second),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogDevelopment:    getBool("LOG_DEVELOPMENT", false),
	}
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
