package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/notification"
)

// Config holds application configuration values sourced from environment variables.
type Config struct {
	HTTPPort    string
	StoreDriver string
	DatabaseURL string
	DBLogLevel  string

	MQURL      string
	MQExchange string
	MQQueue    string
	MQPrefetch int

	// NotifierMetricsPort is where cmd/notifier serves /metrics.
	NotifierMetricsPort string

	// TrustedProxies may set X-Forwarded-For. Empty trusts no proxy.
	TrustedProxies []string

	// SMTP with an empty Host means mails are only logged.
	SMTP notification.SMTPConfig

	FrontendURL     string
	DefaultLanguage string
	ReferencePrefix string

	JWTSecret string
	JWTTTL    time.Duration

	NotifyQueueSize   int
	NotifyWorkers     int
	NotifySendTimeout time.Duration

	RedisURL          string
	LookupMaxFailures int
	LookupWindow      time.Duration

	BootstrapAdminUser     string
	BootstrapAdminPassword string
	BootstrapAdminEmail    string

	LogLevel  string
	LogFormat string
}

// Load reads environment variables and produces a Config with sane defaults for local development.
func Load() Config {
	cfg := Config{
		HTTPPort:    getEnv("API_HTTP_PORT", ":8080"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://civictrack:civictrack@db:5432/civictrack?sslmode=disable"),
		DBLogLevel:  getEnv("DB_LOG_LEVEL", "warn"),

		MQURL:      getEnv("RABBITMQ_URL", ""),
		MQExchange: getEnv("RABBITMQ_EXCHANGE", "application.events"),
		MQQueue:    getEnv("RABBITMQ_QUEUE", "application.notifications"),
		MQPrefetch: MustGetInt("RABBITMQ_PREFETCH", 16),

		NotifierMetricsPort: getEnv("NOTIFIER_METRICS_PORT", ":9091"),
		TrustedProxies:      getList("TRUSTED_PROXIES"),

		SMTP: notification.SMTPConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          MustGetInt("SMTP_PORT", 587),
			User:          getEnv("SMTP_USER", ""),
			Pass:          getEnv("SMTP_PASS", ""),
			From:          getEnv("SMTP_FROM", "noreply@civictrack.local"),
			SkipTLSVerify: MustGetBool("SMTP_SKIP_TLS_VERIFY", false),
		},

		FrontendURL:     strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "de"),
		ReferencePrefix: strings.ToUpper(strings.TrimSpace(getEnv("REFERENCE_PREFIX", "LB"))),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    MustGetDuration("JWT_TTL", 8*time.Hour),

		NotifyQueueSize:   MustGetInt("NOTIFY_QUEUE_SIZE", 256),
		NotifyWorkers:     MustGetInt("NOTIFY_WORKERS", 2),
		NotifySendTimeout: MustGetDuration("NOTIFY_SEND_TIMEOUT", 30*time.Second),

		RedisURL:          getEnv("REDIS_URL", ""),
		LookupMaxFailures: MustGetInt("LOOKUP_MAX_FAILURES", 10),
		LookupWindow:      MustGetDuration("LOOKUP_WINDOW", 15*time.Minute),

		BootstrapAdminUser:     getEnv("BOOTSTRAP_ADMIN_USER", ""),
		BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		BootstrapAdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", "admin@civictrack.local"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	return cfg
}

// Validate rejects settings the services cannot start with. Only the
// in-memory store may run without JWT_SECRET; it then gets a random secret
// that lives as long as the process.
func (c *Config) Validate() error {
	if c.JWTSecret != "" {
		return nil
	}
	if c.StoreDriver != "memory" {
		return errors.New("JWT_SECRET must be set")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return errors.Wrap(err, "generate jwt secret")
	}
	c.JWTSecret = hex.EncodeToString(secret)
	log.Printf("JWT_SECRET is empty, using a random secret for the memory store; tokens expire on restart")
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
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

// MustGetInt reads an environment variable and converts it to int with default fallback.
func MustGetInt(key string, fallback int) int {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("failed to parse %s=%q as int: %v", key, val, err)
		return fallback
	}
	return i
}

// MustGetDuration reads a Go duration string such as "30s" with default fallback.
func MustGetDuration(key string, fallback time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		log.Printf("invalid %s %q, defaulting to %s: %v", key, val, fallback, err)
		return fallback
	}
	return d
}

// MustGetBool reads a boolean environment variable with default fallback.
func MustGetBool(key string, fallback bool) bool {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Printf("failed to parse %s=%q as bool: %v", key, val, err)
		return fallback
	}
	return b
}
