package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds every configuration parameter of the service.
type Config struct {
	ServerPort  int
	StoreDriver string
	DatabaseURL string
	LogLevel    slog.Level

	JWTSecretKey           string
	AuthServiceURL         string
	NotificationServiceURL string
	CollaboratorTimeout    time.Duration

	RedisURL   string
	NATSURL    string
	NATSStream string
	R2         R2Config

	MatchIdleTimeout    time.Duration
	BallUpdateInterval  time.Duration
	QueueRescanInterval time.Duration

	CORSAllowedOrigins []string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicBaseURL   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("COLLABORATOR_TIMEOUT", "3s")
	v.SetDefault("NATS_STREAM", "PONG_EVENTS")
	v.SetDefault("MATCH_IDLE_TIMEOUT", "60s")
	v.SetDefault("BALL_UPDATE_INTERVAL", "33ms")
	v.SetDefault("QUEUE_RESCAN_INTERVAL", "5s")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads the configuration from environment variables. A .env file is
// loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		ServerPort:             v.GetInt("SERVER_PORT"),
		StoreDriver:            strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		JWTSecretKey:           v.GetString("JWT_SECRET_KEY"),
		AuthServiceURL:         v.GetString("AUTH_SERVICE_URL"),
		NotificationServiceURL: v.GetString("NOTIFICATION_SERVICE_URL"),
		CollaboratorTimeout:    v.GetDuration("COLLABORATOR_TIMEOUT"),
		RedisURL:               v.GetString("REDIS_URL"),
		NATSURL:                v.GetString("NATS_URL"),
		NATSStream:             v.GetString("NATS_STREAM"),
		R2: R2Config{
			AccountID:       v.GetString("R2_ACCOUNT_ID"),
			AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("R2_SECRET_ACCESS_KEY"),
			BucketName:      v.GetString("R2_BUCKET_NAME"),
			PublicBaseURL:   v.GetString("R2_PUBLIC_BASE_URL"),
		},
		MatchIdleTimeout:    v.GetDuration("MATCH_IDLE_TIMEOUT"),
		BallUpdateInterval:  v.GetDuration("BALL_UPDATE_INTERVAL"),
		QueueRescanInterval: v.GetDuration("QUEUE_RESCAN_INTERVAL"),
		CORSAllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.AuthServiceURL == "" && c.JWTSecretKey == "" {
		return fmt.Errorf("either AUTH_SERVICE_URL or JWT_SECRET_KEY must be set")
	}
	for name, d := range map[string]time.Duration{
		"COLLABORATOR_TIMEOUT":  c.CollaboratorTimeout,
		"MATCH_IDLE_TIMEOUT":    c.MatchIdleTimeout,
		"BALL_UPDATE_INTERVAL":  c.BallUpdateInterval,
		"QUEUE_RESCAN_INTERVAL": c.QueueRescanInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
