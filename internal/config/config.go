// README: Config loader with env defaults for HTTP, storage, broker, auth and dispatch settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type DispatchConfig struct {
	PollTimeout time.Duration
	// WaitPolicy decides what a second concurrent long-poll by the same actor does:
	// "supersede" cancels the older poll, "reject" refuses the newer one.
	WaitPolicy string
}

type AuthConfig struct {
	Provider  string
	JWTSecret string
	TokenTTL  time.Duration
	Firebase  struct {
		ProjectID       string
		CredentialsFile string
	}
}

type GatewayConfig struct {
	Addr       string
	UserURL    string
	CaptainURL string
	RideURL    string
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	RabbitMQ struct {
		URL      string
		Exchange string
	}
	Log struct {
		Level string
	}
	Auth     AuthConfig
	Dispatch DispatchConfig
	Gateway  GatewayConfig
}

// Load reads RIDEHAIL_* variables and validates them for the core services.
// Empty DSN, Redis address or broker URL select the in-process implementations.
func Load() (Config, error) {
	cfg := Read()
	return cfg, cfg.Validate()
}

// Read loads the variables without validation. The gateway and migrate
// commands use it since they never issue or verify tokens.
func Read() Config {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("RIDEHAIL_HTTP_ADDR", ":3003")
	cfg.DB.DSN = envOrDefault("RIDEHAIL_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("RIDEHAIL_REDIS_ADDR", "")
	cfg.RabbitMQ.URL = envOrDefault("RIDEHAIL_RABBITMQ_URL", "")
	cfg.RabbitMQ.Exchange = envOrDefault("RIDEHAIL_RABBITMQ_EXCHANGE", "ride_topic")
	cfg.Log.Level = strings.ToUpper(envOrDefault("RIDEHAIL_LOG_LEVEL", "INFO"))

	cfg.Auth.Provider = strings.ToLower(envOrDefault("RIDEHAIL_AUTH_PROVIDER", "jwt"))
	cfg.Auth.JWTSecret = envOrDefault("RIDEHAIL_JWT_SECRET", "")
	cfg.Auth.TokenTTL = envOrDefaultDuration("RIDEHAIL_TOKEN_TTL", time.Hour)
	cfg.Auth.Firebase.ProjectID = envOrDefault("RIDEHAIL_FIREBASE_PROJECT_ID", "")
	cfg.Auth.Firebase.CredentialsFile = envOrDefault("RIDEHAIL_FIREBASE_CREDENTIALS", "")

	cfg.Dispatch.PollTimeout = envOrDefaultDuration("RIDEHAIL_POLL_TIMEOUT", 30*time.Second)
	cfg.Dispatch.WaitPolicy = strings.ToLower(envOrDefault("RIDEHAIL_WAIT_POLICY", "supersede"))

	cfg.Gateway.Addr = envOrDefault("RIDEHAIL_GATEWAY_ADDR", ":3000")
	cfg.Gateway.UserURL = envOrDefault("RIDEHAIL_USER_URL", "http://localhost:3003")
	cfg.Gateway.CaptainURL = envOrDefault("RIDEHAIL_CAPTAIN_URL", "http://localhost:3003")
	cfg.Gateway.RideURL = envOrDefault("RIDEHAIL_RIDE_URL", "http://localhost:3003")
	return cfg
}

// Validate checks settings the core services need. Login always issues local
// JWTs, so the secret is required with either provider.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errMissing("RIDEHAIL_JWT_SECRET")
	}
	switch c.Auth.Provider {
	case "jwt":
	case "firebase":
		if c.Auth.Firebase.ProjectID == "" {
			return errMissing("RIDEHAIL_FIREBASE_PROJECT_ID")
		}
	default:
		return &Error{Key: "RIDEHAIL_AUTH_PROVIDER", Msg: "must be jwt or firebase"}
	}
	if c.Dispatch.PollTimeout <= 0 {
		return &Error{Key: "RIDEHAIL_POLL_TIMEOUT", Msg: "must be positive"}
	}
	if c.Dispatch.WaitPolicy != "supersede" && c.Dispatch.WaitPolicy != "reject" {
		return &Error{Key: "RIDEHAIL_WAIT_POLICY", Msg: "must be supersede or reject"}
	}
	return nil
}

type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	return "config " + e.Key + ": " + e.Msg
}

func errMissing(key string) error {
	return &Error{Key: key, Msg: "is required"}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
