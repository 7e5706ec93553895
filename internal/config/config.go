// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	SecretKey  []byte // nil when SNAPGATE_SECRET_KEY is unset

	RemoteBaseURL string
	RemoteTimeout time.Duration
	PollInterval  time.Duration
	PollTimeout   time.Duration

	GitHubToken string

	WebhookRequireSignature bool
	WebhookRetention        time.Duration

	WSAllowedOrigins []string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// HasGitHubToken reports whether commit statuses should be mirrored to GitHub.
func (c *Config) HasGitHubToken() bool {
	return c.GitHubToken != ""
}

// HasS3Archive reports whether baseline manifests should be archived.
func (c *Config) HasS3Archive() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional. Defaults: SNAPGATE_LISTEN_ADDR (127.0.0.1:8080),
// SNAPGATE_DB_PATH (snapgate.db), SNAPGATE_REMOTE_TIMEOUT (15s),
// SNAPGATE_POLL_INTERVAL (5s), SNAPGATE_POLL_TIMEOUT (10m),
// SNAPGATE_WEBHOOK_RETENTION (720h), SNAPGATE_S3_REGION (us-east-1).
// Without SNAPGATE_SECRET_KEY the server starts but cannot store project secrets.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    stringEnv("SNAPGATE_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:        stringEnv("SNAPGATE_DB_PATH", "snapgate.db"),
		RemoteBaseURL: strings.TrimRight(os.Getenv("SNAPGATE_REMOTE_BASE_URL"), "/"),
		GitHubToken:   os.Getenv("SNAPGATE_GITHUB_TOKEN"),
		S3Endpoint:    os.Getenv("SNAPGATE_S3_ENDPOINT"),
		S3Region:      stringEnv("SNAPGATE_S3_REGION", "us-east-1"),
		S3Bucket:      os.Getenv("SNAPGATE_S3_BUCKET"),
		S3AccessKey:   os.Getenv("SNAPGATE_S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("SNAPGATE_S3_SECRET_KEY"),
	}

	var err error
	if cfg.RemoteTimeout, err = durationEnv("SNAPGATE_REMOTE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationEnv("SNAPGATE_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = durationEnv("SNAPGATE_POLL_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollTimeout < cfg.PollInterval {
		return nil, fmt.Errorf("SNAPGATE_POLL_TIMEOUT (%s) must not be shorter than SNAPGATE_POLL_INTERVAL (%s)",
			cfg.PollTimeout, cfg.PollInterval)
	}
	if cfg.WebhookRetention, err = durationEnv("SNAPGATE_WEBHOOK_RETENTION", 720*time.Hour); err != nil {
		return nil, err
	}
	if cfg.WebhookRequireSignature, err = boolEnv("SNAPGATE_WEBHOOK_REQUIRE_SIGNATURE", false); err != nil {
		return nil, err
	}

	cfg.WSAllowedOrigins = listEnv("SNAPGATE_WS_ALLOWED_ORIGINS")

	if v, ok := os.LookupEnv("SNAPGATE_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("SNAPGATE_SECRET_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("SNAPGATE_SECRET_KEY must be 64 hex characters (32 bytes), got %d bytes", len(key))
		}
		cfg.SecretKey = key
	}

	if cfg.HasS3Archive() && (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("SNAPGATE_S3_ACCESS_KEY and SNAPGATE_S3_SECRET_KEY must be set together")
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return parsed, nil
}

// listEnv splits a comma-separated variable, dropping blanks. Never nil.
func listEnv(key string) []string {
	out := []string{}
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
