// Package config loads the relay's configuration from YAML with environment
// variable overrides, following the OCX backend's layered config pattern.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the complete, top-level relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Channel   ChannelConfig   `yaml:"channel"`
	Court     CourtConfig     `yaml:"court"`
	Allowlist AllowlistConfig `yaml:"allowlist"`
	Admin     AdminConfig     `yaml:"admin"`
	Ratings   RatingsConfig   `yaml:"ratings"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the transport listener.
type ServerConfig struct {
	BindAddr        string `yaml:"bind_addr"`
	TLSCertFile     string `yaml:"tls_cert_file"`
	TLSKeyFile      string `yaml:"tls_key_file"`
	FrameMaxBytes   int    `yaml:"frame_max_bytes"`
	ContentMaxChars int    `yaml:"content_max_chars"`
	FileChunkBytes  int    `yaml:"file_chunk_bytes"`
	PerIPConnCap    int    `yaml:"per_ip_conn_cap"`
}

// RateLimitConfig controls the three rate-limit classes.
type RateLimitConfig struct {
	PreAuthMessages  int           `yaml:"pre_auth_messages"`
	PreAuthWindow    time.Duration `yaml:"pre_auth_window"`
	PostAuthMessages int           `yaml:"post_auth_messages"`
	PostAuthWindow   time.Duration `yaml:"post_auth_window"`
	MsgPerSecond     int           `yaml:"msg_per_second"`
	FileChunkPerSec  int           `yaml:"file_chunk_per_second"`
	ChallengeTTL     time.Duration `yaml:"challenge_ttl"`
}

// ChannelConfig controls the channel bus.
type ChannelConfig struct {
	ReplayBufferSize int           `yaml:"replay_buffer_size"`
	FloorTTL         time.Duration `yaml:"floor_ttl"`
	IdlePromptAfter  time.Duration `yaml:"idle_prompt_after"`
}

// CourtConfig controls the dispute/arbitration protocol deadlines.
type CourtConfig struct {
	RevealTTL          time.Duration `yaml:"reveal_ttl"`
	ArbiterResponseTTL time.Duration `yaml:"arbiter_response_ttl"`
	EvidenceTTL        time.Duration `yaml:"evidence_ttl"`
	VoteTTL            time.Duration `yaml:"vote_ttl"`
	ArbiterStake       int           `yaml:"arbiter_stake"`
	MinArbiterRating   int           `yaml:"min_arbiter_rating"`
	MinArbiterTxCount  int           `yaml:"min_arbiter_tx_count"`
}

// AllowlistConfig gates IDENTIFY admission.
type AllowlistConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdminConfig holds the shared secret for ADMIN_* operations.
type AdminConfig struct {
	Key      string `yaml:"key"`
	HTTPAddr string `yaml:"http_addr"`
}

// RatingsConfig selects and configures the ratings persistence backend.
type RatingsConfig struct {
	Backend     string `yaml:"backend"` // "file" (default) or "postgres"
	FilePath    string `yaml:"file_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BindAddr string `yaml:"bind_addr"`
}

// EventsConfig controls the escrow/settlement hook fan-out.
type EventsConfig struct {
	RedisDSN     string `yaml:"redis_dsn"`
	RedisChannel string `yaml:"redis_channel"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton config, loading CONFIG_PATH
// (default "config.yaml") on first use. A .env file in the working
// directory, if present, is loaded into the process environment first so
// local development doesn't need exported shell variables; its absence is
// not an error.
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("config: failed to load .env file", "error", err)
		}

		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load file, using defaults", "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.BindAddr = getEnv("RELAY_BIND_ADDR", c.Server.BindAddr)
	c.Server.TLSCertFile = getEnv("RELAY_TLS_CERT", c.Server.TLSCertFile)
	c.Server.TLSKeyFile = getEnv("RELAY_TLS_KEY", c.Server.TLSKeyFile)
	if v := getEnvInt("RELAY_FRAME_MAX_BYTES", 0); v > 0 {
		c.Server.FrameMaxBytes = v
	}
	if v := getEnvInt("RELAY_CONTENT_MAX_CHARS", 0); v > 0 {
		c.Server.ContentMaxChars = v
	}
	if v := getEnvInt("RELAY_PER_IP_CONN_CAP", 0); v > 0 {
		c.Server.PerIPConnCap = v
	}

	c.Allowlist.Enabled = getEnvBool("RELAY_ALLOWLIST_ENABLED", c.Allowlist.Enabled)
	c.Allowlist.Path = getEnv("RELAY_ALLOWLIST_PATH", c.Allowlist.Path)

	c.Admin.Key = getEnv("RELAY_ADMIN_KEY", c.Admin.Key)
	c.Admin.HTTPAddr = getEnv("RELAY_ADMIN_HTTP_ADDR", c.Admin.HTTPAddr)

	c.Ratings.Backend = getEnv("RELAY_RATINGS_BACKEND", c.Ratings.Backend)
	c.Ratings.FilePath = getEnv("RELAY_RATINGS_FILE", c.Ratings.FilePath)
	c.Ratings.PostgresDSN = getEnv("RELAY_RATINGS_POSTGRES_DSN", c.Ratings.PostgresDSN)

	c.Metrics.Enabled = getEnvBool("RELAY_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.BindAddr = getEnv("RELAY_METRICS_ADDR", c.Metrics.BindAddr)

	c.Events.RedisDSN = getEnv("RELAY_REDIS_DSN", c.Events.RedisDSN)
	c.Events.RedisChannel = getEnv("RELAY_REDIS_CHANNEL", c.Events.RedisChannel)

	c.Log.Level = getEnv("RELAY_LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyDefaults() {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = ":8787"
	}
	if c.Server.FrameMaxBytes == 0 {
		c.Server.FrameMaxBytes = 256 * 1024
	}
	if c.Server.ContentMaxChars == 0 {
		c.Server.ContentMaxChars = 4096
	}
	if c.Server.FileChunkBytes == 0 {
		c.Server.FileChunkBytes = 64 * 1024
	}
	if c.Server.PerIPConnCap == 0 {
		c.Server.PerIPConnCap = 20
	}

	if c.RateLimit.PreAuthMessages == 0 {
		c.RateLimit.PreAuthMessages = 10
	}
	if c.RateLimit.PreAuthWindow == 0 {
		c.RateLimit.PreAuthWindow = 10 * time.Second
	}
	if c.RateLimit.PostAuthMessages == 0 {
		c.RateLimit.PostAuthMessages = 60
	}
	if c.RateLimit.PostAuthWindow == 0 {
		c.RateLimit.PostAuthWindow = 10 * time.Second
	}
	if c.RateLimit.MsgPerSecond == 0 {
		c.RateLimit.MsgPerSecond = 1
	}
	if c.RateLimit.FileChunkPerSec == 0 {
		c.RateLimit.FileChunkPerSec = 10
	}
	if c.RateLimit.ChallengeTTL == 0 {
		c.RateLimit.ChallengeTTL = 30 * time.Second
	}

	if c.Channel.ReplayBufferSize == 0 {
		c.Channel.ReplayBufferSize = 20
	}
	if c.Channel.FloorTTL == 0 {
		c.Channel.FloorTTL = 45 * time.Second
	}
	if c.Channel.IdlePromptAfter == 0 {
		c.Channel.IdlePromptAfter = 5 * time.Minute
	}

	if c.Court.RevealTTL == 0 {
		c.Court.RevealTTL = 5 * time.Minute
	}
	if c.Court.ArbiterResponseTTL == 0 {
		c.Court.ArbiterResponseTTL = 30 * time.Minute
	}
	if c.Court.EvidenceTTL == 0 {
		c.Court.EvidenceTTL = time.Hour
	}
	if c.Court.VoteTTL == 0 {
		c.Court.VoteTTL = time.Hour
	}
	if c.Court.ArbiterStake == 0 {
		c.Court.ArbiterStake = 25
	}
	if c.Court.MinArbiterRating == 0 {
		c.Court.MinArbiterRating = 1200
	}
	if c.Court.MinArbiterTxCount == 0 {
		c.Court.MinArbiterTxCount = 10
	}

	if c.Ratings.Backend == "" {
		c.Ratings.Backend = "file"
	}
	if c.Ratings.FilePath == "" {
		c.Ratings.FilePath = "ratings.json"
	}

	if c.Metrics.BindAddr == "" {
		c.Metrics.BindAddr = ":9090"
	}
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = "agentchat:events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Admin.HTTPAddr == "" {
		c.Admin.HTTPAddr = ":8788"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
