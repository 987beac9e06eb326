// Package config loads contentguard settings from a YAML file, a .env file
// and CG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sydlexius/contentguard/internal/logging"
	"github.com/sydlexius/contentguard/internal/notify"
	"github.com/sydlexius/contentguard/internal/ratelimit"
	"github.com/sydlexius/contentguard/internal/source/torrent"
)

// Rate limiter backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Database   DatabaseConfig    `yaml:"database"`
	Backup     BackupConfig      `yaml:"backup"`
	Logging    logging.Config    `yaml:"logging"`
	Encryption EncryptionConfig  `yaml:"encryption"`
	WebSearch  WebSearchConfig   `yaml:"websearch"`
	Messaging  MessagingConfig   `yaml:"messaging"`
	Torrent    TorrentConfig     `yaml:"torrent"`
	RateLimit  RateLimitConfig   `yaml:"ratelimit"`
	Redis      RedisConfig       `yaml:"redis"`
	Kafka      KafkaConfig       `yaml:"kafka"`
	Webhooks   []notify.Endpoint `yaml:"webhooks"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// CronSecret, when set, must be presented as a bearer token on cache
	// maintenance endpoints.
	CronSecret string `yaml:"cron_secret"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackupConfig controls store snapshots. An empty Dir places them in a
// backups directory next to the database.
type BackupConfig struct {
	Dir    string        `yaml:"dir"`
	Keep   int           `yaml:"keep"`
	MaxAge time.Duration `yaml:"max_age"`
}

// ResolvedDir returns Dir, or the default next to dbPath.
func (b BackupConfig) ResolvedDir(dbPath string) string {
	if b.Dir != "" {
		return b.Dir
	}
	return filepath.Join(filepath.Dir(dbPath), "backups")
}

// EncryptionConfig holds the key protecting stored secrets.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// WebSearchConfig holds Custom Search credentials. Empty values fall back
// to the encrypted settings store.
type WebSearchConfig struct {
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
	BaseURL  string `yaml:"base_url"`
}

// MessagingConfig holds MTProto client credentials.
type MessagingConfig struct {
	AppID   int    `yaml:"app_id"`
	AppHash string `yaml:"app_hash"`
	Session string `yaml:"session"`
}

// TorrentConfig overrides the built-in index list.
type TorrentConfig struct {
	SiteTimeout time.Duration  `yaml:"site_timeout"`
	Sites       []torrent.Site `yaml:"sites"`
}

// RateLimitConfig selects the limiter backend and per-category overrides.
type RateLimitConfig struct {
	Backend       string                     `yaml:"backend"`
	SweepInterval time.Duration              `yaml:"sweep_interval"`
	Limits        map[string]ratelimit.Limit `yaml:"limits"`
}

// CategoryLimits converts Limits to limiter overrides.
func (r RateLimitConfig) CategoryLimits() map[ratelimit.Category]ratelimit.Limit {
	out := make(map[ratelimit.Category]ratelimit.Limit, len(r.Limits))
	for name, l := range r.Limits {
		out[ratelimit.Category(name)] = l
	}
	return out
}

// RedisConfig locates the shared Redis used by the redis limiter backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// KafkaConfig enables the Kafka event sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the sink should be started.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// SchedulerConfig controls background jobs. Specs use robfig/cron syntax.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ScanSpec        string `yaml:"scan_spec"`
	CacheSpec       string `yaml:"cache_spec"`
	MaintenanceSpec string `yaml:"maintenance_spec"`
	LimiterSpec     string `yaml:"limiter_spec"`
	BackupSpec      string `yaml:"backup_spec"`
	ScanBatchSize   int    `yaml:"scan_batch_size"`
}

// Default returns a Config with defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "/data/contentguard.db",
		},
		Backup: BackupConfig{
			Keep: 7,
		},
		Logging: logging.DefaultConfig(),
		WebSearch: WebSearchConfig{
			BaseURL: "https://www.googleapis.com",
		},
		Torrent: TorrentConfig{
			SiteTimeout: torrent.DefaultSiteTimeout,
			Sites:       torrent.DefaultSites(),
		},
		RateLimit: RateLimitConfig{
			Backend:       BackendMemory,
			SweepInterval: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "contentguard:ratelimit",
		},
		Kafka: KafkaConfig{
			Topic: "contentguard.events",
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			ScanSpec:        "0 * * * *",
			CacheSpec:       "30 3 * * *",
			MaintenanceSpec: "0 4 * * *",
			LimiterSpec:     "*/5 * * * *",
			BackupSpec:      "0 2 * * *",
			ScanBatchSize:   10,
		},
	}
}

// LoadDotEnv loads variables from a .env file without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	envInt("CG_PORT", &c.Server.Port)
	envString("CG_CRON_SECRET", &c.Server.CronSecret)
	envString("CG_DB_PATH", &c.Database.Path)
	envString("CG_BACKUP_DIR", &c.Backup.Dir)
	envString("CG_LOG_LEVEL", &c.Logging.Level)
	envString("CG_LOG_FORMAT", &c.Logging.Format)
	envString("CG_LOG_FILE", &c.Logging.File.Path)
	envString("CG_ENCRYPTION_KEY", &c.Encryption.Key)
	envString("CG_WEBSEARCH_API_KEY", &c.WebSearch.APIKey)
	envString("CG_WEBSEARCH_ENGINE_ID", &c.WebSearch.EngineID)
	envInt("CG_MESSAGING_APP_ID", &c.Messaging.AppID)
	envString("CG_MESSAGING_APP_HASH", &c.Messaging.AppHash)
	envString("CG_MESSAGING_SESSION", &c.Messaging.Session)
	envString("CG_RATELIMIT_BACKEND", &c.RateLimit.Backend)
	envString("CG_REDIS_ADDRESS", &c.Redis.Address)
	envString("CG_REDIS_PASSWORD", &c.Redis.Password)
	envString("CG_KAFKA_TOPIC", &c.Kafka.Topic)
	if v := os.Getenv("CG_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("CG_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Scheduler.Enabled = b
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Backup.Keep < 0 || c.Backup.MaxAge < 0 {
		return fmt.Errorf("backup keep and max_age must not be negative")
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %q", c.RateLimit.Backend)
	}
	known := ratelimit.DefaultLimits()
	for name, l := range c.RateLimit.Limits {
		if _, ok := known[ratelimit.Category(name)]; !ok {
			return fmt.Errorf("unknown rate limit category: %q", name)
		}
		if l.Max <= 0 || l.Window <= 0 {
			return fmt.Errorf("rate limit %q needs a positive max and window", name)
		}
	}
	if c.Messaging.Session != "" && (c.Messaging.AppID == 0 || c.Messaging.AppHash == "") {
		return fmt.Errorf("messaging session requires app_id and app_hash")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	if c.Torrent.SiteTimeout <= 0 {
		c.Torrent.SiteTimeout = torrent.DefaultSiteTimeout
	}
	for i, s := range c.Torrent.Sites {
		if s.Name == "" || !strings.Contains(s.URLTemplate, "{query}") {
			return fmt.Errorf("torrent site %d needs a name and a url containing {query}", i)
		}
		if s.Format != torrent.FormatHTML && s.Format != torrent.FormatJSON {
			return fmt.Errorf("torrent site %q has invalid format %q", s.Name, s.Format)
		}
	}
	for i, ep := range c.Webhooks {
		if !strings.HasPrefix(ep.URL, "http://") && !strings.HasPrefix(ep.URL, "https://") {
			return fmt.Errorf("webhook %d needs an http(s) url", i)
		}
	}
	if c.Scheduler.ScanBatchSize <= 0 {
		c.Scheduler.ScanBatchSize = 10
	}
	return nil
}
