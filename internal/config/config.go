// Package config loads swarmctl's configuration from
// $SWARM_HOME/config.yaml with env overrides applied on top.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// HandshakeConfig tunes the protocol engine the daemon uses when it
// initiates handshakes with agents.
type HandshakeConfig struct {
	SupportedProtocols   []string `yaml:"supported_protocols"`
	Capabilities         []string `yaml:"capabilities"`
	RequiredCapabilities []string `yaml:"required_capabilities"`
	TimeoutSeconds       int      `yaml:"timeout_seconds"`
	Retries              int      `yaml:"retries"`
	RetryDelayMillis     int      `yaml:"retry_delay_millis"`
}

// RouterConfig overrides scoring knobs. Zero values fall back to the
// router's defaults.
type RouterConfig struct {
	MaxStalenessMillis  int64 `yaml:"max_staleness_millis"`
	MaxFutureSkewMillis int64 `yaml:"max_future_skew_millis"`
	MinBenchmarkSamples int   `yaml:"min_benchmark_samples"`
}

// AuditConfig controls signing and periodic chain re-verification. The
// secret itself never lives in config.yaml; it comes from
// SWARM_AUDIT_SECRET.
type AuditConfig struct {
	KeyID      string `yaml:"key_id"`
	VerifyCron string `yaml:"verify_cron"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelemetryConfig configures OpenTelemetry export. Disabled by default;
// the daemon runs with noop providers when off.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	TaskStorePath  string `yaml:"task_store_path"`
	AuditStorePath string `yaml:"audit_store_path"`
	ArchivePath    string `yaml:"archive_path"`

	// AuditSecret signs audit entries. Loaded from SWARM_AUDIT_SECRET,
	// never persisted.
	AuditSecret string `yaml:"-"`

	TaskTimeoutSeconds  int `yaml:"task_timeout_seconds"`
	MaxRetries          int `yaml:"max_retries"`
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
	HeartbeatTTLSeconds int `yaml:"heartbeat_ttl_seconds"`
	SweepIntervalSecs   int `yaml:"sweep_interval_seconds"`

	Handshake HandshakeConfig `yaml:"handshake"`
	Router    RouterConfig    `yaml:"router"`
	Audit     AuditConfig     `yaml:"audit"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:18900",
		LogLevel:            "info",
		TaskTimeoutSeconds:  int((5 * time.Minute).Seconds()),
		MaxRetries:          3,
		RetryBackoffSeconds: 30,
		HeartbeatTTLSeconds: 120,
		SweepIntervalSecs:   15,
		Handshake: HandshakeConfig{
			SupportedProtocols: []string{"swarm/0.1"},
			Capabilities:       []string{"task_exchange", "heartbeat"},
			TimeoutSeconds:     5,
			Retries:            2,
			RetryDelayMillis:   250,
		},
		Audit: AuditConfig{
			KeyID:      "default",
			VerifyCron: "@every 10m",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("SWARM_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".swarmctl")
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads the config rooted at homeDir. The watcher uses it to
// reload the same tree the daemon started from regardless of later env
// changes.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create swarm home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18900"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TaskStorePath == "" {
		cfg.TaskStorePath = filepath.Join(cfg.HomeDir, "tasks.jsonl")
	}
	if cfg.AuditStorePath == "" {
		cfg.AuditStorePath = filepath.Join(cfg.HomeDir, "audit.jsonl")
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = filepath.Join(cfg.HomeDir, "archive.db")
	}
	if cfg.TaskTimeoutSeconds <= 0 {
		cfg.TaskTimeoutSeconds = int((5 * time.Minute).Seconds())
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoffSeconds <= 0 {
		cfg.RetryBackoffSeconds = 30
	}
	if cfg.HeartbeatTTLSeconds <= 0 {
		cfg.HeartbeatTTLSeconds = 120
	}
	if cfg.SweepIntervalSecs <= 0 {
		cfg.SweepIntervalSecs = 15
	}
	if len(cfg.Handshake.SupportedProtocols) == 0 {
		cfg.Handshake.SupportedProtocols = []string{"swarm/0.1"}
	}
	if cfg.Handshake.TimeoutSeconds <= 0 {
		cfg.Handshake.TimeoutSeconds = 5
	}
	if cfg.Handshake.Retries < 0 {
		cfg.Handshake.Retries = 0
	}
	if cfg.Handshake.RetryDelayMillis <= 0 {
		cfg.Handshake.RetryDelayMillis = 250
	}
	if cfg.Audit.KeyID == "" {
		cfg.Audit.KeyID = "default"
	}
	if cfg.Audit.VerifyCron == "" {
		cfg.Audit.VerifyCron = "@every 10m"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SWARM_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("SWARM_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SWARM_TASK_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.TaskTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("SWARM_MAX_RETRIES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxRetries = v
		}
	}
	if raw := os.Getenv("SWARM_HEARTBEAT_TTL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HeartbeatTTLSeconds = v
		}
	}
	if raw := os.Getenv("SWARM_AUDIT_SECRET"); raw != "" {
		cfg.AuditSecret = raw
	}
	if raw := os.Getenv("SWARM_AUDIT_KEY_ID"); raw != "" {
		cfg.Audit.KeyID = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Notify.Telegram.Token = raw
	}
}

// Fingerprint returns a stable hash of the active config, logged at
// startup so operators can tell which settings a daemon is running.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|timeout=%d|retries=%d|ttl=%d|protocols=%v",
		c.BindAddr, c.LogLevel, c.TaskTimeoutSeconds, c.MaxRetries,
		c.HeartbeatTTLSeconds, c.Handshake.SupportedProtocols)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
