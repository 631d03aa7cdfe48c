package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logger       LoggerConfig       `yaml:"logger"`
	Redis        RedisConfig        `yaml:"redis"`
	Store        StoreConfig        `yaml:"store"`
	Sampling     SamplingConfig     `yaml:"sampling"`
	Staleness    StalenessConfig    `yaml:"staleness"`
	Openlava     OpenlavaConfig     `yaml:"openlava"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig query API configuration
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	Mode    string `yaml:"mode" validate:"oneof=debug release test"`
	APIKey  string `yaml:"api_key"` // empty disables authentication
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level" validate:"oneof=debug info warn error"`
	Output string           `yaml:"output" validate:"oneof=console file both"`
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RedisConfig Redis configuration. An empty Addr disables the single-runner lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig locations of the sqlite store files
type StoreConfig struct {
	DBPath       string `yaml:"db_path" validate:"required"`
	ResourcePath string `yaml:"resource_path" validate:"required"`
}

// SamplingConfig class sampling configuration
type SamplingConfig struct {
	Interval         int      `yaml:"interval" validate:"min=1"` // seconds
	Classes          []string `yaml:"classes" validate:"dive,oneof=job queue host load user"`
	ResourceEnabled  bool     `yaml:"resource_enabled"`
	ResourceInterval int      `yaml:"resource_interval" validate:"min=1"` // seconds
	ToleranceSeconds int      `yaml:"tolerance_seconds" validate:"min=0"`
}

// StalenessConfig staleness windows per entity class (seconds, <=0 disables eviction)
type StalenessConfig struct {
	Job      int `yaml:"job"`
	Queue    int `yaml:"queue"`
	Host     int `yaml:"host"`
	Load     int `yaml:"load"`
	User     int `yaml:"user"`
	Resource int `yaml:"resource"`
}

// OpenlavaConfig scheduler CLI configuration
type OpenlavaConfig struct {
	BinDir         string `yaml:"bin_dir"`
	CommandTimeout int    `yaml:"command_timeout" validate:"min=1"` // seconds
}

// MonitorConfig finished-job monitor configuration
type MonitorConfig struct {
	Enabled      bool `yaml:"enabled"`
	Interval     int  `yaml:"interval" validate:"min=1"`      // seconds
	GapThreshold int  `yaml:"gap_threshold" validate:"min=1"` // seconds
}

// NotificationConfig finished-job notification configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"` // falls back to $FEISHU_WEBHOOK_URL
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads, defaults and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml bytes into a validated configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = "logs/lavamon.log"
	}
	if cfg.Logger.File.MaxSizeMB <= 0 {
		cfg.Logger.File.MaxSizeMB = 100
	}
	if cfg.Logger.File.MaxBackups <= 0 {
		cfg.Logger.File.MaxBackups = 5
	}
	if cfg.Logger.File.MaxAgeDays <= 0 {
		cfg.Logger.File.MaxAgeDays = 30
	}

	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = "db"
	}
	if cfg.Store.ResourcePath == "" {
		cfg.Store.ResourcePath = cfg.Store.DBPath + "/resource"
	}

	if cfg.Sampling.Interval <= 0 {
		cfg.Sampling.Interval = 300
	}
	if len(cfg.Sampling.Classes) == 0 {
		cfg.Sampling.Classes = []string{"job", "queue", "host", "load", "user"}
	}
	if cfg.Sampling.ResourceInterval <= 0 {
		cfg.Sampling.ResourceInterval = 300
	}
	if cfg.Sampling.ToleranceSeconds <= 0 {
		cfg.Sampling.ToleranceSeconds = 5
	}

	// Zero means "not configured"; a negative value disables eviction.
	if cfg.Staleness.Job == 0 {
		cfg.Staleness.Job = 3600
	}
	if cfg.Staleness.Queue == 0 {
		cfg.Staleness.Queue = 864000
	}
	if cfg.Staleness.Host == 0 {
		cfg.Staleness.Host = 864000
	}
	if cfg.Staleness.Load == 0 {
		cfg.Staleness.Load = 864000
	}
	if cfg.Staleness.User == 0 {
		cfg.Staleness.User = 864000
	}
	if cfg.Staleness.Resource == 0 {
		cfg.Staleness.Resource = 3600
	}

	if cfg.Openlava.CommandTimeout <= 0 {
		cfg.Openlava.CommandTimeout = 60
	}

	if cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = 300
	}
	if cfg.Monitor.GapThreshold <= 0 {
		cfg.Monitor.GapThreshold = 3600
	}
}

// Seconds converts a seconds setting into a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
