// Package config loads engine configuration from a YAML file with
// environment overrides. Precedence: env > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment overrides, e.g. NOTESCAN_SERVER_LISTEN.
const EnvPrefix = "NOTESCAN"

// Config is the fully resolved engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Extract   ExtractConfig   `yaml:"extract"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	UploadDir     string `yaml:"upload_dir"`
	RecoveryToken string `yaml:"recovery_token"`
}

// StorageConfig covers the database and the dictionary seed.
type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	SeedPath string `yaml:"seed_path"`
}

// JobsConfig covers the job manager.
type JobsConfig struct {
	MaxConcurrentJobs    int `yaml:"max_concurrent_jobs"`
	MaxExtractionRetries int `yaml:"max_extraction_retries"`
	SaveBatchSize        int `yaml:"save_batch_size"`
	BatchTimeoutSec      int `yaml:"batch_timeout_sec"`
	JobCleanupAgeHours   int `yaml:"job_cleanup_age_hours"`
}

// ExtractConfig covers the chunk executor.
type ExtractConfig struct {
	TargetChunkSize   int  `yaml:"target_chunk_size"`
	ConcurrencyBase   int  `yaml:"concurrency_base"`
	ConcurrencyBoost  bool `yaml:"concurrency_boost"`
	ChunkTimeoutSec   int  `yaml:"chunk_timeout_sec"`
	JobTimeoutSec     int  `yaml:"job_timeout_sec"`
	MemorySoftLimitMB int  `yaml:"memory_soft_limit_mb"`
}

// LoggingConfig covers the zap logger and its rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig covers the optional OpenTelemetry metrics exporter.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter"` // "", "stdout", or "otlp"
	Endpoint string `yaml:"endpoint"`
}

// BatchTimeout returns the save-batch deadline as a duration.
func (c JobsConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSec) * time.Second
}

// CleanupAge returns the terminal-job retention window as a duration.
func (c JobsConfig) CleanupAge() time.Duration {
	return time.Duration(c.JobCleanupAgeHours) * time.Hour
}

// ChunkTimeout returns the per-chunk deadline as a duration.
func (c ExtractConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSec) * time.Second
}

// JobTimeout returns the whole-batch deadline as a duration.
func (c ExtractConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v)
	return v
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.upload_dir", filepath.Join(os.TempDir(), "notescan-uploads"))
	v.SetDefault("server.recovery_token", "")

	v.SetDefault("storage.db_path", "notescan.db")
	v.SetDefault("storage.seed_path", "")

	v.SetDefault("jobs.max_concurrent_jobs", 3)
	v.SetDefault("jobs.max_extraction_retries", 3)
	v.SetDefault("jobs.save_batch_size", 400)
	v.SetDefault("jobs.batch_timeout_sec", 600)
	v.SetDefault("jobs.job_cleanup_age_hours", 24)

	v.SetDefault("extract.target_chunk_size", 1000)
	v.SetDefault("extract.concurrency_base", 0) // 0 = derive from CPU count
	v.SetDefault("extract.concurrency_boost", false)
	v.SetDefault("extract.chunk_timeout_sec", 120)
	v.SetDefault("extract.job_timeout_sec", 7200)
	v.SetDefault("extract.memory_soft_limit_mb", 8192)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("telemetry.exporter", "")
	v.SetDefault("telemetry.endpoint", "")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        v.GetString("server.listen"),
			UploadDir:     v.GetString("server.upload_dir"),
			RecoveryToken: v.GetString("server.recovery_token"),
		},
		Storage: StorageConfig{
			DBPath:   v.GetString("storage.db_path"),
			SeedPath: v.GetString("storage.seed_path"),
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs:    v.GetInt("jobs.max_concurrent_jobs"),
			MaxExtractionRetries: v.GetInt("jobs.max_extraction_retries"),
			SaveBatchSize:        v.GetInt("jobs.save_batch_size"),
			BatchTimeoutSec:      v.GetInt("jobs.batch_timeout_sec"),
			JobCleanupAgeHours:   v.GetInt("jobs.job_cleanup_age_hours"),
		},
		Extract: ExtractConfig{
			TargetChunkSize:   v.GetInt("extract.target_chunk_size"),
			ConcurrencyBase:   v.GetInt("extract.concurrency_base"),
			ConcurrencyBoost:  v.GetBool("extract.concurrency_boost"),
			ChunkTimeoutSec:   v.GetInt("extract.chunk_timeout_sec"),
			JobTimeoutSec:     v.GetInt("extract.job_timeout_sec"),
			MemorySoftLimitMB: v.GetInt("extract.memory_soft_limit_mb"),
		},
		Logging: LoggingConfig{
			Level:      v.GetString("logging.level"),
			File:       v.GetString("logging.file"),
			MaxSizeMB:  v.GetInt("logging.max_size_mb"),
			MaxBackups: v.GetInt("logging.max_backups"),
			MaxAgeDays: v.GetInt("logging.max_age_days"),
		},
		Telemetry: TelemetryConfig{
			Exporter: v.GetString("telemetry.exporter"),
			Endpoint: v.GetString("telemetry.endpoint"),
		},
	}
}

// Load reads configuration from path. An empty path or a missing file
// falls back to defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return fromViper(v), nil
}

// Watch reloads the config whenever the file changes and invokes
// onChange with the new snapshot. The watch lives for the process.
func Watch(path string, onChange func(*Config)) error {
	if path == "" {
		return nil
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		onChange(fromViper(v))
	})
	v.WatchConfig()
	return nil
}

// WriteDefault renders the default configuration to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	cfg := fromViper(newViper())
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
