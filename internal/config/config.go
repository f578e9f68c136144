package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Audit      AuditConfig      `yaml:"audit"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Watch      WatchConfig      `yaml:"watch"`
}

type SourceConfig struct {
	BucketURL string            `yaml:"bucket_url"`
	Prefix    string            `yaml:"prefix"`
	Objects   map[string]string `yaml:"objects"` // entity -> object key override
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	BucketURL   string `yaml:"bucket_url"`
	Prefix      string `yaml:"prefix"`
}

type ScoringConfig struct {
	QualifyingStatuses      []string `yaml:"qualifying_statuses"`
	ReferenceDate           string   `yaml:"reference_date"` // YYYY-MM-DD, empty means today
	InactivityThresholdDays int      `yaml:"inactivity_threshold_days"`
}

type LoggingConfig struct {
	Format     string `yaml:"format"`
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type AuditConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Dir          string   `yaml:"dir"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"` // empty disables the run catalog
	Warehouse   string `yaml:"warehouse"`    // name recorded with every run
}

type CheckpointConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	SkipUnchanged bool   `yaml:"skip_unchanged"`
}

type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Source: SourceConfig{
			BucketURL: "file://./data/raw",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Prefix:  "warehouse/",
		},
		Scoring: ScoringConfig{
			QualifyingStatuses:      []string{"delivered", "shipped", "approved"},
			InactivityThresholdDays: 90,
		},
		Logging: LoggingConfig{
			Format:     "text",
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "order_warehouse",
		},
		Audit: AuditConfig{
			Dir:        "./state/audit",
			KafkaTopic: "warehouse-runs",
		},
		Catalog: CatalogConfig{
			Warehouse: "default",
		},
		Checkpoint: CheckpointConfig{
			Dir: "./state",
		},
		Watch: WatchConfig{
			Interval: 5 * time.Minute,
		},
	}
}

// Load reads an optional YAML file over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads configuration or exits.
func MustLoad(path string) Config {
	log.Println("[config] loading")
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Source.BucketURL = getenvDefault("SOURCE_BUCKET_URL", cfg.Source.BucketURL)
	cfg.Source.Prefix = getenvDefault("SOURCE_PREFIX", cfg.Source.Prefix)

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.PostgresDSN = getenvDefault("WAREHOUSE_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.BucketURL = getenvDefault("STORAGE_BUCKET_URL", cfg.Storage.BucketURL)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)

	if v := os.Getenv("QUALIFYING_STATUSES"); v != "" {
		cfg.Scoring.QualifyingStatuses = splitList(v)
	}
	cfg.Scoring.ReferenceDate = getenvDefault("REFERENCE_DATE", cfg.Scoring.ReferenceDate)
	cfg.Scoring.InactivityThresholdDays = parseInt(
		getenvDefault("INACTIVITY_THRESHOLD_DAYS", ""), cfg.Scoring.InactivityThresholdDays)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getenvDefault("LOG_FILE", cfg.Logging.File)

	if os.Getenv("METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	if os.Getenv("AUDIT_ENABLED") == "true" {
		cfg.Audit.Enabled = true
	}
	cfg.Audit.Dir = getenvDefault("AUDIT_DIR", cfg.Audit.Dir)
	if v := os.Getenv("AUDIT_KAFKA_BROKERS"); v != "" {
		cfg.Audit.KafkaBrokers = splitList(v)
	}
	cfg.Audit.KafkaTopic = getenvDefault("AUDIT_KAFKA_TOPIC", cfg.Audit.KafkaTopic)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)
	cfg.Catalog.Warehouse = getenvDefault("WAREHOUSE_NAME", cfg.Catalog.Warehouse)

	if os.Getenv("CHECKPOINT_ENABLED") == "true" {
		cfg.Checkpoint.Enabled = true
	}
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)
	if os.Getenv("SKIP_UNCHANGED") == "true" {
		cfg.Checkpoint.SkipUnchanged = true
	}

	if v := os.Getenv("WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Interval = d
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if len(c.Scoring.QualifyingStatuses) == 0 {
		errs = append(errs, errors.New("scoring.qualifying_statuses must not be empty"))
	}
	if c.Scoring.InactivityThresholdDays < 0 {
		errs = append(errs, fmt.Errorf("scoring.inactivity_threshold_days must be >= 0, got %d", c.Scoring.InactivityThresholdDays))
	}
	if c.Scoring.ReferenceDate != "" {
		if _, err := c.ReferenceDate(); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Storage.Backend {
	case "memory", "postgres", "blob":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be memory, postgres or blob, got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
	}
	if c.Storage.Backend == "blob" && c.Storage.BucketURL == "" {
		errs = append(errs, errors.New("storage.bucket_url is required for the blob backend"))
	}
	if c.Source.BucketURL == "" {
		errs = append(errs, errors.New("source.bucket_url is required"))
	}
	if c.Watch.Interval <= 0 {
		errs = append(errs, errors.New("watch.interval must be positive"))
	}
	return errors.Join(errs...)
}

// ReferenceDate parses Scoring.ReferenceDate. The zero time means "not set".
func (c Config) ReferenceDate() (time.Time, error) {
	if c.Scoring.ReferenceDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.Scoring.ReferenceDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("scoring.reference_date: %w", err)
	}
	return t, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
