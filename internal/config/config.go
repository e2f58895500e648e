package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

const (
	ProviderOpenAI     = "openai"
	ProviderHTTP       = "http"
	ProviderSimulation = "simulation"

	MetricsLog   = "log"
	MetricsRedis = "redis"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Migrations   MigrationsConfig   `mapstructure:"migrations"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

type ServerConfig struct {
	Addr               string   `mapstructure:"addr"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
	ReadTimeoutSec     int      `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec    int      `mapstructure:"write_timeout_sec"`
	MaxUploadSizeMB    int      `mapstructure:"max_upload_size_mb"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`
	SupportedFormats   []string `mapstructure:"supported_formats"`
}

type DatabaseConfig struct {
	DSN                  string `mapstructure:"dsn"`
	Slaves               string `mapstructure:"slaves"`
	MaxOpenConns         int    `mapstructure:"max_open_conns"`
	MaxIdleConns         int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSec   int    `mapstructure:"conn_max_lifetime_sec"`
	ConnectRetries       int    `mapstructure:"connect_retries"`
	ConnectRetryDelaySec int    `mapstructure:"connect_retry_delay_sec"`
}

type MigrationsConfig struct {
	Path string `mapstructure:"path"`
}

type KafkaConfig struct {
	Brokers              []string `mapstructure:"brokers"`
	Topic                string   `mapstructure:"topic"`
	GroupID              string   `mapstructure:"group_id"`
	Partition            int      `mapstructure:"partition"`
	SessionTimeoutSec    int      `mapstructure:"session_timeout_sec"`
	HeartbeatIntervalSec int      `mapstructure:"heartbeat_interval_sec"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	LocalPath string `mapstructure:"local_path"`
	SourceDir string `mapstructure:"source_dir"`
	OutputDir string `mapstructure:"output_dir"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

// JobsConfig switches the asynchronous path (database + kafka) on.
type JobsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	JobTimeoutSec int  `mapstructure:"job_timeout_sec"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
	BufferSize    int    `mapstructure:"buffer_size"`
}

type OrchestratorConfig struct {
	ShapingWorkers int           `mapstructure:"shaping_workers"`
	BatchLimit     int           `mapstructure:"batch_limit"`
	Quality        QualityConfig `mapstructure:"quality"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
	Engine         EngineConfig  `mapstructure:"engine"`
	Tiers          []TierConfig  `mapstructure:"tiers"`
}

type QualityConfig struct {
	Threshold       float64 `mapstructure:"threshold"`
	MinPayloadBytes int     `mapstructure:"min_payload_bytes"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CoolDownSec      int `mapstructure:"cool_down_sec"`
}

type EngineConfig struct {
	WorkingSize      int     `mapstructure:"working_size"`
	CosmeticRotation bool    `mapstructure:"cosmetic_rotation"`
	RotationDegrees  float64 `mapstructure:"rotation_degrees"`
	MinQuality       int     `mapstructure:"min_quality"`
	QualityStep      int     `mapstructure:"quality_step"`
}

type TierConfig struct {
	Name        string           `mapstructure:"name"`
	Priority    int              `mapstructure:"priority"`
	Kind        string           `mapstructure:"kind"`
	PremiumOnly bool             `mapstructure:"premium_only"`
	Providers   []ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	Name       string  `mapstructure:"name"`
	Type       string  `mapstructure:"type"`
	Capability string  `mapstructure:"capability"`
	TimeoutSec int     `mapstructure:"timeout_sec"`
	Retries    int     `mapstructure:"retries"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`

	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"` // read when api_key is empty
	BaseURL   string `mapstructure:"base_url"`
	Endpoint  string `mapstructure:"endpoint"`
	Model     string `mapstructure:"model"`
	Size      string `mapstructure:"size"`
}

// DefaultOrchestrator is what the CLI runs with when no config file is given:
// no remote providers, only the local simulation tier in front of the guarantee.
func DefaultOrchestrator() OrchestratorConfig {
	o := OrchestratorConfig{}
	o.Defaults()
	return o
}

// Defaults fills every zero value. A config without tiers gets the simulation tier.
func (o *OrchestratorConfig) Defaults() {
	if o.BatchLimit <= 0 {
		o.BatchLimit = 4
	}
	if o.Quality.Threshold <= 0 {
		o.Quality.Threshold = 8.0
	}
	if o.Quality.MinPayloadBytes <= 0 {
		o.Quality.MinPayloadBytes = 10 * 1024
	}
	if o.Breaker.FailureThreshold <= 0 {
		o.Breaker.FailureThreshold = 3
	}
	if o.Breaker.CoolDownSec <= 0 {
		o.Breaker.CoolDownSec = 60
	}
	if o.Engine.WorkingSize <= 0 {
		o.Engine.WorkingSize = 2048
	}
	if o.Engine.RotationDegrees == 0 {
		o.Engine.RotationDegrees = 0.1
	}
	if o.Engine.MinQuality <= 0 {
		o.Engine.MinQuality = 40
	}
	if o.Engine.QualityStep <= 0 {
		o.Engine.QualityStep = 5
	}
	if len(o.Tiers) == 0 {
		o.Tiers = []TierConfig{{
			Name:     "local",
			Priority: 3,
			Kind:     "local",
			Providers: []ProviderConfig{{
				Name:       "simulation",
				Type:       ProviderSimulation,
				Capability: "style-simulation",
				TimeoutSec: 10,
			}},
		}}
	}
	for i := range o.Tiers {
		for j := range o.Tiers[i].Providers {
			p := &o.Tiers[i].Providers[j]
			if p.Name == "" {
				p.Name = p.Type
			}
			if p.APIKey == "" && p.APIKeyEnv != "" {
				p.APIKey = os.Getenv(p.APIKeyEnv)
			}
			if p.TimeoutSec <= 0 {
				if p.Type == ProviderSimulation {
					p.TimeoutSec = 10
				} else {
					p.TimeoutSec = 30
				}
			}
			if p.RatePerSec > 0 && p.Burst <= 0 {
				p.Burst = 1
			}
		}
	}
}

func Load(path string) (*Config, error) {
	appConfig, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(appConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	zlog.Logger.Info().
		Str("storage_type", appConfig.Storage.Type).
		Bool("jobs_enabled", appConfig.Jobs.Enabled).
		Str("metrics_backend", appConfig.Metrics.Backend).
		Int("tiers", len(appConfig.Orchestrator.Tiers)).
		Msg("Config loaded successfully via wbf")

	return appConfig, nil
}

// LoadOrchestrator reads a config file but validates only the orchestrator section.
func LoadOrchestrator(path string) (*OrchestratorConfig, error) {
	appConfig, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := validateOrchestrator(&appConfig.Orchestrator); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &appConfig.Orchestrator, nil
}

func read(path string) (*Config, error) {
	cfg := config.New()

	configPath := path
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		} else if _, err := os.Stat("/app/config.yaml"); err == nil {
			configPath = "/app/config.yaml"
		} else {
			return nil, fmt.Errorf("config.yaml not found")
		}
	}

	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = ""
	}

	if err := cfg.Load(configPath, envPath, "APP"); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appConfig := &Config{}
	if err := cfg.Unmarshal(appConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	appConfig.Orchestrator.Defaults()
	if appConfig.Metrics.Backend == "" {
		appConfig.Metrics.Backend = MetricsLog
	}

	return appConfig, nil
}

func validateConfig(cfg *Config) error {
	// Server
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("server.shutdown_timeout_sec must be positive")
	}
	if cfg.Server.ReadTimeoutSec <= 0 {
		return fmt.Errorf("server.read_timeout_sec must be positive")
	}
	if cfg.Server.WriteTimeoutSec <= 0 {
		return fmt.Errorf("server.write_timeout_sec must be positive")
	}
	if cfg.Server.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("server.max_upload_size_mb must be positive")
	}
	if len(cfg.Server.SupportedFormats) == 0 {
		return fmt.Errorf("server.supported_formats must contain at least one format")
	}

	// Jobs need a database and a queue
	if cfg.Jobs.Enabled {
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when jobs are enabled")
		}
		if cfg.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be positive")
		}
		if cfg.Database.MaxIdleConns < 0 {
			return fmt.Errorf("database.max_idle_conns must be non-negative")
		}
		if cfg.Migrations.Path == "" {
			return fmt.Errorf("migrations.path is required when jobs are enabled")
		}
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must contain at least one broker")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required")
		}
		if cfg.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id is required")
		}
	}

	// Storage
	if cfg.Storage.Type == "" {
		return fmt.Errorf("storage.type is required (local|s3)")
	}
	if cfg.Storage.Type != "local" && cfg.Storage.Type != "s3" {
		return fmt.Errorf("storage.type must be 'local' or 's3'")
	}
	if cfg.Storage.Type == "local" && cfg.Storage.LocalPath == "" {
		return fmt.Errorf("storage.local_path is required for local storage")
	}
	if cfg.Storage.Type == "s3" {
		if cfg.Storage.S3Endpoint == "" {
			return fmt.Errorf("storage.s3_endpoint is required for s3 storage")
		}
		if cfg.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket is required for s3 storage")
		}
		if cfg.Storage.S3AccessKey == "" || cfg.Storage.S3SecretKey == "" {
			return fmt.Errorf("storage.s3_access_key and storage.s3_secret_key are required for s3 storage")
		}
	}

	// Metrics
	switch cfg.Metrics.Backend {
	case MetricsLog:
	case MetricsRedis:
		if cfg.Metrics.RedisAddr == "" {
			return fmt.Errorf("metrics.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("metrics.backend must be 'log' or 'redis'")
	}

	if cfg.Logging.Level == "" {
		return fmt.Errorf("logging.level is required")
	}

	return validateOrchestrator(&cfg.Orchestrator)
}

func validateOrchestrator(o *OrchestratorConfig) error {
	if o.Quality.Threshold > 10 {
		return fmt.Errorf("orchestrator.quality.threshold must be within 0..10")
	}
	if o.Engine.MinQuality > 100 {
		return fmt.Errorf("orchestrator.engine.min_quality must be within 1..100")
	}
	if o.Engine.QualityStep > 50 {
		return fmt.Errorf("orchestrator.engine.quality_step must be within 1..50")
	}

	names := make(map[string]struct{})
	for i, t := range o.Tiers {
		switch t.Kind {
		case "premium", "alternative", "local":
		default:
			return fmt.Errorf("orchestrator.tiers[%d].kind must be premium, alternative or local", i)
		}
		if len(t.Providers) == 0 {
			return fmt.Errorf("orchestrator.tiers[%d] has no providers", i)
		}
		for j, p := range t.Providers {
			if _, dup := names[p.Name]; dup {
				return fmt.Errorf("orchestrator.tiers[%d].providers[%d]: duplicate provider name %q", i, j, p.Name)
			}
			names[p.Name] = struct{}{}

			switch strings.ToLower(p.Type) {
			case ProviderOpenAI:
				if p.APIKey == "" {
					return fmt.Errorf("orchestrator.tiers[%d].providers[%d]: api_key is required for openai (set api_key or api_key_env)", i, j)
				}
			case ProviderHTTP:
				if p.BaseURL == "" {
					return fmt.Errorf("orchestrator.tiers[%d].providers[%d]: base_url is required for http", i, j)
				}
			case ProviderSimulation:
			default:
				return fmt.Errorf("orchestrator.tiers[%d].providers[%d]: unsupported type %q", i, j, p.Type)
			}
			if p.Retries < 0 {
				return fmt.Errorf("orchestrator.tiers[%d].providers[%d]: retries must be non-negative", i, j)
			}
		}
	}
	return nil
}
