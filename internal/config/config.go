package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	ChannelsFile    string `mapstructure:"channels_file"`
	NotifiersFile   string `mapstructure:"notifiers_file"`
	CredentialsFile string `mapstructure:"credentials_file"`

	APIAddr     string `mapstructure:"api_addr"`
	ArtifactDir string `mapstructure:"artifact_dir"`

	PollIntervalSeconds      int64         `mapstructure:"poll_interval_seconds"`
	DiscoveryIntervalSeconds int64         `mapstructure:"discovery_interval_seconds"`
	PollInterval             time.Duration `mapstructure:"-"`
	DiscoveryInterval        time.Duration `mapstructure:"-"`

	LeaseTTLSeconds int64         `mapstructure:"lease_ttl_seconds"`
	LeaseTTL        time.Duration `mapstructure:"-"`
	MaxExecutors    int64         `mapstructure:"max_executors"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	RetentionSeconds       int64         `mapstructure:"retention_seconds"`
	CleanupSeconds         int64         `mapstructure:"cleanup_interval_seconds"`
	Retention              time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`

	RetryBaseDelayMs       int64         `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelaySeconds   int64         `mapstructure:"retry_max_delay_seconds"`
	RetryBaseDelay         time.Duration `mapstructure:"-"`
	RetryMaxDelay          time.Duration `mapstructure:"-"`
	MaxAttemptsAcquire     int           `mapstructure:"max_attempts_acquire"`
	MaxAttemptsTransform   int           `mapstructure:"max_attempts_transform"`
	MaxAttemptsPublish     int           `mapstructure:"max_attempts_publish"`
	StageTimeoutSeconds    int64         `mapstructure:"stage_timeout_seconds"`
	StageTimeout           time.Duration `mapstructure:"-"`

	DispatchMode       string        `mapstructure:"dispatch_mode"`
	RunnerURL          string        `mapstructure:"runner_url"`
	RunnerToken        string        `mapstructure:"runner_token"`
	RunnerPollSeconds  int64         `mapstructure:"runner_poll_seconds"`
	RunnerPollInterval time.Duration `mapstructure:"-"`
	ResultsQueueURL    string        `mapstructure:"results_queue_url"`
	ResultsQueueRegion string        `mapstructure:"results_queue_region"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "clipcast-pipeline")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("channels_file", "./configs/channels.yaml")
	v.SetDefault("notifiers_file", "./configs/notifiers.yaml")
	v.SetDefault("credentials_file", "./configs/credentials.yaml")
	v.SetDefault("api_addr", ":8085")
	v.SetDefault("artifact_dir", "./data/artifacts")
	v.SetDefault("poll_interval_seconds", 5)
	v.SetDefault("discovery_interval_seconds", 900)
	// The lease must cover a full stage execution window, otherwise a slow
	// stage finishes after its lease lapsed and the result is rejected.
	v.SetDefault("lease_ttl_seconds", 1800)
	v.SetDefault("max_executors", 8)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/pipeline.db")
	v.SetDefault("retention_seconds", int64((7*24*time.Hour)/time.Second))
	v.SetDefault("cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
	v.SetDefault("retry_base_delay_ms", 2000)
	v.SetDefault("retry_max_delay_seconds", 1800)
	v.SetDefault("max_attempts_acquire", 5)
	v.SetDefault("max_attempts_transform", 5)
	v.SetDefault("max_attempts_publish", 3)
	v.SetDefault("stage_timeout_seconds", 1800)
	v.SetDefault("dispatch_mode", "local")
	v.SetDefault("runner_poll_seconds", 30)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.PollIntervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid poll_interval_seconds (must be positive)")
	}
	if cfg.DiscoveryIntervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid discovery_interval_seconds (must be positive)")
	}
	if cfg.LeaseTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid lease_ttl_seconds (must be positive)")
	}
	if cfg.StageTimeoutSeconds > cfg.LeaseTTLSeconds {
		return nil, fmt.Errorf("stage_timeout_seconds (%d) must not exceed lease_ttl_seconds (%d)", cfg.StageTimeoutSeconds, cfg.LeaseTTLSeconds)
	}
	if cfg.MaxExecutors <= 0 {
		return nil, fmt.Errorf("invalid max_executors (must be positive)")
	}
	if cfg.RetentionSeconds <= 0 || cfg.CleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid retention/cleanup interval (must be positive seconds)")
	}
	if cfg.RetryBaseDelayMs <= 0 || cfg.RetryMaxDelaySeconds <= 0 {
		return nil, fmt.Errorf("invalid retry delay settings (must be positive)")
	}
	if cfg.DispatchMode != "local" && cfg.DispatchMode != "remote" {
		return nil, fmt.Errorf("unsupported dispatch_mode %q (expected local or remote)", cfg.DispatchMode)
	}
	if cfg.DispatchMode == "remote" && cfg.RunnerURL == "" {
		return nil, fmt.Errorf("runner_url is required when dispatch_mode is remote")
	}

	cfg.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	cfg.DiscoveryInterval = time.Duration(cfg.DiscoveryIntervalSeconds) * time.Second
	cfg.LeaseTTL = time.Duration(cfg.LeaseTTLSeconds) * time.Second
	cfg.Retention = time.Duration(cfg.RetentionSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.CleanupSeconds) * time.Second
	cfg.RetryBaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	cfg.RetryMaxDelay = time.Duration(cfg.RetryMaxDelaySeconds) * time.Second
	cfg.StageTimeout = time.Duration(cfg.StageTimeoutSeconds) * time.Second
	cfg.RunnerPollInterval = time.Duration(cfg.RunnerPollSeconds) * time.Second

	return &cfg, nil
}
