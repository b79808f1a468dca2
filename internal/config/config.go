// Package config handles configuration loading for the altlens server.
//
// Values are read from an optional YAML file and from ALTLENS_* environment
// variables, with environment variables taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the server.
type Config struct {
	// ListenAddr is the address the HTTP server binds to, e.g. ":8090".
	ListenAddr string `mapstructure:"listen_addr"`

	// DataDir is the root directory for session working directories.
	DataDir string `mapstructure:"data_dir"`

	// AnalyzerCommand is the argv prefix of the external analyzer executable,
	// e.g. ["python3", "-m", "altlens_analyzer"]. Job-specific arguments are
	// appended by the runner.
	AnalyzerCommand []string `mapstructure:"analyzer_command"`

	// PageTimeout bounds a single-page analysis; BatchTimeout bounds a batch
	// run. Both are hard wall-clock limits enforced per job.
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`

	// ProgressPollInterval is how often the runner reads a job's progress file.
	ProgressPollInterval time.Duration `mapstructure:"progress_poll_interval"`

	// MaxConcurrentJobs caps the number of in-flight jobs; submissions beyond
	// the cap are rejected.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`

	// JobRetention is how long terminal job records remain queryable.
	JobRetention time.Duration `mapstructure:"job_retention"`

	// SessionTTL is the inactivity threshold after which the janitor reclaims
	// a session. JanitorInterval is the sweep period.
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	// SessionRateLimit is requests/second allowed per session (0 = unlimited).
	// SessionRateBurst is the burst allowance.
	SessionRateLimit float64 `mapstructure:"session_rate_limit"`
	SessionRateBurst int     `mapstructure:"session_rate_burst"`

	// OTELEndpoint is the OTLP gRPC collector address for traces. Empty
	// disables tracing.
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

// Load reads configuration from the given file path (optional) and from
// ALTLENS_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("data_dir", "data")
	v.SetDefault("analyzer_command", []string{"altlens-analyzer"})
	v.SetDefault("page_timeout", 5*time.Minute)
	v.SetDefault("batch_timeout", 30*time.Minute)
	v.SetDefault("progress_poll_interval", 500*time.Millisecond)
	v.SetDefault("max_concurrent_jobs", 4)
	v.SetDefault("job_retention", 5*time.Minute)
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("janitor_interval", time.Hour)
	v.SetDefault("session_rate_limit", 5.0)
	v.SetDefault("session_rate_burst", 10)

	v.SetEnvPrefix("ALTLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.AnalyzerCommand) == 0 || c.AnalyzerCommand[0] == "" {
		return fmt.Errorf("analyzer_command is required")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.PageTimeout <= 0 || c.BatchTimeout <= 0 {
		return fmt.Errorf("page_timeout and batch_timeout must be positive")
	}
	if c.ProgressPollInterval <= 0 {
		return fmt.Errorf("progress_poll_interval must be positive")
	}
	return nil
}
