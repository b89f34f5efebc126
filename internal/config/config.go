// Package config loads probe engine configuration from an optional YAML file
// and the environment, with env vars taking precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/monitron-io/monitron/pkg/models"
)

// Config represents the application configuration. Settings are loaded once
// at startup and treated as immutable for the process lifetime.
type Config struct {
	DatabaseURL string `yaml:"databaseUrl" mapstructure:"database_url"`
	RedisURL    string `yaml:"redisUrl" mapstructure:"redis_url"`

	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Probe     ProbeConfig     `yaml:"probe" mapstructure:"probe"`
	Alerting  AlertingConfig  `yaml:"alerting" mapstructure:"alerting"`
	SMTP      SMTPConfig      `yaml:"smtp" mapstructure:"smtp"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Ops       OpsConfig       `yaml:"ops" mapstructure:"ops"`
}

// SchedulerConfig contains claim loop and worker pool configuration.
// Durations are expressed in seconds to mirror the environment interface.
type SchedulerConfig struct {
	MaxConcurrency     int     `yaml:"maxConcurrency" mapstructure:"max_concurrency"`
	PollIntervalSecs   float64 `yaml:"pollInterval" mapstructure:"poll_interval"`
	ClaimSeconds       float64 `yaml:"claimSeconds" mapstructure:"claim_seconds"`
	JitterSeconds      float64 `yaml:"jitterSeconds" mapstructure:"jitter_seconds"`
	FailureRetryStages string  `yaml:"failureRetryStages" mapstructure:"failure_retry_stages"`
	QueueName          string  `yaml:"queueName" mapstructure:"queue_name"`
}

// PollInterval returns the scheduler cadence floor.
func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs * float64(time.Second))
}

// ClaimTTL returns the claim lease duration.
func (s SchedulerConfig) ClaimTTL() time.Duration {
	return time.Duration(s.ClaimSeconds * float64(time.Second))
}

// Jitter returns the half-width of the scheduling jitter.
func (s SchedulerConfig) Jitter() time.Duration {
	return time.Duration(s.JitterSeconds * float64(time.Second))
}

// RetryStages parses the configured staged backoff.
func (s SchedulerConfig) RetryStages() ([]models.RetryStage, error) {
	return models.ParseRetryStages(s.FailureRetryStages)
}

// ProbeConfig contains HTTP probe client configuration
type ProbeConfig struct {
	UserAgent string `yaml:"userAgent" mapstructure:"user_agent"`
}

// AlertingConfig contains sustained-down alert configuration
type AlertingConfig struct {
	SustainedDownThreshold     int `yaml:"sustainedDownThreshold" mapstructure:"sustained_down_threshold"`
	SustainedDownWindowMinutes int `yaml:"sustainedDownWindowMinutes" mapstructure:"sustained_down_window_minutes"`
}

// Window returns the sliding alert window.
func (a AlertingConfig) Window() time.Duration {
	return time.Duration(a.SustainedDownWindowMinutes) * time.Minute
}

// SMTPConfig contains mailer configuration. An empty Host or From disables
// alert delivery.
type SMTPConfig struct {
	Host        string  `yaml:"host" mapstructure:"host"`
	Port        int     `yaml:"port" mapstructure:"port"`
	Username    string  `yaml:"username" mapstructure:"username"`
	Password    string  `yaml:"password" mapstructure:"password"`
	UseTLS      bool    `yaml:"useTls" mapstructure:"use_tls"`
	UseSSL      bool    `yaml:"useSsl" mapstructure:"use_ssl"`
	TimeoutSecs float64 `yaml:"timeout" mapstructure:"timeout"`
	From        string  `yaml:"from" mapstructure:"from"`
}

// Timeout returns the SMTP dial/send deadline.
func (s SMTPConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs * float64(time.Second))
}

// Configured reports whether the mailer can be used for alerting.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.From != ""
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"`
	Output string            `yaml:"output" mapstructure:"output"`
	Fields map[string]string `yaml:"fields" mapstructure:"fields"`
}

// OpsConfig contains the optional health/metrics listener configuration.
// The probe engine exposes no ports unless this is enabled.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    string `yaml:"port" mapstructure:"port"`
}

// LoadConfig loads configuration from an optional file and the environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("scheduler.max_concurrency", 5)
	v.SetDefault("scheduler.poll_interval", 1.0)
	v.SetDefault("scheduler.claim_seconds", 30.0)
	v.SetDefault("scheduler.jitter_seconds", 0.2)
	v.SetDefault("scheduler.failure_retry_stages", "2:30s,5:60s,12:120s,*:5m")
	v.SetDefault("scheduler.queue_name", "monitron:checks")
	v.SetDefault("probe.user_agent", "Monitron/1.0")
	v.SetDefault("alerting.sustained_down_threshold", 10)
	v.SetDefault("alerting.sustained_down_window_minutes", 60)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.timeout", 10.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.host", "0.0.0.0")
	v.SetDefault("ops.port", "9090")

	// Bind the flat environment interface onto the nested keys
	bindings := map[string][]string{
		"database_url":                           {"DATABASE_URL"},
		"redis_url":                              {"REDIS_URL"},
		"scheduler.max_concurrency":              {"MAX_CONCURRENCY"},
		"scheduler.poll_interval":                {"SCHEDULER_POLL_INTERVAL", "LOOP_INTERVAL"},
		"scheduler.claim_seconds":                {"SCHEDULER_CLAIM_SECONDS"},
		"scheduler.jitter_seconds":               {"JITTER_SECONDS"},
		"scheduler.failure_retry_stages":         {"FAILURE_RETRY_STAGES"},
		"scheduler.queue_name":                   {"DISPATCH_QUEUE_NAME"},
		"probe.user_agent":                       {"USER_AGENT"},
		"alerting.sustained_down_threshold":      {"SUSTAINED_DOWN_THRESHOLD"},
		"alerting.sustained_down_window_minutes": {"SUSTAINED_DOWN_WINDOW_MINUTES"},
		"smtp.host":                              {"SMTP_HOST"},
		"smtp.port":                              {"SMTP_PORT"},
		"smtp.username":                          {"SMTP_USERNAME"},
		"smtp.password":                          {"SMTP_PASSWORD"},
		"smtp.use_tls":                           {"SMTP_USE_TLS"},
		"smtp.use_ssl":                           {"SMTP_USE_SSL"},
		"smtp.timeout":                           {"SMTP_TIMEOUT"},
		"smtp.from":                              {"ALERT_EMAIL_FROM"},
		"logging.level":                          {"LOG_LEVEL"},
		"logging.format":                         {"LOG_FORMAT"},
		"logging.output":                         {"LOG_OUTPUT"},
		"ops.enabled":                            {"OPS_ENABLED"},
		"ops.host":                               {"OPS_HOST"},
		"ops.port":                               {"OPS_PORT"},
	}
	for key, envs := range bindings {
		input := append([]string{key}, envs...)
		if err := v.BindEnv(input...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Read the optional config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration for startup-blocking problems
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Scheduler.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.Scheduler.MaxConcurrency)
	}

	if c.Scheduler.PollIntervalSecs <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive, got %g", c.Scheduler.PollIntervalSecs)
	}

	if c.Scheduler.ClaimSeconds <= 0 {
		return fmt.Errorf("scheduler claim lease must be positive, got %g", c.Scheduler.ClaimSeconds)
	}

	if c.Scheduler.JitterSeconds < 0 {
		return fmt.Errorf("jitter must not be negative, got %g", c.Scheduler.JitterSeconds)
	}

	stages, err := c.Scheduler.RetryStages()
	if err != nil {
		return fmt.Errorf("invalid failure_retry_stages: %w", err)
	}
	if err := models.ValidateRetryStages(stages); err != nil {
		return fmt.Errorf("invalid failure_retry_stages: %w", err)
	}

	if c.Alerting.SustainedDownThreshold < 0 {
		return fmt.Errorf("sustained_down_threshold must not be negative, got %d", c.Alerting.SustainedDownThreshold)
	}

	if c.Alerting.SustainedDownWindowMinutes < 0 {
		return fmt.Errorf("sustained_down_window_minutes must not be negative, got %d", c.Alerting.SustainedDownWindowMinutes)
	}

	if c.SMTP.Host != "" && (c.SMTP.Port < 1 || c.SMTP.Port > 65535) {
		return fmt.Errorf("smtp_port must be a valid port, got %d", c.SMTP.Port)
	}

	if c.SMTP.UseTLS && c.SMTP.UseSSL {
		return fmt.Errorf("smtp_use_tls and smtp_use_ssl are mutually exclusive")
	}

	return nil
}
