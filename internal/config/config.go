package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	Chat           ChatConfig           `yaml:"chat"`
	Polling        PollingConfig        `yaml:"polling"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Cache          CacheConfig          `yaml:"cache"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Filter         FilterConfig         `yaml:"filter"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// UpstreamConfig describes the vendor API the gateway forwards to.
type UpstreamConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	OrgID       string        `yaml:"org_id"`
	Timeout     time.Duration `yaml:"timeout"`
	AssistantID string        `yaml:"assistant_id"`
}

type ChatConfig struct {
	Model          string `yaml:"model"`
	AssistantModel string `yaml:"assistant_model"`
	SystemPrompt   string `yaml:"system_prompt"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// PollingConfig bounds the run poll loop.
type PollingConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

type TelemetryConfig struct {
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	LogFile         string  `yaml:"log_file"`
	LogMaxSizeMB    int     `yaml:"log_max_size_mb"`
	LogMaxBackups   int     `yaml:"log_max_backups"`
	LogMaxAgeDays   int     `yaml:"log_max_age_days"`
	MetricsPort     int     `yaml:"metrics_port"`
	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TraceFile       string  `yaml:"trace_file"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

type FilterConfig struct {
	Secrets   SecretsFilterConfig   `yaml:"secrets"`
	Injection InjectionFilterConfig `yaml:"injection"`
	Policy    PolicyFilterConfig    `yaml:"policy"`
}

type SecretsFilterConfig struct {
	Enabled bool `yaml:"enabled"`
}

type InjectionFilterConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BlockThreshold float64 `yaml:"block_threshold"`
	FlagThreshold  float64 `yaml:"flag_threshold"`
}

// PolicyFilterConfig points at a directory of Rego modules deciding whether
// a request may be forwarded.
type PolicyFilterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     180 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 120 * time.Second,
		},
		Chat: ChatConfig{
			Model:          "gpt-4",
			AssistantModel: "gpt-3.5-turbo",
			SystemPrompt:   "You are a helpful assistant.",
			MaxTokens:      4000,
		},
		Polling: PollingConfig{
			Interval:      time.Second,
			Timeout:       2 * time.Minute,
			MaxToolRounds: 8,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:      5,
			RecoveryProbeInterval: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
			TTL:      10 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			LogMaxSizeMB:    10,
			LogMaxBackups:   3,
			LogMaxAgeDays:   28,
			MetricsPort:     9090,
			TraceFile:       "logs/traces.log",
			TraceSampleRate: 0.1,
		},
		Filter: FilterConfig{
			Injection: InjectionFilterConfig{
				BlockThreshold: 0.9,
				FlagThreshold:  0.7,
			},
			Policy: PolicyFilterConfig{
				BundlePath:        "configs/policies",
				EvaluationTimeout: 100 * time.Millisecond,
			},
		},
	}
}

// Validate reports the first setting that would make the gateway unusable.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return errors.New("upstream.api_key is required (or set APIKEY)")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be positive, got %s", c.Polling.Interval)
	}
	if c.Polling.Timeout < c.Polling.Interval {
		return fmt.Errorf("polling.timeout (%s) must not be shorter than polling.interval (%s)", c.Polling.Timeout, c.Polling.Interval)
	}
	if c.Polling.MaxToolRounds <= 0 {
		return fmt.Errorf("polling.max_tool_rounds must be positive, got %d", c.Polling.MaxToolRounds)
	}
	if c.Chat.MaxTokens < 0 {
		return fmt.Errorf("chat.max_tokens must not be negative, got %d", c.Chat.MaxTokens)
	}
	return nil
}
