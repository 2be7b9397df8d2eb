package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for a pathprobe instance.
type Config struct {
	// Core configuration
	Probe   string `yaml:"probe" json:"probe"`
	Run     string `yaml:"run" json:"run"`
	Frames  string `yaml:"frames" json:"frames"`
	Workers int    `yaml:"workers" json:"workers"`

	// Resolution tunables
	RecencyWeight      float64 `yaml:"recency_weight" json:"recency_weight"`
	StarBiasMultiplier float64 `yaml:"star_bias_multiplier" json:"star_bias_multiplier"`
	MaxRangeKM         float64 `yaml:"max_range_km" json:"max_range_km"`
	MaxRepeaterAgeDays int     `yaml:"max_repeater_age_days" json:"max_repeater_age_days"`

	// Correlation
	WindowSec         int     `yaml:"window_sec" json:"window_sec"`
	HistorySize       int     `yaml:"history_size" json:"history_size"`
	TriggerRatePerSec float64 `yaml:"trigger_rate_per_sec" json:"trigger_rate_per_sec"`
	TriggerBurst      int     `yaml:"trigger_burst" json:"trigger_burst"`

	// Bot location; both set or both unset
	BotLatitude  *float64 `yaml:"bot_latitude" json:"bot_latitude"`
	BotLongitude *float64 `yaml:"bot_longitude" json:"bot_longitude"`

	// Output
	Ingest       string `yaml:"ingest" json:"ingest"`
	SpoolDir     string `yaml:"spool_dir" json:"spool_dir"`
	OutputFormat string `yaml:"output_format" json:"output_format"`

	// mTLS
	MTLSCert string `yaml:"mtls_cert" json:"mtls_cert"`
	MTLSKey  string `yaml:"mtls_key" json:"mtls_key"`
	MTLSCA   string `yaml:"mtls_ca" json:"mtls_ca"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`

	// Redis
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisQueueAddr string `yaml:"redis_queue_addr" json:"redis_queue_addr"`
	RedisQueueKey  string `yaml:"redis_queue_key" json:"redis_queue_key"`
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	if c.Probe == "" {
		c.Probe = "local-1"
	}
	if c.Run == "" {
		c.Run = fmt.Sprintf("run-%d", time.Now().Unix())
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.RecencyWeight == 0 {
		c.RecencyWeight = 0.4
	}
	if c.StarBiasMultiplier == 0 {
		c.StarBiasMultiplier = 2.5
	}
	if c.MaxRangeKM == 0 {
		c.MaxRangeKM = 200
	}
	if c.MaxRepeaterAgeDays == 0 {
		c.MaxRepeaterAgeDays = 14
	}
	if c.WindowSec == 0 {
		c.WindowSec = 6
	}
	if c.HistorySize == 0 {
		c.HistorySize = 256
	}
	if c.TriggerRatePerSec == 0 {
		c.TriggerRatePerSec = 0.2
	}
	if c.TriggerBurst == 0 {
		c.TriggerBurst = 1
	}
	if c.SpoolDir == "" {
		c.SpoolDir = "spool"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "jsonl"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "pathprobe"
	}
	if c.RedisQueueKey == "" {
		c.RedisQueueKey = "pathprobe:frames"
	}
}

// Validate checks if the configuration is valid. Scoring tunables are
// rejected at startup, never coerced: a half-valid resolver produces
// plausible but wrong answers.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.RecencyWeight < 0 || c.RecencyWeight > 1 {
		return fmt.Errorf("recency_weight must be within [0,1]")
	}
	if c.StarBiasMultiplier < 1 {
		return fmt.Errorf("star_bias_multiplier must be at least 1")
	}
	if c.MaxRangeKM < 0 {
		return fmt.Errorf("max_range_km must not be negative")
	}
	if c.MaxRepeaterAgeDays < 0 {
		return fmt.Errorf("max_repeater_age_days must not be negative")
	}
	if c.WindowSec < 1 {
		return fmt.Errorf("window_sec must be at least 1")
	}
	if c.TriggerRatePerSec <= 0 {
		return fmt.Errorf("trigger_rate_per_sec must be positive")
	}
	if c.TriggerBurst < 1 {
		return fmt.Errorf("trigger_burst must be at least 1")
	}
	if (c.BotLatitude == nil) != (c.BotLongitude == nil) {
		return fmt.Errorf("bot_latitude and bot_longitude must be set together")
	}
	if c.BotLatitude != nil {
		if *c.BotLatitude < -90 || *c.BotLatitude > 90 {
			return fmt.Errorf("bot_latitude out of range")
		}
		if *c.BotLongitude < -180 || *c.BotLongitude > 180 {
			return fmt.Errorf("bot_longitude out of range")
		}
	}
	switch c.OutputFormat {
	case "json", "jsonl", "csv":
	default:
		return fmt.Errorf("unsupported output_format: %s (use json, jsonl, or csv)", c.OutputFormat)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration.
// Command-line flags take precedence over file configuration.
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["probe"].(string); ok && v != "" {
		c.Probe = v
	}
	if v, ok := flags["run"].(string); ok && v != "" {
		c.Run = v
	}
	if v, ok := flags["frames"].(string); ok && v != "" {
		c.Frames = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Workers = v
	}
	if v, ok := flags["recency_weight"].(float64); ok && v > 0 {
		c.RecencyWeight = v
	}
	if v, ok := flags["star_bias"].(float64); ok && v > 0 {
		c.StarBiasMultiplier = v
	}
	if v, ok := flags["max_range_km"].(float64); ok && v > 0 {
		c.MaxRangeKM = v
	}
	if v, ok := flags["window_sec"].(int); ok && v > 0 {
		c.WindowSec = v
	}
	if v, ok := flags["trigger_rate_per_sec"].(float64); ok && v > 0 {
		c.TriggerRatePerSec = v
	}
	if v, ok := flags["trigger_burst"].(int); ok && v > 0 {
		c.TriggerBurst = v
	}
	if v, ok := flags["ingest"].(string); ok && v != "" {
		c.Ingest = v
	}
	if v, ok := flags["spool_dir"].(string); ok && v != "" {
		c.SpoolDir = v
	}
	if v, ok := flags["output_format"].(string); ok && v != "" {
		c.OutputFormat = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["mtls_cert"].(string); ok && v != "" {
		c.MTLSCert = v
	}
	if v, ok := flags["mtls_key"].(string); ok && v != "" {
		c.MTLSKey = v
	}
	if v, ok := flags["mtls_ca"].(string); ok && v != "" {
		c.MTLSCA = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
}

// LoadFromEnv loads configuration from environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_QUEUE_ADDR"); v != "" {
		c.RedisQueueAddr = v
	}
	if v := os.Getenv("REDIS_QUEUE_KEY"); v != "" {
		c.RedisQueueKey = v
	}
}
