package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile_YAML(t *testing.T) {
	yamlContent := `
probe: test-probe
workers: 8
recency_weight: 0.3
star_bias_multiplier: 3.0
max_range_km: 150
window_sec: 10
bot_latitude: 40.0
bot_longitude: -105.0
ingest: https://test.example.com/ingest
`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	if cfg.Probe != "test-probe" {
		t.Errorf("expected probe 'test-probe', got %s", cfg.Probe)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.Workers)
	}
	if cfg.RecencyWeight != 0.3 {
		t.Errorf("expected recency_weight 0.3, got %v", cfg.RecencyWeight)
	}
	if cfg.WindowSec != 10 {
		t.Errorf("expected window_sec 10, got %d", cfg.WindowSec)
	}
	if cfg.BotLatitude == nil || *cfg.BotLatitude != 40.0 {
		t.Errorf("unexpected bot_latitude: %v", cfg.BotLatitude)
	}
	if cfg.Ingest != "https://test.example.com/ingest" {
		t.Errorf("expected ingest URL, got %s", cfg.Ingest)
	}
	// defaults fill what the file omits
	if cfg.MaxRepeaterAgeDays != 14 {
		t.Errorf("expected default max_repeater_age_days 14, got %d", cfg.MaxRepeaterAgeDays)
	}
	if cfg.OutputFormat != "jsonl" {
		t.Errorf("expected default output_format jsonl, got %s", cfg.OutputFormat)
	}
	if cfg.TriggerRatePerSec != 0.2 || cfg.TriggerBurst != 1 {
		t.Errorf("expected default trigger throttle 0.2/1, got %v/%d", cfg.TriggerRatePerSec, cfg.TriggerBurst)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	jsonContent := `{
		"probe": "json-probe",
		"workers": 2,
		"max_range_km": 50,
		"metrics_addr": ":8080"
	}`

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configFile, []byte(jsonContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}
	if cfg.Probe != "json-probe" || cfg.MaxRangeKM != 50 || cfg.MetricsAddr != ":8080" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	lat, lon := 40.0, -105.0
	badLat := 95.0

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.Workers = -1 }, true},
		{"weight too high", func(c *Config) { c.RecencyWeight = 1.5 }, true},
		{"star bias below 1", func(c *Config) { c.StarBiasMultiplier = 0.9 }, true},
		{"negative range", func(c *Config) { c.MaxRangeKM = -5 }, true},
		{"window too short", func(c *Config) { c.WindowSec = -2 }, true},
		{"negative trigger rate", func(c *Config) { c.TriggerRatePerSec = -0.5 }, true},
		{"zero trigger burst", func(c *Config) { c.TriggerBurst = -1 }, true},
		{"lat without lon", func(c *Config) { c.BotLatitude = &lat }, true},
		{"lat and lon", func(c *Config) { c.BotLatitude, c.BotLongitude = &lat, &lon }, false},
		{"lat out of range", func(c *Config) { c.BotLatitude, c.BotLongitude = &badLat, &lon }, true},
		{"bad output format", func(c *Config) { c.OutputFormat = "xml" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var c Config
			c.SetDefaults()
			tc.mutate(&c)
			err := c.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestMergeWithFlags(t *testing.T) {
	var c Config
	c.SetDefaults()
	c.MergeWithFlags(map[string]interface{}{
		"probe":        "flag-probe",
		"workers":      16,
		"max_range_km": 300.0,
		"window_sec":   0, // zero flags must not clobber defaults
	})
	if c.Probe != "flag-probe" || c.Workers != 16 || c.MaxRangeKM != 300 {
		t.Errorf("flags not merged: %+v", c)
	}
	if c.WindowSec != 6 {
		t.Errorf("zero flag overwrote default window_sec: %d", c.WindowSec)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_QUEUE_KEY", "test:frames")

	var c Config
	c.SetDefaults()
	c.LoadFromEnv()
	if c.RedisAddr != "localhost:6379" || c.RedisQueueKey != "test:frames" {
		t.Errorf("env not loaded: %+v", c)
	}
}
