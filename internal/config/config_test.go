package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := cfg.Chunking()
	if ch.MaxTokens != 1000 || ch.OverlapTokens != 100 || ch.TokenWordRatio != 4 || ch.MinChunkTokens != 50 || !ch.IncludeHeading {
		t.Errorf("unexpected chunk defaults %+v", ch)
	}
	if cfg.JobTTL != time.Hour || cfg.WatchDebounce != 500*time.Millisecond {
		t.Errorf("unexpected durations %v, %v", cfg.JobTTL, cfg.WatchDebounce)
	}
	if cfg.IndexerURL != "" || cfg.Force {
		t.Errorf("expected indexer disabled and force off, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("MAX_TOKENS", "512")
	t.Setenv("TOKEN_WORD_RATIO", "1.5")
	t.Setenv("INCLUDE_HEADING", "false")
	t.Setenv("WORKERS", "8")
	t.Setenv("JOB_TTL", "15m")
	t.Setenv("FORCE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTokens != 512 || cfg.TokenWordRatio != 1.5 || cfg.IncludeHeading {
		t.Errorf("unexpected chunk settings %+v", cfg.Chunking())
	}
	if cfg.Workers != 8 || cfg.JobTTL != 15*time.Minute || !cfg.Force {
		t.Errorf("unexpected settings %+v", cfg)
	}
	lvl, err := cfg.Level()
	if err != nil || lvl != slog.LevelDebug {
		t.Errorf("expected debug level, got %v (%v)", lvl, err)
	}
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("MAX_TOKENS", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no index", func(c *Config) { c.IndexPath = "" }},
		{"no output", func(c *Config) { c.OutputDir = "" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"key without url", func(c *Config) { c.IndexerAPIKey = "secret" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
