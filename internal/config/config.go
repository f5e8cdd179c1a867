package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/dgallion1/docprep/internal/chunker"
)

type Config struct {
	// Chunking
	MaxTokens      int     `env:"MAX_TOKENS" envDefault:"1000"`
	OverlapTokens  int     `env:"OVERLAP_TOKENS" envDefault:"100"`
	TokenWordRatio float64 `env:"TOKEN_WORD_RATIO" envDefault:"4"`
	MinChunkTokens int     `env:"MIN_CHUNK_TOKENS" envDefault:"50"`
	IncludeHeading bool    `env:"INCLUDE_HEADING" envDefault:"true"`

	// Worker pool
	Workers   int           `env:"WORKERS"`
	QueueSize int           `env:"QUEUE_SIZE"`
	JobTTL    time.Duration `env:"JOB_TTL" envDefault:"1h"`

	// Input and output
	IndexPath  string `env:"INDEX_PATH" envDefault:"./fetch_index.jsonl"`
	IndexLimit int    `env:"INDEX_LIMIT"`
	OutputDir  string `env:"OUTPUT_DIR" envDefault:"./data"`
	Force      bool   `env:"FORCE"`

	// Indexer hand-off; disabled when the URL is empty
	IndexerURL    string `env:"INDEXER_URL"`
	IndexerAPIKey string `env:"INDEXER_API_KEY"`

	WatchDebounce time.Duration `env:"WATCH_DEBOUNCE" envDefault:"500ms"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Chunking returns the chunker settings. They are validated by chunker.New.
func (c Config) Chunking() chunker.Config {
	return chunker.Config{
		MaxTokens:      c.MaxTokens,
		OverlapTokens:  c.OverlapTokens,
		TokenWordRatio: c.TokenWordRatio,
		MinChunkTokens: c.MinChunkTokens,
		IncludeHeading: c.IncludeHeading,
	}
}

func (c Config) Validate() error {
	if c.IndexPath == "" {
		return fmt.Errorf("INDEX_PATH is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.Workers < 0 || c.QueueSize < 0 || c.IndexLimit < 0 {
		return fmt.Errorf("WORKERS, QUEUE_SIZE and INDEX_LIMIT must not be negative")
	}
	if c.IndexerAPIKey != "" && c.IndexerURL == "" {
		return fmt.Errorf("INDEXER_API_KEY is set but INDEXER_URL is empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level maps LOG_LEVEL to a slog level.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
