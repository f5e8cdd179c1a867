package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dgallion1/docprep/internal/acquire"
	"github.com/dgallion1/docprep/internal/chunker"
	"github.com/dgallion1/docprep/internal/config"
	"github.com/dgallion1/docprep/internal/pipeline"
	"github.com/dgallion1/docprep/internal/sink"
	"github.com/dgallion1/docprep/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.IndexPath, "index", cfg.IndexPath, "fetch index (JSON array or JSONL)")
	flag.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "output directory for artifacts")
	flag.IntVar(&cfg.IndexLimit, "limit", cfg.IndexLimit, "process at most this many pages (0 = all)")
	flag.BoolVar(&cfg.Force, "force", cfg.Force, "reprocess pages whose content is unchanged")
	watch := flag.Bool("watch", false, "re-run whenever the fetch index changes")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	lvl, _ := cfg.Level()
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))

	// A bad chunk configuration is fatal before any page is read.
	ch, err := chunker.New(cfg.Chunking())
	if err != nil {
		var ce *chunker.ConfigError
		if errors.As(err, &ce) {
			log.Error("invalid chunk configuration", "field", ce.Field, "reason", ce.Reason)
		} else {
			log.Error("invalid chunk configuration", "error", err)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, ch, *watch, log); err != nil {
		log.Error("docprep failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, ch *chunker.Chunker, watch bool, log *slog.Logger) error {
	fs, err := store.NewFS(cfg.OutputDir)
	if err != nil {
		return err
	}
	manifest, err := store.OpenManifest(filepath.Join(cfg.OutputDir, "manifest.db"))
	if err != nil {
		return err
	}
	defer manifest.Close()
	known, err := manifest.Len()
	if err != nil {
		return err
	}

	var indexer pipeline.Indexer
	if cfg.IndexerURL != "" {
		client := sink.NewClient(cfg.IndexerURL, cfg.IndexerAPIKey, log)
		defer client.Close()
		indexer = client
	}

	worker := pipeline.NewWorker(ch, fs, manifest, indexer, cfg.Force, log)
	coord := pipeline.NewCoordinator(worker, pipeline.Options{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		JobTTL:    cfg.JobTTL,
	}, log)

	log.Info("starting docprep",
		"index", cfg.IndexPath,
		"out", cfg.OutputDir,
		"manifest", manifest.Path(),
		"manifest_pages", known,
		"max_tokens", cfg.MaxTokens,
		"overlap_tokens", cfg.OverlapTokens,
		"indexer", cfg.IndexerURL != "",
		"watch", watch,
	)

	batch := func() error {
		idx, err := acquire.LoadIndex(cfg.IndexPath, cfg.IndexLimit)
		if err != nil {
			return err
		}
		if idx.Skipped > 0 {
			log.Info("index records skipped", "skipped", idx.Skipped)
		}
		rep := coord.Run(ctx, idx)
		path, err := fs.WriteReport(rep.RunID, rep)
		if err != nil {
			return err
		}
		log.Info("report written", "path", path)
		return nil
	}

	if !watch {
		return batch()
	}

	if err := batch(); err != nil {
		log.Error("batch failed", "error", err)
	}

	w, err := acquire.NewWatcher(cfg.IndexPath, cfg.WatchDebounce, log)
	if err != nil {
		return err
	}
	defer w.Stop()
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	log.Info("watching fetch index", "path", cfg.IndexPath)

	for range changes {
		if ctx.Err() != nil {
			break
		}
		log.Info("fetch index changed")
		if err := batch(); err != nil {
			log.Error("batch failed", "error", err)
		}
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	log.Info("shutting down")
	return nil
}
