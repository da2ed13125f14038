// Package main provides the kiln daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiln/internal/cache"
	"github.com/thebtf/kiln/internal/config"
	"github.com/thebtf/kiln/internal/extractor"
	"github.com/thebtf/kiln/internal/flowlog"
	"github.com/thebtf/kiln/internal/graph"
	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/internal/pipeline"
	"github.com/thebtf/kiln/internal/predict"
	"github.com/thebtf/kiln/internal/scoring"
	"github.com/thebtf/kiln/internal/server"
	"github.com/thebtf/kiln/internal/sse"
	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/internal/vector"
	"github.com/thebtf/kiln/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	project := flag.String("project", "default", "Default project scope for the drop directory")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	ledgerStore, err := ledger.NewStore(ledger.Config{
		PostgresDSN: cfg.PostgresDSN,
		SQLitePath:  cfg.SQLitePath,
		MaxConns:    cfg.MaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer ledgerStore.Close()

	sessions := ledger.NewSessionStore(ledgerStore)
	items := ledger.NewItemStore(ledgerStore)
	entities := ledger.NewEntityStore(ledgerStore)
	patterns := ledger.NewPatternStore(ledgerStore)
	events := ledger.NewEventStore(ledgerStore)
	modelStore := ledger.NewModelStore(ledgerStore)
	recordStore := ledger.NewRecordStore(ledgerStore)

	broadcaster := sse.NewBroadcaster()
	flow := flowlog.New(events, broadcaster)

	// Fan-out order: ledger first (required), cache last (best-effort).
	adapters := []store.Adapter{
		store.NewLedgerAdapter(ledgerStore, patterns, entities),
	}
	graphAdapter, err := graph.New(graph.Config{Addr: cfg.GraphAddr, GraphName: cfg.GraphName})
	if err != nil {
		log.Warn().Err(err).Msg("Graph store unavailable, items will complete partial")
	} else {
		adapters = append(adapters, graphAdapter)
	}
	adapters = append(adapters,
		vector.NewAdapter(vector.NewClient(cfg.VectorBaseURL, cfg.VectorCollection)),
		cache.New(cfg.RedisAddr, cfg.CacheTTL),
	)

	ext, err := extractor.New(cfg.MinInfoTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize extractor")
	}

	orch := pipeline.New(pipeline.Deps{
		Config:    cfg,
		Ledger:    ledgerStore,
		Sessions:  sessions,
		Items:     items,
		Entities:  entities,
		Patterns:  patterns,
		Flow:      flow,
		Extractor: ext,
		Scorer:    scoring.New(cfg.Scoring),
		Adapters:  adapters,
	})
	defer orch.Shutdown()
	orch.StartReconciler(ctx)

	engine := predict.NewEngine(cfg, patterns, modelStore, recordStore)
	engine.StartScheduler(ctx)

	if cfg.WatchDir != "" {
		dropWatcher, err := watcher.New(cfg.WatchDir, *project, orch)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create drop directory watcher")
		} else if err := dropWatcher.Start(); err != nil {
			log.Warn().Err(err).Str("dir", cfg.WatchDir).Msg("Failed to start drop directory watcher")
		} else {
			defer dropWatcher.Stop()
		}
	}

	svc := server.New(server.Deps{
		Version:      Version,
		Config:       cfg,
		Orchestrator: orch,
		Flow:         flow,
		Engine:       engine,
		Adapters:     adapters,
		Broadcaster:  broadcaster,
	})
	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}
