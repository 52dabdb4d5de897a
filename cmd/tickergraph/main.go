package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickergraph/internal/api"
	"tickergraph/internal/config"
	"tickergraph/internal/detector"
	"tickergraph/internal/graph"
	"tickergraph/internal/ingestion"
	"tickergraph/internal/metrics"
	"tickergraph/internal/notify"
	"tickergraph/internal/persistence"
	"tickergraph/pkg/client"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	replayPath := flag.String("replay", "", "Replay newline-delimited ticker JSON from a file ('-' for stdin) instead of streaming")
	replayExchange := flag.String("replay-exchange", "", "Bind replayed tickers to one exchange; tickers naming another are rejected. Empty keeps each ticker's own exchange")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Debug().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Logging)
	log.Info().Msg("Starting tickergraph - triangular arbitrage over exchange tickers")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if *replayPath != "" {
		err = replay(ctx, cfg, *replayPath, *replayExchange)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("tickergraph shutdown complete")
}

// pipeline holds the components shared by streaming and replay.
type pipeline struct {
	metrics  *metrics.Metrics
	store    *persistence.Store
	manager  *graph.Manager
	detector *detector.Detector
	symbols  *ingestion.Normalizer
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	p := &pipeline{
		metrics: metrics.New(),
		symbols: ingestion.NewNormalizer(cfg.Symbols.Aliases, cfg.Symbols.Quotes),
	}

	p.detector = detector.NewDetector(detector.Config{
		MinProfitFactor: cfg.Detector.MinProfitFactor,
		QueueSize:       cfg.Detector.QueueSize,
		Notional:        cfg.Detector.Notional,
		FeeRate:         cfg.Detector.FeeRate,
	}, p.metrics)
	p.detector.AddSink(notify.NewLogSink())

	if cfg.Persistence.Enabled {
		store, err := persistence.NewStore(cfg.Persistence.SQLitePath)
		if err != nil {
			return nil, err
		}
		p.store = store
		p.detector.AddSink(store)
		log.Info().Str("path", cfg.Persistence.SQLitePath).Msg("SQLite initialized")
	}

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.MinInterval)
		if err != nil {
			p.close()
			return nil, err
		}
		p.detector.AddSink(tg)
	}

	p.manager = graph.NewManager(p.metrics)
	p.manager.OnNegativeCycle(p.detector.HandleNegativeCycle)

	return p, nil
}

func (p *pipeline) close() {
	if p.store != nil {
		p.store.Close()
	}
}

// saveSnapshots persists the symbol table of every exchange graph.
func (p *pipeline) saveSnapshots(ctx context.Context) {
	if p.store == nil {
		return
	}
	for _, name := range p.manager.Exchanges() {
		snap, ok := p.manager.Snapshot(name)
		if !ok {
			continue
		}
		if err := p.store.SaveSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Str("exchange", name).Msg("Failed to persist snapshot")
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	if cfg.Metrics.Enabled {
		if err := p.metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			p.metrics.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	if cfg.API.Enabled {
		var reader api.OpportunityReader
		if p.store != nil {
			reader = p.store
		}
		srv := api.NewServer(p.manager, reader, cfg.API.PushInterval)
		if err := srv.Start(cfg.API.Port); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.API.Port).Msg("API server started")
	}

	exchanges := cfg.EnabledExchanges()
	if len(exchanges) == 0 {
		return errors.New("no exchanges enabled; configure exchanges or use -replay")
	}

	if p.store != nil {
		if err := p.store.SetSystemState(ctx, "started_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Warn().Err(err).Msg("Failed to record start time")
		}
	}

	// Start all services
	g, gCtx := errgroup.WithContext(ctx)
	rest := client.NewHTTPClient(30 * time.Second)

	for _, ex := range exchanges {
		svc := ingestion.NewService(ingestion.FeedConfig{
			Exchange:      ex.Name,
			URL:           ex.WSURL,
			Subscribe:     ex.Subscribe,
			RESTURL:       ex.RESTURL,
			BufferSize:    ex.BufferSize,
			MaxReconnects: ex.MaxReconnects,
		}, p.symbols, p.manager, p.metrics)

		g.Go(func() error {
			if _, err := svc.Bootstrap(gCtx, rest); err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn().Err(err).Str("exchange", svc.Exchange()).Msg("Bootstrap failed, streaming from empty graph")
			}
			log.Info().Str("exchange", svc.Exchange()).Msg("Starting ingestion service...")
			return svc.Run(gCtx)
		})
	}

	// Start detector
	g.Go(func() error {
		return p.detector.Run(gCtx)
	})

	// Periodic graph stats
	g.Go(func() error {
		return p.manager.Run(gCtx, cfg.StatsInterval)
	})

	// Periodic symbol snapshots
	if p.store != nil && cfg.Persistence.SnapshotInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Persistence.SnapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return gCtx.Err()
				case <-ticker.C:
					p.saveSnapshots(gCtx)
				}
			}
		})
	}

	// Wait for all goroutines
	err = g.Wait()

	// Persist what we have on the way out
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.saveSnapshots(shutdownCtx)
	p.manager.ValidateAll()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func replay(ctx context.Context, cfg *config.Config, path, exchange string) error {
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	svc := ingestion.NewService(ingestion.FeedConfig{Exchange: exchange}, p.symbols, p.manager, p.metrics)

	detCtx, stopDetector := context.WithCancel(ctx)
	detDone := make(chan struct{})
	go func() {
		defer close(detDone)
		p.detector.Run(detCtx)
	}()

	result, feedErr := svc.Feed(ctx, r)
	stopDetector()
	<-detDone

	flushed := p.detector.Flush(context.Background())
	p.saveSnapshots(context.Background())

	graphs, nodes, edges, cycles := p.manager.Stats()
	log.Info().
		Int("tickers", result.Tickers).
		Int("rejected", result.Rejected).
		Int("graphs", graphs).
		Int("nodes", nodes).
		Int("edges", edges).
		Int("cycles", cycles).
		Int("flushed", flushed).
		Msg("Replay finished")

	p.manager.ValidateAll()
	return feedErr
}

func setupLogging(cfg config.LoggingConfig) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
