package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealhound/adapter"
	"dealhound/browser"
	"dealhound/config"
	"dealhound/ingest"
	"dealhound/logging"
	"dealhound/metrics"
	"dealhound/models"
	"dealhound/proxy"
	"dealhound/ratelimit"
	"dealhound/scheduler"
	"dealhound/scoring"
	"dealhound/storage"
)

var (
	runSource = flag.String("run-source", "", "Run one source immediately and exit")
	runOnce   = flag.Bool("once", false, "Run all active sources once and exit")
	enqueue   = flag.String("enqueue", "", "Queue a command for the running daemon (run_now, run_source, pause, resume)")
	cmdSource = flag.String("source", "", "Source for -enqueue run_source")
	cmdCat    = flag.String("category", "", "Category override for -run-source / -enqueue")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("dealhound.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting dealhound...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%s, adapter=%s, active=%v)", src.Name, id, src.Adapter, src.Active)
	}

	// The enqueue path only needs the command queue, not the full stack.
	if *enqueue != "" {
		if err := enqueueCommand(cfg, *enqueue, *cmdSource, *cmdCat); err != nil {
			log.Fatalf("Failed to enqueue command: %v", err)
		}
		log.Printf("Command %q queued", *enqueue)
		return
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Println("Connected to Postgres")

	sqliteStore, err := storage.NewSQLiteStore(cfg.CommandDBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("Command queue database: %s", cfg.CommandDBPath)

	limiter := ratelimit.New(ratelimit.Rate{
		PerSecond: cfg.RateLimit.DefaultRate,
		Burst:     cfg.RateLimit.DefaultBurst,
	})
	for _, src := range cfg.Sources {
		if src.RatePerSec > 0 {
			limiter.SetRate(src.Domain(), ratelimit.Rate{PerSecond: src.RatePerSec, Burst: src.Burst})
		}
	}

	proxies := proxy.NewFromConfig(cfg.Proxy.Entries, cfg.Proxy.Strategy, cfg.Proxy.Cooldown)
	log.Printf("Proxy pool: %d entries", len(cfg.Proxy.Entries))

	browserPool := browser.NewSessionPool(browser.Config{
		Headless: cfg.Browser.Headless,
		Locale:   cfg.Browser.Locale,
		Timezone: cfg.Browser.Timezone,
	}, proxies)
	defer browserPool.Shutdown()

	registry := adapter.NewRegistry(cfg.Sources, adapter.Deps{
		Limiter: limiter,
		Proxies: proxies,
		Browser: browserPool,
	})

	engine := scoring.NewEngine(pgStore, loadThresholds(ctx, cfg, pgStore), cfg.Ingest.HistoryWindowDays)

	m := metrics.New()
	orchestrator := ingest.NewOrchestrator(cfg, registry, pgStore, engine, m)

	// One-shot modes.
	if *runSource != "" {
		var category *string
		if *cmdCat != "" {
			category = cmdCat
		}
		if _, err := orchestrator.RunSource(ctx, *runSource, category); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		return
	}
	if *runOnce {
		for id, src := range cfg.Sources {
			if !src.Active {
				continue
			}
			if _, err := orchestrator.RunSource(ctx, id, nil); err != nil {
				log.Printf("%s: run failed: %v", id, err)
			}
		}
		return
	}

	// Daemon mode.
	sched := scheduler.New(cfg, orchestrator, pgStore, sqliteStore, m)
	sched.Start()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m)}
	go func() {
		log.Printf("Metrics listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
	log.Println("Goodbye!")
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// loadThresholds merges the config cutoffs with per-category overrides from
// the database.
func loadThresholds(ctx context.Context, cfg *config.Config, store *storage.PostgresStore) scoring.Thresholds {
	th := scoring.Thresholds{
		Default:     cfg.Scoring.DefaultThreshold,
		Hot:         cfg.Scoring.HotThreshold,
		Super:       cfg.Scoring.SuperThreshold,
		PerCategory: make(map[string]float64),
	}
	categories, err := store.ListCategories(ctx)
	if err != nil {
		log.Printf("Warning: could not load category thresholds: %v", err)
		return th
	}
	for _, c := range categories {
		if c.ScoreThreshold != nil {
			th.PerCategory[c.Slug] = *c.ScoreThreshold
		}
	}
	return th
}

func enqueueCommand(cfg *config.Config, command, source, category string) error {
	store, err := storage.NewSQLiteStore(cfg.CommandDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	params := &models.CommandParams{Source: source, Category: category}
	return store.EnqueueCommand(models.CommandType(command), params)
}
