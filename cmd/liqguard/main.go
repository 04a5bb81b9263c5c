package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LiqGuard/internal/config"
	"LiqGuard/internal/derive"
	"LiqGuard/internal/engine"
	"LiqGuard/internal/event"
	"LiqGuard/internal/history"
	"LiqGuard/internal/monitor"
	"LiqGuard/internal/observability"
	"LiqGuard/internal/oracle"
	"LiqGuard/internal/publish"
	"LiqGuard/internal/server"
	"LiqGuard/internal/store"
	"LiqGuard/internal/ws"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: LiqGuard starting...")

	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: validate config: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Account store ---
	var (
		accountStore store.Store
		db           *sql.DB
	)
	switch cfg.Store.Backend {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			log.Fatalf("FATAL: postgres open: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("FATAL: postgres ping: %v", err)
		}
		log.Println("INFO: Postgres connected")

		if cfg.Store.RunMigrations {
			migrator := store.NewMigrator(db, cfg.Store.MigrationsDir)
			if err := migrator.Up(ctx); err != nil {
				log.Fatalf("FATAL: run migrations: %v", err)
			}
			log.Println("INFO: migrations applied")
		}
		accountStore = store.NewPostgresStore(db, 5*time.Second)

	case "memory":
		accountStore = store.NewMemoryStore()
		log.Println("INFO: using in-memory account store")
	}

	// --- History (Postgres only) ---
	var (
		histWriter *history.Writer
		histReader *history.Reader
	)
	if db != nil {
		histWriter = history.NewWriter(db, metrics)
		histReader = history.NewReader(db)
	}

	// --- Program id and monitor identity ---
	program := derive.NewProgramID(cfg.Namespace)
	liquidator := derive.Derive(program, []byte("monitor"))
	if cfg.Monitor.Liquidator != "" {
		liquidator, err = derive.ParseAddress(cfg.Monitor.Liquidator)
		if err != nil {
			log.Fatalf("FATAL: parse liquidator address: %v", err)
		}
	}

	// --- Engine ---
	eventChan := make(chan event.Event, 4096)
	eng, err := engine.New(
		accountStore,
		program,
		cfg.Risk.ToParams(),
		observability.NewLoggerWithLevel("engine", level),
		metrics,
		eventChan,
	)
	if err != nil {
		log.Fatalf("FATAL: build engine: %v", err)
	}

	// Fund initialization is idempotent across restarts and replicas.
	if _, err := eng.InitializeInsuranceFund(ctx, liquidator); err != nil && !errors.Is(err, engine.ErrAlreadyInitialized) {
		log.Fatalf("FATAL: initialize insurance fund: %v", err)
	}

	// --- NATS ---
	var (
		js        jetstream.JetStream
		natsClose func()
	)
	if cfg.NATS.Enabled {
		nc, j, err := publish.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		natsClose = nc.Close
		js = j
		log.Println("INFO: NATS connected")

		if err := publish.EnsureStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure outbound stream: %v", err)
		}
	}
	if natsClose != nil {
		defer natsClose()
	}

	// --- Oracle ---
	var priceSource oracle.Oracle
	switch cfg.Oracle.Mode {
	case "mock":
		basePrices := make(map[string]int64, len(cfg.Oracle.BasePrices))
		for sym, p := range cfg.Oracle.BasePrices {
			basePrices[sym] = config.ToFixed(p)
		}
		priceSource = oracle.NewMockOracle(basePrices, cfg.Oracle.MockSeed)
		log.Println("INFO: using mock oracle")

	case "nats":
		feed := oracle.NewNATSFeed(js, cfg.Oracle.MaxAge.Duration)
		if err := feed.Start(ctx); err != nil {
			log.Fatalf("FATAL: start price feed: %v", err)
		}
		defer feed.Stop()
		priceSource = feed
	}

	// --- WebSocket hub ---
	var hub *ws.Hub
	if cfg.Server.Enabled && cfg.Server.WSEnabled {
		hub = ws.NewHub(observability.NewLoggerWithLevel("ws", level), metrics)
	}

	// --- Monitor ---
	mon, err := monitor.New(
		monitor.Config{
			Interval:      cfg.Monitor.Interval.Duration,
			OracleTimeout: cfg.Monitor.OracleTimeout.Duration,
			CooldownTTL:   cfg.Monitor.CooldownTTL.Duration,
			CooldownSize:  cfg.Monitor.CooldownSize,
			WarnBandRatio: config.ToFixed(cfg.Monitor.WarnBand),
			Liquidator:    liquidator,
		},
		accountStore,
		eng,
		priceSource,
		histWriter,
		observability.NewLoggerWithLevel("monitor", level),
		metrics,
	)
	if err != nil {
		log.Fatalf("FATAL: build monitor: %v", err)
	}

	// --- Insurance fund watcher ---
	notify := func(evt event.Event) {
		select {
		case eventChan <- evt:
		default:
			metrics.PublishDrops.Inc()
		}
	}
	fundWatcher := monitor.NewFundWatcher(
		eng,
		histWriter,
		notify,
		observability.NewLoggerWithLevel("fund_watcher", level),
		metrics,
		cfg.Fund.WatchInterval.Duration,
		config.ToFixed(cfg.Fund.LowWatermark),
	)

	// --- Status API ---
	var statusServer *server.Server
	if cfg.Server.Enabled {
		statusServer = server.New(
			cfg.Server.Addr,
			accountStore,
			eng,
			priceSource,
			histReader,
			hub,
			healthChecker,
			metrics,
			observability.NewLoggerWithLevel("server", level),
		)
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Event dispatcher: engine events fan out to NATS and websocket.
	var pubChan chan event.Event
	if cfg.NATS.Enabled {
		pubChan = make(chan event.Event, 4096)
	}
	go runDispatcher(ctx, eventChan, pubChan, hub, metrics)

	// 2. Outbound publisher
	if cfg.NATS.Enabled {
		publisher := publish.NewPublisher(js, pubChan, metrics)
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}

	// 3. Position monitor
	go func() {
		errChan <- mon.Run(ctx)
	}()

	// 4. Insurance fund watcher
	go func() {
		errChan <- fundWatcher.Run(ctx)
	}()

	// 5. WebSocket hub
	if hub != nil {
		go func() {
			errChan <- hub.Run(ctx)
		}()
	}

	// 6. Status API (serves /metrics, /healthz, /readyz too)
	if statusServer != nil {
		go func() {
			errChan <- statusServer.Run(ctx)
		}()
	}

	healthChecker.SetReady(true)
	log.Printf("INFO: LiqGuard ready (store=%s, oracle=%s, api=%s)",
		cfg.Store.Backend, cfg.Oracle.Mode, cfg.Server.Addr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	cancel()

	// Give the loops a moment to finish their cycle.
	time.Sleep(500 * time.Millisecond)
	log.Println("INFO: LiqGuard stopped")
}

// runDispatcher drains the engine's event channel into the outbound
// sinks. Both sends are non-blocking: a stalled sink loses events rather
// than stalling the engine.
func runDispatcher(
	ctx context.Context,
	in <-chan event.Event,
	pubChan chan<- event.Event,
	hub *ws.Hub,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-in:
			if hub != nil {
				hub.Broadcast(evt)
			}
			if pubChan != nil {
				select {
				case pubChan <- evt:
				default:
					metrics.PublishDrops.Inc()
				}
			}
		}
	}
}
