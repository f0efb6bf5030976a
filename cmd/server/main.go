package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voxelsync.ai/internal/admin"
	"voxelsync.ai/internal/config"
	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/persistence/mapdb"
	"voxelsync.ai/internal/server"
	"voxelsync.ai/internal/sim/catalogs"
	"voxelsync.ai/internal/sim/env"
	"voxelsync.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to server.yaml (default: ./server.yaml or ./configs/server.yaml)")
		checkOnly  = flag.Bool("check", false, "load and validate the configuration, then exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *checkOnly {
		log.Printf("configuration ok")
		return
	}

	logger, closeLog, err := openLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	err = run(cfg, logger)
	if err != nil {
		logger.Errorf("%v", err)
	}
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {

	if err := os.MkdirAll(cfg.Server.WorldDir, 0o755); err != nil {
		return fmt.Errorf("world dir: %w", err)
	}

	cats, err := catalogs.Load(cfg.Server.Definitions)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	logger.Infof("definitions: %d nodes, %d items, digest %s",
		len(cats.Nodes.Defs), len(cats.Items.Defs), cats.Digest[:12])

	store, err := mapdb.Open(cfg.MapDB)
	if err != nil {
		return fmt.Errorf("open map database: %w", err)
	}
	defer store.Close()

	stone, _ := cats.ContentID("default:stone")
	worldMap := env.NewMap(store, env.FlatGenerator(stone))
	worldMap.SetLogger(logger)
	world := env.New(worldMap, nil, cfg.Game.TimeSpeed)

	reg := prometheus.NewRegistry()
	var m metrics.Metrics = metrics.NewNoop()
	if cfg.Metrics.Enabled {
		m = metrics.New(reg)
	}

	ctx, cancel := signalContext()
	defer cancel()

	journal, err := buildJournal(ctx, cfg.Journal, cfg.Server.WorldDir, logger)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer journal.Close()

	tr := ws.NewServer(ws.Options{
		PeerTimeout:      cfg.Server.PeerTimeout,
		PacketsPerSecond: cfg.Server.PacketsPerSecond,
		Burst:            cfg.Server.PacketBurst,
		Logger:           logger,
		Metrics:          m,
	})
	defer tr.Close()

	srv := server.New(server.Options{
		Game:            cfg.Game,
		BannedAddresses: cfg.Server.BannedAddresses,
		Transport:       tr,
		Env:             world,
		Catalogs:        cats,
		Journal:         journal.Sink(),
		Log:             logger,
		Metrics:         m,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if srv.ShutdownRequested() {
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
	}
	mux.HandleFunc(cfg.Server.Path, tr.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Actionf("listening on %s%s", cfg.Server.Listen, cfg.Server.Path)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.SetAsyncFatalError(err)
		}
	}()

	if cfg.Admin.Enabled {
		console := admin.New(cfg.Admin.Listen, srv, logger)
		go func() {
			if err := console.Start(); err != nil {
				logger.Warnf("admin console: %v", err)
			}
		}()
		defer console.Stop()
	}

	runErr := srv.RunDedicated(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	return runErr
}

func openLogger(cfg config.LoggingConfig) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var out io.Writer
	closeFn := func() {}
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	base := log.New(out, "[server] ", log.LstdFlags|log.Lmicroseconds)
	return logging.New(base, level), closeFn, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
