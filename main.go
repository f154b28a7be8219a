package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"probeselect/codec"
	"probeselect/config"
	"probeselect/database"
	"probeselect/handler"
	"probeselect/logging"
	"probeselect/metrics"
	"probeselect/probe"
	"probeselect/scheduler"
	"probeselect/selector"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logging
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger, logCloser, err := logging.Setup(level, cfg.Logging.File)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	jsonCodec, err := codec.New(codec.Library(cfg.JSON.Library))
	if err != nil {
		logger.Errorf("Invalid json library: %v", err)
		os.Exit(1)
	}
	reg := metrics.NewRegistry("probeselect")

	// 3. Prober and selector
	prober := probe.New(cfg.Probe.Timeout,
		probe.WithLogger(logger.Named("probe")),
		probe.WithObserver(reg.ObserveProbe),
	)
	selOpts := []selector.Option{
		selector.WithLogger(logger.Named("select")),
		selector.WithObserver(reg.ObserveSelection),
	}
	if !cfg.Probe.Concurrent {
		selOpts = append(selOpts, selector.WithSequential())
	}
	sel := selector.New(prober, selOpts...)

	app := &handler.Application{
		Selector:     sel,
		Metrics:      reg,
		Codec:        jsonCodec,
		Log:          logger.Named("http"),
		APIKey:       cfg.Auth.APIKey,
		MetricsOnAPI: !cfg.SeparateMetricsServer(),
	}

	// 4. Optional history and its retention job
	var (
		store *database.Store
		cr    *cron.Cron
	)
	if cfg.HistoryEnabled() {
		store, err = database.NewStore(cfg.History.Path)
		if err != nil {
			logger.Errorf("Failed to open history %s: %v", cfg.History.Path, err)
			os.Exit(1)
		}
		logger.Named("db").Infof("History stored in %s (retention %s)", cfg.History.Path, cfg.History.Retention)
		app.Store = store

		cronLog := logger.Named("cron")
		job := scheduler.CreateJob(store, cfg.History.Retention, cronLog, scheduler.Hooks{
			OnPruned: reg.RecordPruned,
			OnError:  func(error) { reg.RecordHistoryError("prune") },
		})
		cr, _, err = scheduler.StartScheduler(cfg.History.PruneInterval, job, cronLog)
		if err != nil {
			logger.Errorf("Failed to start scheduler: %v", err)
			store.Close()
			os.Exit(1)
		}
	}
	if !cfg.AuthEnabled() {
		logger.Warnf("API_KEY is not set; requests are not authenticated")
	}

	// 5. Routers and servers
	h := handler.NewHandlers(app)
	servers := []*http.Server{{
		Addr:         cfg.APIAddr(),
		Handler:      handler.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}
	if cfg.SeparateMetricsServer() {
		servers = append(servers, &http.Server{
			Addr:         cfg.MetricsAddr(),
			Handler:      handler.NewMetricsRouter(h),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Infof("Listening on http://%s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}(srv)
	}

	// 6. Wait for a signal or a listener failure, then shut down
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Infof("Shutting down...")
	case err := <-errc:
		logger.Errorf("Server failed: %v", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Shutdown of %s failed: %v", srv.Addr, err)
		}
	}
	if cr != nil {
		<-cr.Stop().Done()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close history: %v", err)
		}
	}
	logger.Infof("Stopped")

	if exitCode != 0 {
		logCloser.Close()
		os.Exit(exitCode)
	}
}
