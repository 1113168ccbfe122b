package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"ocrserver/internal/adapter/repo"
	"ocrserver/internal/engine"
	"ocrserver/internal/http/handlers"
	"ocrserver/internal/http/httpapi"
	"ocrserver/internal/infra"
	"ocrserver/internal/infra/geoip"
	"ocrserver/internal/materialize"
	"ocrserver/internal/retention"
	"ocrserver/internal/scheduler"
	"ocrserver/internal/storage"
	"ocrserver/internal/store"
	"ocrserver/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The usage database is optional; without it the service runs with usage
	// accounting disabled.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
	}
	usage := repo.NewUsageRepository(pool, logger)

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
		geo = nil
	}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	// Session records live in memory only, so any session trees left on disk
	// by a previous run are unreachable. Clear them before serving.
	if err := files.RemoveTree("sessions"); err != nil {
		logger.Warn().Err(err).Msg("failed to clear stale session files")
	}

	refiner := engine.NewRefiner(engine.RefinerOptions{
		BaseURL: cfg.EnhanceBaseURL,
		APIKey:  cfg.EnhanceAPIKey,
		Model:   cfg.EnhanceModel,
		Logger:  &logger,
	})
	marker := engine.NewMarkerEngine(engine.MarkerOptions{
		BaseURL: cfg.MarkerBaseURL,
		Logger:  &logger,
		Refiner: refiner,
	})
	vision, err := engine.NewVisionEngine(engine.VisionOptions{
		BaseURL: cfg.VisionBaseURL,
		APIKey:  cfg.VisionAPIKey,
		Model:   cfg.VisionModel,
		Logger:  &logger,
		Refiner: refiner,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vision engine")
	}
	engines := engine.NewRegistry(marker, vision)

	sessions := store.New(nil)

	hub := ws.NewHub(logger)
	hub.Start()
	defer hub.Stop()
	sessions.SetNotifier(hub.Notify)

	sched := scheduler.New(ctx, scheduler.Options{
		Store:           sessions,
		Engines:         engines,
		Materializer:    materialize.New(nil),
		Files:           files,
		Logger:          logger,
		DispatchTimeout: cfg.DispatchTimeout,
		MaxActiveJobs:   cfg.MaxActiveJobs,
		Usage:           usage,
	})

	keeper := retention.NewManager(retention.Options{
		Store:    sessions,
		Files:    files,
		Logger:   logger,
		Window:   cfg.RetentionWindow,
		Interval: cfg.RetentionEvery,
	})
	go keeper.Run(ctx)

	app := &handlers.App{
		Logger:    logger,
		Config:    cfg,
		Store:     sessions,
		Scheduler: sched,
		Retention: keeper,
		Engines:   engines,
		Files:     files,
		Hub:       hub,
		Usage:     usage,
		Geo:       geo,
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger))

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Let in-flight jobs reach a terminal state before the process exits.
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("jobs still in flight at exit")
	}
	logger.Info().Msg("server stopped")
}
