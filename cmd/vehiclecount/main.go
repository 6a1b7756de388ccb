package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/annotate"
	"github.com/zsiec/vehiclecount/internal/api"
	"github.com/zsiec/vehiclecount/internal/codec"
	"github.com/zsiec/vehiclecount/internal/config"
	"github.com/zsiec/vehiclecount/internal/detect"
	"github.com/zsiec/vehiclecount/internal/health"
	"github.com/zsiec/vehiclecount/internal/history"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/ratelimit"
	"github.com/zsiec/vehiclecount/internal/registry"
	"github.com/zsiec/vehiclecount/internal/server"
	"github.com/zsiec/vehiclecount/internal/session"
	"github.com/zsiec/vehiclecount/internal/source"
	"github.com/zsiec/vehiclecount/internal/track"
	"github.com/zsiec/vehiclecount/internal/upload"
	"github.com/zsiec/vehiclecount/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting vehiclecount server")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	log.Info("Server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	var checkers []health.Checker

	// Live session registry
	instance := cfg.Registry.Instance
	if instance == "" {
		instance, _ = os.Hostname()
	}
	var reg registry.Registry
	if cfg.Redis.Enabled {
		client, err := registry.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("Connected to Redis successfully")
		reg = registry.NewRedisRegistry(client, log, cfg.Registry.Prefix, cfg.Registry.TTL)
		checkers = append(checkers, health.NewRedisChecker(client))
	} else {
		reg = registry.NewMemoryRegistry(cfg.Registry.TTL)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.WithError(err).Error("Failed to close registry")
		}
	}()
	publisher := registry.NewPublisher(reg, instance, cfg.Registry.HeartbeatInterval, logger.WithComponent(log, "registry"))
	listeners := []session.Listener{publisher}

	// Session history
	var (
		store    *history.Store
		recorder *history.Recorder
	)
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg.History.DBPath, logger.WithComponent(log, "history"))
		if err != nil {
			publisher.Close()
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		recorder = history.NewRecorder(store, cfg.History.QueueSize, cfg.History.WriteRate, logger.WithComponent(log, "history"))
		listeners = append(listeners, recorder)
		checkers = append(checkers, health.NewPingChecker("history", store.Ping))
	}

	uploads, err := upload.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxSizeMB<<20)
	if err != nil {
		publisher.Close()
		return fmt.Errorf("failed to prepare uploads: %w", err)
	}

	// Session pipeline
	catalog := detect.NewCatalog(cfg.Sessions.ModelsDir)
	loader := detect.NewHTTPLoader(cfg.Detector, catalog, logger.WithComponent(log, "detector"))
	trackerCfg := track.Config{
		IOUThreshold: cfg.Tracker.IOUThreshold,
		MaxAge:       cfg.Tracker.MaxAge,
		MinHits:      cfg.Tracker.MinHits,
	}
	manager := session.NewManager(cfg.Sessions.MaxSessions, session.Deps{
		Loader:     loader,
		Resolver:   source.NewResolver(cfg.Source, log),
		NewTracker: func() session.Tracker { return track.NewIOUTracker(trackerCfg) },
		Renderer:   annotate.NewRenderer(),
		Encoder:    codec.NewJPEG(cfg.Sessions.JPEGQuality),
		Listeners:  listeners,
		Logger:     log,
	}, session.Options{
		RelayDepth:  cfg.Sessions.RelayDepth,
		FPSWindow:   cfg.Sessions.FPSWindow,
		StopTimeout: cfg.Sessions.StopTimeout,
	}, catalog)

	checkers = append(checkers,
		health.NewMemoryChecker(0.9),
		health.NewDiskChecker(uploads.Dir(), 0.95),
		health.NewToolChecker("ffmpeg", cfg.Source.FFmpegPath, false),
		health.NewToolChecker("ffprobe", cfg.Source.FFprobePath, false),
		health.NewToolChecker("yt-dlp", cfg.Source.YTDLPPath, true, "--version"),
		health.NewToolChecker("streamlink", cfg.Source.StreamlinkPath, true, "--version"),
		health.NewPingChecker("detector", loader.Ping),
	)

	srv := server.New(&cfg.Server, log, checkers...)

	deps := api.Deps{
		Sessions: manager,
		Uploads:  uploads,
		Registry: reg,
		Viewers:  ratelimit.NewViewerLimiter(cfg.Server.MaxViewersPerSession, cfg.Server.MaxViewers),
		Errors:   srv.ErrorHandler(),
		Logger:   log,
	}
	if store != nil {
		deps.History = store
	}
	handlers := api.NewHandlers(deps, api.Options{
		DefaultConfidence: cfg.Sessions.DefaultConfidence,
		DefaultImageSize:  cfg.Sessions.DefaultImageSize,
		DefaultInterval:   cfg.Sessions.DefaultInterval,
		AllowedOrigins:    cfg.Server.CORSOrigins,
	})
	srv.RegisterRoutes(func(r *mux.Router) { handlers.RegisterRoutes(r) })

	go handlers.Feed().Run(ctx)

	if cfg.Metrics.Enabled {
		go startMetricsServer(ctx, cfg.Metrics, logger.ForComponent(log, "metrics"))
	}

	serveErr := srv.Start(ctx)

	// Stop the pipelines before the listeners that record their final state
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	manager.Shutdown(stopCtx)

	if recorder != nil {
		recorder.Close()
		written, dropped := recorder.Stats()
		log.WithFields(logrus.Fields{"written": written, "dropped": dropped}).Info("History recorder closed")
	}
	publisher.Close()

	return serveErr
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server error")
	}
}
