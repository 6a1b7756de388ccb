package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/vehiclecount/internal/config"
	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/health"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/ratelimit"
)

const healthCheckInterval = 30 * time.Second

// Server is the HTTP front end. It always listens on HTTP/1.1 (TLS when a
// certificate is configured) and adds an HTTP/3 listener when http3_port is
// set.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	limiter      *ratelimit.ClientLimiter

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a server and registers the given health checkers.
func New(cfg *config.ServerConfig, log *logrus.Logger, checkers ...health.Checker) *Server {
	s := &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		healthMgr:        health.NewManager(log),
		errorHandler:     apperrors.NewErrorHandler(log),
		additionalRoutes: make([]func(*mux.Router), 0),
	}

	if cfg.RateLimit > 0 {
		trusted, err := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			log.WithError(err).Warn("Ignoring trusted proxies")
			trusted = nil
		}
		s.limiter = ratelimit.NewClientLimiter(cfg.RateLimit, cfg.RateBurst, trusted)
	}

	for _, c := range checkers {
		s.healthMgr.Register(c)
	}

	return s
}

// Start serves until ctx is cancelled or a listener fails, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}
	if s.config.HTTP3Port != 0 && tlsConfig == nil {
		return fmt.Errorf("http3 requires a TLS certificate and key")
	}

	s.setupRoutes()

	// Prime the results so /ready is meaningful before the first tick.
	s.healthMgr.RunChecks(ctx)
	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.router,
		TLSConfig:    tlsConfig,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		s.logger.WithFields(logrus.Fields{
			"port": s.config.HTTPPort,
			"tls":  tlsConfig != nil,
		}).Info("Starting HTTP server")

		var err error
		if tlsConfig != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.HTTP3Port != 0 {
		h3TLS := tlsConfig.Clone()
		h3TLS.MinVersion = tls.VersionTLS13
		h3TLS.NextProtos = []string{"h3"}

		s.http3Server = &http3.Server{
			Addr:      fmt.Sprintf(":%d", s.config.HTTP3Port),
			Handler:   s.router,
			TLSConfig: h3TLS,
		}

		go func() {
			s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
			if err := s.http3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// tlsConfig loads the configured certificate. It returns nil when none is
// configured.
func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.config.TLSCertFile == "" || s.config.TLSKeyFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}, nil
}

// Shutdown stops the listeners. Open MJPEG and websocket streams are cut
// when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	var errs []error
	if s.http3Server != nil {
		// http3.Server.Close has no context variant
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			_ = s.httpServer.Close()
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to shutdown server: %w", errors.Join(errs...))
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.altSvcMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	// Health endpoints
	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	// Version endpoint
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")

	// Debug endpoints (only if enabled)
	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	// Register any additional routes
	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// setupDebugEndpoints registers pprof and a listener summary.
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	debug := s.router.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	debug.HandleFunc("/pprof/profile", pprof.Profile)
	debug.HandleFunc("/pprof/symbol", pprof.Symbol)
	debug.HandleFunc("/pprof/trace", pprof.Trace)
	debug.PathPrefix("/pprof/").HandlerFunc(pprof.Index)

	debug.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info := map[string]interface{}{
			"protocols": map[string]bool{
				"http11": true,
				"http2":  s.config.TLSCertFile != "",
				"http3":  s.config.HTTP3Port != 0,
			},
			"ports": map[string]int{
				"http":  s.config.HTTPPort,
				"http3": s.config.HTTP3Port,
			},
			"rate_limit":    s.config.RateLimit,
			"debug_enabled": true,
		}
		_ = json.NewEncoder(w).Encode(info)
	}).Methods("GET")
}

// RegisterRoutes adds additional route handlers to the server
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// ErrorHandler returns the handler shared with the API layer.
func (s *Server) ErrorHandler() *apperrors.ErrorHandler {
	return s.errorHandler
}

func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
