package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpHandlers "github.com/nazaninghn/carbon-guard/internal/adapters/http/handlers"
	httpMiddleware "github.com/nazaninghn/carbon-guard/internal/adapters/http/middleware"
	"github.com/nazaninghn/carbon-guard/internal/app"
	"github.com/nazaninghn/carbon-guard/internal/config"
	"github.com/nazaninghn/carbon-guard/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, os.Stdout)

	var registry *prometheus.Registry
	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		reg = registry
	}

	engine, closeFn, err := app.Build(cfg, logger, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build guard")
	}
	defer closeFn()

	r := newRouter(cfg, engine, registry, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Type).Msg("server listening")
		err := srv.ListenAndServe()
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			return
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newRouter(cfg config.Config, engine *app.Engine, registry *prometheus.Registry, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", httpHandlers.HealthHandler(engine.Pinger))
	if registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// The login route evaluates itself so every attempt is counted once.
	login := httpHandlers.NewLoginHandler(
		engine.Decision,
		httpHandlers.NewStaticAuthenticator(cfg.DemoUsers),
		engine.Verifier,
		logging.Component(logger, "login"),
	)
	r.Method(http.MethodPost, "/login/", login)

	r.Group(func(r chi.Router) {
		r.Use(httpMiddleware.NewGuardMiddleware(engine.Decision))
		r.Get("/test", httpHandlers.TestHandler)
		r.Get("/api/emissions", httpHandlers.TestHandler)
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	})

	return r
}
