// Logistics assistant server: web chat, websocket chat and the Twilio SMS/WhatsApp webhook.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/api"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/app"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/chatws"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/config"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/identity"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/middleware"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	sweepInterval   = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	a, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close resources", "error", closeErr)
		}
	}()
	slog.Info("Turn engine ready", "extractors", a.Backends, "session_ttl", cfg.SessionTTL)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	chatHandler := api.NewHandler(a.Sessions, limiter, cfg.MaxRequestBody, logger)
	twilioHandler := api.NewTwilioHandler(a.Sessions, api.TwilioOptions{
		AuthToken:     cfg.Twilio.AuthToken,
		Validate:      cfg.Twilio.Validate,
		PublicBaseURL: cfg.Twilio.PublicBaseURL,
		MaxBody:       cfg.MaxRequestBody,
		Logger:        logger,
	})
	healthHandler := api.NewHealthHandler(a.Store)
	hub := chatws.NewHub(logger)
	wsHandler := chatws.NewHandler(a.Sessions, hub, limiter, cfg.CORSOrigins, cfg.IsDevelopment(), logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins, identity.SessionHeaderName))

	// Public routes.
	healthHandler.RegisterHealth(r)
	twilioHandler.RegisterRoutes(r)

	// Browser routes carry an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
		// Loading the console sets the identity cookie the websocket reuses.
		r.Handle("/*", web.Console())
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // websocket connections are long-lived
		IdleTimeout:       120 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcLis != nil {
		grpcSrv, hs := app.NewGRPCHealthServer()
		g.Go(func() error {
			slog.Info("gRPC health listening", "addr", grpcLis.Addr().String())
			return grpcSrv.Serve(grpcLis)
		})
		g.Go(func() error {
			return app.WatchHealth(gctx, hs, a.Store, 0, logger)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		return a.Sessions.RunSweeper(gctx, sweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
