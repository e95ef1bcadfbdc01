// Package app assembles the turn engine and session layer from configuration. The server and
// the ops CLI share it so both run turns the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/config"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/extract"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/llm"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/store"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/transcript"
)

// App holds the wired components of one process.
type App struct {
	Store      *store.SQLiteStore
	Engine     *pipeline.Engine
	Sessions   *session.Manager
	Transcript transcript.Logger
	// Backends lists the extractor backends tried before the rule set, in order.
	Backends []string

	closers []func() error
}

// Options tweaks assembly.
type Options struct {
	// Offline skips the model backends and uses the rule extractor only.
	Offline bool
	// NoTranscript disables conversation logging regardless of configuration.
	NoTranscript bool
}

// New opens the database and wires the engine. Model backends that fail to start are skipped
// with a warning; the rule extractor always remains.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &App{Store: db}
	a.closers = append(a.closers, db.Close)

	if err := db.Ping(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	var backends []extract.Backend
	var chat pipeline.ChatResponder
	if !opts.Offline {
		backends, chat = a.modelBackends(ctx, cfg, logger)
	}
	for _, b := range backends {
		a.Backends = append(a.Backends, b.Name())
	}

	engineOpts := []pipeline.Option{
		pipeline.WithConfig(pipeline.Config{
			MaxContinuationTurns: cfg.Pipeline.MaxContinuationTurns,
			DefaultOwnerID:       cfg.Pipeline.DefaultOwnerID,
			StructuredJSON:       cfg.StructuredJSON(),
		}),
		pipeline.WithLogger(logger),
	}
	if chat != nil {
		engineOpts = append(engineOpts, pipeline.WithChat(chat))
	}
	a.Engine = pipeline.New(db, extract.NewChain(logger, backends...), engineOpts...)

	a.Transcript = transcript.Noop{}
	if !opts.NoTranscript {
		tl, err := transcript.New(transcript.Config{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to initialize conversation logger: %w", err)
		}
		a.Transcript = tl
		a.closers = append(a.closers, tl.Close)
	}

	a.Sessions = session.New(a.Engine, db,
		session.WithTTL(cfg.SessionTTL),
		session.WithTranscript(a.Transcript),
		session.WithLogger(logger),
	)
	return a, nil
}

func (a *App) modelBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]extract.Backend, pipeline.ChatResponder) {
	var backends []extract.Backend
	var chat pipeline.ChatResponder

	if cfg.Extractor.GeminiAPIKey != "" {
		g, err := llm.NewGemini(ctx, llm.Config{
			APIKey:  cfg.Extractor.GeminiAPIKey,
			Model:   cfg.Extractor.GeminiModel,
			Timeout: cfg.Extractor.Timeout,
		}, logger)
		if err != nil {
			logger.Warn("Gemini backend disabled", "error", err)
		} else {
			backends = append(backends, g)
			chat = g
		}
	}

	if cfg.Extractor.GRPCAddr != "" {
		gcfg := extract.DefaultGRPCConfig(cfg.Extractor.GRPCAddr)
		if cfg.Extractor.Timeout > 0 {
			gcfg.RequestTimeout = cfg.Extractor.Timeout
		}
		b, err := extract.NewGRPCBackend(gcfg, logger)
		if err != nil {
			logger.Warn("gRPC extractor backend disabled", "address", cfg.Extractor.GRPCAddr, "error", err)
		} else {
			backends = append(backends, b)
			a.closers = append(a.closers, func() error { b.Close(); return nil })
		}
	}

	if len(backends) == 0 {
		logger.Info("No model backend configured, using rule extraction only")
	}
	return backends, chat
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
