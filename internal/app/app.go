package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/api"
	"github.com/knowledge-engine/chunkstore/internal/config"
	"github.com/knowledge-engine/chunkstore/internal/engine"
	"github.com/knowledge-engine/chunkstore/internal/ingest"
	"github.com/knowledge-engine/chunkstore/internal/provider"
	"github.com/knowledge-engine/chunkstore/internal/search"
	"github.com/knowledge-engine/chunkstore/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// App is the wired set of components shared by the binaries
type App struct {
	Config  *config.Config
	Logger  *logrus.Entry
	Storage storage.ChunkStorage
	Store   *search.VectorStore
	Engine  *engine.Engine
	Fetcher *ingest.Fetcher
}

// NewLogger builds the service logger from the log section of the config
func NewLogger(cfg config.LogConfig, service string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	entry := logger.WithField("service", service)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		entry.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return entry
}

// New opens storage, reloads the store and builds the engine
func New(cfg *config.Config, logger *logrus.Entry) (*App, error) {
	// 1. Storage
	backend, err := storage.Open(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 2. Search Index
	store, err := search.NewVectorStore(backend, logger, search.WithDefaultTopK(cfg.Store.DefaultTopK))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load vector store: %w", err)
	}

	// 3. LLM Provider
	llm, err := provider.New(cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.Timeout)
	if err != nil {
		backend.Close()
		return nil, err
	}

	// 4. Engine
	assembler := engine.NewContextAssembler(cfg.Context.MaxTokens, cfg.Context.Encoding, logger.WithField("component", "context_assembler"))
	eng := engine.NewEngine(store, llm, assembler, logger, cfg.Context.TopK)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Storage: backend,
		Store:   store,
		Engine:  eng,
		Fetcher: ingest.NewFetcher(cfg.Fetch, logger),
	}, nil
}

// Serve runs the API server until ctx is cancelled, then shuts it down
func (a *App) Serve(ctx context.Context) error {
	server := api.NewServer(a.Engine, a.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(a.Config.API.Addr, a.Config.API.ReadTimeout, a.Config.API.WriteTimeout)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return <-errCh
}

func (a *App) Close() error {
	return a.Storage.Close()
}
