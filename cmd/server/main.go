package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/app"
	"github.com/knowledge-engine/chunkstore/internal/config"
)

func main() {
	// 1. Config
	cfg, err := config.LoadWithEnvFile(config.GetStringEnv("CHUNKSTORE_ENV_FILE", ".env"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Logging
	entry := app.NewLogger(cfg.Log, "chunkstore-api")
	entry.Info("Starting chunk store API service")

	// 3. Storage, search index and engine
	a, err := app.New(cfg, entry)
	if err != nil {
		entry.Fatalf("Failed to initialize: %v", err)
	}

	entry.WithField("chunks", a.Store.Len()).Infof("Chunk store API ready on %s", cfg.API.Addr)

	// 4. API Server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	serveErr := a.Serve(ctx)
	stop()

	if err := a.Close(); err != nil {
		entry.WithError(err).Error("Failed to close storage")
	}
	if serveErr != nil {
		entry.Fatal(serveErr)
	}
	entry.Info("Chunk store API stopped")
}
