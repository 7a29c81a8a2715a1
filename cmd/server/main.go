// cmd/server/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SinaHo/learning-platform-referrals/internal/config"
	"github.com/SinaHo/learning-platform-referrals/internal/logger"
	"github.com/SinaHo/learning-platform-referrals/internal/server"
)

func main() {
	cfg, err := config.LoadConfig("internal/config")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.FromConfig(cfg.Logging)
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer log.Sync()
	sugar := log.Sugar()

	app, err := server.NewAppServer(context.Background(), cfg, log)
	if err != nil {
		sugar.Fatalf("failed to initialize server: %v", err)
	}

	// Start server in a goroutine
	go func() {
		if err := app.Run(); err != nil {
			sugar.Fatalf("server run error: %v", err)
		}
	}()

	// Wait for interrupt (SIGINT/SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sugar.Info("Received shutdown signal")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.GracefulStop(ctx); err != nil {
		sugar.Errorf("graceful shutdown: %v", err)
	}
	sugar.Info("Server stopped")
}
