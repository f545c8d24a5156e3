// Command sweeper runs a single purge of expired and revoked refresh sessions
// against the configured store and exits. It suits an external scheduler
// (Kubernetes CronJob, systemd timer) when the API's built-in sweeper is off.
package main

import (
	"context"
	"os"

	"github.com/gogotex/sessionguard/internal/app"
	"github.com/gogotex/sessionguard/internal/audit"
	"github.com/gogotex/sessionguard/internal/config"
	"github.com/gogotex/sessionguard/internal/sweeper"
	"github.com/gogotex/sessionguard/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.Sessions.Store == config.StoreMemory {
		logger.Fatalf("SESSION_STORE=%s has nothing to sweep from a separate process", config.StoreMemory)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweeper.DefaultTimeout)
	defer cancel()

	stores, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open stores: %v", err)
	}
	defer stores.Close()

	svc := app.SessionService(cfg, stores.Sessions, audit.LogSink{})
	n, err := sweeper.New(svc, cfg.Sessions.SweepSchedule).RunOnce(ctx)
	if err != nil {
		stores.Close()
		logger.Fatalf("sweep failed: %v", err)
	}
	logger.Infof("sweep complete: deleted=%d", n)
}
