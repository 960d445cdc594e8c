package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/FleetFoot/RacePulse/config"
	"github.com/FleetFoot/RacePulse/internal/services/supervisor"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	onReady := func(sup *supervisor.Supervisor) {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.RacePulse.WorkerHTTPAddr,
				swaggerPath: os.Getenv("swaggerPath"),
				supervisor:  sup,
				cfg:         cfg,
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("worker http server stopped", "error", err)
			}
		}()
	}

	if err := RunRaceWorker(ctx, cfg, defaultWorkerFactories(), onReady); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
