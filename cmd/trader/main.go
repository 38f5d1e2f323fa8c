package main

import (
	"context"
	"kis_trader/internal/modules/config"
	"kis_trader/internal/modules/health"
	"kis_trader/internal/modules/kis_client"
	"kis_trader/internal/modules/kis_websocket"
	"kis_trader/internal/modules/notify"
	"kis_trader/internal/modules/storage"
	"kis_trader/internal/runner"
	"kis_trader/pkg/logger"
	"kis_trader/pkg/profiling"
	"kis_trader/pkg/tracing"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger.SetServiceName(cfg.Service.Name)
	if err := logger.Init(cfg.Env); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	tracing.SetServiceName(cfg.Service.Name)
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		logger.Fatal("tracer: %v", err)
	}
	defer closeTracer()

	stopProfiler, err := profiling.Start(profiling.Config{
		Enabled:       cfg.Profiling.Enabled,
		AppName:       cfg.Service.Name,
		ServerAddress: cfg.Profiling.ServerAddress,
		Env:           cfg.Env,
	})
	if err != nil {
		logger.Error("profiler: %v", err)
	}
	defer stopProfiler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			func() context.Context {
				return ctx
			},
		),
		storage.Module(),
		notify.Module(),
		kis_client.Module(),
		health.Module(),
		kis_websocket.Module(),
		runner.Module(),
		fx.NopLogger,
	)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("start: %v", err)
	}
	logger.Info("[MAIN] %s started (env=%s, mock=%v)", cfg.Service.Name, cfg.Env, cfg.KIS.Mock)

	<-ctx.Done()
	logger.Info("[MAIN] shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("stop: %v", err)
	}
}
