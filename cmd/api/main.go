package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berfenger/b2500meter/internal/adapter/emulator"
	"github.com/berfenger/b2500meter/internal/adapter/powermeter"
	"github.com/berfenger/b2500meter/internal/config"
	"github.com/berfenger/b2500meter/internal/core/actor"
	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/core/service"
	"github.com/berfenger/b2500meter/internal/server"
	"github.com/berfenger/b2500meter/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {

	root := &cobra.Command{
		Use:           "b2500meter",
		Short:         "Smart meter emulator for B2500 storage systems",
		Version:       versioninfo.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig(cmd)
			if err != nil {
				return err
			}
			safePrintConfig(*cfg)
			return run(cmd.Context(), cfg)
		},
	}
	bindFlags(root)

	if err := root.Execute(); err != nil {
		slog.Error("b2500meter failed", "error", err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg *config.Config) error {

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("b2500meter starting", zap.String("version", versioninfo.Short()), zap.Strings("devices", cfg.DeviceTypes))

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := emulator.NewMetrics(registry)

	// power sources and emulators
	routes, err := powermeter.BuildRoutes(cfg, logger)
	if err != nil {
		return err
	}
	router := service.NewRouter(routes, logger)
	emulators, err := buildEmulators(cfg, router, logger, metrics)
	if err != nil {
		return err
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	rootCtx := as.Root
	defer as.Shutdown()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(actor.MasterConfig{
			SkipSourceValidation: cfg.SkipPowermeterTest,
		}, routes, emulators, logger)
	})
	pid, err := rootCtx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return err
	}
	defer rootCtx.StopFuture(pid).Wait()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// health server
	var apiServer *http.Server
	if cfg.Health.Enable {
		apiServer = server.NewServer(cfg.Health, versioninfo.Short(), rootCtx, pid, registry)
		go func() {
			logger.Info("health server listening", zap.String("addr", apiServer.Addr))
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	if err := startEmulators(ctx, rootCtx, pid, len(routes)); err != nil {
		shutdownServer(apiServer, logger)
		return err
	}

	// Listen for the interrupt signal.
	<-ctx.Done()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownServer(apiServer, logger)
	logger.Info("graceful shutdown complete")
	return nil
}

func startEmulators(ctx context.Context, rootCtx *pactor.RootContext, pid *pactor.PID, sources int) error {
	timeout := time.Duration(sources+1)*(actor.DEFAULT_VALIDATION_TIMEOUT+time.Minute)
	future := rootCtx.RequestFuture(pid, domain.StartEmulatorsRequest{}, timeout)

	done := make(chan error, 1)
	go func() {
		res, err := future.Result()
		if err != nil {
			done <- err
			return
		}
		resp, ok := res.(domain.StartEmulatorsResponse)
		if !ok {
			done <- errors.New("unexpected start response")
			return
		}
		done <- resp.GetResponseError()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func shutdownServer(apiServer *http.Server, logger *zap.Logger) {
	if apiServer == nil {
		return
	}
	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Warn("health server forced to shutdown", zap.Error(err))
	}
}
