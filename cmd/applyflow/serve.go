package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"applyflow/internal/api/handlers"
	"applyflow/internal/api/routes"
	"applyflow/internal/services"
	"applyflow/pkg/auth"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API with the pipeline, scheduler and heartbeat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.channel.Close()

	var scheduler *services.Scheduler
	if cfg.Schedule.Cron != "" {
		scheduler, err = services.NewScheduler(cfg.Schedule.Cron, c.pipeline, c.channel, logger.Named("scheduler"))
		if err != nil {
			return err
		}
	}

	recordings := newRecorderManager(cfg, c.open, logger)
	authn := auth.New(cfg.Auth.Username, cfg.Auth.PasswordHash.Reveal(), cfg.Auth.JWTSecret.Reveal(), cfg.Auth.TokenTTL)
	h := handlers.New(c.pipeline, c.channel, authn,
		handlers.WithRecordings(recordings, c.workflow.HomeURL()),
		handlers.WithLogger(logger.Named("api")))

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      routes.SetupRoutes(h, authn, logger.Named("http")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.pipeline.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		recordings.StopAll()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return services.NewHeartbeat(c.pipeline, c.channel, cfg.Schedule.Heartbeat, logger.Named("heartbeat")).Run(gctx)
	})
	if scheduler != nil {
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}
