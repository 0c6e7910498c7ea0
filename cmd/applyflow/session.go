package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"applyflow/internal/config"
	"applyflow/internal/control"
	"applyflow/internal/driver"
	"applyflow/internal/pipeline"
	"applyflow/internal/recorder"
	"applyflow/internal/selector"
	"applyflow/internal/workflow"
	"applyflow/pkg/chrome"
	"applyflow/pkg/pwdriver"
)

type sessionFactory = func(ctx context.Context) (driver.Driver, error)

// newSessionFactory opens browsers with the configured backend.
func newSessionFactory(cfg *config.Config, logger *zap.Logger) (sessionFactory, error) {
	resolver := selector.NewResolver(cfg.Locator.ClassMarkers...)
	b := cfg.Browser

	switch b.Driver {
	case config.DriverChromedp:
		return func(ctx context.Context) (driver.Driver, error) {
			br, err := chrome.Launch(ctx, chrome.Options{
				ExecPath:    b.ExecPath,
				RemoteURL:   b.RemoteURL,
				Headless:    b.Headless,
				UserDataDir: b.UserDataDir,
				Device:      b.Device,
				Logger:      logger.Named("chrome"),
				Resolver:    resolver,
			})
			if err != nil {
				return nil, err
			}
			return br, nil
		}, nil
	case config.DriverPlaywright:
		return func(ctx context.Context) (driver.Driver, error) {
			br, err := pwdriver.Launch(ctx, pwdriver.Options{
				Headless: b.Headless,
				ExecPath: b.ExecPath,
				Device:   b.Device,
				Install:  b.InstallPlaywright,
				Logger:   logger.Named("playwright"),
				Resolver: resolver,
			})
			if err != nil {
				return nil, err
			}
			return br, nil
		}, nil
	}
	return nil, fmt.Errorf("unknown browser driver %q", b.Driver)
}

func newWorkflow(cfg *config.Config) (*workflow.Workflow, error) {
	return workflow.New(workflow.Config{
		BaseURL:  cfg.Workflow.BaseURL,
		Keywords: cfg.Workflow.Keywords,
		Credentials: workflow.Credentials{
			Account: cfg.Site.Email,
			Secret:  cfg.Site.Password.Reveal(),
		},
		StrategyTimeout: cfg.Locator.StrategyTimeout,
		ProbeTimeout:    cfg.Locator.ProbeTimeout,
		ActionInterval:  cfg.Pipeline.ActionInterval,
		Settle:          cfg.Pipeline.Settle,
		MaxPages:        cfg.Workflow.MaxPages,
		MaxFormPages:    cfg.Workflow.MaxFormPages,
	})
}

// components is the pipeline and everything wired around it.
type components struct {
	workflow *workflow.Workflow
	channel  *control.Channel
	pipeline *pipeline.Pipeline
	open     sessionFactory
}

func newComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	open, err := newSessionFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	wf, err := newWorkflow(cfg)
	if err != nil {
		return nil, err
	}
	ch := control.New(control.WithHistoryLimit(cfg.Pipeline.HistoryLimit))
	p, err := pipeline.New(wf.Steps(), open, ch,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithRestartGrace(cfg.Pipeline.RestartGrace))
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &components{workflow: wf, channel: ch, pipeline: p, open: open}, nil
}

func newRecorderManager(cfg *config.Config, open sessionFactory, logger *zap.Logger) *recorder.Manager {
	return recorder.NewManager(open, cfg.Recorder.ActionLog, logger.Named("recorder"),
		recorder.WithIntervals(cfg.Recorder.ProbeInterval, cfg.Recorder.FlushInterval),
		recorder.WithResolver(selector.NewResolver(cfg.Locator.ClassMarkers...)))
}
