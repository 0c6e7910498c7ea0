package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"applyflow/internal/control"
	"applyflow/internal/pipeline"
	"applyflow/internal/recorder"
	"applyflow/internal/workflow"
)

func newRunCmd(a *app) *cobra.Command {
	var from int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow once, or record a learning session when no action log exists",
		Long: `Run the workflow once in the foreground.

When the action log is missing, a learning session is recorded instead: the
browser opens on the site and every click, input and navigation is written to
the action log until the browser is closed.

While running, type a command and press Enter:
  p  pause at the next checkpoint
  r  resume
  s  skip the current action
  x  restart from the first step`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !recorder.Exists(a.cfg.Recorder.ActionLog) {
				a.logger.Info("No action log found, starting learning mode", zap.String("action_log", a.cfg.Recorder.ActionLog))
				return runLearn(cmd.Context(), a, "")
			}
			return runPipeline(cmd.Context(), a, from, cmd.InOrStdin())
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "operator step to start from (see 'applyflow steps')")
	return cmd
}

func runPipeline(ctx context.Context, a *app, from int, in io.Reader) error {
	ordinal, err := workflow.OrdinalFor(from)
	if err != nil {
		return err
	}
	c, err := newComponents(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer c.channel.Close()

	messages, unsubscribe := c.channel.Subscribe(false)
	defer unsubscribe()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.pipeline.Run(gctx)
	})
	go operatorInput(in, c.channel, a.logger)

	if err := c.channel.Start(ordinal); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	result := wait(ctx, c.pipeline, messages)
	stop()
	if err := g.Wait(); err != nil {
		return err
	}
	return result
}

// wait blocks until the pipeline finishes or fails, or ctx is done. Status
// messages wake it early; the ticker covers messages dropped under load.
func wait(ctx context.Context, p *pipeline.Pipeline, messages <-chan control.Message) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			if m.Level != control.LevelStatus {
				continue
			}
		case <-ticker.C:
		}
		switch s := p.Snapshot(); s.Status {
		case pipeline.StatusFinished:
			return nil
		case pipeline.StatusFailed:
			return fmt.Errorf("pipeline failed at step %d (%s): %s", s.Ordinal+1, s.Step, s.Error)
		}
	}
}

// operatorInput maps console lines to control signals.
func operatorInput(in io.Reader, ch *control.Channel, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var err error
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			continue
		case "p", "pause":
			err = ch.Pause()
		case "r", "resume":
			err = ch.Resume()
		case "s", "skip":
			err = ch.SkipCurrentAction()
		case "x", "restart":
			err = ch.Restart()
		default:
			logger.Info("Unknown command, use p (pause), r (resume), s (skip) or x (restart)")
			continue
		}
		if errors.Is(err, control.ErrClosed) {
			return
		}
		if err != nil {
			logger.Warn("Control signal not sent", zap.Error(err))
		}
	}
}

func newRecordCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a learning session into the action log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearn(cmd.Context(), a, target)
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "page to open (default the site home page)")
	return cmd
}

// runLearn records until the operator closes the browser or ctx is done.
func runLearn(ctx context.Context, a *app, target string) error {
	if target == "" {
		wf, err := newWorkflow(a.cfg)
		if err != nil {
			return err
		}
		target = wf.HomeURL()
	}
	open, err := newSessionFactory(a.cfg, a.logger)
	if err != nil {
		return err
	}

	m := newRecorderManager(a.cfg, open, a.logger)
	s, err := m.Start(ctx, target)
	if err != nil {
		return err
	}
	a.logger.Info("Recording, close the browser to finish", zap.String("url", target))

	select {
	case <-s.Done():
	case <-ctx.Done():
		if _, err := m.Stop(s.ID); err != nil {
			return err
		}
	}
	a.logger.Info("Learning session finished",
		zap.Int("records", len(s.Records())),
		zap.String("action_log", a.cfg.Recorder.ActionLog))
	return nil
}

func newStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps",
		Short: "List the operator steps accepted by --from and the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, e := range workflow.EntryPoints() {
				if _, err := fmt.Fprintf(w, "%2d  %-26s pipeline step %d\n", e.Index, e.Name, e.Ordinal+1); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
