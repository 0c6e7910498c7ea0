// Package services runs the background jobs around the pipeline: scheduled
// starts and the status heartbeat.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"applyflow/internal/control"
	"applyflow/internal/pipeline"
)

// StatusSource reports the pipeline state.
type StatusSource interface {
	Status() pipeline.Status
}

// Scheduler issues a start signal on a cron schedule. Expressions carry a
// seconds field ("0 0 9 * * MON-FRI").
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	source StatusSource
	ch     *control.Channel
	logger *zap.Logger
}

func NewScheduler(spec string, source StatusSource, ch *control.Channel, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		source: source,
		ch:     ch,
		logger: logger,
	}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger{logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
	)

	id, err := s.cron.AddFunc(spec, s.trigger)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Next returns the next scheduled start, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Time("next", s.Next()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) trigger() {
	switch status := s.source.Status(); status {
	case pipeline.StatusIdle, pipeline.StatusFinished, pipeline.StatusFailed:
		if err := s.ch.Start(0); err != nil {
			s.logger.Warn("Scheduled start not sent", zap.Error(err))
			return
		}
		s.logger.Info("Scheduled run started")
	default:
		s.logger.Info("Scheduled run skipped", zap.Stringer("status", status))
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
