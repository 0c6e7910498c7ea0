package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applyflow/internal/control"
	"applyflow/internal/pipeline"
)

// SnapshotSource reports a point-in-time view of the pipeline.
type SnapshotSource interface {
	Snapshot() pipeline.Snapshot
}

// Heartbeat republishes the pipeline status on the control channel at a
// fixed interval so idle dashboards can tell the service is alive.
type Heartbeat struct {
	source   SnapshotSource
	ch       *control.Channel
	interval time.Duration
	logger   *zap.Logger
}

func NewHeartbeat(source SnapshotSource, ch *control.Channel, interval time.Duration, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{source: source, ch: ch, interval: interval, logger: logger}
}

// Run publishes until ctx is done. A non-positive interval disables it.
func (h *Heartbeat) Run(ctx context.Context) error {
	if h.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.logger.Debug("Heartbeat started", zap.Duration("interval", h.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *Heartbeat) beat() {
	s := h.source.Snapshot()
	h.ch.Status(s.Ordinal, describe(s))
}

func describe(s pipeline.Snapshot) string {
	switch s.Status {
	case pipeline.StatusIdle:
		return "Pipeline idle"
	case pipeline.StatusFinished:
		return "Pipeline finished"
	case pipeline.StatusFailed:
		if s.Error != "" {
			return fmt.Sprintf("Pipeline failed at step %d (%s): %s", s.Ordinal+1, s.Step, s.Error)
		}
		return fmt.Sprintf("Pipeline failed at step %d (%s)", s.Ordinal+1, s.Step)
	}
	return fmt.Sprintf("Pipeline %s at step %d (%s)", s.Status, s.Ordinal+1, s.Step)
}
