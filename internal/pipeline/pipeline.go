// Package pipeline runs a workflow as an ordered sequence of named steps on
// a single worker goroutine, under operator control.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"applyflow/internal/control"
	"applyflow/internal/driver"
)

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrInvalidOrdinal = errors.New("invalid step ordinal")
	ErrNoSteps        = errors.New("pipeline has no steps")
)

// DefaultRestartGrace bounds how long a restart waits for the previous
// worker to reach a checkpoint after its session was torn down.
const DefaultRestartGrace = 5 * time.Second

// SessionFactory opens a browser session for a new run.
type SessionFactory func(ctx context.Context) (driver.Driver, error)

// Snapshot is a point-in-time view of the pipeline.
type Snapshot struct {
	Status  Status `json:"status"`
	Ordinal int    `json:"ordinal"`
	Step    string `json:"step,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Steps   int    `json:"steps"`
}

type exit struct {
	gen      uint64
	ordinal  int
	err      error
	paused   bool
	finished bool
}

// Pipeline owns the state machine. Operator signals arrive through a
// control.Channel and are handled by Run on one goroutine; steps execute on
// a separate worker goroutine, one at a time.
type Pipeline struct {
	steps        []Step
	open         SessionFactory
	ch           *control.Channel
	logger       *zap.Logger
	ctl          *Control
	restartGrace time.Duration

	gen   atomic.Uint64
	exits chan exit

	mu      sync.RWMutex
	status  Status
	ordinal int
	run     *Run
	lastErr error

	// owned by the supervisor goroutine
	baseCtx    context.Context
	workerDone chan struct{}
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithRestartGrace(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.restartGrace = d
		}
	}
}

// New builds a pipeline. Step ordinals are their positions in steps.
func New(steps []Step, open SessionFactory, ch *control.Channel, opts ...Option) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	for i, s := range steps {
		if s.Action == nil {
			return nil, fmt.Errorf("step %d (%s): missing action", i, s.Name)
		}
	}
	p := &Pipeline{
		steps:        steps,
		open:         open,
		ch:           ch,
		logger:       zap.NewNop(),
		ctl:          &Control{},
		restartGrace: DefaultRestartGrace,
		exits:        make(chan exit, 8),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, control.NewCore(ch, zapcore.InfoLevel))
	}))
	return p, nil
}

// Steps describes the pipeline for display.
func (p *Pipeline) Steps() []StepInfo {
	out := make([]StepInfo, len(p.steps))
	for i, s := range p.steps {
		out[i] = StepInfo{Ordinal: i, Name: s.Name, Precondition: s.Precondition}
	}
	return out
}

// Snapshot returns the current status.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Snapshot{Status: p.status, Ordinal: p.ordinal, Steps: len(p.steps)}
	if p.ordinal >= 0 && p.ordinal < len(p.steps) {
		s.Step = p.steps[p.ordinal].Name
	}
	if p.run != nil {
		s.RunID = p.run.ID
	}
	if p.lastErr != nil {
		s.Error = p.lastErr.Error()
	}
	return s
}

// Status returns the state machine position.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Pipeline) setStatus(s Status, ordinal int) {
	p.mu.Lock()
	p.status = s
	p.ordinal = ordinal
	p.mu.Unlock()
	p.ch.Status(ordinal, s.String())
}

func (p *Pipeline) currentRun() *Run {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.run
}

// Run consumes operator signals until ctx is done or the channel is
// closed, then tears down the active session.
func (p *Pipeline) Run(ctx context.Context) error {
	p.baseCtx = ctx
	signals := p.ch.Signals()
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case sig, ok := <-signals:
			if !ok {
				p.shutdown()
				return nil
			}
			p.handle(sig)
		case e := <-p.exits:
			p.finish(e)
		}
	}
}

func (p *Pipeline) handle(sig control.Signal) {
	p.logger.Debug("Control signal", zap.Stringer("signal", sig.Kind), zap.Int("from", sig.From))
	switch sig.Kind {
	case control.SignalStart:
		if err := p.start(sig.From); err != nil {
			p.logger.Warn("Start refused", zap.Error(err))
		}
	case control.SignalPause:
		p.pause()
	case control.SignalResume:
		p.resume()
	case control.SignalRestart:
		p.restart()
	case control.SignalSkip:
		p.skip()
	}
}

func (p *Pipeline) start(from int) error {
	if from < 0 || from >= len(p.steps) {
		return fmt.Errorf("%w: %d (have %d steps)", ErrInvalidOrdinal, from, len(p.steps))
	}
	switch p.Status() {
	case StatusRunning:
		return fmt.Errorf("%w: pause or restart before starting from another step", ErrAlreadyRunning)
	case StatusPaused:
		p.teardown()
	}

	run := newRun(uuid.NewString(), p.ctl, p.ch, p.logger)
	p.mu.Lock()
	p.run = run
	p.lastErr = nil
	p.mu.Unlock()

	if from > 0 {
		p.logger.Warn(fmt.Sprintf("Starting at step %d without replaying steps 1-%d: side effects such as signing in are skipped; the browser must already satisfy them",
			from+1, from), zap.String("run_id", run.ID))
	}
	p.launch(run, from, from > 0)
	return nil
}

func (p *Pipeline) launch(run *Run, from int, synthetic bool) {
	p.ctl.clearSkip()
	p.ctl.setRunning(true)
	p.setStatus(StatusRunning, from)

	done := make(chan struct{})
	p.workerDone = done
	go p.work(p.baseCtx, p.gen.Load(), run, from, synthetic, done)
}

func (p *Pipeline) pause() {
	if p.Status() != StatusRunning || !p.ctl.Running() {
		p.logger.Info("Nothing to pause")
		return
	}
	p.ctl.setRunning(false)
	p.logger.Info("Pause requested, stopping at the next checkpoint")
}

func (p *Pipeline) resume() {
	switch {
	case p.Status() == StatusPaused:
		p.mu.RLock()
		run, ordinal := p.run, p.ordinal
		p.mu.RUnlock()
		p.logger.Info(fmt.Sprintf("Resuming at step %d", ordinal+1))
		p.launch(run, ordinal, false)
	case p.Status() == StatusRunning && !p.ctl.Running():
		p.ctl.setRunning(true)
		p.logger.Info("Pause cancelled")
	default:
		p.logger.Info("Nothing to resume")
	}
}

func (p *Pipeline) skip() {
	if p.Status() != StatusRunning {
		p.logger.Info("Nothing to skip")
		return
	}
	p.ctl.RequestSkip()
	p.logger.Info("Skipping current action")
}

func (p *Pipeline) restart() {
	p.logger.Info("Restarting pipeline")
	p.ctl.setRunning(false)
	p.gen.Add(1)
	p.teardown()
	p.waitWorker()

	p.ch.ClearHistory()
	p.setStatus(StatusIdle, 0)
	if err := p.start(0); err != nil {
		p.logger.Error("Restart failed", zap.Error(err))
	}
}

func (p *Pipeline) shutdown() {
	p.ctl.setRunning(false)
	p.gen.Add(1)
	p.teardown()
	p.waitWorker()
}

// teardown quits the current run's session, ignoring errors: a half-dead
// browser must never block a restart.
func (p *Pipeline) teardown() {
	run := p.currentRun()
	if run == nil {
		return
	}
	if err := run.teardown(); err != nil {
		p.logger.Debug("Ignoring session teardown error", zap.Error(err))
	}
}

func (p *Pipeline) waitWorker() {
	if p.workerDone == nil {
		return
	}
	select {
	case <-p.workerDone:
	case <-time.After(p.restartGrace):
		p.logger.Warn("Previous worker still busy, continuing without it", zap.Duration("grace", p.restartGrace))
	}
	p.workerDone = nil
}

func (p *Pipeline) finish(e exit) {
	if e.gen != p.gen.Load() {
		return
	}
	p.workerDone = nil

	switch {
	case e.paused:
		p.logger.Info(fmt.Sprintf("Paused at step %d", e.ordinal+1))
		p.setStatus(StatusPaused, e.ordinal)
	case e.err != nil:
		msg := "Step failed"
		if errors.Is(e.err, driver.ErrSessionLost) {
			msg = "Browser session lost"
		}
		p.logger.Error(msg, zap.Int("ordinal", e.ordinal), zap.Error(e.err))
		p.mu.Lock()
		p.lastErr = e.err
		p.mu.Unlock()
		p.setStatus(StatusFailed, e.ordinal)
		p.teardown()
	case e.finished:
		p.logger.Info("All steps finished")
		p.setStatus(StatusFinished, e.ordinal)
		p.teardown()
	}
}

func (p *Pipeline) work(ctx context.Context, gen uint64, run *Run, from int, synthetic bool, done chan struct{}) {
	defer close(done)
	e := exit{gen: gen, ordinal: from}
	defer func() { p.exits <- e }()

	if !run.hasSession() {
		d, err := p.open(ctx)
		if err != nil {
			e.err = fmt.Errorf("open browser: %w", err)
			return
		}
		run.attach(driver.NewHandle(d))
	}

	for i := from; i < len(p.steps); i++ {
		e.ordinal = i
		if p.gen.Load() != gen {
			return
		}
		if !p.ctl.Running() {
			e.paused = true
			return
		}

		step := p.steps[i]
		p.ctl.clearSkip()
		run.setOrdinal(i)
		p.mu.Lock()
		p.ordinal = i
		p.mu.Unlock()
		p.ch.Status(i, fmt.Sprintf("Step %d: %s", i+1, step.Name))
		run.Logger().Debug("Step started", zap.Int("ordinal", i), zap.String("step", step.Name))

		if synthetic && i == from && step.Precondition != nil {
			if err := step.Precondition.Establish(ctx, run.Session()); err != nil {
				e.err = err
				return
			}
		}

		err := step.Action(ctx, run)
		if errors.Is(err, ErrInterrupted) {
			e.paused = true
			return
		}
		if err != nil {
			e.err = fmt.Errorf("step %d (%s): %w", i+1, step.Name, err)
			return
		}
		run.clearCursor(i)
	}
	e.finished = true
}
