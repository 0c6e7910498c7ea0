package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"applyflow/internal/control"
	"applyflow/internal/driver"
)

// ErrInterrupted is returned by a step that stopped at a checkpoint because
// the pipeline was paused. The pipeline moves to Paused, not Failed.
var ErrInterrupted = errors.New("interrupted at checkpoint")

// Action is the body of a step.
type Action func(ctx context.Context, run *Run) error

// Precondition is the navigational state a step assumes on entry. Synthetic
// resume establishes it instead of replaying earlier steps.
type Precondition struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Establish navigates to the precondition URL.
func (p Precondition) Establish(ctx context.Context, d driver.Driver) error {
	if p.URL == "" {
		return nil
	}
	if err := d.Navigate(ctx, p.URL); err != nil {
		return fmt.Errorf("establish %q: %w", p.Name, err)
	}
	return nil
}

// Step is one named stage. Ordinals are assigned by position.
type Step struct {
	Name         string
	Precondition *Precondition
	Action       Action
}

// StepInfo describes a step for display.
type StepInfo struct {
	Ordinal      int           `json:"ordinal"`
	Name         string        `json:"name"`
	Precondition *Precondition `json:"precondition,omitempty"`
}

// Run is the per-run state a step works with. A fresh Run is built on every
// start and restart.
type Run struct {
	ID string

	ctl    *Control
	ch     *control.Channel
	logger *zap.Logger

	mu      sync.Mutex
	handle  *driver.Handle
	ordinal int
	cursors map[int]Cursor
}

// Cursor is the saved loop position of a step that iterates, so a resumed
// step can continue where it paused.
type Cursor struct {
	Page int `json:"page"`
	Item int `json:"item"`
}

func newRun(id string, ctl *Control, ch *control.Channel, logger *zap.Logger) *Run {
	return &Run{
		ID:      id,
		ctl:     ctl,
		ch:      ch,
		logger:  logger.With(zap.String("run_id", id)),
		cursors: make(map[int]Cursor),
	}
}

// Session returns the driver for this run. Calls fail with
// driver.ErrSessionLost once the run has been torn down.
func (r *Run) Session() driver.Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle == nil {
		return nil
	}
	return r.handle
}

func (r *Run) attach(h *driver.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle = h
}

func (r *Run) hasSession() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle != nil
}

// teardown quits the session. Errors are returned for logging only.
func (r *Run) teardown() error {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Quit()
}

// Logger returns the run logger. Info and above are also shown to the
// operator.
func (r *Run) Logger() *zap.Logger {
	return r.logger
}

// Running reports whether the pipeline has not been asked to pause.
func (r *Run) Running() bool {
	return r.ctl.Running()
}

// Checkpoint returns ErrInterrupted when a pause has been requested.
func (r *Run) Checkpoint() error {
	if !r.ctl.Running() {
		return ErrInterrupted
	}
	return nil
}

// SkipRequested consumes a pending skip request.
func (r *Run) SkipRequested() bool {
	return r.ctl.TakeSkip()
}

// Status publishes a status line for the current step.
func (r *Run) Status(text string) {
	r.ch.Status(r.Ordinal(), text)
}

// Ordinal returns the step being executed.
func (r *Run) Ordinal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordinal
}

func (r *Run) setOrdinal(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ordinal = i
}

// Cursor returns the saved loop position of the current step.
func (r *Run) Cursor() Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[r.ordinal]
}

// SetCursor saves the loop position of the current step.
func (r *Run) SetCursor(c Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[r.ordinal] = c
}

func (r *Run) clearCursor(ordinal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, ordinal)
}

// Pause stops the run at the next checkpoint, as if the operator had asked
// for it. Steps use it when they need a human to act in the browser.
func (r *Run) Pause() {
	r.ctl.setRunning(false)
}
