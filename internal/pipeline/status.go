package pipeline

import (
	"fmt"
	"sync/atomic"
)

// Status is the pipeline state machine position.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusFinished
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Control holds the two flags shared between the supervisor and the worker.
// The supervisor only sets them; the worker reads them at checkpoints.
type Control struct {
	running atomic.Bool
	skip    atomic.Bool
}

// Running reports whether the worker should keep going past the next
// checkpoint.
func (c *Control) Running() bool {
	return c.running.Load()
}

func (c *Control) setRunning(v bool) {
	c.running.Store(v)
}

// RequestSkip asks the current step to abandon its in-progress action.
func (c *Control) RequestSkip() {
	c.skip.Store(true)
}

// TakeSkip reports whether a skip was requested and clears the request.
func (c *Control) TakeSkip() bool {
	return c.skip.CompareAndSwap(true, false)
}

// SkipPending reports a pending skip without consuming it.
func (c *Control) SkipPending() bool {
	return c.skip.Load()
}

func (c *Control) clearSkip() {
	c.skip.Store(false)
}
