package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"applyflow/internal/control"
	"applyflow/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePipeline struct {
	mu   sync.Mutex
	snap pipeline.Snapshot
}

func (f *fakePipeline) set(s pipeline.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

func (f *fakePipeline) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakePipeline) Status() pipeline.Status {
	return f.Snapshot().Status
}

func pending(ch *control.Channel) []control.Signal {
	var out []control.Signal
	for {
		select {
		case sig := <-ch.Signals():
			out = append(out, sig)
		default:
			return out
		}
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every morning", &fakePipeline{}, control.New(), nil)
	assert.ErrorContains(t, err, `schedule "every morning"`)

	// Five-field expressions lack the seconds field.
	_, err = NewScheduler("0 9 * * *", &fakePipeline{}, control.New(), nil)
	assert.Error(t, err)
}

func TestSchedulerTriggerOnlyStartsStoppedPipeline(t *testing.T) {
	p := &fakePipeline{}
	ch := control.New()
	defer ch.Close()
	s, err := NewScheduler("0 0 9 * * MON-FRI", p, ch, zaptest.NewLogger(t))
	require.NoError(t, err)

	for status, starts := range map[pipeline.Status]bool{
		pipeline.StatusIdle:     true,
		pipeline.StatusFinished: true,
		pipeline.StatusFailed:   true,
		pipeline.StatusRunning:  false,
		pipeline.StatusPaused:   false,
	} {
		p.set(pipeline.Snapshot{Status: status})
		s.trigger()
		sigs := pending(ch)
		if starts {
			assert.Equal(t, []control.Signal{{Kind: control.SignalStart, From: 0}}, sigs, status.String())
		} else {
			assert.Empty(t, sigs, status.String())
		}
	}
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	p := &fakePipeline{}
	ch := control.New()
	defer ch.Close()
	s, err := NewScheduler("* * * * * *", p, ch, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case sig := <-ch.Signals():
		assert.Equal(t, control.SignalStart, sig.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled start not sent")
	}
	assert.False(t, s.Next().IsZero())

	cancel()
	assert.NoError(t, <-done)
}

func TestHeartbeatPublishesStatus(t *testing.T) {
	p := &fakePipeline{}
	p.set(pipeline.Snapshot{Status: pipeline.StatusPaused, Ordinal: 3, Step: "Search for role"})
	ch := control.New()
	defer ch.Close()
	msgs, unsubscribe := ch.Subscribe(false)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewHeartbeat(p, ch, 5*time.Millisecond, zaptest.NewLogger(t)).Run(ctx) }()

	select {
	case m := <-msgs:
		assert.Equal(t, control.LevelStatus, m.Level)
		assert.Equal(t, "Pipeline paused at step 4 (Search for role)", m.Text)
		require.NotNil(t, m.Ordinal)
		assert.Equal(t, 3, *m.Ordinal)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestHeartbeatDisabled(t *testing.T) {
	assert.NoError(t, NewHeartbeat(&fakePipeline{}, control.New(), 0, nil).Run(context.Background()))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Pipeline idle", describe(pipeline.Snapshot{}))
	assert.Equal(t, "Pipeline finished", describe(pipeline.Snapshot{Status: pipeline.StatusFinished, Ordinal: 5}))
	assert.Equal(t, "Pipeline failed at step 2 (Sign in): browser session lost",
		describe(pipeline.Snapshot{Status: pipeline.StatusFailed, Ordinal: 1, Step: "Sign in", Error: "browser session lost"}))
	assert.Equal(t, "Pipeline running at step 6 (Process job listings)",
		describe(pipeline.Snapshot{Status: pipeline.StatusRunning, Ordinal: 5, Step: "Process job listings"}))
}
