package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSignalsAreQueuedInOrder(t *testing.T) {
	c := New()
	require.NoError(t, c.Start(3))
	require.NoError(t, c.Pause())
	require.NoError(t, c.SkipCurrentAction())

	assert.Equal(t, Signal{Kind: SignalStart, From: 3}, <-c.Signals())
	assert.Equal(t, Signal{Kind: SignalPause}, <-c.Signals())
	assert.Equal(t, SignalSkip, (<-c.Signals()).Kind)
}

func TestSendDoesNotBlockWhenFull(t *testing.T) {
	c := New(WithSignalBuffer(1))
	require.NoError(t, c.Pause())
	assert.ErrorIs(t, c.Resume(), ErrChannelFull)

	c.Close()
	assert.ErrorIs(t, c.Restart(), ErrClosed)
}

func TestSubscribeReplaysHistory(t *testing.T) {
	c := New(WithHistoryLimit(2))
	c.Log("one")
	c.Log("two")
	c.Status(4, "three")

	msgs, cancel := c.Subscribe(true)
	defer cancel()

	first := <-msgs
	assert.Equal(t, "two", first.Text)
	assert.Equal(t, LevelLog, first.Level)
	assert.False(t, first.Time.IsZero())

	second := <-msgs
	assert.Equal(t, LevelStatus, second.Level)
	require.NotNil(t, second.Ordinal)
	assert.Equal(t, 4, *second.Ordinal)

	c.Logf("step %d", 5)
	assert.Equal(t, "step 5", (<-msgs).Text)
}

func TestCancelAndCloseEndStreams(t *testing.T) {
	c := New()
	a, cancelA := c.Subscribe(false)
	b, cancelB := c.Subscribe(false)
	defer cancelB()

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	c.Status(-1, "idle")
	m := <-b
	assert.Nil(t, m.Ordinal)

	c.Close()
	_, open = <-b
	assert.False(t, open)
	_, open = <-c.Signals()
	assert.False(t, open)
}

func TestClearHistory(t *testing.T) {
	c := New()
	c.Log("old")
	c.ClearHistory()
	assert.Empty(t, c.History())
}

func TestCorePublishesLogLines(t *testing.T) {
	c := New()
	logger := zap.New(NewCore(c, zapcore.InfoLevel))

	logger.Debug("hidden")
	logger.Info("Step started", zap.String("step", "login"))

	h := c.History()
	require.Len(t, h, 1)
	assert.Equal(t, LevelLog, h[0].Level)
	assert.Contains(t, h[0].Text, "Step started")
	assert.Contains(t, h[0].Text, "login")
}
