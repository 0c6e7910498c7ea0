package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"applyflow/internal/driver"
	"applyflow/internal/driver/drivertest"
)

func TestManagerLifecycle(t *testing.T) {
	fake := drivertest.New()
	p := &page{}
	fake.OnScript(p.script)
	path := filepath.Join(t.TempDir(), "actions.json")

	m := NewManager(func(ctx context.Context) (driver.Driver, error) { return fake, nil },
		path, zaptest.NewLogger(t), WithIntervals(5*time.Millisecond, 10*time.Millisecond))

	s, err := m.Start(context.Background(), "https://www.linkedin.com")
	require.NoError(t, err)
	assert.True(t, s.Recording())
	assert.Equal(t, []string{"https://www.linkedin.com"}, fake.Navigations())

	stream, cancel := s.Subscribe()
	defer cancel()

	_, err = m.Start(context.Background(), "https://www.linkedin.com")
	assert.ErrorIs(t, err, ErrSessionExists)

	p.set(click(100, "a"))
	select {
	case rec := <-stream:
		assert.Equal(t, "a", rec.Text)
	case <-time.After(time.Second):
		t.Fatal("no record streamed")
	}

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Stop(s.ID)
	require.NoError(t, err)
	assert.False(t, s.Recording())
	assert.Equal(t, 1, fake.Quits())
	assert.Len(t, s.Records(), 1)

	_, open := <-stream
	assert.False(t, open)

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Stop(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerStartFailures(t *testing.T) {
	m := NewManager(func(ctx context.Context) (driver.Driver, error) {
		return nil, errors.New("chrome not found")
	}, "unused.json", nil)
	_, err := m.Start(context.Background(), "https://example.com")
	assert.ErrorContains(t, err, "chrome not found")

	dead := drivertest.New()
	dead.Kill()
	m = NewManager(func(ctx context.Context) (driver.Driver, error) { return dead, nil }, "unused.json", nil)
	_, err = m.Start(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, driver.ErrSessionLost)
	assert.Equal(t, 1, dead.Quits())
}
