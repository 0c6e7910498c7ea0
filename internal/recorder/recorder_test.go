package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"applyflow/internal/driver/drivertest"
	"applyflow/internal/selector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// page simulates window.applyflowActions.
type page struct {
	mu       sync.Mutex
	buffer   []any
	injected []string
	failRead error
}

func (p *page) set(actions ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = actions
}

func (p *page) script(src string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if src == bufferExpr {
		if p.failRead != nil {
			return nil, p.failRead
		}
		return append([]any(nil), p.buffer...), nil
	}
	p.injected = append(p.injected, src)
	return nil, nil
}

func click(ts float64, text string) map[string]any {
	return map[string]any{
		"type":      "click",
		"timestamp": ts,
		"selector":  map[string]any{"type": "id", "value": "apply"},
		"tagName":   "BUTTON",
		"text":      text,
		"url":       "https://www.linkedin.com/jobs/",
		"position":  map[string]any{"x": 10.0, "y": 20.0},
	}
}

func setup(t *testing.T) (*drivertest.Driver, *page, string) {
	t.Helper()
	fake := drivertest.New()
	p := &page{}
	fake.OnScript(p.script)
	return fake, p, filepath.Join(t.TempDir(), "actions.json")
}

func readLog(t *testing.T, path string) []ActionRecord {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []ActionRecord
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestFlushDeduplicatesByTimestampAndKind(t *testing.T) {
	fake, p, path := setup(t)
	p.set(click(100, "first"), click(100, "second"), click(200, "third"))

	r := New(fake, path, WithLogger(zaptest.NewLogger(t)))
	require.True(t, r.Flush(context.Background()))

	got := readLog(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, int64(200), got[1].Timestamp)
	assert.Equal(t, &selector.Descriptor{Kind: selector.KindID, Value: "apply"}, got[0].Selector)
	assert.Equal(t, &Position{X: 10, Y: 20}, got[0].Position)
}

func TestFlushKeepsDifferentKindsAtSameTimestamp(t *testing.T) {
	fake, p, path := setup(t)
	p.set(
		click(100, "go"),
		map[string]any{"type": "input", "timestamp": 100.0, "value": "Desenvolvedor", "selector": map[string]any{"type": "xpath", "value": "BODY/INPUT[1]"}},
		map[string]any{"type": "navigation", "timestamp": 100.0, "from": "https://a", "to": "https://b"},
	)

	r := New(fake, path)
	require.True(t, r.Flush(context.Background()))

	got := readLog(t, path)
	require.Len(t, got, 3)
	assert.Equal(t, "Desenvolvedor", got[1].Payload())
	assert.Nil(t, got[2].Selector)
	assert.Equal(t, "https://a -> https://b", got[2].Payload())
}

func TestFlushMergesAcrossBufferResets(t *testing.T) {
	fake, p, path := setup(t)
	r := New(fake, path)

	p.set(click(100, "a"))
	require.True(t, r.Flush(context.Background()))

	// A full page load starts a new buffer.
	p.set(click(300, "b"))
	require.True(t, r.Flush(context.Background()))

	got := readLog(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	assert.Len(t, r.Records(), 2)
}

func TestFlushOutputIsPrettyUTF8(t *testing.T) {
	fake, p, path := setup(t)
	p.set(click(100, "Candidatura simplificada <ação>"))

	require.True(t, New(fake, path).Flush(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(b)
	assert.True(t, strings.HasPrefix(s, "[\n    {\n"))
	assert.Contains(t, s, "Candidatura simplificada <ação>")
}

func TestFlushNeverFails(t *testing.T) {
	t.Run("empty buffer writes nothing", func(t *testing.T) {
		fake, _, path := setup(t)
		assert.False(t, New(fake, path).Flush(context.Background()))
		assert.NoFileExists(t, path)
	})

	t.Run("read failure", func(t *testing.T) {
		fake, p, path := setup(t)
		p.failRead = errors.New("javascript error")
		assert.False(t, New(fake, path).Flush(context.Background()))
		assert.NoFileExists(t, path)
	})

	t.Run("write failure", func(t *testing.T) {
		fake, p, path := setup(t)
		p.set(click(1, "x"))
		bad := filepath.Join(filepath.Dir(path), "missing", "actions.json")
		assert.False(t, New(fake, bad).Flush(context.Background()))
	})

	t.Run("malformed buffer", func(t *testing.T) {
		fake, p, path := setup(t)
		p.set("not an action")
		assert.False(t, New(fake, path).Flush(context.Background()))
	})
}

func TestStartInjectsObservers(t *testing.T) {
	fake, p, path := setup(t)
	r := New(fake, path, WithResolver(selector.NewResolver("custom-")))
	require.NoError(t, r.Start(context.Background()))

	require.Len(t, p.injected, 1)
	assert.Contains(t, p.injected[0], "window.applyflowActions")
	assert.Contains(t, p.injected[0], `["custom-"]`)
	assert.Contains(t, p.injected[0], "MutationObserver")
}

func TestRunContinuousStopsWhenSessionEnds(t *testing.T) {
	fake, p, path := setup(t)
	p.set(click(100, "a"))

	var hooked []ActionRecord
	var mu sync.Mutex
	r := New(fake, path,
		WithIntervals(5*time.Millisecond, 20*time.Millisecond),
		WithRecordHook(func(a ActionRecord) {
			mu.Lock()
			defer mu.Unlock()
			hooked = append(hooked, a)
		}),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunContinuous(context.Background())
	}()

	require.Eventually(t, func() bool { return len(r.Records()) == 1 }, time.Second, 5*time.Millisecond)
	fake.Kill()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunContinuous did not return after the session ended")
	}
	assert.Len(t, readLog(t, path), 1)
	mu.Lock()
	assert.Len(t, hooked, 1)
	mu.Unlock()
}

func TestRunContinuousFinalFlushOnCancel(t *testing.T) {
	fake, p, path := setup(t)
	r := New(fake, path, WithIntervals(5*time.Millisecond, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunContinuous(ctx)
	}()

	p.set(click(100, "late"))
	cancel()
	<-done

	got := readLog(t, path)
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Text)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actions.json")
	assert.False(t, Exists(path))
	assert.False(t, Exists(dir))
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	assert.True(t, Exists(path))
}
