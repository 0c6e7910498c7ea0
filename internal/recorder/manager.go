package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"applyflow/internal/driver"
)

var (
	ErrSessionNotFound = errors.New("recording session not found")
	ErrSessionExists   = errors.New("a recording session is already running")
)

// SessionFactory opens a new browser session.
type SessionFactory func(ctx context.Context) (driver.Driver, error)

// Session is one learning run: a browser the operator drives by hand while
// its actions are recorded.
type Session struct {
	ID        string    `json:"id"`
	TargetURL string    `json:"target_url"`
	StartedAt time.Time `json:"started_at"`

	rec    *Recorder
	handle *driver.Handle
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	subs  map[int]chan ActionRecord
	next  int
	ended bool
}

// Recording reports whether the session is still running.
func (s *Session) Recording() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed once the session has made its final flush.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Records returns the actions recorded so far.
func (s *Session) Records() []ActionRecord {
	return s.rec.Records()
}

// Subscribe streams records as they are flushed. The stream is closed when
// the session ends or cancel is called.
func (s *Session) Subscribe() (<-chan ActionRecord, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan ActionRecord, 64)
	if s.ended {
		close(ch)
		return ch, func() {}
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Session) broadcast(a ActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- a:
		default:
		}
	}
}

func (s *Session) closeSubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Manager tracks learning sessions by ID. Only one may run at a time since
// each drives its own browser against the same account.
type Manager struct {
	open     SessionFactory
	path     string
	opts     []Option
	logger   *zap.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(open SessionFactory, path string, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		open:     open,
		path:     path,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start opens a browser at targetURL, installs the recorder and runs it in
// the background until the browser is closed or Stop is called.
func (m *Manager) Start(ctx context.Context, targetURL string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Recording() {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
		}
	}

	d, err := m.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	h := driver.NewHandle(d)
	if err := h.Navigate(ctx, targetURL); err != nil {
		_ = h.Quit()
		return nil, fmt.Errorf("open %s: %w", targetURL, err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		TargetURL: targetURL,
		StartedAt: time.Now(),
		handle:    h,
		done:      make(chan struct{}),
		subs:      make(map[int]chan ActionRecord),
	}
	log := m.logger.With(zap.String("session_id", s.ID))
	opts := append(append([]Option(nil), m.opts...), WithLogger(log), WithRecordHook(s.broadcast))
	s.rec = New(h, m.path, opts...)
	if err := s.rec.Start(ctx); err != nil {
		_ = h.Quit()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		defer s.closeSubs()
		s.rec.RunContinuous(runCtx)
		_ = h.Quit()
	}()

	m.sessions[s.ID] = s
	log.Info("Recording session started", zap.String("url", targetURL))
	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Stop ends the session, waits for its final flush and forgets it.
func (m *Manager) Stop(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.cancel()
	<-s.done
	m.logger.Info("Recording session stopped", zap.String("session_id", id), zap.Int("records", len(s.Records())))
	return s, nil
}

// StopAll ends every session. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_, _ = m.Stop(id)
	}
}
