// Package control relays operator signals to the pipeline worker and
// status/log messages back to whoever is watching.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrChannelFull = errors.New("control channel full")
	ErrClosed      = errors.New("control channel closed")
)

// Level classifies a message for display.
type Level string

const (
	LevelStatus Level = "status"
	LevelLog    Level = "log"
)

// Message is a display event. Ordinal is set on status messages that refer
// to a pipeline step.
type Message struct {
	Level   Level     `json:"level"`
	Text    string    `json:"text"`
	Ordinal *int      `json:"ordinal,omitempty"`
	Time    time.Time `json:"time"`
}

// SignalKind enumerates operator controls.
type SignalKind int

const (
	SignalStart SignalKind = iota
	SignalPause
	SignalResume
	SignalRestart
	SignalSkip
)

func (k SignalKind) String() string {
	switch k {
	case SignalStart:
		return "start"
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalRestart:
		return "restart"
	case SignalSkip:
		return "skip"
	}
	return fmt.Sprintf("signal(%d)", int(k))
}

// Signal is an operator control. From is the start ordinal for SignalStart.
type Signal struct {
	Kind SignalKind
	From int
}

const (
	defaultSignalBuffer  = 16
	defaultHistoryLimit  = 500
	defaultSubscriberBuf = 64
)

// Channel is safe for concurrent use. Signals flow to a single consumer;
// messages fan out to any number of subscribers and are kept in a bounded
// history for late joiners.
type Channel struct {
	signals chan Signal

	mu           sync.Mutex
	subs         map[uint64]chan Message
	nextID       uint64
	history      []Message
	historyLimit int
	closed       bool
	now          func() time.Time
}

type Option func(*Channel)

// WithHistoryLimit bounds how many messages are replayed to new subscribers.
func WithHistoryLimit(n int) Option {
	return func(c *Channel) { c.historyLimit = n }
}

// WithSignalBuffer sets how many signals may be queued before Send fails.
func WithSignalBuffer(n int) Option {
	return func(c *Channel) { c.signals = make(chan Signal, n) }
}

func New(opts ...Option) *Channel {
	c := &Channel{
		signals:      make(chan Signal, defaultSignalBuffer),
		subs:         make(map[uint64]chan Message),
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send enqueues a signal without blocking.
func (c *Channel) Send(sig Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.signals <- sig:
		return nil
	default:
		return fmt.Errorf("%s: %w", sig.Kind, ErrChannelFull)
	}
}

// Signals is the consumer side. It is closed by Close.
func (c *Channel) Signals() <-chan Signal {
	return c.signals
}

func (c *Channel) Start(from int) error     { return c.Send(Signal{Kind: SignalStart, From: from}) }
func (c *Channel) Pause() error             { return c.Send(Signal{Kind: SignalPause}) }
func (c *Channel) Resume() error            { return c.Send(Signal{Kind: SignalResume}) }
func (c *Channel) Restart() error           { return c.Send(Signal{Kind: SignalRestart}) }
func (c *Channel) SkipCurrentAction() error { return c.Send(Signal{Kind: SignalSkip}) }

// Publish stamps m and delivers it to every subscriber. Subscribers that are
// not keeping up miss the message but can recover it from History.
func (c *Channel) Publish(m Message) {
	if m.Time.IsZero() {
		m.Time = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.history = append(c.history, m)
	if over := len(c.history) - c.historyLimit; c.historyLimit > 0 && over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
	for _, ch := range c.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Status publishes a status line tied to a step ordinal. A negative ordinal
// means the status is not about a particular step.
func (c *Channel) Status(ordinal int, text string) {
	m := Message{Level: LevelStatus, Text: text}
	if ordinal >= 0 {
		m.Ordinal = &ordinal
	}
	c.Publish(m)
}

// Log publishes a log line.
func (c *Channel) Log(text string) {
	c.Publish(Message{Level: LevelLog, Text: text})
}

func (c *Channel) Logf(format string, args ...any) {
	c.Log(fmt.Sprintf(format, args...))
}

// Subscribe returns a stream of messages published from now on, plus a
// cancel func that closes it. Pass replay to receive the history first.
func (c *Channel) Subscribe(replay bool) (<-chan Message, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := defaultSubscriberBuf
	if replay && len(c.history) > size {
		size = len(c.history) + defaultSubscriberBuf
	}
	ch := make(chan Message, size)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	if replay {
		for _, m := range c.history {
			ch <- m
		}
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// History returns a copy of the retained messages, oldest first.
func (c *Channel) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// ClearHistory drops retained messages.
func (c *Channel) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Close stops signal delivery and closes every subscriber stream.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.signals)
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
