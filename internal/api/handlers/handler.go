// Package handlers implements the operator API: pipeline controls, the live
// message stream and learning-mode recording sessions.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"applyflow/internal/control"
	"applyflow/internal/pipeline"
	"applyflow/internal/recorder"
	"applyflow/pkg/auth"
	"applyflow/pkg/response"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Pipeline is the read side of the pipeline. Controls go through the
// channel.
type Pipeline interface {
	Snapshot() pipeline.Snapshot
	Steps() []pipeline.StepInfo
}

// Recordings manages learning sessions.
type Recordings interface {
	Start(ctx context.Context, targetURL string) (*recorder.Session, error)
	Get(id string) (*recorder.Session, error)
	Stop(id string) (*recorder.Session, error)
}

type Handler struct {
	pipeline   Pipeline
	channel    *control.Channel
	recordings Recordings
	auth       *auth.Authenticator
	recordURL  string
	logger     *zap.Logger
}

type Option func(*Handler)

// WithRecordings enables the recording endpoints. recordURL is opened when a
// request names no URL.
func WithRecordings(r Recordings, recordURL string) Option {
	return func(h *Handler) {
		h.recordings = r
		h.recordURL = recordURL
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func New(p Pipeline, ch *control.Channel, a *auth.Authenticator, opts ...Option) *Handler {
	h := &Handler{
		pipeline: p,
		channel:  ch,
		auth:     a,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":   "healthy",
		"pipeline": h.pipeline.Snapshot().Status,
	})
}

// signal maps a channel send error to a response.
func (h *Handler) signal(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, control.ErrChannelFull):
		response.ServiceUnavailable(c, "Too many pending controls, try again")
	case errors.Is(err, control.ErrClosed):
		response.ServiceUnavailable(c, "Pipeline is shutting down")
	case err != nil:
		h.logger.Error("Control signal failed", zap.Error(err))
		response.InternalServerError(c, "Control signal failed")
	default:
		response.Accepted(c, message)
	}
}

// stream writes backlog and then events to conn as JSON until events is
// closed or the peer goes away. When key is set, events already written are
// not repeated.
func stream[T any](conn *websocket.Conn, backlog []T, events <-chan T, key func(T) string) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := make(map[string]struct{})
	write := func(ev T) error {
		if key != nil {
			k := key(ev)
			if _, dup := sent[k]; dup {
				return nil
			}
			sent[k] = struct{}{}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}

	for _, ev := range backlog {
		if err := write(ev); err != nil {
			return
		}
	}
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := write(ev); err != nil {
				return
			}
		}
	}
}
