package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"applyflow/internal/recorder"
	"applyflow/pkg/response"
)

type StartRecordingRequest struct {
	URL string `json:"url" binding:"omitempty,url"`
}

type RecordingStatus struct {
	ID        string                  `json:"id"`
	TargetURL string                  `json:"target_url"`
	StartedAt time.Time               `json:"started_at"`
	Recording bool                    `json:"recording"`
	Records   []recorder.ActionRecord `json:"records"`
}

func status(s *recorder.Session) RecordingStatus {
	records := s.Records()
	if records == nil {
		records = make([]recorder.ActionRecord, 0)
	}
	return RecordingStatus{
		ID:        s.ID,
		TargetURL: s.TargetURL,
		StartedAt: s.StartedAt,
		Recording: s.Recording(),
		Records:   records,
	}
}

func (h *Handler) session(c *gin.Context) (*recorder.Session, bool) {
	if h.recordings == nil {
		response.ServiceUnavailable(c, "Recording is not enabled")
		return nil, false
	}
	s, err := h.recordings.Get(c.Param("id"))
	if err != nil {
		response.NotFound(c, "Recording session not found")
		return nil, false
	}
	return s, true
}

func (h *Handler) StartRecording(c *gin.Context) {
	if h.recordings == nil {
		response.ServiceUnavailable(c, "Recording is not enabled")
		return
	}
	var req StartRecordingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.URL == "" {
		req.URL = h.recordURL
	}

	s, err := h.recordings.Start(c.Request.Context(), req.URL)
	if errors.Is(err, recorder.ErrSessionExists) {
		response.Conflict(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Recording failed to start", zap.Error(err))
		response.InternalServerError(c, "Could not start recording: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "Recording started", status(s))
}

func (h *Handler) GetRecording(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, status(s))
}

func (h *Handler) StopRecording(c *gin.Context) {
	if h.recordings == nil {
		response.ServiceUnavailable(c, "Recording is not enabled")
		return
	}
	s, err := h.recordings.Stop(c.Param("id"))
	if err != nil {
		response.NotFound(c, "Recording session not found")
		return
	}
	response.SuccessWithMessage(c, "Recording stopped", status(s))
}

// RecordingWebSocket sends the actions recorded so far, then streams new ones
// as the recorder flushes them.
func (h *Handler) RecordingWebSocket(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	records, cancel := s.Subscribe()
	defer cancel()
	stream(conn, s.Records(), records, recorder.ActionRecord.Key)
}
