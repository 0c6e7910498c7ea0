package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"applyflow/internal/workflow"
	"applyflow/pkg/response"
)

type StartRequest struct {
	// From is an index into the operator step list, not a pipeline ordinal.
	From int `json:"from"`
}

func (h *Handler) GetStatus(c *gin.Context) {
	response.Success(c, h.pipeline.Snapshot())
}

func (h *Handler) GetSteps(c *gin.Context) {
	response.Success(c, gin.H{
		"entry_points": workflow.EntryPoints(),
		"steps":        h.pipeline.Steps(),
	})
}

func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	ordinal, err := workflow.OrdinalFor(req.From)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.signal(c, h.channel.Start(ordinal), "Start requested")
}

func (h *Handler) Pause(c *gin.Context) {
	h.signal(c, h.channel.Pause(), "Pause requested")
}

func (h *Handler) Resume(c *gin.Context) {
	h.signal(c, h.channel.Resume(), "Resume requested")
}

func (h *Handler) Restart(c *gin.Context) {
	h.signal(c, h.channel.Restart(), "Restart requested")
}

func (h *Handler) Skip(c *gin.Context) {
	h.signal(c, h.channel.SkipCurrentAction(), "Skip requested")
}

func (h *Handler) GetHistory(c *gin.Context) {
	response.Success(c, h.channel.History())
}

// MessagesWebSocket streams status and log messages, starting with the
// retained history.
func (h *Handler) MessagesWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	messages, cancel := h.channel.Subscribe(true)
	defer cancel()
	stream(conn, nil, messages, nil)
}
