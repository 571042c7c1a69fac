package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chatstream/internal/chat"
	"github.com/suPer8Hu/chatstream/internal/common"
)

// user_id in the body is accepted for compatibility and ignored; the owner is
// always the authenticated caller.
type streamReq struct {
	ConvID string `json:"conv_id" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
	UserID string `json:"user_id"`
}

// ChatStream answers POST /chat/stream with an event stream of reply chunks.
// Validation and ownership failures are reported as JSON before the stream
// starts; everything after that is reported in-band.
func (h *Handler) ChatStream(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "conv_id and prompt required")
		return
	}

	ctx := c.Request.Context()
	log := h.logger(c).With(zap.String("conversation_id", req.ConvID), zap.String("user_id", uid))

	// the request's connection is released inside BeginTurn, before upstream opens
	turn, err := h.Chat.BeginTurn(ctx, uid, req.ConvID, req.Prompt)
	if err != nil {
		h.failChat(c, "begin turn", err)
		return
	}

	sw, err := newSSEWriter(c.Writer)
	if err != nil {
		log.Error("stream unsupported", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50004, "streaming not supported")
		return
	}
	sw.writeHeaders()

	var onPing func()
	if h.Metrics != nil {
		onPing = h.Metrics.KeepAlive
	}
	stop := sw.keepAlive(h.KeepAlive, onPing)
	defer stop()

	provider, err := h.Chat.Provider(ctx)
	if err != nil {
		log.Error("resolve provider failed", zap.Error(err))
		_ = sw.WriteError(err.Error())
		_ = sw.WriteDone()
		return
	}

	res := h.Engine.Run(ctx, chat.StreamRequest{
		ConversationID: turn.Conversation.ID,
		Messages:       turn.History,
		Provider:       provider,
	}, sw)

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("chunks", res.Chunks),
		zap.Bool("fallback", res.Fallback),
		zap.Bool("disconnected", res.Disconnected),
		zap.String("message_id", res.MessageID),
	}
	if res.Err != nil {
		log.Warn("stream finished with error", append(fields, zap.Error(res.Err))...)
		return
	}
	log.Info("stream finished", fields...)
}
