package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chatstream/internal/chat"
	"github.com/suPer8Hu/chatstream/internal/common"
)

type conversationOut struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListConversations answers GET /chat?conversations=1 with a bare array.
func (h *Handler) ListConversations(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}
	if c.Query("conversations") != "1" {
		c.JSON(http.StatusOK, []conversationOut{})
		return
	}

	convs, err := h.Chat.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.logger(c).Error("list conversations failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list conversations")
		return
	}

	out := make([]conversationOut, 0, len(convs))
	for _, cv := range convs {
		out = append(out, conversationOut{ID: cv.ID, Title: cv.Title})
	}
	c.JSON(http.StatusOK, out)
}

// ListMessages answers with a bare array, empty when the conversation is
// missing or belongs to someone else.
func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), uid, c.Param("conversation_id"))
	if err != nil {
		h.logger(c).Error("list messages failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) GenerateTitle(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}

	conv, err := h.Chat.GenerateTitle(c.Request.Context(), uid, c.Param("conversation_id"))
	if err != nil {
		h.failChat(c, "generate title", err)
		return
	}
	common.OK(c, conversationOut{ID: conv.ID, Title: conv.Title})
}

func (h *Handler) GenerateTitleAsync(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	job, err := h.Chat.CreateTitleJob(ctx, uid, c.Param("conversation_id"))
	if err != nil {
		h.failChat(c, "create title job", err)
		return
	}

	if err := h.Jobs.PublishJob(ctx, job.ID); err != nil {
		h.logger(c).Error("publish job failed", zap.String("job_id", job.ID), zap.Error(err))
		if markErr := h.Chat.FailJob(context.WithoutCancel(ctx), job.ID, "enqueue failed"); markErr != nil {
			h.logger(c).Error("mark job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "enqueue failed")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "ok",
		"data":    gin.H{"job_id": job.ID},
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}

	job, err := h.Chat.GetJob(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.failChat(c, "get job", err)
		return
	}
	common.OK(c, gin.H{"job": job})
}

// failChat maps chat errors onto the response envelope.
func (h *Handler) failChat(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
	case errors.Is(err, chat.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
	case errors.Is(err, chat.ErrInvalidConversation),
		errors.Is(err, chat.ErrEmptyPrompt),
		errors.Is(err, chat.ErrInvalidRole):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, chat.ErrNothingToTitle):
		common.Fail(c, http.StatusConflict, 40902, "conversation has no messages yet")
	default:
		h.logger(c).Error(op+" failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
