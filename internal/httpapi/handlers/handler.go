package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chatstream/internal/auth"
	"github.com/suPer8Hu/chatstream/internal/chat"
	"github.com/suPer8Hu/chatstream/internal/common"
	"github.com/suPer8Hu/chatstream/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatstream/internal/observability"
)

// JobPublisher hands a job id to whoever runs background jobs.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Auth    *auth.Service
	Chat    *chat.Service
	Engine  *chat.Engine
	Jobs    JobPublisher
	DB      Pinger
	Metrics *observability.Metrics
	Log     *zap.Logger

	// KeepAlive is the interval between SSE comment pings; 0 disables them.
	KeepAlive time.Duration
}

func (h *Handler) Ping(c *gin.Context) {
	status := gin.H{"pong": true}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			h.Log.Warn("db ping failed", zap.Error(err))
			common.Fail(c, http.StatusServiceUnavailable, 50301, "database unavailable")
			return
		}
	}
	common.OK(c, status)
}

func (h *Handler) currentUser(c *gin.Context) (string, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

func (h *Handler) logger(c *gin.Context) *zap.Logger {
	return h.Log.With(zap.String("request_id", middleware.GetRequestID(c)))
}
