package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/chatstream/internal/common"
	"github.com/suPer8Hu/chatstream/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatstream/internal/httpapi/middleware"
)

type RouterOptions struct {
	CORSOrigins []string
	// StreamLimiter throttles POST /chat/stream; nil disables it.
	StreamLimiter middleware.Limiter
	// Gatherer backs GET /metrics; nil hides the endpoint.
	Gatherer prometheus.Gatherer
}

func NewRouter(h *handlers.Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(h.Log, h.Metrics))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// auth
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/signin", h.Signin)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Auth))
	authGroup.GET("/auth/me", h.Me)
	authGroup.POST("/auth/signout", h.Signout)

	// chat (JWT required)
	authGroup.GET("/chat", h.ListConversations)
	authGroup.GET("/chat/:conversation_id/messages", h.ListMessages)
	authGroup.POST("/chat/:conversation_id/title", h.GenerateTitle)
	authGroup.POST("/chat/:conversation_id/title/async", h.GenerateTitleAsync)
	authGroup.GET("/chat/jobs/:job_id", h.GetJob)

	stream := []gin.HandlerFunc{}
	if opts.StreamLimiter != nil {
		stream = append(stream, middleware.RateLimit(opts.StreamLimiter, h.Log))
	}
	stream = append(stream, h.ChatStream)
	authGroup.POST("/chat/stream", stream...)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	switch {
	case len(origins) == 0:
		cfg.AllowOrigins = []string{"http://localhost:3000"}
	case len(origins) == 1 && origins[0] == "*":
		// credentials cannot be combined with a wildcard origin
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	default:
		cfg.AllowOrigins = origins
	}
	return cfg
}
