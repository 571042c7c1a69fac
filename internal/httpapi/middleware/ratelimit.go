package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suPer8Hu/chatstream/internal/common"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WindowCounter is the shape of the Redis fixed-window counter.
type WindowCounter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SharedLimiter enforces the limit across processes through a shared counter.
type SharedLimiter struct {
	Counter WindowCounter
	Limit   int
	Window  time.Duration
}

func (l SharedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.Counter.Allow(ctx, key, l.Limit, l.Window)
}

// LocalLimiter keeps one token bucket per key in memory. Buckets idle for
// longer than ttl are swept on access.
type LocalLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	ttl     time.Duration
	buckets map[string]*localBucket
	swept   time.Time
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocalLimiter allows perMinute requests per key per minute, in bursts of
// up to perMinute.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &LocalLimiter{
		every:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		ttl:     10 * time.Minute,
		buckets: make(map[string]*localBucket),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b := l.buckets[key]
	if b == nil {
		b = &localBucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1), nil
}

// RateLimit applies lim per authenticated user. If the limiter itself fails
// the request is let through.
func RateLimit(lim Limiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := UserID(c)
		if !ok {
			key = "ip:" + c.ClientIP()
		}

		allowed, err := lim.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "60")
			common.AbortFail(c, http.StatusTooManyRequests, 42901, "too many requests, please slow down")
			return
		}
		c.Next()
	}
}
