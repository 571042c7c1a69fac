package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatstream/internal/auth"
	"github.com/suPer8Hu/chatstream/internal/common"
)

const (
	UserIDKey   = "current_user_id"
	IdentityKey = "current_identity"
)

type TokenVerifier interface {
	Verify(ctx context.Context, bearer string) (*auth.Identity, error)
}

// AuthRequired rejects the request with 401 unless it carries a valid bearer
// token. The resolved identity is stored on the context.
func AuthRequired(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing authorization header")
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid authorization header")
			return
		}

		id, err := v.Verify(c.Request.Context(), parts[1])
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40103, "invalid token")
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func Identity(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok
}
