package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chatstream/internal/auth"
	"github.com/suPer8Hu/chatstream/internal/common"
	"github.com/suPer8Hu/chatstream/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatstream/internal/models"
)

type signupReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type signinReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func tokenResponse(res *auth.Result) gin.H {
	return gin.H{
		"access_token": res.Token,
		"token_type":   "bearer",
		"expires_at":   res.ExpiresAt.UTC().Format(time.RFC3339),
		"user":         userResponse(&res.User),
	}
}

func userResponse(u *models.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"created_at": u.CreatedAt,
	}
}

func (h *Handler) Signup(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "email and password required")
		return
	}

	res, err := h.Auth.Signup(c.Request.Context(), req.Email, req.Password, req.Name)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooWeak):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	case errors.Is(err, auth.ErrEmailExists):
		common.Fail(c, http.StatusConflict, 40901, "email already registered")
		return
	default:
		h.logger(c).Error("signup failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.Created(c, tokenResponse(res))
}

func (h *Handler) Signin(c *gin.Context) {
	var req signinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "email and password required")
		return
	}

	res, err := h.Auth.Signin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			common.Fail(c, http.StatusUnauthorized, 40104, "invalid email or password")
			return
		}
		h.logger(c).Error("signin failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, tokenResponse(res))
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := h.currentUser(c)
	if !ok {
		return
	}

	u, err := h.Auth.Me(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			// token outlived its user
			common.Fail(c, http.StatusUnauthorized, 40105, "user no longer exists")
			return
		}
		h.logger(c).Error("load user failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, userResponse(u))
}

func (h *Handler) Signout(c *gin.Context) {
	id, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.Auth.Signout(c.Request.Context(), id); err != nil {
		h.logger(c).Error("signout failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"signed_out": true})
}
