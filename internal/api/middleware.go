package api

import (
	"net/http"
	"strings"

	"ticket-resale/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// authenticate verifies the bearer token and turns away blacklisted users
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		p, err := h.verifier.Verify(raw)
		if err != nil {
			h.logger.Debug("Rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		blacklisted, err := h.users.IsBlacklisted(c.Request.Context(), p.UserID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if blacklisted {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "account is blacklisted",
				"code":  "USER_BLACKLISTED",
			})
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

func (h *Handler) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principal(c).HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "operator role required",
				"code":  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) auth.Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(auth.Principal)
	return principal
}
