package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tokenwallet/internal/observability/context"
)

const (
	headerWorkspaceID = "X-Workspace-ID"
	headerUserID      = "X-User-ID"

	contextWorkspaceKey = "workspace_id"
	contextUserKey      = "user_id"
)

// WorkspaceContext reads the workspace resolved by the upstream auth layer.
func WorkspaceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := strings.TrimSpace(c.GetHeader(headerWorkspaceID))
		if workspaceID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextWorkspaceKey, workspaceID)
		ctx := obscontext.WithWorkspaceID(c.Request.Context(), workspaceID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserContext requires the acting user. Rate limit windows are per user.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserKey, userID)
		ctx := obscontext.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func workspaceIDFromContext(c *gin.Context) string {
	return c.GetString(contextWorkspaceKey)
}

func userIDFromContext(c *gin.Context) string {
	return c.GetString(contextUserKey)
}
