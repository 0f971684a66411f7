package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
)

type setEntitlementRequest struct {
	Allowed    bool   `json:"allowed"`
	LimitValue *int64 `json:"limit_value"`
}

// SetEntitlement receives plan grants pushed by the subscription owner.
func (s *Server) SetEntitlement(c *gin.Context) {
	var req setEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.entitlementSvc.Set(c.Request.Context(), entitlementdomain.SetRequest{
		WorkspaceID: strings.TrimSpace(c.Param("workspace_id")),
		Key:         strings.TrimSpace(c.Param("key")),
		Allowed:     req.Allowed,
		LimitValue:  req.LimitValue,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
