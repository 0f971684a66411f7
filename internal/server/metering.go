package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	meteringdomain "github.com/smallbiznis/tokenwallet/internal/metering/domain"
)

type consumeRequest struct {
	Action   string         `json:"action"`
	RefType  string         `json:"ref_type"`
	RefID    string         `json:"ref_id"`
	Metadata map[string]any `json:"metadata"`
}

type quoteRequest struct {
	Action string `json:"action"`
}

func (s *Server) Consume(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	action := strings.TrimSpace(req.Action)
	c.Set("action", action)

	resp, err := s.meteringSvc.Consume(c.Request.Context(), meteringdomain.ConsumeRequest{
		WorkspaceID: workspaceIDFromContext(c),
		UserID:      userIDFromContext(c),
		Action:      action,
		RefType:     strings.TrimSpace(req.RefType),
		RefID:       strings.TrimSpace(req.RefID),
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Quote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	action := strings.TrimSpace(req.Action)
	c.Set("action", action)

	resp, err := s.meteringSvc.Quote(c.Request.Context(), meteringdomain.QuoteRequest{
		WorkspaceID: workspaceIDFromContext(c),
		Action:      action,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.rates.List()})
}
