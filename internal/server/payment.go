package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type createPaymentIntentRequest struct {
	Kind        string            `json:"kind"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Provider    string            `json:"provider"`
	ProviderRef string            `json:"provider_ref"`
	Meta        datatypes.JSONMap `json:"meta"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.CreateIntent(c.Request.Context(), paymentdomain.CreateIntentRequest{
		WorkspaceID: workspaceIDFromContext(c),
		Kind:        paymentdomain.IntentKind(req.Kind),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		ProviderRef: req.ProviderRef,
		Meta:        req.Meta,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": intent})
}

func (s *Server) GetPaymentIntent(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	intent, err := s.paymentSvc.GetIntent(c.Request.Context(), workspaceIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

// HandlePaymentNotification applies a verified provider callback. Replays and
// notifications for intents that already reached a terminal state answer 200
// so the provider stops retrying.
func (s *Server) HandlePaymentNotification(c *gin.Context) {
	var req paymentdomain.Notification
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.HandleNotification(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Outcome != paymentdomain.OutcomeSettled && result.Outcome != paymentdomain.OutcomeTransitioned {
		s.log.Info("payment notification already handled",
			zap.String("provider", req.Provider),
			zap.String("provider_event_id", req.ProviderEventID),
			zap.String("outcome", string(result.Outcome)),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
