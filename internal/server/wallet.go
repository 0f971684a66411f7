package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"github.com/smallbiznis/tokenwallet/pkg/db/pagination"
)

type walletResponse struct {
	WorkspaceID     string `json:"workspace_id"`
	Balance         int64  `json:"balance"`
	LifetimeCredits int64  `json:"lifetime_credits"`
	LifetimeDebits  int64  `json:"lifetime_debits"`
}

type ledgerEntryResponse struct {
	ID        string         `json:"id"`
	Delta     int64          `json:"delta"`
	Direction string         `json:"direction"`
	Reason    string         `json:"reason"`
	CreatedBy string         `json:"created_by"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type reconcileResponse struct {
	WorkspaceID string    `json:"workspace_id"`
	Balance     int64     `json:"balance"`
	LedgerSum   int64     `json:"ledger_sum"`
	EntryCount  int64     `json:"entry_count"`
	Consistent  bool      `json:"consistent"`
	CheckedAt   time.Time `json:"checked_at"`
}

func (s *Server) GetWallet(c *gin.Context) {
	w, err := s.walletSvc.GetWallet(c.Request.Context(), workspaceIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": walletResponse{
		WorkspaceID:     w.WorkspaceID,
		Balance:         w.Balance,
		LifetimeCredits: w.LifetimeCredits,
		LifetimeDebits:  w.LifetimeDebits,
	}})
}

func (s *Server) ListLedger(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	page, err := s.walletSvc.GetLedger(c.Request.Context(), walletdomain.LedgerQuery{
		WorkspaceID: workspaceIDFromContext(c),
		Pagination:  query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries := make([]ledgerEntryResponse, 0, len(page.Entries))
	for _, entry := range page.Entries {
		entries = append(entries, ledgerEntryResponse{
			ID:        entry.ID.String(),
			Delta:     entry.Delta,
			Direction: entry.Direction(),
			Reason:    entry.Reason,
			CreatedBy: entry.CreatedBy,
			Metadata:  entry.Metadata,
			CreatedAt: entry.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": page.PageInfo})
}

func (s *Server) ReconcileWallet(c *gin.Context) {
	workspaceID := strings.TrimSpace(c.Param("workspace_id"))
	if workspaceID == "" {
		AbortWithError(c, walletdomain.ErrInvalidWorkspace)
		return
	}

	report, err := s.walletSvc.Reconcile(c.Request.Context(), workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": reconcileResponse{
		WorkspaceID: report.WorkspaceID,
		Balance:     report.Balance,
		LedgerSum:   report.LedgerSum,
		EntryCount:  report.EntryCount,
		Consistent:  report.Consistent(),
		CheckedAt:   report.CheckedAt,
	}})
}
