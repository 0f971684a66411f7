package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	obsmetrics "github.com/smallbiznis/tokenwallet/internal/observability/metrics"
	"github.com/smallbiznis/tokenwallet/internal/validation"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"github.com/smallbiznis/tokenwallet/pkg/db"
	"github.com/smallbiznis/tokenwallet/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       walletdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       walletdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Debit(ctx context.Context, req walletdomain.DebitRequest) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.DebitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) Credit(ctx context.Context, req walletdomain.CreditRequest) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = s.CreditTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req walletdomain.DebitRequest) (int64, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validateRequest(req); err != nil {
		return 0, err
	}
	if tx == nil {
		return s.Debit(ctx, req)
	}

	now := s.clock.Now()
	if err := s.repo.EnsureWallet(ctx, tx, req.WorkspaceID, now); err != nil {
		return 0, err
	}

	ok, err := s.repo.Debit(ctx, tx, req.WorkspaceID, req.Amount, now)
	if err != nil {
		s.log.Error("wallet debit failed",
			zap.String("workspace_id", req.WorkspaceID),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return 0, err
	}
	if !ok {
		return 0, walletdomain.ErrInsufficientBalance
	}

	if err := s.appendEntry(ctx, tx, req.WorkspaceID, -req.Amount, req.Reason, req.CreatedBy, "", req.Metadata, now); err != nil {
		return 0, err
	}
	return s.balance(ctx, tx, req.WorkspaceID)
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req walletdomain.CreditRequest) (int64, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := validateRequest(req); err != nil {
		return 0, err
	}
	if tx == nil {
		return s.Credit(ctx, req)
	}

	now := s.clock.Now()
	if err := s.repo.EnsureWallet(ctx, tx, req.WorkspaceID, now); err != nil {
		return 0, err
	}
	if err := s.repo.Credit(ctx, tx, req.WorkspaceID, req.Amount, now); err != nil {
		s.log.Error("wallet credit failed",
			zap.String("workspace_id", req.WorkspaceID),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return 0, err
	}

	if err := s.appendEntry(ctx, tx, req.WorkspaceID, req.Amount, req.Reason, req.CreatedBy, req.IdempotencyKey, req.Metadata, now); err != nil {
		if req.IdempotencyKey != "" && db.IsDuplicateKeyErr(err) {
			return 0, walletdomain.ErrDuplicateCredit
		}
		return 0, err
	}
	return s.balance(ctx, tx, req.WorkspaceID)
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, workspaceID string, delta int64, reason, createdBy, idempotencyKey string, metadata datatypes.JSONMap, at time.Time) error {
	createdBy = strings.TrimSpace(createdBy)
	if createdBy == "" {
		createdBy = walletdomain.CreatedBySystem
	}

	entry := walletdomain.LedgerEntry{
		ID:          s.genID.Generate(),
		WorkspaceID: workspaceID,
		Delta:       delta,
		Reason:      reason,
		CreatedBy:   createdBy,
		Metadata:    metadata,
		CreatedAt:   at,
	}
	if idempotencyKey != "" {
		entry.IdempotencyKey = &idempotencyKey
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		if idempotencyKey != "" && db.IsDuplicateKeyErr(err) {
			// replayed keyed credit, reported by CreditTx
			return err
		}
		s.log.Error("ledger entry insert failed",
			zap.String("workspace_id", workspaceID),
			zap.Int64("delta", delta),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}

	s.obsMetrics.RecordWalletEntry(ctx, entry.Direction())
	return nil
}

func (s *Service) balance(ctx context.Context, db *gorm.DB, workspaceID string) (int64, error) {
	wallet, err := s.repo.FindWallet(ctx, db, workspaceID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, nil
	}
	return wallet.Balance, nil
}

// GetBalance is zero for a workspace that never touched its wallet.
func (s *Service) GetBalance(ctx context.Context, workspaceID string) (int64, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return 0, walletdomain.ErrInvalidWorkspace
	}
	return s.balance(ctx, s.db, workspaceID)
}

func (s *Service) GetWallet(ctx context.Context, workspaceID string) (walletdomain.Wallet, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return walletdomain.Wallet{}, walletdomain.ErrInvalidWorkspace
	}
	wallet, err := s.repo.FindWallet(ctx, s.db, workspaceID)
	if err != nil {
		return walletdomain.Wallet{}, err
	}
	if wallet == nil {
		return walletdomain.Wallet{WorkspaceID: workspaceID}, nil
	}
	return *wallet, nil
}

func (s *Service) GetLedger(ctx context.Context, query walletdomain.LedgerQuery) (walletdomain.LedgerPage, error) {
	workspaceID := strings.TrimSpace(query.WorkspaceID)
	if workspaceID == "" {
		return walletdomain.LedgerPage{}, walletdomain.ErrInvalidWorkspace
	}

	cursor, err := pagination.DecodeCursor(query.PageToken)
	if err != nil {
		return walletdomain.LedgerPage{}, err
	}
	after, err := toEntryCursor(cursor)
	if err != nil {
		return walletdomain.LedgerPage{}, err
	}

	limit := pagination.NormalizeSize(query.PageSize)
	rows, err := s.repo.ListEntries(ctx, s.db, workspaceID, after, limit+1)
	if err != nil {
		return walletdomain.LedgerPage{}, err
	}

	entries, pageInfo, err := pagination.BuildCursorPageInfo(rows, limit, func(e walletdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return walletdomain.LedgerPage{}, err
	}
	if entries == nil {
		entries = []walletdomain.LedgerEntry{}
	}
	return walletdomain.LedgerPage{Entries: entries, PageInfo: pageInfo}, nil
}

func (s *Service) Reconcile(ctx context.Context, workspaceID string) (walletdomain.ReconcileReport, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return walletdomain.ReconcileReport{}, walletdomain.ErrInvalidWorkspace
	}

	var report walletdomain.ReconcileReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.balance(ctx, tx, workspaceID)
		if err != nil {
			return err
		}
		sum, count, err := s.repo.SumDeltas(ctx, tx, workspaceID)
		if err != nil {
			return err
		}
		report = walletdomain.ReconcileReport{
			WorkspaceID: workspaceID,
			Balance:     balance,
			LedgerSum:   sum,
			EntryCount:  count,
			CheckedAt:   s.clock.Now(),
		}
		return nil
	})
	if err != nil {
		return walletdomain.ReconcileReport{}, err
	}

	if !report.Consistent() {
		s.log.Error("wallet ledger drift detected",
			zap.String("workspace_id", workspaceID),
			zap.Int64("balance", report.Balance),
			zap.Int64("ledger_sum", report.LedgerSum),
		)
	}
	return report, nil
}

func toEntryCursor(cursor *pagination.Cursor) (*walletdomain.EntryCursor, error) {
	if cursor == nil {
		return nil, nil
	}
	id, err := strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, pagination.ErrInvalidPageToken
	}
	return &walletdomain.EntryCursor{ID: snowflake.ID(id), CreatedAt: createdAt.UTC()}, nil
}

// validateRequest maps tag failures onto the wallet sentinel errors.
func validateRequest(req any) error {
	err := validation.Struct(req)
	if err == nil {
		return nil
	}
	typed, ok := billingerr.As(err)
	if !ok || typed.Details() == nil {
		return err
	}
	switch typed.Details().Field {
	case "amount":
		return walletdomain.ErrInvalidAmount
	case "workspace_id":
		return walletdomain.ErrInvalidWorkspace
	case "reason":
		return walletdomain.ErrInvalidReason
	}
	return err
}

// IsInsufficientBalance reports whether err is a rejected debit.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, walletdomain.ErrInsufficientBalance)
}
