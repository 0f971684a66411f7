package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
	usagedomain "github.com/smallbiznis/tokenwallet/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  usagedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  usagedomain.Repository
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usage.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Increment(ctx context.Context, tx *gorm.DB, req usagedomain.IncrementRequest) error {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	eventType := strings.TrimSpace(req.EventType)
	if workspaceID == "" {
		return usagedomain.ErrInvalidWorkspace
	}
	if eventType == "" {
		return usagedomain.ErrInvalidEventType
	}
	if req.Amount <= 0 {
		return usagedomain.ErrInvalidAmount
	}

	at := req.At
	if at.IsZero() {
		at = s.clock.Now()
	}
	if tx == nil {
		tx = s.db
	}

	if err := s.repo.Increment(ctx, tx, workspaceID, usagedomain.YearMonth(at), eventType, req.Amount, at.UTC()); err != nil {
		s.log.Error("usage increment failed",
			zap.String("workspace_id", workspaceID),
			zap.String("event_type", eventType),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Total is zero when no counter exists for the month.
func (s *Service) Total(ctx context.Context, workspaceID, eventType string, at time.Time) (int64, error) {
	counter, err := s.Get(ctx, workspaceID, eventType, at)
	if err != nil {
		return 0, err
	}
	return counter.Total, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, eventType string, at time.Time) (usagedomain.Counter, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	eventType = strings.TrimSpace(eventType)
	if workspaceID == "" {
		return usagedomain.Counter{}, usagedomain.ErrInvalidWorkspace
	}
	if eventType == "" {
		return usagedomain.Counter{}, usagedomain.ErrInvalidEventType
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	yearMonth := usagedomain.YearMonth(at)
	row, err := s.repo.Find(ctx, s.db, workspaceID, yearMonth, eventType)
	if err != nil {
		return usagedomain.Counter{}, err
	}
	if row == nil {
		return usagedomain.Counter{WorkspaceID: workspaceID, YearMonth: yearMonth, EventType: eventType}, nil
	}
	return *row, nil
}
