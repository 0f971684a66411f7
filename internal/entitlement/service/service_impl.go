package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/tokenwallet/internal/cache"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Cache cache.EntitlementCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	cache cache.EntitlementCache
}

func New(p Params) domain.Service {
	c := p.Cache
	if c == nil {
		c = cache.NewEntitlementCache()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("entitlement.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: c,
	}
}

// GetFeatureAllowed treats a missing row as not allowed.
func (s *Service) GetFeatureAllowed(ctx context.Context, workspaceID, featureKey string) (bool, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	featureKey = strings.TrimSpace(featureKey)
	if workspaceID == "" {
		return false, domain.ErrInvalidWorkspace
	}
	if featureKey == "" {
		return false, domain.ErrInvalidKey
	}

	if allowed, ok := s.cache.GetFeature(workspaceID, featureKey); ok {
		return allowed, nil
	}

	row, err := s.repo.Find(ctx, s.db, workspaceID, featureKey)
	if err != nil {
		return false, err
	}
	allowed := row != nil && row.Allowed
	s.cache.SetFeature(workspaceID, featureKey, allowed)
	return allowed, nil
}

// GetBudgetCap reports present=false when no positive cap is configured.
func (s *Service) GetBudgetCap(ctx context.Context, workspaceID, capKey string) (int64, bool, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	capKey = strings.TrimSpace(capKey)
	if workspaceID == "" {
		return 0, false, domain.ErrInvalidWorkspace
	}
	if capKey == "" {
		return 0, false, domain.ErrInvalidKey
	}

	if cached, ok := s.cache.GetBudgetCap(workspaceID, capKey); ok {
		return cached.Limit, cached.Present, nil
	}

	row, err := s.repo.Find(ctx, s.db, workspaceID, capKey)
	if err != nil {
		return 0, false, err
	}

	var result cache.BudgetCap
	if row != nil && row.LimitValue != nil && *row.LimitValue > 0 {
		result = cache.BudgetCap{Limit: *row.LimitValue, Present: true}
	}
	s.cache.SetBudgetCap(workspaceID, capKey, result)
	return result.Limit, result.Present, nil
}

func (s *Service) Set(ctx context.Context, req domain.SetRequest) error {
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	key := strings.TrimSpace(req.Key)
	if workspaceID == "" {
		return domain.ErrInvalidWorkspace
	}
	if key == "" {
		return domain.ErrInvalidKey
	}

	if err := s.repo.Upsert(ctx, s.db, &domain.Entitlement{
		WorkspaceID: workspaceID,
		FeatureKey:  key,
		Allowed:     req.Allowed,
		LimitValue:  req.LimitValue,
		UpdatedAt:   s.clock.Now(),
	}); err != nil {
		return err
	}

	s.cache.Invalidate(workspaceID, key)
	s.log.Info("entitlement updated",
		zap.String("workspace_id", workspaceID),
		zap.String("key", key),
		zap.Bool("allowed", req.Allowed),
	)
	return nil
}
