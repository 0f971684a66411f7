package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/storetest"
	usagedomain "github.com/smallbiznis/tokenwallet/internal/usage/domain"
	"github.com/smallbiznis/tokenwallet/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupUsageService(t *testing.T, fc *clock.FakeClock) (usagedomain.Service, *gorm.DB) {
	t.Helper()
	db := storetest.Open(t, storetest.UsageCounters)
	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fc,
		Repo:  repository.Provide(),
	}), db
}

func TestIncrementAccumulatesAndVersions(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC))
	svc, _ := setupUsageService(t, fc)

	total, err := svc.Total(ctx, "ws_1", usagedomain.EventTypeTokens, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)

	for _, amount := range []int64{10, 5, 35} {
		require.NoError(t, svc.Increment(ctx, nil, usagedomain.IncrementRequest{
			WorkspaceID: "ws_1",
			EventType:   usagedomain.EventTypeTokens,
			Amount:      amount,
		}))
	}

	counter, err := svc.Get(ctx, "ws_1", usagedomain.EventTypeTokens, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), counter.Total)
	assert.Equal(t, int64(3), counter.Version)
	assert.Equal(t, "2025-04", counter.YearMonth)
}

func TestMonthBoundaryStartsNewCounter(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2025, 4, 30, 23, 59, 0, 0, time.UTC))
	svc, _ := setupUsageService(t, fc)

	require.NoError(t, svc.Increment(ctx, nil, usagedomain.IncrementRequest{WorkspaceID: "ws_1", EventType: "tokens", Amount: 900}))

	fc.Advance(2 * time.Minute)
	total, err := svc.Total(ctx, "ws_1", "tokens", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total, "May starts from zero")

	require.NoError(t, svc.Increment(ctx, nil, usagedomain.IncrementRequest{WorkspaceID: "ws_1", EventType: "tokens", Amount: 7}))
	april, err := svc.Total(ctx, "ws_1", "tokens", time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(900), april)
}

func TestIncrementInsideRolledBackTransaction(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC))
	svc, db := setupUsageService(t, fc)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Increment(ctx, tx, usagedomain.IncrementRequest{WorkspaceID: "ws_1", EventType: "tokens", Amount: 10}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	total, err := svc.Total(ctx, "ws_1", "tokens", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC))
	svc, _ := setupUsageService(t, fc)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Increment(ctx, nil, usagedomain.IncrementRequest{WorkspaceID: "ws_1", EventType: "tokens", Amount: 3}); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	total, err := svc.Total(ctx, "ws_1", "tokens", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
}

func TestIncrementValidation(t *testing.T) {
	svc, _ := setupUsageService(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()

	assert.ErrorIs(t, svc.Increment(ctx, nil, usagedomain.IncrementRequest{EventType: "tokens", Amount: 1}), usagedomain.ErrInvalidWorkspace)
	assert.ErrorIs(t, svc.Increment(ctx, nil, usagedomain.IncrementRequest{WorkspaceID: "ws", Amount: 1}), usagedomain.ErrInvalidEventType)
	assert.ErrorIs(t, svc.Increment(ctx, nil, usagedomain.IncrementRequest{WorkspaceID: "ws", EventType: "tokens"}), usagedomain.ErrInvalidAmount)
}

func TestYearMonthUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	assert.Equal(t, "2025-04", usagedomain.YearMonth(time.Date(2025, 5, 1, 3, 0, 0, 0, loc)))
}
