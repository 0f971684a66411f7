package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenwallet/internal/billingerr"
	budgetservice "github.com/smallbiznis/tokenwallet/internal/budget/service"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/config"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/tokenwallet/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/tokenwallet/internal/entitlement/service"
	meteringdomain "github.com/smallbiznis/tokenwallet/internal/metering/domain"
	"github.com/smallbiznis/tokenwallet/internal/ratelimit"
	"github.com/smallbiznis/tokenwallet/internal/ratetable"
	"github.com/smallbiznis/tokenwallet/internal/storetest"
	usagedomain "github.com/smallbiznis/tokenwallet/internal/usage/domain"
	usagerepo "github.com/smallbiznis/tokenwallet/internal/usage/repository"
	usageservice "github.com/smallbiznis/tokenwallet/internal/usage/service"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/tokenwallet/internal/wallet/repository"
	walletservice "github.com/smallbiznis/tokenwallet/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	clock        *clock.FakeClock
	svc          meteringdomain.Service
	wallets      walletdomain.Service
	usage        usagedomain.Service
	entitlements entitlementdomain.Service
}

func setup(t *testing.T, maxPerWindow int) *harness {
	t.Helper()
	db := storetest.Open(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	wallets := walletservice.NewService(walletservice.Params{DB: db, Log: log, GenID: node, Clock: fc, Repo: walletrepo.Provide()})
	usage := usageservice.NewService(usageservice.ServiceParam{DB: db, Log: log, Clock: fc, Repo: usagerepo.Provide()})
	entitlements := entitlementservice.New(entitlementservice.Params{DB: db, Log: log, Clock: fc, Repo: entitlementrepo.Provide()})
	budget := budgetservice.NewService(budgetservice.Params{
		Log:            log,
		Clock:          fc,
		EntitlementSvc: entitlements,
		UsageSvc:       usage,
		WalletSvc:      wallets,
	})

	cfg := config.Config{Metering: config.MeteringConfig{WindowMs: 60_000, MaxPerWindow: maxPerWindow}}
	svc := NewService(Params{
		DB:             db,
		Log:            log,
		Cfg:            cfg,
		Limiter:        ratelimit.NewGuard(ratelimit.NewMemoryLimiter(fc), fc, log, nil),
		Rates:          ratetable.NewStaticHolder(ratetable.MustDefault()),
		EntitlementSvc: entitlements,
		BudgetSvc:      budget,
		WalletSvc:      wallets,
		UsageSvc:       usage,
	})
	return &harness{clock: fc, svc: svc, wallets: wallets, usage: usage, entitlements: entitlements}
}

func (h *harness) fund(t *testing.T, amount int64) {
	t.Helper()
	_, err := h.wallets.Credit(context.Background(), walletdomain.CreditRequest{WorkspaceID: "ws_1", Amount: amount, Reason: "seed"})
	require.NoError(t, err)
}

func (h *harness) grant(t *testing.T, key string, allowed bool, limit *int64) {
	t.Helper()
	require.NoError(t, h.entitlements.Set(context.Background(), entitlementdomain.SetRequest{
		WorkspaceID: "ws_1",
		Key:         key,
		Allowed:     allowed,
		LimitValue:  limit,
	}))
}

func consume(h *harness, action string) (meteringdomain.ConsumeResult, error) {
	return h.svc.Consume(context.Background(), meteringdomain.ConsumeRequest{
		WorkspaceID: "ws_1",
		UserID:      "user_1",
		Action:      action,
		RefType:     "conversation",
		RefID:       "conv_9",
	})
}

func TestConsumeDebitsAndCountsUsage(t *testing.T) {
	h := setup(t, 100)
	h.fund(t, 100)
	h.grant(t, "module.ai", true, nil)

	result, err := consume(h, "AI.Generate")
	require.NoError(t, err)
	assert.Equal(t, "ai.generate", result.Action)
	assert.Equal(t, int64(10), result.Cost)
	assert.Equal(t, int64(90), result.Balance)
	assert.Nil(t, result.Cap)

	used, err := h.usage.Total(context.Background(), "ws_1", usagedomain.EventTypeTokens, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), used)

	page, err := h.wallets.GetLedger(context.Background(), walletdomain.LedgerQuery{WorkspaceID: "ws_1"})
	require.NoError(t, err)
	require.NotEmpty(t, page.Entries)
	assert.Equal(t, "ai.generate", page.Entries[0].Reason)
	assert.Equal(t, "user_1", page.Entries[0].CreatedBy)
	assert.Equal(t, "conv_9", page.Entries[0].Metadata["ref_id"])
}

func TestConsumeRejections(t *testing.T) {
	h := setup(t, 100)
	h.fund(t, 10)

	_, err := consume(h, "video.render")
	assert.Equal(t, billingerr.CodeUnknownAction, billingerr.CodeOf(err))

	_, err = consume(h, "ai.generate")
	assert.Equal(t, billingerr.CodeFeatureLocked, billingerr.CodeOf(err))

	h.grant(t, "module.broadcast", true, nil)
	_, err = consume(h, "message.broadcast")
	typed, ok := billingerr.As(err)
	require.True(t, ok)
	assert.Equal(t, billingerr.CodeInsufficientBalance, typed.Code())
	assert.Equal(t, int64(10), *typed.Details().Balance)
	assert.Equal(t, int64(20), *typed.Details().Cost)

	balance, err := h.wallets.GetBalance(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	_, err = h.svc.Consume(context.Background(), meteringdomain.ConsumeRequest{WorkspaceID: "ws_1", Action: "message.send"})
	assert.Equal(t, billingerr.CodeInvalidRequest, billingerr.CodeOf(err))
}

func TestConsumeBudgetCap(t *testing.T) {
	h := setup(t, 1000)
	h.fund(t, 10_000)
	h.grant(t, entitlementdomain.CapKeyMonthlyTokens, true, billingerr.Int64(25))

	for i := 0; i < 25; i++ {
		_, err := consume(h, "message.send")
		require.NoError(t, err)
	}

	_, err := consume(h, "message.send")
	typed, ok := billingerr.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, billingerr.CodeBudgetExceeded, typed.Code())
	assert.Equal(t, int64(25), *typed.Details().Cap)
	assert.Equal(t, int64(25), *typed.Details().Used)

	// The cap is monthly.
	h.clock.Set(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	result, err := consume(h, "message.send")
	require.NoError(t, err)
	require.NotNil(t, result.Cap)
	assert.Equal(t, int64(1), result.Used)
}

func TestConsumeRateLimited(t *testing.T) {
	h := setup(t, 3)
	h.fund(t, 100)

	for i := 0; i < 3; i++ {
		_, err := consume(h, "message.send")
		require.NoError(t, err)
	}

	_, err := consume(h, "message.send")
	typed, ok := billingerr.As(err)
	require.True(t, ok)
	assert.Equal(t, billingerr.CodeRateLimited, typed.Code())
	assert.Equal(t, "2025-04-10T09:01:00Z", typed.Details().ResetAt)

	h.clock.Advance(time.Minute)
	_, err = consume(h, "message.send")
	require.NoError(t, err)

	balance, err := h.wallets.GetBalance(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.Equal(t, int64(96), balance)
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	h := setup(t, 1000)
	h.fund(t, 50)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := consume(h, "message.send")
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	report, err := h.wallets.Reconcile(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, int64(50-accepted), report.Balance)
	assert.GreaterOrEqual(t, report.Balance, int64(0))
}

func TestQuote(t *testing.T) {
	h := setup(t, 100)
	h.fund(t, 5)

	quote, err := h.svc.Quote(context.Background(), meteringdomain.QuoteRequest{WorkspaceID: "ws_1", Action: "ai.generate"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), quote.Cost)
	assert.False(t, quote.FeatureAllowed)
	assert.False(t, quote.Allowed)

	h.grant(t, "module.ai", true, nil)
	quote, err = h.svc.Quote(context.Background(), meteringdomain.QuoteRequest{WorkspaceID: "ws_1", Action: "ai.summarize"})
	require.NoError(t, err)
	assert.True(t, quote.FeatureAllowed)
	assert.True(t, quote.Allowed)
	assert.Equal(t, int64(5), quote.Balance)

	balance, err := h.wallets.GetBalance(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance, "quote never debits")
}
