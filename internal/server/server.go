package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tokenwallet/internal/budget"
	"github.com/smallbiznis/tokenwallet/internal/clock"
	"github.com/smallbiznis/tokenwallet/internal/config"
	"github.com/smallbiznis/tokenwallet/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/tokenwallet/internal/entitlement/domain"
	"github.com/smallbiznis/tokenwallet/internal/metering"
	meteringdomain "github.com/smallbiznis/tokenwallet/internal/metering/domain"
	"github.com/smallbiznis/tokenwallet/internal/observability"
	obsmiddleware "github.com/smallbiznis/tokenwallet/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenwallet/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tokenwallet/internal/observability/tracing"
	"github.com/smallbiznis/tokenwallet/internal/payment"
	paymentdomain "github.com/smallbiznis/tokenwallet/internal/payment/domain"
	"github.com/smallbiznis/tokenwallet/internal/ratelimit"
	"github.com/smallbiznis/tokenwallet/internal/ratetable"
	"github.com/smallbiznis/tokenwallet/internal/usage"
	"github.com/smallbiznis/tokenwallet/internal/wallet"
	walletdomain "github.com/smallbiznis/tokenwallet/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	ratelimit.Module,
	ratetable.Module,
	entitlement.Module,
	usage.Module,
	wallet.Module,
	budget.Module,
	payment.Module,
	metering.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, clk clock.Clock) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware(clk))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, clk clock.Clock) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, clk)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	log            *zap.Logger
	meteringSvc    meteringdomain.Service
	walletSvc      walletdomain.Service
	paymentSvc     paymentdomain.Service
	entitlementSvc entitlementdomain.Service
	rates          ratetable.Source
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Log            *zap.Logger
	MeteringSvc    meteringdomain.Service
	WalletSvc      walletdomain.Service
	PaymentSvc     paymentdomain.Service
	EntitlementSvc entitlementdomain.Service
	Rates          ratetable.Source
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:         p.Gin,
		log:            log.Named("http.server"),
		meteringSvc:    p.MeteringSvc,
		walletSvc:      p.WalletSvc,
		paymentSvc:     p.PaymentSvc,
		entitlementSvc: p.EntitlementSvc,
		rates:          p.Rates,
	}

	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")
	api.GET("/rates", s.ListRates)

	scoped := api.Group("", WorkspaceContext())
	scoped.POST("/consume", UserContext(), s.Consume)
	scoped.POST("/quote", s.Quote)

	scoped.GET("/wallet", s.GetWallet)
	scoped.GET("/wallet/ledger", s.ListLedger)

	scoped.POST("/payment-intents", s.CreatePaymentIntent)
	scoped.GET("/payment-intents/:id", s.GetPaymentIntent)
}

// Internal routes are reachable only from inside the deployment. Provider
// signatures are verified by the gateway before notifications arrive here.
func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	internal.POST("/payments/notifications", s.HandlePaymentNotification)
	internal.PUT("/entitlements/:workspace_id/:key", s.SetEntitlement)
	internal.GET("/wallets/:workspace_id/reconcile", s.ReconcileWallet)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
