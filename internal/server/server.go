package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"github.com/overtimestaff/escrow/internal/authorization"
	"github.com/overtimestaff/escrow/internal/config"
	"github.com/overtimestaff/escrow/internal/dispute"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/observability"
	obsmiddleware "github.com/overtimestaff/escrow/internal/observability/logger"
	obsmetrics "github.com/overtimestaff/escrow/internal/observability/metrics"
	obstracing "github.com/overtimestaff/escrow/internal/observability/tracing"
	"github.com/overtimestaff/escrow/internal/payout"
	"github.com/overtimestaff/escrow/internal/ratelimit"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	statsdomain "github.com/overtimestaff/escrow/internal/statistics/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	engine        *gin.Engine
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	escrowSvc     escrowdomain.Service
	payoutSvc     *payout.Service
	disputeSvc    *dispute.Service
	pricingSvc    pricingdomain.Service
	agencyTierSvc tierdomain.Service
	statisticsSvc statsdomain.Service
	limiter       *ratelimit.ActorLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	EscrowSvc     escrowdomain.Service
	PayoutSvc     *payout.Service
	DisputeSvc    *dispute.Service
	PricingSvc    pricingdomain.Service
	AgencyTierSvc tierdomain.Service
	StatisticsSvc statsdomain.Service
	Limiter       *ratelimit.ActorLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		escrowSvc:     p.EscrowSvc,
		payoutSvc:     p.PayoutSvc,
		disputeSvc:    p.DisputeSvc,
		pricingSvc:    p.PricingSvc,
		agencyTierSvc: p.AgencyTierSvc,
		statisticsSvc: p.StatisticsSvc,
		limiter:       p.Limiter,
	}

	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAdminRoutes() {
	r := s.engine.Group("/", ActorRequired())

	// -------- Payments --------
	payments := r.Group("/payments")
	payments.GET("", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
	payments.POST("", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentCreate), s.CreatePayment)
	payments.GET("/:id", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPayment)
	payments.GET("/:id/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListPaymentAuditLogs)
	payments.POST("/:id/capture", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentCapture), s.throttle(), s.CapturePayment)
	payments.POST("/:id/hold", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentHold), s.HoldPayment)
	payments.POST("/:id/release-escrow", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRelease), s.throttle(), s.ReleaseEscrow)
	payments.POST("/:id/payout", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentPayout), s.throttle(), s.PayoutPayment)
	payments.POST("/:id/retry-payout", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRetryPayout), s.throttle(), s.RetryPayout)
	payments.POST("/:id/refund", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRefund), s.throttle(), s.RefundPayment)

	// -------- Disputes --------
	payments.POST("/:id/dispute", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeFile), s.FileDispute)
	payments.POST("/:id/resolve-dispute", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeResolve), s.throttle(), s.ResolveDispute)
	payments.POST("/:id/add-dispute-notes", s.authorize(authorization.ObjectDispute, authorization.ActionDisputeNotes), s.AddDisputeNotes)

	// -------- Audit --------
	r.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- Statistics --------
	r.GET("/statistics/payments", s.authorize(authorization.ObjectStatistics, authorization.ActionStatisticsView), s.PaymentStatistics)

	// -------- Regional pricing --------
	pricing := r.Group("/pricing")
	pricing.POST("/resolve", s.authorize(authorization.ObjectPricing, authorization.ActionPricingResolve), s.ResolvePricing)
	pricing.GET("/regions", s.authorize(authorization.ObjectPricing, authorization.ActionPricingResolve), s.ListRegionalPricing)
	pricing.PUT("/regions", s.authorize(authorization.ObjectPricing, authorization.ActionPricingManage), s.UpsertRegionalPricing)
	pricing.GET("/regions/:id/adjustments", s.authorize(authorization.ObjectPricing, authorization.ActionPricingResolve), s.ListPriceAdjustments)
	pricing.POST("/adjustments", s.authorize(authorization.ObjectPricing, authorization.ActionPricingManage), s.CreatePriceAdjustment)
	pricing.POST("/adjustments/:id/activate", s.authorize(authorization.ObjectPricing, authorization.ActionPricingManage), s.ActivatePriceAdjustment)
	pricing.POST("/adjustments/:id/deactivate", s.authorize(authorization.ObjectPricing, authorization.ActionPricingManage), s.DeactivatePriceAdjustment)

	// -------- Agency tiers --------
	r.GET("/agency-tiers", s.authorize(authorization.ObjectAgencyTier, authorization.ActionAgencyTierView), s.ListAgencyTiers)
	r.POST("/agency-tiers", s.authorize(authorization.ObjectAgencyTier, authorization.ActionAgencyTierAdjust), s.CreateAgencyTier)
	agencies := r.Group("/agencies")
	agencies.GET("/:id/tier", s.authorize(authorization.ObjectAgencyTier, authorization.ActionAgencyTierView), s.GetAgencyTier)
	agencies.POST("/:id/tier", s.authorize(authorization.ObjectAgencyTier, authorization.ActionAgencyTierAdjust), s.AdjustAgencyTier)
	agencies.POST("/:id/tier/evaluate", s.authorize(authorization.ObjectAgencyTier, authorization.ActionAgencyTierEvaluate), s.EvaluateAgencyTier)
	agencies.GET("/:id/tier-history", s.authorize(authorization.ObjectAgencyTier, authorization.ActionAgencyTierView), s.ListAgencyTierHistory)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
