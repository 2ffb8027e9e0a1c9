package server

import (
	"context"
	"net/http"
	"time"

	"github.com/fastingvibe/api/internal/auth"
	"github.com/fastingvibe/api/internal/clock"
	"github.com/fastingvibe/api/internal/config"
	"github.com/fastingvibe/api/internal/entitlement"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	"github.com/fastingvibe/api/internal/notification"
	"github.com/fastingvibe/api/internal/observability"
	obsmiddleware "github.com/fastingvibe/api/internal/observability/logger"
	obsmetrics "github.com/fastingvibe/api/internal/observability/metrics"
	obstracing "github.com/fastingvibe/api/internal/observability/tracing"
	"github.com/fastingvibe/api/internal/payment"
	"github.com/fastingvibe/api/internal/payment/webhook"
	"github.com/fastingvibe/api/internal/plan"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"
	"github.com/fastingvibe/api/internal/ratelimit"
	"github.com/fastingvibe/api/internal/sweeper"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	plan.Module,
	entitlement.Module,
	payment.Module,
	notification.Module,
	ratelimit.Module,
	auth.Module,
	sweeper.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	clock          clock.Clock
	planSvc        plandomain.Service
	entitlementSvc entitlementdomain.Service
	webhookSvc     webhook.Service
	verifier       *auth.Verifier
	limiter        *ratelimit.TokenBucket
	metrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Clock          clock.Clock
	PlanSvc        plandomain.Service
	EntitlementSvc entitlementdomain.Service
	WebhookSvc     webhook.Service
	Verifier       *auth.Verifier
	Limiter        *ratelimit.TokenBucket `optional:"true"`
	Metrics        *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		clock:          p.Clock,
		planSvc:        p.PlanSvc,
		entitlementSvc: p.EntitlementSvc,
		webhookSvc:     p.WebhookSvc,
		verifier:       p.Verifier,
		limiter:        p.Limiter,
		metrics:        p.Metrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.POST("/webhook", s.handleWebhook)
	r.GET("/plans", s.listPlans)
	r.GET("/success-test", s.successTest)
	r.GET("/cancel-test", s.cancelTest)

	authed := r.Group("/", s.AuthRequired())
	authed.POST("/create-checkout-session", s.rateLimited("checkout"), s.createCheckoutSession)
	authed.POST("/cancel-subscription", s.rateLimited("cancel"), s.cancelSubscription)
	authed.GET("/my-entitlement", s.myEntitlement)

	admin := r.Group("/", s.AdminRequired())
	admin.PUT("/update-plan-price", s.updatePlanPrice)
}
