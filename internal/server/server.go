// Package server exposes the HTTP surface: membership lifecycle operations,
// the provider webhook sink, on-demand reconciliation, and analytics reads.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	analyticsdomain "github.com/smallbiznis/memberly/internal/analytics/domain"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
	memberrepo "github.com/smallbiznis/memberly/internal/member/repository"
	membershipdomain "github.com/smallbiznis/memberly/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/memberly/internal/membership/repository"
	"github.com/smallbiznis/memberly/internal/orgcontext"
	planrepo "github.com/smallbiznis/memberly/internal/plan/repository"
	reconciledomain "github.com/smallbiznis/memberly/internal/reconcile/domain"
	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	MembershipSvc membershipdomain.Service
	WebhookSvc    webhookdomain.Service
	ReconcileSvc  reconciledomain.Service
	AnalyticsSvc  analyticsdomain.Service
	Members       memberrepo.MemberRepository
	Memberships   membershiprepo.MembershipRepository
	Plans         planrepo.PlanRepository
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	membershipSvc membershipdomain.Service
	webhookSvc    webhookdomain.Service
	reconcileSvc  reconciledomain.Service
	analyticsSvc  analyticsdomain.Service
	members       memberrepo.MemberRepository
	memberships   membershiprepo.MembershipRepository
	plans         planrepo.PlanRepository
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("server"),
		clock:         p.Clock,
		membershipSvc: p.MembershipSvc,
		webhookSvc:    p.WebhookSvc,
		reconcileSvc:  p.ReconcileSvc,
		analyticsSvc:  p.AnalyticsSvc,
		members:       p.Members,
		memberships:   p.Memberships,
		plans:         p.Plans,
	}
}

func registerRoutes(s *Server) {
	s.engine.POST("/webhooks/:provider/:org_id", s.HandleProviderWebhook)

	org := s.engine.Group("/v1/orgs/:org_id", s.OrgMiddleware())
	{
		org.GET("/members", s.ListMembers)
		org.GET("/members/:member_id", s.GetMember)
		org.GET("/members/:member_id/memberships", s.ListMemberMemberships)

		org.GET("/plans", s.ListPlans)

		org.GET("/memberships", s.ListMemberships)
		org.POST("/memberships", s.CreateMembership)
		org.POST("/memberships/:membership_id/pause", s.PauseMembership)
		org.POST("/memberships/:membership_id/resume", s.ResumeMembership)
		org.POST("/memberships/:membership_id/cancel", s.CancelMembership)

		org.POST("/reconcile", s.ReconcileOrg)
		org.GET("/analytics", s.GetAnalytics)
	}
}

// OrgMiddleware parses the org path parameter and stores it in the request
// context for downstream handlers.
func (s *Server) OrgMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.Param("org_id")))
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org_id"))
			return
		}
		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func orgFromRequest(c *gin.Context) (snowflake.ID, bool) {
	return orgcontext.OrgIDFromContext(c.Request.Context())
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(c.Param(name)))
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
