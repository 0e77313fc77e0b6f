package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-match-api/internal/handler"
	"github.com/noah-isme/tutor-match-api/internal/middleware"
	"github.com/noah-isme/tutor-match-api/internal/models"
	"github.com/noah-isme/tutor-match-api/internal/service"
	"github.com/noah-isme/tutor-match-api/pkg/config"
	"github.com/noah-isme/tutor-match-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutor-match-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutor-match-api/pkg/middleware/requestid"
	"github.com/noah-isme/tutor-match-api/pkg/storage"
)

type routeDeps struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sqlx.DB
	metrics *service.MetricsService
	tokens  *service.TokenVerifier

	feeds         *service.RequestFeedService
	requests      *service.RequestService
	applications  *service.ApplicationService
	registrations *service.RegistrationService
	engagements   *service.EngagementService
	exports       *service.ExportService
	rates         *service.TeacherRateService

	signer *storage.SignedURLSigner
	media  *storage.LocalStorage
}

func newRouter(d routeDeps) *gin.Engine {
	policy := corsmiddleware.NewPolicy(d.cfg.CORS.AllowedOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(policy))
	r.Use(middleware.Metrics(d.metrics))
	r.Use(middleware.WithResponseMeta())

	ops := handler.NewMetricsHandler(d.metrics, d.db)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)
	r.GET("/media/*path", handler.NewMediaHandler(d.signer, d.media, d.logger).Serve)
	if d.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	requests := handler.NewRequestHandler(d.feeds, d.requests)
	stream := handler.NewRequestStreamHandler(func() handler.BoardFeed { return d.feeds.NewFeed() }, policy.CheckOrigin, d.logger)
	applications := handler.NewApplicationHandler(d.applications)
	registrations := handler.NewRegistrationHandler(d.registrations)
	engagements := handler.NewEngagementHandler(d.engagements, d.exports)
	rates := handler.NewTeacherRateHandler(d.rates)

	teacher := middleware.RequireRoles(models.RoleTeacher)
	requesters := middleware.RequireRoles(models.RoleStudent, models.RoleParent, models.RoleAdmin)
	selfOrAdmin := middleware.RBAC(middleware.Self, string(models.RoleAdmin))

	api := r.Group(d.cfg.APIPrefix, middleware.JWT(d.tokens))
	{
		api.GET("/requests", requests.List)
		api.GET("/requests/stream", stream.Stream)
		api.POST("/requests", requesters, requests.Create)
		api.PATCH("/requests/:id", requesters, requests.Update)
		api.POST("/requests/:id/fulfill", requesters, requests.Fulfill)
		api.DELETE("/requests/:id", requesters, requests.Delete)

		api.GET("/requests/:id/applications", requesters, applications.List)
		api.GET("/requests/:id/applications/me", teacher, applications.Mine)
		api.POST("/requests/:id/applications", teacher, applications.Apply)

		api.GET("/registrations/check", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), registrations.Check)
		api.POST("/registrations", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), registrations.Register)
		api.POST("/registrations/children", middleware.RequireRoles(models.RoleParent), registrations.RegisterChild)

		api.GET("/teachers/:id/engagements", selfOrAdmin, engagements.Load)
		api.GET("/teachers/:id/engagements/export", selfOrAdmin, engagements.Export)
		api.GET("/teachers/:id/rates", rates.List)
		api.PUT("/teachers/:id/rates", selfOrAdmin, rates.Upsert)
	}
	return r
}
