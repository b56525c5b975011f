package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/handler"
	"github.com/noah-isme/curriculum-progress-api/internal/middleware"
	"github.com/noah-isme/curriculum-progress-api/internal/models"
	"github.com/noah-isme/curriculum-progress-api/internal/service"
	"github.com/noah-isme/curriculum-progress-api/pkg/config"
	"github.com/noah-isme/curriculum-progress-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/curriculum-progress-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/curriculum-progress-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP surface mounted by Setup.
type Handlers struct {
	Progress    *handler.ProgressHandler
	Major       *handler.MajorHandler
	LabProgress *handler.LabProgressHandler
	TrackingLog *handler.TrackingLogHandler
	Catalog     *handler.CatalogHandler
	Metrics     *handler.MetricsHandler
}

// Dependencies carries the shared services the middleware chain needs.
type Dependencies struct {
	Auth    *service.AuthService
	Metrics *service.MetricsService
	Logger  *zap.Logger
}

// Setup builds the gin engine with the global middleware chain and every route.
func Setup(cfg *config.Config, h Handlers, deps Dependencies) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics, "/metrics", "/health"))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admins := []string{string(models.RoleAdmin), string(models.RoleSuperAdmin)}
	adminOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	adminOrSelf := middleware.RBAC(append(admins, middleware.RoleSelf)...)
	staffOrSelf := middleware.RBAC(append(admins, string(models.RoleTeacher), middleware.RoleSelf)...)

	api := r.Group(cfg.APIPrefix)

	// signed tokens authorise downloads on their own
	api.GET("/tracking-logs/export/:token", h.TrackingLog.Download)

	authorized := api.Group("")
	authorized.Use(middleware.JWT(deps.Auth))
	{
		students := authorized.Group("/students/:studentId")
		{
			students.GET("/progress", staffOrSelf, h.Progress.List)
			students.GET("/courses/:courseId/progress", staffOrSelf, h.Progress.Get)
			students.PATCH("/courses/:courseId/progress", adminOrSelf, h.Progress.Update)
			students.POST("/courses/:courseId/progress/approve", adminOnly, h.Progress.Approve)
			students.POST("/courses/:courseId/progress/reject", adminOnly, h.Progress.Reject)
			students.POST("/courses/:courseId/progress/unlock", adminOnly, h.Progress.Unlock)

			students.GET("/semesters/:semesterId/access", staffOrSelf, h.Major.Access)
			students.POST("/major", adminOrSelf, h.Major.Select)

			students.GET("/lab-progress", staffOrSelf, h.LabProgress.List)
			students.POST("/lab-requirements/:requirementId/complete", adminOrSelf, h.LabProgress.Complete)
		}

		authorized.POST("/progress/bulk-approve", adminOnly, h.Progress.BulkApprove)
		authorized.DELETE("/lab-requirements/:requirementId", adminOnly, h.LabProgress.Delete)

		logs := authorized.Group("/tracking-logs", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleTeacher))
		{
			logs.GET("", h.TrackingLog.List)
			logs.POST("/export", h.TrackingLog.Export)
		}

		catalog := authorized.Group("/catalog")
		{
			catalog.GET("/semesters", h.Catalog.Semesters)
			catalog.GET("/semesters/:semesterId/courses", h.Catalog.Courses)
			catalog.GET("/majors/:majorId/courses", h.Catalog.MajorCourses)
		}
	}

	return r
}
