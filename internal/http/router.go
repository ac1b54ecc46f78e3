package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tutorlink/tutorlink/internal/auth"
	"github.com/tutorlink/tutorlink/internal/cache"
	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/domain/user"
	"github.com/tutorlink/tutorlink/internal/http/handlers"
	"github.com/tutorlink/tutorlink/internal/http/middlewares"
	"github.com/tutorlink/tutorlink/internal/observability"
	"github.com/tutorlink/tutorlink/internal/queue/redisclient"
	"github.com/tutorlink/tutorlink/internal/repo/postgres"
	"github.com/tutorlink/tutorlink/internal/uploads"
)

const maxJSONBodyBytes = 1 << 20 // 1MB is plenty for every JSON route

// NewRouter wires repositories, handlers and the middleware chain. redisCl is
// optional; without it rate limiting falls back to the in-process store.
func NewRouter(
	cfg config.Config,
	log *slog.Logger,
	pool *pgxpool.Pool,
	redisCl *redisclient.Client,
	prom *observability.Prom,
	uploader uploads.Uploader,
) (*gin.Engine, error) {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(otelgin.Middleware("tutorlink-api"))
	if prom != nil {
		r.Use(prom.HTTPMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.AllowedOrigins))

	// health

	pingDB := func(ctx context.Context) error {
		if pool == nil {
			return nil
		}
		return pool.Ping(ctx)
	}

	var pingRedis func(ctx context.Context) error
	if redisCl != nil {
		pingRedis = redisCl.Ping
	}

	health := handlers.NewHealthHandler(pingDB, pingRedis)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// wire up repositories

	usersRepo := postgres.NewUsersRepo(pool, prom)
	refreshRepo := postgres.NewRefreshTokensRepo(pool, prom)
	resetRepo := postgres.NewResetTokensRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	userCache := cache.New(30 * time.Second)

	authHandler := handlers.NewAuthHandler(
		usersRepo, jwtManager, refreshRepo, resetRepo, jobsRepo, uploader, prom, cfg)
	accountsHandler := handlers.NewAccountsHandler(usersRepo, userCache)

	authMW := middlewares.NewAuthMiddleware(jwtManager)

	// credential endpoints share one limiter keyed by client IP
	var limiterStore middlewares.RateLimitStore = middlewares.NewLocalStore()
	if redisCl != nil {
		limiterStore = redisCl
	}
	limiter := middlewares.NewRateLimiter(limiterStore, cfg.AuthRateLimit, cfg.AuthRateWindow)

	authGroup := r.Group("/auth", limiter.Middleware(middlewares.KeyByIP))
	{
		jsonOnly := authGroup.Group("",
			middlewares.RequireJSON(),
			middlewares.MaxBodyBytes(maxJSONBodyBytes),
		)
		jsonOnly.POST("/sign-up", authHandler.SignUp)
		jsonOnly.POST("/sign-in", authHandler.SignIn)
		jsonOnly.POST("/refresh-tokens", authHandler.Refresh)
		jsonOnly.POST("/password/forgot", authHandler.ForgotPassword)
		jsonOnly.POST("/password/reset", authHandler.ResetPassword)

		// multipart, so no JSON content-type gate; the uploader enforces size
		authGroup.POST("/sign-up-with-photo",
			middlewares.MaxBodyBytes(uploads.MaxPhotoBytes+maxJSONBodyBytes),
			authHandler.SignUpWithPhoto)

		// logout body is optional
		authGroup.POST("/logout", authHandler.Logout)
	}

	authed := r.Group("", authMW.RequireAuth())
	{
		authed.GET("/me", accountsHandler.Me)

		authed.GET("/admin/users",
			authMW.RequireRole(user.RoleAdmin), accountsHandler.AdminListUsers)

		adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)
		adminJobs := authed.Group("/admin/jobs", authMW.RequireRole(user.RoleAdmin))
		adminJobs.GET("", adminJobsHandler.List)
		adminJobs.GET("/:id", adminJobsHandler.GetByID)
		adminJobs.POST("/:id/retry", adminJobsHandler.Retry)
		adminJobs.POST("/reprocess-dead", adminJobsHandler.ReprocessDead)

		authed.GET("/tutors/me",
			authMW.RequireRole(user.RoleTutor), accountsHandler.TutorGetMe)
		authed.PUT("/tutors/me",
			authMW.RequireRole(user.RoleTutor),
			middlewares.RequireJSON(),
			middlewares.MaxBodyBytes(maxJSONBodyBytes),
			accountsHandler.TutorUpdateMe)

		authed.GET("/parents/me/children",
			authMW.RequireRole(user.RoleParent), accountsHandler.ParentListChildren)
	}

	if dir := cfg.UploadDir; dir != "" {
		r.Static("/uploads", dir)
	}

	return r, nil
}
