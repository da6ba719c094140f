// Package server contains the HTTP and WebSocket surface of the engagement engine.
package server

import (
	"context"
	"log/slog"
	"time"

	"troodie/internal/bootstrap"
	"troodie/internal/config"
	"troodie/internal/engagement"
	"troodie/internal/featureflags"
	"troodie/internal/middleware"
	"troodie/internal/models"
	"troodie/internal/notifications"
	"troodie/internal/realtime"
	"troodie/internal/repository"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// changeFeed is what the engine and the websocket hub need from the realtime
// transport: the Redis notifier across instances, or the in-process broker.
type changeFeed interface {
	engagement.Publisher
	realtime.Feed
	notifications.StatsSource
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	feed           changeFeed
	hub            *notifications.Hub
	featureFlags   *featureflags.Manager
	engagement     *engagement.Service
	sessions       *engagement.SessionStore
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{SeedDemo: cfg.SeedDemo})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// A nil redisClient keeps realtime delivery inside this process.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	middleware.InitMiddleware(cfg)

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("troodie-engagement"),
		userRepo:       repository.NewUserRepository(db),
		postRepo:       repository.NewPostRepository(db),
		hub:            notifications.NewHub(),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	if bad := s.featureFlags.Invalid(); len(bad) > 0 {
		middleware.Logger.Warn("ignoring malformed feature flags", slog.Any("entries", bad))
	}
	if unknown := s.featureFlags.Unknown(); len(unknown) > 0 {
		middleware.Logger.Warn("feature flags set but never read", slog.Any("flags", unknown))
	}

	if redisClient != nil {
		s.feed = notifications.NewNotifier(redisClient)
	} else {
		s.feed = realtime.NewBroker()
	}

	s.engagement = engagement.NewService(engagement.Store{
		Likes:    repository.NewLikeRepository(db),
		Saves:    repository.NewSaveRepository(db),
		Comments: repository.NewCommentRepository(db),
		Shares:   repository.NewShareRepository(db),
		Posts:    s.postRepo,
		Authors:  s.userRepo,
	}, engagement.Options{
		TTL:             cfg.StatsCacheTTL(),
		CommentPageSize: cfg.CommentPageSize,
		ReplyPageSize:   cfg.ReplyPageSize,
		ShareBaseURL:    cfg.ShareBaseURL,
		Flags:           s.featureFlags,
		IsAdmin:         s.isAdminByUserID,
		Publisher:       s.feed,
		Feed:            s.feed,
	})
	s.sessions = engagement.NewSessionStore(s.engagement, cfg.SessionIdleTimeout(), cfg.MaxSessions)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Session-ID, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		ExposeHeaders:    middleware.SessionHeader,
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// Public reads; a bearer token adds the viewer's like/save flags.
	public := api.Group("", middleware.OptionalAuth)
	public.Get("/posts/:id/stats", s.GetPostStats)
	public.Post("/posts/stats/batch", s.BatchGetPostStats)
	// Specific /:id/comments/count before the generic listing.
	public.Get("/posts/:id/comments/count", s.GetCommentCount)
	public.Get("/posts/:id/comments", s.ListComments)
	public.Get("/comments/:id/replies", s.ListReplies)
	public.Post("/comments/reply-counts", s.GetReplyCounts)
	public.Post("/posts/:id/copy-link", s.CopyLink)
	public.Post("/posts/:id/share", s.SharePost)

	protected := api.Group("", middleware.AuthRequired)
	protected.Post("/posts/:id/like/toggle", middleware.RateLimit(
		s.redis, 60, time.Minute, "toggle"), s.ToggleLike)
	protected.Post("/posts/:id/save/toggle", middleware.RateLimit(
		s.redis, 60, time.Minute, "toggle"), s.ToggleSave)
	protected.Post("/posts/:id/comments", middleware.RateLimit(
		s.redis, 10, time.Minute, "create_comment"), s.CreateComment)
	protected.Put("/comments/:id", s.UpdateComment)
	protected.Delete("/posts/:id/comments/:commentId", s.DeleteComment)
	protected.Post("/posts/:id/engagement/invalidate", s.AdminRequired(), s.InvalidateEngagement)

	ws := app.Group("/ws", middleware.OptionalWebSocketAuth, wsUpgradeRequired)
	ws.Get("/posts/:id/comments", s.prepareCommentStream, s.CommentStreamHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional: without
// it the service runs single-instance on the in-process broker.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"sessions": s.sessions.Len(),
		"time":     time.Now(),
	})
}

// App builds the Fiber app with middleware and routes. Start uses it; tests
// drive it with app.Test.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Troodie Engagement API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.App()

	if err := s.hub.StartWiring(s.shutdownCtx, s.feed); err != nil {
		middleware.Logger.Error("failed to start stats wiring", slog.String("hub", s.hub.Name()), slog.String("error", err.Error()))
	}
	go s.sessions.Run(s.shutdownCtx)

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down hub", slog.String("error", err.Error()))
	}
	s.sessions.Close()

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
