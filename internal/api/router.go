package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/immigration-rag/backend/internal/api/handlers"
	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/middleware/ratelimit"
	"github.com/immigration-rag/backend/internal/middleware/security"
	"github.com/immigration-rag/backend/internal/middleware/validation"
	"github.com/immigration-rag/backend/internal/rag"
	"github.com/immigration-rag/backend/pkg/config"
	"github.com/immigration-rag/backend/pkg/logger"
)

// Server is the HTTP surface over a rag.Service.
type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg config.ServerConfig, svc *rag.Service) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimitPerMinute,
		Logger:               logger.GetLogger(),
	})

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	if cfg.Development {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	documents := handlers.NewDocumentHandler(svc)
	queries := handlers.NewQueryHandler(svc)

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxDocumentSize: cfg.BodyLimit,
			Logger:          logger.GetLogger(),
		}),
	)

	api.Post("/documents", documents.UploadDocument)
	api.Post("/documents/process", documents.ProcessDocument)
	api.Post("/documents/batch", documents.UploadBatch)
	api.Delete("/documents/:id", documents.DeleteDocument)
	api.Delete("/collection", documents.ClearCollection)

	api.Post("/search", queries.Search)
	api.Get("/entities/:entity/insights", queries.EntityInsights)
	api.Post("/paths/validate", queries.ValidatePath)
	api.Get("/status", queries.Status)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.App.Shutdown()
}
