package server

import (
	"log"

	"trackhub/internal/auth"
	"trackhub/internal/catalog"
	"trackhub/internal/config"
	"trackhub/internal/db"
	"trackhub/internal/ingest"
	"trackhub/internal/store"
	"trackhub/internal/stream"
	"trackhub/internal/trajectory"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	Redis   *redis.Client
	Stream  *stream.Hub
	Catalog *catalog.Catalog
	// Store is nil when no database is configured; persistence routes then
	// answer 503.
	Store  *store.Store
	Ingest ingest.Options
}

// NewServer wires the HTTP API. q may be nil.
func NewServer(cfg config.Config, q db.TxQuerier, redisClient *redis.Client) *Server {
	app := fiber.New(fiber.Config{BodyLimit: 64 << 20})
	app.Use(recover.New())
	app.Use(logger.New())

	policy, err := trajectory.ParseUndefinedPolicy(cfg.UndefinedSpeed)
	if err != nil {
		log.Printf("%v, using fail", err)
	}

	s := &Server{
		App:     app,
		Cfg:     cfg,
		Redis:   redisClient,
		Stream:  stream.NewHub(redisClient),
		Catalog: catalog.New(),
		Ingest:  ingest.Options{Workers: cfg.IngestWorkers, Policy: policy},
	}
	if q != nil {
		s.Store = store.New(q, nil)
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret))
	registerCollectionRoutes(s.App.Group("/collections"), s, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
