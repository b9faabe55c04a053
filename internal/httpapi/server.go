package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"

	"github.com/spendflow/transfer-ledger/internal/ledger"
	"github.com/spendflow/transfer-ledger/internal/log"
)

type Option func(*Server)

// WithIdempotencyCache replays stored responses of POST /transfers for a
// repeated Idempotency-Key without reaching the ledger.
func WithIdempotencyCache(client *redis.Client, ttl time.Duration) Option {
	return func(s *Server) { s.cache = newResponseCache(client, ttl) }
}

type Server struct {
	ledger *ledger.Ledger
	logger log.Logger
	cache  *responseCache
}

// New builds the fiber app serving the ledger under /v1.
func New(l *ledger.Ledger, logger log.Logger, opts ...Option) *fiber.App {
	s := &Server{ledger: l, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(s.logRequests)

	api := app.Group("/v1")
	api.Get("/health", s.health)

	api.Post("/accounts", s.openAccount)
	api.Get("/accounts", s.listAccounts)
	api.Get("/accounts/:kind/:id", s.getAccount)
	api.Get("/accounts/:kind/:id/entries", s.accountEntries)

	api.Post("/transfers", s.idempotent, s.createTransfer)
	api.Get("/transfers", s.listTransfers)
	api.Get("/transfers/:id", s.getTransfer)
	api.Get("/transfers/:id/entries", s.transferEntries)

	api.Post("/cards/:id/transactions", s.recordCardTransaction)
	api.Post("/cards/:id/balance", s.updateCardBalance)

	return app
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = statusFor(err)
	}

	level := log.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = log.LevelError
	}
	s.logger.Log(c.UserContext(), level, "request",
		log.String("method", c.Method()),
		log.String("path", c.Path()),
		log.Int("status", status),
		log.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		log.String("duration", time.Since(start).String()))
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
