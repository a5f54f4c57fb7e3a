package rest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application"
	"github.com/Builder-Lawyers/billing-backend/internal/application/dto"
	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	"github.com/Builder-Lawyers/billing-backend/pkg/logctx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
)

const requestIDKey = "requestid"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	handlers *application.Handlers
	db       Pinger
}

func NewServer(handlers *application.Handlers, db Pinger) *Server {
	return &Server{handlers: handlers, db: db}
}

func RegisterHandlers(app *fiber.App, s *Server, gatherer prometheus.Gatherer) {
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		ContextKey: requestIDKey,
	}))

	app.Post("/webhooks/billing", s.BillingWebhook)
	app.Get("/healthz", s.Health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(gatherer)))
}

func (s *Server) BillingWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer once the handler returns
	payload := append([]byte(nil), c.Body()...)
	requestID, _ := c.Locals(requestIDKey).(string)
	ctx := logctx.WithLogger(c.UserContext(), slog.With("requestID", requestID))

	_, err := s.handlers.Webhook.Handle(ctx, payload, c.Get("Stripe-Signature"))
	if err != nil {
		var sigErr errs.SignatureError
		if errors.As(err, &sigErr) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(dto.WebhookResponse{Received: true})
}

func (s *Server) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		slog.Error("health check failed", "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.HealthResponse{Status: "unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(dto.HealthResponse{Status: "ok"})
}
