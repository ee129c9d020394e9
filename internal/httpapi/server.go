package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pushrelay/dispatcher/internal/idempotency"
	"github.com/pushrelay/dispatcher/internal/outbox"
)

// New builds the fiber.App exposing the ingest, status, health, and DLQ
// admin routes.
func New(store outbox.Store, idem *idempotency.Checker) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "pushrelay-dispatcher",
	})

	app.Use(observability())

	h := NewHandler(store, idem)

	app.Get("/health", h.Health)
	app.Post("/notifications", h.Ingest)
	app.Get("/notifications/dlq", h.ListDLQ)
	app.Get("/notifications/dlq/stats", h.DLQStats)
	app.Post("/notifications/dlq/:id/replay", h.ReplayDLQ)
	app.Get("/notifications/:id/attempts", h.Attempts)
	app.Get("/notifications/:id", h.Status)

	return app
}
