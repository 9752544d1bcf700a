package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inkpress/inkpress/app/controllers"
	"github.com/inkpress/inkpress/internal/pkg/middleware"
	"github.com/inkpress/inkpress/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply MemberContext middleware globally as first middleware
	app.Use(middleware.MemberContextMiddleware)

	// Webhook ingestion lives outside /api: gateways call it unauthenticated
	// and rate limiting must not drop redeliveries.
	app.Post("/webhooks/:gateway", controllers.HandleGatewayWebhook)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
