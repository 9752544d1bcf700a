package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/inkpress/inkpress/app/controllers"
	"github.com/inkpress/inkpress/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	auth := v1.Group("/auth")
	auth.Post("/register", controllers.HandleRegister)
	auth.Post("/login", controllers.HandleLogin)
	auth.Post("/logout", controllers.HandleLogout)

	v1.Post("/checkout", middleware.RequireAPISessionAuth, controllers.HandleCheckout)
	v1.Post("/billing-portal", middleware.RequireAPISessionAuth, controllers.HandleBillingPortal)
	v1.Get("/subscription/status", middleware.RequireAPISessionAuth, controllers.HandleSubscriptionStatus)
	v1.Get("/payments", middleware.RequireAPISessionAuth, controllers.HandlePaymentHistory)

	v1.Get("/articles", controllers.HandleListArticles)
	v1.Get("/articles/:slug", controllers.HandleGetArticle)
	v1.Post("/articles", middleware.RequireAPIAdmin, controllers.HandleCreateArticle)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
