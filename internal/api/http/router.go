package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/guild-tickets/internal/api/http/handlers"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Categories     *handlers.CategoriesHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	tickets := v1.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/answers", cfg.Tickets.ListAnswers)
	tickets.Post("/:id/claim", cfg.Tickets.ClaimTicket)
	tickets.Post("/:id/unclaim", cfg.Tickets.UnclaimTicket)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
	tickets.Get("/:id/transcript", cfg.Tickets.GetTranscript)
	tickets.Get("/:id/archive", cfg.Tickets.GetArchiveState)

	v1.Get("/channels/:channelId/ticket", cfg.Tickets.GetTicketByChannel)

	guild := v1.Group("/guilds/:guildId", auth.RequireGuild("guildId"))
	guild.Get("/tickets", cfg.Tickets.ListTickets)
	guild.Get("/categories", cfg.Categories.ListCategories)
	guild.Post("/categories", auth.RequireAdministrator(), cfg.Categories.CreateCategory)

	categories := v1.Group("/categories/:id")
	categories.Get("/", cfg.Categories.GetCategory)
	categories.Patch("/", cfg.Categories.UpdateCategory)
	categories.Delete("/", cfg.Categories.DeleteCategory)
	categories.Post("/questions", cfg.Categories.AddQuestion)
	categories.Put("/questions/order", cfg.Categories.ReorderQuestions)
	categories.Patch("/questions/:questionId", cfg.Categories.UpdateQuestion)
	categories.Delete("/questions/:questionId", cfg.Categories.DeleteQuestion)
}
