// Package api exposes the admin HTTP surface: message ingest, analysis
// runs, stored summaries and provider management.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/api/middleware"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/summarize"
)

// NewServer builds the fiber app with all routes registered.
func NewServer(cfg *config.Config, svc *summarize.Service, st *store.Store) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "tgmax-summarizer",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1", middleware.AdminOnly(cfg.Auth))

	chats := v1.Group("/chats/:chat_id")
	chats.Post("/messages", IngestMessages(st))
	chats.Post("/summarize", Summarize(svc))
	chats.Get("/summaries", ListSummaries(st))
	chats.Get("/summaries/:date", GetSummary(st))
	chats.Delete("/summaries/:date", DeleteSummary(st))

	provs := v1.Group("/providers")
	provs.Get("/", ListProviders(svc))
	provs.Post("/test", TestProviders(svc))
	provs.Get("/:name/models", ProviderModels(svc))

	return app
}
