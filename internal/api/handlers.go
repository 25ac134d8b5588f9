package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/api/middleware"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/summarize"
)

// errorJSON formats an outbound error. The "❌ " prefix is the legacy wire
// contract of this API; internally errors stay unprefixed.
func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": "❌ " + msg,
	})
}

type ingestRequest struct {
	Date     string                  `json:"date"`
	Messages []providers.ChatMessage `json:"messages"`
}

// IngestMessages stores a batch of chat messages for one day.
func IngestMessages(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID := c.Params("chat_id")

		var req ingestRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
		if req.Date == "" {
			return errorJSON(c, fiber.StatusBadRequest, "date is required")
		}
		if len(req.Messages) == 0 {
			return errorJSON(c, fiber.StatusBadRequest, "messages are required")
		}

		inserted, err := st.AddMessages(c.UserContext(), chatID, req.Date, req.Messages)
		if err != nil {
			logrus.WithError(err).Error("message ingest failed")
			return errorJSON(c, fiber.StatusInternalServerError, "storing messages failed")
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"chat_id":  chatID,
			"date":     req.Date,
			"received": len(req.Messages),
			"inserted": inserted,
		})
	}
}

type summarizeRequest struct {
	Date     string `json:"date"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Type     string `json:"type"`
}

// Summarize runs the analysis pipeline for one chat day. type "structured"
// selects the classification/extraction pipeline; anything else runs the
// digest pipeline.
func Summarize(svc *summarize.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID := c.Params("chat_id")

		var req summarizeRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
		if req.Date == "" {
			return errorJSON(c, fiber.StatusBadRequest, "date is required")
		}

		svcReq := summarize.Request{
			ChatID:   chatID,
			Date:     req.Date,
			Provider: req.Provider,
			Model:    req.Model,
			UserID:   middleware.UserID(c),
		}

		if req.Type == "structured" {
			result, err := svc.AnalyzeStructured(c.UserContext(), svcReq)
			if err != nil {
				return analysisError(c, err)
			}
			return c.JSON(fiber.Map{
				"result": result,
				"text":   result.Summary,
			})
		}

		result, err := svc.Analyze(c.UserContext(), svcReq)
		if err != nil {
			return analysisError(c, err)
		}
		return c.JSON(fiber.Map{
			"result": result,
			"text":   result.ComposeText(),
		})
	}
}

func analysisError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, summarize.ErrNoMessages):
		return errorJSON(c, fiber.StatusNotFound, "no messages for this chat day")
	case errors.Is(err, summarize.ErrNoProvider):
		return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		logrus.WithError(err).Error("analysis failed")
		return errorJSON(c, fiber.StatusBadGateway, err.Error())
	}
}

// ListSummaries lists the dates of one chat that have stored summaries.
func ListSummaries(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID := c.Params("chat_id")

		listings, err := st.AvailableSummaries(c.UserContext(), chatID)
		if err != nil {
			logrus.WithError(err).Error("listing summaries failed")
			return errorJSON(c, fiber.StatusInternalServerError, "listing summaries failed")
		}
		return c.JSON(fiber.Map{
			"chat_id":   chatID,
			"summaries": listings,
		})
	}
}

// GetSummary returns one stored summary, preferring the improved variant
// unless ?type=summary asks for the plain one.
func GetSummary(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID := c.Params("chat_id")
		date := c.Params("date")

		typ := store.SummaryType(c.Query("type", string(store.SummaryImproved)))
		rec, err := st.Summary(c.UserContext(), chatID, date, typ)
		if err != nil {
			logrus.WithError(err).Error("loading summary failed")
			return errorJSON(c, fiber.StatusInternalServerError, "loading summary failed")
		}
		if rec == nil && typ == store.SummaryImproved {
			rec, err = st.Summary(c.UserContext(), chatID, date, store.SummaryPlain)
			if err != nil {
				logrus.WithError(err).Error("loading summary failed")
				return errorJSON(c, fiber.StatusInternalServerError, "loading summary failed")
			}
		}
		if rec == nil {
			return errorJSON(c, fiber.StatusNotFound, "no summary for this chat day")
		}
		return c.JSON(rec)
	}
}

// DeleteSummary removes every stored variant of one chat day.
func DeleteSummary(st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		chatID := c.Params("chat_id")
		date := c.Params("date")

		deleted, err := st.DeleteSummaries(c.UserContext(), chatID, date)
		if err != nil {
			logrus.WithError(err).Error("deleting summaries failed")
			return errorJSON(c, fiber.StatusInternalServerError, "deleting summaries failed")
		}
		if deleted == 0 {
			return errorJSON(c, fiber.StatusNotFound, "no summary for this chat day")
		}
		return c.JSON(fiber.Map{
			"chat_id": chatID,
			"date":    date,
			"deleted": deleted,
		})
	}
}

// ListProviders enumerates the registered backends.
func ListProviders(svc *summarize.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"providers": svc.ListProviders(),
		})
	}
}

// TestProviders probes every backend and reports availability per name.
func TestProviders(svc *summarize.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"results": svc.TestAllProviders(c.UserContext()),
		})
	}
}

// ProviderModels lists the selectable models of one backend.
func ProviderModels(svc *summarize.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")

		models, err := svc.ProviderModels(c.UserContext(), name)
		if err != nil {
			if errors.Is(err, summarize.ErrNoProvider) {
				return errorJSON(c, fiber.StatusNotFound, err.Error())
			}
			return errorJSON(c, fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(fiber.Map{
			"provider": name,
			"models":   models,
		})
	}
}
