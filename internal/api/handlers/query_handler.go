package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/rag"
	"github.com/immigration-rag/backend/pkg/logger"
)

type QueryHandler struct {
	service *rag.Service
}

func NewQueryHandler(service *rag.Service) *QueryHandler {
	return &QueryHandler{
		service: service,
	}
}

func (h *QueryHandler) Search(c *fiber.Ctx) error {
	var req struct {
		Query   string         `json:"query"`
		Limit   int            `json:"limit"`
		Filters map[string]any `json:"filters"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	if req.Query == "" {
		return badRequest(c, "Query is required")
	}

	results, err := h.service.SemanticSearchEnhanced(c.Context(), req.Query, req.Limit, req.Filters)
	if err != nil {
		return fail(c, err, "Failed to search")
	}

	return c.JSON(fiber.Map{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}

func (h *QueryHandler) EntityInsights(c *fiber.Ctx) error {
	entity, err := url.PathUnescape(c.Params("entity"))
	if err != nil {
		return badRequest(c, "Invalid entity")
	}

	insights, err := h.service.GetEntityInsights(c.Context(), entity)
	if err != nil {
		return fail(c, err, "Failed to build entity insights")
	}

	return c.JSON(insights)
}

func (h *QueryHandler) ValidatePath(c *fiber.Ctx) error {
	var req struct {
		Entities []string `json:"entities"`
		Country  string   `json:"country"`
	}

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.service.ValidateUserPath(c.Context(), req.Entities, req.Country)
	if err != nil {
		return fail(c, err, "Failed to validate path")
	}

	return c.JSON(result)
}

func (h *QueryHandler) Status(c *fiber.Ctx) error {
	st, err := h.service.Status(c.Context())
	if err != nil {
		return fail(c, err, "Failed to read status")
	}
	return c.JSON(st)
}
