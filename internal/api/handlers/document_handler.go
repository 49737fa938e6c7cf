package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/rag"
	"github.com/immigration-rag/backend/pkg/logger"
)

const maxBatchDocuments = 100

type DocumentHandler struct {
	service *rag.Service
}

func NewDocumentHandler(service *rag.Service) *DocumentHandler {
	return &DocumentHandler{
		service: service,
	}
}

type documentRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url"`
}

func (r documentRequest) input() rag.DocumentInput {
	return rag.DocumentInput{Title: r.Title, Content: r.Content, SourceURL: r.SourceURL}
}

// UploadDocument enriches and indexes one document.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req documentRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest(c, "content is required")
	}

	report, err := h.service.Ingest(c.Context(), req.input())
	if err != nil {
		return fail(c, err, "Failed to process document")
	}

	return c.Status(fiber.StatusCreated).JSON(report)
}

// ProcessDocument returns the enriched records without indexing them.
func (h *DocumentHandler) ProcessDocument(c *fiber.Ctx) error {
	var req documentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest(c, "content is required")
	}

	records, err := h.service.ProcessDocumentEnhanced(c.Context(), req.Title, req.Content, req.SourceURL)
	if err != nil {
		return fail(c, err, "Failed to process document")
	}

	return c.JSON(fiber.Map{
		"records": records,
		"count":   len(records),
	})
}

func (h *DocumentHandler) UploadBatch(c *fiber.Ctx) error {
	var req struct {
		Documents []documentRequest `json:"documents"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if len(req.Documents) == 0 {
		return badRequest(c, "documents is required")
	}
	if len(req.Documents) > maxBatchDocuments {
		return badRequest(c, "too many documents in one batch")
	}

	docs := make([]rag.DocumentInput, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = d.input()
	}

	report := h.service.IngestBatch(c.Context(), docs)
	status := fiber.StatusOK
	if report.Succeeded == 0 {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(report)
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.DeleteDocument(c.Context(), id); err != nil {
		return fail(c, err, "Failed to delete document")
	}
	return c.JSON(fiber.Map{
		"message":     "Document deleted",
		"document_id": id,
	})
}

func (h *DocumentHandler) ClearCollection(c *fiber.Ctx) error {
	if err := h.service.ClearCollection(c.Context()); err != nil {
		return fail(c, err, "Failed to clear collection")
	}
	return c.JSON(fiber.Map{"message": "Collection cleared"})
}
