package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/query"
	"github.com/immigration-rag/backend/internal/vector"
	"github.com/immigration-rag/backend/pkg/logger"
)

// fail maps err to a status and writes the error body. Caller mistakes are
// reported verbatim; anything else gets the generic message.
func fail(c *fiber.Ctx, err error, message string) error {
	status := statusOf(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(message, zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": message})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidArgument),
		errors.Is(err, vector.ErrInvalidFilter),
		errors.Is(err, vector.ErrUnknownField):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}
