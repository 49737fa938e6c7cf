package validation

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength  int
	MaxDocumentSize int
	Logger          *zap.Logger
}

// Middleware rejects malformed bodies on the write and search endpoints
// before they reach a handler.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()
		switch {
		case strings.HasSuffix(path, "/search"):
			var req struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return invalid(c, "Invalid JSON format")
			}
			if strings.TrimSpace(req.Query) == "" {
				return invalid(c, "Query is required and must be a string")
			}
			if len(req.Query) > cfg.MaxQueryLength {
				return invalid(c, "Query exceeds maximum length")
			}
			if xssPattern.MatchString(req.Query) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("query", req.Query),
				)
				return invalid(c, "Invalid query content")
			}

		case strings.HasSuffix(path, "/documents"), strings.HasSuffix(path, "/documents/process"):
			var req struct {
				Content   string `json:"content"`
				SourceURL string `json:"source_url"`
			}
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return invalid(c, "Invalid JSON format")
			}
			if req.SourceURL != "" && !isValidURL(req.SourceURL) {
				return invalid(c, "Invalid URL format")
			}
			if len(req.Content) > cfg.MaxDocumentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document content exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func invalid(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}
