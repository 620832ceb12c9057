package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/infermed/backend/internal/evidence"
	"github.com/infermed/backend/internal/query"
	"github.com/infermed/backend/pkg/logger"
)

// InteractionService is the part of the query engine the API needs.
type InteractionService interface {
	BuildContext(ctx context.Context, req query.Request) (evidence.Bundle, error)
	Answer(ctx context.Context, req query.Request) (*query.Response, error)
	CacheKey(q evidence.QueryContext) string
	Version() string
}

type InteractionHandler struct {
	engine InteractionService
}

func NewInteractionHandler(engine InteractionService) *InteractionHandler {
	return &InteractionHandler{
		engine: engine,
	}
}

type interactionRequest struct {
	query.Request
	// ContextOnly skips generation and returns the bundle alone.
	ContextOnly bool `json:"context_only"`
}

func (h *InteractionHandler) HandleInteraction(c *fiber.Ctx) error {
	var req interactionRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx := c.UserContext()

	if req.ContextOnly {
		bundle, err := h.engine.BuildContext(ctx, req.Request)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(fiber.Map{
			"cache_key": h.engine.CacheKey(bundle.Query),
			"version":   h.engine.Version(),
			"bundle":    bundle,
		})
	}

	resp, err := h.engine.Answer(ctx, req.Request)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *InteractionHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, query.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, evidence.ErrNoSources):
		logger.Error("No evidence source available", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "No evidence source is configured",
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": "Request timed out",
		})
	}
	logger.Error("Failed to process interaction query", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process query",
	})
}
