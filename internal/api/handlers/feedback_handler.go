package handlers

import (
	"context"
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/infermed/backend/internal/feedback"
	"github.com/infermed/backend/internal/storage/models"
	"github.com/infermed/backend/pkg/logger"
)

type FeedbackService interface {
	Record(ctx context.Context, rec models.FeedbackRecord) (map[string]float64, error)
	ReliabilityOf(key string) float64
	Stats(ctx context.Context) (models.FeedbackStats, error)
}

type FeedbackHandler struct {
	store FeedbackService
}

func NewFeedbackHandler(store FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{
		store: store,
	}
}

func (h *FeedbackHandler) RecordFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID          string   `json:"query_id"`
		QueryFingerprint string   `json:"query_fingerprint"`
		Rating           *float64 `json:"rating"`
		ItemKeys         []string `json:"item_keys"`
		Comment          string   `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Rating == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "rating is required",
		})
	}
	if req.QueryFingerprint == "" && req.QueryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_fingerprint or query_id is required",
		})
	}

	updated, err := h.store.Record(c.UserContext(), models.FeedbackRecord{
		QueryID:          req.QueryID,
		QueryFingerprint: req.QueryFingerprint,
		Rating:           *req.Rating,
		ItemKeys:         req.ItemKeys,
		Comment:          req.Comment,
	})
	if errors.Is(err, feedback.ErrInvalidRating) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		logger.Error("Failed to record feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reliability": updated,
	})
}

func (h *FeedbackHandler) GetReliability(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil || key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid item key",
		})
	}

	return c.JSON(fiber.Map{
		"key":         key,
		"reliability": h.store.ReliabilityOf(key),
	})
}

func (h *FeedbackHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.store.Stats(c.UserContext())
	if err != nil {
		logger.Error("Failed to load feedback stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load feedback stats",
		})
	}
	return c.JSON(stats)
}
