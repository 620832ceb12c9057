package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/infermed/backend/internal/llm"
)

var (
	// Drug names: letters, digits, spaces and the punctuation found in salt
	// and brand names.
	drugNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} .,'()/+-]*$`)
	markupPattern   = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxNameLength     int
	MaxQuestionLength int
	Logger            *zap.Logger
}

type interactionBody struct {
	DrugA    *string `json:"drug_a"`
	DrugB    *string `json:"drug_b"`
	Mode     string  `json:"mode"`
	Question string  `json:"question"`
}

// Middleware rejects malformed interaction requests before they reach the
// engine. Other routes pass through after the content type check.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 100
	}
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
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

		if !strings.HasSuffix(c.Path(), "/interactions") {
			return c.Next()
		}

		var body interactionBody
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if msg := checkDrugName(body.DrugA, cfg.MaxNameLength); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "drug_a " + msg})
		}
		if msg := checkDrugName(body.DrugB, cfg.MaxNameLength); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "drug_b " + msg})
		}

		if !llm.KnownMode(body.Mode) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "mode must be one of patient, doctor, pharma",
			})
		}

		if len(body.Question) > cfg.MaxQuestionLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
			})
		}
		if markupPattern.MatchString(body.Question) {
			cfg.Logger.Warn("Rejected question with markup", zap.String("ip", c.IP()))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid question content",
			})
		}

		return c.Next()
	}
}

func checkDrugName(v *string, maxLen int) string {
	if v == nil {
		return "is required"
	}
	name := strings.TrimSpace(strings.ReplaceAll(*v, "\x00", ""))
	switch {
	case name == "":
		return "is required"
	case len(name) > maxLen:
		return "exceeds maximum length"
	case !drugNamePattern.MatchString(name):
		return "contains invalid characters"
	}
	return ""
}
