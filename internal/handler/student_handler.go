package handler

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mergington-api/internal/service"
	"github.com/noah-isme/mergington-api/internal/utils"
)

// StudentHandler exposes the activities a student is enrolled in.
type StudentHandler struct {
	service service.EnrollmentService
	logger  zerolog.Logger
}

// NewStudentHandler constructs a student handler.
func NewStudentHandler(service service.EnrollmentService, logger zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		service: service,
		logger:  logger.With().Str("component", "student_handler").Logger(),
	}
}

// Register binds the student routes.
func (h *StudentHandler) Register(router fiber.Router) {
	router.Get("/:email/activities", h.activities)
}

func (h *StudentHandler) activities(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		return utils.SendError(c, fiber.StatusUnprocessableEntity, msgInvalidEmail)
	}

	views, err := h.service.StudentActivities(requestContext(c), email)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			return utils.SendError(c, fiber.StatusUnprocessableEntity, msgInvalidEmail)
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load student activities")
		return utils.SendError(c, fiber.StatusInternalServerError, "Failed to load student activities")
	}

	return utils.SendSuccess(c, "student activities", views)
}
