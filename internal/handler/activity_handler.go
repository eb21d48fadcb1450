package handler

import (
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mergington-api/internal/dto"
	"github.com/noah-isme/mergington-api/internal/service"
	"github.com/noah-isme/mergington-api/internal/utils"
)

// Error messages returned by the enrollment endpoints.
const (
	msgActivityNotFound = "Activity not found"
	msgAlreadySignedUp  = "Student is already signed up"
	msgActivityFull     = "Activity is full"
	msgInvalidEmail     = "Invalid email address"
	msgNotSignedUp      = "Student is not signed up for this activity"
)

// ActivityHandler serves the activity directory and enrollment endpoints.
type ActivityHandler struct {
	service service.EnrollmentService
	logger  zerolog.Logger
}

// NewActivityHandler constructs an activity handler.
func NewActivityHandler(service service.EnrollmentService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register binds the activity routes. writeMiddleware runs in front of signup and unregister.
func (h *ActivityHandler) Register(router fiber.Router, writeMiddleware ...fiber.Handler) {
	router.Get("/", h.list)
	router.Post("/:activityName/signup", chain(writeMiddleware, h.signup)...)
	router.Delete("/:activityName/unregister", chain(writeMiddleware, h.unregister)...)
}

func (h *ActivityHandler) list(c *fiber.Ctx) error {
	directory, err := h.service.ListActivities(requestContext(c))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list activities")
		return utils.SendError(c, fiber.StatusInternalServerError, "Failed to load activities")
	}

	return c.JSON(directory)
}

func (h *ActivityHandler) signup(c *fiber.Ctx) error {
	activityName, err := activityNameParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid activity name")
	}
	email := service.NormalizeEmail(c.Query("email"))

	outcome, err := h.service.Enroll(requestContext(c), activityName, email)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("activity", activityName).Msg("signup failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "Failed to process signup")
	}

	switch outcome {
	case service.OutcomeEnrolled:
		return utils.SendSuccess(c, fmt.Sprintf("Signed up %s for %s", email, activityName), dto.SignupResponse{Activity: activityName, Email: email})
	case service.OutcomeActivityNotFound:
		return sendOutcomeError(c, fiber.StatusNotFound, msgActivityNotFound, string(outcome))
	case service.OutcomeDuplicateEnrollment:
		return sendOutcomeError(c, fiber.StatusBadRequest, msgAlreadySignedUp, string(outcome))
	case service.OutcomeCapacityExceeded:
		return sendOutcomeError(c, fiber.StatusBadRequest, msgActivityFull, string(outcome))
	case service.OutcomeInvalidEmail:
		return sendOutcomeError(c, fiber.StatusUnprocessableEntity, msgInvalidEmail, string(outcome))
	default:
		requestLogger(h.logger, c).Error().Str("outcome", string(outcome)).Msg("unknown enrollment outcome")
		return utils.SendError(c, fiber.StatusInternalServerError, "Failed to process signup")
	}
}

func (h *ActivityHandler) unregister(c *fiber.Ctx) error {
	activityName, err := activityNameParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid activity name")
	}
	email := service.NormalizeEmail(c.Query("email"))

	outcome, err := h.service.Unregister(requestContext(c), activityName, email)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("activity", activityName).Msg("unregister failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "Failed to process unregister")
	}

	switch outcome {
	case service.UnregisterRemoved:
		return utils.SendSuccess(c, fmt.Sprintf("Unregistered %s from %s", email, activityName), dto.SignupResponse{Activity: activityName, Email: email})
	case service.UnregisterActivityNotFound:
		return sendOutcomeError(c, fiber.StatusNotFound, msgActivityNotFound, string(outcome))
	case service.UnregisterNotEnrolled:
		return sendOutcomeError(c, fiber.StatusBadRequest, msgNotSignedUp, string(outcome))
	case service.UnregisterInvalidEmail:
		return sendOutcomeError(c, fiber.StatusUnprocessableEntity, msgInvalidEmail, string(outcome))
	default:
		requestLogger(h.logger, c).Error().Str("outcome", string(outcome)).Msg("unknown unregister outcome")
		return utils.SendError(c, fiber.StatusInternalServerError, "Failed to process unregister")
	}
}

func activityNameParam(c *fiber.Ctx) (string, error) {
	return url.PathUnescape(c.Params("activityName"))
}

func sendOutcomeError(c *fiber.Ctx, status int, message, outcome string) error {
	return utils.SendErrorWithData(c, status, message, fiber.Map{"outcome": outcome})
}
