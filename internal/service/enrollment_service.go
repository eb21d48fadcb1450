package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/mergington-api/internal/dto"
	"github.com/noah-isme/mergington-api/internal/middleware"
	"github.com/noah-isme/mergington-api/internal/observability"
	"github.com/noah-isme/mergington-api/internal/repository"
)

const (
	directoryCacheKey      = "activities:directory:v1"
	directoryGenerationKey = "activities:directory:generation"
)

// ErrInvalidEmail is returned by lookups keyed on a malformed email address.
var ErrInvalidEmail = errors.New("invalid email address")

// EnrollmentOutcome is the result of an enrollment attempt.
type EnrollmentOutcome string

// Possible enrollment outcomes.
const (
	OutcomeEnrolled            EnrollmentOutcome = "enrolled"
	OutcomeDuplicateEnrollment EnrollmentOutcome = "duplicate_enrollment"
	OutcomeCapacityExceeded    EnrollmentOutcome = "capacity_exceeded"
	OutcomeActivityNotFound    EnrollmentOutcome = "activity_not_found"
	OutcomeInvalidEmail        EnrollmentOutcome = "invalid_email"
)

// UnregisterOutcome is the result of an unregister attempt.
type UnregisterOutcome string

// Possible unregister outcomes.
const (
	UnregisterRemoved          UnregisterOutcome = "unregistered"
	UnregisterNotEnrolled      UnregisterOutcome = "not_enrolled"
	UnregisterActivityNotFound UnregisterOutcome = "activity_not_found"
	UnregisterInvalidEmail     UnregisterOutcome = "invalid_email"
)

// EnrollmentService decides signups. Rejections are reported as outcomes; the error return is
// reserved for storage failures.
type EnrollmentService interface {
	ListActivities(ctx context.Context) (dto.ActivityDirectory, error)
	Enroll(ctx context.Context, activityName, email string) (EnrollmentOutcome, error)
	Unregister(ctx context.Context, activityName, email string) (UnregisterOutcome, error)
	StudentActivities(ctx context.Context, email string) ([]dto.ActivityView, error)
}

type enrollmentService struct {
	repo      repository.RosterRepository
	cache     *redis.Client
	cacheTTL  time.Duration
	events    RosterEvents
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewEnrollmentService constructs the enrollment service. cache and events may be nil.
func NewEnrollmentService(repo repository.RosterRepository, cache *redis.Client, cacheTTL time.Duration, events RosterEvents, validate *validator.Validate, logger zerolog.Logger) EnrollmentService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &enrollmentService{
		repo:      repo,
		cache:     cache,
		cacheTTL:  cacheTTL,
		events:    events,
		validator: validate,
		logger:    logger.With().Str("component", "enrollment_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/mergington-api/internal/service/enrollment"),
	}
}

func (s *enrollmentService) ListActivities(ctx context.Context) (dto.ActivityDirectory, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.list_activities")
	defer span.End()

	cacheKey := s.directoryCacheKey(ctx)
	if cacheKey != "" {
		if cached, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var items []dto.ActivityView
			if err := json.Unmarshal(cached, &items); err == nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				observability.DirectoryRequests().WithLabelValues("hit").Inc()
				return dto.ActivityDirectory{Items: items}, nil
			}
		}
	}

	rosters, err := s.repo.ListActivities(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list activities failed")
		observability.DirectoryRequests().WithLabelValues("error").Inc()
		return dto.ActivityDirectory{}, err
	}

	items := make([]dto.ActivityView, 0, len(rosters))
	for _, roster := range rosters {
		items = append(items, dto.NewActivityView(roster.Activity, roster.Emails))
	}

	if cacheKey != "" {
		if payload, err := json.Marshal(items); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write activity directory cache")
			}
		}
	}

	span.SetAttributes(attribute.Bool("cache.hit", false), attribute.Int("activities.count", len(items)))
	observability.DirectoryRequests().WithLabelValues("miss").Inc()

	return dto.ActivityDirectory{Items: items}, nil
}

func (s *enrollmentService) Enroll(ctx context.Context, activityName, email string) (EnrollmentOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.enroll", trace.WithAttributes(attribute.String("activity.name", activityName)))
	defer span.End()

	normalized, ok := s.normalizeEmail(email)
	if !ok {
		return s.finishEnroll(span, OutcomeInvalidEmail), nil
	}

	metadata := map[string]interface{}{"operation": "signup"}
	if correlationID := middleware.CorrelationIDFromContext(ctx); correlationID != "" {
		metadata["correlation_id"] = correlationID
	}

	// The write must finish or roll back even if the caller gives up.
	result, err := s.repo.TryInsertEnrollment(context.WithoutCancel(ctx), activityName, normalized, metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrollment storage failure")
		observability.EnrollmentOutcomes().WithLabelValues("signup", "error").Inc()
		s.logger.Error().Err(err).Str("activity", activityName).Msg("enrollment failed")
		return "", err
	}

	var outcome EnrollmentOutcome
	switch result {
	case repository.InsertResultInserted:
		outcome = OutcomeEnrolled
	case repository.InsertResultAlreadyEnrolled:
		outcome = OutcomeDuplicateEnrollment
	case repository.InsertResultCapacityExceeded:
		outcome = OutcomeCapacityExceeded
	case repository.InsertResultActivityNotFound:
		outcome = OutcomeActivityNotFound
	default:
		return "", fmt.Errorf("unexpected insert result %q", result)
	}

	if outcome == OutcomeEnrolled {
		s.rosterChanged(ctx, dto.RosterEventEnrolled, activityName, normalized)
	}

	return s.finishEnroll(span, outcome), nil
}

func (s *enrollmentService) Unregister(ctx context.Context, activityName, email string) (UnregisterOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "enrollment.unregister", trace.WithAttributes(attribute.String("activity.name", activityName)))
	defer span.End()

	normalized, ok := s.normalizeEmail(email)
	if !ok {
		return s.finishUnregister(span, UnregisterInvalidEmail), nil
	}

	result, err := s.repo.RemoveEnrollment(context.WithoutCancel(ctx), activityName, normalized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unregister storage failure")
		observability.EnrollmentOutcomes().WithLabelValues("unregister", "error").Inc()
		s.logger.Error().Err(err).Str("activity", activityName).Msg("unregister failed")
		return "", err
	}

	var outcome UnregisterOutcome
	switch result {
	case repository.RemoveResultRemoved:
		outcome = UnregisterRemoved
	case repository.RemoveResultNotEnrolled:
		outcome = UnregisterNotEnrolled
	case repository.RemoveResultActivityNotFound:
		outcome = UnregisterActivityNotFound
	default:
		return "", fmt.Errorf("unexpected remove result %q", result)
	}

	if outcome == UnregisterRemoved {
		s.rosterChanged(ctx, dto.RosterEventUnregistered, activityName, normalized)
	}

	return s.finishUnregister(span, outcome), nil
}

func (s *enrollmentService) StudentActivities(ctx context.Context, email string) ([]dto.ActivityView, error) {
	normalized, ok := s.normalizeEmail(email)
	if !ok {
		return nil, ErrInvalidEmail
	}

	activities, err := s.repo.ListByStudent(ctx, normalized)
	if err != nil {
		return nil, err
	}

	views := make([]dto.ActivityView, 0, len(activities))
	for _, activity := range activities {
		roster, err := s.repo.GetActivity(ctx, activity.Name)
		if err != nil {
			return nil, err
		}
		views = append(views, dto.NewActivityView(roster.Activity, roster.Emails))
	}

	return views, nil
}

// NormalizeEmail returns the form an email is stored and compared in. Only surrounding
// whitespace is dropped; case is significant.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func (s *enrollmentService) normalizeEmail(email string) (string, bool) {
	normalized := NormalizeEmail(email)
	if err := s.validator.Struct(dto.EmailInput{Email: normalized}); err != nil {
		return "", false
	}
	return normalized, true
}

func (s *enrollmentService) finishEnroll(span trace.Span, outcome EnrollmentOutcome) EnrollmentOutcome {
	span.SetAttributes(attribute.String("enrollment.outcome", string(outcome)))
	observability.EnrollmentOutcomes().WithLabelValues("signup", string(outcome)).Inc()
	return outcome
}

func (s *enrollmentService) finishUnregister(span trace.Span, outcome UnregisterOutcome) UnregisterOutcome {
	span.SetAttributes(attribute.String("enrollment.outcome", string(outcome)))
	observability.EnrollmentOutcomes().WithLabelValues("unregister", string(outcome)).Inc()
	return outcome
}

// rosterChanged bumps the directory cache generation and announces the change. Failures here
// are logged only; the roster write has already committed.
func (s *enrollmentService) rosterChanged(ctx context.Context, eventType, activityName, email string) {
	ctx = context.WithoutCancel(ctx)

	if s.cache != nil {
		if err := s.cache.Incr(ctx, directoryGenerationKey).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate activity directory cache")
		}
	}

	if s.events == nil {
		return
	}

	roster, err := s.repo.GetActivity(ctx, activityName)
	if err != nil {
		s.logger.Warn().Err(err).Str("activity", activityName).Msg("failed to load roster for event")
		return
	}

	s.events.Publish(ctx, dto.RosterEvent{
		Type:            eventType,
		Activity:        activityName,
		Email:           email,
		Participants:    roster.Count,
		MaxParticipants: roster.Activity.Capacity,
		OccurredAt:      time.Now().UTC(),
	})
}

// directoryCacheKey returns the cache key for the current directory generation, or "" when
// caching is unavailable.
func (s *enrollmentService) directoryCacheKey(ctx context.Context) string {
	if s.cache == nil {
		return ""
	}

	generation, err := s.cache.Get(ctx, directoryGenerationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("failed to read activity directory generation")
		return ""
	}

	return fmt.Sprintf("%s:%d", directoryCacheKey, generation)
}
