package service

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mergington-api/internal/dto"
	"github.com/noah-isme/mergington-api/internal/models"
	"github.com/noah-isme/mergington-api/internal/repository"
)

// SeedService loads the activity catalogue into an empty database.
type SeedService interface {
	Seed(ctx context.Context) (int64, error)
}

type seedService struct {
	repo      repository.RosterRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	seedFile  string
	logger    zerolog.Logger
}

// NewSeedService constructs a seeding service. An empty seedFile selects the built-in catalogue.
func NewSeedService(repo repository.RosterRepository, validate *validator.Validate, seedFile string, logger zerolog.Logger) SeedService {
	return &seedService{
		repo:      repo,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		seedFile:  strings.TrimSpace(seedFile),
		logger:    logger.With().Str("component", "seed_service").Logger(),
	}
}

func (s *seedService) Seed(ctx context.Context) (int64, error) {
	requests := DefaultSeedActivities()
	source := "builtin"
	if s.seedFile != "" {
		loaded, err := s.readSeedFile()
		if err != nil {
			return 0, err
		}
		requests = loaded
		source = s.seedFile
	}

	items, err := s.normalize(requests)
	if err != nil {
		return 0, err
	}

	affected, err := s.repo.SeedIfEmpty(ctx, items)
	if err != nil {
		return 0, err
	}

	if affected == 0 {
		s.logger.Debug().Str("source", source).Msg("activities already present, skipping seed")
	} else {
		s.logger.Info().Int64("affected", affected).Str("source", source).Msg("activities seeded")
	}
	return affected, nil
}

func (s *seedService) readSeedFile() ([]dto.SeedActivityRequest, error) {
	raw, err := os.ReadFile(s.seedFile)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var requests []dto.SeedActivityRequest
	if err := json.Unmarshal(raw, &requests); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return requests, nil
}

func (s *seedService) normalize(requests []dto.SeedActivityRequest) ([]repository.SeedActivity, error) {
	seen := make(map[string]struct{}, len(requests))
	items := make([]repository.SeedActivity, 0, len(requests))

	for i, request := range requests {
		request.Name = strings.TrimSpace(request.Name)
		request.Description = s.clean(request.Description)
		request.Schedule = s.clean(request.Schedule)

		participants := make([]string, 0, len(request.Participants))
		for _, email := range request.Participants {
			participants = append(participants, NormalizeEmail(email))
		}
		request.Participants = participants

		if err := s.validator.Struct(request); err != nil {
			return nil, fmt.Errorf("seed activity %d: %w", i, err)
		}
		if _, exists := seen[request.Name]; exists {
			return nil, fmt.Errorf("seed activity %q is defined more than once", request.Name)
		}
		seen[request.Name] = struct{}{}

		items = append(items, repository.SeedActivity{
			Activity: models.Activity{
				Name:        request.Name,
				Description: request.Description,
				Schedule:    request.Schedule,
				Capacity:    request.MaxParticipants,
			},
			Participants: request.Participants,
		})
	}

	return items, nil
}

// clean strips markup and decodes the entities the strict policy escapes.
func (s *seedService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}
