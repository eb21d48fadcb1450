package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/mergington-api/internal/database"
	"github.com/noah-isme/mergington-api/internal/dto"
	"github.com/noah-isme/mergington-api/internal/middleware"
	"github.com/noah-isme/mergington-api/internal/models"
	"github.com/noah-isme/mergington-api/internal/repository"
)

type stubRosterRepo struct {
	insertResult repository.InsertResult
	removeResult repository.RemoveResult
	err          error

	insertCalls int
	lastEmail   string
	lastMeta    map[string]interface{}
}

func (s *stubRosterRepo) GetActivity(ctx context.Context, name string) (repository.ActivityRoster, error) {
	return repository.ActivityRoster{Activity: models.Activity{Name: name, Capacity: 10}, Count: 1, Emails: []string{s.lastEmail}}, nil
}

func (s *stubRosterRepo) ListActivities(ctx context.Context) ([]repository.ActivityRoster, error) {
	return nil, s.err
}

func (s *stubRosterRepo) ListByStudent(ctx context.Context, email string) ([]models.Activity, error) {
	return nil, s.err
}

func (s *stubRosterRepo) TryInsertEnrollment(ctx context.Context, activityName, email string, metadata map[string]interface{}) (repository.InsertResult, error) {
	s.insertCalls++
	s.lastEmail = email
	s.lastMeta = metadata
	if s.err != nil {
		return "", s.err
	}
	return s.insertResult, nil
}

func (s *stubRosterRepo) RemoveEnrollment(ctx context.Context, activityName, email string) (repository.RemoveResult, error) {
	s.lastEmail = email
	if s.err != nil {
		return "", s.err
	}
	return s.removeResult, nil
}

func (s *stubRosterRepo) SeedIfEmpty(ctx context.Context, items []repository.SeedActivity) (int64, error) {
	return 0, s.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []dto.RosterEvent
}

func (r *recordingEvents) Publish(ctx context.Context, event dto.RosterEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) Subscribe() (<-chan dto.RosterEvent, func()) {
	ch := make(chan dto.RosterEvent)
	return ch, func() {}
}

func (r *recordingEvents) Start(ctx context.Context) {}

func (r *recordingEvents) snapshot() []dto.RosterEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dto.RosterEvent(nil), r.events...)
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupRosterRepo(t *testing.T) (repository.RosterRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := database.ConnectSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return repository.NewRosterRepository(db), db
}

func findActivity(t *testing.T, directory dto.ActivityDirectory, name string) dto.ActivityView {
	t.Helper()
	for _, item := range directory.Items {
		if item.Name == name {
			return item
		}
	}
	require.FailNowf(t, "activity missing from directory", "%q", name)
	return dto.ActivityView{}
}

func seedRoster(t *testing.T, repo repository.RosterRepository, items ...repository.SeedActivity) {
	t.Helper()
	_, err := repo.SeedIfEmpty(context.Background(), items)
	require.NoError(t, err)
}

func TestEnrollMapsStoreResults(t *testing.T) {
	cases := map[repository.InsertResult]EnrollmentOutcome{
		repository.InsertResultInserted:         OutcomeEnrolled,
		repository.InsertResultAlreadyEnrolled:  OutcomeDuplicateEnrollment,
		repository.InsertResultCapacityExceeded: OutcomeCapacityExceeded,
		repository.InsertResultActivityNotFound: OutcomeActivityNotFound,
	}

	for result, expected := range cases {
		repo := &stubRosterRepo{insertResult: result}
		svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

		outcome, err := svc.Enroll(context.Background(), "Chess Club", "ana@mergington.edu")
		require.NoError(t, err)
		require.Equal(t, expected, outcome)
	}
}

func TestEnrollRejectsInvalidEmailWithoutTouchingStore(t *testing.T) {
	repo := &stubRosterRepo{insertResult: repository.InsertResultInserted}
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

	for _, email := range []string{"", "   ", "not-an-email"} {
		outcome, err := svc.Enroll(context.Background(), "Chess Club", email)
		require.NoError(t, err)
		require.Equal(t, OutcomeInvalidEmail, outcome)
	}
	require.Zero(t, repo.insertCalls)
}

func TestEnrollNormalizesEmailAndRecordsCorrelation(t *testing.T) {
	repo := &stubRosterRepo{insertResult: repository.InsertResultInserted}
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

	ctx := middleware.ContextWithCorrelation(context.Background(), "req-42")
	_, err := svc.Enroll(ctx, "Chess Club", "  Ana@Mergington.EDU ")
	require.NoError(t, err)

	require.Equal(t, "Ana@Mergington.EDU", repo.lastEmail)
	require.Equal(t, "req-42", repo.lastMeta["correlation_id"])
	require.Equal(t, "signup", repo.lastMeta["operation"])
}

func TestEnrollTreatsEmailsCaseSensitively(t *testing.T) {
	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity:     models.Activity{Name: "Programming Class", Description: "Code", Schedule: "Tuesdays", Capacity: 20},
		Participants: []string{"emma@mergington.edu"},
	})
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())
	ctx := context.Background()

	outcome, err := svc.Enroll(ctx, "Programming Class", "Emma@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnrolled, outcome)

	outcome, err = svc.Enroll(ctx, "Programming Class", " emma@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicateEnrollment, outcome)

	roster, err := repo.GetActivity(ctx, "Programming Class")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"emma@mergington.edu", "Emma@mergington.edu"}, roster.Emails)
}

func TestEnrollPropagatesStorageFailure(t *testing.T) {
	storeErr := errors.New("disk on fire")
	repo := &stubRosterRepo{err: storeErr}
	events := &recordingEvents{}
	svc := NewEnrollmentService(repo, nil, time.Minute, events, newValidator(), zerolog.Nop())

	_, err := svc.Enroll(context.Background(), "Chess Club", "ana@mergington.edu")
	require.ErrorIs(t, err, storeErr)
	require.Empty(t, events.snapshot())
}

func TestEnrollChessClubScenario(t *testing.T) {
	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity:     models.Activity{Name: "Chess Club", Description: "Strategy", Schedule: "Fridays", Capacity: 12},
		Participants: []string{"daniel@mergington.edu", "lucas@mergington.edu"},
	})
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())
	ctx := context.Background()

	outcome, err := svc.Enroll(ctx, "Chess Club", "michael@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnrolled, outcome)

	outcome, err = svc.Enroll(ctx, "Chess Club", "michael@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicateEnrollment, outcome)

	outcome, err = svc.Enroll(ctx, "Underwater Basket Weaving", "michael@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeActivityNotFound, outcome)

	directory, err := svc.ListActivities(ctx)
	require.NoError(t, err)
	chess := findActivity(t, directory, "Chess Club")
	require.Equal(t, []string{"daniel@mergington.edu", "lucas@mergington.edu", "michael@mergington.edu"}, chess.Participants)
}

func TestEnrollRejectsWhenFull(t *testing.T) {
	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity:     models.Activity{Name: "Math Club", Description: "Problems", Schedule: "Tuesdays", Capacity: 2},
		Participants: []string{"james@mergington.edu", "benjamin@mergington.edu"},
	})
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

	outcome, err := svc.Enroll(context.Background(), "Math Club", "zoe@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeCapacityExceeded, outcome)
}

func TestEnrollConcurrentNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	const attempts = 20

	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity: models.Activity{Name: "Robotics", Description: "Build robots", Schedule: "Mondays", Capacity: capacity},
	})
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

	outcomes := make(chan EnrollmentOutcome, attempts)
	errs := make(chan error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcome, err := svc.Enroll(context.Background(), "Robotics", fmt.Sprintf("student%02d@mergington.edu", i))
			if err != nil {
				errs <- err
				return
			}
			outcomes <- outcome
		}(i)
	}
	close(start)
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	counts := map[EnrollmentOutcome]int{}
	for outcome := range outcomes {
		counts[outcome]++
	}
	require.Equal(t, capacity, counts[OutcomeEnrolled])
	require.Equal(t, attempts-capacity, counts[OutcomeCapacityExceeded])

	directory, err := svc.ListActivities(context.Background())
	require.NoError(t, err)
	robotics := findActivity(t, directory, "Robotics")
	require.Len(t, robotics.Participants, capacity)
}

func TestEnrollSurvivesCancelledCaller(t *testing.T) {
	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity: models.Activity{Name: "Drama Club", Description: "Plays", Schedule: "Mondays", Capacity: 3},
	})
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := svc.Enroll(ctx, "Drama Club", "ella@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnrolled, outcome)

	roster, err := repo.GetActivity(context.Background(), "Drama Club")
	require.NoError(t, err)
	require.Equal(t, []string{"ella@mergington.edu"}, roster.Emails)
}

func TestUnregisterOutcomesAndEvents(t *testing.T) {
	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity:     models.Activity{Name: "Art Club", Description: "Painting", Schedule: "Thursdays", Capacity: 1},
		Participants: []string{"amelia@mergington.edu"},
	})
	events := &recordingEvents{}
	svc := NewEnrollmentService(repo, nil, time.Minute, events, newValidator(), zerolog.Nop())
	ctx := context.Background()

	outcome, err := svc.Unregister(ctx, "Art Club", "AMELIA@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, UnregisterNotEnrolled, outcome)

	outcome, err = svc.Unregister(ctx, "Art Club", " amelia@mergington.edu ")
	require.NoError(t, err)
	require.Equal(t, UnregisterRemoved, outcome)

	outcome, err = svc.Unregister(ctx, "Art Club", "amelia@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, UnregisterNotEnrolled, outcome)

	outcome, err = svc.Unregister(ctx, "Knitting", "amelia@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, UnregisterActivityNotFound, outcome)

	outcome, err = svc.Unregister(ctx, "Art Club", "nope")
	require.NoError(t, err)
	require.Equal(t, UnregisterInvalidEmail, outcome)

	enrolled, err := svc.Enroll(ctx, "Art Club", "harper@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnrolled, enrolled)

	published := events.snapshot()
	require.Len(t, published, 2)
	require.Equal(t, dto.RosterEventUnregistered, published[0].Type)
	require.Equal(t, 0, published[0].Participants)
	require.Equal(t, dto.RosterEventEnrolled, published[1].Type)
	require.Equal(t, "harper@mergington.edu", published[1].Email)
	require.Equal(t, 1, published[1].Participants)
	require.Equal(t, 1, published[1].MaxParticipants)
}

func TestListActivitiesCacheInvalidatedByWrites(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity:     models.Activity{Name: "Soccer Team", Description: "Matches", Schedule: "Tuesdays", Capacity: 22},
		Participants: []string{"liam@mergington.edu"},
	})
	svc := NewEnrollmentService(repo, redisClient, time.Minute, nil, newValidator(), zerolog.Nop())
	ctx := context.Background()

	first, err := svc.ListActivities(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(directoryCacheKey+":0"))

	cached, err := svc.ListActivities(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Items, cached.Items)

	outcome, err := svc.Enroll(ctx, "Soccer Team", "noah@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, OutcomeEnrolled, outcome)

	generation, err := mr.Get(directoryGenerationKey)
	require.NoError(t, err)
	require.Equal(t, "1", generation)

	fresh, err := svc.ListActivities(ctx)
	require.NoError(t, err)
	soccer := findActivity(t, fresh, "Soccer Team")
	require.Equal(t, []string{"liam@mergington.edu", "noah@mergington.edu"}, soccer.Participants)
}

func TestListActivitiesFallsBackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()
	mr.Close()

	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo, repository.SeedActivity{
		Activity: models.Activity{Name: "Gym Class", Description: "Sports", Schedule: "Mondays", Capacity: 30},
	})
	svc := NewEnrollmentService(repo, redisClient, time.Minute, nil, newValidator(), zerolog.Nop())

	directory, err := svc.ListActivities(context.Background())
	require.NoError(t, err)
	require.Len(t, directory.Items, 1)
}

func TestStudentActivities(t *testing.T) {
	repo, _ := setupRosterRepo(t)
	seedRoster(t, repo,
		repository.SeedActivity{
			Activity:     models.Activity{Name: "Chess Club", Description: "Strategy", Schedule: "Fridays", Capacity: 12},
			Participants: []string{"michael@mergington.edu"},
		},
		repository.SeedActivity{
			Activity:     models.Activity{Name: "Debate Team", Description: "Arguments", Schedule: "Fridays", Capacity: 12},
			Participants: []string{"henry@mergington.edu", "michael@mergington.edu"},
		},
		repository.SeedActivity{
			Activity: models.Activity{Name: "Math Club", Description: "Problems", Schedule: "Tuesdays", Capacity: 10},
		},
	)
	svc := NewEnrollmentService(repo, nil, time.Minute, nil, newValidator(), zerolog.Nop())

	views, err := svc.StudentActivities(context.Background(), " michael@mergington.edu ")
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, "Chess Club", views[0].Name)
	require.Equal(t, "Debate Team", views[1].Name)
	require.Equal(t, []string{"henry@mergington.edu", "michael@mergington.edu"}, views[1].Participants)

	views, err = svc.StudentActivities(context.Background(), "nobody@mergington.edu")
	require.NoError(t, err)
	require.Empty(t, views)

	_, err = svc.StudentActivities(context.Background(), "bogus")
	require.ErrorIs(t, err, ErrInvalidEmail)
}
