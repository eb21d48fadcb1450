package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/mergington-api/internal/models"
)

// ErrActivityNotFound is returned by lookups for an unknown activity name.
var ErrActivityNotFound = errors.New("activity not found")

// InsertResult is the outcome of TryInsertEnrollment.
type InsertResult string

// Possible insert results.
const (
	InsertResultInserted         InsertResult = "inserted"
	InsertResultAlreadyEnrolled  InsertResult = "already_enrolled"
	InsertResultCapacityExceeded InsertResult = "capacity_exceeded"
	InsertResultActivityNotFound InsertResult = "activity_not_found"
)

// RemoveResult is the outcome of RemoveEnrollment.
type RemoveResult string

// Possible remove results.
const (
	RemoveResultRemoved          RemoveResult = "removed"
	RemoveResultNotEnrolled      RemoveResult = "not_enrolled"
	RemoveResultActivityNotFound RemoveResult = "activity_not_found"
)

// ActivityRoster is an activity together with its enrolled emails in signup order.
type ActivityRoster struct {
	Activity models.Activity
	Count    int
	Emails   []string
}

// SeedActivity describes an activity and its initial participants.
type SeedActivity struct {
	Activity     models.Activity
	Participants []string
}

// RosterRepository owns activities and their signups. It is the only write path for enrollments.
type RosterRepository interface {
	GetActivity(ctx context.Context, name string) (ActivityRoster, error)
	ListActivities(ctx context.Context) ([]ActivityRoster, error)
	ListByStudent(ctx context.Context, email string) ([]models.Activity, error)
	TryInsertEnrollment(ctx context.Context, activityName, email string, metadata map[string]interface{}) (InsertResult, error)
	RemoveEnrollment(ctx context.Context, activityName, email string) (RemoveResult, error)
	SeedIfEmpty(ctx context.Context, items []SeedActivity) (int64, error)
}

type rosterRepository struct {
	db    *gorm.DB
	locks *activityLocks
}

// NewRosterRepository constructs the roster repository.
func NewRosterRepository(db *gorm.DB) RosterRepository {
	return &rosterRepository{db: db, locks: newActivityLocks()}
}

func (r *rosterRepository) GetActivity(ctx context.Context, name string) (ActivityRoster, error) {
	var activity models.Activity
	if err := r.db.WithContext(ctx).Where("name = ?", name).Take(&activity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ActivityRoster{}, ErrActivityNotFound
		}
		return ActivityRoster{}, err
	}

	var emails []string
	if err := r.db.WithContext(ctx).
		Model(&models.Signup{}).
		Where("activity_name = ?", name).
		Order("seq ASC, email ASC").
		Pluck("email", &emails).Error; err != nil {
		return ActivityRoster{}, err
	}

	return newRoster(activity, emails), nil
}

func (r *rosterRepository) ListActivities(ctx context.Context) ([]ActivityRoster, error) {
	var activities []models.Activity
	if err := r.db.WithContext(ctx).Order("seq ASC, name ASC").Find(&activities).Error; err != nil {
		return nil, err
	}

	var signups []models.Signup
	if err := r.db.WithContext(ctx).
		Select("activity_name", "email").
		Order("activity_name ASC, seq ASC, email ASC").
		Find(&signups).Error; err != nil {
		return nil, err
	}

	byActivity := make(map[string][]string, len(activities))
	for _, signup := range signups {
		byActivity[signup.ActivityName] = append(byActivity[signup.ActivityName], signup.Email)
	}

	rosters := make([]ActivityRoster, 0, len(activities))
	for _, activity := range activities {
		rosters = append(rosters, newRoster(activity, byActivity[activity.Name]))
	}

	return rosters, nil
}

func (r *rosterRepository) ListByStudent(ctx context.Context, email string) ([]models.Activity, error) {
	var activities []models.Activity
	if err := r.db.WithContext(ctx).
		Model(&models.Activity{}).
		Select("activities.*").
		Joins("JOIN signups ON signups.activity_name = activities.name").
		Where("signups.email = ?", email).
		Order("activities.seq ASC, activities.name ASC").
		Find(&activities).Error; err != nil {
		return nil, err
	}

	return activities, nil
}

// TryInsertEnrollment checks existence, uniqueness and capacity and writes the signup as one
// unit. Callers on the same activity are serialized by an in-process lock and, on PostgreSQL,
// by a row lock on the activity so separate processes queue as well.
func (r *rosterRepository) TryInsertEnrollment(ctx context.Context, activityName, email string, metadata map[string]interface{}) (InsertResult, error) {
	release := r.locks.Lock(activityName)
	defer release()

	result := InsertResultInserted
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activity, err := lockActivity(tx, activityName)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = InsertResultActivityNotFound
				return nil
			}
			return err
		}

		var existing int64
		if err := tx.Model(&models.Signup{}).
			Where("activity_name = ? AND email = ?", activityName, email).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			result = InsertResultAlreadyEnrolled
			return nil
		}

		stats, err := signupStats(tx, activityName)
		if err != nil {
			return err
		}
		if stats.Total >= int64(activity.Capacity) {
			result = InsertResultCapacityExceeded
			return nil
		}

		signup := models.Signup{
			ActivityName: activityName,
			Email:        email,
			Seq:          stats.LastSeq + 1,
			Metadata:     datatypes.JSONMap(metadata),
		}
		return tx.Omit(clause.Associations).Create(&signup).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return InsertResultAlreadyEnrolled, nil
		}
		return "", fmt.Errorf("insert enrollment: %w", err)
	}

	return result, nil
}

func (r *rosterRepository) RemoveEnrollment(ctx context.Context, activityName, email string) (RemoveResult, error) {
	release := r.locks.Lock(activityName)
	defer release()

	result := RemoveResultRemoved
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockActivity(tx, activityName); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = RemoveResultActivityNotFound
				return nil
			}
			return err
		}

		deleted := tx.Where("activity_name = ? AND email = ?", activityName, email).Delete(&models.Signup{})
		if deleted.Error != nil {
			return deleted.Error
		}
		if deleted.RowsAffected == 0 {
			result = RemoveResultNotEnrolled
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("remove enrollment: %w", err)
	}

	return result, nil
}

// SeedIfEmpty inserts items when the store holds no activities and reports how many
// activities were written. A non-empty store is left untouched.
func (r *rosterRepository) SeedIfEmpty(ctx context.Context, items []SeedActivity) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&models.Activity{}).Count(&total).Error; err != nil {
			return err
		}
		if total > 0 {
			return nil
		}

		for i, item := range items {
			activity := item.Activity
			activity.Seq = i + 1
			if len(item.Participants) > activity.Capacity {
				return fmt.Errorf("seed activity %q lists %d participants for capacity %d", activity.Name, len(item.Participants), activity.Capacity)
			}

			created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&activity)
			if created.Error != nil {
				return created.Error
			}
			inserted += created.RowsAffected

			signups := make([]models.Signup, 0, len(item.Participants))
			for j, email := range item.Participants {
				signups = append(signups, models.Signup{
					ActivityName: activity.Name,
					Email:        email,
					Seq:          j + 1,
					Metadata:     datatypes.JSONMap{"operation": "seed"},
				})
			}
			if len(signups) == 0 {
				continue
			}
			if err := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&signups).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed activities: %w", err)
	}

	return inserted, nil
}

type rosterStats struct {
	Total   int64
	LastSeq int
}

func signupStats(tx *gorm.DB, activityName string) (rosterStats, error) {
	var stats rosterStats
	err := tx.Model(&models.Signup{}).
		Select("COUNT(*) AS total, COALESCE(MAX(seq), 0) AS last_seq").
		Where("activity_name = ?", activityName).
		Scan(&stats).Error
	return stats, err
}

// lockActivity loads the activity row, taking a row lock where the dialect supports one.
func lockActivity(tx *gorm.DB, name string) (models.Activity, error) {
	query := tx
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var activity models.Activity
	err := query.Where("name = ?", name).Take(&activity).Error
	return activity, err
}

func newRoster(activity models.Activity, emails []string) ActivityRoster {
	if emails == nil {
		emails = []string{}
	}
	return ActivityRoster{Activity: activity, Count: len(emails), Emails: emails}
}
