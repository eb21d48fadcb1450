package database

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/mergington-api/internal/config"
	"github.com/noah-isme/mergington-api/internal/models"
)

// Connect opens the database selected by driver.
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case config.DriverSQLite:
		return ConnectSQLite(dsn)
	case config.DriverPostgres:
		return ConnectPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates or updates the activities and signups tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Activity{}, &models.Signup{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}
