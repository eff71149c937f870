package database

import (
	"b3hybrid/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewDBConnection opens the results database. A session without DATABASE_URL
// runs standalone and gets a nil handle.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	if appConfig.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, results will not be recorded")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(appConfig.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect database", zap.Error(err))
		return nil, err
	}
	logger.Debug("connected to database")
	return db, nil
}
