package postgres

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/pkg/config"
)

// NewConnection opens the PostgreSQL connection pool via GORM.
func NewConnection(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log.Info("connected to PostgreSQL")
	return db, nil
}

// RunMigrations keeps the schema in step with the domain model.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Tenant{},
		&domain.RegistrationToken{},
		&domain.ChargingStation{},
		&domain.Connector{},
		&domain.BootRecord{},
		&domain.User{},
		&domain.Tag{},
		&domain.Transaction{},
		&domain.Consumption{},
		&domain.MeterValue{},
		&transactionSequence{},
	)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
