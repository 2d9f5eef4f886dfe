package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

type ConsumptionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewConsumptionRepository(db *gorm.DB, log *zap.Logger) ports.ConsumptionRepository {
	return &ConsumptionRepository{db: db, log: log}
}

func (r *ConsumptionRepository) Save(ctx context.Context, consumption *domain.Consumption) error {
	return r.db.WithContext(ctx).Create(consumption).Error
}

func (r *ConsumptionRepository) FindByTransaction(ctx context.Context, tenantID string, transactionID int) ([]domain.Consumption, error) {
	var rows []domain.Consumption
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_id = ?", tenantID, transactionID).
		Order("started_at asc").
		Find(&rows).Error
	return rows, err
}

type MeterValueRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewMeterValueRepository(db *gorm.DB, log *zap.Logger) ports.MeterValueRepository {
	return &MeterValueRepository{db: db, log: log}
}

func (r *MeterValueRepository) Save(ctx context.Context, value *domain.MeterValue) error {
	return r.db.WithContext(ctx).Create(value).Error
}
