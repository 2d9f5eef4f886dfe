package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

// transactionSequence backs the dense per-tenant transaction id allocation.
// OCPP 1.x carries transactionId as a signed int on the wire, so ids must
// stay small and sequential rather than random.
type transactionSequence struct {
	TenantID string `gorm:"primaryKey"`
	LastID   int
}

type TransactionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTransactionRepository(db *gorm.DB, log *zap.Logger) ports.TransactionRepository {
	return &TransactionRepository{db: db, log: log}
}

func (r *TransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

func (r *TransactionRepository) FindByID(ctx context.Context, tenantID string, id int) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).First(&tx, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) FindActiveOnConnector(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND charge_box_id = ? AND connector_id = ? AND stop_timestamp IS NULL",
			tenantID, chargeBoxID, connectorID).
		Order("timestamp desc").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) FindLastOnConnector(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND charge_box_id = ? AND connector_id = ?",
			tenantID, chargeBoxID, connectorID).
		Order("timestamp desc").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

// NextTransactionID allocates the next id atomically with an upsert that
// increments under the row lock.
func (r *TransactionRepository) NextTransactionID(ctx context.Context, tenantID string) (int, error) {
	var seq transactionSequence
	err := r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"last_id": gorm.Expr("transaction_sequences.last_id + 1")}),
		}).Create(&transactionSequence{TenantID: tenantID, LastID: 1}).Error; err != nil {
			return err
		}
		return dbtx.First(&seq, "tenant_id = ?", tenantID).Error
	})
	if err != nil {
		return 0, err
	}
	return seq.LastID, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, tenantID string, id int) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.Transaction{}).Error
}
