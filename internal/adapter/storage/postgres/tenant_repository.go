package postgres

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

type TenantRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTenantRepository(db *gorm.DB, log *zap.Logger) ports.TenantRepository {
	return &TenantRepository{db: db, log: log}
}

func (r *TenantRepository) FindByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

type RegistrationTokenRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRegistrationTokenRepository(db *gorm.DB, log *zap.Logger) ports.RegistrationTokenRepository {
	return &RegistrationTokenRepository{db: db, log: log}
}

func (r *RegistrationTokenRepository) FindByToken(ctx context.Context, tenantID, token string) (*domain.RegistrationToken, error) {
	var t domain.RegistrationToken
	err := r.db.WithContext(ctx).First(&t, "tenant_id = ? AND token = ?", tenantID, token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
