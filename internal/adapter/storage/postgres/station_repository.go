package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

type StationRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStationRepository(db *gorm.DB, log *zap.Logger) ports.StationRepository {
	return &StationRepository{db: db, log: log}
}

func (r *StationRepository) Save(ctx context.Context, station *domain.ChargingStation) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(station).Error
}

func (r *StationRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.ChargingStation, error) {
	var station domain.ChargingStation
	err := r.db.WithContext(ctx).
		Preload(clause.Associations).
		First(&station, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	station.SortConnectors()
	return &station, nil
}

// UpdateLastSeen writes the liveness marker without touching the rest of the
// row; this runs on every heartbeat.
func (r *StationRepository) UpdateLastSeen(ctx context.Context, tenantID, id string, lastSeen time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.ChargingStation{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("last_seen", lastSeen).Error
}

func (r *StationRepository) SaveBootRecord(ctx context.Context, record *domain.BootRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}
