package ports

import (
	"context"
	"time"

	"github.com/gridwise/csms/internal/domain"
)

// Repositories return (nil, nil) when the entity does not exist.

type TenantRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Tenant, error)
}

type StationRepository interface {
	Save(ctx context.Context, station *domain.ChargingStation) error
	FindByID(ctx context.Context, tenantID, id string) (*domain.ChargingStation, error)
	// UpdateLastSeen is a hot, compact write that avoids rewriting the whole
	// station document on every heartbeat.
	UpdateLastSeen(ctx context.Context, tenantID, id string, lastSeen time.Time) error
	SaveBootRecord(ctx context.Context, record *domain.BootRecord) error
}

type TransactionRepository interface {
	Save(ctx context.Context, tx *domain.Transaction) error
	FindByID(ctx context.Context, tenantID string, id int) (*domain.Transaction, error)
	// FindActiveOnConnector returns the open transaction on the connector.
	FindActiveOnConnector(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error)
	// FindLastOnConnector returns the most recent transaction, open or stopped.
	FindLastOnConnector(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error)
	// NextTransactionID allocates the next dense transaction id for the tenant.
	NextTransactionID(ctx context.Context, tenantID string) (int, error)
	Delete(ctx context.Context, tenantID string, id int) error
}

type ConsumptionRepository interface {
	Save(ctx context.Context, consumption *domain.Consumption) error
	FindByTransaction(ctx context.Context, tenantID string, transactionID int) ([]domain.Consumption, error)
}

type MeterValueRepository interface {
	Save(ctx context.Context, value *domain.MeterValue) error
}

type RegistrationTokenRepository interface {
	FindByToken(ctx context.Context, tenantID, token string) (*domain.RegistrationToken, error)
}

type TagRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*domain.Tag, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*domain.User, error)
	Save(ctx context.Context, user *domain.User) error
}
