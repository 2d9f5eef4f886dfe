// Package mocks holds hand-rolled function-field mocks for the ports. A nil
// func means "succeed and return nothing".
package mocks

import (
	"context"
	"time"

	"github.com/gridwise/csms/internal/domain"
)

// MockTenantRepository is a mock implementation of TenantRepository
type MockTenantRepository struct {
	FindByIDFunc func(ctx context.Context, id string) (*domain.Tenant, error)
}

func (m *MockTenantRepository) FindByID(ctx context.Context, id string) (*domain.Tenant, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

// MockStationRepository is a mock implementation of StationRepository
type MockStationRepository struct {
	SaveFunc           func(ctx context.Context, station *domain.ChargingStation) error
	FindByIDFunc       func(ctx context.Context, tenantID, id string) (*domain.ChargingStation, error)
	UpdateLastSeenFunc func(ctx context.Context, tenantID, id string, lastSeen time.Time) error
	SaveBootRecordFunc func(ctx context.Context, record *domain.BootRecord) error
}

func (m *MockStationRepository) Save(ctx context.Context, station *domain.ChargingStation) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, station)
	}
	return nil
}

func (m *MockStationRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.ChargingStation, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tenantID, id)
	}
	return nil, nil
}

func (m *MockStationRepository) UpdateLastSeen(ctx context.Context, tenantID, id string, lastSeen time.Time) error {
	if m.UpdateLastSeenFunc != nil {
		return m.UpdateLastSeenFunc(ctx, tenantID, id, lastSeen)
	}
	return nil
}

func (m *MockStationRepository) SaveBootRecord(ctx context.Context, record *domain.BootRecord) error {
	if m.SaveBootRecordFunc != nil {
		return m.SaveBootRecordFunc(ctx, record)
	}
	return nil
}

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	SaveFunc                  func(ctx context.Context, tx *domain.Transaction) error
	FindByIDFunc              func(ctx context.Context, tenantID string, id int) (*domain.Transaction, error)
	FindActiveOnConnectorFunc func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error)
	FindLastOnConnectorFunc   func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error)
	NextTransactionIDFunc     func(ctx context.Context, tenantID string) (int, error)
	DeleteFunc                func(ctx context.Context, tenantID string, id int) error
}

func (m *MockTransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx)
	}
	return nil
}

func (m *MockTransactionRepository) FindByID(ctx context.Context, tenantID string, id int) (*domain.Transaction, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tenantID, id)
	}
	return nil, nil
}

func (m *MockTransactionRepository) FindActiveOnConnector(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
	if m.FindActiveOnConnectorFunc != nil {
		return m.FindActiveOnConnectorFunc(ctx, tenantID, chargeBoxID, connectorID)
	}
	return nil, nil
}

func (m *MockTransactionRepository) FindLastOnConnector(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
	if m.FindLastOnConnectorFunc != nil {
		return m.FindLastOnConnectorFunc(ctx, tenantID, chargeBoxID, connectorID)
	}
	return nil, nil
}

func (m *MockTransactionRepository) NextTransactionID(ctx context.Context, tenantID string) (int, error) {
	if m.NextTransactionIDFunc != nil {
		return m.NextTransactionIDFunc(ctx, tenantID)
	}
	return 1, nil
}

func (m *MockTransactionRepository) Delete(ctx context.Context, tenantID string, id int) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, tenantID, id)
	}
	return nil
}

// MockConsumptionRepository is a mock implementation of ConsumptionRepository
type MockConsumptionRepository struct {
	SaveFunc              func(ctx context.Context, consumption *domain.Consumption) error
	FindByTransactionFunc func(ctx context.Context, tenantID string, transactionID int) ([]domain.Consumption, error)
}

func (m *MockConsumptionRepository) Save(ctx context.Context, consumption *domain.Consumption) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, consumption)
	}
	return nil
}

func (m *MockConsumptionRepository) FindByTransaction(ctx context.Context, tenantID string, transactionID int) ([]domain.Consumption, error) {
	if m.FindByTransactionFunc != nil {
		return m.FindByTransactionFunc(ctx, tenantID, transactionID)
	}
	return nil, nil
}

// MockMeterValueRepository is a mock implementation of MeterValueRepository
type MockMeterValueRepository struct {
	SaveFunc func(ctx context.Context, value *domain.MeterValue) error
}

func (m *MockMeterValueRepository) Save(ctx context.Context, value *domain.MeterValue) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, value)
	}
	return nil
}

// MockRegistrationTokenRepository is a mock implementation of RegistrationTokenRepository
type MockRegistrationTokenRepository struct {
	FindByTokenFunc func(ctx context.Context, tenantID, token string) (*domain.RegistrationToken, error)
}

func (m *MockRegistrationTokenRepository) FindByToken(ctx context.Context, tenantID, token string) (*domain.RegistrationToken, error) {
	if m.FindByTokenFunc != nil {
		return m.FindByTokenFunc(ctx, tenantID, token)
	}
	return nil, nil
}

// MockTagRepository is a mock implementation of TagRepository
type MockTagRepository struct {
	FindByIDFunc func(ctx context.Context, tenantID, id string) (*domain.Tag, error)
}

func (m *MockTagRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Tag, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tenantID, id)
	}
	return nil, nil
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	FindByIDFunc func(ctx context.Context, tenantID, id string) (*domain.User, error)
	SaveFunc     func(ctx context.Context, user *domain.User) error
}

func (m *MockUserRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tenantID, id)
	}
	return nil, nil
}

func (m *MockUserRepository) Save(ctx context.Context, user *domain.User) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, user)
	}
	return nil
}
