package mocks

import (
	"context"
	"time"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

// MockClock returns a fixed, manually advanceable time.
type MockClock struct {
	Time time.Time
}

func (m *MockClock) Now() time.Time {
	return m.Time
}

func (m *MockClock) Advance(d time.Duration) {
	m.Time = m.Time.Add(d)
}

// MockPricingService is a mock implementation of PricingService
type MockPricingService struct {
	PriceFunc func(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction, consumption *domain.Consumption) error
}

func (m *MockPricingService) Price(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction, consumption *domain.Consumption) error {
	if m.PriceFunc != nil {
		return m.PriceFunc(ctx, action, tx, consumption)
	}
	return nil
}

// MockBillingService is a mock implementation of BillingService
type MockBillingService struct {
	BillFunc func(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction) error
}

func (m *MockBillingService) Bill(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction) error {
	if m.BillFunc != nil {
		return m.BillFunc(ctx, action, tx)
	}
	return nil
}

// MockRoamingService is a mock implementation of RoamingService
type MockRoamingService struct {
	ProcessSessionFunc      func(ctx context.Context, protocol domain.RoamingProtocol, action domain.TransactionAction, tx *domain.Transaction, station *domain.ChargingStation) error
	PushCdrFunc             func(ctx context.Context, protocol domain.RoamingProtocol, tx *domain.Transaction, station *domain.ChargingStation) error
	PushConnectorStatusFunc func(ctx context.Context, protocol domain.RoamingProtocol, station *domain.ChargingStation, connector *domain.Connector) error
	AuthorizeFunc           func(ctx context.Context, tenantID, tagID string) (string, error)
}

func (m *MockRoamingService) ProcessSession(ctx context.Context, protocol domain.RoamingProtocol, action domain.TransactionAction, tx *domain.Transaction, station *domain.ChargingStation) error {
	if m.ProcessSessionFunc != nil {
		return m.ProcessSessionFunc(ctx, protocol, action, tx, station)
	}
	return nil
}

func (m *MockRoamingService) PushCdr(ctx context.Context, protocol domain.RoamingProtocol, tx *domain.Transaction, station *domain.ChargingStation) error {
	if m.PushCdrFunc != nil {
		return m.PushCdrFunc(ctx, protocol, tx, station)
	}
	return nil
}

func (m *MockRoamingService) PushConnectorStatus(ctx context.Context, protocol domain.RoamingProtocol, station *domain.ChargingStation, connector *domain.Connector) error {
	if m.PushConnectorStatusFunc != nil {
		return m.PushConnectorStatusFunc(ctx, protocol, station, connector)
	}
	return nil
}

func (m *MockRoamingService) Authorize(ctx context.Context, tenantID, tagID string) (string, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, tenantID, tagID)
	}
	return "", nil
}

// MockSmartChargingService is a mock implementation of SmartChargingService
type MockSmartChargingService struct {
	ComputeAndApplyFunc func(ctx context.Context, tenantID, siteAreaID string) error
	ClearTxProfileFunc  func(ctx context.Context, tx *domain.Transaction) error
}

func (m *MockSmartChargingService) ComputeAndApply(ctx context.Context, tenantID, siteAreaID string) error {
	if m.ComputeAndApplyFunc != nil {
		return m.ComputeAndApplyFunc(ctx, tenantID, siteAreaID)
	}
	return nil
}

func (m *MockSmartChargingService) ClearTxProfile(ctx context.Context, tx *domain.Transaction) error {
	if m.ClearTxProfileFunc != nil {
		return m.ClearTxProfileFunc(ctx, tx)
	}
	return nil
}

// MockNotificationService is a mock implementation of NotificationService. It
// records what was sent for assertions.
type MockNotificationService struct {
	StationRegistered    []string
	SessionStarted       []int
	EndOfCharge          []int
	OptimalChargeReached []int
	EndOfSession         []int
	EndOfSignedSession   []int
	StatusErrors         []string
}

func (m *MockNotificationService) NotifyStationRegistered(tenantID string, station *domain.ChargingStation) {
	m.StationRegistered = append(m.StationRegistered, station.ID)
}

func (m *MockNotificationService) NotifySessionStarted(tenantID string, tx *domain.Transaction) {
	m.SessionStarted = append(m.SessionStarted, tx.ID)
}

func (m *MockNotificationService) NotifyEndOfCharge(tenantID string, tx *domain.Transaction) {
	m.EndOfCharge = append(m.EndOfCharge, tx.ID)
}

func (m *MockNotificationService) NotifyOptimalChargeReached(tenantID string, tx *domain.Transaction) {
	m.OptimalChargeReached = append(m.OptimalChargeReached, tx.ID)
}

func (m *MockNotificationService) NotifyEndOfSession(tenantID string, tx *domain.Transaction) {
	m.EndOfSession = append(m.EndOfSession, tx.ID)
}

func (m *MockNotificationService) NotifyEndOfSignedSession(tenantID string, tx *domain.Transaction) {
	m.EndOfSignedSession = append(m.EndOfSignedSession, tx.ID)
}

func (m *MockNotificationService) NotifyStatusError(tenantID string, station *domain.ChargingStation, connector *domain.Connector) {
	m.StatusErrors = append(m.StatusErrors, station.ID)
}

// MockTemplateCatalog is a mock implementation of TemplateCatalog
type MockTemplateCatalog struct {
	ApplyTemplateFunc   func(ctx context.Context, station *domain.ChargingStation) (*ports.TemplateResult, error)
	EnrichConnectorFunc func(ctx context.Context, station *domain.ChargingStation, connectorID int) (bool, error)
}

func (m *MockTemplateCatalog) ApplyTemplate(ctx context.Context, station *domain.ChargingStation) (*ports.TemplateResult, error) {
	if m.ApplyTemplateFunc != nil {
		return m.ApplyTemplateFunc(ctx, station)
	}
	return &ports.TemplateResult{}, nil
}

func (m *MockTemplateCatalog) EnrichConnector(ctx context.Context, station *domain.ChargingStation, connectorID int) (bool, error) {
	if m.EnrichConnectorFunc != nil {
		return m.EnrichConnectorFunc(ctx, station, connectorID)
	}
	return false, nil
}

// MockInactivityClassifier is a mock implementation of InactivityClassifier
type MockInactivityClassifier struct {
	ClassifyFunc func(station *domain.ChargingStation, connectorID int, totalInactivitySecs int) domain.InactivityStatus
}

func (m *MockInactivityClassifier) Classify(station *domain.ChargingStation, connectorID int, totalInactivitySecs int) domain.InactivityStatus {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(station, connectorID, totalInactivitySecs)
	}
	return domain.InactivityStatusInfo
}

// MockStationCommander is a mock implementation of StationCommander
type MockStationCommander struct {
	ChangeConfigurationFunc func(ctx context.Context, tenantID, chargeBoxID, key, value string) (bool, error)
	Calls                   []string
}

func (m *MockStationCommander) ChangeConfiguration(ctx context.Context, tenantID, chargeBoxID, key, value string) (bool, error) {
	m.Calls = append(m.Calls, key+"="+value)
	if m.ChangeConfigurationFunc != nil {
		return m.ChangeConfigurationFunc(ctx, tenantID, chargeBoxID, key, value)
	}
	return true, nil
}

// MockSiteAuthorizer is a mock implementation of SiteAuthorizer
type MockSiteAuthorizer struct {
	CanStartTransactionFunc func(ctx context.Context, user *domain.User, station *domain.ChargingStation) (bool, error)
}

func (m *MockSiteAuthorizer) CanStartTransaction(ctx context.Context, user *domain.User, station *domain.ChargingStation) (bool, error) {
	if m.CanStartTransactionFunc != nil {
		return m.CanStartTransactionFunc(ctx, user, station)
	}
	return true, nil
}

// MockScheduler runs scheduled work synchronously, ignoring the delay, so
// tests see deferred effects immediately.
type MockScheduler struct {
	Scheduled []string
	Inline    bool
}

func (m *MockScheduler) Schedule(name string, delay time.Duration, fn func(ctx context.Context)) {
	m.Scheduled = append(m.Scheduled, name)
	if m.Inline {
		fn(context.Background())
	}
}

// MockMessageQueue records published messages.
type MockMessageQueue struct {
	PublishFunc func(ctx context.Context, subject string, data []byte) error
	Published   []string
}

func (m *MockMessageQueue) Publish(ctx context.Context, subject string, data []byte) error {
	m.Published = append(m.Published, subject)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, subject, data)
	}
	return nil
}

func (m *MockMessageQueue) Subscribe(subject string, handler func(data []byte)) error {
	return nil
}

func (m *MockMessageQueue) Close() error {
	return nil
}

// MockTransactionRecovery is a mock implementation of TransactionRecovery
type MockTransactionRecovery struct {
	StopOrDeleteFunc           func(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connectorID int) error
	ComputeExtraInactivityFunc func(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector, statusTimestamp time.Time) error
}

func (m *MockTransactionRecovery) StopOrDeleteActiveTransactions(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connectorID int) error {
	if m.StopOrDeleteFunc != nil {
		return m.StopOrDeleteFunc(ctx, tenant, station, connectorID)
	}
	return nil
}

func (m *MockTransactionRecovery) ComputeExtraInactivity(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector, statusTimestamp time.Time) error {
	if m.ComputeExtraInactivityFunc != nil {
		return m.ComputeExtraInactivityFunc(ctx, tenant, station, connector, statusTimestamp)
	}
	return nil
}
