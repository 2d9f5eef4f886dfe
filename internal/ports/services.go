package ports

import (
	"context"
	"time"

	"github.com/gridwise/csms/internal/domain"
)

// Clock abstracts wallclock access so the inactivity and end-of-charge paths
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// PricingService prices a consumption interval inline on the hot path. It may
// mutate the consumption's pricing snapshot and the transaction's price totals.
type PricingService interface {
	Price(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction, consumption *domain.Consumption) error
}

// BillingService forwards transaction lifecycle steps to the billing
// integration. Failures are soft: logged, never failing message handling.
type BillingService interface {
	Bill(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction) error
}

// RoamingService bridges sessions to an external roaming network. The End
// action pushes the CDR and must be serialized per transaction by the caller.
type RoamingService interface {
	ProcessSession(ctx context.Context, protocol domain.RoamingProtocol, action domain.TransactionAction, tx *domain.Transaction, station *domain.ChargingStation) error
	PushCdr(ctx context.Context, protocol domain.RoamingProtocol, tx *domain.Transaction, station *domain.ChargingStation) error
	PushConnectorStatus(ctx context.Context, protocol domain.RoamingProtocol, station *domain.ChargingStation, connector *domain.Connector) error
	// Authorize resolves an unknown tag against the roaming network and
	// returns the remote authorization id.
	Authorize(ctx context.Context, tenantID, tagID string) (string, error)
}

// SmartChargingService recomputes charging profiles for a site area. Both
// calls are best-effort; the caller defers and serializes them.
type SmartChargingService interface {
	ComputeAndApply(ctx context.Context, tenantID, siteAreaID string) error
	ClearTxProfile(ctx context.Context, tx *domain.Transaction) error
}

// NotificationService is fully async and best-effort: implementations swallow
// failures after logging them, so none of these block or fail the hot path.
type NotificationService interface {
	NotifyStationRegistered(tenantID string, station *domain.ChargingStation)
	NotifySessionStarted(tenantID string, tx *domain.Transaction)
	NotifyEndOfCharge(tenantID string, tx *domain.Transaction)
	NotifyOptimalChargeReached(tenantID string, tx *domain.Transaction)
	NotifyEndOfSession(tenantID string, tx *domain.Transaction)
	NotifyEndOfSignedSession(tenantID string, tx *domain.Transaction)
	NotifyStatusError(tenantID string, station *domain.ChargingStation, connector *domain.Connector)
}

// TemplateResult reports what a template application changed.
type TemplateResult struct {
	Updated             bool
	OCPPStandardUpdated bool
	OCPPVendorUpdated   bool
	// ConfigurationKeys are the template-prescribed OCPP keys to push to the
	// station after boot.
	ConfigurationKeys map[string]string
}

// TemplateCatalog enriches stations and connectors from the declarative
// vendor/model templates. Application is idempotent.
type TemplateCatalog interface {
	ApplyTemplate(ctx context.Context, station *domain.ChargingStation) (*TemplateResult, error)
	EnrichConnector(ctx context.Context, station *domain.ChargingStation, connectorID int) (bool, error)
}

// InactivityClassifier maps a total inactivity duration to a severity using
// the station/site thresholds configured outside the core.
type InactivityClassifier interface {
	Classify(station *domain.ChargingStation, connectorID int, totalInactivitySecs int) domain.InactivityStatus
}

// Lock is a held named lock.
type Lock interface {
	Release(ctx context.Context) error
}

// LockService provides named per-aggregate exclusivity. Acquire returns
// (nil, nil) when the lock is held elsewhere; callers skip silently.
type LockService interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// StationCommander sends central-system-initiated calls to a connected
// station.
type StationCommander interface {
	// ChangeConfiguration returns true when the station accepted the key.
	ChangeConfiguration(ctx context.Context, tenantID, chargeBoxID, key, value string) (bool, error)
}

// SiteAuthorizer is the external site-area assignment predicate consumed at
// StartTransaction.
type SiteAuthorizer interface {
	CanStartTransaction(ctx context.Context, user *domain.User, station *domain.ChargingStation) (bool, error)
}

// Scheduler submits deferred work to a bounded worker pool so shutdown can
// drain cleanly.
type Scheduler interface {
	Schedule(name string, delay time.Duration, fn func(ctx context.Context))
}

// Cache is the shared read-through cache used for hot lookups.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}

// TransactionRecovery is the slice of the transaction engine the connector
// state machine needs: stop-or-delete recovery and extra-inactivity
// accounting. Kept narrow to break the station/transaction dependency cycle.
type TransactionRecovery interface {
	StopOrDeleteActiveTransactions(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connectorID int) error
	ComputeExtraInactivity(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector, statusTimestamp time.Time) error
}
