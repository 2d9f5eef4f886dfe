// Package dispatcher fans out transaction and connector events to the
// integrations activated on the tenant. Everything here is soft-fail: an
// integration outage degrades enrichment, never OCPP message handling.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
	"github.com/gridwise/csms/pkg/config"
)

const (
	cdrLockTTL           = 2 * time.Minute
	smartChargingLockTTL = 30 * time.Second
	notificationDedupTTL = 24 * time.Hour
)

// SideEffects routes lifecycle events to pricing, billing, roaming, smart
// charging and user notifications, honoring the tenant's component flags.
type SideEffects struct {
	pricing       ports.PricingService
	billing       ports.BillingService
	roaming       ports.RoamingService
	smartCharging ports.SmartChargingService
	notifications ports.NotificationService
	locks         ports.LockService
	scheduler     ports.Scheduler
	transactions  ports.TransactionRepository
	cfg           config.OCPPConfig
	log           *zap.Logger
}

func NewSideEffects(
	pricing ports.PricingService,
	billing ports.BillingService,
	roaming ports.RoamingService,
	smartCharging ports.SmartChargingService,
	notifications ports.NotificationService,
	locks ports.LockService,
	scheduler ports.Scheduler,
	transactions ports.TransactionRepository,
	cfg config.OCPPConfig,
	log *zap.Logger,
) *SideEffects {
	return &SideEffects{
		pricing:       pricing,
		billing:       billing,
		roaming:       roaming,
		smartCharging: smartCharging,
		notifications: notifications,
		locks:         locks,
		scheduler:     scheduler,
		transactions:  transactions,
		cfg:           cfg,
		log:           log.Named("dispatcher"),
	}
}

func (s *SideEffects) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.PerCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.PerCallTimeout)
}

// Price runs the pricing integration inline so the consumption row carries its
// price before it is persisted. Errors are logged and swallowed.
func (s *SideEffects) Price(ctx context.Context, tenant *domain.Tenant, action domain.TransactionAction, tx *domain.Transaction, consumption *domain.Consumption) {
	if !tenant.PricingEnabled || s.pricing == nil {
		return
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.pricing.Price(cctx, action, tx, consumption); err != nil {
		s.log.Warn("pricing failed",
			zap.String("tenant", tenant.ID),
			zap.Int("transaction", tx.ID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// Bill forwards the lifecycle step to billing.
func (s *SideEffects) Bill(ctx context.Context, tenant *domain.Tenant, action domain.TransactionAction, tx *domain.Transaction) {
	if !tenant.BillingEnabled || s.billing == nil {
		return
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.billing.Bill(cctx, action, tx); err != nil {
		s.log.Warn("billing failed",
			zap.String("tenant", tenant.ID),
			zap.Int("transaction", tx.ID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// RoamingSession mirrors a lifecycle step onto the roaming network for
// sessions that were started with a roaming tag.
func (s *SideEffects) RoamingSession(ctx context.Context, tenant *domain.Tenant, action domain.TransactionAction, tx *domain.Transaction, station *domain.ChargingStation) {
	if !tenant.RoamingEnabled || s.roaming == nil {
		return
	}
	if tx.RoamingAuthID == "" && tx.RoamingSessionID == "" {
		return
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.roaming.ProcessSession(cctx, tenant.RoamingProtocol, action, tx, station); err != nil {
		s.log.Warn("roaming session update failed",
			zap.String("tenant", tenant.ID),
			zap.Int("transaction", tx.ID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// AuthorizeRoaming resolves an unknown tag against the roaming network and
// returns the remote authorization id on success.
func (s *SideEffects) AuthorizeRoaming(ctx context.Context, tenant *domain.Tenant, tagID string) (string, error) {
	if !tenant.RoamingEnabled || s.roaming == nil {
		return "", domain.ErrTagInvalid
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	return s.roaming.Authorize(cctx, tenant.ID, tagID)
}

// PushCdr publishes the charge detail record exactly once per transaction.
// The named lock serializes concurrent attempts (stop path vs. the Available
// status path); losing the race is a silent skip.
func (s *SideEffects) PushCdr(ctx context.Context, tenant *domain.Tenant, tx *domain.Transaction, station *domain.ChargingStation) {
	if !tenant.RoamingEnabled || s.roaming == nil {
		return
	}
	if tx.RoamingSessionID == "" || tx.CdrPushed {
		return
	}
	lockName := fmt.Sprintf("%s:%s-cdr:%d", tenant.ID, tenant.RoamingProtocol, tx.ID)
	lock, err := s.locks.Acquire(ctx, lockName, cdrLockTTL)
	if err != nil {
		s.log.Warn("cdr lock acquire failed", zap.String("lock", lockName), zap.Error(err))
		return
	}
	if lock == nil {
		s.log.Debug("cdr push already in progress", zap.String("lock", lockName))
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.log.Warn("cdr lock release failed", zap.String("lock", lockName), zap.Error(err))
		}
	}()

	// Re-read under the lock; another node may have pushed already.
	current, err := s.transactions.FindByID(ctx, tenant.ID, tx.ID)
	if err != nil {
		s.log.Warn("cdr transaction reload failed", zap.Int("transaction", tx.ID), zap.Error(err))
		return
	}
	if current == nil || current.CdrPushed {
		return
	}

	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.roaming.PushCdr(cctx, tenant.RoamingProtocol, current, station); err != nil {
		s.log.Warn("cdr push failed",
			zap.String("tenant", tenant.ID),
			zap.Int("transaction", tx.ID),
			zap.Error(err))
		return
	}
	current.CdrPushed = true
	tx.CdrPushed = true
	if err := s.transactions.Save(ctx, current); err != nil {
		s.log.Error("cdr push state save failed", zap.Int("transaction", tx.ID), zap.Error(err))
	}
}

// PushConnectorStatus mirrors a connector status change to the roaming
// network. Best effort.
func (s *SideEffects) PushConnectorStatus(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector) {
	if !tenant.RoamingEnabled || s.roaming == nil || !station.Public {
		return
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.roaming.PushConnectorStatus(cctx, tenant.RoamingProtocol, station, connector); err != nil {
		s.log.Debug("roaming status push failed",
			zap.String("station", station.ID),
			zap.Int("connector", connector.ConnectorID),
			zap.Error(err))
	}
}

// ScheduleSmartCharging defers a site-area recomputation. The delay absorbs
// bursts of status changes; the lock keeps one recomputation per site area and
// stays held for its full TTL so immediate retriggers collapse into it.
func (s *SideEffects) ScheduleSmartCharging(tenant *domain.Tenant, siteAreaID string) {
	if !tenant.SmartChargingEnabled || s.smartCharging == nil || siteAreaID == "" {
		return
	}
	tenantID := tenant.ID
	name := fmt.Sprintf("smart-charging %s/%s", tenantID, siteAreaID)
	s.scheduler.Schedule(name, s.cfg.SmartChargingDelay, func(ctx context.Context) {
		lockName := fmt.Sprintf("%s:smart-charging:%s", tenantID, siteAreaID)
		lock, err := s.locks.Acquire(ctx, lockName, smartChargingLockTTL)
		if err != nil {
			s.log.Warn("smart charging lock acquire failed", zap.String("lock", lockName), zap.Error(err))
			return
		}
		if lock == nil {
			// Another recomputation is running or just ran.
			return
		}
		cctx, cancel := s.callCtx(ctx)
		defer cancel()
		if err := s.smartCharging.ComputeAndApply(cctx, tenantID, siteAreaID); err != nil {
			s.log.Warn("smart charging recomputation failed",
				zap.String("tenant", tenantID),
				zap.String("site_area", siteAreaID),
				zap.Error(err))
		}
	})
}

// ClearTxProfile removes the transaction's charging profile after a stop.
func (s *SideEffects) ClearTxProfile(ctx context.Context, tenant *domain.Tenant, tx *domain.Transaction) {
	if !tenant.SmartChargingEnabled || s.smartCharging == nil {
		return
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.smartCharging.ClearTxProfile(cctx, tx); err != nil {
		s.log.Debug("tx profile clear failed", zap.Int("transaction", tx.ID), zap.Error(err))
	}
}

// notifyOnce gates a per-transaction notification behind a never-released
// named lock, so reconnect storms and multi-node delivery collapse to one.
func (s *SideEffects) notifyOnce(ctx context.Context, tenantID, kind string, txID int, send func()) {
	lockName := fmt.Sprintf("%s:notif:%s:%d", tenantID, kind, txID)
	lock, err := s.locks.Acquire(ctx, lockName, notificationDedupTTL)
	if err != nil {
		s.log.Warn("notification dedup acquire failed", zap.String("lock", lockName), zap.Error(err))
		return
	}
	if lock == nil {
		return
	}
	send()
}

func (s *SideEffects) NotifyStationRegistered(tenant *domain.Tenant, station *domain.ChargingStation) {
	if s.notifications == nil {
		return
	}
	s.notifications.NotifyStationRegistered(tenant.ID, station)
}

func (s *SideEffects) NotifySessionStarted(tenant *domain.Tenant, tx *domain.Transaction) {
	if s.notifications == nil {
		return
	}
	s.notifications.NotifySessionStarted(tenant.ID, tx)
}

func (s *SideEffects) NotifyEndOfCharge(ctx context.Context, tenant *domain.Tenant, tx *domain.Transaction) {
	if s.notifications == nil || !s.cfg.Notifications.EndOfChargeEnabled {
		return
	}
	s.notifyOnce(ctx, tenant.ID, "end-of-charge", tx.ID, func() {
		s.notifications.NotifyEndOfCharge(tenant.ID, tx)
	})
}

func (s *SideEffects) NotifyOptimalChargeReached(ctx context.Context, tenant *domain.Tenant, tx *domain.Transaction) {
	if s.notifications == nil || !s.cfg.Notifications.BeforeEndOfChargeEnabled {
		return
	}
	s.notifyOnce(ctx, tenant.ID, "optimal-charge", tx.ID, func() {
		s.notifications.NotifyOptimalChargeReached(tenant.ID, tx)
	})
}

// NotifyEndOfSession always announces the session end; sessions that carry
// signed meter data additionally get the signed-receipt notification.
func (s *SideEffects) NotifyEndOfSession(tenant *domain.Tenant, tx *domain.Transaction) {
	if s.notifications == nil {
		return
	}
	s.notifications.NotifyEndOfSession(tenant.ID, tx)
	if tx.SignedData != "" || tx.EndSignedData != "" || (tx.Stop != nil && tx.Stop.SignedData != "") {
		s.notifications.NotifyEndOfSignedSession(tenant.ID, tx)
	}
}

func (s *SideEffects) NotifyStatusError(tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector) {
	if s.notifications == nil {
		return
	}
	s.notifications.NotifyStatusError(tenant.ID, station, connector)
}
