// Package transaction implements the charging session engine: authorization,
// StartTransaction, MeterValues, StopTransaction and the recovery paths the
// connector state machine depends on.
package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/observability"
	"github.com/gridwise/csms/internal/ocpp"
	"github.com/gridwise/csms/internal/ports"
	"github.com/gridwise/csms/internal/service/dispatcher"
	"github.com/gridwise/csms/pkg/config"
)

const (
	// remoteStopTagWindow is how long a RemoteStopTransaction's tag remains
	// attributable to the StopTransaction the station sends back.
	remoteStopTagWindow = 60 * time.Second
	// maxRecoveryIterations bounds the orphaned-session cleanup loop.
	maxRecoveryIterations = 10
	// endOfChargeZeroIntervals is how many consecutive zero-consumption
	// intervals signal a full battery.
	endOfChargeZeroIntervals = 3
)

type Service struct {
	tenants      ports.TenantRepository
	stations     ports.StationRepository
	transactions ports.TransactionRepository
	consumptions ports.ConsumptionRepository
	meterValues  ports.MeterValueRepository
	tags         ports.TagRepository
	users        ports.UserRepository
	siteAuth     ports.SiteAuthorizer
	classifier   ports.InactivityClassifier
	effects      *dispatcher.SideEffects
	clock        ports.Clock
	cfg          config.OCPPConfig
	log          *zap.Logger

	// zeroIntervals counts consecutive zero-consumption intervals per open
	// transaction, keyed tenant:txID. Purely a detection aid; loss on restart
	// only delays the end-of-charge notification by a few samples.
	zeroIntervals sync.Map
}

func NewService(
	tenants ports.TenantRepository,
	stations ports.StationRepository,
	transactions ports.TransactionRepository,
	consumptions ports.ConsumptionRepository,
	meterValues ports.MeterValueRepository,
	tags ports.TagRepository,
	users ports.UserRepository,
	siteAuth ports.SiteAuthorizer,
	classifier ports.InactivityClassifier,
	effects *dispatcher.SideEffects,
	clock ports.Clock,
	cfg config.OCPPConfig,
	log *zap.Logger,
) *Service {
	return &Service{
		tenants:      tenants,
		stations:     stations,
		transactions: transactions,
		consumptions: consumptions,
		meterValues:  meterValues,
		tags:         tags,
		users:        users,
		siteAuth:     siteAuth,
		classifier:   classifier,
		effects:      effects,
		clock:        clock,
		cfg:          cfg,
		log:          log.Named("transaction"),
	}
}

// authResult is the outcome of resolving an idTag against local tags, the
// user behind them, and the roaming network.
type authResult struct {
	status        ocpp.AuthorizationStatus
	tag           *domain.Tag
	user          *domain.User
	roamingAuthID string
}

func (s *Service) resolve(ctx context.Context, header ocpp.RequestHeader) (*domain.Tenant, *domain.ChargingStation, error) {
	tenant, err := s.tenants.FindByID(ctx, header.TenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve tenant %q: %w", header.TenantID, err)
	}
	if tenant == nil {
		return nil, nil, domain.ErrUnknownTenant
	}
	station, err := s.stations.FindByID(ctx, tenant.ID, header.ChargeBoxID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve station %q: %w", header.ChargeBoxID, err)
	}
	if station == nil {
		return nil, nil, domain.ErrStationNotRegistered
	}
	return tenant, station, nil
}

// authorizeTag resolves a tag to an authorization status. Unknown tags fall
// through to the roaming network when the tenant roams and the station is
// public.
func (s *Service) authorizeTag(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, tagID string) authResult {
	if len(tagID) > 20 {
		s.log.Warn("tag exceeds OCPP length limit",
			zap.String("tenant", tenant.ID),
			zap.Int("length", len(tagID)))
		return authResult{status: ocpp.AuthorizationInvalid}
	}
	if tagID == "" {
		return authResult{status: ocpp.AuthorizationInvalid}
	}

	tag, err := s.tags.FindByID(ctx, tenant.ID, tagID)
	if err != nil {
		s.log.Error("tag lookup failed", zap.String("tenant", tenant.ID), zap.Error(err))
		return authResult{status: ocpp.AuthorizationInvalid}
	}
	if tag == nil {
		return s.authorizeRoamingTag(ctx, tenant, station, tagID)
	}

	now := s.clock.Now()
	if tag.ExpiryDate != nil && !tag.ExpiryDate.After(now) {
		return authResult{status: ocpp.AuthorizationExpired, tag: tag}
	}
	if !tag.Active {
		return authResult{status: ocpp.AuthorizationBlocked, tag: tag}
	}

	var user *domain.User
	if tag.UserID != "" {
		user, err = s.users.FindByID(ctx, tenant.ID, tag.UserID)
		if err != nil {
			s.log.Error("user lookup failed", zap.String("user", tag.UserID), zap.Error(err))
			return authResult{status: ocpp.AuthorizationInvalid, tag: tag}
		}
		if user != nil && user.Status == domain.UserStatusBlocked {
			return authResult{status: ocpp.AuthorizationBlocked, tag: tag, user: user}
		}
	}
	return authResult{status: ocpp.AuthorizationAccepted, tag: tag, user: user}
}

func (s *Service) authorizeRoamingTag(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, tagID string) authResult {
	if !tenant.RoamingEnabled {
		return authResult{status: ocpp.AuthorizationInvalid}
	}
	if !station.Public {
		s.log.Info("roaming tag refused on private station",
			zap.String("tenant", tenant.ID),
			zap.String("station", station.ID))
		return authResult{status: ocpp.AuthorizationInvalid}
	}
	authID, err := s.effects.AuthorizeRoaming(ctx, tenant, tagID)
	if err != nil {
		s.log.Info("roaming authorization refused",
			zap.String("tenant", tenant.ID),
			zap.Error(err))
		return authResult{status: ocpp.AuthorizationInvalid}
	}
	return authResult{status: ocpp.AuthorizationAccepted, roamingAuthID: authID}
}

// ProcessAuthorize answers an Authorize request without reserving anything.
func (s *Service) ProcessAuthorize(ctx context.Context, header ocpp.RequestHeader, req *ocpp.AuthorizeRequest) (*ocpp.AuthorizeResponse, error) {
	tenant, station, err := s.resolve(ctx, header)
	if err != nil {
		return nil, err
	}
	auth := s.authorizeTag(ctx, tenant, station, string(req.IdTag))
	s.log.Info("authorize",
		zap.String("tenant", tenant.ID),
		zap.String("station", station.ID),
		zap.String("status", string(auth.status)))
	return &ocpp.AuthorizeResponse{IDTagInfo: ocpp.IDTagInfo{Status: auth.status}}, nil
}

// ProcessStartTransaction opens a session. Any authorization failure answers
// with transactionId 0 and the failing status so the station releases the
// cable; nothing is persisted in that case.
func (s *Service) ProcessStartTransaction(ctx context.Context, header ocpp.RequestHeader, req *ocpp.StartTransactionRequest) (*ocpp.StartTransactionResponse, error) {
	tenant, station, err := s.resolve(ctx, header)
	if err != nil {
		return nil, err
	}
	connector := station.GetConnector(req.ConnectorID)
	if connector == nil {
		return nil, fmt.Errorf("station %q: %w: %d", station.ID, domain.ErrConnectorNotFound, req.ConnectorID)
	}

	auth := s.authorizeTag(ctx, tenant, station, string(req.IdTag))
	if auth.status != ocpp.AuthorizationAccepted {
		return &ocpp.StartTransactionResponse{
			TransactionID: 0,
			IDTagInfo:     ocpp.IDTagInfo{Status: auth.status},
		}, nil
	}
	if s.siteAuth != nil && auth.user != nil {
		allowed, err := s.siteAuth.CanStartTransaction(ctx, auth.user, station)
		if err != nil {
			s.log.Warn("site authorization check failed",
				zap.String("station", station.ID),
				zap.Error(err))
		} else if !allowed {
			s.log.Info("start refused by site authorization",
				zap.String("tenant", tenant.ID),
				zap.String("station", station.ID),
				zap.String("user", auth.user.ID))
			return &ocpp.StartTransactionResponse{
				TransactionID: 0,
				IDTagInfo:     ocpp.IDTagInfo{Status: ocpp.AuthorizationInvalid},
			}, nil
		}
	}

	// A fresh start on a connector that still carries a session means the
	// previous one never got its StopTransaction.
	if connector.CurrentTransactionID != 0 {
		if err := s.StopOrDeleteActiveTransactions(ctx, tenant, station, connector.ConnectorID); err != nil {
			s.log.Error("stale session cleanup failed",
				zap.String("station", station.ID),
				zap.Int("connector", connector.ConnectorID),
				zap.Error(err))
		}
		connector.ClearSession()
	}

	txID, err := s.transactions.NextTransactionID(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("allocate transaction id: %w", err)
	}

	tx := &domain.Transaction{
		ID:          txID,
		TenantID:    tenant.ID,
		ChargeBoxID: station.ID,
		ConnectorID: req.ConnectorID,
		TagID:       string(req.IdTag),
		SiteAreaID:  station.SiteAreaID,
		SiteID:      station.SiteID,
		Issuer:      auth.roamingAuthID == "",
		Timestamp:   req.Timestamp,
		MeterStart:  req.MeterStart,
		PhasesUsed:  connector.NumberOfPhases,
		CreatedAt:   s.clock.Now(),
	}
	if auth.user != nil {
		tx.UserID = auth.user.ID
		if tenant.CarEnabled && auth.user.DefaultCarID != "" {
			tx.CarID = auth.user.DefaultCarID
			// One-shot selection; the station cannot tell us which car.
			auth.user.DefaultCarID = ""
			if err := s.users.Save(ctx, auth.user); err != nil {
				s.log.Warn("default car clear failed",
					zap.String("user", auth.user.ID),
					zap.Error(err))
			}
		}
	}
	if auth.roamingAuthID != "" {
		tx.RoamingProtocol = tenant.RoamingProtocol
		tx.RoamingAuthID = auth.roamingAuthID
	}

	if err := s.transactions.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	// Anchor consumption at the session start with a zero-width interval so
	// pricing sees the session open.
	begin := s.newConsumption(tx, req.Timestamp, req.Timestamp, 0, 0)
	s.effects.Price(ctx, tenant, domain.TransactionActionStart, tx, begin)
	if err := s.consumptions.Save(ctx, begin); err != nil {
		s.log.Warn("begin consumption save failed", zap.Int("transaction", tx.ID), zap.Error(err))
	}

	startDate := req.Timestamp
	connector.CurrentTransactionID = tx.ID
	connector.CurrentTransactionDate = &startDate
	connector.CurrentTagID = tx.TagID
	connector.CurrentUserID = tx.UserID
	if err := s.stations.Save(ctx, station); err != nil {
		return nil, fmt.Errorf("save station %q: %w", station.ID, err)
	}

	observability.TransactionStarted(tenant.ID)
	s.effects.Bill(ctx, tenant, domain.TransactionActionStart, tx)
	s.effects.RoamingSession(ctx, tenant, domain.TransactionActionStart, tx, station)
	s.effects.NotifySessionStarted(tenant, tx)
	s.effects.ScheduleSmartCharging(tenant, station.SiteAreaID)

	s.log.Info("transaction started",
		zap.String("tenant", tenant.ID),
		zap.String("station", station.ID),
		zap.Int("connector", req.ConnectorID),
		zap.Int("transaction", tx.ID),
		zap.String("tag", tx.TagID))

	return &ocpp.StartTransactionResponse{
		TransactionID: tx.ID,
		IDTagInfo:     ocpp.IDTagInfo{Status: ocpp.AuthorizationAccepted},
	}, nil
}

// ProcessStopTransaction closes a session. Stations occasionally send a stop
// for transactionId 0 after losing state; that is acknowledged and dropped.
// The stop itself always proceeds regardless of the stopping tag's status,
// only the reported idTagInfo reflects it.
func (s *Service) ProcessStopTransaction(ctx context.Context, header ocpp.RequestHeader, req *ocpp.StopTransactionRequest) (*ocpp.StopTransactionResponse, error) {
	tenant, station, err := s.resolve(ctx, header)
	if err != nil {
		return nil, err
	}

	if req.TransactionID == 0 {
		s.log.Warn("stop for transaction 0 acknowledged",
			zap.String("tenant", tenant.ID),
			zap.String("station", station.ID))
		return &ocpp.StopTransactionResponse{
			IDTagInfo: ocpp.IDTagInfo{Status: ocpp.AuthorizationAccepted},
		}, nil
	}

	tx, err := s.transactions.FindByID(ctx, tenant.ID, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", req.TransactionID, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %d: %w", req.TransactionID, domain.ErrTransactionNotFound)
	}
	if tx.IsStopped() {
		return nil, fmt.Errorf("transaction %d: %w", tx.ID, domain.ErrTransactionAlreadyStopped)
	}

	stopTagID := s.resolveStopTag(tx, string(req.IdTag))
	status := ocpp.AuthorizationAccepted
	if stopTagID != tx.TagID {
		auth := s.authorizeTag(ctx, tenant, station, stopTagID)
		status = auth.status
	}

	// transactionData rides on the stop and is processed as regular meter
	// values before the closing interval.
	for i := range req.TransactionData {
		s.processMeterValue(ctx, tenant, station, tx, &req.TransactionData[i])
	}

	meterStop := req.MeterStop
	if err := s.finalizeStop(ctx, tenant, station, tx, stopTagID, meterStop, req.Timestamp, req.Reason); err != nil {
		return nil, err
	}

	return &ocpp.StopTransactionResponse{IDTagInfo: ocpp.IDTagInfo{Status: status}}, nil
}

// resolveStopTag picks the tag to attribute the stop to. A recent
// RemoteStopTransaction is the actual stopper even when the station echoes
// the session tag back; otherwise the tag on the request wins and the
// starting tag is the final fallback.
func (s *Service) resolveStopTag(tx *domain.Transaction, reqTag string) string {
	if tx.RemoteStopTagID != "" && tx.RemoteStopTimestamp != nil &&
		s.clock.Now().Sub(*tx.RemoteStopTimestamp) <= remoteStopTagWindow {
		return tx.RemoteStopTagID
	}
	if reqTag != "" {
		return reqTag
	}
	return tx.TagID
}

// finalizeStop writes the stop block exactly once and runs the stop-side
// effects. meterStop 0 on a session with recorded consumption is treated as a
// station that lost its meter and is reconstructed from the running total.
func (s *Service) finalizeStop(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, tx *domain.Transaction, stopTagID string, meterStop int, timestamp time.Time, reason string) error {
	if tx.IsStopped() {
		return fmt.Errorf("transaction %d: %w", tx.ID, domain.ErrTransactionAlreadyStopped)
	}
	if meterStop == 0 && tx.CurrentTotalConsumptionWh > 0 {
		meterStop = tx.MeterStart + int(tx.CurrentTotalConsumptionWh)
		s.log.Info("meterStop reconstructed from running total",
			zap.Int("transaction", tx.ID),
			zap.Int("meter_stop", meterStop))
	}

	// Closing interval from the last anchor to the stop reading.
	closing := s.buildInterval(tx, station, timestamp, float64(meterStop))
	if closing != nil {
		s.effects.Price(ctx, tenant, domain.TransactionActionUpdate, tx, closing)
		tx.CurrentCumulatedPrice = closing.CumulatedPrice
		if err := s.consumptions.Save(ctx, closing); err != nil {
			s.log.Warn("closing consumption save failed", zap.Int("transaction", tx.ID), zap.Error(err))
		}
	}

	durationSecs := int(timestamp.Sub(tx.Timestamp).Seconds())
	if durationSecs < 0 {
		durationSecs = 0
	}
	inactivityStatus := domain.InactivityStatusInfo
	if s.classifier != nil {
		inactivityStatus = s.classifier.Classify(station, tx.ConnectorID, tx.CurrentTotalInactivitySecs)
	}
	tx.Stop = &domain.TransactionStop{
		Timestamp:           timestamp,
		MeterStop:           meterStop,
		TagID:               stopTagID,
		UserID:              tx.UserID,
		TotalConsumptionWh:  float64(meterStop - tx.MeterStart),
		TotalInactivitySecs: tx.CurrentTotalInactivitySecs,
		InactivityStatus:    inactivityStatus,
		TotalDurationSecs:   durationSecs,
		StateOfCharge:       tx.CurrentStateOfCharge,
		SignedData:          tx.EndSignedData,
		Reason:              reason,
	}

	s.effects.Price(ctx, tenant, domain.TransactionActionStop, tx, nil)
	tx.Stop.Price = tx.CurrentCumulatedPrice
	tx.Stop.RoundedPrice = roundPrice(tx.CurrentCumulatedPrice)

	if err := s.transactions.Save(ctx, tx); err != nil {
		return fmt.Errorf("save stopped transaction %d: %w", tx.ID, err)
	}
	s.zeroIntervals.Delete(zeroIntervalKey(tx))

	if connector := station.GetConnector(tx.ConnectorID); connector != nil &&
		connector.CurrentTransactionID == tx.ID {
		connector.ClearSession()
		if err := s.stations.Save(ctx, station); err != nil {
			s.log.Warn("connector session clear failed",
				zap.String("station", station.ID),
				zap.Error(err))
		}
	}

	observability.TransactionStopped(tenant.ID)
	s.effects.Bill(ctx, tenant, domain.TransactionActionStop, tx)
	s.effects.RoamingSession(ctx, tenant, domain.TransactionActionStop, tx, station)
	s.effects.ClearTxProfile(ctx, tenant, tx)
	s.effects.ScheduleSmartCharging(tenant, station.SiteAreaID)
	s.effects.NotifyEndOfSession(tenant, tx)

	s.log.Info("transaction stopped",
		zap.String("tenant", tenant.ID),
		zap.String("station", station.ID),
		zap.Int("transaction", tx.ID),
		zap.Float64("total_wh", tx.Stop.TotalConsumptionWh),
		zap.Int("inactivity_secs", tx.Stop.TotalInactivitySecs),
		zap.String("reason", reason))
	return nil
}

// StopOrDeleteActiveTransactions clears every open session on a connector.
// Sessions without a single meter value are deleted outright, the rest get a
// soft stop reconstructed from the running totals. The loop is bounded and
// bails when it sees the same transaction twice.
func (s *Service) StopOrDeleteActiveTransactions(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connectorID int) error {
	lastSeen := 0
	for i := 0; i < maxRecoveryIterations; i++ {
		tx, err := s.transactions.FindActiveOnConnector(ctx, tenant.ID, station.ID, connectorID)
		if err != nil {
			return fmt.Errorf("find active transaction: %w", err)
		}
		if tx == nil {
			return nil
		}
		if tx.ID == lastSeen {
			return fmt.Errorf("transaction %d: recovery made no progress", tx.ID)
		}
		lastSeen = tx.ID

		if tx.NumberOfMeterValues == 0 {
			s.log.Info("deleting empty orphaned transaction",
				zap.String("station", station.ID),
				zap.Int("connector", connectorID),
				zap.Int("transaction", tx.ID))
			if err := s.transactions.Delete(ctx, tenant.ID, tx.ID); err != nil {
				return fmt.Errorf("delete transaction %d: %w", tx.ID, err)
			}
			continue
		}

		s.log.Info("soft stopping orphaned transaction",
			zap.String("station", station.ID),
			zap.Int("connector", connectorID),
			zap.Int("transaction", tx.ID))
		meterStop := tx.MeterStart + int(tx.CurrentTotalConsumptionWh)
		if err := s.finalizeStop(ctx, tenant, station, tx, tx.TagID, meterStop, s.clock.Now(), "Other"); err != nil {
			return err
		}
	}
	return fmt.Errorf("connector %d: too many orphaned transactions", connectorID)
}

// ComputeExtraInactivity accounts the idle tail between StopTransaction and
// the connector going Available, then publishes the CDR. Runs at most once
// per transaction.
func (s *Service) ComputeExtraInactivity(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector, statusTimestamp time.Time) error {
	tx, err := s.transactions.FindLastOnConnector(ctx, tenant.ID, station.ID, connector.ConnectorID)
	if err != nil {
		return fmt.Errorf("find last transaction: %w", err)
	}
	if tx == nil || !tx.IsStopped() {
		return nil
	}
	if tx.Stop.ExtraInactivityComputed {
		s.effects.PushCdr(ctx, tenant, tx, station)
		return nil
	}

	extra := int(statusTimestamp.Sub(tx.Stop.Timestamp).Seconds())
	if extra < 0 {
		extra = 0
	}
	tx.Stop.ExtraInactivitySecs = extra
	tx.Stop.ExtraInactivityComputed = true
	tx.Stop.TotalInactivitySecs += extra
	tx.Stop.TotalDurationSecs += extra
	if s.classifier != nil {
		tx.Stop.InactivityStatus = s.classifier.Classify(station, connector.ConnectorID, tx.Stop.TotalInactivitySecs)
	}

	// The idle tail shows up in the consumption series as a zero-energy
	// interval from the stop to the connector going Available.
	if extra > 0 {
		cons := s.newConsumption(tx, tx.Stop.Timestamp, statusTimestamp, 0, tx.Stop.TotalConsumptionWh)
		cons.TotalInactivitySecs = tx.Stop.TotalInactivitySecs
		cons.TotalDurationSecs = tx.Stop.TotalDurationSecs
		cons.StateOfCharge = tx.Stop.StateOfCharge
		if err := s.consumptions.Save(ctx, cons); err != nil {
			s.log.Warn("extra inactivity consumption save failed",
				zap.Int("transaction", tx.ID),
				zap.Error(err))
		}
	}

	s.effects.Price(ctx, tenant, domain.TransactionActionEnd, tx, nil)
	if err := s.transactions.Save(ctx, tx); err != nil {
		return fmt.Errorf("save transaction %d: %w", tx.ID, err)
	}

	s.effects.Bill(ctx, tenant, domain.TransactionActionEnd, tx)
	s.effects.RoamingSession(ctx, tenant, domain.TransactionActionEnd, tx, station)
	s.effects.PushCdr(ctx, tenant, tx, station)

	s.log.Info("extra inactivity accounted",
		zap.String("station", station.ID),
		zap.Int("transaction", tx.ID),
		zap.Int("extra_secs", extra))
	return nil
}

func zeroIntervalKey(tx *domain.Transaction) string {
	return fmt.Sprintf("%s:%d", tx.TenantID, tx.ID)
}

func roundPrice(p float64) float64 {
	// Round half up to cents.
	return float64(int64(p*100+0.5)) / 100
}

var _ ports.TransactionRecovery = (*Service)(nil)
