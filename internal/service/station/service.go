// Package station implements the charging station registry and the connector
// state machine: BootNotification, Heartbeat, StatusNotification and the
// station-level informational messages.
package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ocpp"
	"github.com/gridwise/csms/internal/ports"
	"github.com/gridwise/csms/internal/service/dispatcher"
	"github.com/gridwise/csms/pkg/config"
)

type Service struct {
	tenants   ports.TenantRepository
	stations  ports.StationRepository
	tokens    ports.RegistrationTokenRepository
	templates ports.TemplateCatalog
	commander ports.StationCommander
	scheduler ports.Scheduler
	recovery  ports.TransactionRecovery
	effects   *dispatcher.SideEffects
	clock     ports.Clock
	cfg       config.OCPPConfig
	log       *zap.Logger
}

func NewService(
	tenants ports.TenantRepository,
	stations ports.StationRepository,
	tokens ports.RegistrationTokenRepository,
	templates ports.TemplateCatalog,
	commander ports.StationCommander,
	scheduler ports.Scheduler,
	recovery ports.TransactionRecovery,
	effects *dispatcher.SideEffects,
	clock ports.Clock,
	cfg config.OCPPConfig,
	log *zap.Logger,
) *Service {
	return &Service{
		tenants:   tenants,
		stations:  stations,
		tokens:    tokens,
		templates: templates,
		commander: commander,
		scheduler: scheduler,
		recovery:  recovery,
		effects:   effects,
		clock:     clock,
		cfg:       cfg,
		log:       log.Named("station"),
	}
}

// SetRecovery breaks the construction cycle with the transaction engine, which
// itself needs nothing from this service.
func (s *Service) SetRecovery(recovery ports.TransactionRecovery) {
	s.recovery = recovery
}

func (s *Service) heartbeatInterval(transport domain.OCPPTransport) int {
	if transport == domain.OCPPTransportSOAP {
		return s.cfg.HeartbeatIntervalOCPPSSecs
	}
	return s.cfg.HeartbeatIntervalOCPPJSecs
}

func (s *Service) rejected() *ocpp.BootNotificationResponse {
	return &ocpp.BootNotificationResponse{
		Status:      domain.RegistrationStatusRejected,
		CurrentTime: ocpp.FormatTimestamp(s.clock.Now()),
		Interval:    s.cfg.BootRejectRetrySecs,
	}
}

// ProcessBootNotification registers or re-registers a station. An unknown
// station needs a valid registration token; a known one must present the same
// vendor, model and serial number it registered with. Rejection never returns
// an error to the transport layer, it returns a Rejected payload with the
// retry interval.
func (s *Service) ProcessBootNotification(ctx context.Context, header ocpp.RequestHeader, req *ocpp.BootNotificationRequest) (*ocpp.BootNotificationResponse, error) {
	now := s.clock.Now()

	tenant, err := s.tenants.FindByID(ctx, header.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %q: %w", header.TenantID, err)
	}
	if tenant == nil {
		s.log.Warn("boot from unknown tenant",
			zap.String("tenant", header.TenantID),
			zap.String("station", header.ChargeBoxID))
		return s.rejected(), nil
	}

	station, err := s.stations.FindByID(ctx, tenant.ID, header.ChargeBoxID)
	if err != nil {
		return nil, fmt.Errorf("resolve station %q: %w", header.ChargeBoxID, err)
	}

	isNew := station == nil
	if isNew {
		station, err = s.registerStation(ctx, tenant, header, req, now)
		if err != nil {
			if errors.Is(err, domain.ErrMissingToken) || errors.Is(err, domain.ErrInvalidToken) {
				s.log.Warn("boot rejected",
					zap.String("tenant", tenant.ID),
					zap.String("station", header.ChargeBoxID),
					zap.Error(err))
				return s.rejected(), nil
			}
			return nil, err
		}
	} else {
		serial := req.SerialNumber()
		s.checkDuplicateIdentity(station, header, req, now)
		if station.Vendor != req.ChargePointVendor || station.Model != req.ChargePointModel ||
			(serial != "" && station.SerialNumber != "" && serial != station.SerialNumber) {
			s.log.Warn("boot rejected, attribute mismatch",
				zap.String("tenant", tenant.ID),
				zap.String("station", station.ID),
				zap.String("registered_vendor", station.Vendor),
				zap.String("declared_vendor", req.ChargePointVendor),
				zap.String("registered_model", station.Model),
				zap.String("declared_model", req.ChargePointModel),
				zap.String("registered_serial", station.SerialNumber),
				zap.String("declared_serial", serial))
			return s.rejected(), nil
		}
		if serial != "" {
			station.SerialNumber = serial
		}
		station.FirmwareVersion = req.FirmwareVersion
	}

	station.OCPPVersion = header.OCPPVersion
	station.OCPPTransport = header.Transport
	station.CurrentIP = header.ClientIP
	if header.Endpoint != "" {
		station.Endpoint = header.Endpoint
	}
	station.RegistrationStatus = domain.RegistrationStatusAccepted
	// A decommissioned box that boots again is back in service.
	station.Deleted = false
	station.LastReboot = now
	station.LastSeen = now

	templateResult := s.applyTemplate(ctx, station)

	if err := s.stations.Save(ctx, station); err != nil {
		return nil, fmt.Errorf("save station %q: %w", station.ID, err)
	}
	s.saveBootRecord(ctx, tenant.ID, req, header, now)

	s.schedulePostBootConfig(tenant, station, templateResult)
	if isNew {
		s.effects.NotifyStationRegistered(tenant, station)
	}

	s.log.Info("station booted",
		zap.String("tenant", tenant.ID),
		zap.String("station", station.ID),
		zap.String("vendor", station.Vendor),
		zap.String("model", station.Model),
		zap.String("ocpp_version", string(station.OCPPVersion)),
		zap.Bool("new", isNew))

	return &ocpp.BootNotificationResponse{
		Status:      domain.RegistrationStatusAccepted,
		CurrentTime: ocpp.FormatTimestamp(now),
		Interval:    s.heartbeatInterval(header.Transport),
	}, nil
}

func (s *Service) registerStation(ctx context.Context, tenant *domain.Tenant, header ocpp.RequestHeader, req *ocpp.BootNotificationRequest, now time.Time) (*domain.ChargingStation, error) {
	if header.Token == "" {
		return nil, domain.ErrMissingToken
	}
	token, err := s.tokens.FindByToken(ctx, tenant.ID, header.Token)
	if err != nil {
		return nil, fmt.Errorf("resolve registration token: %w", err)
	}
	if token == nil || !token.Valid(now) {
		return nil, domain.ErrInvalidToken
	}
	return &domain.ChargingStation{
		ID:              header.ChargeBoxID,
		TenantID:        tenant.ID,
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    req.SerialNumber(),
		FirmwareVersion: req.FirmwareVersion,
		SiteAreaID:      token.SiteAreaID,
		SiteID:          token.SiteID,
		Issuer:          true,
		CreatedAt:       now,
	}, nil
}

// checkDuplicateIdentity flags two physical boxes sharing one identity: a boot
// with a different serial while the registered station still looks online.
func (s *Service) checkDuplicateIdentity(station *domain.ChargingStation, header ocpp.RequestHeader, req *ocpp.BootNotificationRequest, now time.Time) {
	if s.cfg.MaxLastSeenIntervalSecs <= 0 {
		return
	}
	serial := req.SerialNumber()
	if serial == "" || station.SerialNumber == "" || serial == station.SerialNumber {
		return
	}
	online := now.Sub(station.LastSeen) < time.Duration(s.cfg.MaxLastSeenIntervalSecs)*time.Second
	if online {
		s.log.Warn("possible duplicate station identity",
			zap.String("tenant", station.TenantID),
			zap.String("station", station.ID),
			zap.String("registered_serial", station.SerialNumber),
			zap.String("declared_serial", serial),
			zap.String("client_ip", header.ClientIP),
			zap.String("last_ip", station.CurrentIP))
	}
}

func (s *Service) applyTemplate(ctx context.Context, station *domain.ChargingStation) *ports.TemplateResult {
	if s.templates == nil {
		return nil
	}
	result, err := s.templates.ApplyTemplate(ctx, station)
	if err != nil {
		s.log.Warn("template application failed",
			zap.String("station", station.ID),
			zap.Error(err))
		return nil
	}
	if result != nil && result.Updated {
		station.TemplateApplied = true
	}
	return result
}

func (s *Service) saveBootRecord(ctx context.Context, tenantID string, req *ocpp.BootNotificationRequest, header ocpp.RequestHeader, now time.Time) {
	record := &domain.BootRecord{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ChargeBoxID:     header.ChargeBoxID,
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    req.SerialNumber(),
		FirmwareVersion: req.FirmwareVersion,
		OCPPVersion:     string(header.OCPPVersion),
		Timestamp:       now,
	}
	if err := s.stations.SaveBootRecord(ctx, record); err != nil {
		s.log.Warn("boot record save failed",
			zap.String("station", header.ChargeBoxID),
			zap.Error(err))
	}
}

// schedulePostBootConfig pushes the template configuration keys and the
// heartbeat interval once the station has settled after boot. Firmwares
// disagree on the capitalization of the heartbeat key, so both spellings are
// tried until one is accepted.
func (s *Service) schedulePostBootConfig(tenant *domain.Tenant, station *domain.ChargingStation, templateResult *ports.TemplateResult) {
	if s.commander == nil || s.scheduler == nil {
		return
	}
	tenantID := tenant.ID
	stationID := station.ID
	interval := s.heartbeatInterval(station.OCPPTransport)
	var templateKeys map[string]string
	if templateResult != nil {
		templateKeys = templateResult.ConfigurationKeys
	}
	s.scheduler.Schedule(fmt.Sprintf("post-boot-config %s/%s", tenantID, stationID), s.cfg.PostBootConfigDelay, func(ctx context.Context) {
		for key, value := range templateKeys {
			accepted, err := s.commander.ChangeConfiguration(ctx, tenantID, stationID, key, value)
			if err != nil {
				s.log.Warn("post-boot configuration push failed",
					zap.String("station", stationID),
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			if !accepted {
				s.log.Debug("post-boot configuration key refused",
					zap.String("station", stationID),
					zap.String("key", key))
			}
		}
		value := fmt.Sprintf("%d", interval)
		for _, key := range []string{"HeartBeatInterval", "HeartbeatInterval"} {
			accepted, err := s.commander.ChangeConfiguration(ctx, tenantID, stationID, key, value)
			if err != nil {
				s.log.Warn("heartbeat interval push failed",
					zap.String("station", stationID),
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			if accepted {
				break
			}
		}
	})
}

// ProcessHeartbeat refreshes the station's liveness marker and answers with
// the server clock, which is what stations use to discipline their own.
func (s *Service) ProcessHeartbeat(ctx context.Context, header ocpp.RequestHeader) (*ocpp.HeartbeatResponse, error) {
	now := s.clock.Now()
	station, err := s.resolveStation(ctx, header)
	if err != nil {
		return nil, err
	}
	if err := s.stations.UpdateLastSeen(ctx, station.TenantID, station.ID, now); err != nil {
		s.log.Warn("last seen update failed",
			zap.String("station", station.ID),
			zap.Error(err))
	}
	return &ocpp.HeartbeatResponse{CurrentTime: ocpp.FormatTimestamp(now)}, nil
}

// ProcessDataTransfer accepts vendor-specific payloads. The core has no vendor
// extensions of its own; payloads are logged for diagnostics and acknowledged.
func (s *Service) ProcessDataTransfer(ctx context.Context, header ocpp.RequestHeader, req *ocpp.DataTransferRequest) (*ocpp.DataTransferResponse, error) {
	station, err := s.resolveStation(ctx, header)
	if err != nil {
		return nil, err
	}
	s.log.Info("data transfer",
		zap.String("tenant", station.TenantID),
		zap.String("station", station.ID),
		zap.String("vendor_id", req.VendorID),
		zap.String("message_id", req.MessageID),
		zap.Int("data_len", len(req.Data)))
	s.touch(ctx, station)
	return &ocpp.DataTransferResponse{Status: "Accepted"}, nil
}

// ProcessFirmwareStatus records the progress of a firmware update.
func (s *Service) ProcessFirmwareStatus(ctx context.Context, header ocpp.RequestHeader, req *ocpp.FirmwareStatusNotificationRequest) (*ocpp.FirmwareStatusNotificationResponse, error) {
	station, err := s.resolveStation(ctx, header)
	if err != nil {
		return nil, err
	}
	station.FirmwareUpdateStatus = req.Status
	if err := s.stations.Save(ctx, station); err != nil {
		return nil, fmt.Errorf("save station %q: %w", station.ID, err)
	}
	return &ocpp.FirmwareStatusNotificationResponse{}, nil
}

// ProcessDiagnosticsStatus records the progress of a diagnostics upload.
func (s *Service) ProcessDiagnosticsStatus(ctx context.Context, header ocpp.RequestHeader, req *ocpp.DiagnosticsStatusNotificationRequest) (*ocpp.DiagnosticsStatusNotificationResponse, error) {
	station, err := s.resolveStation(ctx, header)
	if err != nil {
		return nil, err
	}
	station.DiagnosticsUploadStatus = req.Status
	if err := s.stations.Save(ctx, station); err != nil {
		return nil, fmt.Errorf("save station %q: %w", station.ID, err)
	}
	return &ocpp.DiagnosticsStatusNotificationResponse{}, nil
}

// resolveStation loads the registered station for a non-boot message.
func (s *Service) resolveStation(ctx context.Context, header ocpp.RequestHeader) (*domain.ChargingStation, error) {
	_, station, err := s.resolveTenantAndStation(ctx, header)
	return station, err
}

func (s *Service) resolveTenantAndStation(ctx context.Context, header ocpp.RequestHeader) (*domain.Tenant, *domain.ChargingStation, error) {
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

func (s *Service) touch(ctx context.Context, station *domain.ChargingStation) {
	if err := s.stations.UpdateLastSeen(ctx, station.TenantID, station.ID, s.clock.Now()); err != nil {
		s.log.Warn("last seen update failed",
			zap.String("station", station.ID),
			zap.Error(err))
	}
}
