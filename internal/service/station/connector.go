package station

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ocpp"
)

const errorCodeNone = "NoError"

// ProcessStatusNotification drives the connector state machine. Beyond
// recording the status it repairs sessions the station lost track of, closes
// out post-stop inactivity, and triggers smart-charging recomputation.
func (s *Service) ProcessStatusNotification(ctx context.Context, header ocpp.RequestHeader, req *ocpp.StatusNotificationRequest) (*ocpp.StatusNotificationResponse, error) {
	tenant, station, err := s.resolveTenantAndStation(ctx, header)
	if err != nil {
		return nil, err
	}

	// Connector 0 is the station itself. Informational only.
	if req.ConnectorID == 0 {
		s.log.Info("station-wide status",
			zap.String("tenant", tenant.ID),
			zap.String("station", station.ID),
			zap.String("status", req.Status),
			zap.String("error_code", req.ErrorCode))
		s.touch(ctx, station)
		return &ocpp.StatusNotificationResponse{}, nil
	}

	timestamp := s.clock.Now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		timestamp = *req.Timestamp
	}

	connector := station.GetConnector(req.ConnectorID)
	if connector == nil {
		connector = s.addConnector(ctx, station, req.ConnectorID)
	}

	newStatus := domain.ConnectorStatus(req.Status)
	if connector.Status == newStatus && connector.ErrorCode == req.ErrorCode && connector.Info == req.Info {
		// Stations repeat their status on every reconnect.
		s.log.Debug("connector status unchanged",
			zap.String("station", station.ID),
			zap.Int("connector", req.ConnectorID),
			zap.String("status", req.Status))
		s.touch(ctx, station)
		return &ocpp.StatusNotificationResponse{}, nil
	}

	previous := connector.Status
	connector.Status = newStatus
	connector.ErrorCode = req.ErrorCode
	connector.Info = req.Info
	connector.VendorErrorCode = req.VendorErrorCode
	connector.StatusLastChangedOn = timestamp

	s.log.Info("connector status changed",
		zap.String("tenant", tenant.ID),
		zap.String("station", station.ID),
		zap.Int("connector", req.ConnectorID),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
		zap.String("error_code", req.ErrorCode))

	switch newStatus {
	case domain.ConnectorStatusAvailable:
		s.handleAvailable(ctx, tenant, station, connector, timestamp)
	case domain.ConnectorStatusCharging, domain.ConnectorStatusSuspendedEV:
		s.effects.ScheduleSmartCharging(tenant, station.SiteAreaID)
	case domain.ConnectorStatusFaulted:
		s.effects.NotifyStatusError(tenant, station, connector)
	}
	if newStatus != domain.ConnectorStatusFaulted && req.ErrorCode != "" && req.ErrorCode != errorCodeNone {
		s.effects.NotifyStatusError(tenant, station, connector)
	}

	station.SortConnectors()
	station.LastSeen = s.clock.Now()
	if err := s.stations.Save(ctx, station); err != nil {
		return nil, fmt.Errorf("save station %q: %w", station.ID, err)
	}

	s.effects.PushConnectorStatus(ctx, tenant, station, connector)

	return &ocpp.StatusNotificationResponse{}, nil
}

// handleAvailable covers the two transitions that matter when a connector
// frees up: a session the station thinks is gone but the backend still has
// open, and the idle tail between StopTransaction and unplugging the cable.
func (s *Service) handleAvailable(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, connector *domain.Connector, timestamp time.Time) {
	if s.recovery == nil {
		return
	}
	if connector.CurrentTransactionID != 0 {
		if err := s.recovery.StopOrDeleteActiveTransactions(ctx, tenant, station, connector.ConnectorID); err != nil {
			s.log.Error("orphaned transaction recovery failed",
				zap.String("station", station.ID),
				zap.Int("connector", connector.ConnectorID),
				zap.Int("transaction", connector.CurrentTransactionID),
				zap.Error(err))
		}
		connector.ClearSession()
	}
	if err := s.recovery.ComputeExtraInactivity(ctx, tenant, station, connector, timestamp); err != nil {
		s.log.Warn("extra inactivity accounting failed",
			zap.String("station", station.ID),
			zap.Int("connector", connector.ConnectorID),
			zap.Error(err))
	}
}

// addConnector registers a connector id seen for the first time. It starts
// with neutral defaults and gets its electrical characteristics from the
// station template when one matches.
func (s *Service) addConnector(ctx context.Context, station *domain.ChargingStation, connectorID int) *domain.Connector {
	station.Connectors = append(station.Connectors, domain.Connector{
		TenantID:    station.TenantID,
		ChargeBoxID: station.ID,
		ConnectorID: connectorID,
		Status:      domain.ConnectorStatusUnavailable,
		Type:        "Unknown",
	})
	station.SortConnectors()
	if s.templates != nil {
		if _, err := s.templates.EnrichConnector(ctx, station, connectorID); err != nil {
			s.log.Warn("connector template enrichment failed",
				zap.String("station", station.ID),
				zap.Int("connector", connectorID),
				zap.Error(err))
		}
	}
	return station.GetConnector(connectorID)
}
