// Package notification publishes user-facing notification events. Delivery
// (mail, push) happens in downstream consumers; this side never blocks and
// never fails the caller.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

const publishTimeout = 5 * time.Second

type Service struct {
	mq  ports.MessageQueue
	log *zap.Logger
}

func NewService(mq ports.MessageQueue, log *zap.Logger) *Service {
	return &Service{mq: mq, log: log.Named("notification")}
}

func (s *Service) publish(subject string, payload interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Error("notification marshal failed", zap.String("subject", subject), zap.Error(err))
			return
		}
		if err := s.mq.Publish(ctx, subject, data); err != nil {
			s.log.Warn("notification publish failed", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

type stationEvent struct {
	TenantID    string `json:"tenant_id"`
	ChargeBoxID string `json:"charge_box_id"`
	ConnectorID int    `json:"connector_id,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Info        string `json:"info,omitempty"`
}

type sessionEvent struct {
	TenantID           string  `json:"tenant_id"`
	TransactionID      int     `json:"transaction_id"`
	ChargeBoxID        string  `json:"charge_box_id"`
	ConnectorID        int     `json:"connector_id"`
	UserID             string  `json:"user_id,omitempty"`
	TotalConsumptionWh float64 `json:"total_consumption_wh"`
	StateOfCharge      int     `json:"state_of_charge,omitempty"`
}

func sessionPayload(tenantID string, tx *domain.Transaction) sessionEvent {
	evt := sessionEvent{
		TenantID:           tenantID,
		TransactionID:      tx.ID,
		ChargeBoxID:        tx.ChargeBoxID,
		ConnectorID:        tx.ConnectorID,
		UserID:             tx.UserID,
		TotalConsumptionWh: tx.CurrentTotalConsumptionWh,
		StateOfCharge:      tx.CurrentStateOfCharge,
	}
	if tx.Stop != nil {
		evt.TotalConsumptionWh = tx.Stop.TotalConsumptionWh
	}
	return evt
}

func (s *Service) NotifyStationRegistered(tenantID string, station *domain.ChargingStation) {
	s.publish("notifications.station.registered", stationEvent{
		TenantID:    tenantID,
		ChargeBoxID: station.ID,
	})
}

func (s *Service) NotifySessionStarted(tenantID string, tx *domain.Transaction) {
	s.publish("notifications.session.started", sessionPayload(tenantID, tx))
}

func (s *Service) NotifyEndOfCharge(tenantID string, tx *domain.Transaction) {
	s.publish("notifications.session.end-of-charge", sessionPayload(tenantID, tx))
}

func (s *Service) NotifyOptimalChargeReached(tenantID string, tx *domain.Transaction) {
	s.publish("notifications.session.optimal-charge", sessionPayload(tenantID, tx))
}

func (s *Service) NotifyEndOfSession(tenantID string, tx *domain.Transaction) {
	s.publish("notifications.session.ended", sessionPayload(tenantID, tx))
}

func (s *Service) NotifyEndOfSignedSession(tenantID string, tx *domain.Transaction) {
	s.publish("notifications.session.ended-signed", sessionPayload(tenantID, tx))
}

func (s *Service) NotifyStatusError(tenantID string, station *domain.ChargingStation, connector *domain.Connector) {
	s.publish("notifications.station.status-error", stationEvent{
		TenantID:    tenantID,
		ChargeBoxID: station.ID,
		ConnectorID: connector.ConnectorID,
		ErrorCode:   connector.ErrorCode,
		Info:        connector.Info,
	})
}
