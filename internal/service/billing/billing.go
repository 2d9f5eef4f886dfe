// Package billing forwards transaction lifecycle events to the billing
// pipeline over the message queue. Consumers invoice asynchronously; the OCPP
// hot path only publishes.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

const subjectPrefix = "billing.transaction."

type Service struct {
	mq  ports.MessageQueue
	log *zap.Logger
}

func NewService(mq ports.MessageQueue, log *zap.Logger) *Service {
	return &Service{mq: mq, log: log.Named("billing")}
}

// event is the wire shape consumed by the invoicing workers.
type event struct {
	TenantID            string    `json:"tenant_id"`
	TransactionID       int       `json:"transaction_id"`
	Action              string    `json:"action"`
	ChargeBoxID         string    `json:"charge_box_id"`
	ConnectorID         int       `json:"connector_id"`
	UserID              string    `json:"user_id,omitempty"`
	TagID               string    `json:"tag_id"`
	StartedAt           time.Time `json:"started_at"`
	TotalConsumptionWh  float64   `json:"total_consumption_wh"`
	TotalInactivitySecs int       `json:"total_inactivity_secs"`
	TotalDurationSecs   int       `json:"total_duration_secs"`
	Price               float64   `json:"price"`
	PriceUnit           string    `json:"price_unit,omitempty"`
	StoppedAt           time.Time `json:"stopped_at,omitempty"`
}

func (s *Service) Bill(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction) error {
	evt := event{
		TenantID:           tx.TenantID,
		TransactionID:      tx.ID,
		Action:             string(action),
		ChargeBoxID:        tx.ChargeBoxID,
		ConnectorID:        tx.ConnectorID,
		UserID:             tx.UserID,
		TagID:              tx.TagID,
		StartedAt:          tx.Timestamp,
		TotalConsumptionWh: tx.CurrentTotalConsumptionWh,
	}
	if tx.Stop != nil {
		evt.TotalConsumptionWh = tx.Stop.TotalConsumptionWh
		evt.TotalInactivitySecs = tx.Stop.TotalInactivitySecs
		evt.TotalDurationSecs = tx.Stop.TotalDurationSecs
		evt.Price = tx.Stop.RoundedPrice
		evt.PriceUnit = tx.Stop.PriceUnit
		evt.StoppedAt = tx.Stop.Timestamp
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal billing event: %w", err)
	}
	subject := subjectPrefix + strings.ToLower(string(action))
	if err := s.mq.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	s.log.Debug("billing event published",
		zap.String("subject", subject),
		zap.Int("transaction", tx.ID))
	return nil
}
