// Package smartcharging bridges to the external charging-profile optimizer
// over the message queue. The optimizer owns the actual load calculation and
// talks back to stations through the command channel.
package smartcharging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

const (
	subjectRecompute    = "smartcharging.recompute"
	subjectClearProfile = "smartcharging.clear-tx-profile"
)

type Service struct {
	mq  ports.MessageQueue
	log *zap.Logger
}

func NewService(mq ports.MessageQueue, log *zap.Logger) *Service {
	return &Service{mq: mq, log: log.Named("smartcharging")}
}

type recomputeRequest struct {
	TenantID   string `json:"tenant_id"`
	SiteAreaID string `json:"site_area_id"`
}

type clearProfileRequest struct {
	TenantID      string `json:"tenant_id"`
	TransactionID int    `json:"transaction_id"`
	ChargeBoxID   string `json:"charge_box_id"`
	ConnectorID   int    `json:"connector_id"`
}

func (s *Service) ComputeAndApply(ctx context.Context, tenantID, siteAreaID string) error {
	data, err := json.Marshal(recomputeRequest{TenantID: tenantID, SiteAreaID: siteAreaID})
	if err != nil {
		return fmt.Errorf("marshal recompute request: %w", err)
	}
	if err := s.mq.Publish(ctx, subjectRecompute, data); err != nil {
		return fmt.Errorf("publish recompute request: %w", err)
	}
	s.log.Debug("recompute requested",
		zap.String("tenant", tenantID),
		zap.String("site_area", siteAreaID))
	return nil
}

func (s *Service) ClearTxProfile(ctx context.Context, tx *domain.Transaction) error {
	data, err := json.Marshal(clearProfileRequest{
		TenantID:      tx.TenantID,
		TransactionID: tx.ID,
		ChargeBoxID:   tx.ChargeBoxID,
		ConnectorID:   tx.ConnectorID,
	})
	if err != nil {
		return fmt.Errorf("marshal clear profile request: %w", err)
	}
	if err := s.mq.Publish(ctx, subjectClearProfile, data); err != nil {
		return fmt.Errorf("publish clear profile request: %w", err)
	}
	return nil
}
