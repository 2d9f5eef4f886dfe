// Package pricing implements the built-in flat tariff. Tenants with an
// external pricing integration replace this implementation at wiring time.
package pricing

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/pkg/config"
)

const sourceSimple = "simple"

type Service struct {
	cfg config.PricingConfig
	log *zap.Logger
}

func NewService(cfg config.PricingConfig, log *zap.Logger) *Service {
	return &Service{cfg: cfg, log: log.Named("pricing")}
}

func (s *Service) round(p float64) float64 {
	scale := math.Pow10(s.cfg.RoundingScale)
	return math.Round(p*scale) / scale
}

// Price prices one lifecycle step. Update intervals carry the incremental
// energy; Start adds the flat fee; Stop and End only reconcile the rounded
// total already accumulated on the transaction.
func (s *Service) Price(ctx context.Context, action domain.TransactionAction, tx *domain.Transaction, consumption *domain.Consumption) error {
	switch action {
	case domain.TransactionActionStart:
		if consumption != nil {
			consumption.Price = s.cfg.FlatFee
			consumption.RoundedPrice = s.round(s.cfg.FlatFee)
			consumption.PriceUnit = s.cfg.Currency
			consumption.PricingSource = sourceSimple
			consumption.CumulatedPrice = s.cfg.FlatFee
		}
		tx.CurrentCumulatedPrice = s.cfg.FlatFee
	case domain.TransactionActionUpdate:
		if consumption == nil {
			return nil
		}
		price := consumption.ConsumptionWh / 1000 * s.cfg.PricePerKWh
		consumption.Price = price
		consumption.RoundedPrice = s.round(price)
		consumption.PriceUnit = s.cfg.Currency
		consumption.PricingSource = sourceSimple
		consumption.CumulatedPrice = tx.CurrentCumulatedPrice + price
		tx.CurrentCumulatedPrice = consumption.CumulatedPrice
	case domain.TransactionActionStop, domain.TransactionActionEnd:
		if tx.Stop != nil {
			tx.Stop.Price = tx.CurrentCumulatedPrice
			tx.Stop.RoundedPrice = s.round(tx.CurrentCumulatedPrice)
			tx.Stop.PriceUnit = s.cfg.Currency
			tx.Stop.PricingSource = sourceSimple
		}
	}
	return nil
}
