package domain

import (
	"time"
)

// Consumption is one derived interval between two adjacent energy register
// readings of a transaction. Totals roll up into the transaction.
type Consumption struct {
	ID            uint   `json:"-" gorm:"primaryKey"`
	TenantID      string `json:"tenant_id" gorm:"index:idx_consumption_tx"`
	TransactionID int    `json:"transaction_id" gorm:"index:idx_consumption_tx"`
	ChargeBoxID   string `json:"charge_box_id"`
	ConnectorID   int    `json:"connector_id"`
	SiteAreaID    string `json:"site_area_id,omitempty"`
	SiteID        string `json:"site_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	ConsumptionWh          float64 `json:"consumption_wh"`
	CumulatedConsumptionWh float64 `json:"cumulated_consumption_wh"`

	InstantWatts   float64 `json:"instant_watts"`
	InstantWattsL1 float64 `json:"instant_watts_l1"`
	InstantWattsL2 float64 `json:"instant_watts_l2"`
	InstantWattsL3 float64 `json:"instant_watts_l3"`
	InstantWattsDC float64 `json:"instant_watts_dc"`
	InstantAmps    float64 `json:"instant_amps"`
	InstantAmpsL1  float64 `json:"instant_amps_l1"`
	InstantAmpsL2  float64 `json:"instant_amps_l2"`
	InstantAmpsL3  float64 `json:"instant_amps_l3"`
	InstantAmpsDC  float64 `json:"instant_amps_dc"`
	InstantVolts   float64 `json:"instant_volts"`
	InstantVoltsL1 float64 `json:"instant_volts_l1"`
	InstantVoltsL2 float64 `json:"instant_volts_l2"`
	InstantVoltsL3 float64 `json:"instant_volts_l3"`
	InstantVoltsDC float64 `json:"instant_volts_dc"`

	TotalInactivitySecs int `json:"total_inactivity_secs"`
	TotalDurationSecs   int `json:"total_duration_secs"`
	StateOfCharge       int `json:"state_of_charge"`

	// Limit metadata from the most recent charging-profile context, if any.
	LimitSource string  `json:"limit_source,omitempty"`
	LimitAmps   float64 `json:"limit_amps,omitempty"`
	LimitWatts  float64 `json:"limit_watts,omitempty"`

	// Pricing snapshot, filled inline by the pricing integration.
	Price          float64 `json:"price"`
	RoundedPrice   float64 `json:"rounded_price"`
	PriceUnit      string  `json:"price_unit,omitempty"`
	PricingSource  string  `json:"pricing_source,omitempty"`
	CumulatedPrice float64 `json:"cumulated_price"`

	CreatedAt time.Time `json:"created_at"`
}

// DurationSecs is the length of the interval in seconds.
func (c *Consumption) DurationSecs() int {
	return int(c.EndedAt.Sub(c.StartedAt).Seconds())
}
