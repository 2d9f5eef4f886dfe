package domain

import (
	"time"
)

// TransactionAction tags the lifecycle step a pricing/billing/roaming call
// belongs to.
type TransactionAction string

const (
	TransactionActionStart  TransactionAction = "Start"
	TransactionActionUpdate TransactionAction = "Update"
	TransactionActionStop   TransactionAction = "Stop"
	TransactionActionEnd    TransactionAction = "End"
)

// Transaction is a charging session, bounded by StartTransaction and
// StopTransaction. It is the aggregate root for billing and outlives the live
// session on the connector. References to station, user and tag are by id;
// the aggregate is hydrated on demand.
type Transaction struct {
	ID       int    `json:"id" gorm:"primaryKey"`
	TenantID string `json:"tenant_id" gorm:"primaryKey"`

	ChargeBoxID string `json:"charge_box_id" gorm:"index:idx_tx_connector"`
	ConnectorID int    `json:"connector_id" gorm:"index:idx_tx_connector"`
	TagID       string `json:"tag_id"`
	UserID      string `json:"user_id,omitempty"`
	CarID       string `json:"car_id,omitempty"`
	SiteAreaID  string `json:"site_area_id,omitempty"`
	SiteID      string `json:"site_id,omitempty"`
	Issuer      bool   `json:"issuer"`

	Timestamp  time.Time `json:"timestamp"`
	MeterStart int       `json:"meter_start"`

	// Running fields, mirrored on the connector while the session is live.
	CurrentInstantWatts        float64          `json:"current_instant_watts"`
	CurrentInstantWattsL1      float64          `json:"current_instant_watts_l1"`
	CurrentInstantWattsL2      float64          `json:"current_instant_watts_l2"`
	CurrentInstantWattsL3      float64          `json:"current_instant_watts_l3"`
	CurrentInstantWattsDC      float64          `json:"current_instant_watts_dc"`
	CurrentInstantVolts        float64          `json:"current_instant_volts"`
	CurrentInstantVoltsL1      float64          `json:"current_instant_volts_l1"`
	CurrentInstantVoltsL2      float64          `json:"current_instant_volts_l2"`
	CurrentInstantVoltsL3      float64          `json:"current_instant_volts_l3"`
	CurrentInstantVoltsDC      float64          `json:"current_instant_volts_dc"`
	CurrentInstantAmps         float64          `json:"current_instant_amps"`
	CurrentInstantAmpsL1       float64          `json:"current_instant_amps_l1"`
	CurrentInstantAmpsL2       float64          `json:"current_instant_amps_l2"`
	CurrentInstantAmpsL3       float64          `json:"current_instant_amps_l3"`
	CurrentInstantAmpsDC       float64          `json:"current_instant_amps_dc"`
	CurrentTotalConsumptionWh  float64          `json:"current_total_consumption_wh"`
	CurrentTotalInactivitySecs int              `json:"current_total_inactivity_secs"`
	CurrentInactivityStatus    InactivityStatus `json:"current_inactivity_status,omitempty"`
	CurrentStateOfCharge       int              `json:"current_state_of_charge"`
	CurrentCumulatedPrice      float64          `json:"current_cumulated_price"`

	NumberOfMeterValues int `json:"number_of_meter_values"`
	PhasesUsed          int `json:"phases_used"`
	// PhasesDetected is set once PhasesUsed has been narrowed from the
	// connector wiring to the phases the car actually draws on.
	PhasesDetected bool `json:"phases_detected"`
	// StateOfCharge is the SoC reported at Transaction.Begin.
	StateOfCharge int `json:"state_of_charge"`
	// SignedData is the signed meter reading from Transaction.Begin;
	// EndSignedData the one from Transaction.End.
	SignedData    string `json:"signed_data,omitempty"`
	EndSignedData string `json:"end_signed_data,omitempty"`

	// TransactionEndReceived guards the one-time zeroing of instant fields
	// when the first Transaction.End meter value arrives.
	TransactionEndReceived bool `json:"transaction_end_received"`

	// Anchor for incremental consumption building.
	LastConsumptionTimestamp *time.Time `json:"last_consumption_timestamp,omitempty"`
	LastConsumptionWh        float64    `json:"last_consumption_wh"`

	// Set when the central system issued a RemoteStopTransaction.
	RemoteStopTagID     string     `json:"remote_stop_tag_id,omitempty"`
	RemoteStopTimestamp *time.Time `json:"remote_stop_timestamp,omitempty"`

	Stop *TransactionStop `json:"stop,omitempty" gorm:"embedded;embeddedPrefix:stop_"`

	// Roaming session linkage and CDR publication state.
	RoamingProtocol  RoamingProtocol `json:"roaming_protocol,omitempty"`
	RoamingSessionID string          `json:"roaming_session_id,omitempty"`
	RoamingAuthID    string          `json:"roaming_auth_id,omitempty"`
	CdrPushed        bool            `json:"cdr_pushed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionStop is written exactly once, when the session terminates.
type TransactionStop struct {
	Timestamp           time.Time        `json:"timestamp"`
	MeterStop           int              `json:"meter_stop"`
	TagID               string           `json:"tag_id"`
	UserID              string           `json:"user_id,omitempty"`
	TotalConsumptionWh  float64          `json:"total_consumption_wh"`
	TotalInactivitySecs int              `json:"total_inactivity_secs"`
	InactivityStatus    InactivityStatus `json:"inactivity_status"`
	TotalDurationSecs   int              `json:"total_duration_secs"`
	ExtraInactivitySecs int              `json:"extra_inactivity_secs"`
	// ExtraInactivityComputed makes the Available-after-stop accounting
	// idempotent: at most once per transaction.
	ExtraInactivityComputed bool    `json:"extra_inactivity_computed"`
	StateOfCharge           int     `json:"state_of_charge"`
	SignedData              string  `json:"signed_data,omitempty"`
	Price                   float64 `json:"price"`
	RoundedPrice            float64 `json:"rounded_price"`
	PriceUnit               string  `json:"price_unit,omitempty"`
	PricingSource           string  `json:"pricing_source,omitempty"`
	Reason                  string  `json:"reason,omitempty"`
}

// IsStopped reports whether the stop block has been written.
func (t *Transaction) IsStopped() bool {
	return t.Stop != nil
}

// LastConsumptionAnchor returns the anchor for the next consumption interval.
// Before the first interval this is the start of the transaction.
func (t *Transaction) LastConsumptionAnchor() (time.Time, float64) {
	if t.LastConsumptionTimestamp != nil {
		return *t.LastConsumptionTimestamp, t.LastConsumptionWh
	}
	return t.Timestamp, float64(t.MeterStart)
}

// AdvanceConsumptionAnchor moves the anchor to the given reading.
func (t *Transaction) AdvanceConsumptionAnchor(ts time.Time, cumulativeWh float64) {
	anchor := ts
	t.LastConsumptionTimestamp = &anchor
	t.LastConsumptionWh = cumulativeWh
}
