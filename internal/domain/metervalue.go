package domain

import (
	"time"
)

type MeterValueContext string

const (
	ContextSamplePeriodic    MeterValueContext = "Sample.Periodic"
	ContextSampleClock       MeterValueContext = "Sample.Clock"
	ContextTransactionBegin  MeterValueContext = "Transaction.Begin"
	ContextTransactionEnd    MeterValueContext = "Transaction.End"
	ContextInterruptionBegin MeterValueContext = "Interruption.Begin"
	ContextInterruptionEnd   MeterValueContext = "Interruption.End"
	ContextOther             MeterValueContext = "Other"
)

type MeterValueFormat string

const (
	FormatRaw        MeterValueFormat = "Raw"
	FormatSignedData MeterValueFormat = "SignedData"
)

type Measurand string

const (
	MeasurandEnergyActiveImportRegister Measurand = "Energy.Active.Import.Register"
	MeasurandPowerActiveImport          Measurand = "Power.Active.Import"
	MeasurandCurrentImport              Measurand = "Current.Import"
	MeasurandVoltage                    Measurand = "Voltage"
	MeasurandStateOfCharge              Measurand = "SoC"
	MeasurandSignedData                 Measurand = "SignedData"
)

type MeterValueLocation string

const (
	LocationOutlet MeterValueLocation = "Outlet"
)

type MeterValueUnit string

const (
	UnitWh      MeterValueUnit = "Wh"
	UnitKWh     MeterValueUnit = "kWh"
	UnitW       MeterValueUnit = "W"
	UnitKW      MeterValueUnit = "kW"
	UnitAmp     MeterValueUnit = "A"
	UnitVolt    MeterValueUnit = "V"
	UnitPercent MeterValueUnit = "Percent"
)

type MeterValuePhase string

const (
	PhaseL1  MeterValuePhase = "L1"
	PhaseL1N MeterValuePhase = "L1-N"
	PhaseL2  MeterValuePhase = "L2"
	PhaseL2N MeterValuePhase = "L2-N"
	PhaseL3  MeterValuePhase = "L3"
	PhaseL3N MeterValuePhase = "L3-N"
)

// MeterValueAttribute qualifies a single sampled value. Unknown measurand or
// context strings coming off the wire are preserved unchanged.
type MeterValueAttribute struct {
	Context   MeterValueContext  `json:"context"`
	Format    MeterValueFormat   `json:"format"`
	Measurand Measurand          `json:"measurand"`
	Location  MeterValueLocation `json:"location"`
	Unit      MeterValueUnit     `json:"unit"`
	Phase     MeterValuePhase    `json:"phase,omitempty"`
}

// DefaultMeterValueAttribute fills the OCPP 1.6 defaults for attributes the
// station omitted.
func DefaultMeterValueAttribute() MeterValueAttribute {
	return MeterValueAttribute{
		Context:   ContextSamplePeriodic,
		Format:    FormatRaw,
		Measurand: MeasurandEnergyActiveImportRegister,
		Location:  LocationOutlet,
		Unit:      UnitWh,
	}
}

// MeterValue is one normalized sampled value. OCPP 1.6 sampledValue entries
// and OCPP 1.5 $attributes/$value entries both flatten into this shape.
// Value is meaningful when Format is Raw; RawValue keeps signed-meter payloads
// verbatim.
type MeterValue struct {
	ID            uint                `json:"-" gorm:"primaryKey"`
	TenantID      string              `json:"tenant_id" gorm:"index:idx_mv_tx"`
	ChargeBoxID   string              `json:"charge_box_id" gorm:"index"`
	ConnectorID   int                 `json:"connector_id"`
	TransactionID int                 `json:"transaction_id" gorm:"index:idx_mv_tx"`
	Timestamp     time.Time           `json:"timestamp"`
	Attribute     MeterValueAttribute `json:"attribute" gorm:"embedded"`
	Value         float64             `json:"value"`
	RawValue      string              `json:"raw_value,omitempty"`
}

// IsEnergyRegister reports whether this is the cumulative meter reading that
// drives consumption intervals.
func (m *MeterValue) IsEnergyRegister() bool {
	return m.Attribute.Measurand == MeasurandEnergyActiveImportRegister &&
		m.Attribute.Format == FormatRaw
}

// WattsValue returns the value normalized to base units (Wh or W), multiplying
// kilo-scaled readings by 1000.
func (m *MeterValue) WattsValue() float64 {
	if m.Attribute.Unit == UnitKWh || m.Attribute.Unit == UnitKW {
		return m.Value * 1000
	}
	return m.Value
}
