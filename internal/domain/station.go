package domain

import (
	"sort"
	"time"
)

type OCPPVersion string

const (
	OCPPVersion15 OCPPVersion = "1.5"
	OCPPVersion16 OCPPVersion = "1.6"
)

type OCPPTransport string

const (
	OCPPTransportSOAP OCPPTransport = "soap"
	OCPPTransportJSON OCPPTransport = "json"
)

type RegistrationStatus string

const (
	RegistrationStatusAccepted RegistrationStatus = "Accepted"
	RegistrationStatusPending  RegistrationStatus = "Pending"
	RegistrationStatusRejected RegistrationStatus = "Rejected"
)

// ConnectorStatus is the OCPP 1.6 status set. 1.5 statuses map onto it.
type ConnectorStatus string

const (
	ConnectorStatusAvailable     ConnectorStatus = "Available"
	ConnectorStatusPreparing     ConnectorStatus = "Preparing"
	ConnectorStatusCharging      ConnectorStatus = "Charging"
	ConnectorStatusSuspendedEV   ConnectorStatus = "SuspendedEV"
	ConnectorStatusSuspendedEVSE ConnectorStatus = "SuspendedEVSE"
	ConnectorStatusFinishing     ConnectorStatus = "Finishing"
	ConnectorStatusReserved      ConnectorStatus = "Reserved"
	ConnectorStatusUnavailable   ConnectorStatus = "Unavailable"
	ConnectorStatusFaulted       ConnectorStatus = "Faulted"
)

// CurrentType distinguishes AC stations (phase-resolved readings) from DC.
type CurrentType string

const (
	CurrentTypeAC CurrentType = "AC"
	CurrentTypeDC CurrentType = "DC"
)

type InactivityStatus string

const (
	InactivityStatusInfo    InactivityStatus = "Info"
	InactivityStatusWarning InactivityStatus = "Warning"
	InactivityStatusError   InactivityStatus = "Error"
)

// ChargingStation is the durable record of a physical charge box. The ID is
// the station-declared ChargeBoxIdentity, unique within a tenant.
type ChargingStation struct {
	ID              string `json:"id" gorm:"primaryKey"`
	TenantID        string `json:"tenant_id" gorm:"primaryKey"`
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`

	OCPPVersion        OCPPVersion        `json:"ocpp_version"`
	OCPPTransport      OCPPTransport      `json:"ocpp_transport"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`

	LastReboot time.Time `json:"last_reboot"`
	LastSeen   time.Time `json:"last_seen"`
	CurrentIP  string    `json:"current_ip"`
	// Endpoint is the callback address for SOAP stations, seeded from the
	// WS-Addressing From header.
	Endpoint string `json:"endpoint,omitempty"`

	SiteAreaID string  `json:"site_area_id,omitempty"`
	SiteID     string  `json:"site_id,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`

	CurrentType             CurrentType `json:"current_type"`
	MaximumPowerW           float64     `json:"maximum_power_w"`
	TemplateApplied         bool        `json:"template_applied"`
	FirmwareUpdateStatus    string      `json:"firmware_update_status,omitempty"`
	DiagnosticsUploadStatus string      `json:"diagnostics_upload_status,omitempty"`

	Connectors []Connector `json:"connectors" gorm:"foreignKey:ChargeBoxID,TenantID;references:ID,TenantID"`

	Issuer  bool `json:"issuer"`
	Public  bool `json:"public"`
	Deleted bool `json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connector is a single outlet on a station. The Current* fields are the
// transient live-session mirror; they are zeroed when no transaction is open.
type Connector struct {
	ID          uint   `json:"-" gorm:"primaryKey"`
	TenantID    string `json:"tenant_id" gorm:"index:idx_connector_station"`
	ChargeBoxID string `json:"charge_box_id" gorm:"index:idx_connector_station"`
	ConnectorID int    `json:"connector_id"`

	Status          ConnectorStatus `json:"status"`
	ErrorCode       string          `json:"error_code"`
	Info            string          `json:"info,omitempty"`
	VendorErrorCode string          `json:"vendor_error_code,omitempty"`

	StatusLastChangedOn time.Time `json:"status_last_changed_on"`

	Type            string  `json:"type"` // CCS, CHAdeMO, Type2, Unknown
	PowerW          float64 `json:"power_w"`
	NumberOfPhases  int     `json:"number_of_phases"`
	PhaseAssignment string  `json:"phase_assignment,omitempty"`
	Voltage         float64 `json:"voltage"`
	Amperage        float64 `json:"amperage"`

	CurrentTransactionID       int              `json:"current_transaction_id"`
	CurrentTransactionDate     *time.Time       `json:"current_transaction_date,omitempty"`
	CurrentTagID               string           `json:"current_tag_id,omitempty"`
	CurrentUserID              string           `json:"current_user_id,omitempty"`
	CurrentInstantWatts        float64          `json:"current_instant_watts"`
	CurrentTotalConsumptionWh  float64          `json:"current_total_consumption_wh"`
	CurrentTotalInactivitySecs int              `json:"current_total_inactivity_secs"`
	CurrentInactivityStatus    InactivityStatus `json:"current_inactivity_status,omitempty"`
	CurrentStateOfCharge       int              `json:"current_state_of_charge"`
}

// ClearSession zeroes the transient live-session fields after a stop.
func (c *Connector) ClearSession() {
	c.CurrentTransactionID = 0
	c.CurrentTransactionDate = nil
	c.CurrentTagID = ""
	c.CurrentUserID = ""
	c.CurrentInstantWatts = 0
	c.CurrentTotalConsumptionWh = 0
	c.CurrentTotalInactivitySecs = 0
	c.CurrentInactivityStatus = ""
	c.CurrentStateOfCharge = 0
}

// GetConnector returns the connector with the given 1-based id, or nil.
func (s *ChargingStation) GetConnector(connectorID int) *Connector {
	for i := range s.Connectors {
		if s.Connectors[i].ConnectorID == connectorID {
			return &s.Connectors[i]
		}
	}
	return nil
}

// SortConnectors keeps the connector list ordered by connector id so that
// connectors[k].ConnectorID == k+1 once every id has reported in.
func (s *ChargingStation) SortConnectors() {
	sort.Slice(s.Connectors, func(i, j int) bool {
		return s.Connectors[i].ConnectorID < s.Connectors[j].ConnectorID
	})
}

// BootRecord is the raw boot notification audit trail.
type BootRecord struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	TenantID        string    `json:"tenant_id" gorm:"index"`
	ChargeBoxID     string    `json:"charge_box_id" gorm:"index"`
	Vendor          string    `json:"vendor"`
	Model           string    `json:"model"`
	SerialNumber    string    `json:"serial_number"`
	FirmwareVersion string    `json:"firmware_version"`
	OCPPVersion     string    `json:"ocpp_version"`
	Timestamp       time.Time `json:"timestamp"`
}
