package domain

import (
	"time"
)

// RoamingProtocol identifies which roaming network a session is bridged to.
type RoamingProtocol string

const (
	RoamingProtocolOCPI RoamingProtocol = "ocpi"
	RoamingProtocolOICP RoamingProtocol = "oicp"
)

// Tenant is the isolation boundary. Every entity below is keyed within a tenant.
type Tenant struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain" gorm:"uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Component flags. These mirror the tenant's activated integrations and
	// gate the corresponding side effects on the OCPP hot path.
	PricingEnabled       bool            `json:"pricing_enabled"`
	BillingEnabled       bool            `json:"billing_enabled"`
	SmartChargingEnabled bool            `json:"smart_charging_enabled"`
	CarEnabled           bool            `json:"car_enabled"`
	RoamingEnabled       bool            `json:"roaming_enabled"`
	RoamingProtocol      RoamingProtocol `json:"roaming_protocol,omitempty"`
}

// RegistrationToken authorizes the very first BootNotification of a new station.
type RegistrationToken struct {
	Token          string     `json:"token" gorm:"primaryKey"`
	TenantID       string     `json:"tenant_id" gorm:"index"`
	Description    string     `json:"description"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	RevocationDate *time.Time `json:"revocation_date,omitempty"`
	SiteAreaID     string     `json:"site_area_id,omitempty"`
	SiteID         string     `json:"site_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Valid reports whether the token may still register a station at the given time.
func (t *RegistrationToken) Valid(now time.Time) bool {
	if t.RevocationDate != nil && !t.RevocationDate.After(now) {
		return false
	}
	if t.ExpirationDate != nil && !t.ExpirationDate.After(now) {
		return false
	}
	return true
}
