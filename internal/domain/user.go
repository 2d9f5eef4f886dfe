package domain

import (
	"time"
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "Active"
	UserStatusBlocked UserStatus = "Blocked"
	UserStatusPending UserStatus = "Pending"
)

type User struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	TenantID  string     `json:"tenant_id" gorm:"index"`
	Name      string     `json:"name"`
	Email     string     `json:"email" gorm:"index"`
	Status    UserStatus `json:"status"`
	// DefaultCarID is copied onto new transactions when the tenant has the
	// car component, then cleared (the station cannot tell us which car).
	DefaultCarID string    `json:"default_car_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tag is an RFID badge or app credential presented as the OCPP idTag.
// The id itself is the idTag string (max 20 characters on the wire).
type Tag struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	TenantID    string     `json:"tenant_id" gorm:"primaryKey"`
	UserID      string     `json:"user_id" gorm:"index"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Authorized reports whether the tag itself (not its user) can charge now.
func (t *Tag) Authorized(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.ExpiryDate != nil && !t.ExpiryDate.After(now) {
		return false
	}
	return true
}
