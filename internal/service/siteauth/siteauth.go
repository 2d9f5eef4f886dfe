// Package siteauth decides whether a user may start a transaction on a
// station given its site-area assignment.
package siteauth

import (
	"context"

	"github.com/gridwise/csms/internal/domain"
)

// OpenPolicy admits every non-blocked user everywhere. Deployments with site
// access control replace it with an implementation backed by the membership
// store.
type OpenPolicy struct{}

func NewOpenPolicy() *OpenPolicy { return &OpenPolicy{} }

func (OpenPolicy) CanStartTransaction(ctx context.Context, user *domain.User, station *domain.ChargingStation) (bool, error) {
	if user != nil && user.Status == domain.UserStatusBlocked {
		return false, nil
	}
	return true, nil
}
