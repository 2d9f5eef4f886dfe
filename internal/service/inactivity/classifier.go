// Package inactivity classifies how long a connector was occupied without
// drawing energy.
package inactivity

import (
	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/pkg/config"
)

// Classifier applies the configured warn/error thresholds uniformly. Per-site
// thresholds would slot in here without touching the callers.
type Classifier struct {
	warnSecs  int
	errorSecs int
}

func NewClassifier(cfg config.OCPPConfig) *Classifier {
	return &Classifier{
		warnSecs:  cfg.InactivityWarnSecs,
		errorSecs: cfg.InactivityErrorSecs,
	}
}

func (c *Classifier) Classify(station *domain.ChargingStation, connectorID int, totalInactivitySecs int) domain.InactivityStatus {
	switch {
	case c.errorSecs > 0 && totalInactivitySecs >= c.errorSecs:
		return domain.InactivityStatusError
	case c.warnSecs > 0 && totalInactivitySecs >= c.warnSecs:
		return domain.InactivityStatusWarning
	default:
		return domain.InactivityStatusInfo
	}
}
