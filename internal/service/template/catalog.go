// Package template enriches stations and connectors from the declarative
// vendor/model catalog: electrical characteristics the station cannot report
// about itself, and the OCPP configuration keys to push after boot.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

// StationTemplate describes one vendor/model family. Model supports a
// trailing * wildcard; the first matching template wins.
type StationTemplate struct {
	Vendor            string             `json:"vendor"`
	Model             string             `json:"model"`
	CurrentType       domain.CurrentType `json:"current_type"`
	MaximumPowerW     float64            `json:"maximum_power_w"`
	Connector         ConnectorTemplate  `json:"connector"`
	ConfigurationKeys map[string]string  `json:"configuration_keys,omitempty"`
}

type ConnectorTemplate struct {
	Type            string  `json:"type"`
	PowerW          float64 `json:"power_w"`
	NumberOfPhases  int     `json:"number_of_phases"`
	Voltage         float64 `json:"voltage"`
	Amperage        float64 `json:"amperage"`
	PhaseAssignment string  `json:"phase_assignment,omitempty"`
}

type Catalog struct {
	templates []StationTemplate
	log       *zap.Logger
}

// NewCatalog builds a catalog from the given file, falling back to the
// built-in defaults when the path is empty.
func NewCatalog(path string, log *zap.Logger) (*Catalog, error) {
	templates := defaultTemplates()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template file: %w", err)
		}
		var loaded []StationTemplate
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse template file: %w", err)
		}
		templates = append(loaded, templates...)
	}
	return &Catalog{templates: templates, log: log.Named("template")}, nil
}

func (c *Catalog) match(vendor, model string) *StationTemplate {
	for i := range c.templates {
		t := &c.templates[i]
		if !strings.EqualFold(t.Vendor, vendor) {
			continue
		}
		if t.Model == "*" {
			return t
		}
		if strings.HasSuffix(t.Model, "*") {
			if strings.HasPrefix(strings.ToLower(model), strings.ToLower(strings.TrimSuffix(t.Model, "*"))) {
				return t
			}
			continue
		}
		if strings.EqualFold(t.Model, model) {
			return t
		}
	}
	return nil
}

// ApplyTemplate fills station-level characteristics. Idempotent: a second
// application of the same template reports Updated false.
func (c *Catalog) ApplyTemplate(ctx context.Context, station *domain.ChargingStation) (*ports.TemplateResult, error) {
	t := c.match(station.Vendor, station.Model)
	if t == nil {
		c.log.Debug("no template for station",
			zap.String("vendor", station.Vendor),
			zap.String("model", station.Model))
		return &ports.TemplateResult{}, nil
	}
	result := &ports.TemplateResult{ConfigurationKeys: t.ConfigurationKeys}
	if station.CurrentType != t.CurrentType {
		station.CurrentType = t.CurrentType
		result.Updated = true
	}
	if station.MaximumPowerW != t.MaximumPowerW {
		station.MaximumPowerW = t.MaximumPowerW
		result.Updated = true
	}
	if !station.TemplateApplied {
		result.Updated = true
		result.OCPPStandardUpdated = len(t.ConfigurationKeys) > 0
	}
	return result, nil
}

// EnrichConnector fills the electrical characteristics of one connector.
func (c *Catalog) EnrichConnector(ctx context.Context, station *domain.ChargingStation, connectorID int) (bool, error) {
	t := c.match(station.Vendor, station.Model)
	if t == nil {
		return false, nil
	}
	connector := station.GetConnector(connectorID)
	if connector == nil {
		return false, fmt.Errorf("connector %d: %w", connectorID, domain.ErrConnectorNotFound)
	}
	connector.Type = t.Connector.Type
	connector.PowerW = t.Connector.PowerW
	connector.NumberOfPhases = t.Connector.NumberOfPhases
	connector.Voltage = t.Connector.Voltage
	connector.Amperage = t.Connector.Amperage
	connector.PhaseAssignment = t.Connector.PhaseAssignment
	return true, nil
}

// defaultTemplates covers the hardware seen most in the field. Deployments
// extend the list through the template file.
func defaultTemplates() []StationTemplate {
	return []StationTemplate{
		{
			Vendor:        "Schneider Electric",
			Model:         "MONOBLOCK*",
			CurrentType:   domain.CurrentTypeAC,
			MaximumPowerW: 44160,
			Connector: ConnectorTemplate{
				Type:           "Type2",
				PowerW:         22080,
				NumberOfPhases: 3,
				Voltage:        230,
				Amperage:       32,
			},
			ConfigurationKeys: map[string]string{
				"MeterValueSampleInterval":   "60",
				"MeterValuesSampledData":     "Energy.Active.Import.Register,Power.Active.Import,Current.Import,Voltage,SoC",
				"StopTransactionOnInvalidId": "true",
				"AuthorizeRemoteTxRequests":  "false",
				"WebSocketPingInterval":      "30",
				"ClockAlignedDataInterval":   "0",
			},
		},
		{
			Vendor:        "ABB",
			Model:         "Terra*",
			CurrentType:   domain.CurrentTypeDC,
			MaximumPowerW: 50000,
			Connector: ConnectorTemplate{
				Type:           "CCS",
				PowerW:         50000,
				NumberOfPhases: 0,
				Voltage:        400,
				Amperage:       125,
			},
			ConfigurationKeys: map[string]string{
				"MeterValueSampleInterval": "60",
				"MeterValuesSampledData":   "Energy.Active.Import.Register,Power.Active.Import,SoC",
			},
		},
	}
}
