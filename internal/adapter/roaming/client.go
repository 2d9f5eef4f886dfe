// Package roaming talks to the OCPI/OICP bridge services that connect the
// platform to the roaming networks. Each protocol endpoint sits behind its
// own circuit breaker so a degraded bridge fails fast instead of tying up
// OCPP handler goroutines.
package roaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
	"github.com/gridwise/csms/pkg/config"
)

type Client struct {
	httpClient *http.Client
	cfg        config.RoamingConfig
	breakers   map[domain.RoamingProtocol]*gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewClient(cfg config.RoamingConfig, log *zap.Logger) ports.RoamingService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	newBreaker := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("roaming circuit state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		breakers: map[domain.RoamingProtocol]*gobreaker.CircuitBreaker{
			domain.RoamingProtocolOCPI: newBreaker("ocpi-bridge"),
			domain.RoamingProtocolOICP: newBreaker("oicp-bridge"),
		},
		log: log.Named("roaming"),
	}
}

func (c *Client) endpoint(protocol domain.RoamingProtocol) (baseURL, token string, err error) {
	switch protocol {
	case domain.RoamingProtocolOCPI:
		return c.cfg.OCPIBaseURL, c.cfg.OCPIToken, nil
	case domain.RoamingProtocolOICP:
		return c.cfg.OICPBaseURL, c.cfg.OICPToken, nil
	default:
		return "", "", fmt.Errorf("unknown roaming protocol %q", protocol)
	}
}

func (c *Client) post(ctx context.Context, protocol domain.RoamingProtocol, path string, payload, out interface{}) error {
	baseURL, token, err := c.endpoint(protocol)
	if err != nil {
		return err
	}
	if baseURL == "" {
		return fmt.Errorf("roaming protocol %q not configured", protocol)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal roaming payload: %w", err)
	}

	result, err := c.breakers[protocol].Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Token "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("roaming bridge %s returned %d", path, resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(result.([]byte), out); err != nil {
			return fmt.Errorf("decode roaming response: %w", err)
		}
	}
	return nil
}

type sessionPayload struct {
	Action           string  `json:"action"`
	TenantID         string  `json:"tenant_id"`
	TransactionID    int     `json:"transaction_id"`
	SessionID        string  `json:"session_id,omitempty"`
	AuthID           string  `json:"auth_id,omitempty"`
	ChargeBoxID      string  `json:"charge_box_id"`
	ConnectorID      int     `json:"connector_id"`
	StartedAt        string  `json:"started_at"`
	ConsumptionWh    float64 `json:"consumption_wh"`
	StateOfCharge    int     `json:"state_of_charge,omitempty"`
	StoppedAt        string  `json:"stopped_at,omitempty"`
	InactivitySecs   int     `json:"inactivity_secs,omitempty"`
	DurationSecs     int     `json:"duration_secs,omitempty"`
	Price            float64 `json:"price,omitempty"`
	PriceUnit        string  `json:"price_unit,omitempty"`
	StationLatitude  float64 `json:"station_latitude,omitempty"`
	StationLongitude float64 `json:"station_longitude,omitempty"`
}

func newSessionPayload(action domain.TransactionAction, tx *domain.Transaction, station *domain.ChargingStation) sessionPayload {
	p := sessionPayload{
		Action:        string(action),
		TenantID:      tx.TenantID,
		TransactionID: tx.ID,
		SessionID:     tx.RoamingSessionID,
		AuthID:        tx.RoamingAuthID,
		ChargeBoxID:   tx.ChargeBoxID,
		ConnectorID:   tx.ConnectorID,
		StartedAt:     tx.Timestamp.UTC().Format(time.RFC3339),
		ConsumptionWh: tx.CurrentTotalConsumptionWh,
		StateOfCharge: tx.CurrentStateOfCharge,
	}
	if station != nil {
		p.StationLatitude = station.Latitude
		p.StationLongitude = station.Longitude
	}
	if tx.Stop != nil {
		p.ConsumptionWh = tx.Stop.TotalConsumptionWh
		p.StoppedAt = tx.Stop.Timestamp.UTC().Format(time.RFC3339)
		p.InactivitySecs = tx.Stop.TotalInactivitySecs
		p.DurationSecs = tx.Stop.TotalDurationSecs
		p.Price = tx.Stop.RoundedPrice
		p.PriceUnit = tx.Stop.PriceUnit
	}
	return p
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// ProcessSession mirrors a lifecycle step. On Start the bridge assigns the
// remote session id, which is written back onto the transaction.
func (c *Client) ProcessSession(ctx context.Context, protocol domain.RoamingProtocol, action domain.TransactionAction, tx *domain.Transaction, station *domain.ChargingStation) error {
	var resp sessionResponse
	if err := c.post(ctx, protocol, "/sessions", newSessionPayload(action, tx, station), &resp); err != nil {
		return err
	}
	if action == domain.TransactionActionStart && resp.SessionID != "" {
		tx.RoamingSessionID = resp.SessionID
	}
	return nil
}

func (c *Client) PushCdr(ctx context.Context, protocol domain.RoamingProtocol, tx *domain.Transaction, station *domain.ChargingStation) error {
	return c.post(ctx, protocol, "/cdrs", newSessionPayload(domain.TransactionActionEnd, tx, station), nil)
}

type statusPayload struct {
	TenantID    string `json:"tenant_id"`
	ChargeBoxID string `json:"charge_box_id"`
	ConnectorID int    `json:"connector_id"`
	Status      string `json:"status"`
}

func (c *Client) PushConnectorStatus(ctx context.Context, protocol domain.RoamingProtocol, station *domain.ChargingStation, connector *domain.Connector) error {
	return c.post(ctx, protocol, "/locations/status", statusPayload{
		TenantID:    station.TenantID,
		ChargeBoxID: station.ID,
		ConnectorID: connector.ConnectorID,
		Status:      string(connector.Status),
	}, nil)
}

type authorizePayload struct {
	TenantID string `json:"tenant_id"`
	TagID    string `json:"tag_id"`
}

type authorizeResponse struct {
	Authorized bool   `json:"authorized"`
	AuthID     string `json:"auth_id"`
}

// Authorize resolves an unknown tag against the roaming network. OCPI is the
// default protocol for remote authorization; OICP bridges answer the same
// shape.
func (c *Client) Authorize(ctx context.Context, tenantID, tagID string) (string, error) {
	protocol := domain.RoamingProtocolOCPI
	if c.cfg.OCPIBaseURL == "" && c.cfg.OICPBaseURL != "" {
		protocol = domain.RoamingProtocolOICP
	}
	var resp authorizeResponse
	if err := c.post(ctx, protocol, "/authorize", authorizePayload{TenantID: tenantID, TagID: tagID}, &resp); err != nil {
		return "", err
	}
	if !resp.Authorized {
		return "", domain.ErrTagInvalid
	}
	return resp.AuthID, nil
}
