package v15

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

// Commander sends central-system-initiated SOAP calls to the callback
// endpoint a station announced in its WS-Addressing From header.
type Commander struct {
	stations   ports.StationRepository
	httpClient *http.Client
	log        *zap.Logger
}

func NewCommander(stations ports.StationRepository, timeout time.Duration, log *zap.Logger) *Commander {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Commander{
		stations:   stations,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("ocpps"),
	}
}

const changeConfigurationEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:cp="urn://Ocpp/Cp/2012/06/">
<soap:Header>
<cp:chargeBoxIdentity>%s</cp:chargeBoxIdentity>
</soap:Header>
<soap:Body>
<cp:changeConfigurationRequest>
<cp:key>%s</cp:key>
<cp:value>%s</cp:value>
</cp:changeConfigurationRequest>
</soap:Body>
</soap:Envelope>`

type changeConfigurationResult struct {
	Status string `xml:"Body>changeConfigurationResponse>status"`
}

// ChangeConfiguration implements the station commander for SOAP stations.
func (c *Commander) ChangeConfiguration(ctx context.Context, tenantID, chargeBoxID, key, value string) (bool, error) {
	station, err := c.stations.FindByID(ctx, tenantID, chargeBoxID)
	if err != nil {
		return false, fmt.Errorf("resolve station %q: %w", chargeBoxID, err)
	}
	if station == nil {
		return false, fmt.Errorf("station %q: %w", chargeBoxID, domain.ErrStationNotRegistered)
	}
	if station.Endpoint == "" {
		return false, fmt.Errorf("station %q has no callback endpoint", chargeBoxID)
	}

	body := fmt.Sprintf(changeConfigurationEnvelope,
		xmlEscape(chargeBoxID), xmlEscape(key), xmlEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, station.Endpoint, bytes.NewBufferString(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("call station %q: %w", chargeBoxID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, err
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("station %q returned %d", chargeBoxID, resp.StatusCode)
	}

	var result changeConfigurationResult
	if err := xml.Unmarshal(data, &result); err != nil {
		return false, fmt.Errorf("decode station response: %w", err)
	}
	return result.Status == "Accepted", nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
