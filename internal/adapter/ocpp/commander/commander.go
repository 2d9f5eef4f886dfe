// Package commander routes central-system-initiated calls to the transport a
// station is registered on.
package commander

import (
	"context"
	"fmt"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ports"
)

// Router picks between the WebSocket server (JSON stations) and the SOAP
// client (1.5 stations) per call.
type Router struct {
	stations ports.StationRepository
	json     ports.StationCommander
	soap     ports.StationCommander
}

func NewRouter(stations ports.StationRepository, json, soap ports.StationCommander) *Router {
	return &Router{stations: stations, json: json, soap: soap}
}

// SetJSON wires the WebSocket commander after construction. The JSON server
// depends on the services that in turn depend on this router, so the router is
// built first and completed once the server exists.
func (r *Router) SetJSON(json ports.StationCommander) {
	r.json = json
}

func (r *Router) ChangeConfiguration(ctx context.Context, tenantID, chargeBoxID, key, value string) (bool, error) {
	station, err := r.stations.FindByID(ctx, tenantID, chargeBoxID)
	if err != nil {
		return false, fmt.Errorf("resolve station %q: %w", chargeBoxID, err)
	}
	if station == nil {
		return false, fmt.Errorf("station %q: %w", chargeBoxID, domain.ErrStationNotRegistered)
	}
	if station.OCPPTransport == domain.OCPPTransportSOAP {
		return r.soap.ChangeConfiguration(ctx, tenantID, chargeBoxID, key, value)
	}
	if r.json == nil {
		return false, fmt.Errorf("json commander not wired for station %q", chargeBoxID)
	}
	return r.json.ChangeConfiguration(ctx, tenantID, chargeBoxID, key, value)
}
