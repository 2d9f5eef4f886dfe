// Package v15 is the OCPP 1.5 SOAP transport: an HTTP endpoint for inbound
// station requests and a SOAP client for central-system-initiated calls.
package v15

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/observability"
	"github.com/gridwise/csms/internal/ocpp"
	"github.com/gridwise/csms/internal/service/station"
	"github.com/gridwise/csms/internal/service/transaction"
	"github.com/gridwise/csms/pkg/config"
)

const maxBodyBytes = 1 << 20

// Server accepts OCPP 1.5 SOAP requests on /ocpp/1.5/{tenant}. The station
// identity and callback endpoint come from the WS-Addressing headers inside
// the envelope, the registration token from the token query parameter.
type Server struct {
	stations     *station.Service
	transactions *transaction.Service
	cfg          config.OCPPConfig
	log          *zap.Logger

	httpServer *http.Server
}

func NewServer(stations *station.Service, transactions *transaction.Service, cfg config.OCPPConfig, log *zap.Logger) *Server {
	return &Server{
		stations:     stations,
		transactions: transactions,
		cfg:          cfg,
		log:          log.Named("ocpps"),
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/1.5/", s.handleSOAP)

	addr := fmt.Sprintf(":%d", s.cfg.SOAPPort)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.log.Info("starting OCPP 1.5 SOAP server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleSOAP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	tenantID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ocpp/1.5/"), "/")
	if tenantID == "" {
		http.Error(w, "expected /ocpp/1.5/{tenant}", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	env, err := ocpp.ParseEnvelope(body)
	if err != nil {
		s.log.Warn("invalid soap envelope", zap.String("tenant", tenantID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := env.Kind()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if env.Header.ChargeBoxIdentity == "" {
		http.Error(w, "missing chargeBoxIdentity", http.StatusBadRequest)
		return
	}

	header := ocpp.RequestHeader{
		TenantID:    tenantID,
		ChargeBoxID: env.Header.ChargeBoxIdentity,
		ClientIP:    remoteIP(r),
		OCPPVersion: domain.OCPPVersion15,
		Transport:   domain.OCPPTransportSOAP,
		Token:       r.URL.Query().Get("token"),
		Endpoint:    env.Header.From.Address,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.PerCallTimeout)
	defer cancel()

	started := time.Now()
	payload, err := s.dispatch(ctx, header, kind, env)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveMessage("soap", string(kind), outcome, time.Since(started))
	if err != nil {
		s.log.Warn("soap call rejected",
			zap.String("tenant", tenantID),
			zap.String("charge_box_id", header.ChargeBoxID),
			zap.String("action", string(kind)),
			zap.Error(err))
		http.Error(w, err.Error(), soapStatus(err))
		return
	}

	out, err := ocpp.MarshalResponseEnvelope(kind, payload)
	if err != nil {
		s.log.Error("response marshal failed", zap.String("action", string(kind)), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.Write(out)
}

func (s *Server) dispatch(ctx context.Context, header ocpp.RequestHeader, kind ocpp.MessageKind, env *ocpp.Envelope) (interface{}, error) {
	switch kind {
	case ocpp.KindBootNotification:
		return s.stations.ProcessBootNotification(ctx, header, env.Body.BootNotification)
	case ocpp.KindHeartbeat:
		return s.stations.ProcessHeartbeat(ctx, header)
	case ocpp.KindStatusNotification:
		return s.stations.ProcessStatusNotification(ctx, header, env.Body.StatusNotification)
	case ocpp.KindAuthorize:
		return s.transactions.ProcessAuthorize(ctx, header, &ocpp.AuthorizeRequest{IdTag: ocpp.IdTag(env.Body.Authorize.IdTag)})
	case ocpp.KindStartTransaction:
		return s.transactions.ProcessStartTransaction(ctx, header, env.Body.StartTransaction)
	case ocpp.KindMeterValues:
		req, err := ocpp.NormalizeMeterValues15(header, env.Body.MeterValues)
		if err != nil {
			return nil, err
		}
		return s.transactions.ProcessMeterValues(ctx, header, req)
	case ocpp.KindStopTransaction:
		req, err := ocpp.NormalizeStopTransaction15(header, env.Body.StopTransaction)
		if err != nil {
			return nil, err
		}
		return s.transactions.ProcessStopTransaction(ctx, header, req)
	case ocpp.KindDataTransfer:
		return s.stations.ProcessDataTransfer(ctx, header, env.Body.DataTransfer)
	case ocpp.KindFirmwareStatus:
		return s.stations.ProcessFirmwareStatus(ctx, header, env.Body.FirmwareStatus)
	case ocpp.KindDiagnosticsStatus:
		return s.stations.ProcessDiagnosticsStatus(ctx, header, env.Body.DiagnosticsStatus)
	default:
		return nil, fmt.Errorf("unsupported action %q", kind)
	}
}

func soapStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownTenant),
		errors.Is(err, domain.ErrStationNotRegistered):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrWrongTransactionDataShape):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
