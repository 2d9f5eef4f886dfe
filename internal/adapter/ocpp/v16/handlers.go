package v16

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ocpp"
	"github.com/gridwise/csms/internal/service/station"
	"github.com/gridwise/csms/internal/service/transaction"
)

// Handlers decodes OCPP 1.6 payloads, normalizes them and routes them to the
// station and transaction services.
type Handlers struct {
	stations     *station.Service
	transactions *transaction.Service
	log          *zap.Logger
}

func NewHandlers(stations *station.Service, transactions *transaction.Service, log *zap.Logger) *Handlers {
	return &Handlers{
		stations:     stations,
		transactions: transactions,
		log:          log.Named("ocppj"),
	}
}

func requestHeader(tenantID, chargeBoxID, clientIP, token string) ocpp.RequestHeader {
	return ocpp.RequestHeader{
		TenantID:    tenantID,
		ChargeBoxID: chargeBoxID,
		ClientIP:    clientIP,
		OCPPVersion: domain.OCPPVersion16,
		Transport:   domain.OCPPTransportJSON,
		Token:       token,
	}
}

// Handle routes one decoded Call to its handler and returns the response
// payload for the CallResult frame.
func (h *Handlers) Handle(ctx context.Context, header ocpp.RequestHeader, action string, payload json.RawMessage) (interface{}, error) {
	switch action {
	case "BootNotification":
		var req ocpp.BootNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid BootNotification: %w", err)
		}
		return h.stations.ProcessBootNotification(ctx, header, &req)

	case "Heartbeat":
		return h.stations.ProcessHeartbeat(ctx, header)

	case "StatusNotification":
		var req ocpp.StatusNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid StatusNotification: %w", err)
		}
		return h.stations.ProcessStatusNotification(ctx, header, &req)

	case "Authorize":
		var req ocpp.AuthorizeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid Authorize: %w", err)
		}
		return h.transactions.ProcessAuthorize(ctx, header, &req)

	case "StartTransaction":
		var req ocpp.StartTransactionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid StartTransaction: %w", err)
		}
		return h.transactions.ProcessStartTransaction(ctx, header, &req)

	case "MeterValues":
		var wire ocpp.MeterValuesRequest16
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, fmt.Errorf("invalid MeterValues: %w", err)
		}
		req, err := ocpp.NormalizeMeterValues16(header, &wire)
		if err != nil {
			return nil, err
		}
		return h.transactions.ProcessMeterValues(ctx, header, req)

	case "StopTransaction":
		var wire ocpp.StopTransactionRequest16
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, fmt.Errorf("invalid StopTransaction: %w", err)
		}
		req, err := ocpp.NormalizeStopTransaction16(header, &wire)
		if err != nil {
			return nil, err
		}
		return h.transactions.ProcessStopTransaction(ctx, header, req)

	case "DataTransfer":
		var req ocpp.DataTransferRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid DataTransfer: %w", err)
		}
		return h.stations.ProcessDataTransfer(ctx, header, &req)

	case "FirmwareStatusNotification":
		var req ocpp.FirmwareStatusNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid FirmwareStatusNotification: %w", err)
		}
		return h.stations.ProcessFirmwareStatus(ctx, header, &req)

	case "DiagnosticsStatusNotification":
		var req ocpp.DiagnosticsStatusNotificationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("invalid DiagnosticsStatusNotification: %w", err)
		}
		return h.stations.ProcessDiagnosticsStatus(ctx, header, &req)

	default:
		h.log.Warn("unsupported action", zap.String("action", action))
		return nil, errNotSupported
	}
}

var errNotSupported = errors.New("action not supported")

// errorCode maps handler errors onto OCPP-J CallError codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errNotSupported):
		return "NotSupported"
	case errors.Is(err, domain.ErrWrongTransactionDataShape):
		return "TypeConstraintViolation"
	case errors.Is(err, domain.ErrUnknownTenant),
		errors.Is(err, domain.ErrStationNotRegistered):
		return "SecurityError"
	case errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrTransactionAlreadyStopped),
		errors.Is(err, domain.ErrConnectorNotFound):
		return "PropertyConstraintViolation"
	default:
		return "InternalError"
	}
}
