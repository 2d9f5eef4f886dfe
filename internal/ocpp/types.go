// Package ocpp holds the version-independent message shapes the core handles
// and the normalization from the OCPP 1.5 (SOAP) and 1.6 (JSON) wire forms.
// Version differences live only here.
package ocpp

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gridwise/csms/internal/domain"
)

// MessageKind tags the normalized message variant.
type MessageKind string

const (
	KindBootNotification        MessageKind = "BootNotification"
	KindHeartbeat               MessageKind = "Heartbeat"
	KindStatusNotification      MessageKind = "StatusNotification"
	KindMeterValues             MessageKind = "MeterValues"
	KindAuthorize               MessageKind = "Authorize"
	KindStartTransaction        MessageKind = "StartTransaction"
	KindStopTransaction         MessageKind = "StopTransaction"
	KindDataTransfer            MessageKind = "DataTransfer"
	KindFirmwareStatus          MessageKind = "FirmwareStatusNotification"
	KindDiagnosticsStatus       MessageKind = "DiagnosticsStatusNotification"
)

// RequestHeader is the immutable per-message context, passed explicitly to
// every handler instead of living on an ambient request object.
type RequestHeader struct {
	TenantID    string
	ChargeBoxID string
	ClientIP    string
	OCPPVersion domain.OCPPVersion
	Transport   domain.OCPPTransport
	// Token is the registration token presented at first boot.
	Token string
	// Endpoint is the WS-Addressing From/Address of a SOAP station.
	Endpoint string
}

type AuthorizationStatus string

const (
	AuthorizationAccepted AuthorizationStatus = "Accepted"
	AuthorizationInvalid  AuthorizationStatus = "Invalid"
	AuthorizationBlocked  AuthorizationStatus = "Blocked"
	AuthorizationExpired  AuthorizationStatus = "Expired"
)

type IDTagInfo struct {
	Status AuthorizationStatus `json:"status" xml:"status"`
}

// IdTag accepts both string and numeric wire forms. Some firmwares send
// numeric tags as JSON numbers.
type IdTag string

func (t *IdTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = IdTag(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = IdTag(n.String())
	return nil
}

// --- Normalized requests and responses ---

type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor" xml:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel" xml:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty" xml:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty" xml:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty" xml:"firmwareVersion,omitempty"`
	MeterType               string `json:"meterType,omitempty" xml:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty" xml:"meterSerialNumber,omitempty"`
}

// SerialNumber returns whichever serial the station declared.
func (r *BootNotificationRequest) SerialNumber() string {
	if r.ChargePointSerialNumber != "" {
		return r.ChargePointSerialNumber
	}
	return r.ChargeBoxSerialNumber
}

type BootNotificationResponse struct {
	Status      domain.RegistrationStatus `json:"status" xml:"status"`
	CurrentTime string                    `json:"currentTime" xml:"currentTime"`
	Interval    int                       `json:"interval" xml:"heartbeatInterval"`
}

type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime" xml:"currentTime"`
}

type StatusNotificationRequest struct {
	ConnectorID     int        `json:"connectorId" xml:"connectorId"`
	Status          string     `json:"status" xml:"status"`
	ErrorCode       string     `json:"errorCode" xml:"errorCode"`
	Info            string     `json:"info,omitempty" xml:"info,omitempty"`
	VendorID        string     `json:"vendorId,omitempty" xml:"vendorId,omitempty"`
	VendorErrorCode string     `json:"vendorErrorCode,omitempty" xml:"vendorErrorCode,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty" xml:"timestamp,omitempty"`
}

type StatusNotificationResponse struct{}

type AuthorizeRequest struct {
	IdTag IdTag `json:"idTag" xml:"idTag"`
}

type AuthorizeResponse struct {
	IDTagInfo IDTagInfo `json:"idTagInfo" xml:"idTagInfo"`
}

type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId" xml:"connectorId"`
	IdTag         IdTag     `json:"idTag" xml:"idTag"`
	MeterStart    int       `json:"meterStart" xml:"meterStart"`
	Timestamp     time.Time `json:"timestamp" xml:"timestamp"`
	ReservationID *int      `json:"reservationId,omitempty" xml:"reservationId,omitempty"`
}

type StartTransactionResponse struct {
	TransactionID int       `json:"transactionId" xml:"transactionId"`
	IDTagInfo     IDTagInfo `json:"idTagInfo" xml:"idTagInfo"`
}

type StopTransactionRequest struct {
	TransactionID int       `json:"transactionId" xml:"transactionId"`
	IdTag         IdTag     `json:"idTag,omitempty" xml:"idTag,omitempty"`
	MeterStop     int       `json:"meterStop" xml:"meterStop"`
	Timestamp     time.Time `json:"timestamp" xml:"timestamp"`
	Reason        string    `json:"reason,omitempty" xml:"reason,omitempty"`
	// TransactionData is already normalized; shape validation against the
	// station's declared version happens during normalization.
	TransactionData []domain.MeterValue `json:"-" xml:"-"`
}

type StopTransactionResponse struct {
	IDTagInfo IDTagInfo `json:"idTagInfo" xml:"idTagInfo"`
}

// MeterValuesRequest carries the flattened, normalized samples in wire order.
type MeterValuesRequest struct {
	ConnectorID   int
	TransactionID int
	Values        []domain.MeterValue
}

type MeterValuesResponse struct{}

type DataTransferRequest struct {
	VendorID  string `json:"vendorId" xml:"vendorId"`
	MessageID string `json:"messageId,omitempty" xml:"messageId,omitempty"`
	Data      string `json:"data,omitempty" xml:"data,omitempty"`
}

type DataTransferResponse struct {
	Status string `json:"status" xml:"status"`
	Data   string `json:"data,omitempty" xml:"data,omitempty"`
}

type FirmwareStatusNotificationRequest struct {
	Status string `json:"status" xml:"status"`
}

type FirmwareStatusNotificationResponse struct{}

type DiagnosticsStatusNotificationRequest struct {
	Status string `json:"status" xml:"status"`
}

type DiagnosticsStatusNotificationResponse struct{}

// FormatTimestamp renders a response timestamp as ISO-8601 UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseDecimal parses a Raw-format sampled value.
func ParseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
