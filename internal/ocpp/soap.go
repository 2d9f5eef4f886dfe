package ocpp

import (
	"encoding/xml"
	"fmt"
)

// SOAP carrier for OCPP 1.5. Namespaces are deliberately not enforced on
// decode: vendor firmwares disagree on prefixes, and the element names are
// unambiguous.

type EnvelopeFrom struct {
	Address string `xml:"Address"`
}

type EnvelopeHeader struct {
	ChargeBoxIdentity string       `xml:"chargeBoxIdentity"`
	Action            string       `xml:"Action"`
	MessageID         string       `xml:"MessageID"`
	From              EnvelopeFrom `xml:"From"`
}

type EnvelopeBody struct {
	BootNotification   *BootNotificationRequest              `xml:"bootNotificationRequest"`
	Heartbeat          *struct{}                             `xml:"heartbeatRequest"`
	StatusNotification *StatusNotificationRequest            `xml:"statusNotificationRequest"`
	MeterValues        *MeterValuesRequest15                 `xml:"meterValuesRequest"`
	Authorize          *soapAuthorizeRequest                 `xml:"authorizeRequest"`
	StartTransaction   *StartTransactionRequest              `xml:"startTransactionRequest"`
	StopTransaction    *StopTransactionRequest15             `xml:"stopTransactionRequest"`
	DataTransfer       *DataTransferRequest                  `xml:"dataTransferRequest"`
	FirmwareStatus     *FirmwareStatusNotificationRequest    `xml:"firmwareStatusNotificationRequest"`
	DiagnosticsStatus  *DiagnosticsStatusNotificationRequest `xml:"diagnosticsStatusNotificationRequest"`
}

type Envelope struct {
	XMLName xml.Name       `xml:"Envelope"`
	Header  EnvelopeHeader `xml:"Header"`
	Body    EnvelopeBody   `xml:"Body"`
}

type soapAuthorizeRequest struct {
	IdTag string `xml:"idTag"`
}

// Kind returns the message kind present in the body.
func (e *Envelope) Kind() (MessageKind, error) {
	switch {
	case e.Body.BootNotification != nil:
		return KindBootNotification, nil
	case e.Body.Heartbeat != nil:
		return KindHeartbeat, nil
	case e.Body.StatusNotification != nil:
		return KindStatusNotification, nil
	case e.Body.MeterValues != nil:
		return KindMeterValues, nil
	case e.Body.Authorize != nil:
		return KindAuthorize, nil
	case e.Body.StartTransaction != nil:
		return KindStartTransaction, nil
	case e.Body.StopTransaction != nil:
		return KindStopTransaction, nil
	case e.Body.DataTransfer != nil:
		return KindDataTransfer, nil
	case e.Body.FirmwareStatus != nil:
		return KindFirmwareStatus, nil
	case e.Body.DiagnosticsStatus != nil:
		return KindDiagnosticsStatus, nil
	}
	return "", fmt.Errorf("soap body carries no known ocpp 1.5 request")
}

// ParseEnvelope decodes an inbound SOAP frame.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid soap envelope: %w", err)
	}
	return &env, nil
}

// MarshalResponseEnvelope wraps a response payload in a SOAP envelope using
// the conventional <action>Response element name.
func MarshalResponseEnvelope(kind MessageKind, payload interface{}) ([]byte, error) {
	inner, err := xml.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s response: %w", kind, err)
	}
	element := responseElementName(kind)
	body := fmt.Sprintf("<%s>%s</%s>", element, stripRootElement(inner), element)
	out := fmt.Sprintf(
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>%s</soap:Body></soap:Envelope>`,
		body,
	)
	return []byte(xml.Header + out), nil
}

func responseElementName(kind MessageKind) string {
	// bootNotificationResponse, heartbeatResponse, ...
	name := string(kind)
	return lowerFirst(name) + "Response"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]|0x20) + s[1:]
}

// stripRootElement removes the marshaled payload's own root element, keeping
// its children for re-wrapping under the response element name.
func stripRootElement(b []byte) []byte {
	s := string(b)
	open := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '>' {
			open = i
			break
		}
	}
	if open < 0 {
		return b
	}
	// Self-closing root: no children.
	if s[open-1] == '/' {
		return nil
	}
	close := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '<' {
			close = i
			break
		}
	}
	if close <= open {
		return b
	}
	return []byte(s[open+1 : close])
}
