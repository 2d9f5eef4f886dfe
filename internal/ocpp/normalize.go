package ocpp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridwise/csms/internal/domain"
)

// --- OCPP 1.6 JSON wire shapes ---

type SampledValue16 struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type MeterValue16 struct {
	Timestamp    time.Time        `json:"timestamp"`
	SampledValue []SampledValue16 `json:"sampledValue"`
}

type MeterValuesRequest16 struct {
	ConnectorID   int            `json:"connectorId"`
	TransactionID *int           `json:"transactionId,omitempty"`
	MeterValue    []MeterValue16 `json:"meterValue"`
}

type StopTransactionRequest16 struct {
	TransactionID   int             `json:"transactionId"`
	IdTag           IdTag           `json:"idTag,omitempty"`
	MeterStop       int             `json:"meterStop"`
	Timestamp       time.Time       `json:"timestamp"`
	Reason          string          `json:"reason,omitempty"`
	TransactionData json.RawMessage `json:"transactionData,omitempty"`
}

// --- OCPP 1.5 wire shapes (SOAP; attributes plus character data) ---

type SampledValue15 struct {
	Context   string `xml:"context,attr,omitempty"`
	Format    string `xml:"format,attr,omitempty"`
	Measurand string `xml:"measurand,attr,omitempty"`
	Phase     string `xml:"phase,attr,omitempty"`
	Location  string `xml:"location,attr,omitempty"`
	Unit      string `xml:"unit,attr,omitempty"`
	Value     string `xml:",chardata"`
}

type MeterValue15 struct {
	Timestamp time.Time        `xml:"timestamp"`
	Values    []SampledValue15 `xml:"value"`
}

type MeterValuesRequest15 struct {
	ConnectorID   int            `xml:"connectorId"`
	TransactionID *int           `xml:"transactionId,omitempty"`
	Values        []MeterValue15 `xml:"values"`
}

type TransactionData15 struct {
	Values []MeterValue15 `xml:"values"`
}

type StopTransactionRequest15 struct {
	TransactionID   int                `xml:"transactionId"`
	IdTag           string             `xml:"idTag,omitempty"`
	MeterStop       int                `xml:"meterStop"`
	Timestamp       time.Time          `xml:"timestamp"`
	TransactionData []TransactionData15 `xml:"transactionData,omitempty"`
}

// attribute assembles a normalized attribute block, filling OCPP defaults for
// anything the station omitted. Unknown strings pass through unchanged.
func attribute(context, format, measurand, phase, location, unit string) domain.MeterValueAttribute {
	attr := domain.DefaultMeterValueAttribute()
	if context != "" {
		attr.Context = domain.MeterValueContext(context)
	}
	if format != "" {
		attr.Format = domain.MeterValueFormat(format)
	}
	if measurand != "" {
		attr.Measurand = domain.Measurand(measurand)
	}
	if phase != "" {
		attr.Phase = domain.MeterValuePhase(phase)
	}
	if location != "" {
		attr.Location = domain.MeterValueLocation(location)
	}
	if unit != "" {
		attr.Unit = domain.MeterValueUnit(unit)
	}
	return attr
}

func normalizeSample(header RequestHeader, connectorID, transactionID int, ts time.Time, attr domain.MeterValueAttribute, value string) (domain.MeterValue, error) {
	mv := domain.MeterValue{
		TenantID:      header.TenantID,
		ChargeBoxID:   header.ChargeBoxID,
		ConnectorID:   connectorID,
		TransactionID: transactionID,
		Timestamp:     ts,
		Attribute:     attr,
	}
	if attr.Format == domain.FormatSignedData {
		// Signed payloads stay opaque.
		mv.RawValue = value
		return mv, nil
	}
	parsed, err := ParseDecimal(value)
	if err != nil {
		return mv, fmt.Errorf("non-decimal sampled value %q: %w", value, err)
	}
	mv.Value = parsed
	return mv, nil
}

// NormalizeMeterValues16 flattens a 1.6 meterValue[].sampledValue[] payload.
// Each sampled value becomes one normalized entry carrying its own attribute
// block; entries under one timestamp share it.
func NormalizeMeterValues16(header RequestHeader, req *MeterValuesRequest16) (*MeterValuesRequest, error) {
	txID := 0
	if req.TransactionID != nil {
		txID = *req.TransactionID
	}
	out := &MeterValuesRequest{ConnectorID: req.ConnectorID, TransactionID: txID}
	for _, entry := range req.MeterValue {
		for _, sv := range entry.SampledValue {
			attr := attribute(sv.Context, sv.Format, sv.Measurand, sv.Phase, sv.Location, sv.Unit)
			mv, err := normalizeSample(header, req.ConnectorID, txID, entry.Timestamp, attr, sv.Value)
			if err != nil {
				return nil, err
			}
			out.Values = append(out.Values, mv)
		}
	}
	return out, nil
}

// NormalizeMeterValues15 flattens a 1.5 values[].value[] payload identically.
func NormalizeMeterValues15(header RequestHeader, req *MeterValuesRequest15) (*MeterValuesRequest, error) {
	txID := 0
	if req.TransactionID != nil {
		txID = *req.TransactionID
	}
	out := &MeterValuesRequest{ConnectorID: req.ConnectorID, TransactionID: txID}
	for _, entry := range req.Values {
		for _, sv := range entry.Values {
			attr := attribute(sv.Context, sv.Format, sv.Measurand, sv.Phase, sv.Location, sv.Unit)
			mv, err := normalizeSample(header, req.ConnectorID, txID, entry.Timestamp, attr, sv.Value)
			if err != nil {
				return nil, err
			}
			out.Values = append(out.Values, mv)
		}
	}
	return out, nil
}

// NormalizeStopTransaction16 converts a 1.6 stop payload, validating that any
// transactionData matches the 1.6 shape for stations registered as 1.6. A 1.5
// station sending 1.6-framed transactionData is rejected so the station can
// retry without it.
func NormalizeStopTransaction16(header RequestHeader, req *StopTransactionRequest16) (*StopTransactionRequest, error) {
	out := &StopTransactionRequest{
		TransactionID: req.TransactionID,
		IdTag:         req.IdTag,
		MeterStop:     req.MeterStop,
		Timestamp:     req.Timestamp,
		Reason:        req.Reason,
	}
	if len(req.TransactionData) == 0 || string(req.TransactionData) == "null" {
		return out, nil
	}
	switch header.OCPPVersion {
	case domain.OCPPVersion16:
		var entries []MeterValue16
		if err := json.Unmarshal(req.TransactionData, &entries); err != nil {
			return nil, domain.ErrWrongTransactionDataShape
		}
		normalized, err := NormalizeMeterValues16(header, &MeterValuesRequest16{
			TransactionID: &req.TransactionID,
			MeterValue:    entries,
		})
		if err != nil {
			return nil, err
		}
		out.TransactionData = normalized.Values
	case domain.OCPPVersion15:
		// The station is registered as 1.5; array-framed transactionData is
		// the 1.6 shape and must be refused.
		return nil, domain.ErrWrongTransactionDataShape
	default:
		return nil, fmt.Errorf("unsupported ocpp version %q", header.OCPPVersion)
	}
	return out, nil
}

// NormalizeStopTransaction15 converts a 1.5 stop payload.
func NormalizeStopTransaction15(header RequestHeader, req *StopTransactionRequest15) (*StopTransactionRequest, error) {
	out := &StopTransactionRequest{
		TransactionID: req.TransactionID,
		IdTag:         IdTag(req.IdTag),
		MeterStop:     req.MeterStop,
		Timestamp:     req.Timestamp,
	}
	if len(req.TransactionData) == 0 {
		return out, nil
	}
	if header.OCPPVersion != domain.OCPPVersion15 {
		return nil, domain.ErrWrongTransactionDataShape
	}
	for _, td := range req.TransactionData {
		normalized, err := NormalizeMeterValues15(header, &MeterValuesRequest15{
			TransactionID: &req.TransactionID,
			Values:        td.Values,
		})
		if err != nil {
			return nil, err
		}
		out.TransactionData = append(out.TransactionData, normalized.Values...)
	}
	return out, nil
}
