package ocpp

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gridwise/csms/internal/domain"
)

func header16() RequestHeader {
	return RequestHeader{
		TenantID:    "tenant-1",
		ChargeBoxID: "CB-001",
		ClientIP:    "10.0.0.5",
		OCPPVersion: domain.OCPPVersion16,
		Transport:   domain.OCPPTransportJSON,
	}
}

func header15() RequestHeader {
	h := header16()
	h.OCPPVersion = domain.OCPPVersion15
	h.Transport = domain.OCPPTransportSOAP
	return h
}

func TestNormalizeMeterValues16_FlattensAndDefaults(t *testing.T) {
	// Arrange
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	txID := 42
	req := &MeterValuesRequest16{
		ConnectorID:   1,
		TransactionID: &txID,
		MeterValue: []MeterValue16{
			{
				Timestamp: ts,
				SampledValue: []SampledValue16{
					{Value: "1500"}, // everything defaulted
					{Value: "230.1", Measurand: "Voltage", Unit: "V", Phase: "L1"},
				},
			},
		},
	}

	// Act
	out, err := NormalizeMeterValues16(header16(), req)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.Values) != 2 {
		t.Fatalf("expected 2 normalized values, got %d", len(out.Values))
	}

	first := out.Values[0]
	if first.Attribute.Context != domain.ContextSamplePeriodic {
		t.Errorf("expected default context Sample.Periodic, got %s", first.Attribute.Context)
	}
	if first.Attribute.Measurand != domain.MeasurandEnergyActiveImportRegister {
		t.Errorf("expected default measurand, got %s", first.Attribute.Measurand)
	}
	if first.Attribute.Unit != domain.UnitWh {
		t.Errorf("expected default unit Wh, got %s", first.Attribute.Unit)
	}
	if first.Value != 1500 {
		t.Errorf("expected value 1500, got %f", first.Value)
	}
	if first.TransactionID != 42 {
		t.Errorf("expected transaction id 42, got %d", first.TransactionID)
	}

	second := out.Values[1]
	if second.Attribute.Measurand != domain.MeasurandVoltage {
		t.Errorf("expected Voltage measurand, got %s", second.Attribute.Measurand)
	}
	if second.Attribute.Phase != domain.PhaseL1 {
		t.Errorf("expected phase L1, got %s", second.Attribute.Phase)
	}
	if !second.Timestamp.Equal(ts) {
		t.Errorf("expected shared timestamp %v, got %v", ts, second.Timestamp)
	}
}

func TestNormalizeMeterValues16_SignedDataKeptVerbatim(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	req := &MeterValuesRequest16{
		ConnectorID: 1,
		MeterValue: []MeterValue16{
			{
				Timestamp: ts,
				SampledValue: []SampledValue16{
					{Value: "AABBCC==", Format: "SignedData", Measurand: "SignedData", Context: "Transaction.End"},
				},
			},
		},
	}

	out, err := NormalizeMeterValues16(header16(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Values[0].RawValue != "AABBCC==" {
		t.Errorf("expected signed payload preserved, got %q", out.Values[0].RawValue)
	}
	if out.Values[0].Value != 0 {
		t.Errorf("expected no numeric parse of signed data, got %f", out.Values[0].Value)
	}
}

func TestNormalizeMeterValues16_UnknownMeasurandPreserved(t *testing.T) {
	ts := time.Now().UTC()
	req := &MeterValuesRequest16{
		ConnectorID: 1,
		MeterValue: []MeterValue16{
			{Timestamp: ts, SampledValue: []SampledValue16{{Value: "1", Measurand: "Frequency.Custom"}}},
		},
	}

	out, err := NormalizeMeterValues16(header16(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Values[0].Attribute.Measurand != "Frequency.Custom" {
		t.Errorf("expected unknown measurand preserved, got %s", out.Values[0].Attribute.Measurand)
	}
}

func TestNormalizeMeterValues16_NonDecimalRawValue(t *testing.T) {
	req := &MeterValuesRequest16{
		ConnectorID: 1,
		MeterValue: []MeterValue16{
			{Timestamp: time.Now(), SampledValue: []SampledValue16{{Value: "not-a-number"}}},
		},
	}

	if _, err := NormalizeMeterValues16(header16(), req); err == nil {
		t.Fatal("expected error for non-decimal raw value")
	}
}

func TestNormalizeMeterValues15_ArrayUnderSingleTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	req := &MeterValuesRequest15{
		ConnectorID: 2,
		Values: []MeterValue15{
			{
				Timestamp: ts,
				Values: []SampledValue15{
					{Value: "100"},
					{Value: "7000", Measurand: "Power.Active.Import", Unit: "W"},
				},
			},
		},
	}

	out, err := NormalizeMeterValues15(header15(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.Values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(out.Values))
	}
	for _, v := range out.Values {
		if !v.Timestamp.Equal(ts) {
			t.Errorf("expected all values to share timestamp %v, got %v", ts, v.Timestamp)
		}
	}
	if out.Values[1].Attribute.Measurand != domain.MeasurandPowerActiveImport {
		t.Errorf("expected Power.Active.Import, got %s", out.Values[1].Attribute.Measurand)
	}
}

func TestNormalizeStopTransaction16_VersionMismatchRejected(t *testing.T) {
	// A station registered as 1.5 sending array-framed transactionData.
	raw := json.RawMessage(`[{"timestamp":"2024-05-01T10:00:00Z","sampledValue":[{"value":"1000","context":"Transaction.End"}]}]`)
	req := &StopTransactionRequest16{
		TransactionID:   7,
		MeterStop:       1000,
		Timestamp:       time.Now(),
		TransactionData: raw,
	}

	_, err := NormalizeStopTransaction16(header15(), req)
	if err != domain.ErrWrongTransactionDataShape {
		t.Fatalf("expected ErrWrongTransactionDataShape, got %v", err)
	}

	// The same stop without transactionData is accepted.
	req.TransactionData = nil
	out, err := NormalizeStopTransaction16(header15(), req)
	if err != nil {
		t.Fatalf("expected no error without transactionData, got %v", err)
	}
	if out.TransactionID != 7 {
		t.Errorf("expected transaction id 7, got %d", out.TransactionID)
	}
}

func TestNormalizeStopTransaction16_TransactionDataFlattened(t *testing.T) {
	raw := json.RawMessage(`[{"timestamp":"2024-05-01T10:14:00Z","sampledValue":[{"value":"8400","context":"Transaction.End"}]}]`)
	req := &StopTransactionRequest16{
		TransactionID:   9,
		MeterStop:       8400,
		Timestamp:       time.Date(2024, 5, 1, 10, 14, 0, 0, time.UTC),
		TransactionData: raw,
	}

	out, err := NormalizeStopTransaction16(header16(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.TransactionData) != 1 {
		t.Fatalf("expected 1 normalized transactionData value, got %d", len(out.TransactionData))
	}
	mv := out.TransactionData[0]
	if mv.Attribute.Context != domain.ContextTransactionEnd {
		t.Errorf("expected Transaction.End context, got %s", mv.Attribute.Context)
	}
	if mv.TransactionID != 9 {
		t.Errorf("expected transaction id 9, got %d", mv.TransactionID)
	}
}

func TestIdTag_NumericWireForm(t *testing.T) {
	var req AuthorizeRequest
	if err := json.Unmarshal([]byte(`{"idTag": 123456}`), &req); err != nil {
		t.Fatalf("expected numeric idTag accepted, got %v", err)
	}
	if req.IdTag != "123456" {
		t.Errorf("expected idTag '123456', got %q", req.IdTag)
	}

	if err := json.Unmarshal([]byte(`{"idTag": "ABC-1"}`), &req); err != nil {
		t.Fatalf("expected string idTag accepted, got %v", err)
	}
	if req.IdTag != "ABC-1" {
		t.Errorf("expected idTag 'ABC-1', got %q", req.IdTag)
	}
}

func TestNormalize16_RoundTripSemanticEquality(t *testing.T) {
	// Decoding and re-encoding a 1.6 frame keeps the values; attribute
	// defaults are allowed to be filled in.
	payload := `{"connectorId":1,"transactionId":5,"meterValue":[{"timestamp":"2024-05-01T10:00:00Z","sampledValue":[{"value":"1200"}]}]}`
	var req MeterValuesRequest16
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}

	out, err := NormalizeMeterValues16(header16(), &req)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	encoded, err := json.Marshal(out.Values[0])
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded domain.MeterValue
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if decoded.Value != out.Values[0].Value ||
		!decoded.Timestamp.Equal(out.Values[0].Timestamp) ||
		decoded.Attribute != out.Values[0].Attribute {
		t.Errorf("round trip changed the value: %+v vs %+v", decoded, out.Values[0])
	}
}

func TestParseEnvelope_BootNotification(t *testing.T) {
	raw := `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Header>
    <chargeBoxIdentity>CB-SOAP-1</chargeBoxIdentity>
    <Action>/BootNotification</Action>
    <From><Address>http://192.168.1.50:8080/</Address></From>
  </soap:Header>
  <soap:Body>
    <bootNotificationRequest>
      <chargePointVendor>VendorX</chargePointVendor>
      <chargePointModel>ModelY</chargePointModel>
      <chargePointSerialNumber>SN-1</chargePointSerialNumber>
      <firmwareVersion>3.1.4</firmwareVersion>
    </bootNotificationRequest>
  </soap:Body>
</soap:Envelope>`

	env, err := ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	kind, err := env.Kind()
	if err != nil {
		t.Fatalf("kind: %v", err)
	}
	if kind != KindBootNotification {
		t.Errorf("expected BootNotification, got %s", kind)
	}
	if env.Header.ChargeBoxIdentity != "CB-SOAP-1" {
		t.Errorf("expected charge box identity, got %q", env.Header.ChargeBoxIdentity)
	}
	if env.Header.From.Address != "http://192.168.1.50:8080/" {
		t.Errorf("expected From address seeded, got %q", env.Header.From.Address)
	}
	if env.Body.BootNotification.ChargePointVendor != "VendorX" {
		t.Errorf("expected vendor decoded, got %q", env.Body.BootNotification.ChargePointVendor)
	}
}

func TestMarshalResponseEnvelope(t *testing.T) {
	resp := BootNotificationResponse{
		Status:      domain.RegistrationStatusAccepted,
		CurrentTime: "2024-05-01T10:00:00Z",
		Interval:    300,
	}

	out, err := MarshalResponseEnvelope(KindBootNotification, resp)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "<bootNotificationResponse>") {
		t.Errorf("expected bootNotificationResponse element, got %s", s)
	}
	if !strings.Contains(s, "<status>Accepted</status>") {
		t.Errorf("expected Accepted status, got %s", s)
	}
	if !strings.Contains(s, "soap:Envelope") {
		t.Errorf("expected soap envelope, got %s", s)
	}
}
