package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ocpp"
)

func energySample(ts time.Time, wh float64) domain.MeterValue {
	return domain.MeterValue{
		TenantID:    "acme",
		ChargeBoxID: "CS-001",
		ConnectorID: 1,
		Timestamp:   ts,
		Attribute:   domain.DefaultMeterValueAttribute(),
		Value:       wh,
	}
}

func (env *testEnv) mvRequest(values ...domain.MeterValue) *ocpp.MeterValuesRequest {
	return &ocpp.MeterValuesRequest{ConnectorID: 1, TransactionID: 42, Values: values}
}

func TestProcessMeterValues_BuildsIntervals(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	var saved []*domain.Consumption
	env.consumptions.SaveFunc = func(ctx context.Context, c *domain.Consumption) error {
		saved = append(saved, c)
		return nil
	}
	persisted := 0
	env.meterValues.SaveFunc = func(ctx context.Context, mv *domain.MeterValue) error {
		persisted++
		if mv.TransactionID != 42 {
			t.Errorf("persisted sample carries transaction %d, want 42", mv.TransactionID)
		}
		return nil
	}

	// 600 Wh over 60 seconds.
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(energySample(t0.Add(60*time.Second), 1600))); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 consumption, got %d", len(saved))
	}
	cons := saved[0]
	if cons.ConsumptionWh != 600 {
		t.Errorf("interval = %.0f Wh, want 600", cons.ConsumptionWh)
	}
	if cons.CumulatedConsumptionWh != 600 {
		t.Errorf("cumulated = %.0f Wh, want 600", cons.CumulatedConsumptionWh)
	}
	if cons.InstantWatts != 36000 {
		t.Errorf("instant power = %.0f W, want 36000", cons.InstantWatts)
	}
	if tx.CurrentTotalConsumptionWh != 600 {
		t.Errorf("running total = %.0f Wh, want 600", tx.CurrentTotalConsumptionWh)
	}
	if tx.NumberOfMeterValues != 1 {
		t.Errorf("meter value count = %d, want 1", tx.NumberOfMeterValues)
	}
	if persisted != 1 {
		t.Errorf("persisted = %d samples, want 1", persisted)
	}

	// The connector mirrors the live totals.
	if env.station.GetConnector(1).CurrentTotalConsumptionWh != 600 {
		t.Errorf("connector mirror = %.0f Wh, want 600", env.station.GetConnector(1).CurrentTotalConsumptionWh)
	}

	// A replayed sample with the same timestamp builds no second interval.
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(energySample(t0.Add(60*time.Second), 1600))); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(saved) != 1 {
		t.Errorf("replay produced %d consumptions, want 1", len(saved))
	}
	if tx.CurrentTotalConsumptionWh != 600 {
		t.Errorf("replay moved the running total to %.0f", tx.CurrentTotalConsumptionWh)
	}
}

func TestProcessMeterValues_ZeroIntervalAccumulatesInactivity(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()

	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		energySample(t0.Add(60*time.Second), 1600),
		energySample(t0.Add(120*time.Second), 1600),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.CurrentTotalInactivitySecs != 60 {
		t.Errorf("inactivity = %d, want 60", tx.CurrentTotalInactivitySecs)
	}
	if tx.CurrentTotalConsumptionWh != 600 {
		t.Errorf("running total = %.0f, want 600", tx.CurrentTotalConsumptionWh)
	}
}

func TestProcessMeterValues_RolloverClampsToZero(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	var saved []*domain.Consumption
	env.consumptions.SaveFunc = func(ctx context.Context, c *domain.Consumption) error {
		saved = append(saved, c)
		return nil
	}

	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		energySample(t0.Add(60*time.Second), 1600),
		energySample(t0.Add(120*time.Second), 800),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 consumptions, got %d", len(saved))
	}
	if saved[1].ConsumptionWh != 0 {
		t.Errorf("rollover interval = %.0f Wh, want 0", saved[1].ConsumptionWh)
	}
	if tx.CurrentTotalConsumptionWh != 0 {
		t.Errorf("running total after rollover = %.0f, want 0 clamped", tx.CurrentTotalConsumptionWh)
	}
}

func TestProcessMeterValues_WithoutOpenTransaction(t *testing.T) {
	env := newTestEnv()
	persisted := 0
	env.meterValues.SaveFunc = func(ctx context.Context, mv *domain.MeterValue) error {
		persisted++
		return nil
	}

	req := &ocpp.MeterValuesRequest{ConnectorID: 1, Values: []domain.MeterValue{
		energySample(t0, 1600),
		energySample(t0.Add(60*time.Second), 1700),
	}}
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), req); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if persisted != 2 {
		t.Errorf("unattributed samples persisted = %d, want 2", persisted)
	}
}

func TestProcessMeterValues_EndOfChargeDetection(t *testing.T) {
	env := newTestEnv()
	env.openTransaction()

	values := []domain.MeterValue{
		energySample(t0.Add(60*time.Second), 1600),
		energySample(t0.Add(120*time.Second), 1600),
		energySample(t0.Add(180*time.Second), 1600),
		energySample(t0.Add(240*time.Second), 1600),
	}
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(values...)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(env.notifications.EndOfCharge) != 1 {
		t.Fatalf("end of charge notifications = %d, want 1 after 3 zero intervals", len(env.notifications.EndOfCharge))
	}

	// Further zero intervals must not notify again.
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(energySample(t0.Add(300*time.Second), 1600))); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(env.notifications.EndOfCharge) != 1 {
		t.Errorf("end of charge re-notified: %d", len(env.notifications.EndOfCharge))
	}
}

func TestTrackEndOfCharge_ThrottledProfileDoesNotCount(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	tx.NumberOfMeterValues = 3
	tx.CurrentTotalConsumptionWh = 500

	// 10 A on a 3-phase session is below the 6 A/phase floor: the site is
	// throttling, the battery is not full.
	throttled := &domain.Consumption{ConsumptionWh: 0, LimitSource: "profile", LimitAmps: 10}
	for i := 0; i < 5; i++ {
		env.service.trackEndOfCharge(context.Background(), env.tenant, tx, throttled)
	}
	if len(env.notifications.EndOfCharge) != 0 {
		t.Errorf("throttled zero intervals notified end of charge: %d", len(env.notifications.EndOfCharge))
	}
}

func TestProcessMeterValues_StateOfCharge(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	// A session that has actually delivered energy.
	tx.NumberOfMeterValues = 2
	tx.CurrentTotalConsumptionWh = 500

	soc := func(ts time.Time, value float64, ctx domain.MeterValueContext) domain.MeterValue {
		mv := energySample(ts, value)
		mv.Attribute.Measurand = domain.MeasurandStateOfCharge
		mv.Attribute.Unit = domain.UnitPercent
		mv.Attribute.Context = ctx
		return mv
	}

	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		soc(t0, 20, domain.ContextTransactionBegin),
		soc(t0.Add(60*time.Second), 87, domain.ContextSamplePeriodic),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.StateOfCharge != 20 {
		t.Errorf("begin SoC = %d, want 20", tx.StateOfCharge)
	}
	if tx.CurrentStateOfCharge != 87 {
		t.Errorf("current SoC = %d, want 87", tx.CurrentStateOfCharge)
	}
	if len(env.notifications.OptimalChargeReached) != 1 {
		t.Errorf("optimal charge notifications = %d, want 1 at 87%%", len(env.notifications.OptimalChargeReached))
	}

	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		soc(t0.Add(120*time.Second), 100, domain.ContextSamplePeriodic),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(env.notifications.EndOfCharge) != 1 {
		t.Errorf("end of charge notifications = %d, want 1 at 100%%", len(env.notifications.EndOfCharge))
	}
}

func TestProcessMeterValues_NoEnergyNoEndOfCharge(t *testing.T) {
	env := newTestEnv()
	env.openTransaction()

	// The car never draws: the register stays at meterStart, then the BMS
	// reports a bogus 100% SoC.
	soc := energySample(t0.Add(300*time.Second), 100)
	soc.Attribute.Measurand = domain.MeasurandStateOfCharge
	soc.Attribute.Unit = domain.UnitPercent
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		energySample(t0.Add(60*time.Second), 1000),
		energySample(t0.Add(120*time.Second), 1000),
		energySample(t0.Add(180*time.Second), 1000),
		energySample(t0.Add(240*time.Second), 1000),
		soc,
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(env.notifications.EndOfCharge) != 0 {
		t.Errorf("end of charge fired for a session that never delivered energy: %d", len(env.notifications.EndOfCharge))
	}
}

func TestProcessMeterValues_LateSamplesAfterEndIgnored(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	var saved []*domain.Consumption
	env.consumptions.SaveFunc = func(ctx context.Context, c *domain.Consumption) error {
		saved = append(saved, c)
		return nil
	}

	endSample := energySample(t0.Add(120*time.Second), 1700)
	endSample.Attribute.Context = domain.ContextTransactionEnd
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		energySample(t0.Add(60*time.Second), 1600),
		endSample,
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(saved) != 2 || tx.CurrentTotalConsumptionWh != 700 {
		t.Fatalf("consumptions = %d, total = %.0f, want 2 and 700", len(saved), tx.CurrentTotalConsumptionWh)
	}

	// A straggler periodic sample after Transaction.End is audit-only.
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(energySample(t0.Add(180*time.Second), 1800))); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if len(saved) != 2 {
		t.Errorf("late sample built a consumption: %d", len(saved))
	}
	if tx.CurrentTotalConsumptionWh != 700 {
		t.Errorf("late sample moved the running total to %.0f", tx.CurrentTotalConsumptionWh)
	}
	if tx.NumberOfMeterValues != 2 {
		t.Errorf("late sample counted as a meter value: %d", tx.NumberOfMeterValues)
	}
}

func TestProcessMeterValues_PhaseDetection(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()

	amps := func(phase domain.MeterValuePhase, value float64) domain.MeterValue {
		mv := energySample(t0.Add(60*time.Second), value)
		mv.Attribute.Measurand = domain.MeasurandCurrentImport
		mv.Attribute.Unit = domain.UnitAmp
		mv.Attribute.Phase = phase
		return mv
	}

	// A single phase car on a three phase connector draws on L1 only.
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		amps(domain.PhaseL1, 16),
		amps(domain.PhaseL2, 0),
		amps(domain.PhaseL3, 0),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.PhasesUsed != 1 {
		t.Errorf("phases used = %d, want 1", tx.PhasesUsed)
	}
	if !tx.PhasesDetected {
		t.Error("PhasesDetected should be set")
	}
	rescheduled := len(env.scheduler.Scheduled)
	if rescheduled == 0 {
		t.Fatal("a narrowed phase count should reschedule smart charging")
	}

	// Later samples must not re-detect.
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(amps(domain.PhaseL1, 16))); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.PhasesUsed != 1 || len(env.scheduler.Scheduled) != rescheduled {
		t.Error("phase detection ran twice")
	}
}

func TestProcessMeterValues_SignedData(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()

	mv := energySample(t0.Add(60*time.Second), 0)
	mv.Attribute.Format = domain.FormatSignedData
	mv.RawValue = "OCMF|{...}"
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(mv)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.SignedData != "OCMF|{...}" {
		t.Errorf("signed data = %q", tx.SignedData)
	}
	if tx.NumberOfMeterValues != 0 {
		t.Errorf("signed sample must not count as an energy reading, got %d", tx.NumberOfMeterValues)
	}
}

func TestProcessMeterValues_SignedDataEndContext(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()

	signed := func(ts time.Time, ctx domain.MeterValueContext, raw string) domain.MeterValue {
		mv := energySample(ts, 0)
		mv.Attribute.Format = domain.FormatSignedData
		mv.Attribute.Context = ctx
		mv.RawValue = raw
		return mv
	}

	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		signed(t0, domain.ContextTransactionBegin, "OCMF|begin"),
		signed(t0.Add(300*time.Second), domain.ContextTransactionEnd, "OCMF|end"),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.SignedData != "OCMF|begin" {
		t.Errorf("begin signed data = %q, overwritten by the end reading", tx.SignedData)
	}
	if tx.EndSignedData != "OCMF|end" {
		t.Errorf("end signed data = %q", tx.EndSignedData)
	}

	// The stop block carries the end reading.
	stopTime := t0.Add(10 * time.Minute)
	env.clock.Time = stopTime
	if _, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 42,
		MeterStop:     2000,
		Timestamp:     stopTime,
	}); err != nil {
		t.Fatalf("ProcessStopTransaction failed: %v", err)
	}
	if tx.Stop.SignedData != "OCMF|end" {
		t.Errorf("stop signed data = %q, want the end reading", tx.Stop.SignedData)
	}
}

func TestProcessMeterValues_PhasedPower(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()

	power := func(phase domain.MeterValuePhase, watts float64) domain.MeterValue {
		mv := energySample(t0.Add(60*time.Second), watts)
		mv.Attribute.Measurand = domain.MeasurandPowerActiveImport
		mv.Attribute.Unit = domain.UnitW
		mv.Attribute.Phase = phase
		return mv
	}

	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(
		power(domain.PhaseL1, 7000),
		power(domain.PhaseL2, 7000),
		power(domain.PhaseL3, 7000),
	)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.CurrentInstantWattsL1 != 7000 || tx.CurrentInstantWattsL2 != 7000 || tx.CurrentInstantWattsL3 != 7000 {
		t.Errorf("phase watts = %v/%v/%v, want 7000 each",
			tx.CurrentInstantWattsL1, tx.CurrentInstantWattsL2, tx.CurrentInstantWattsL3)
	}
	if tx.CurrentInstantWatts != 21000 {
		t.Errorf("total watts = %.0f, want 21000", tx.CurrentInstantWatts)
	}
}

func TestProcessMeterValues_DCStation(t *testing.T) {
	env := newTestEnv()
	env.station.CurrentType = domain.CurrentTypeDC
	tx := env.openTransaction()

	mv := energySample(t0.Add(60*time.Second), 45000)
	mv.Attribute.Measurand = domain.MeasurandPowerActiveImport
	mv.Attribute.Unit = domain.UnitW
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(mv)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.CurrentInstantWattsDC != 45000 {
		t.Errorf("DC watts = %.0f, want 45000", tx.CurrentInstantWattsDC)
	}
	if tx.CurrentInstantWatts != 45000 {
		t.Errorf("total watts = %.0f, want 45000", tx.CurrentInstantWatts)
	}
}

func TestProcessMeterValues_TransactionEndZeroesInstantReadings(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	tx.CurrentInstantAmps = 16
	tx.CurrentInstantWattsL1 = 7000

	mv := energySample(t0.Add(300*time.Second), 0)
	mv.Attribute.Measurand = domain.MeasurandPowerActiveImport
	mv.Attribute.Unit = domain.UnitW
	mv.Attribute.Context = domain.ContextTransactionEnd
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(mv)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if !tx.TransactionEndReceived {
		t.Error("TransactionEndReceived should be set")
	}
	if tx.CurrentInstantAmps != 0 || tx.CurrentInstantWattsL1 != 0 {
		t.Errorf("instant readings not zeroed: amps=%.0f l1=%.0f", tx.CurrentInstantAmps, tx.CurrentInstantWattsL1)
	}
}

func TestProcessMeterValues_KWhScaling(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()

	mv := energySample(t0.Add(60*time.Second), 1.6)
	mv.Attribute.Unit = domain.UnitKWh
	if _, err := env.service.ProcessMeterValues(context.Background(), env.header(), env.mvRequest(mv)); err != nil {
		t.Fatalf("ProcessMeterValues failed: %v", err)
	}
	if tx.CurrentTotalConsumptionWh != 600 {
		t.Errorf("running total = %.0f Wh, want 600 from a 1.6 kWh register", tx.CurrentTotalConsumptionWh)
	}
}
