package transaction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ocpp"
)

// ProcessMeterValues folds a batch of normalized samples into the open
// transaction. Samples are always persisted, even when no transaction can be
// attributed; session state only moves for an open transaction.
func (s *Service) ProcessMeterValues(ctx context.Context, header ocpp.RequestHeader, req *ocpp.MeterValuesRequest) (*ocpp.MeterValuesResponse, error) {
	tenant, station, err := s.resolve(ctx, header)
	if err != nil {
		return nil, err
	}
	connector := station.GetConnector(req.ConnectorID)

	txID := req.TransactionID
	if txID == 0 && connector != nil {
		txID = connector.CurrentTransactionID
	}

	var tx *domain.Transaction
	if txID != 0 {
		tx, err = s.transactions.FindByID(ctx, tenant.ID, txID)
		if err != nil {
			return nil, fmt.Errorf("load transaction %d: %w", txID, err)
		}
	}
	if tx == nil || tx.IsStopped() {
		s.log.Warn("meter values without open transaction",
			zap.String("tenant", tenant.ID),
			zap.String("station", station.ID),
			zap.Int("connector", req.ConnectorID),
			zap.Int("transaction", txID),
			zap.Int("values", len(req.Values)))
		for i := range req.Values {
			s.persistMeterValue(ctx, &req.Values[i])
		}
		return &ocpp.MeterValuesResponse{}, nil
	}

	for i := range req.Values {
		s.processMeterValue(ctx, tenant, station, tx, &req.Values[i])
	}
	s.detectPhases(tenant, station, tx)

	if err := s.transactions.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("save transaction %d: %w", tx.ID, err)
	}
	if connector != nil && connector.CurrentTransactionID == tx.ID {
		s.mirrorToConnector(tx, connector)
		station.LastSeen = s.clock.Now()
		if err := s.stations.Save(ctx, station); err != nil {
			s.log.Warn("station mirror save failed",
				zap.String("station", station.ID),
				zap.Error(err))
		}
	}

	return &ocpp.MeterValuesResponse{}, nil
}

func (s *Service) persistMeterValue(ctx context.Context, mv *domain.MeterValue) {
	if err := s.meterValues.Save(ctx, mv); err != nil {
		s.log.Warn("meter value save failed",
			zap.String("station", mv.ChargeBoxID),
			zap.Int("connector", mv.ConnectorID),
			zap.Error(err))
	}
}

// processMeterValue persists one sample and applies it to the session. Clock
// samples are stored for audit but never move session state.
func (s *Service) processMeterValue(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, tx *domain.Transaction, mv *domain.MeterValue) {
	mv.TransactionID = tx.ID
	s.persistMeterValue(ctx, mv)

	// The first Transaction.End sample marks the session as over: the instant
	// readings are zeroed once, then the End samples themselves fill in the
	// final figures.
	if mv.Attribute.Context == domain.ContextTransactionEnd && !tx.TransactionEndReceived {
		tx.TransactionEndReceived = true
		s.zeroInstantReadings(tx)
	}
	if mv.Attribute.Context == domain.ContextSampleClock {
		return
	}

	if mv.Attribute.Format == domain.FormatSignedData {
		if mv.Attribute.Context == domain.ContextTransactionEnd {
			tx.EndSignedData = mv.RawValue
		} else {
			tx.SignedData = mv.RawValue
		}
		return
	}

	switch {
	case mv.IsEnergyRegister():
		s.applyEnergySample(ctx, tenant, station, tx, mv)
	case mv.Attribute.Measurand == domain.MeasurandPowerActiveImport:
		s.applyPhased(mv, station,
			&tx.CurrentInstantWatts,
			&tx.CurrentInstantWattsL1, &tx.CurrentInstantWattsL2, &tx.CurrentInstantWattsL3,
			&tx.CurrentInstantWattsDC, mv.WattsValue())
	case mv.Attribute.Measurand == domain.MeasurandCurrentImport:
		s.applyPhased(mv, station,
			&tx.CurrentInstantAmps,
			&tx.CurrentInstantAmpsL1, &tx.CurrentInstantAmpsL2, &tx.CurrentInstantAmpsL3,
			&tx.CurrentInstantAmpsDC, mv.Value)
	case mv.Attribute.Measurand == domain.MeasurandVoltage:
		s.applyPhased(mv, station,
			&tx.CurrentInstantVolts,
			&tx.CurrentInstantVoltsL1, &tx.CurrentInstantVoltsL2, &tx.CurrentInstantVoltsL3,
			&tx.CurrentInstantVoltsDC, mv.Value)
	case mv.Attribute.Measurand == domain.MeasurandStateOfCharge:
		s.applyStateOfCharge(ctx, tenant, tx, mv)
	default:
		// Persisted above; no session effect for measurands the engine does
		// not interpret.
	}
}

// applyEnergySample turns a cumulative register reading into a consumption
// interval. The Transaction.Begin reading only confirms meterStart and builds
// no interval.
func (s *Service) applyEnergySample(ctx context.Context, tenant *domain.Tenant, station *domain.ChargingStation, tx *domain.Transaction, mv *domain.MeterValue) {
	// Once Transaction.End has been seen, only the End readings themselves may
	// still move the session; late periodic samples are audit-only.
	if tx.TransactionEndReceived && mv.Attribute.Context != domain.ContextTransactionEnd {
		return
	}
	tx.NumberOfMeterValues++
	if mv.Attribute.Context == domain.ContextTransactionBegin {
		return
	}

	cons := s.buildInterval(tx, station, mv.Timestamp, mv.WattsValue())
	if cons == nil {
		return
	}
	s.effects.Price(ctx, tenant, domain.TransactionActionUpdate, tx, cons)
	tx.CurrentCumulatedPrice = cons.CumulatedPrice
	if err := s.consumptions.Save(ctx, cons); err != nil {
		s.log.Warn("consumption save failed", zap.Int("transaction", tx.ID), zap.Error(err))
	}
	s.trackEndOfCharge(ctx, tenant, tx, cons)
}

// buildInterval derives the consumption interval between the last anchor and
// this reading. Returns nil for non-advancing timestamps, which covers both
// replayed samples and stale clocks; meter rollovers clamp to zero instead of
// producing negative energy.
func (s *Service) buildInterval(tx *domain.Transaction, station *domain.ChargingStation, ts time.Time, cumulativeWh float64) *domain.Consumption {
	anchorTime, anchorWh := tx.LastConsumptionAnchor()
	secs := ts.Sub(anchorTime).Seconds()
	if secs <= 0 {
		return nil
	}
	deltaWh := cumulativeWh - anchorWh
	if deltaWh < 0 {
		deltaWh = 0
	}
	totalWh := cumulativeWh - float64(tx.MeterStart)
	if totalWh < 0 {
		totalWh = 0
	}

	cons := s.newConsumption(tx, anchorTime, ts, deltaWh, totalWh)
	cons.InstantWatts = deltaWh * 3600 / secs
	cons.InstantWattsL1 = tx.CurrentInstantWattsL1
	cons.InstantWattsL2 = tx.CurrentInstantWattsL2
	cons.InstantWattsL3 = tx.CurrentInstantWattsL3
	cons.InstantWattsDC = tx.CurrentInstantWattsDC
	cons.InstantAmps = tx.CurrentInstantAmps
	cons.InstantAmpsL1 = tx.CurrentInstantAmpsL1
	cons.InstantAmpsL2 = tx.CurrentInstantAmpsL2
	cons.InstantAmpsL3 = tx.CurrentInstantAmpsL3
	cons.InstantAmpsDC = tx.CurrentInstantAmpsDC
	cons.InstantVolts = tx.CurrentInstantVolts
	cons.InstantVoltsL1 = tx.CurrentInstantVoltsL1
	cons.InstantVoltsL2 = tx.CurrentInstantVoltsL2
	cons.InstantVoltsL3 = tx.CurrentInstantVoltsL3
	cons.InstantVoltsDC = tx.CurrentInstantVoltsDC

	tx.CurrentTotalConsumptionWh = totalWh
	tx.CurrentInstantWatts = cons.InstantWatts
	if deltaWh == 0 {
		tx.CurrentTotalInactivitySecs += int(secs)
		if s.classifier != nil {
			tx.CurrentInactivityStatus = s.classifier.Classify(station, tx.ConnectorID, tx.CurrentTotalInactivitySecs)
		}
	}
	cons.TotalInactivitySecs = tx.CurrentTotalInactivitySecs
	cons.TotalDurationSecs = int(ts.Sub(tx.Timestamp).Seconds())
	cons.StateOfCharge = tx.CurrentStateOfCharge

	tx.AdvanceConsumptionAnchor(ts, cumulativeWh)
	return cons
}

func (s *Service) newConsumption(tx *domain.Transaction, start, end time.Time, deltaWh, cumulatedWh float64) *domain.Consumption {
	return &domain.Consumption{
		TenantID:               tx.TenantID,
		TransactionID:          tx.ID,
		ChargeBoxID:            tx.ChargeBoxID,
		ConnectorID:            tx.ConnectorID,
		SiteAreaID:             tx.SiteAreaID,
		SiteID:                 tx.SiteID,
		UserID:                 tx.UserID,
		StartedAt:              start,
		EndedAt:                end,
		ConsumptionWh:          deltaWh,
		CumulatedConsumptionWh: cumulatedWh,
		CreatedAt:              s.clock.Now(),
	}
}

// applyPhased routes a phased sample into the right slot. DC stations report
// a single unphased figure that lands on both the DC slot and the total.
func (s *Service) applyPhased(mv *domain.MeterValue, station *domain.ChargingStation, total, l1, l2, l3, dc *float64, value float64) {
	switch mv.Attribute.Phase {
	case domain.PhaseL1, domain.PhaseL1N:
		*l1 = value
	case domain.PhaseL2, domain.PhaseL2N:
		*l2 = value
	case domain.PhaseL3, domain.PhaseL3N:
		*l3 = value
	case "":
		if station.CurrentType == domain.CurrentTypeDC {
			*dc = value
		}
		*total = value
		return
	default:
		return
	}
	*total = *l1 + *l2 + *l3
}

func (s *Service) applyStateOfCharge(ctx context.Context, tenant *domain.Tenant, tx *domain.Transaction, mv *domain.MeterValue) {
	soc := int(mv.Value)
	if soc < 0 || soc > 100 {
		return
	}
	if mv.Attribute.Context == domain.ContextTransactionBegin {
		tx.StateOfCharge = soc
	}
	tx.CurrentStateOfCharge = soc

	if soc >= 100 {
		if hasChargedEnergy(tx) {
			s.effects.NotifyEndOfCharge(ctx, tenant, tx)
		}
		return
	}
	if s.cfg.Notifications.BeforeEndOfChargeEnabled && soc >= s.cfg.Notifications.BeforeEndOfChargePercent {
		s.effects.NotifyOptimalChargeReached(ctx, tenant, tx)
	}
}

// zeroInstantReadings clears the instant fields so stale figures from the
// charging phase do not linger into the final Transaction.End snapshot.
func (s *Service) zeroInstantReadings(tx *domain.Transaction) {
	tx.CurrentInstantWatts = 0
	tx.CurrentInstantWattsL1 = 0
	tx.CurrentInstantWattsL2 = 0
	tx.CurrentInstantWattsL3 = 0
	tx.CurrentInstantWattsDC = 0
	tx.CurrentInstantAmps = 0
	tx.CurrentInstantAmpsL1 = 0
	tx.CurrentInstantAmpsL2 = 0
	tx.CurrentInstantAmpsL3 = 0
	tx.CurrentInstantAmpsDC = 0
	tx.CurrentInstantVolts = 0
	tx.CurrentInstantVoltsL1 = 0
	tx.CurrentInstantVoltsL2 = 0
	tx.CurrentInstantVoltsL3 = 0
	tx.CurrentInstantVoltsDC = 0
}

// trackEndOfCharge watches for consecutive zero-consumption intervals. A
// session throttled to (near) zero by a charging profile does not count; the
// car is not done, the site is.
func (s *Service) trackEndOfCharge(ctx context.Context, tenant *domain.Tenant, tx *domain.Transaction, cons *domain.Consumption) {
	if !s.cfg.Notifications.EndOfChargeEnabled {
		return
	}
	if !hasChargedEnergy(tx) {
		return
	}
	key := zeroIntervalKey(tx)
	if cons.ConsumptionWh > 0 {
		s.zeroIntervals.Delete(key)
		return
	}
	phases := tx.PhasesUsed
	if phases <= 0 {
		phases = 1
	}
	if cons.LimitSource != "" && cons.LimitAmps > 0 &&
		cons.LimitAmps < s.cfg.Notifications.EndOfChargeMinAmpsPerPhase*float64(phases) {
		s.zeroIntervals.Delete(key)
		return
	}

	count := 1
	if v, ok := s.zeroIntervals.Load(key); ok {
		count = v.(int) + 1
	}
	s.zeroIntervals.Store(key, count)
	if count >= endOfChargeZeroIntervals {
		s.effects.NotifyEndOfCharge(ctx, tenant, tx)
	}
}

// hasChargedEnergy reports whether the session has actually delivered energy.
// A car that plugged in and never drew anything is not a full battery.
func hasChargedEnergy(tx *domain.Transaction) bool {
	return tx.NumberOfMeterValues >= 2 && tx.CurrentTotalConsumptionWh > 0
}

// detectPhases narrows PhasesUsed from the connector wiring to the phases the
// car actually draws on, once phase-tagged current figures exist. A single
// phase charger on a three phase connector changes both the end-of-charge
// amperage floor and the smart charging plan.
func (s *Service) detectPhases(tenant *domain.Tenant, station *domain.ChargingStation, tx *domain.Transaction) {
	if tx.PhasesDetected || station.CurrentType == domain.CurrentTypeDC {
		return
	}
	phases := 0
	for _, amps := range []float64{tx.CurrentInstantAmpsL1, tx.CurrentInstantAmpsL2, tx.CurrentInstantAmpsL3} {
		if amps > 0 {
			phases++
		}
	}
	if phases == 0 {
		return
	}
	tx.PhasesDetected = true
	if phases != tx.PhasesUsed {
		tx.PhasesUsed = phases
		s.effects.ScheduleSmartCharging(tenant, station.SiteAreaID)
	}
}

func (s *Service) mirrorToConnector(tx *domain.Transaction, connector *domain.Connector) {
	connector.CurrentInstantWatts = tx.CurrentInstantWatts
	connector.CurrentTotalConsumptionWh = tx.CurrentTotalConsumptionWh
	connector.CurrentTotalInactivitySecs = tx.CurrentTotalInactivitySecs
	connector.CurrentInactivityStatus = tx.CurrentInactivityStatus
	connector.CurrentStateOfCharge = tx.CurrentStateOfCharge
}
