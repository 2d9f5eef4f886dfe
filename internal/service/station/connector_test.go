package station

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/ocpp"
)

func statusRequest(connectorID int, status string) *ocpp.StatusNotificationRequest {
	return &ocpp.StatusNotificationRequest{
		ConnectorID: connectorID,
		Status:      status,
		ErrorCode:   "NoError",
	}
}

func TestProcessStatusNotification_ConnectorZeroIsInformational(t *testing.T) {
	env := newTestEnv()
	env.registeredStation()
	env.stations.SaveFunc = func(ctx context.Context, s *domain.ChargingStation) error {
		t.Error("connector 0 must not persist the station")
		return nil
	}

	_, err := env.service.ProcessStatusNotification(context.Background(), env.header(), statusRequest(0, "Available"))
	if err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
}

func TestProcessStatusNotification_NewConnectorGetsEnriched(t *testing.T) {
	env := newTestEnv()
	station := env.registeredStation()
	enriched := 0
	env.templates.EnrichConnectorFunc = func(ctx context.Context, s *domain.ChargingStation, connectorID int) (bool, error) {
		enriched++
		c := s.GetConnector(connectorID)
		c.Type = "Type2"
		c.PowerW = 22080
		c.NumberOfPhases = 3
		return true, nil
	}

	_, err := env.service.ProcessStatusNotification(context.Background(), env.header(), statusRequest(2, "Available"))
	if err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
	if enriched != 1 {
		t.Fatalf("enrichment calls = %d, want 1", enriched)
	}
	connector := station.GetConnector(2)
	if connector == nil {
		t.Fatal("connector 2 not added")
	}
	if connector.Type != "Type2" || connector.NumberOfPhases != 3 {
		t.Errorf("connector not enriched: %+v", connector)
	}
	if connector.Status != domain.ConnectorStatusAvailable {
		t.Errorf("status = %s, want Available", connector.Status)
	}
}

func TestProcessStatusNotification_UnchangedStatusIsNotPersisted(t *testing.T) {
	env := newTestEnv()
	station := env.registeredStation()
	station.Connectors[0].Status = domain.ConnectorStatusPreparing
	env.stations.SaveFunc = func(ctx context.Context, s *domain.ChargingStation) error {
		t.Error("repeated status must not persist the station")
		return nil
	}

	req := statusRequest(1, "Preparing")
	req.ErrorCode = ""
	if _, err := env.service.ProcessStatusNotification(context.Background(), env.header(), req); err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
}

func TestProcessStatusNotification_AvailableRecoversOrphanedSession(t *testing.T) {
	env := newTestEnv()
	station := env.registeredStation()
	connector := &station.Connectors[0]
	connector.Status = domain.ConnectorStatusCharging
	connector.CurrentTransactionID = 42
	connector.CurrentTagID = "TAG-1"

	recovered := 0
	env.recovery.StopOrDeleteFunc = func(ctx context.Context, tenant *domain.Tenant, s *domain.ChargingStation, connectorID int) error {
		recovered++
		if connectorID != 1 {
			t.Errorf("recovery connector = %d, want 1", connectorID)
		}
		return nil
	}
	var inactivityAt time.Time
	env.recovery.ComputeExtraInactivityFunc = func(ctx context.Context, tenant *domain.Tenant, s *domain.ChargingStation, c *domain.Connector, statusTimestamp time.Time) error {
		inactivityAt = statusTimestamp
		return nil
	}

	ts := t0.Add(10 * time.Minute)
	req := statusRequest(1, "Available")
	req.Timestamp = &ts
	if _, err := env.service.ProcessStatusNotification(context.Background(), env.header(), req); err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovery calls = %d, want 1", recovered)
	}
	if connector.CurrentTransactionID != 0 || connector.CurrentTagID != "" {
		t.Errorf("session not cleared: %+v", connector)
	}
	if !inactivityAt.Equal(ts) {
		t.Errorf("inactivity computed at %v, want the status timestamp %v", inactivityAt, ts)
	}
}

func TestProcessStatusNotification_AvailableWithoutSessionStillClosesInactivity(t *testing.T) {
	env := newTestEnv()
	station := env.registeredStation()
	station.Connectors[0].Status = domain.ConnectorStatusFinishing

	env.recovery.StopOrDeleteFunc = func(ctx context.Context, tenant *domain.Tenant, s *domain.ChargingStation, connectorID int) error {
		t.Error("no session to recover")
		return nil
	}
	inactivityCalls := 0
	env.recovery.ComputeExtraInactivityFunc = func(ctx context.Context, tenant *domain.Tenant, s *domain.ChargingStation, c *domain.Connector, statusTimestamp time.Time) error {
		inactivityCalls++
		return nil
	}

	if _, err := env.service.ProcessStatusNotification(context.Background(), env.header(), statusRequest(1, "Available")); err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
	if inactivityCalls != 1 {
		t.Errorf("inactivity calls = %d, want 1", inactivityCalls)
	}
}

func TestProcessStatusNotification_ChargingSchedulesSmartCharging(t *testing.T) {
	env := newTestEnv()
	env.registeredStation()
	env.scheduler.Inline = false

	if _, err := env.service.ProcessStatusNotification(context.Background(), env.header(), statusRequest(1, "Charging")); err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
	found := false
	for _, name := range env.scheduler.Scheduled {
		if strings.Contains(name, "smart-charging") {
			found = true
		}
	}
	if !found {
		t.Errorf("smart charging not scheduled: %v", env.scheduler.Scheduled)
	}
}

func TestProcessStatusNotification_FaultedNotifies(t *testing.T) {
	env := newTestEnv()
	env.registeredStation()

	req := statusRequest(1, "Faulted")
	req.ErrorCode = "GroundFailure"
	if _, err := env.service.ProcessStatusNotification(context.Background(), env.header(), req); err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
	if len(env.notifications.StatusErrors) != 1 {
		t.Errorf("status error notifications = %d, want 1", len(env.notifications.StatusErrors))
	}
}

func TestProcessStatusNotification_ErrorCodeOnNonFaultedNotifies(t *testing.T) {
	env := newTestEnv()
	env.registeredStation()

	req := statusRequest(1, "Charging")
	req.ErrorCode = "HighTemperature"
	if _, err := env.service.ProcessStatusNotification(context.Background(), env.header(), req); err != nil {
		t.Fatalf("ProcessStatusNotification failed: %v", err)
	}
	if len(env.notifications.StatusErrors) != 1 {
		t.Errorf("status error notifications = %d, want 1", len(env.notifications.StatusErrors))
	}
}

func TestProcessStatusNotification_UnregisteredStation(t *testing.T) {
	env := newTestEnv()

	_, err := env.service.ProcessStatusNotification(context.Background(), env.header(), statusRequest(1, "Available"))
	if err == nil {
		t.Fatal("expected an error for an unregistered station")
	}
}
