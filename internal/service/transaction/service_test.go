package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/csms/internal/adapter/lock"
	"github.com/gridwise/csms/internal/domain"
	"github.com/gridwise/csms/internal/mocks"
	"github.com/gridwise/csms/internal/ocpp"
	"github.com/gridwise/csms/internal/service/dispatcher"
	"github.com/gridwise/csms/internal/service/inactivity"
	"github.com/gridwise/csms/pkg/config"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	tenants       *mocks.MockTenantRepository
	stations      *mocks.MockStationRepository
	transactions  *mocks.MockTransactionRepository
	consumptions  *mocks.MockConsumptionRepository
	meterValues   *mocks.MockMeterValueRepository
	tags          *mocks.MockTagRepository
	users         *mocks.MockUserRepository
	notifications *mocks.MockNotificationService
	roaming       *mocks.MockRoamingService
	scheduler     *mocks.MockScheduler
	clock         *mocks.MockClock

	tenant  *domain.Tenant
	station *domain.ChargingStation

	service *Service
}

func testConfig() config.OCPPConfig {
	return config.OCPPConfig{
		InactivityWarnSecs:  1800,
		InactivityErrorSecs: 3600,
		Notifications: config.NotificationsConfig{
			EndOfChargeEnabled:         true,
			BeforeEndOfChargeEnabled:   true,
			BeforeEndOfChargePercent:   85,
			EndOfChargeMinAmpsPerPhase: 6,
		},
	}
}

func newTestEnv() *testEnv {
	env := &testEnv{
		tenants:       &mocks.MockTenantRepository{},
		stations:      &mocks.MockStationRepository{},
		transactions:  &mocks.MockTransactionRepository{},
		consumptions:  &mocks.MockConsumptionRepository{},
		meterValues:   &mocks.MockMeterValueRepository{},
		tags:          &mocks.MockTagRepository{},
		users:         &mocks.MockUserRepository{},
		notifications: &mocks.MockNotificationService{},
		roaming:       &mocks.MockRoamingService{},
		scheduler:     &mocks.MockScheduler{},
		clock:         &mocks.MockClock{Time: t0},
	}

	env.tenant = &domain.Tenant{ID: "acme", SmartChargingEnabled: true}
	env.station = &domain.ChargingStation{
		ID:         "CS-001",
		TenantID:   "acme",
		Vendor:     "Schneider Electric",
		Model:      "MONOBLOCK 22",
		SiteAreaID: "sa-1",
		Connectors: []domain.Connector{{
			TenantID:       "acme",
			ChargeBoxID:    "CS-001",
			ConnectorID:    1,
			Status:         domain.ConnectorStatusPreparing,
			NumberOfPhases: 3,
		}},
	}
	env.tenants.FindByIDFunc = func(ctx context.Context, id string) (*domain.Tenant, error) {
		if id == env.tenant.ID {
			return env.tenant, nil
		}
		return nil, nil
	}
	env.stations.FindByIDFunc = func(ctx context.Context, tenantID, id string) (*domain.ChargingStation, error) {
		if tenantID == env.tenant.ID && id == env.station.ID {
			return env.station, nil
		}
		return nil, nil
	}

	logger := zap.NewNop()
	cfg := testConfig()
	effects := dispatcher.NewSideEffects(
		&mocks.MockPricingService{},
		&mocks.MockBillingService{},
		env.roaming,
		&mocks.MockSmartChargingService{},
		env.notifications,
		lock.NewLocalLockService(),
		env.scheduler,
		env.transactions,
		cfg,
		logger,
	)
	env.service = NewService(
		env.tenants,
		env.stations,
		env.transactions,
		env.consumptions,
		env.meterValues,
		env.tags,
		env.users,
		&mocks.MockSiteAuthorizer{},
		inactivity.NewClassifier(cfg),
		effects,
		env.clock,
		cfg,
		logger,
	)
	return env
}

func (env *testEnv) header() ocpp.RequestHeader {
	return ocpp.RequestHeader{
		TenantID:    "acme",
		ChargeBoxID: "CS-001",
		OCPPVersion: domain.OCPPVersion16,
		Transport:   domain.OCPPTransportJSON,
	}
}

func (env *testEnv) activeTag(id string) {
	env.tags.FindByIDFunc = func(ctx context.Context, tenantID, tagID string) (*domain.Tag, error) {
		if tagID == id {
			return &domain.Tag{ID: id, TenantID: tenantID, Active: true}, nil
		}
		return nil, nil
	}
}

func (env *testEnv) openTransaction() *domain.Transaction {
	tx := &domain.Transaction{
		ID:          42,
		TenantID:    "acme",
		ChargeBoxID: "CS-001",
		ConnectorID: 1,
		TagID:       "TAG-1",
		Timestamp:   t0,
		MeterStart:  1000,
		PhasesUsed:  3,
	}
	env.transactions.FindByIDFunc = func(ctx context.Context, tenantID string, id int) (*domain.Transaction, error) {
		if id == tx.ID {
			return tx, nil
		}
		return nil, nil
	}
	connector := env.station.GetConnector(1)
	connector.CurrentTransactionID = tx.ID
	connector.CurrentTagID = tx.TagID
	return tx
}

func TestProcessAuthorize(t *testing.T) {
	expired := t0.Add(-time.Hour)
	cases := []struct {
		name string
		tag  *domain.Tag
		user *domain.User
		id   string
		want ocpp.AuthorizationStatus
	}{
		{name: "unknown tag", id: "NOPE", want: ocpp.AuthorizationInvalid},
		{name: "tag too long", id: "ABCDEFGHIJKLMNOPQRSTU", want: ocpp.AuthorizationInvalid},
		{name: "expired tag", id: "TAG-1", tag: &domain.Tag{ID: "TAG-1", Active: true, ExpiryDate: &expired}, want: ocpp.AuthorizationExpired},
		{name: "inactive tag", id: "TAG-1", tag: &domain.Tag{ID: "TAG-1", Active: false}, want: ocpp.AuthorizationBlocked},
		{name: "blocked user", id: "TAG-1",
			tag:  &domain.Tag{ID: "TAG-1", Active: true, UserID: "u1"},
			user: &domain.User{ID: "u1", Status: domain.UserStatusBlocked},
			want: ocpp.AuthorizationBlocked},
		{name: "accepted", id: "TAG-1",
			tag:  &domain.Tag{ID: "TAG-1", Active: true, UserID: "u1"},
			user: &domain.User{ID: "u1", Status: domain.UserStatusActive},
			want: ocpp.AuthorizationAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.tags.FindByIDFunc = func(ctx context.Context, tenantID, tagID string) (*domain.Tag, error) {
				if tc.tag != nil && tagID == tc.tag.ID {
					return tc.tag, nil
				}
				return nil, nil
			}
			env.users.FindByIDFunc = func(ctx context.Context, tenantID, id string) (*domain.User, error) {
				if tc.user != nil && id == tc.user.ID {
					return tc.user, nil
				}
				return nil, nil
			}

			resp, err := env.service.ProcessAuthorize(context.Background(), env.header(), &ocpp.AuthorizeRequest{IdTag: ocpp.IdTag(tc.id)})
			if err != nil {
				t.Fatalf("ProcessAuthorize failed: %v", err)
			}
			if resp.IDTagInfo.Status != tc.want {
				t.Errorf("status = %s, want %s", resp.IDTagInfo.Status, tc.want)
			}
		})
	}
}

func TestProcessStartTransaction_OpensSession(t *testing.T) {
	env := newTestEnv()
	env.activeTag("TAG-1")
	env.transactions.NextTransactionIDFunc = func(ctx context.Context, tenantID string) (int, error) {
		return 42, nil
	}
	var savedTx *domain.Transaction
	env.transactions.SaveFunc = func(ctx context.Context, tx *domain.Transaction) error {
		savedTx = tx
		return nil
	}
	var savedConsumptions []*domain.Consumption
	env.consumptions.SaveFunc = func(ctx context.Context, c *domain.Consumption) error {
		savedConsumptions = append(savedConsumptions, c)
		return nil
	}

	resp, err := env.service.ProcessStartTransaction(context.Background(), env.header(), &ocpp.StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  1000,
		Timestamp:   t0,
	})
	if err != nil {
		t.Fatalf("ProcessStartTransaction failed: %v", err)
	}
	if resp.TransactionID != 42 {
		t.Errorf("transactionId = %d, want 42", resp.TransactionID)
	}
	if resp.IDTagInfo.Status != ocpp.AuthorizationAccepted {
		t.Errorf("status = %s, want Accepted", resp.IDTagInfo.Status)
	}
	if savedTx == nil || savedTx.MeterStart != 1000 || savedTx.TagID != "TAG-1" {
		t.Fatalf("unexpected saved transaction: %+v", savedTx)
	}
	if !savedTx.Issuer {
		t.Error("locally authorized session should be issuer")
	}
	if savedTx.PhasesUsed != 3 {
		t.Errorf("phases = %d, want 3 from connector", savedTx.PhasesUsed)
	}

	connector := env.station.GetConnector(1)
	if connector.CurrentTransactionID != 42 || connector.CurrentTagID != "TAG-1" {
		t.Errorf("connector session not set: %+v", connector)
	}

	if len(savedConsumptions) != 1 {
		t.Fatalf("expected 1 begin consumption, got %d", len(savedConsumptions))
	}
	begin := savedConsumptions[0]
	if begin.ConsumptionWh != 0 || !begin.StartedAt.Equal(t0) || !begin.EndedAt.Equal(t0) {
		t.Errorf("begin consumption should be zero-width at start: %+v", begin)
	}

	if len(env.notifications.SessionStarted) != 1 || env.notifications.SessionStarted[0] != 42 {
		t.Errorf("session started notification missing: %v", env.notifications.SessionStarted)
	}
	if len(env.scheduler.Scheduled) == 0 {
		t.Error("expected a smart charging recomputation to be scheduled")
	}
}

func TestProcessStartTransaction_RejectsWithoutPersisting(t *testing.T) {
	env := newTestEnv()
	saves := 0
	env.transactions.SaveFunc = func(ctx context.Context, tx *domain.Transaction) error {
		saves++
		return nil
	}

	resp, err := env.service.ProcessStartTransaction(context.Background(), env.header(), &ocpp.StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "UNKNOWN",
		MeterStart:  0,
		Timestamp:   t0,
	})
	if err != nil {
		t.Fatalf("ProcessStartTransaction failed: %v", err)
	}
	if resp.TransactionID != 0 {
		t.Errorf("transactionId = %d, want 0 on auth failure", resp.TransactionID)
	}
	if resp.IDTagInfo.Status != ocpp.AuthorizationInvalid {
		t.Errorf("status = %s, want Invalid", resp.IDTagInfo.Status)
	}
	if saves != 0 {
		t.Errorf("no transaction should be persisted on auth failure, got %d saves", saves)
	}
}

func TestProcessStartTransaction_ConsumesDefaultCar(t *testing.T) {
	env := newTestEnv()
	env.tenant.CarEnabled = true
	env.tags.FindByIDFunc = func(ctx context.Context, tenantID, tagID string) (*domain.Tag, error) {
		return &domain.Tag{ID: tagID, TenantID: tenantID, UserID: "u-1", Active: true}, nil
	}
	user := &domain.User{ID: "u-1", TenantID: "acme", DefaultCarID: "car-9"}
	env.users.FindByIDFunc = func(ctx context.Context, tenantID, id string) (*domain.User, error) {
		return user, nil
	}
	var savedUser *domain.User
	env.users.SaveFunc = func(ctx context.Context, u *domain.User) error {
		savedUser = u
		return nil
	}
	var savedTx *domain.Transaction
	env.transactions.SaveFunc = func(ctx context.Context, tx *domain.Transaction) error {
		savedTx = tx
		return nil
	}

	_, err := env.service.ProcessStartTransaction(context.Background(), env.header(), &ocpp.StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  1000,
		Timestamp:   t0,
	})
	if err != nil {
		t.Fatalf("ProcessStartTransaction failed: %v", err)
	}
	if savedTx == nil || savedTx.CarID != "car-9" {
		t.Errorf("transaction car not set: %+v", savedTx)
	}
	if savedUser == nil || savedUser.DefaultCarID != "" {
		t.Errorf("default car selection not cleared: %+v", savedUser)
	}
}

func TestProcessStartTransaction_UnknownConnector(t *testing.T) {
	env := newTestEnv()
	env.activeTag("TAG-1")

	_, err := env.service.ProcessStartTransaction(context.Background(), env.header(), &ocpp.StartTransactionRequest{
		ConnectorID: 9,
		IdTag:       "TAG-1",
		Timestamp:   t0,
	})
	if !errors.Is(err, domain.ErrConnectorNotFound) {
		t.Fatalf("err = %v, want ErrConnectorNotFound", err)
	}
}

func TestProcessStartTransaction_CleansStaleSession(t *testing.T) {
	env := newTestEnv()
	env.activeTag("TAG-1")
	connector := env.station.GetConnector(1)
	connector.CurrentTransactionID = 7

	stale := &domain.Transaction{
		ID: 7, TenantID: "acme", ChargeBoxID: "CS-001", ConnectorID: 1,
		Timestamp: t0.Add(-2 * time.Hour), NumberOfMeterValues: 0,
	}
	returned := false
	env.transactions.FindActiveOnConnectorFunc = func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
		if returned {
			return nil, nil
		}
		returned = true
		return stale, nil
	}
	var deleted int
	env.transactions.DeleteFunc = func(ctx context.Context, tenantID string, id int) error {
		deleted = id
		return nil
	}
	env.transactions.NextTransactionIDFunc = func(ctx context.Context, tenantID string) (int, error) {
		return 43, nil
	}

	resp, err := env.service.ProcessStartTransaction(context.Background(), env.header(), &ocpp.StartTransactionRequest{
		ConnectorID: 1,
		IdTag:       "TAG-1",
		MeterStart:  500,
		Timestamp:   t0,
	})
	if err != nil {
		t.Fatalf("ProcessStartTransaction failed: %v", err)
	}
	if deleted != 7 {
		t.Errorf("stale empty transaction %d should be deleted, deleted=%d", 7, deleted)
	}
	if resp.TransactionID != 43 {
		t.Errorf("transactionId = %d, want 43", resp.TransactionID)
	}
	if connector.CurrentTransactionID != 43 {
		t.Errorf("connector carries %d, want 43", connector.CurrentTransactionID)
	}
}

func TestProcessStopTransaction_TransactionZeroAcknowledged(t *testing.T) {
	env := newTestEnv()
	env.transactions.FindByIDFunc = func(ctx context.Context, tenantID string, id int) (*domain.Transaction, error) {
		t.Fatal("stop for transaction 0 must not hit the repository")
		return nil, nil
	}

	resp, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 0,
		MeterStop:     1234,
		Timestamp:     t0,
	})
	if err != nil {
		t.Fatalf("ProcessStopTransaction failed: %v", err)
	}
	if resp.IDTagInfo.Status != ocpp.AuthorizationAccepted {
		t.Errorf("status = %s, want Accepted", resp.IDTagInfo.Status)
	}
}

func TestProcessStopTransaction_NotFound(t *testing.T) {
	env := newTestEnv()
	_, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 99,
		Timestamp:     t0,
	})
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestProcessStopTransaction_AlreadyStopped(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	tx.Stop = &domain.TransactionStop{Timestamp: t0.Add(time.Hour)}

	_, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 42,
		Timestamp:     t0.Add(2 * time.Hour),
	})
	if !errors.Is(err, domain.ErrTransactionAlreadyStopped) {
		t.Fatalf("err = %v, want ErrTransactionAlreadyStopped", err)
	}
}

func TestProcessStopTransaction_WritesStopBlock(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	stopTime := t0.Add(time.Hour)
	env.clock.Time = stopTime

	var savedConsumptions []*domain.Consumption
	env.consumptions.SaveFunc = func(ctx context.Context, c *domain.Consumption) error {
		savedConsumptions = append(savedConsumptions, c)
		return nil
	}

	resp, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 42,
		MeterStop:     5000,
		Timestamp:     stopTime,
		Reason:        "Local",
	})
	if err != nil {
		t.Fatalf("ProcessStopTransaction failed: %v", err)
	}
	if resp.IDTagInfo.Status != ocpp.AuthorizationAccepted {
		t.Errorf("status = %s, want Accepted", resp.IDTagInfo.Status)
	}

	if tx.Stop == nil {
		t.Fatal("stop block not written")
	}
	if tx.Stop.MeterStop != 5000 {
		t.Errorf("meterStop = %d, want 5000", tx.Stop.MeterStop)
	}
	if tx.Stop.TotalConsumptionWh != 4000 {
		t.Errorf("total consumption = %.0f Wh, want 4000", tx.Stop.TotalConsumptionWh)
	}
	if tx.Stop.TotalDurationSecs != 3600 {
		t.Errorf("duration = %d, want 3600", tx.Stop.TotalDurationSecs)
	}
	if tx.Stop.TagID != "TAG-1" {
		t.Errorf("stop tag = %s, want the starting tag", tx.Stop.TagID)
	}
	if tx.Stop.Reason != "Local" {
		t.Errorf("reason = %s, want Local", tx.Stop.Reason)
	}

	// Closing interval covers the last anchor to the stop reading.
	if len(savedConsumptions) != 1 {
		t.Fatalf("expected 1 closing consumption, got %d", len(savedConsumptions))
	}
	if savedConsumptions[0].ConsumptionWh != 4000 {
		t.Errorf("closing interval = %.0f Wh, want 4000", savedConsumptions[0].ConsumptionWh)
	}

	connector := env.station.GetConnector(1)
	if connector.CurrentTransactionID != 0 || connector.CurrentTagID != "" {
		t.Errorf("connector session not cleared: %+v", connector)
	}
	if len(env.notifications.EndOfSession) != 1 {
		t.Errorf("end of session notification missing: %v", env.notifications.EndOfSession)
	}
}

func TestProcessStopTransaction_ReconstructsMeterStop(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	tx.CurrentTotalConsumptionWh = 2500
	anchor := t0.Add(30 * time.Minute)
	tx.AdvanceConsumptionAnchor(anchor, 3500)
	stopTime := t0.Add(time.Hour)
	env.clock.Time = stopTime

	_, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 42,
		MeterStop:     0,
		Timestamp:     stopTime,
		Reason:        "PowerLoss",
	})
	if err != nil {
		t.Fatalf("ProcessStopTransaction failed: %v", err)
	}
	if tx.Stop.MeterStop != 3500 {
		t.Errorf("meterStop = %d, want 3500 reconstructed from the running total", tx.Stop.MeterStop)
	}
	if tx.Stop.TotalConsumptionWh != 2500 {
		t.Errorf("total consumption = %.0f Wh, want 2500", tx.Stop.TotalConsumptionWh)
	}
}

func TestProcessStopTransaction_SignedSessionNotification(t *testing.T) {
	env := newTestEnv()
	tx := env.openTransaction()
	tx.SignedData = "OCMF|..."
	env.clock.Time = t0.Add(time.Hour)

	_, err := env.service.ProcessStopTransaction(context.Background(), env.header(), &ocpp.StopTransactionRequest{
		TransactionID: 42,
		MeterStop:     2000,
		Timestamp:     t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ProcessStopTransaction failed: %v", err)
	}
	if len(env.notifications.EndOfSession) != 1 {
		t.Errorf("end of session must fire for every session: %v", env.notifications.EndOfSession)
	}
	if len(env.notifications.EndOfSignedSession) != 1 {
		t.Errorf("signed session should additionally get the signed receipt: %v", env.notifications.EndOfSignedSession)
	}
}

func TestResolveStopTag(t *testing.T) {
	env := newTestEnv()
	remoteTime := t0.Add(-30 * time.Second)
	tx := &domain.Transaction{
		TagID:               "TAG-1",
		RemoteStopTagID:     "REMOTE-1",
		RemoteStopTimestamp: &remoteTime,
	}
	env.clock.Time = t0

	if got := env.service.resolveStopTag(tx, "TAG-1"); got != "REMOTE-1" {
		t.Errorf("recent remote stop wins over the echoed session tag, got %s", got)
	}
	if got := env.service.resolveStopTag(tx, ""); got != "REMOTE-1" {
		t.Errorf("recent remote stop tag wins over absent tag, got %s", got)
	}
	env.clock.Time = t0.Add(5 * time.Minute)
	if got := env.service.resolveStopTag(tx, "EXPLICIT"); got != "EXPLICIT" {
		t.Errorf("explicit tag wins once the remote stop is stale, got %s", got)
	}
	if got := env.service.resolveStopTag(tx, ""); got != "TAG-1" {
		t.Errorf("stale remote stop falls back to the starting tag, got %s", got)
	}
}

func TestStopOrDeleteActiveTransactions_SoftStops(t *testing.T) {
	env := newTestEnv()
	env.clock.Time = t0.Add(time.Hour)
	orphan := &domain.Transaction{
		ID: 7, TenantID: "acme", ChargeBoxID: "CS-001", ConnectorID: 1,
		TagID: "TAG-1", Timestamp: t0, MeterStart: 1000,
		NumberOfMeterValues: 5, CurrentTotalConsumptionWh: 3000,
	}
	env.transactions.FindActiveOnConnectorFunc = func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
		if orphan.IsStopped() {
			return nil, nil
		}
		return orphan, nil
	}

	err := env.service.StopOrDeleteActiveTransactions(context.Background(), env.tenant, env.station, 1)
	if err != nil {
		t.Fatalf("StopOrDeleteActiveTransactions failed: %v", err)
	}
	if orphan.Stop == nil {
		t.Fatal("orphan with meter values should be soft stopped")
	}
	if orphan.Stop.MeterStop != 4000 {
		t.Errorf("meterStop = %d, want meterStart + running total = 4000", orphan.Stop.MeterStop)
	}
	if orphan.Stop.Reason != "Other" {
		t.Errorf("reason = %s, want Other", orphan.Stop.Reason)
	}
}

func TestStopOrDeleteActiveTransactions_NoProgress(t *testing.T) {
	env := newTestEnv()
	stuck := &domain.Transaction{
		ID: 7, TenantID: "acme", ChargeBoxID: "CS-001", ConnectorID: 1,
		Timestamp: t0, NumberOfMeterValues: 0,
	}
	env.transactions.FindActiveOnConnectorFunc = func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
		return stuck, nil
	}

	err := env.service.StopOrDeleteActiveTransactions(context.Background(), env.tenant, env.station, 1)
	if err == nil {
		t.Fatal("expected an error when recovery makes no progress")
	}
}

func TestComputeExtraInactivity_RunsOnce(t *testing.T) {
	env := newTestEnv()
	stopTime := t0.Add(time.Hour)
	tx := &domain.Transaction{
		ID: 42, TenantID: "acme", ChargeBoxID: "CS-001", ConnectorID: 1,
		Timestamp: t0,
		Stop: &domain.TransactionStop{
			Timestamp:           stopTime,
			TotalConsumptionWh:  4000,
			TotalInactivitySecs: 120,
			TotalDurationSecs:   3600,
		},
	}
	env.transactions.FindLastOnConnectorFunc = func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
		return tx, nil
	}
	saves := 0
	env.transactions.SaveFunc = func(ctx context.Context, saved *domain.Transaction) error {
		saves++
		return nil
	}
	var tail []*domain.Consumption
	env.consumptions.SaveFunc = func(ctx context.Context, c *domain.Consumption) error {
		tail = append(tail, c)
		return nil
	}
	connector := env.station.GetConnector(1)

	statusTime := stopTime.Add(5 * time.Minute)
	if err := env.service.ComputeExtraInactivity(context.Background(), env.tenant, env.station, connector, statusTime); err != nil {
		t.Fatalf("ComputeExtraInactivity failed: %v", err)
	}
	if tx.Stop.ExtraInactivitySecs != 300 {
		t.Errorf("extra inactivity = %d, want 300", tx.Stop.ExtraInactivitySecs)
	}
	if tx.Stop.TotalInactivitySecs != 420 {
		t.Errorf("total inactivity = %d, want 420", tx.Stop.TotalInactivitySecs)
	}
	if tx.Stop.TotalDurationSecs != 3900 {
		t.Errorf("total duration = %d, want 3900", tx.Stop.TotalDurationSecs)
	}
	if !tx.Stop.ExtraInactivityComputed {
		t.Error("ExtraInactivityComputed should be set")
	}
	if saves != 1 {
		t.Fatalf("expected 1 save, got %d", saves)
	}

	// The idle tail lands in the consumption series as a zero-energy interval.
	if len(tail) != 1 {
		t.Fatalf("expected 1 tail consumption, got %d", len(tail))
	}
	if tail[0].ConsumptionWh != 0 {
		t.Errorf("tail interval = %.0f Wh, want 0", tail[0].ConsumptionWh)
	}
	if tail[0].CumulatedConsumptionWh != 4000 {
		t.Errorf("tail cumulated = %.0f Wh, want the session total 4000", tail[0].CumulatedConsumptionWh)
	}
	if !tail[0].StartedAt.Equal(stopTime) || !tail[0].EndedAt.Equal(statusTime) {
		t.Errorf("tail window = %v..%v, want %v..%v", tail[0].StartedAt, tail[0].EndedAt, stopTime, statusTime)
	}
	if tail[0].TotalInactivitySecs != 420 {
		t.Errorf("tail inactivity = %d, want 420", tail[0].TotalInactivitySecs)
	}

	// A repeated Available status must not account inactivity twice.
	if err := env.service.ComputeExtraInactivity(context.Background(), env.tenant, env.station, connector, statusTime.Add(time.Hour)); err != nil {
		t.Fatalf("second ComputeExtraInactivity failed: %v", err)
	}
	if tx.Stop.TotalInactivitySecs != 420 {
		t.Errorf("second pass changed total inactivity to %d", tx.Stop.TotalInactivitySecs)
	}
	if saves != 1 {
		t.Errorf("second pass should not save, got %d saves", saves)
	}
	if len(tail) != 1 {
		t.Errorf("second pass synthesized another consumption: %d", len(tail))
	}
}

func TestComputeExtraInactivity_ClampsNegative(t *testing.T) {
	env := newTestEnv()
	stopTime := t0.Add(time.Hour)
	tx := &domain.Transaction{
		ID: 42, TenantID: "acme", ChargeBoxID: "CS-001", ConnectorID: 1,
		Timestamp: t0,
		Stop:      &domain.TransactionStop{Timestamp: stopTime},
	}
	env.transactions.FindLastOnConnectorFunc = func(ctx context.Context, tenantID, chargeBoxID string, connectorID int) (*domain.Transaction, error) {
		return tx, nil
	}
	connector := env.station.GetConnector(1)

	// Status timestamp before the stop: a station with a drifting clock.
	if err := env.service.ComputeExtraInactivity(context.Background(), env.tenant, env.station, connector, stopTime.Add(-time.Minute)); err != nil {
		t.Fatalf("ComputeExtraInactivity failed: %v", err)
	}
	if tx.Stop.ExtraInactivitySecs != 0 {
		t.Errorf("extra inactivity = %d, want 0 clamped", tx.Stop.ExtraInactivitySecs)
	}
}
