package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a PostGIS database and are skipped without TEST_DATABASE_URL.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))

	_, err = db.Exec(`TRUNCATE users, pricing_configurations, smart_bins, providers, service_requests,
		payments, payment_events, notifications CASCADE`)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func kindOf(t *testing.T, err error) apperr.Kind {
	t.Helper()
	require.Error(t, err)
	return apperr.KindOf(err)
}

func testBin(number string) *models.SmartBin {
	now := time.Now()
	return &models.SmartBin{
		BinNumber:               number,
		OwnerID:                 "owner-1",
		WasteType:               models.WasteGeneral,
		LocationType:            models.LocationCommercial,
		Latitude:                37.33,
		Longitude:               -121.88,
		FillStatus:              models.FillEmpty,
		MaintenanceIntervalDays: 90,
		LastCollectionAt:        &now,
	}
}

func TestPostgresBinsAndReadings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bin := testBin("PG-1")
	require.NoError(t, s.CreateBin(ctx, bin))
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.CreateBin(ctx, testBin("PG-1"))))

	_, err := s.GetBin(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))

	next := *bin
	next.FillLevel = 85
	next.FillStatus = models.FillHigh
	reading := &models.SensorReading{BinID: bin.ID, FillLevel: 85, Timestamp: time.Now()}
	require.NoError(t, s.ApplyReading(ctx, reading, &next, bin.UpdatedAt))
	assert.True(t, next.UpdatedAt.After(bin.UpdatedAt))

	// the old guard is now stale and nothing is written
	stale := &models.SensorReading{BinID: bin.ID, FillLevel: 10, Timestamp: time.Now()}
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.ApplyReading(ctx, stale, &next, bin.UpdatedAt)))

	// history only
	require.NoError(t, s.ApplyReading(ctx, &models.SensorReading{BinID: bin.ID, FillLevel: 40, Timestamp: time.Now().Add(-time.Hour)}, nil, time.Time{}))

	readings, err := s.ListReadings(ctx, bin.ID, 10)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 85.0, readings[0].FillLevel)

	stored, err := s.GetBin(ctx, bin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FillHigh, stored.FillStatus)

	missing := &models.SensorReading{BinID: "missing", FillLevel: 1, Timestamp: time.Now()}
	assert.Equal(t, apperr.KindNotFound, kindOf(t, s.ApplyReading(ctx, missing, nil, time.Time{})))
}

func TestPostgresAlertDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bin := testBin("PG-2")
	require.NoError(t, s.CreateBin(ctx, bin))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CreateAlertIfAbsent(ctx, &models.BinAlert{
				BinID: bin.ID, AlertType: models.AlertFullBin, Priority: models.AlertPriorityHigh, Message: "full",
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)

	active, err := s.GetActiveAlert(ctx, bin.ID, models.AlertFullBin)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(active.Metadata))

	require.NoError(t, s.ResolveAlert(ctx, active.ID, time.Now(), nil))
	assert.Equal(t, apperr.KindPreconditionFailed, kindOf(t, s.ResolveAlert(ctx, active.ID, time.Now(), nil)))

	ok, err := s.CreateAlertIfAbsent(ctx, &models.BinAlert{
		BinID: bin.ID, AlertType: models.AlertFullBin, Priority: models.AlertPriorityHigh, Message: "full again",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.CreateAlertIfAbsent(ctx, &models.BinAlert{BinID: "missing", AlertType: models.AlertFullBin, Priority: "low", Message: "x"})
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestPostgresRequestsBidsPayments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	bin := testBin("PG-3")
	require.NoError(t, s.CreateBin(ctx, bin))

	req := &models.ServiceRequest{
		CustomerID:    "customer-1",
		SmartBinID:    &bin.ID,
		ServiceType:   models.ServiceWasteCollection,
		Priority:      models.PriorityNormal,
		Status:        models.RequestDraft,
		PaymentStatus: models.PaymentStatusPending,
		StaffRequired: 1,
		FinalPrice:    decimal.NewFromInt(80),
		Stops: []models.JourneyStop{
			{Sequence: 1, StopType: models.StopPickup, Latitude: 37.33, Longitude: -121.88},
		},
	}
	require.NoError(t, s.CreateServiceRequest(ctx, req))

	dup := *req
	dup.ID = ""
	dup.Stops = nil
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.CreateServiceRequest(ctx, &dup)))

	loaded, err := s.GetServiceRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Stops, 1)
	assert.True(t, loaded.FinalPrice.Equal(decimal.NewFromInt(80)))

	timeline, err := s.ListTimeline(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, models.TimelineCreated, timeline[0].EventType)

	provider := &models.Provider{
		Name: "Hauler", Latitude: 37.34, Longitude: -121.89,
		WasteTypesHandled: pq.StringArray{models.WasteGeneral}, Rating: 4, ServiceRadiusKm: 20, IsActive: true,
	}
	require.NoError(t, s.CreateProvider(ctx, provider))

	near, err := s.ListProvidersNear(ctx, 37.33, -121.88, 5)
	require.NoError(t, err)
	require.Len(t, near, 1)
	far, err := s.ListProvidersNear(ctx, 40.71, -74.0, 5)
	require.NoError(t, err)
	assert.Empty(t, far)
	radius, err := s.MaxServiceRadiusKm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, radius)

	bid := &models.Bid{RequestID: req.ID, ProviderID: provider.ID, Amount: decimal.NewFromInt(75), Status: models.BidPending}
	require.NoError(t, s.CreateBid(ctx, bid))
	again := &models.Bid{RequestID: req.ID, ProviderID: provider.ID, Amount: decimal.NewFromInt(70), Status: models.BidPending}
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.CreateBid(ctx, again)))

	require.NoError(t, s.SetCounterOffer(ctx, bid.ID, decimal.NewFromInt(72)))
	require.NoError(t, s.UpdateBidStatus(ctx, bid.ID, models.BidPending, models.BidAccepted))
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.UpdateBidStatus(ctx, bid.ID, models.BidPending, models.BidRejected)))

	payment := &models.Payment{
		RequestID: req.ID, Amount: decimal.NewFromInt(80), Status: models.PaymentPending,
		PaymentType: models.PaymentTypeFull, Reference: "WL-pg-test",
	}
	first, err := s.CreatePayment(ctx, payment)
	require.NoError(t, err)
	second, err := s.CreatePayment(ctx, &models.Payment{
		RequestID: req.ID, Amount: decimal.NewFromInt(80), Status: models.PaymentPending,
		PaymentType: models.PaymentTypeFull, Reference: "WL-pg-test",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	now := time.Now()
	require.NoError(t, s.TransitionPayment(ctx, first.ID, models.PaymentPending, models.PaymentSuccess, &now, decimal.Zero))
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.TransitionPayment(ctx, first.ID, models.PaymentPending, models.PaymentSuccess, &now, decimal.Zero)))

	// webhook replay bookkeeping
	ev := &models.PaymentEvent{Reference: "WL-pg-test", Event: "charge.success", Payload: []byte(`{"event":"charge.success"}`), NextAttemptAt: now.Add(time.Minute)}
	require.NoError(t, s.RecordPaymentEvent(ctx, ev))
	due, err := s.ListUnprocessedPaymentEvents(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.ListUnprocessedPaymentEvents(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ev.ID, due[0].ID)
	assert.JSONEq(t, `{"event":"charge.success"}`, string(due[0].Payload))

	require.NoError(t, s.MarkPaymentEventRetry(ctx, ev.ID, 3, now.Add(time.Hour), "lock unavailable", true))
	due, err = s.ListUnprocessedPaymentEvents(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "failed events are not replayed")

	// job creation and request update commit together
	err = s.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetServiceRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		r.Status = models.RequestAccepted
		r.AssignedProviderID = &provider.ID
		if err := tx.UpdateServiceRequest(ctx, r); err != nil {
			return err
		}
		return tx.CreateJob(ctx, &models.Job{
			RequestID: req.ID, ProviderID: &provider.ID, PaymentID: first.ID,
			Price: decimal.NewFromInt(80), Status: models.JobPending,
		})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx Tx) error {
		r, err := tx.GetServiceRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		r.Status = models.RequestCancelled
		if err := tx.UpdateServiceRequest(ctx, r); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := s.GetServiceRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, after.Status)

	job, err := s.GetJobByRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, job.PaymentID)
}

func TestPostgresPricingAndUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetActiveConfiguration(ctx)
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))

	a := &models.PricingConfiguration{Name: "A", IsActive: true, BasePrice: decimal.NewFromInt(50), MaxPriceMultiplier: decimal.NewFromInt(3)}
	b := &models.PricingConfiguration{Name: "B", BasePrice: decimal.NewFromInt(60), MaxPriceMultiplier: decimal.NewFromInt(3)}
	require.NoError(t, s.CreateConfiguration(ctx, a))
	require.NoError(t, s.CreateConfiguration(ctx, b))

	require.NoError(t, s.ActivateConfiguration(ctx, b.ID))
	active, err := s.GetActiveConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)
	assert.Equal(t, apperr.KindNotFound, kindOf(t, s.ActivateConfiguration(ctx, "missing")))

	require.NoError(t, s.CreateFactor(ctx, &models.PricingFactor{
		ConfigurationID: b.ID, Kind: models.FactorDistance, Params: []byte(`{"base_rate_per_km": "2"}`), IsActive: true,
	}))
	factors, err := s.ListFactors(ctx, b.ID, models.FactorDistance)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.JSONEq(t, `{"base_rate_per_km": "2"}`, string(factors[0].Params))

	u := &models.User{Email: "Ops@Example.com", Password: "x", Name: "Ops", Role: models.RoleAdmin}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.Equal(t, apperr.KindConflict, kindOf(t, s.CreateUser(ctx, &models.User{Email: "ops@example.com", Password: "x", Name: "Dup", Role: models.RoleAdmin})))

	found, err := s.GetUserByEmail(ctx, "OPS@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	n := &models.Notification{UserID: u.ID, Type: models.NotifyBinAlert, Title: "t", Body: "b"}
	require.NoError(t, s.EnqueueNotification(ctx, n))
	due, err := s.ListDueNotifications(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, s.MarkNotificationRetry(ctx, n.ID, 1, time.Now().Add(time.Hour), "offline", false))
	due, err = s.ListDueNotifications(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
