package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database/memory"
	"wastelink-backend/internal/events"
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/lifecycle"
	"wastelink-backend/internal/services/notify"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type fixture struct {
	store       *memory.Store
	service     *Service
	coordinator *lifecycle.Coordinator
	request     *models.ServiceRequest
}

func newFixture(t *testing.T, bus events.Bus) *fixture {
	t.Helper()
	store := memory.New()
	locker := lock.NewKeyedMutex()
	notifier := notify.NewService(store, store, nil)
	coordinator := lifecycle.NewCoordinator(store, locker, notifier, nil)

	req, err := coordinator.CreateRequest(context.Background(), &models.ServiceRequest{
		CustomerID:  "customer-1",
		ServiceType: models.ServiceWasteCollection,
		Stops:       []models.JourneyStop{{StopType: models.StopPickup, Latitude: 6.5, Longitude: 3.4}},
	})
	require.NoError(t, err)

	return &fixture{
		store:       store,
		service:     NewService(store, locker, coordinator, bus, secret),
		coordinator: coordinator,
		request:     req,
	}
}

func (f *fixture) payment(t *testing.T, reference string, amount string) *models.Payment {
	t.Helper()
	p, err := f.service.CreatePayment(context.Background(), &models.Payment{
		RequestID: f.request.ID,
		Amount:    decimal.RequireFromString(amount),
		Reference: reference,
	})
	require.NoError(t, err)
	return p
}

func webhook(t *testing.T, event, reference string, data map[string]interface{}) ([]byte, string) {
	t.Helper()
	if data == nil {
		data = map[string]interface{}{}
	}
	data["reference"] = reference
	body, err := json.Marshal(map[string]interface{}{"event": event, "data": data})
	require.NoError(t, err)
	return body, Sign(secret, body)
}

func (f *fixture) countJobs(t *testing.T) int {
	t.Helper()
	_, err := f.store.GetJobByRequest(context.Background(), f.request.ID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return 0
	}
	require.NoError(t, err)
	return 1
}

func (f *fixture) processedTimeline(t *testing.T) int {
	t.Helper()
	events, err := f.store.ListTimeline(context.Background(), f.request.ID)
	require.NoError(t, err)
	n := 0
	for _, ev := range events {
		if ev.EventType == models.TimelinePaymentProcessed {
			n++
		}
	}
	return n
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := Sign(secret, body)

	assert.NoError(t, VerifySignature(secret, body, sig))
	assert.ErrorIs(t, VerifySignature(secret, body, sig[:len(sig)-2]+"00"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, []byte(`{"event":"charge.failed"}`), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, body, "not-hex"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(secret, body, ""), ErrInvalidSignature)
	assert.Len(t, sig, 128)
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, CanTransition(models.PaymentPending, models.PaymentProcessing))
	assert.True(t, CanTransition(models.PaymentProcessing, models.PaymentSuccess))
	assert.True(t, CanTransition(models.PaymentSuccess, models.PaymentPartiallyRefunded))
	assert.False(t, CanTransition(models.PaymentPending, models.PaymentSuccess))
	assert.False(t, CanTransition(models.PaymentFailed, models.PaymentSuccess))
	assert.False(t, CanTransition(models.PaymentRefunded, models.PaymentSuccess))
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p := f.payment(t, "ref-1", "49.999")
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, models.PaymentTypeFull, p.PaymentType)
	assert.Equal(t, "50.00", p.Amount.StringFixed(2))

	again := f.payment(t, "ref-1", "49.999")
	assert.Equal(t, p.ID, again.ID)

	generated := f.payment(t, "", "10")
	assert.Contains(t, generated.Reference, "WL-")

	_, err := f.service.CreatePayment(ctx, &models.Payment{RequestID: f.request.ID, Amount: decimal.Zero})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	_, err = f.service.CreatePayment(ctx, &models.Payment{RequestID: f.request.ID, Amount: decimal.NewFromInt(5), PaymentType: "barter"})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestDuplicateSuccessWebhooksCreateOneJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.payment(t, "ref-dup", "80")

	body, sig := webhook(t, EventChargeSuccess, "ref-dup", map[string]interface{}{"amount": "80.00"})
	for i := 0; i < 2; i++ {
		_, err := f.service.ReceiveWebhook(ctx, body, sig)
		require.NoError(t, err)
	}

	p, err := f.store.GetPaymentByReference(ctx, "ref-dup")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, p.Status)
	assert.NotNil(t, p.CompletedAt)

	assert.Equal(t, 1, f.countJobs(t))
	assert.Equal(t, 1, f.processedTimeline(t))

	req, err := f.store.GetServiceRequest(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, req.Status)

	recorded := f.store.PaymentEvents()
	require.Len(t, recorded, 2)
	for _, ev := range recorded {
		assert.NotNil(t, ev.ProcessedAt)
		assert.JSONEq(t, string(body), string(ev.Payload))
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	f.payment(t, "ref-bad", "80")

	body, _ := webhook(t, EventChargeSuccess, "ref-bad", nil)
	_, err := f.service.ReceiveWebhook(context.Background(), body, Sign("other-secret", body))
	assert.True(t, IsInvalidSignature(err))
	assert.Empty(t, f.store.PaymentEvents())
	assert.Equal(t, 0, f.countJobs(t))
}

func TestWebhookRequiresReference(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"event":"charge.success","data":{}}`)
	_, err := f.service.ReceiveWebhook(context.Background(), body, Sign(secret, body))
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestWebhookThroughBus(t *testing.T) {
	bus := events.NewSyncBus()
	defer bus.Close()
	f := newFixture(t, bus)
	require.NoError(t, f.service.Subscribe(bus))
	f.payment(t, "ref-bus", "60")

	body, sig := webhook(t, EventChargeSuccess, "ref-bus", nil)
	record, err := f.service.ReceiveWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, "ref-bus", record.Reference)

	assert.Equal(t, 1, f.countJobs(t))
	recorded := f.store.PaymentEvents()
	require.Len(t, recorded, 1)
	assert.NotNil(t, recorded[0].ProcessedAt)
}

func TestFailedAndCancelledCharges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.payment(t, "ref-fail", "40")
	f.payment(t, "ref-cancel", "40")

	p, err := f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventChargeFailed, Reference: "ref-fail"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, p.Status)

	p, err = f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventChargeCancelled, Data: GatewayData{Reference: "ref-cancel"}})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, p.Status)

	_, err = f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventChargeSuccess, Reference: "ref-fail"})
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))
	assert.Equal(t, 0, f.countJobs(t))

	_, err = f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventChargeSuccess, Reference: "missing"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRefunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.payment(t, "ref-refund", "100")

	_, err := f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventRefundProcessed, Reference: "ref-refund"})
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err), "pending payments cannot be refunded")

	_, err = f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventChargeSuccess, Reference: "ref-refund"})
	require.NoError(t, err)

	partial := GatewayEvent{Event: EventRefundProcessed, Data: GatewayData{
		Reference:      "ref-refund",
		RefundedAmount: decimal.NewNullDecimal(decimal.NewFromInt(30)),
	}}
	p, err := f.service.ApplyGatewayEvent(ctx, "", partial)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, p.Status)
	assert.Equal(t, "30.00", p.RefundedAmount.StringFixed(2))

	// redelivery of the same total is a no-op
	p, err = f.service.ApplyGatewayEvent(ctx, "", partial)
	require.NoError(t, err)
	assert.Equal(t, "30.00", p.RefundedAmount.StringFixed(2))

	p, err = f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventRefundProcessed, Reference: "ref-refund"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.Status)
	assert.Equal(t, "100.00", p.RefundedAmount.StringFixed(2))

	// a late success redelivery does not re-open the payment
	p, err = f.service.ApplyGatewayEvent(ctx, "", GatewayEvent{Event: EventChargeSuccess, Reference: "ref-refund"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.Status)
	assert.Equal(t, 1, f.countJobs(t))
}

func TestGatewayEventDecoding(t *testing.T) {
	raw := `{"event":"refund.processed","data":{"reference":"abc","amount":120.5,"refunded_amount":"20.25","paid_at":"2026-10-01T10:00:00Z"}}`
	var ev GatewayEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, "abc", ev.Ref())
	assert.True(t, ev.Data.Amount.Valid)
	assert.Equal(t, "120.50", ev.Data.Amount.Decimal.StringFixed(2))
	assert.Equal(t, "20.25", ev.Data.RefundedAmount.Decimal.StringFixed(2))
	require.NotNil(t, ev.Data.PaidAt)
	assert.Equal(t, 2026, ev.Data.PaidAt.Year())

	top := GatewayEvent{Reference: "top", Data: GatewayData{Reference: "nested"}}
	assert.Equal(t, "top", top.Ref())
	assert.Equal(t, "nested", GatewayEvent{Data: GatewayData{Reference: "nested"}}.Ref())
	assert.Empty(t, GatewayEvent{}.Ref())
}

// flakySuccess fails the first failures calls with an outage, then delegates
type flakySuccess struct {
	inner    SuccessHandler
	failures int
	calls    int
}

func (h *flakySuccess) HandlePaymentSucceeded(ctx context.Context, p *models.Payment) (*models.Job, bool, error) {
	h.calls++
	if h.calls <= h.failures {
		return nil, false, apperr.ExternalUnavailable(errors.New("connection refused"), "failed to lock request %s", p.RequestID)
	}
	return h.inner.HandlePaymentSucceeded(ctx, p)
}

func (f *fixture) freezeClock() *time.Time {
	clock := time.Now()
	f.service.now = func() time.Time { return clock }
	return &clock
}

func TestFailedWebhookIsReplayed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	flaky := &flakySuccess{inner: f.coordinator, failures: 1}
	f.service.onSuccess = flaky
	clock := f.freezeClock()
	f.payment(t, "ref-replay", "80")

	body, sig := webhook(t, EventChargeSuccess, "ref-replay", nil)
	_, err := f.service.ReceiveWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, 0, f.countJobs(t))

	recorded := f.store.PaymentEvents()
	require.Len(t, recorded, 1)
	assert.Nil(t, recorded[0].ProcessedAt)
	assert.Equal(t, 1, recorded[0].Attempts)
	require.NotNil(t, recorded[0].LastError)
	assert.Contains(t, *recorded[0].LastError, "connection refused")

	// not due before the backoff elapses
	n, err := f.service.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*clock = clock.Add(notify.Backoff(1))
	n, err = f.service.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, 1, f.countJobs(t))

	req, err := f.store.GetServiceRequest(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, req.Status)
	assert.NotNil(t, f.store.PaymentEvents()[0].ProcessedAt)

	*clock = clock.Add(time.Hour)
	n, err = f.service.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, flaky.calls)
}

func TestWebhookReplayGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	flaky := &flakySuccess{inner: f.coordinator, failures: 1000}
	f.service.onSuccess = flaky
	clock := f.freezeClock()
	f.payment(t, "ref-down", "80")

	body, sig := webhook(t, EventChargeSuccess, "ref-down", nil)
	_, err := f.service.ReceiveWebhook(ctx, body, sig)
	require.NoError(t, err)

	for i := 1; i < MaxReplayAttempts; i++ {
		*clock = clock.Add(time.Hour)
		_, err := f.service.ReplayOnce(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, MaxReplayAttempts, flaky.calls)

	ev := f.store.PaymentEvents()[0]
	assert.Equal(t, MaxReplayAttempts, ev.Attempts)
	assert.NotNil(t, ev.FailedAt)
	assert.Nil(t, ev.ProcessedAt)

	*clock = clock.Add(time.Hour)
	_, err = f.service.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxReplayAttempts, flaky.calls)
	assert.Equal(t, 0, f.countJobs(t))
}

func TestRejectedWebhookIsNotReplayed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	clock := f.freezeClock()
	f.payment(t, "ref-early-refund", "80")

	// refunds of a pending payment will never apply
	body, sig := webhook(t, EventRefundProcessed, "ref-early-refund", nil)
	_, err := f.service.ReceiveWebhook(ctx, body, sig)
	require.NoError(t, err)

	ev := f.store.PaymentEvents()[0]
	assert.Equal(t, 1, ev.Attempts)
	assert.NotNil(t, ev.FailedAt)

	*clock = clock.Add(time.Hour)
	n, err := f.service.ReplayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
