package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/database/memory"
	"wastelink-backend/internal/events"
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/collection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

type fixture struct {
	store    *memory.Store
	alerts   *AlertGenerator
	ingestor *Ingestor
	bin      *models.SmartBin
}

func newFixture(t *testing.T, observers ...Observer) *fixture {
	t.Helper()
	store := memory.New()
	now := time.Now()
	bin := &models.SmartBin{
		BinNumber:         "SB-1001",
		OwnerID:           "owner-1",
		WasteType:         models.WasteGeneral,
		LocationType:      models.LocationResidential,
		Latitude:          37.33,
		Longitude:         -121.89,
		FillStatus:        models.FillEmpty,
		LastCollectionAt:  &now,
		LastMaintenanceAt: &now,
	}
	require.NoError(t, store.CreateBin(context.Background(), bin))

	alerts := NewAlertGenerator(store, nil, nil, nil)
	return &fixture{
		store:    store,
		alerts:   alerts,
		ingestor: NewIngestor(store, lock.NewKeyedMutex(), alerts, observers...),
		bin:      bin,
	}
}

func (f *fixture) ingest(t *testing.T, r models.SensorReading) *Result {
	t.Helper()
	r.BinID = f.bin.ID
	res, err := f.ingestor.Ingest(context.Background(), r)
	require.NoError(t, err)
	return res
}

func (f *fixture) activeAlerts(t *testing.T, alertType string) []models.BinAlert {
	t.Helper()
	alerts, err := f.store.ListAlerts(context.Background(), database.AlertFilter{BinID: f.bin.ID, AlertType: alertType, Status: "active"})
	require.NoError(t, err)
	return alerts
}

func TestFillStatusFor(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0, models.FillEmpty},
		{20, models.FillEmpty},
		{20.5, models.FillLow},
		{40, models.FillLow},
		{55, models.FillMedium},
		{80, models.FillHigh},
		{80.1, models.FillFull},
		{100, models.FillFull},
		{100.5, models.FillOverflow},
		{110, models.FillOverflow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FillStatusFor(tt.level), "level %v", tt.level)
	}
}

func TestValidateReading(t *testing.T) {
	tests := []struct {
		name    string
		reading models.SensorReading
		ok      bool
	}{
		{"valid", models.SensorReading{BinID: "b", FillLevel: 50, WeightKg: ptr(12)}, true},
		{"overflow allowed", models.SensorReading{BinID: "b", FillLevel: 110}, true},
		{"too full", models.SensorReading{BinID: "b", FillLevel: 111}, false},
		{"negative fill", models.SensorReading{BinID: "b", FillLevel: -1}, false},
		{"negative weight", models.SensorReading{BinID: "b", FillLevel: 10, WeightKg: ptr(-0.5)}, false},
		{"battery out of range", models.SensorReading{BinID: "b", FillLevel: 10, BatteryLevel: ptr(140)}, false},
		{"missing bin", models.SensorReading{FillLevel: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReading(&tt.reading)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
			}
		})
	}
}

func TestIngestUpdatesDerivedState(t *testing.T) {
	f := newFixture(t)
	ts := time.Now().Add(-time.Minute).UTC()

	res := f.ingest(t, models.SensorReading{
		FillLevel:      65,
		WeightKg:       ptr(18.5),
		BatteryLevel:   ptr(77),
		SignalStrength: ptr(60),
		Temperature:    ptr(21),
		LidOpen:        true,
		MotionDetected: true,
		Timestamp:      ts,
	})
	assert.False(t, res.Stale)
	assert.NotEmpty(t, res.Reading.ID)

	bin, err := f.store.GetBin(context.Background(), f.bin.ID)
	require.NoError(t, err)
	assert.Equal(t, 65.0, bin.FillLevel)
	assert.Equal(t, models.FillHigh, bin.FillStatus)
	assert.Equal(t, 18.5, bin.CurrentWeightKg)
	assert.True(t, bin.Online)
	require.NotNil(t, bin.LastSeenAt)
	assert.True(t, ts.Equal(*bin.LastSeenAt))
	require.NotNil(t, bin.LidOpenedAt)
	assert.True(t, ts.Equal(*bin.LidOpenedAt))
	assert.Equal(t, 77.0, *bin.BatteryLevel)

	// channels not reported keep their value
	f.ingest(t, models.SensorReading{FillLevel: 66, Timestamp: ts.Add(time.Second)})
	bin, err = f.store.GetBin(context.Background(), f.bin.ID)
	require.NoError(t, err)
	require.NotNil(t, bin.BatteryLevel)
	assert.Equal(t, 77.0, *bin.BatteryLevel)
	assert.Equal(t, 18.5, bin.CurrentWeightKg)
	assert.False(t, bin.LidOpen)
	assert.Nil(t, bin.LidOpenedAt)
}

func TestIngestRejectsInvalidReading(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.Ingest(context.Background(), models.SensorReading{BinID: f.bin.ID, FillLevel: 120})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	readings, err := f.store.ListReadings(context.Background(), f.bin.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestIngestUnknownBin(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.Ingest(context.Background(), models.SensorReading{BinID: "missing", FillLevel: 10})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (o *countingObserver) ObserveReading(ctx context.Context, bin *models.SmartBin, r *models.SensorReading) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
}

func TestStaleReadingIsHistoryOnly(t *testing.T) {
	observer := &countingObserver{}
	f := newFixture(t, observer)
	now := time.Now()

	f.ingest(t, models.SensorReading{FillLevel: 70, Timestamp: now})
	res := f.ingest(t, models.SensorReading{FillLevel: 95, Timestamp: now.Add(-time.Hour)})
	assert.True(t, res.Stale)

	bin, err := f.store.GetBin(context.Background(), f.bin.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, bin.FillLevel)
	assert.Empty(t, f.activeAlerts(t, models.AlertFullBin))
	assert.Equal(t, 1, observer.calls)

	readings, err := f.store.ListReadings(context.Background(), f.bin.ID, 0)
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

type conflictOnceStore struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictOnceStore) ApplyReading(ctx context.Context, r *models.SensorReading, updated *models.SmartBin, expected time.Time) error {
	s.mu.Lock()
	fail := s.conflicts > 0
	if fail {
		s.conflicts--
	}
	s.mu.Unlock()
	if fail {
		return apperr.Conflict("smart bin %s was modified concurrently", r.BinID)
	}
	return s.Store.ApplyReading(ctx, r, updated, expected)
}

func TestIngestRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)

	store := &conflictOnceStore{Store: f.store, conflicts: 1}
	ingestor := NewIngestor(store, lock.NewKeyedMutex(), nil)
	_, err := ingestor.Ingest(context.Background(), models.SensorReading{BinID: f.bin.ID, FillLevel: 40})
	require.NoError(t, err)

	store.conflicts = 2
	_, err = ingestor.Ingest(context.Background(), models.SensorReading{BinID: f.bin.ID, FillLevel: 45})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestAlertDeduplicationAndReopen(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	first := f.ingest(t, models.SensorReading{FillLevel: 95, Timestamp: now})
	require.Len(t, first.Alerts, 1)
	second := f.ingest(t, models.SensorReading{FillLevel: 95, Timestamp: now.Add(time.Minute)})
	assert.Empty(t, second.Alerts)

	active := f.activeAlerts(t, models.AlertFullBin)
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertPriorityHigh, active[0].Priority)

	admin := "admin-1"
	resolved, err := f.alerts.Resolve(context.Background(), active[0].ID, &admin)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)

	_, err = f.alerts.Resolve(context.Background(), active[0].ID, &admin)
	assert.Equal(t, apperr.KindPreconditionFailed, apperr.KindOf(err))

	third := f.ingest(t, models.SensorReading{FillLevel: 96, Timestamp: now.Add(2 * time.Minute)})
	require.Len(t, third.Alerts, 1)
	assert.NotEqual(t, active[0].ID, third.Alerts[0].ID)

	all, err := f.store.ListAlerts(context.Background(), database.AlertFilter{BinID: f.bin.ID, AlertType: models.AlertFullBin})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, f.activeAlerts(t, models.AlertFullBin), 1)
}

func TestAlertEscalatesAndRecovers(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	f.ingest(t, models.SensorReading{FillLevel: 84, Timestamp: now})
	active := f.activeAlerts(t, models.AlertFullBin)
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertPriorityMedium, active[0].Priority)

	res := f.ingest(t, models.SensorReading{FillLevel: 93, Timestamp: now.Add(time.Minute)})
	require.Len(t, res.Alerts, 1)
	escalated := f.activeAlerts(t, models.AlertFullBin)
	require.Len(t, escalated, 1)
	assert.Equal(t, active[0].ID, escalated[0].ID)
	assert.Equal(t, models.AlertPriorityHigh, escalated[0].Priority)

	// a lower reading never downgrades
	f.ingest(t, models.SensorReading{FillLevel: 85, Timestamp: now.Add(2 * time.Minute)})
	assert.Equal(t, models.AlertPriorityHigh, f.activeAlerts(t, models.AlertFullBin)[0].Priority)

	f.ingest(t, models.SensorReading{FillLevel: 5, Timestamp: now.Add(3 * time.Minute)})
	assert.Empty(t, f.activeAlerts(t, models.AlertFullBin))
}

func TestSensorHealthAlerts(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	res := f.ingest(t, models.SensorReading{
		FillLevel:      104,
		BatteryLevel:   ptr(8),
		SignalStrength: ptr(12),
		Temperature:    ptr(55),
		Timestamp:      now,
	})

	byType := map[string]string{}
	for _, a := range res.Alerts {
		byType[a.AlertType] = a.Priority
	}
	assert.Equal(t, map[string]string{
		models.AlertOverflow:        models.AlertPriorityCritical,
		models.AlertLowBattery:      models.AlertPriorityCritical,
		models.AlertWeakSignal:      models.AlertPriorityMedium,
		models.AlertHighTemperature: models.AlertPriorityHigh,
	}, byType)

	f.ingest(t, models.SensorReading{
		FillLevel:      30,
		BatteryLevel:   ptr(90),
		SignalStrength: ptr(80),
		Temperature:    ptr(20),
		Timestamp:      now.Add(time.Minute),
	})
	active, err := f.store.ListAlerts(context.Background(), database.AlertFilter{BinID: f.bin.ID, Status: "active"})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestConcurrentReadingsForOneBin(t *testing.T) {
	f := newFixture(t)
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ingestor.Ingest(context.Background(), models.SensorReading{
				BinID:     f.bin.ID,
				FillLevel: float64(i),
				Timestamp: base.Add(time.Duration(i) * time.Second),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	bin, err := f.store.GetBin(context.Background(), f.bin.ID)
	require.NoError(t, err)
	assert.Equal(t, 19.0, bin.FillLevel)
	assert.True(t, base.Add(19*time.Second).Equal(*bin.LastSeenAt))

	readings, err := f.store.ListReadings(context.Background(), f.bin.ID, 0)
	require.NoError(t, err)
	assert.Len(t, readings, 20)
}

func TestScannerRaisesTimeDrivenAlerts(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()
	longAgo := now.AddDate(0, 0, -120)
	lidOpened := now.Add(-15 * time.Minute)

	bin := &models.SmartBin{
		BinNumber:         "SB-2001",
		OwnerID:           "owner-1",
		WasteType:         models.WasteGeneral,
		LocationType:      models.LocationResidential,
		FillLevel:         10,
		LidOpen:           true,
		LidOpenedAt:       &lidOpened,
		LastCollectionAt:  &longAgo,
		LastMaintenanceAt: &longAgo,
	}
	require.NoError(t, store.CreateBin(ctx, bin))

	fresh := now
	healthy := &models.SmartBin{
		BinNumber:         "SB-2002",
		OwnerID:           "owner-1",
		WasteType:         models.WasteGeneral,
		LocationType:      models.LocationResidential,
		LastCollectionAt:  &fresh,
		LastMaintenanceAt: &fresh,
	}
	require.NoError(t, store.CreateBin(ctx, healthy))

	alerts := NewAlertGenerator(store, nil, nil, nil)
	scanner := NewScanner(store, lock.NewKeyedMutex(), alerts, collection.NewDispatcher(store, nil))

	report, err := scanner.ScanForMaintenance(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, report.BinsScanned)
	assert.Equal(t, 3, report.AlertsRaised)
	assert.Equal(t, 1, report.RequestsCreated)
	assert.Zero(t, report.Failures)

	active, err := store.ListAlerts(ctx, database.AlertFilter{BinID: bin.ID, Status: "active"})
	require.NoError(t, err)
	types := map[string]string{}
	for _, a := range active {
		types[a.AlertType] = a.Priority
	}
	assert.Equal(t, models.AlertPriorityMedium, types[models.AlertMaintenanceDue])
	assert.Equal(t, models.AlertPriorityHigh, types[models.AlertCollectionOverdue])
	assert.Equal(t, models.AlertPriorityMedium, types[models.AlertStuckLid])

	again, err := scanner.ScanForMaintenance(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, again.AlertsRaised)
	assert.Zero(t, again.RequestsCreated)
}

func TestStuckLidNeedsStillness(t *testing.T) {
	now := time.Now()
	opened := now.Add(-20 * time.Minute)
	recentMotion := now.Add(-2 * time.Minute)
	fresh := now

	bin := &models.SmartBin{
		BinNumber:         "SB-3001",
		LidOpen:           true,
		LidOpenedAt:       &opened,
		LastMotionAt:      &recentMotion,
		LastCollectionAt:  &fresh,
		LastMaintenanceAt: &fresh,
		WasteType:         models.WasteGeneral,
	}
	assert.Empty(t, TimeCandidates(bin, now))

	bin.LastMotionAt = nil
	got := TimeCandidates(bin, now)
	require.Len(t, got, 1)
	assert.Equal(t, models.AlertStuckLid, got[0].Type)
}

func TestSubscribeReadings(t *testing.T) {
	f := newFixture(t)
	bus := events.NewSyncBus()
	defer bus.Close()
	require.NoError(t, SubscribeReadings(bus, f.ingestor))

	require.NoError(t, bus.Publish(context.Background(), events.SubjectBinReadings, models.SensorReading{
		BinID:     f.bin.ID,
		FillLevel: 91,
		Timestamp: time.Now(),
	}))

	bin, err := f.store.GetBin(context.Background(), f.bin.ID)
	require.NoError(t, err)
	assert.Equal(t, 91.0, bin.FillLevel)
	assert.Len(t, f.activeAlerts(t, models.AlertFullBin), 1)
}
