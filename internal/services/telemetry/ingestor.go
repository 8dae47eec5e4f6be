package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/models"
)

// Observer is notified after a reading has updated a bin's derived state
type Observer interface {
	ObserveReading(ctx context.Context, bin *models.SmartBin, reading *models.SensorReading)
}

// Result describes what one ingested reading changed. Stale is set when the
// reading is older than the bin's last_seen_at; it was stored as history and
// the derived state was left alone.
type Result struct {
	Bin     *models.SmartBin     `json:"bin"`
	Reading models.SensorReading `json:"reading"`
	Stale   bool                 `json:"stale"`
	Alerts  []models.BinAlert    `json:"alerts"`
}

// Ingestor applies sensor readings to bins, one bin at a time
type Ingestor struct {
	bins      database.BinStore
	locker    lock.Locker
	alerts    *AlertGenerator
	observers []Observer
	now       func() time.Time
}

func NewIngestor(bins database.BinStore, locker lock.Locker, alerts *AlertGenerator, observers ...Observer) *Ingestor {
	return &Ingestor{bins: bins, locker: locker, alerts: alerts, observers: observers, now: time.Now}
}

// Ingest validates and applies one reading. The bin row is compare-and-set on
// updated_at and retried once on conflict.
func (i *Ingestor) Ingest(ctx context.Context, reading models.SensorReading) (*Result, error) {
	if err := ValidateReading(&reading); err != nil {
		return nil, err
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = i.now()
	}

	unlock, err := i.locker.Lock(ctx, lock.BinKey(reading.BinID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalUnavailable, err, "failed to lock bin %s", reading.BinID)
	}
	defer unlock()

	var bin *models.SmartBin
	for attempt := 0; ; attempt++ {
		current, err := i.bins.GetBin(ctx, reading.BinID)
		if err != nil {
			return nil, err
		}

		if current.LastSeenAt != nil && reading.Timestamp.Before(*current.LastSeenAt) {
			if err := i.bins.ApplyReading(ctx, &reading, nil, time.Time{}); err != nil {
				return nil, fmt.Errorf("failed to store stale reading for bin %s: %w", reading.BinID, err)
			}
			log.Printf("⚠️  [INGEST] Reading for bin %s at %s is older than last seen %s, stored as history",
				current.BinNumber, reading.Timestamp.Format(time.RFC3339), current.LastSeenAt.Format(time.RFC3339))
			return &Result{Bin: current, Reading: reading, Stale: true}, nil
		}

		updated := Derive(current, &reading)
		err = i.bins.ApplyReading(ctx, &reading, updated, current.UpdatedAt)
		if err == nil {
			bin = updated
			break
		}
		if errors.Is(err, apperr.ErrConflict) && attempt == 0 {
			log.Printf("⚠️  [INGEST] Bin %s changed concurrently, retrying", reading.BinID)
			continue
		}
		return nil, fmt.Errorf("failed to apply reading to bin %s: %w", reading.BinID, err)
	}

	result := &Result{Bin: bin, Reading: reading}
	if i.alerts != nil {
		alerts, err := i.alerts.Process(ctx, bin, &reading)
		if err != nil {
			log.Printf("❌ [INGEST] Alert evaluation for bin %s failed: %v", bin.BinNumber, err)
		}
		result.Alerts = alerts
	}

	for _, o := range i.observers {
		o.ObserveReading(ctx, bin, &reading)
	}
	return result, nil
}

// IngestBatch applies readings independently; a bad reading fails alone
func (i *Ingestor) IngestBatch(ctx context.Context, readings []models.SensorReading) ([]*Result, []error) {
	results := make([]*Result, len(readings))
	errs := make([]error, len(readings))
	for n, r := range readings {
		results[n], errs[n] = i.Ingest(ctx, r)
	}
	return results, errs
}

// Derive computes the bin state after a reading; channels the sensor did not
// report keep their previous value
func Derive(bin *models.SmartBin, r *models.SensorReading) *models.SmartBin {
	next := *bin
	ts := r.Timestamp

	next.FillLevel = r.FillLevel
	next.FillStatus = FillStatusFor(r.FillLevel)
	if r.WeightKg != nil {
		next.CurrentWeightKg = *r.WeightKg
	}
	if r.BatteryLevel != nil {
		next.BatteryLevel = r.BatteryLevel
	}
	if r.SignalStrength != nil {
		next.SignalStrength = r.SignalStrength
	}
	if r.Temperature != nil {
		next.Temperature = r.Temperature
	}
	if r.Humidity != nil {
		next.Humidity = r.Humidity
	}
	if r.SensorID != nil && next.SensorID == nil {
		next.SensorID = r.SensorID
	}

	switch {
	case r.LidOpen && !bin.LidOpen:
		next.LidOpenedAt = &ts
	case !r.LidOpen:
		next.LidOpenedAt = nil
	}
	next.LidOpen = r.LidOpen

	if r.MotionDetected {
		next.LastMotionAt = &ts
	}

	next.Online = true
	next.LastSeenAt = &ts
	return &next
}
