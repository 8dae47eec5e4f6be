package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/database"
	"wastelink-backend/internal/lock"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/collection"
)

const (
	// DefaultMaintenanceIntervalDays applies to bins without their own interval
	DefaultMaintenanceIntervalDays = 90
	// StuckLidAfter is how long a lid may stay open without motion
	StuckLidAfter = 10 * time.Minute

	scanPageSize = 200
)

// CollectionEvaluator re-runs the collection policy for a bin
type CollectionEvaluator interface {
	Evaluate(ctx context.Context, bin *models.SmartBin, now time.Time) (*models.ServiceRequest, error)
}

// ScanReport summarizes one scanner pass
type ScanReport struct {
	BinsScanned     int `json:"bins_scanned"`
	AlertsRaised    int `json:"alerts_raised"`
	RequestsCreated int `json:"requests_created"`
	Failures        int `json:"failures"`
}

// Scanner raises the time-driven alerts that no reading triggers
type Scanner struct {
	bins       database.BinStore
	locker     lock.Locker
	alerts     *AlertGenerator
	collection CollectionEvaluator
}

func NewScanner(bins database.BinStore, locker lock.Locker, alerts *AlertGenerator, policy CollectionEvaluator) *Scanner {
	return &Scanner{bins: bins, locker: locker, alerts: alerts, collection: policy}
}

// TimeCandidates returns the maintenance, overdue and stuck-lid candidates for a bin at now
func TimeCandidates(bin *models.SmartBin, now time.Time) []Candidate {
	var out []Candidate

	interval := bin.MaintenanceIntervalDays
	if interval <= 0 {
		interval = DefaultMaintenanceIntervalDays
	}
	since := bin.CreatedAt
	if bin.LastMaintenanceAt != nil {
		since = *bin.LastMaintenanceAt
	}
	if due := since.AddDate(0, 0, interval); !due.After(now) {
		out = append(out, Candidate{
			Type:     models.AlertMaintenanceDue,
			Priority: models.AlertPriorityMedium,
			Message:  fmt.Sprintf("Bin %s is due for maintenance (every %d days)", bin.BinNumber, interval),
			Metadata: map[string]interface{}{"due_at": due, "interval_days": interval},
		})
	}

	days := collection.DaysSinceCollection(bin, now)
	frequency := collection.Frequency(bin.WasteType, bin.LocationType)
	if days > frequency {
		priority := models.AlertPriorityMedium
		if days > 2*frequency {
			priority = models.AlertPriorityHigh
		}
		out = append(out, Candidate{
			Type:     models.AlertCollectionOverdue,
			Priority: priority,
			Message:  fmt.Sprintf("Bin %s has not been collected for %.1f days (every %.1f)", bin.BinNumber, days, frequency),
			Metadata: map[string]interface{}{"days_since_collection": days, "frequency_days": frequency},
		})
	}

	if bin.LidOpen && bin.LidOpenedAt != nil && now.Sub(*bin.LidOpenedAt) > StuckLidAfter {
		still := bin.LastMotionAt == nil || now.Sub(*bin.LastMotionAt) > StuckLidAfter
		if still {
			out = append(out, Candidate{
				Type:     models.AlertStuckLid,
				Priority: models.AlertPriorityMedium,
				Message:  fmt.Sprintf("Lid on bin %s has been open without motion since %s", bin.BinNumber, bin.LidOpenedAt.Format(time.Kitchen)),
				Metadata: map[string]interface{}{"lid_opened_at": *bin.LidOpenedAt},
			})
		}
	}

	for i := range out {
		out[i].Metadata["bin_number"] = bin.BinNumber
	}
	return out
}

// ScanForMaintenance walks every bin, raising time-driven alerts and
// re-evaluating the collection policy
func (s *Scanner) ScanForMaintenance(ctx context.Context, now time.Time) (ScanReport, error) {
	var report ScanReport

	for offset := 0; ; offset += scanPageSize {
		bins, err := s.bins.ListBins(ctx, database.BinFilter{Limit: scanPageSize, Offset: offset})
		if err != nil {
			return report, fmt.Errorf("failed to list bins: %w", err)
		}

		for i := range bins {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.BinsScanned++
			raised, created, err := s.scanBin(ctx, bins[i].ID, now)
			report.AlertsRaised += raised
			if created {
				report.RequestsCreated++
			}
			if err != nil {
				report.Failures++
				log.Printf("❌ [SCANNER] Bin %s: %v", bins[i].BinNumber, err)
			}
		}

		if len(bins) < scanPageSize {
			break
		}
	}
	return report, nil
}

func (s *Scanner) scanBin(ctx context.Context, binID string, now time.Time) (int, bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.BinKey(binID))
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	// reload under the lock so a concurrent reading is not overwritten
	bin, err := s.bins.GetBin(ctx, binID)
	if err != nil {
		return 0, false, err
	}

	raised := 0
	for _, c := range TimeCandidates(bin, now) {
		_, changed, err := s.alerts.Raise(ctx, bin, c)
		if err != nil {
			return raised, false, err
		}
		if changed {
			raised++
		}
	}

	if s.collection == nil {
		return raised, false, nil
	}
	req, err := s.collection.Evaluate(ctx, bin, now)
	if err != nil {
		return raised, false, err
	}
	return raised, req != nil, nil
}

// Run scans every interval until ctx is done
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			report, err := s.ScanForMaintenance(ctx, now)
			if err != nil {
				log.Printf("❌ [SCANNER] Scan failed: %v", err)
				continue
			}
			if report.AlertsRaised > 0 || report.RequestsCreated > 0 || report.Failures > 0 {
				log.Printf("🔍 [SCANNER] Scanned %d bins: %d alerts, %d collection requests, %d failures",
					report.BinsScanned, report.AlertsRaised, report.RequestsCreated, report.Failures)
			}
		}
	}
}
