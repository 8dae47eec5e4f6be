package collection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/notify"
)

// Dispatcher creates a collection request when a bin crosses the policy thresholds
type Dispatcher struct {
	requests database.ServiceRequestStore
	notifier *notify.Service
}

func NewDispatcher(requests database.ServiceRequestStore, notifier *notify.Service) *Dispatcher {
	return &Dispatcher{requests: requests, notifier: notifier}
}

// Evaluate returns the created request, or nil when the bin needs nothing or
// already has an active request
func (d *Dispatcher) Evaluate(ctx context.Context, bin *models.SmartBin, now time.Time) (*models.ServiceRequest, error) {
	if !NeedsCollection(bin, now) {
		return nil, nil
	}

	active, err := d.requests.HasActiveRequestForBin(ctx, bin.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active requests for bin %s: %w", bin.ID, err)
	}
	if active {
		return nil, nil
	}

	req := BuildRequest(bin, now)
	if err := d.requests.CreateServiceRequest(ctx, req); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// another evaluation won the race
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create collection request for bin %s: %w", bin.ID, err)
	}

	log.Printf("🚛 [DISPATCH] Created %s collection request %s for bin %s (fill %.0f%%, priority score %.1f)",
		req.Priority, req.ID, bin.BinNumber, bin.FillLevel, *req.CollectionPriority)

	d.notifier.Notify(ctx, bin.OwnerID, notify.Message{
		Type:  models.NotifyNewRequest,
		Title: "Collection scheduled",
		Body:  fmt.Sprintf("Bin %s is %.0f%% full. A collection request was created.", bin.BinNumber, bin.FillLevel),
		Data:  map[string]string{"request_id": req.ID, "bin_id": bin.ID},
	})
	d.notifier.NotifyRole(ctx, models.RoleProvider, notify.Message{
		Type:  models.NotifyNewRequest,
		Title: "New collection request",
		Body:  fmt.Sprintf("%s priority pickup for bin %s", req.Priority, bin.BinNumber),
		Data:  map[string]string{"request_id": req.ID},
	})

	return req, nil
}

// ObserveReading runs the policy after a reading has updated the bin
func (d *Dispatcher) ObserveReading(ctx context.Context, bin *models.SmartBin, reading *models.SensorReading) {
	if _, err := d.Evaluate(ctx, bin, reading.Timestamp); err != nil {
		log.Printf("❌ [DISPATCH] %v", err)
	}
}

// BuildRequest assembles the auto-dispatched request for a bin
func BuildRequest(bin *models.SmartBin, now time.Time) *models.ServiceRequest {
	priority := RequestPriority(bin)
	instant := bin.FillLevel >= 90
	score := CollectionPriority(bin, now)
	binID := bin.ID
	wasteType := bin.WasteType

	price := QuoteBasePrice(models.ServiceWasteCollection, bin.FillLevel, priority, instant, false)

	return &models.ServiceRequest{
		CustomerID:              bin.OwnerID,
		SmartBinID:              &binID,
		ServiceType:             models.ServiceWasteCollection,
		WasteType:               &wasteType,
		Priority:                priority,
		Status:                  models.RequestDraft,
		PaymentStatus:           models.PaymentStatusPending,
		IsInstant:               instant,
		RequiresSpecialHandling: HazardLevel(bin.WasteType) == HazardHigh,
		EstimatedWeightKg:       bin.CurrentWeightKg,
		StaffRequired:           1,
		BasePrice:               price,
		FinalPrice:              price,
		CollectionPriority:      &score,
		Stops: []models.JourneyStop{{
			Sequence:  1,
			StopType:  models.StopPickup,
			Latitude:  bin.Latitude,
			Longitude: bin.Longitude,
			Address:   "Smart bin " + bin.BinNumber,
		}},
	}
}
