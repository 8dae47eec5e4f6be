package lifecycle

import (
	"context"
	"fmt"
	"log"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/geo"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/collection"
	"wastelink-backend/internal/services/matching"
	"wastelink-backend/internal/services/notify"
)

var knownServiceTypes = map[string]bool{
	models.ServiceWasteCollection:         true,
	models.ServiceRecycling:               true,
	models.ServiceHazardousWaste:          true,
	models.ServiceBinMaintenance:          true,
	models.ServiceWasteAudit:              true,
	models.ServiceEnvironmentalConsulting: true,
	models.ServiceMoving:                  true,
	models.ServiceDelivery:                true,
}

var knownPriorities = map[string]bool{
	models.PriorityLow:    true,
	models.PriorityNormal: true,
	models.PriorityHigh:   true,
	models.PriorityUrgent: true,
}

// ValidateRequest checks a customer-submitted request and fills defaults
func ValidateRequest(req *models.ServiceRequest) error {
	if req.CustomerID == "" {
		return apperr.InvalidInput("customer_id is required")
	}
	if !knownServiceTypes[req.ServiceType] {
		return apperr.InvalidInput("unknown service_type %q", req.ServiceType)
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !knownPriorities[req.Priority] {
		return apperr.InvalidInput("unknown priority %q", req.Priority)
	}
	if len(req.Stops) == 0 {
		return apperr.InvalidInput("at least one stop is required")
	}
	for i, s := range req.Stops {
		if !(geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}).Valid() {
			return apperr.InvalidInput("stop %d has invalid coordinates", i+1)
		}
	}
	if req.StaffRequired <= 0 {
		req.StaffRequired = 1
	}
	if req.EstimatedDistanceKm < 0 || req.EstimatedWeightKg < 0 {
		return apperr.InvalidInput("estimated distance and weight must be >= 0")
	}
	if req.InsuranceValue.IsNegative() || req.FinalPrice.IsNegative() {
		return apperr.InvalidInput("prices must be >= 0")
	}
	return nil
}

// CreateRequest stores a new draft request with ordered stops and a preseeded
// price, then tells providers about it
func (c *Coordinator) CreateRequest(ctx context.Context, req *models.ServiceRequest) (*models.ServiceRequest, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	req.Status = models.RequestDraft
	req.PaymentStatus = models.PaymentStatusPending
	req.AssignedProviderID = nil
	req.Stops = matching.NewRouteOptimizer().OptimizeStops(req.Stops)
	if req.EstimatedDistanceKm == 0 && len(req.Stops) > 1 {
		req.EstimatedDistanceKm = matching.TotalDistanceKm(req.Stops)
	}

	req.BasePrice = collection.QuoteBasePrice(req.ServiceType, 50, req.Priority, req.IsInstant, req.IsRecurring)
	if req.FinalPrice.IsZero() {
		req.FinalPrice = req.BasePrice
	}

	if err := c.store.CreateServiceRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create service request: %w", err)
	}
	log.Printf("📝 [LIFECYCLE] Request %s created (%s, %d stops, %s)", req.ID, req.ServiceType, len(req.Stops), req.FinalPrice.StringFixed(2))

	c.notifier.NotifyRole(ctx, models.RoleProvider, notify.Message{
		Type:  models.NotifyNewRequest,
		Title: "New service request",
		Body:  fmt.Sprintf("%s %s request", req.Priority, humanize(req.ServiceType)),
		Data:  map[string]string{"request_id": req.ID},
	})
	return req, nil
}
