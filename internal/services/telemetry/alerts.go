package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/events"
	"wastelink-backend/internal/models"
	"wastelink-backend/internal/services/notify"
)

// Candidate is an alert a rule wants raised
type Candidate struct {
	Type     string
	Priority string
	Message  string
	Metadata map[string]interface{}
}

const (
	AlertCreated   = "created"
	AlertEscalated = "escalated"
	AlertResolved  = "resolved"
)

// AlertEvent is published on bins.alerts and pushed to websocket clients
type AlertEvent struct {
	Type   string           `json:"type"`
	Action string           `json:"action"`
	Alert  *models.BinAlert `json:"alert"`
}

// AlertGenerator turns readings into deduplicated bin alerts
type AlertGenerator struct {
	store    database.AlertStore
	bus      events.Bus
	notifier *notify.Service
	hub      notify.Broadcaster
	now      func() time.Time
}

func NewAlertGenerator(store database.AlertStore, bus events.Bus, notifier *notify.Service, hub notify.Broadcaster) *AlertGenerator {
	return &AlertGenerator{store: store, bus: bus, notifier: notifier, hub: hub, now: time.Now}
}

// Evaluate applies the reading rules. It returns at most one candidate per alert type.
func (g *AlertGenerator) Evaluate(bin *models.SmartBin, r *models.SensorReading) []Candidate {
	var out []Candidate

	switch {
	case r.FillLevel >= 100:
		out = append(out, Candidate{
			Type:     models.AlertOverflow,
			Priority: models.AlertPriorityCritical,
			Message:  fmt.Sprintf("Bin %s is overflowing (%.0f%%)", bin.BinNumber, r.FillLevel),
			Metadata: map[string]interface{}{"fill_level": r.FillLevel},
		})
	case r.FillLevel >= 90:
		out = append(out, Candidate{
			Type:     models.AlertFullBin,
			Priority: models.AlertPriorityHigh,
			Message:  fmt.Sprintf("Bin %s is %.0f%% full", bin.BinNumber, r.FillLevel),
			Metadata: map[string]interface{}{"fill_level": r.FillLevel},
		})
	case r.FillLevel >= 80:
		out = append(out, Candidate{
			Type:     models.AlertFullBin,
			Priority: models.AlertPriorityMedium,
			Message:  fmt.Sprintf("Bin %s is %.0f%% full", bin.BinNumber, r.FillLevel),
			Metadata: map[string]interface{}{"fill_level": r.FillLevel},
		})
	}

	if r.BatteryLevel != nil && *r.BatteryLevel < 20 {
		priority := models.AlertPriorityHigh
		if *r.BatteryLevel < 10 {
			priority = models.AlertPriorityCritical
		}
		out = append(out, Candidate{
			Type:     models.AlertLowBattery,
			Priority: priority,
			Message:  fmt.Sprintf("Sensor battery on bin %s is at %.0f%%", bin.BinNumber, *r.BatteryLevel),
			Metadata: map[string]interface{}{"battery_level": *r.BatteryLevel},
		})
	}

	if r.SignalStrength != nil && *r.SignalStrength < 25 {
		out = append(out, Candidate{
			Type:     models.AlertWeakSignal,
			Priority: models.AlertPriorityMedium,
			Message:  fmt.Sprintf("Weak signal from bin %s (%.0f%%)", bin.BinNumber, *r.SignalStrength),
			Metadata: map[string]interface{}{"signal_strength": *r.SignalStrength},
		})
	}

	if r.Temperature != nil && *r.Temperature >= 50 {
		out = append(out, Candidate{
			Type:     models.AlertHighTemperature,
			Priority: models.AlertPriorityHigh,
			Message:  fmt.Sprintf("High temperature in bin %s (%.1f°C)", bin.BinNumber, *r.Temperature),
			Metadata: map[string]interface{}{"temperature": *r.Temperature},
		})
	}

	for i := range out {
		out[i].Metadata["bin_number"] = bin.BinNumber
		if r.ID != "" {
			out[i].Metadata["reading_id"] = r.ID
		}
	}
	return out
}

// Recoveries lists the alert types a reading clears
func (g *AlertGenerator) Recoveries(r *models.SensorReading) []string {
	var cleared []string
	if r.FillLevel < 100 {
		cleared = append(cleared, models.AlertOverflow)
	}
	if r.FillLevel < 80 {
		cleared = append(cleared, models.AlertFullBin)
	}
	if r.BatteryLevel != nil && *r.BatteryLevel >= 20 {
		cleared = append(cleared, models.AlertLowBattery)
	}
	if r.SignalStrength != nil && *r.SignalStrength >= 25 {
		cleared = append(cleared, models.AlertWeakSignal)
	}
	if r.Temperature != nil && *r.Temperature < 50 {
		cleared = append(cleared, models.AlertHighTemperature)
	}
	if !r.LidOpen {
		cleared = append(cleared, models.AlertStuckLid)
	}
	return cleared
}

// Process resolves recovered conditions and raises the reading's candidates.
// It returns the alerts that were created or escalated.
func (g *AlertGenerator) Process(ctx context.Context, bin *models.SmartBin, r *models.SensorReading) ([]models.BinAlert, error) {
	for _, alertType := range g.Recoveries(r) {
		if err := g.resolveActive(ctx, bin, alertType); err != nil {
			return nil, err
		}
	}

	var raised []models.BinAlert
	for _, c := range g.Evaluate(bin, r) {
		alert, changed, err := g.Raise(ctx, bin, c)
		if err != nil {
			return raised, err
		}
		if changed {
			raised = append(raised, *alert)
		}
	}
	return raised, nil
}

// Raise inserts the candidate unless an active alert of the same type exists.
// An existing alert with a lower priority is escalated in place.
// changed reports whether anything was written.
func (g *AlertGenerator) Raise(ctx context.Context, bin *models.SmartBin, c Candidate) (*models.BinAlert, bool, error) {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil || c.Metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	var existing *models.BinAlert
	for attempt := 0; existing == nil; attempt++ {
		alert := &models.BinAlert{
			BinID:     bin.ID,
			AlertType: c.Type,
			Priority:  c.Priority,
			Message:   c.Message,
			Metadata:  metadata,
		}
		created, err := g.store.CreateAlertIfAbsent(ctx, alert)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create %s alert for bin %s: %w", c.Type, bin.ID, err)
		}
		if created {
			log.Printf("🚨 [ALERTS] %s alert (%s) raised for bin %s: %s", c.Type, c.Priority, bin.BinNumber, c.Message)
			g.announce(ctx, bin, AlertCreated, alert)
			return alert, true, nil
		}

		existing, err = g.store.GetActiveAlert(ctx, bin.ID, c.Type)
		if errors.Is(err, apperr.ErrNotFound) && attempt == 0 {
			// resolved between the insert attempt and the lookup
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load active %s alert for bin %s: %w", c.Type, bin.ID, err)
		}
	}

	if models.AlertPriorityRank(c.Priority) <= models.AlertPriorityRank(existing.Priority) {
		return existing, false, nil
	}

	if err := g.store.EscalateAlert(ctx, existing.ID, c.Priority, c.Message); err != nil {
		return nil, false, fmt.Errorf("failed to escalate alert %s: %w", existing.ID, err)
	}
	log.Printf("⚠️  [ALERTS] %s alert on bin %s escalated %s → %s", c.Type, bin.BinNumber, existing.Priority, c.Priority)
	existing.Priority = c.Priority
	existing.Message = c.Message
	g.announce(ctx, bin, AlertEscalated, existing)
	return existing, true, nil
}

func (g *AlertGenerator) resolveActive(ctx context.Context, bin *models.SmartBin, alertType string) error {
	active, err := g.store.GetActiveAlert(ctx, bin.ID, alertType)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active %s alert for bin %s: %w", alertType, bin.ID, err)
	}

	at := g.now()
	if err := g.store.ResolveAlert(ctx, active.ID, at, nil); err != nil {
		if errors.Is(err, apperr.ErrPreconditionFailed) {
			return nil
		}
		return fmt.Errorf("failed to resolve alert %s: %w", active.ID, err)
	}
	log.Printf("✅ [ALERTS] %s alert on bin %s cleared by new reading", alertType, bin.BinNumber)

	active.IsResolved = true
	active.ResolvedAt = &at
	g.publish(ctx, AlertResolved, active)
	return nil
}

// Resolve marks an alert resolved by a user
func (g *AlertGenerator) Resolve(ctx context.Context, alertID string, resolvedBy *string) (*models.BinAlert, error) {
	at := g.now()
	if err := g.store.ResolveAlert(ctx, alertID, at, resolvedBy); err != nil {
		return nil, err
	}
	alert, err := g.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	g.publish(ctx, AlertResolved, alert)
	return alert, nil
}

func (g *AlertGenerator) publish(ctx context.Context, action string, alert *models.BinAlert) {
	ev := AlertEvent{Type: "bin_alert", Action: action, Alert: alert}
	if g.bus != nil {
		if err := g.bus.Publish(ctx, events.SubjectBinAlerts, ev); err != nil {
			log.Printf("⚠️  [ALERTS] Failed to publish alert %s: %v", alert.ID, err)
		}
	}
	if g.hub != nil {
		g.hub.BroadcastToRole(models.RoleAdmin, ev)
	}
}

func (g *AlertGenerator) announce(ctx context.Context, bin *models.SmartBin, action string, alert *models.BinAlert) {
	g.publish(ctx, action, alert)
	g.notifier.Notify(ctx, bin.OwnerID, notify.Message{
		Type:  models.NotifyBinAlert,
		Title: "Bin alert",
		Body:  alert.Message,
		Data: map[string]string{
			"alert_id":   alert.ID,
			"alert_type": alert.AlertType,
			"priority":   alert.Priority,
			"bin_id":     bin.ID,
		},
	})
}
