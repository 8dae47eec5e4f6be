package telemetry

import (
	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"
)

// MaxFillLevel allows sensors to report past 100 so overflow can be detected
const MaxFillLevel = 110

// FillStatusFor buckets a fill level: empty [0,20], low (20,40], medium (40,60],
// high (60,80], full (80,100], overflow above 100
func FillStatusFor(level float64) string {
	switch {
	case level <= 20:
		return models.FillEmpty
	case level <= 40:
		return models.FillLow
	case level <= 60:
		return models.FillMedium
	case level <= 80:
		return models.FillHigh
	case level <= 100:
		return models.FillFull
	default:
		return models.FillOverflow
	}
}

func percentInRange(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 100) {
		return apperr.InvalidInput("%s must be within [0,100], got %v", name, *v)
	}
	return nil
}

// ValidateReading rejects readings with out-of-range channels
func ValidateReading(r *models.SensorReading) error {
	if r.BinID == "" {
		return apperr.InvalidInput("bin_id is required")
	}
	if r.FillLevel < 0 || r.FillLevel > MaxFillLevel {
		return apperr.InvalidInput("fill_level must be within [0,%d], got %v", MaxFillLevel, r.FillLevel)
	}
	if r.WeightKg != nil && *r.WeightKg < 0 {
		return apperr.InvalidInput("weight_kg must be >= 0, got %v", *r.WeightKg)
	}
	if err := percentInRange("battery_level", r.BatteryLevel); err != nil {
		return err
	}
	if err := percentInRange("signal_strength", r.SignalStrength); err != nil {
		return err
	}
	return percentInRange("humidity", r.Humidity)
}
