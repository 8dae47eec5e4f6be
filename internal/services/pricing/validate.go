package pricing

import (
	"encoding/json"
	"fmt"
	"strings"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ValidateConfiguration checks the ranges a configuration must satisfy before it is stored
func ValidateConfiguration(cfg *models.PricingConfiguration) error {
	var problems []string

	if strings.TrimSpace(cfg.Name) == "" {
		problems = append(problems, "name is required")
	}
	if cfg.BasePrice.IsNegative() {
		problems = append(problems, "base_price must be >= 0")
	}
	if cfg.MinPrice.IsNegative() {
		problems = append(problems, "min_price must be >= 0")
	}
	if cfg.MaxPriceMultiplier.LessThan(one) {
		problems = append(problems, "max_price_multiplier must be >= 1")
	}
	if fee := cfg.PlatformFeePercentage; fee.Valid && (fee.Decimal.IsNegative() || fee.Decimal.GreaterThan(hundred)) {
		problems = append(problems, "platform_fee_percentage must be within [0,100]")
	}
	if cfg.FuelSurchargePercentage.IsNegative() {
		problems = append(problems, "fuel_surcharge_percentage must be >= 0")
	}
	if cfg.CarbonOffsetRate.IsNegative() {
		problems = append(problems, "carbon_offset_rate must be >= 0")
	}

	if len(problems) > 0 {
		return apperr.InvalidInput("invalid pricing configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateFactor decodes params for the factor's kind and rejects negative values.
// Multipliers below 1.0 are discounts and remain valid.
func ValidateFactor(f *models.PricingFactor) error {
	if !f.Kind.Valid() {
		return apperr.InvalidInput("unknown factor kind %q", f.Kind)
	}
	if f.ConfigurationID == "" {
		return apperr.InvalidInput("configuration_id is required")
	}

	target, err := decodeFactor(f.Kind, f.Params)
	if err != nil {
		return apperr.InvalidInput("invalid %s factor params: %v", f.Kind, err)
	}
	for _, field := range numericFields(target) {
		if field.value.IsNegative() {
			return apperr.InvalidInput("%s factor field %s must be >= 0", f.Kind, field.name)
		}
	}
	return nil
}

// decodeFactor unmarshals params into the typed struct for kind
func decodeFactor(kind models.FactorKind, params json.RawMessage) (interface{}, error) {
	var target interface{}
	switch kind {
	case models.FactorDistance:
		target = &models.DistanceFactor{}
	case models.FactorWeight:
		target = &models.WeightFactor{}
	case models.FactorTime:
		target = &models.TimeFactor{}
	case models.FactorVehicle:
		target = &models.VehicleFactor{}
	case models.FactorSpecialRequirement:
		target = &models.SpecialRequirementFactor{}
	case models.FactorStaff:
		target = &models.StaffFactor{}
	case models.FactorInsurance:
		target = &models.InsuranceFactor{}
	case models.FactorLoadingTime:
		target = &models.LoadingTimeFactor{}
	case models.FactorPropertyType, models.FactorServiceLevel, models.FactorWeather:
		target = &models.NamedMultiplier{}
	default:
		return nil, fmt.Errorf("unknown factor kind %q", kind)
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	decoder := json.NewDecoder(strings.NewReader(string(params)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return nil, err
	}
	return target, nil
}

type namedValue struct {
	name  string
	value decimal.Decimal
}

func numericFields(target interface{}) []namedValue {
	switch f := target.(type) {
	case *models.DistanceFactor:
		return []namedValue{
			{"base_rate_per_km", f.BaseRatePerKm},
			{"additional_distance_threshold", f.AdditionalDistanceThreshold},
			{"additional_distance_multiplier", f.AdditionalDistanceMultiplier},
		}
	case *models.WeightFactor:
		return []namedValue{
			{"base_rate_per_kg", f.BaseRatePerKg},
			{"heavy_item_threshold", f.HeavyItemThreshold},
			{"heavy_item_surcharge", f.HeavyItemSurcharge},
		}
	case *models.TimeFactor:
		return []namedValue{
			{"peak_hour_multiplier", f.PeakHourMultiplier},
			{"weekend_multiplier", f.WeekendMultiplier},
			{"holiday_multiplier", f.HolidayMultiplier},
		}
	case *models.VehicleFactor:
		return []namedValue{{"base_rate", f.BaseRate}, {"capacity_multiplier", f.CapacityMultiplier}}
	case *models.SpecialRequirementFactor:
		return []namedValue{
			{"fragile_items_multiplier", f.FragileItemsMultiplier},
			{"assembly_required_rate", f.AssemblyRequiredRate},
			{"special_equipment_rate", f.SpecialEquipmentRate},
		}
	case *models.StaffFactor:
		return []namedValue{
			{"hourly_rate", f.HourlyRate},
			{"overtime_rate_multiplier", f.OvertimeRateMultiplier},
			{"specialist_staff_multiplier", f.SpecialistStaffMultiplier},
		}
	case *models.InsuranceFactor:
		return []namedValue{
			{"base_rate", f.BaseRate},
			{"value_percentage", f.ValuePercentage},
			{"min_premium", f.MinPremium},
		}
	case *models.LoadingTimeFactor:
		return []namedValue{{"rate_per_hour", f.RatePerHour}, {"free_minutes", f.FreeMinutes}}
	case *models.NamedMultiplier:
		return []namedValue{{"multiplier", f.Multiplier}}
	}
	return nil
}
