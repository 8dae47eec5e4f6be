package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PricingConfiguration is a named set of pricing parameters. Exactly one row is active.
type PricingConfiguration struct {
	ID                      string          `json:"id" db:"id"`
	Name                    string          `json:"name" db:"name"`
	IsActive                bool            `json:"is_active" db:"is_active"`
	IsDefault               bool            `json:"is_default" db:"is_default"`
	BasePrice               decimal.Decimal `json:"base_price" db:"base_price"`
	MinPrice                decimal.Decimal `json:"min_price" db:"min_price"`
	MaxPriceMultiplier      decimal.Decimal `json:"max_price_multiplier" db:"max_price_multiplier"`
	// PlatformFeePercentage is null when the platform default applies
	PlatformFeePercentage   decimal.NullDecimal `json:"platform_fee_percentage" db:"platform_fee_percentage"`
	FuelSurchargePercentage decimal.Decimal `json:"fuel_surcharge_percentage" db:"fuel_surcharge_percentage"`
	CarbonOffsetRate        decimal.Decimal `json:"carbon_offset_rate" db:"carbon_offset_rate"`
	CreatedAt               time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at" db:"updated_at"`
}

type FactorKind string

const (
	FactorDistance           FactorKind = "distance"
	FactorWeight             FactorKind = "weight"
	FactorTime               FactorKind = "time"
	FactorVehicle            FactorKind = "vehicle"
	FactorSpecialRequirement FactorKind = "special_requirement"
	FactorStaff              FactorKind = "staff"
	FactorInsurance          FactorKind = "insurance"
	FactorLoadingTime        FactorKind = "loading_time"
	FactorPropertyType       FactorKind = "property_type"
	FactorServiceLevel       FactorKind = "service_level"
	FactorWeather            FactorKind = "weather"
)

// FactorKinds lists every kind the catalog understands
var FactorKinds = []FactorKind{
	FactorDistance, FactorWeight, FactorTime, FactorVehicle, FactorSpecialRequirement,
	FactorStaff, FactorInsurance, FactorLoadingTime, FactorPropertyType, FactorServiceLevel,
	FactorWeather,
}

func (k FactorKind) Valid() bool {
	for _, known := range FactorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// PricingFactor is one stored factor record. Params holds the kind-specific fields.
type PricingFactor struct {
	ID              string          `json:"id" db:"id"`
	ConfigurationID string          `json:"configuration_id" db:"configuration_id"`
	Kind            FactorKind      `json:"kind" db:"kind"`
	Name            string          `json:"name" db:"name"`
	Params          json.RawMessage `json:"params" db:"params"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type DistanceFactor struct {
	BaseRatePerKm                decimal.Decimal `json:"base_rate_per_km"`
	AdditionalDistanceThreshold  decimal.Decimal `json:"additional_distance_threshold"`
	AdditionalDistanceMultiplier decimal.Decimal `json:"additional_distance_multiplier"`
}

type WeightFactor struct {
	BaseRatePerKg      decimal.Decimal `json:"base_rate_per_kg"`
	HeavyItemThreshold decimal.Decimal `json:"heavy_item_threshold"`
	HeavyItemSurcharge decimal.Decimal `json:"heavy_item_surcharge"`
}

type TimeFactor struct {
	PeakHourMultiplier decimal.Decimal `json:"peak_hour_multiplier"`
	WeekendMultiplier  decimal.Decimal `json:"weekend_multiplier"`
	HolidayMultiplier  decimal.Decimal `json:"holiday_multiplier"`
	IsActive           bool            `json:"is_active"`
}

type VehicleFactor struct {
	VehicleType        string          `json:"vehicle_type"`
	BaseRate           decimal.Decimal `json:"base_rate"`
	CapacityMultiplier decimal.Decimal `json:"capacity_multiplier"`
}

type SpecialRequirementFactor struct {
	FragileItemsMultiplier decimal.Decimal `json:"fragile_items_multiplier"`
	AssemblyRequiredRate   decimal.Decimal `json:"assembly_required_rate"`
	SpecialEquipmentRate   decimal.Decimal `json:"special_equipment_rate"`
}

type StaffFactor struct {
	HourlyRate                decimal.Decimal `json:"hourly_rate"`
	OvertimeRateMultiplier    decimal.Decimal `json:"overtime_rate_multiplier"`
	SpecialistStaffMultiplier decimal.Decimal `json:"specialist_staff_multiplier"`
}

type InsuranceFactor struct {
	BaseRate        decimal.Decimal `json:"base_rate"`
	ValuePercentage decimal.Decimal `json:"value_percentage"` // percent of declared value
	MinPremium      decimal.Decimal `json:"min_premium"`
}

type LoadingTimeFactor struct {
	RatePerHour decimal.Decimal `json:"rate_per_hour"`
	FreeMinutes decimal.Decimal `json:"free_minutes"`
}

// NamedMultiplier covers the keyed kinds (property type, service level, weather)
type NamedMultiplier struct {
	Key        string          `json:"key"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// FactorSet is the decoded, read-only view of every factor kind for one configuration
type FactorSet struct {
	Distance           DistanceFactor           `json:"distance"`
	Weight             WeightFactor             `json:"weight"`
	Time               TimeFactor               `json:"time"`
	Vehicles           []VehicleFactor          `json:"vehicles"`
	SpecialRequirement SpecialRequirementFactor `json:"special_requirement"`
	Staff              StaffFactor              `json:"staff"`
	Insurance          InsuranceFactor          `json:"insurance"`
	LoadingTime        LoadingTimeFactor        `json:"loading_time"`
	PropertyTypes      []NamedMultiplier        `json:"property_types"`
	ServiceLevels      []NamedMultiplier        `json:"service_levels"`
	Weather            []NamedMultiplier        `json:"weather"`
}
