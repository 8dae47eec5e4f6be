package pricing

import (
	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

// Built-in values used when no configuration or factor record overrides them
var (
	DefaultPlatformFeePercentage = decimal.NewFromInt(10)
	DefaultMinJobPrice           = decimal.NewFromInt(30)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultFactors returns the DEFAULT_* factor set. The time factor is present
// but inactive so surcharges apply only once a time record is configured.
func DefaultFactors() models.FactorSet {
	return models.FactorSet{
		Distance: models.DistanceFactor{
			BaseRatePerKm:                dec("2.50"),
			AdditionalDistanceThreshold:  dec("50"),
			AdditionalDistanceMultiplier: dec("1.20"),
		},
		Weight: models.WeightFactor{
			BaseRatePerKg:      dec("0.50"),
			HeavyItemThreshold: dec("50"),
			HeavyItemSurcharge: dec("25"),
		},
		Time: models.TimeFactor{
			PeakHourMultiplier: dec("1.25"),
			WeekendMultiplier:  dec("1.15"),
			HolidayMultiplier:  dec("1.50"),
			IsActive:           false,
		},
		Vehicles: []models.VehicleFactor{
			{VehicleType: "van", BaseRate: dec("40"), CapacityMultiplier: dec("1.0")},
			{VehicleType: "truck", BaseRate: dec("80"), CapacityMultiplier: dec("1.5")},
			{VehicleType: "compactor", BaseRate: dec("120"), CapacityMultiplier: dec("2.0")},
		},
		SpecialRequirement: models.SpecialRequirementFactor{
			FragileItemsMultiplier: dec("1.20"),
			AssemblyRequiredRate:   dec("35"),
			SpecialEquipmentRate:   dec("50"),
		},
		Staff: models.StaffFactor{
			HourlyRate:                dec("25"),
			OvertimeRateMultiplier:    dec("1.50"),
			SpecialistStaffMultiplier: dec("1.30"),
		},
		Insurance: models.InsuranceFactor{
			BaseRate:        dec("10"),
			ValuePercentage: dec("1.0"),
			MinPremium:      dec("15"),
		},
		LoadingTime: models.LoadingTimeFactor{
			RatePerHour: dec("30"),
			FreeMinutes: dec("30"),
		},
		PropertyTypes: []models.NamedMultiplier{
			{Key: "house", Multiplier: dec("1.0")},
			{Key: "apartment", Multiplier: dec("1.1")},
			{Key: "office", Multiplier: dec("1.2")},
			{Key: "industrial", Multiplier: dec("1.4")},
		},
		ServiceLevels: []models.NamedMultiplier{
			{Key: "economy", Multiplier: dec("0.9")},
			{Key: "standard", Multiplier: dec("1.0")},
			{Key: "express", Multiplier: dec("1.5")},
		},
		Weather: []models.NamedMultiplier{
			{Key: "clear", Multiplier: dec("1.0")},
			{Key: "rain", Multiplier: dec("1.1")},
			{Key: "snow", Multiplier: dec("1.3")},
		},
	}
}

// DefaultConfiguration is the configuration installed by the seed step
func DefaultConfiguration() models.PricingConfiguration {
	return models.PricingConfiguration{
		Name:                    "Default",
		IsActive:                true,
		IsDefault:               true,
		BasePrice:               dec("50"),
		MinPrice:                DefaultMinJobPrice,
		MaxPriceMultiplier:      dec("3"),
		PlatformFeePercentage:   decimal.NewNullDecimal(DefaultPlatformFeePercentage),
		FuelSurchargePercentage: dec("5"),
		CarbonOffsetRate:        dec("0.02"),
	}
}
