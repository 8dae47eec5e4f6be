package collection

import (
	"math"
	"time"

	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

const (
	HazardHigh   = "high"
	HazardMedium = "medium"
	HazardLow    = "low"
)

// collection frequency in days by waste type
var baseFrequencyDays = map[string]float64{
	models.WasteGeneral:    7,
	models.WasteRecyclable: 14,
	models.WasteOrganic:    3,
	models.WasteHazardous:  1,
	models.WasteElectronic: 30,
	models.WastePlastic:    14,
	models.WastePaper:      14,
	models.WasteGlass:      30,
	models.WasteMetal:      30,
}

var locationFactors = map[string]float64{
	models.LocationResidential: 1.0,
	models.LocationCommercial:  0.7,
	models.LocationIndustrial:  0.5,
	models.LocationPublic:      1.2,
}

// Frequency returns the collection interval in days. Unknown waste types use the
// general interval and unknown location types use a factor of 1.
func Frequency(wasteType, locationType string) float64 {
	days, ok := baseFrequencyDays[wasteType]
	if !ok {
		days = baseFrequencyDays[models.WasteGeneral]
	}
	factor, ok := locationFactors[locationType]
	if !ok {
		factor = 1.0
	}
	return days * factor
}

// DaysSinceCollection counts from the last collection, or from installation for a bin never collected
func DaysSinceCollection(bin *models.SmartBin, now time.Time) float64 {
	since := bin.CreatedAt
	if bin.LastCollectionAt != nil {
		since = *bin.LastCollectionAt
	}
	days := now.Sub(since).Hours() / 24
	if days < 0 {
		return 0
	}
	return days
}

func HazardLevel(wasteType string) string {
	switch wasteType {
	case models.WasteHazardous:
		return HazardHigh
	case models.WasteElectronic:
		return HazardMedium
	default:
		return HazardLow
	}
}

// NeedsCollection reports whether the bin is full enough, overdue, or hazardous and waiting too long
func NeedsCollection(bin *models.SmartBin, now time.Time) bool {
	if bin.FillLevel >= 80 {
		return true
	}
	days := DaysSinceCollection(bin, now)
	if days >= Frequency(bin.WasteType, bin.LocationType) {
		return true
	}
	return bin.WasteType == models.WasteHazardous && days >= 3
}

// CollectionPriority scores urgency in [0,100]
func CollectionPriority(bin *models.SmartBin, now time.Time) float64 {
	score := 0.6*bin.FillLevel + math.Min(5*DaysSinceCollection(bin, now), 30)

	switch HazardLevel(bin.WasteType) {
	case HazardHigh:
		score += 20
	case HazardMedium:
		score += 10
	}

	return math.Max(0, math.Min(score, 100))
}

// RequestPriority picks the service request priority for an auto-dispatched collection
func RequestPriority(bin *models.SmartBin) string {
	switch {
	case bin.FillLevel >= 100, bin.WasteType == models.WasteHazardous && bin.FillLevel >= 80:
		return models.PriorityUrgent
	case bin.FillLevel >= 90:
		return models.PriorityHigh
	case bin.FillLevel >= 80:
		return models.PriorityNormal
	default:
		return models.PriorityLow
	}
}

var baseServicePrices = map[string]decimal.Decimal{
	models.ServiceWasteCollection:         decimal.NewFromInt(50),
	models.ServiceRecycling:               decimal.NewFromInt(40),
	models.ServiceBinMaintenance:          decimal.NewFromInt(80),
	models.ServiceHazardousWaste:          decimal.NewFromInt(120),
	models.ServiceWasteAudit:              decimal.NewFromInt(150),
	models.ServiceEnvironmentalConsulting: decimal.NewFromInt(200),
}

var priorityMultipliers = map[string]decimal.Decimal{
	models.PriorityLow:    decimal.RequireFromString("0.8"),
	models.PriorityNormal: decimal.NewFromInt(1),
	models.PriorityHigh:   decimal.RequireFromString("1.2"),
	models.PriorityUrgent: decimal.RequireFromString("1.5"),
}

var (
	fullBinModifier   = decimal.RequireFromString("1.2")
	emptyBinModifier  = decimal.RequireFromString("0.8")
	instantModifier   = decimal.RequireFromString("1.3")
	recurringDiscount = decimal.RequireFromString("0.85")
)

func isCollectionService(serviceType string) bool {
	return serviceType == models.ServiceWasteCollection ||
		serviceType == models.ServiceRecycling ||
		serviceType == models.ServiceHazardousWaste
}

// QuoteBasePrice preseeds a request price from the base table and its modifiers
func QuoteBasePrice(serviceType string, fillLevel float64, priority string, instant, recurring bool) decimal.Decimal {
	price, ok := baseServicePrices[serviceType]
	if !ok {
		price = baseServicePrices[models.ServiceWasteCollection]
	}

	if isCollectionService(serviceType) {
		switch {
		case fillLevel >= 80:
			price = price.Mul(fullBinModifier)
		case fillLevel <= 20:
			price = price.Mul(emptyBinModifier)
		}
	}

	if m, ok := priorityMultipliers[priority]; ok {
		price = price.Mul(m)
	}
	if instant {
		price = price.Mul(instantModifier)
	}
	if recurring {
		price = price.Mul(recurringDiscount)
	}
	return price.Round(2)
}
