package pricing

import (
	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

// OperationalOverhead lists the platform overhead percentages that add to the commission
type OperationalOverhead struct {
	PaymentProcessing decimal.Decimal `json:"payment_processing"`
	Insurance         decimal.Decimal `json:"insurance"`
	Support           decimal.Decimal `json:"support"`
	Acquisition       decimal.Decimal `json:"acquisition"`
	Tax               decimal.Decimal `json:"tax"`
	SpecialHandling   decimal.Decimal `json:"special_handling"`
	InsuranceRequired decimal.Decimal `json:"insurance_required"`
}

func (o OperationalOverhead) Total() decimal.Decimal {
	return decimal.Sum(o.PaymentProcessing, o.Insurance, o.Support, o.Acquisition,
		o.Tax, o.SpecialHandling, o.InsuranceRequired)
}

type CompensationBreakdown struct {
	BaseCommissionPercentage  decimal.Decimal     `json:"base_commission_percentage"`
	Operational               OperationalOverhead `json:"operational"`
	OperationalPercentage     decimal.Decimal     `json:"operational_percentage"`
	TotalPlatformPercentage   decimal.Decimal     `json:"total_platform_percentage"`
	ComplexityLevel           ComplexityLevel     `json:"complexity_level"`
	ComplexityAdjustment      decimal.Decimal     `json:"complexity_adjustment"`
	MinimumPaymentApplied     bool                `json:"minimum_payment_applied"`
	DriverPercentageUnclamped decimal.Decimal     `json:"driver_percentage_unclamped"`
}

// DriverCompensation splits a customer price between the driver and the platform
type DriverCompensation struct {
	CustomerPrice      decimal.Decimal       `json:"customer_price"`
	DriverPayment      decimal.Decimal       `json:"driver_payment"`
	PlatformCommission decimal.Decimal       `json:"platform_commission"`
	DriverPercentage   decimal.Decimal       `json:"driver_percentage"`
	PlatformPercentage decimal.Decimal       `json:"platform_percentage"`
	Breakdown          CompensationBreakdown `json:"breakdown"`
}

var (
	minPlatformPct     = decimal.NewFromInt(20)
	maxPlatformPct     = decimal.NewFromInt(35)
	minDriverPct       = decimal.NewFromInt(65)
	maxDriverPct       = decimal.NewFromInt(80)
	minDriverPayment   = decimal.NewFromInt(20)
	minPaymentPriceCap = decimal.NewFromInt(30)
)

// CommissionForPrice returns the base commission percentage for a price tier
func CommissionForPrice(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThanOrEqual(decimal.NewFromInt(50)):
		return decimal.NewFromInt(30)
	case price.LessThanOrEqual(decimal.NewFromInt(100)):
		return decimal.NewFromInt(25)
	case price.LessThanOrEqual(decimal.NewFromInt(200)):
		return decimal.NewFromInt(22)
	case price.LessThanOrEqual(decimal.NewFromInt(500)):
		return decimal.NewFromInt(20)
	default:
		return decimal.NewFromInt(18)
	}
}

func overheadFor(req *models.ServiceRequest) OperationalOverhead {
	o := OperationalOverhead{
		PaymentProcessing: decimal.NewFromInt(2),
		Insurance:         decimal.NewFromInt(1),
		Support:           decimal.NewFromInt(1),
		Acquisition:       decimal.NewFromInt(3),
		Tax:               decimal.NewFromInt(2),
	}
	if req.RequiresSpecialHandling {
		o.SpecialHandling = decimal.NewFromInt(2)
	}
	if req.InsuranceRequired {
		o.InsuranceRequired = decimal.NewFromInt(1)
	}
	return o
}

func complexityAdjustment(level ComplexityLevel) decimal.Decimal {
	switch level {
	case LevelSimple:
		return decimal.NewFromInt(-2)
	case LevelComplex:
		return decimal.NewFromInt(2)
	case LevelPremium:
		return decimal.NewFromInt(3)
	default:
		return decimal.Zero
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Compensation computes the driver payment for a customer price. The driver
// payment and platform commission always sum to the rounded customer price.
func Compensation(req *models.ServiceRequest, customerPrice decimal.Decimal) (*DriverCompensation, error) {
	if customerPrice.IsNegative() {
		return nil, apperr.InvalidInput("customer_price must be >= 0, got %s", customerPrice)
	}

	complexity := ScoreComplexity(req)
	baseCommission := CommissionForPrice(customerPrice)
	overhead := overheadFor(req)
	operationalPct := overhead.Total()

	platformPct := clamp(baseCommission.Add(operationalPct), minPlatformPct, maxPlatformPct)
	adjustment := complexityAdjustment(complexity.Level)

	unclamped := hundred.Sub(platformPct).Add(adjustment)
	driverPct := clamp(unclamped, minDriverPct, maxDriverPct)

	price := customerPrice.Round(2)
	payment := price.Mul(driverPct).Div(hundred).Round(2)

	minimumApplied := false
	if payment.LessThan(minDriverPayment) && price.GreaterThan(minPaymentPriceCap) {
		payment = minDriverPayment
		minimumApplied = true
	}
	commission := price.Sub(payment)

	effectiveDriverPct := driverPct
	if minimumApplied {
		effectiveDriverPct = payment.Div(price).Mul(hundred).Round(2)
	}

	return &DriverCompensation{
		CustomerPrice:      price,
		DriverPayment:      payment,
		PlatformCommission: commission,
		DriverPercentage:   effectiveDriverPct,
		PlatformPercentage: hundred.Sub(effectiveDriverPct),
		Breakdown: CompensationBreakdown{
			BaseCommissionPercentage:  baseCommission,
			Operational:               overhead,
			OperationalPercentage:     operationalPct,
			TotalPlatformPercentage:   platformPct,
			ComplexityLevel:           complexity.Level,
			ComplexityAdjustment:      adjustment,
			MinimumPaymentApplied:     minimumApplied,
			DriverPercentageUnclamped: unclamped,
		},
	}, nil
}
