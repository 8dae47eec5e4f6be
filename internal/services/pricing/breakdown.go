package pricing

import (
	"context"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

// CostBreakdown itemizes operational costs. The values are informational and
// are not deducted from the provider's share a second time.
type CostBreakdown struct {
	StaffCosts           decimal.Decimal `json:"staff_costs"`
	RouteCosts           decimal.Decimal `json:"route_costs"`
	TaxCosts             decimal.Decimal `json:"tax_costs"`
	ValueCosts           decimal.Decimal `json:"value_costs"`
	TimeCosts            decimal.Decimal `json:"time_costs"`
	SpecialHandlingCosts decimal.Decimal `json:"special_handling_costs"`
	FuelCosts            decimal.Decimal `json:"fuel_costs"`
	InsuranceCosts       decimal.Decimal `json:"insurance_costs"`
}

func (c CostBreakdown) total() decimal.Decimal {
	return decimal.Sum(c.StaffCosts, c.RouteCosts, c.TaxCosts, c.ValueCosts,
		c.TimeCosts, c.SpecialHandlingCosts, c.FuelCosts, c.InsuranceCosts)
}

func (c CostBreakdown) rounded() CostBreakdown {
	return CostBreakdown{
		StaffCosts:           c.StaffCosts.Round(2),
		RouteCosts:           c.RouteCosts.Round(2),
		TaxCosts:             c.TaxCosts.Round(2),
		ValueCosts:           c.ValueCosts.Round(2),
		TimeCosts:            c.TimeCosts.Round(2),
		SpecialHandlingCosts: c.SpecialHandlingCosts.Round(2),
		FuelCosts:            c.FuelCosts.Round(2),
		InsuranceCosts:       c.InsuranceCosts.Round(2),
	}
}

// Breakdown is the transparent split of a customer price
type Breakdown struct {
	FinalPrice            decimal.Decimal `json:"final_price"`
	BaseJobPrice          decimal.Decimal `json:"base_job_price"`
	PlatformProfit        decimal.Decimal `json:"platform_profit"`
	PlatformFeePercentage decimal.Decimal `json:"platform_fee_percentage"`
	TotalCosts            decimal.Decimal `json:"total_costs"`
	CostBreakdown         CostBreakdown   `json:"cost_breakdown"`
	ProviderPercentage    decimal.Decimal `json:"provider_percentage"`
	PlatformPercentage    decimal.Decimal `json:"platform_percentage"`
	CostsPercentage       decimal.Decimal `json:"costs_percentage"`
	ComplexityScore       decimal.Decimal `json:"complexity_score"`
	ComplexityLevel       ComplexityLevel `json:"complexity_level"`
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// RequestPricingService prices requests against the active catalog snapshot
type RequestPricingService struct {
	catalog SnapshotSource
}

func NewRequestPricingService(catalog SnapshotSource) *RequestPricingService {
	return &RequestPricingService{catalog: catalog}
}

func (s *RequestPricingService) PricingBreakdown(ctx context.Context, req *models.ServiceRequest, finalPrice decimal.Decimal) (*Breakdown, error) {
	if finalPrice.IsNegative() {
		return nil, apperr.InvalidInput("final_price must be >= 0, got %s", finalPrice)
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeBreakdown(snap, req, finalPrice)
}

var (
	noConfigProviderShare = dec("0.90")
	taxPercentage         = decimal.NewFromInt(3)
	maxDeduction          = decimal.NewFromInt(30)
	providerFloor         = decimal.NewFromInt(70)
	fuelRatePerKm         = dec("0.15")
	taxCostRate           = dec("0.02")
	valueCostRate         = dec("0.01")
	defaultValueCost      = decimal.NewFromInt(20)
	multiStopRouteFactor  = dec("1.2")
	staffHours            = decimal.NewFromInt(2)
)

// ComputeBreakdown is the pure pricing pipeline over a snapshot
func ComputeBreakdown(snap *Snapshot, req *models.ServiceRequest, finalPrice decimal.Decimal) (*Breakdown, error) {
	if finalPrice.IsNegative() {
		return nil, apperr.InvalidInput("final_price must be >= 0, got %s", finalPrice)
	}

	complexity := ScoreComplexity(req)
	if finalPrice.IsZero() {
		return &Breakdown{ComplexityScore: complexity.Score, ComplexityLevel: complexity.Level}, nil
	}

	feePct := snap.PlatformFeePercentage()
	var baseJob, providerPct decimal.Decimal

	if snap.Config == nil {
		baseJob = finalPrice.Mul(noConfigProviderShare)
		providerPct = noConfigProviderShare.Mul(hundred)
	} else {
		operational := decimal.NewFromInt(2).Add(decimal.NewFromInt(6).Mul(complexity.Score))
		risk := one.Add(decimal.NewFromInt(3).Mul(complexity.Score))
		deduction := decimal.Sum(feePct, taxPercentage, operational, risk)
		if deduction.GreaterThan(maxDeduction) {
			deduction = maxDeduction
		}

		providerPct = hundred.Sub(deduction)
		if providerPct.LessThan(providerFloor) {
			providerPct = providerFloor
		}

		baseJob = finalPrice.Mul(providerPct).Div(hundred)
		if minJob := snap.MinJobPrice(); baseJob.LessThan(minJob) {
			baseJob = minJob
			providerPct = baseJob.Div(finalPrice).Mul(hundred)
		}
	}

	costs := operationalCosts(snap.Factors, req, finalPrice)
	totalCosts := costs.total()

	platformPct := hundred.Sub(providerPct)
	if platformPct.IsNegative() {
		platformPct = decimal.Zero
	}

	return &Breakdown{
		FinalPrice:            finalPrice.Round(2),
		BaseJobPrice:          baseJob.Round(2),
		PlatformProfit:        finalPrice.Mul(feePct).Div(hundred).Round(2),
		PlatformFeePercentage: feePct.Round(2),
		TotalCosts:            totalCosts.Round(2),
		CostBreakdown:         costs.rounded(),
		ProviderPercentage:    providerPct.Round(2),
		PlatformPercentage:    platformPct.Round(2),
		CostsPercentage:       totalCosts.Div(finalPrice).Mul(hundred).Round(2),
		ComplexityScore:       complexity.Score,
		ComplexityLevel:       complexity.Level,
	}, nil
}

func operationalCosts(f models.FactorSet, req *models.ServiceRequest, finalPrice decimal.Decimal) CostBreakdown {
	var c CostBreakdown

	hourly := f.Staff.HourlyRate
	if f.Time.IsActive {
		hourly = hourly.Mul(f.Time.PeakHourMultiplier)
	}
	c.StaffCosts = decimal.NewFromInt(int64(staffCount(req))).Mul(hourly).Mul(staffHours)

	distance := decimal.NewFromFloat(req.EstimatedDistanceKm)
	route := distance.Mul(f.Distance.BaseRatePerKm)
	if len(req.Stops) > 2 {
		route = route.Mul(multiStopRouteFactor)
	}
	c.RouteCosts = route
	c.FuelCosts = distance.Mul(fuelRatePerKm)

	c.TaxCosts = finalPrice.Mul(taxCostRate)

	if req.InsuranceValue.IsPositive() {
		c.ValueCosts = req.InsuranceValue.Mul(valueCostRate)
	} else {
		c.ValueCosts = defaultValueCost
	}

	if f.Time.IsActive {
		c.TimeCosts = finalPrice.Mul(f.Time.WeekendMultiplier.Sub(one))
	}

	if req.RequiresSpecialHandling {
		c.SpecialHandlingCosts = f.SpecialRequirement.SpecialEquipmentRate
	}

	if req.InsuranceRequired {
		premium := req.InsuranceValue.Mul(f.Insurance.ValuePercentage).Div(hundred)
		if premium.LessThan(f.Insurance.MinPremium) {
			premium = f.Insurance.MinPremium
		}
		c.InsuranceCosts = premium
	}

	return c
}
