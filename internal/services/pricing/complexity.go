package pricing

import (
	"wastelink-backend/internal/models"

	"github.com/shopspring/decimal"
)

type ComplexityLevel string

const (
	LevelSimple   ComplexityLevel = "simple"
	LevelStandard ComplexityLevel = "standard"
	LevelComplex  ComplexityLevel = "complex"
	LevelPremium  ComplexityLevel = "premium"
)

// Complexity is a job difficulty score in [0,1] and its level
type Complexity struct {
	Score decimal.Decimal `json:"score"`
	Level ComplexityLevel `json:"level"`
}

var (
	standardThreshold = dec("0.25")
	complexThreshold  = dec("0.5")
	premiumThreshold  = dec("0.75")
)

// ScoreComplexity sums per-attribute contributions and clamps the total to 1.0
func ScoreComplexity(req *models.ServiceRequest) Complexity {
	score := decimal.Zero

	switch d := req.EstimatedDistanceKm; {
	case d <= 10:
		score = score.Add(dec("0.05"))
	case d <= 50:
		score = score.Add(dec("0.15"))
	default:
		score = score.Add(dec("0.30"))
	}

	switch stops := len(req.Stops); {
	case stops <= 2:
		score = score.Add(dec("0.05"))
	case stops <= 4:
		score = score.Add(dec("0.10"))
	default:
		score = score.Add(dec("0.20"))
	}

	switch staff := staffCount(req); {
	case staff == 1:
		score = score.Add(dec("0.05"))
	case staff <= 3:
		score = score.Add(dec("0.10"))
	default:
		score = score.Add(dec("0.20"))
	}

	if req.RequiresSpecialHandling {
		score = score.Add(dec("0.15"))
	}

	if req.InsuranceRequired {
		switch v := req.InsuranceValue; {
		case v.GreaterThan(decimal.NewFromInt(5000)):
			score = score.Add(dec("0.10"))
		case v.GreaterThan(decimal.NewFromInt(1000)):
			score = score.Add(dec("0.05"))
		}
	}

	if req.IsInstant {
		score = score.Add(dec("0.05"))
	}

	if score.GreaterThan(one) {
		score = one
	}

	return Complexity{Score: score, Level: LevelFor(score)}
}

// LevelFor maps a score to its level: simple < 0.25 <= standard < 0.5 <= complex < 0.75 <= premium
func LevelFor(score decimal.Decimal) ComplexityLevel {
	switch {
	case score.LessThan(standardThreshold):
		return LevelSimple
	case score.LessThan(complexThreshold):
		return LevelStandard
	case score.LessThan(premiumThreshold):
		return LevelComplex
	default:
		return LevelPremium
	}
}

func staffCount(req *models.ServiceRequest) int {
	if req.StaffRequired < 1 {
		return 1
	}
	return req.StaffRequired
}
