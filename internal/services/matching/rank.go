package matching

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"wastelink-backend/internal/apperr"
	"wastelink-backend/internal/database"
	"wastelink-backend/internal/geo"
	"wastelink-backend/internal/models"
)

// ProviderScore is one ranked provider for a request
type ProviderScore struct {
	Provider    models.Provider `json:"provider"`
	DistanceKm  float64         `json:"distance_km"`
	Score       float64         `json:"score"`
	HandlesType bool            `json:"handles_waste_type"`
}

// UrgencyMultiplier scales a provider score by request priority.
// "emergency" is accepted as an alias for urgent.
func UrgencyMultiplier(priority string) float64 {
	switch priority {
	case models.PriorityLow:
		return 0.8
	case models.PriorityHigh:
		return 1.2
	case models.PriorityUrgent, "emergency":
		return 1.5
	default:
		return 1.0
	}
}

// Rank scores the candidates that can reach the request's pickup stop.
// Results are ordered by score descending, then distance, then provider ID.
func Rank(req *models.ServiceRequest, candidates []models.Provider) ([]ProviderScore, error) {
	pickup, ok := req.Pickup()
	if !ok {
		return nil, apperr.InvalidInput("service request %s has no pickup location", req.ID)
	}
	origin := geo.Point{Latitude: pickup.Latitude, Longitude: pickup.Longitude}

	wasteType := ""
	if req.WasteType != nil {
		wasteType = *req.WasteType
	}
	multiplier := UrgencyMultiplier(req.Priority)

	scores := make([]ProviderScore, 0, len(candidates))
	for _, p := range candidates {
		distance := geo.DistanceKm(origin, geo.Point{Latitude: p.Latitude, Longitude: p.Longitude})
		if distance > p.ServiceRadiusKm {
			continue
		}

		handles := wasteType != "" && p.Handles(wasteType)
		score := math.Max(0, 50-2*distance)
		if handles {
			score += 20
		}
		score += 2 * p.Rating
		if p.IsActive {
			score += 10
		}

		scores = append(scores, ProviderScore{
			Provider:    p,
			DistanceKm:  math.Round(distance*100) / 100,
			Score:       math.Round(score*multiplier*100) / 100,
			HandlesType: handles,
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Provider.ID < b.Provider.ID
	})
	return scores, nil
}

// Matcher loads nearby providers for a request and ranks them. The candidate
// query reaches as far as the widest service radius; Rank then applies each
// provider's own radius.
type Matcher struct {
	providers database.ProviderStore
}

func NewMatcher(providers database.ProviderStore) *Matcher {
	return &Matcher{providers: providers}
}

func (m *Matcher) RankForRequest(ctx context.Context, req *models.ServiceRequest) ([]ProviderScore, error) {
	pickup, ok := req.Pickup()
	if !ok {
		return nil, apperr.InvalidInput("service request %s has no pickup location", req.ID)
	}

	radius, err := m.providers.MaxServiceRadiusKm(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := m.providers.ListProvidersNear(ctx, pickup.Latitude, pickup.Longitude, radius)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers near request %s: %w", req.ID, err)
	}

	ranked, err := Rank(req, candidates)
	if err != nil {
		return nil, err
	}
	log.Printf("🔎 [MATCH] Request %s: %d candidates, %d within service radius", req.ID, len(candidates), len(ranked))
	return ranked, nil
}
