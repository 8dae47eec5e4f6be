package matching

import (
	"log"
	"math"

	"wastelink-backend/internal/geo"
	"wastelink-backend/internal/models"
)

// RouteOptimizer orders the stops of a multi-stop request
type RouteOptimizer struct{}

func NewRouteOptimizer() *RouteOptimizer {
	return &RouteOptimizer{}
}

// OptimizeStops keeps the first pickup at the front and the last dropoff at
// the end, and orders everything in between with the nearest-neighbour
// heuristic starting from the pickup. Sequence numbers are rewritten from 1.
func (ro *RouteOptimizer) OptimizeStops(stops []models.JourneyStop) []models.JourneyStop {
	if len(stops) <= 2 {
		return resequence(append([]models.JourneyStop(nil), stops...))
	}

	remaining := append([]models.JourneyStop(nil), stops...)

	first := 0
	for i, s := range remaining {
		if s.StopType == models.StopPickup {
			first = i
			break
		}
	}
	start := remaining[first]
	remaining = append(remaining[:first], remaining[first+1:]...)

	var end *models.JourneyStop
	for i := len(remaining) - 1; i >= 0; i-- {
		if remaining[i].StopType == models.StopDropoff {
			s := remaining[i]
			end = &s
			remaining = append(remaining[:i], remaining[i+1:]...)
			break
		}
	}

	optimized := make([]models.JourneyStop, 0, len(stops))
	optimized = append(optimized, start)
	current := pointOf(start)

	for len(remaining) > 0 {
		bestIdx := 0
		bestDistance := math.MaxFloat64
		for i, s := range remaining {
			if d := geo.DistanceKm(current, pointOf(s)); d < bestDistance {
				bestDistance = d
				bestIdx = i
			}
		}
		next := remaining[bestIdx]
		optimized = append(optimized, next)
		current = pointOf(next)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	if end != nil {
		optimized = append(optimized, *end)
	}

	log.Printf("🎯 [ROUTE] Ordered %d stops, %.2f km total", len(optimized), TotalDistanceKm(optimized))
	return resequence(optimized)
}

// TotalDistanceKm sums the straight-line legs between consecutive stops
func TotalDistanceKm(stops []models.JourneyStop) float64 {
	total := 0.0
	for i := 1; i < len(stops); i++ {
		total += geo.DistanceKm(pointOf(stops[i-1]), pointOf(stops[i]))
	}
	return total
}

func pointOf(s models.JourneyStop) geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

func resequence(stops []models.JourneyStop) []models.JourneyStop {
	for i := range stops {
		stops[i].Sequence = i + 1
	}
	return stops
}
