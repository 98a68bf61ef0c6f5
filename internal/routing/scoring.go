package routing

import (
	"fmt"
	"math"

	"github.com/passbi/passbi_optimizer/internal/config"
	"github.com/passbi/passbi_optimizer/internal/models"
)

// defaultTrafficScore applies when the traffic level is not one we know
const defaultTrafficScore = 50.0

var trafficScores = map[models.TrafficLevel]float64{
	models.TrafficLow:      95,
	models.TrafficModerate: 70,
	models.TrafficHeavy:    40,
	models.TrafficSevere:   15,
}

// TimeScore loses one point per minute of travel, floored at 0
func TimeScore(durationSeconds int) float64 {
	return math.Max(0, 100-float64(durationSeconds)/60)
}

// TrafficScore maps a traffic level to a 0-100 score (100 = free flowing)
func TrafficScore(level models.TrafficLevel) float64 {
	if s, ok := trafficScores[level]; ok {
		return s
	}
	return defaultTrafficScore
}

// WeightedTotal combines the four sub-scores with w
func WeightedTotal(w config.Weights, time, traffic, density, connectivity float64) float64 {
	return time*w.Time +
		traffic*w.Traffic +
		density*w.Density +
		connectivity*w.Connectivity
}

// Recommendation renders the advice line for a scored route
func Recommendation(score models.OptimizationScore) string {
	minutes := math.Round(score.Breakdown.DurationMinutes)
	traffic := score.Breakdown.TrafficLevel

	switch {
	case score.Total >= 80:
		return fmt.Sprintf("Excellent choice! %.0f min trip with %s traffic.", minutes, traffic)
	case score.Total >= 60:
		return fmt.Sprintf("Good route. Duration: %.0f min, conditions: %s.", minutes, traffic)
	case score.Total >= 40:
		return fmt.Sprintf("Acceptable option. %.0f min but %s traffic.", minutes, traffic)
	default:
		return fmt.Sprintf("Less optimal route. %.0f min with %s traffic, avoid if possible.", minutes, traffic)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
