package graph

import (
	"math"
)

// ValidCost reports whether cost can be fed into the weight math.
// Zero, negative, NaN and infinite costs would poison comparisons downstream.
func ValidCost(cost float64) bool {
	return cost > 0 && !math.IsNaN(cost) && !math.IsInf(cost, 0)
}

// CalculateWeight computes the edge weight for a conversion cost.
// Weight = -ln(cost)
//
// For arbitrage detection:
// - A negative cycle (sum of weights < 0) means product of costs > 1 (profit)
// - We use -ln so that multiplying costs becomes addition of weights
//
// Callers must check ValidCost first; an invalid cost yields +Inf.
func CalculateWeight(cost float64) float64 {
	if !ValidCost(cost) {
		return math.Inf(1)
	}
	return -math.Log(cost)
}

// WeightToCost converts a weight back to a conversion cost.
func WeightToCost(weight float64) float64 {
	return math.Exp(-weight)
}

// CycleProfit calculates the profit factor from a cycle's total weight.
// If the sum of weights in a cycle is negative, the profit factor > 1.
func CycleProfit(totalWeight float64) float64 {
	return math.Exp(-totalWeight)
}

// IsProfitable returns true if the cycle weight indicates a round trip
// returning at least minProfitFactor.
func IsProfitable(totalWeight float64, minProfitFactor float64) bool {
	return CycleProfit(totalWeight) >= minProfitFactor
}
