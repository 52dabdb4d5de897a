package detector

import (
	"strings"
	"time"

	"tickergraph/internal/graph"

	"github.com/shopspring/decimal"
)

// Opportunity is a copy of a negative cycle taken at the moment the graph
// raised the event. It holds no references into the live graph.
type Opportunity struct {
	Exchange string

	// Key is the rotation-normalised cycle key, stable across events
	Key string

	// Path is the closed symbol path, first == last
	Path []string

	// Costs holds the conversion cost of each hop (len = len(Path) - 1)
	Costs []float64

	// Weight is the cycle weight that triggered the event (< 0)
	Weight float64

	// ProfitFactor is the implied round-trip multiplier (> 1 means profit)
	ProfitFactor float64

	// Simulation is set when a notional amount is configured
	Simulation *SimulationResult

	DetectedAt time.Time
}

// NewOpportunity copies the current state of c. Called from inside the
// graph's critical section, so the edge costs match the cached weight.
func NewOpportunity(exchange string, c *graph.Cycle) *Opportunity {
	edges := c.Edges()
	costs := make([]float64, len(edges))
	for i, e := range edges {
		costs[i] = e.Cost()
	}

	return &Opportunity{
		Exchange:     exchange,
		Key:          c.Key(),
		Path:         c.Symbols(),
		Costs:        costs,
		Weight:       c.Weight(),
		ProfitFactor: c.ProfitFactor(),
		DetectedAt:   time.Now(),
	}
}

// ProfitPercent returns the implied gross profit in percent, rounded to
// four decimal places.
func (o *Opportunity) ProfitPercent() decimal.Decimal {
	return decimal.NewFromFloat(o.ProfitFactor).
		Sub(decimal.NewFromInt(1)).
		Mul(decimal.NewFromInt(100)).
		Round(4)
}

// PathString renders the path as "BTC -> ETH -> USDT -> BTC".
func (o *Opportunity) PathString() string {
	return strings.Join(o.Path, " -> ")
}

// Hops returns the number of conversions in the round trip.
func (o *Opportunity) Hops() int {
	return len(o.Costs)
}
