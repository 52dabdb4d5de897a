package detector

import (
	"errors"

	"github.com/shopspring/decimal"
)

var errEmptyPath = errors.New("no hops to simulate")

// SimulationResult contains the results of walking a notional amount around
// a cycle.
type SimulationResult struct {
	// Input is the notional amount of the starting symbol
	Input decimal.Decimal

	// Output is the amount of the starting symbol after the last hop
	Output decimal.Decimal

	// Profit is Output - Input; negative when fees eat the spread
	Profit decimal.Decimal

	// FeeRate is the per-hop fee that was applied
	FeeRate decimal.Decimal

	// IsProfitable indicates Output > Input after fees
	IsProfitable bool

	// IntermediateAmounts are the amounts held after each hop
	IntermediateAmounts []decimal.Decimal
}

// SimulateRoundTrip converts input through each cost in order, charging
// feeRate (e.g. 0.001 for 10 bps) on every hop.
func SimulateRoundTrip(costs []float64, input, feeRate decimal.Decimal) (*SimulationResult, error) {
	if len(costs) == 0 {
		return nil, errEmptyPath
	}

	keep := decimal.NewFromInt(1).Sub(feeRate)
	amount := input
	amounts := make([]decimal.Decimal, len(costs))
	for i, cost := range costs {
		amount = amount.Mul(decimal.NewFromFloat(cost)).Mul(keep)
		amounts[i] = amount
	}

	profit := amount.Sub(input)
	return &SimulationResult{
		Input:               input,
		Output:              amount,
		Profit:              profit,
		FeeRate:             feeRate,
		IsProfitable:        profit.IsPositive(),
		IntermediateAmounts: amounts,
	}, nil
}

// Simulate runs SimulateRoundTrip over the opportunity's hop costs.
func (o *Opportunity) Simulate(input, feeRate decimal.Decimal) (*SimulationResult, error) {
	return SimulateRoundTrip(o.Costs, input, feeRate)
}
