package graph

import "errors"

var (
	// ErrInvalidCost is returned for non-positive or non-finite conversion costs.
	ErrInvalidCost = errors.New("invalid cost")

	// ErrInvalidSymbol is returned for empty symbols and self-loops.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidCycle is returned when a node path is not a closed walk over live edges.
	ErrInvalidCycle = errors.New("invalid cycle")
)
