package detector

import (
	"context"
	"sync"

	"tickergraph/internal/graph"
	"tickergraph/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Sink consumes opportunities drained by Detector.Run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, opp *Opportunity) error
}

// Config holds detector configuration.
type Config struct {
	// MinProfitFactor filters opportunities below this multiplier.
	// Zero or values <= 1 let every negative cycle through.
	MinProfitFactor float64

	// QueueSize bounds the opportunity channel. Defaults to 100.
	QueueSize int

	// Notional, when positive, is simulated around every opportunity.
	Notional float64

	// FeeRate is charged on each simulated hop.
	FeeRate float64
}

// Detector turns synchronous NegativeCycleFound events into queued
// opportunities and fans them out to sinks.
type Detector struct {
	config  Config
	metrics *metrics.Metrics

	opportunitiesCh chan *Opportunity

	sinksMu sync.RWMutex
	sinks   []Sink
}

// NewDetector creates a new opportunity detector.
func NewDetector(cfg Config, m *metrics.Metrics) *Detector {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Detector{
		config:          cfg,
		metrics:         m,
		opportunitiesCh: make(chan *Opportunity, cfg.QueueSize),
	}
}

// AddSink registers a sink for Run to publish to.
func (d *Detector) AddSink(s Sink) {
	d.sinksMu.Lock()
	defer d.sinksMu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Opportunities returns the queue. Consumers that read it directly must not
// also call Run.
func (d *Detector) Opportunities() <-chan *Opportunity {
	return d.opportunitiesCh
}

// HandleNegativeCycle is a graph.NegativeCycleHandler.
// It runs inside the graph's critical section: it copies the cycle and
// never blocks, dropping the opportunity when the queue is full.
func (d *Detector) HandleNegativeCycle(g *graph.Graph, c *graph.Cycle) {
	if d.config.MinProfitFactor > 1 && c.ProfitFactor() < d.config.MinProfitFactor {
		log.Trace().
			Str("exchange", g.Exchange()).
			Str("cycle", c.String()).
			Float64("profit_factor", c.ProfitFactor()).
			Msg("Negative cycle below alert threshold")
		return
	}

	opp := NewOpportunity(g.Exchange(), c)

	select {
	case d.opportunitiesCh <- opp:
		if d.metrics != nil {
			d.metrics.RecordOpportunityQueued()
		}
	default:
		if d.metrics != nil {
			d.metrics.RecordOpportunityDropped()
		}
		log.Warn().
			Str("exchange", opp.Exchange).
			Str("cycle", opp.Key).
			Msg("Opportunity channel full")
	}
}

// Run drains the queue until ctx is done, publishing each opportunity to
// every sink. A failing sink is logged and does not stop the others.
func (d *Detector) Run(ctx context.Context) error {
	log.Info().
		Float64("min_profit", d.config.MinProfitFactor).
		Int("queue_size", d.config.QueueSize).
		Float64("notional", d.config.Notional).
		Int("sinks", d.numSinks()).
		Msg("Starting detector")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case opp := <-d.opportunitiesCh:
			d.process(ctx, opp)
		}
	}
}

// Flush publishes every queued opportunity and returns once the queue is
// empty. Used after Run has stopped, e.g. at the end of a replay.
func (d *Detector) Flush(ctx context.Context) int {
	n := 0
	for {
		select {
		case opp := <-d.opportunitiesCh:
			d.process(ctx, opp)
			n++
		default:
			return n
		}
	}
}

func (d *Detector) process(ctx context.Context, opp *Opportunity) {
	if d.config.Notional > 0 {
		sim, err := opp.Simulate(decimal.NewFromFloat(d.config.Notional), decimal.NewFromFloat(d.config.FeeRate))
		if err != nil {
			log.Warn().Err(err).Str("cycle", opp.Key).Msg("Simulation failed")
		} else {
			opp.Simulation = sim
		}
	}

	d.logOpportunity(opp)

	d.sinksMu.RLock()
	sinks := d.sinks
	d.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, opp); err != nil {
			if d.metrics != nil {
				d.metrics.RecordSinkError(s.Name())
			}
			log.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("cycle", opp.Key).
				Msg("Failed to publish opportunity")
		}
	}
}

func (d *Detector) numSinks() int {
	d.sinksMu.RLock()
	defer d.sinksMu.RUnlock()
	return len(d.sinks)
}

// logOpportunity logs a detected opportunity.
func (d *Detector) logOpportunity(opp *Opportunity) {
	ev := log.Debug().
		Str("exchange", opp.Exchange).
		Strs("path", opp.Path).
		Floats64("costs", opp.Costs).
		Float64("weight", opp.Weight).
		Float64("profit_factor", opp.ProfitFactor).
		Str("profit_percent", opp.ProfitPercent().String()).
		Int("path_length", opp.Hops())

	if opp.Simulation != nil {
		ev = ev.
			Str("sim_input", opp.Simulation.Input.String()).
			Str("sim_output", opp.Simulation.Output.StringFixed(8)).
			Bool("sim_profitable", opp.Simulation.IsProfitable)
	}

	ev.Msg("Arbitrage opportunity detected")
}
