package notify

import (
	"context"

	"tickergraph/internal/detector"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes one structured line per opportunity.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink on the global logger tagged with sink=log.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.With().Str("sink", "log").Logger()}
}

// NewLogSinkWithLogger creates a sink that writes to logger.
func NewLogSinkWithLogger(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, opp *detector.Opportunity) error {
	s.logger.Info().
		Str("exchange", opp.Exchange).
		Str("cycle", opp.Key).
		Str("path", opp.PathString()).
		Str("profit_percent", opp.ProfitPercent().String()).
		Time("detected_at", opp.DetectedAt).
		Msg("Opportunity")
	return nil
}
