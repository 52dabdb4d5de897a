package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// JSONGetter fetches a JSON document. *client.HTTPClient satisfies it.
type JSONGetter interface {
	Get(ctx context.Context, url string, response interface{}) error
}

// Bootstrap seeds the graph from the feed's REST ticker snapshot, so cycles
// exist before the first streamed tick. The endpoint must return a JSON
// array of tickers in the stream's wire format. Without a RESTURL it does
// nothing.
func (s *Service) Bootstrap(ctx context.Context, getter JSONGetter) (*ReplayResult, error) {
	result := &ReplayResult{}
	if s.feed.RESTURL == "" {
		return result, nil
	}

	startTime := time.Now()
	var tickers []json.RawMessage
	if err := getter.Get(ctx, s.feed.RESTURL, &tickers); err != nil {
		return result, fmt.Errorf("fetching %s ticker snapshot: %w", s.feed.Exchange, err)
	}

	for _, raw := range tickers {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(startTime)
			return result, err
		}
		result.Lines++
		result.add(s.ingest(raw))
	}
	result.Duration = time.Since(startTime)

	log.Info().
		Str("exchange", s.feed.Exchange).
		Int("tickers", result.Tickers).
		Int("applied", result.Applied).
		Int("rejected", result.Rejected).
		Dur("duration", result.Duration).
		Msg("Bootstrap complete")

	return result, nil
}
