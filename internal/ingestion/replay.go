package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// maxLineSize bounds a single replayed ticker line.
const maxLineSize = 1024 * 1024

// ReplayResult contains statistics from a replay.
type ReplayResult struct {
	Lines    int
	Tickers  int
	Applied  int
	Rejected int
	Duration time.Duration
}

// Feed replays newline-delimited ticker JSON from r through the same decode
// and apply path as the live stream. Blank lines and lines starting with '#'
// are skipped. Malformed lines are counted and skipped; only read errors and
// cancellation stop the replay.
func (s *Service) Feed(ctx context.Context, r io.Reader) (*ReplayResult, error) {
	startTime := time.Now()
	result := &ReplayResult{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(startTime)
			return result, ctx.Err()
		default:
		}

		result.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		result.add(s.ingest(line))
	}

	result.Duration = time.Since(startTime)
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("reading replay input: %w", err)
	}

	log.Info().
		Int("lines", result.Lines).
		Int("tickers", result.Tickers).
		Int("applied", result.Applied).
		Int("rejected", result.Rejected).
		Dur("duration", result.Duration).
		Msg("Replay complete")

	return result, nil
}

func (r *ReplayResult) add(c ingestCount) {
	if c.ticker {
		r.Tickers++
	}
	r.Applied += c.applied
	r.Rejected += c.rejected
}
