package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"tickergraph/internal/graph"
	"tickergraph/internal/metrics"

	"github.com/rs/zerolog/log"
)

const (
	defaultMaxReconnects = 10
	initialBackoff       = 1 * time.Second
	maxBackoff           = 30 * time.Second

	// A connection that stays up this long resets the reconnect budget.
	stableConnection = time.Minute
)

// FeedConfig describes one exchange ticker stream.
type FeedConfig struct {
	Exchange   string
	URL        string
	Subscribe  string
	BufferSize int

	// RESTURL, when set, serves a JSON array of tickers used to seed the
	// graph before streaming starts.
	RESTURL string

	// MaxReconnects bounds consecutive failed connections. Zero means 10;
	// negative means retry forever.
	MaxReconnects int
}

// Updater applies price updates. *graph.Manager satisfies it.
type Updater interface {
	ProcessUpdate(update graph.PriceUpdate) error
}

// Service streams tickers from one exchange into the graph.
type Service struct {
	feed    FeedConfig
	client  atomic.Pointer[WSClient]
	decoder *Decoder

	updater Updater
	metrics *metrics.Metrics

	applied  atomic.Int64
	rejected atomic.Int64
}

// NewService creates a new ingestion service.
func NewService(feed FeedConfig, normalizer *Normalizer, updater Updater, m *metrics.Metrics) *Service {
	if feed.MaxReconnects == 0 {
		feed.MaxReconnects = defaultMaxReconnects
	}
	feed.Exchange = strings.ToLower(strings.TrimSpace(feed.Exchange))
	return &Service{
		feed:    feed,
		decoder: NewDecoder(normalizer, feed.Exchange),
		updater: updater,
		metrics: m,
	}
}

// Exchange returns the exchange this service feeds.
func (s *Service) Exchange() string {
	return s.feed.Exchange
}

// Applied returns the number of price updates accepted by the graph.
func (s *Service) Applied() int64 {
	return s.applied.Load()
}

// Rejected returns the number of messages or updates that were dropped.
func (s *Service) Rejected() int64 {
	return s.rejected.Load()
}

// Run starts the ingestion service with automatic reconnection.
func (s *Service) Run(ctx context.Context) error {
	failures := 0
	for {
		if failures > 0 {
			if s.feed.MaxReconnects > 0 && failures >= s.feed.MaxReconnects {
				return fmt.Errorf("%s: max reconnection attempts reached", s.feed.Exchange)
			}

			backoff := calculateBackoff(failures)
			log.Info().
				Str("exchange", s.feed.Exchange).
				Int("attempt", failures).
				Dur("backoff", backoff).
				Msg("Reconnecting to WebSocket")

			if s.metrics != nil {
				s.metrics.RecordFeedReconnect(s.feed.Exchange)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		started := time.Now()
		err := s.runOnce(ctx)
		if s.metrics != nil {
			s.metrics.SetFeedConnected(s.feed.Exchange, false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) >= stableConnection {
			failures = 0
		}
		failures++

		if err != nil {
			log.Error().Err(err).Str("exchange", s.feed.Exchange).Msg("WebSocket connection error")
		} else {
			log.Warn().Str("exchange", s.feed.Exchange).Msg("WebSocket closed by server")
		}
	}
}

// runOnce runs the ingestion service until an error occurs or context is canceled.
func (s *Service) runOnce(ctx context.Context) error {
	client := NewWSClient(s.feed.URL, s.feed.BufferSize)
	s.client.Store(client)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to websocket: %w", err)
	}
	defer client.Close()
	defer func() {
		if n := client.Dropped(); n > 0 {
			log.Warn().
				Str("exchange", s.feed.Exchange).
				Int64("received", client.Received()).
				Int64("dropped", n).
				Msg("Connection dropped messages under load")
		}
	}()

	if s.metrics != nil {
		s.metrics.SetFeedConnected(s.feed.Exchange, true)
	}

	if err := client.Subscribe(ctx, []byte(s.feed.Subscribe)); err != nil {
		return fmt.Errorf("subscribing to tickers: %w", err)
	}

	go client.StartPingLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.ReadMessages(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errCh:
			return err

		case msg := <-client.Messages():
			s.ingest(msg)
		}
	}
}

// IsConnected reports whether the current connection is up.
func (s *Service) IsConnected() bool {
	c := s.client.Load()
	return c != nil && c.IsConnected()
}

// ingestCount is what one raw message contributed.
type ingestCount struct {
	ticker   bool
	applied  int
	rejected int
}

// ingest decodes one raw message and applies its updates. It is the only
// path from wire bytes to the graph: streaming, replay and bootstrap all use
// it, so counters and metrics agree across them. Messages that are not
// tickers (acks, heartbeats) count as rejected and are logged at debug.
func (s *Service) ingest(raw []byte) ingestCount {
	updates, err := s.decoder.Decode(raw)
	if err != nil {
		s.rejected.Add(1)
		reason := "decode"
		switch {
		case errors.Is(err, ErrNonPositivePrice):
			reason = "price"
		case errors.Is(err, ErrExchangeMismatch):
			reason = "exchange"
		}
		if s.metrics != nil {
			s.metrics.RecordTickRejected(s.label(), reason)
		}
		log.Debug().Err(err).Str("exchange", s.feed.Exchange).Msg("Skipping message")
		return ingestCount{rejected: 1}
	}

	if s.metrics != nil {
		s.metrics.RecordTickReceived(updates[0].Exchange)
	}

	count := ingestCount{ticker: true}
	for _, u := range updates {
		if err := s.updater.ProcessUpdate(u); err != nil {
			count.rejected++
			s.rejected.Add(1)
			log.Debug().Err(err).Str("exchange", u.Exchange).Msg("Failed to apply price update")
			continue
		}
		count.applied++
		s.applied.Add(1)
	}
	return count
}

// label names the feed in metrics; unbound replays share one label.
func (s *Service) label() string {
	if s.feed.Exchange == "" {
		return "unbound"
	}
	return s.feed.Exchange
}

// calculateBackoff doubles from 1s per failed attempt, capped at 30s.
func calculateBackoff(attempt int) time.Duration {
	if attempt > 16 {
		return maxBackoff
	}
	backoff := initialBackoff * (1 << uint(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
