package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tickergraph/internal/graph"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedTicker is returned for messages that are not ticker JSON.
	ErrMalformedTicker = errors.New("malformed ticker")

	// ErrNonPositivePrice is returned when a bid or ask is zero or negative.
	ErrNonPositivePrice = errors.New("non-positive price")

	// ErrExchangeMismatch is returned when a ticker names an exchange other
	// than the one its feed is bound to.
	ErrExchangeMismatch = errors.New("exchange mismatch")
)

// inverseScale is the number of decimal places kept when inverting an ask.
const inverseScale = 18

// tickerMessage is the normalized wire format:
//
//	{"exchange":"binance","symbol":"BTC/USDT","bid":"30000.1","ask":"30000.2","ts":1700000000000}
//
// Prices may be JSON strings or numbers; ts is unix milliseconds.
type tickerMessage struct {
	Exchange string           `json:"exchange"`
	Symbol   string           `json:"symbol"`
	Bid      *decimal.Decimal `json:"bid"`
	Ask      *decimal.Decimal `json:"ask"`
	TS       int64            `json:"ts"`
}

// Ticker is a decoded top-of-book quote.
type Ticker struct {
	Exchange  string
	Market    string
	Base      string
	Quote     string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// Decoder turns ticker messages into graph price updates.
type Decoder struct {
	normalizer *Normalizer
	exchange   string
}

// NewDecoder creates a decoder bound to exchange. A bound decoder stamps
// every update with exchange and rejects tickers naming a different one, so
// one stream can never write into another exchange's graph. With an empty
// exchange every ticker must carry its own.
func NewDecoder(normalizer *Normalizer, exchange string) *Decoder {
	if normalizer == nil {
		normalizer = NewNormalizer(nil, nil)
	}
	return &Decoder{
		normalizer: normalizer,
		exchange:   strings.ToLower(strings.TrimSpace(exchange)),
	}
}

// DecodeTicker parses one ticker message.
func (d *Decoder) DecodeTicker(raw []byte) (*Ticker, error) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTicker, err)
	}

	exchange := strings.ToLower(strings.TrimSpace(msg.Exchange))
	switch {
	case d.exchange == "":
	case exchange == "":
		exchange = d.exchange
	case exchange != d.exchange:
		return nil, fmt.Errorf("ticker %q from %q on %q feed: %w", msg.Symbol, exchange, d.exchange, ErrExchangeMismatch)
	}
	if exchange == "" {
		return nil, fmt.Errorf("ticker %q has no exchange: %w", msg.Symbol, ErrMalformedTicker)
	}

	if msg.Bid == nil || msg.Ask == nil {
		return nil, fmt.Errorf("ticker %q missing bid or ask: %w", msg.Symbol, ErrMalformedTicker)
	}
	if !msg.Bid.IsPositive() {
		return nil, fmt.Errorf("ticker %q bid %s: %w", msg.Symbol, msg.Bid, ErrNonPositivePrice)
	}
	if !msg.Ask.IsPositive() {
		return nil, fmt.Errorf("ticker %q ask %s: %w", msg.Symbol, msg.Ask, ErrNonPositivePrice)
	}

	base, quote, err := d.normalizer.SplitPair(msg.Symbol)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if msg.TS > 0 {
		ts = time.UnixMilli(msg.TS)
	}

	return &Ticker{
		Exchange:  exchange,
		Market:    msg.Symbol,
		Base:      base,
		Quote:     quote,
		Bid:       *msg.Bid,
		Ask:       *msg.Ask,
		Timestamp: ts,
	}, nil
}

// Updates converts a ticker into its two directed conversions:
// selling base at the bid (base -> quote) and buying base at the ask
// (quote -> base at 1/ask).
func (t *Ticker) Updates() []graph.PriceUpdate {
	sell, _ := t.Bid.Float64()
	buy, _ := decimal.NewFromInt(1).DivRound(t.Ask, inverseScale).Float64()

	return []graph.PriceUpdate{
		{Exchange: t.Exchange, From: t.Base, To: t.Quote, Cost: sell, Timestamp: t.Timestamp},
		{Exchange: t.Exchange, From: t.Quote, To: t.Base, Cost: buy, Timestamp: t.Timestamp},
	}
}

// Decode parses raw and returns the resulting price updates.
func (d *Decoder) Decode(raw []byte) ([]graph.PriceUpdate, error) {
	t, err := d.DecodeTicker(raw)
	if err != nil {
		return nil, err
	}
	return t.Updates(), nil
}
