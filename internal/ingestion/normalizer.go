package ingestion

import (
	"fmt"
	"sort"
	"strings"
)

// pairSeparators are tried in order when splitting a market symbol.
var pairSeparators = []string{"/", "-", "_", ":"}

// Normalizer maps exchange-specific symbols onto one naming scheme so that
// the same asset becomes the same graph node.
type Normalizer struct {
	aliases map[string]string

	// quotes are known quote assets, longest first, used to split
	// concatenated symbols such as "BTCUSDT".
	quotes []string
}

// NewNormalizer creates a normalizer. Alias keys and values are
// case-insensitive; quotes may be nil.
func NewNormalizer(aliases map[string]string, quotes []string) *Normalizer {
	n := &Normalizer{
		aliases: make(map[string]string, len(aliases)),
	}
	for from, to := range aliases {
		n.aliases[strings.ToUpper(strings.TrimSpace(from))] = strings.ToUpper(strings.TrimSpace(to))
	}
	for _, q := range quotes {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			n.quotes = append(n.quotes, q)
		}
	}
	sort.Slice(n.quotes, func(i, j int) bool {
		return len(n.quotes[i]) > len(n.quotes[j])
	})
	return n
}

// Symbol normalizes a single asset symbol.
func (n *Normalizer) Symbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := n.aliases[s]; ok {
		return alias
	}
	return s
}

// SplitPair splits a market symbol into normalized base and quote.
func (n *Normalizer) SplitPair(market string) (base, quote string, err error) {
	market = strings.TrimSpace(market)
	if market == "" {
		return "", "", fmt.Errorf("empty market symbol: %w", ErrMalformedTicker)
	}

	for _, sep := range pairSeparators {
		if !strings.Contains(market, sep) {
			continue
		}
		parts := strings.Split(market, sep)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("market %q: %w", market, ErrMalformedTicker)
		}
		return n.finish(market, parts[0], parts[1])
	}

	upper := strings.ToUpper(market)
	for _, q := range n.quotes {
		if len(upper) > len(q) && strings.HasSuffix(upper, q) {
			return n.finish(market, upper[:len(upper)-len(q)], q)
		}
	}

	return "", "", fmt.Errorf("market %q has no separator or known quote: %w", market, ErrMalformedTicker)
}

func (n *Normalizer) finish(market, base, quote string) (string, string, error) {
	base, quote = n.Symbol(base), n.Symbol(quote)
	if base == quote {
		return "", "", fmt.Errorf("market %q maps both sides to %s: %w", market, base, ErrMalformedTicker)
	}
	return base, quote, nil
}
