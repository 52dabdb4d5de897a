package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tickergraph/internal/detector"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// recentCycles bounds how many cycle keys the resend limiter remembers.
const recentCycles = 4096

// Sender is the part of *tgbotapi.BotAPI the sink needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts opportunities to a chat. The graph raises an event on
// every update that leaves a cycle negative, so the sink suppresses repeats
// of the same cycle within minInterval.
type TelegramSink struct {
	sender      Sender
	chatID      int64
	minInterval time.Duration

	mu       sync.Mutex
	lastSent *lru.Cache[string, time.Time]
	now      func() time.Time
}

// NewTelegramSink connects to the Bot API with token.
func NewTelegramSink(token string, chatID int64, minInterval time.Duration) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("Telegram bot connected")
	return NewTelegramSinkWithSender(api, chatID, minInterval), nil
}

// NewTelegramSinkWithSender creates a sink on an existing sender.
func NewTelegramSinkWithSender(sender Sender, chatID int64, minInterval time.Duration) *TelegramSink {
	// Only fails for a non-positive size
	lastSent, _ := lru.New[string, time.Time](recentCycles)
	return &TelegramSink{
		sender:      sender,
		chatID:      chatID,
		minInterval: minInterval,
		lastSent:    lastSent,
		now:         time.Now,
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Publish sends opp unless the same cycle was sent within minInterval.
func (s *TelegramSink) Publish(ctx context.Context, opp *detector.Opportunity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := opp.Exchange + "|" + opp.Key
	now := s.now()

	s.mu.Lock()
	if last, ok := s.lastSent.Get(key); ok && now.Sub(last) < s.minInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastSent.Add(key, now)
	s.mu.Unlock()

	msg := tgbotapi.NewMessage(s.chatID, FormatOpportunity(opp))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := s.sender.Send(msg); err != nil {
		// Allow a retry on the next event
		s.mu.Lock()
		s.lastSent.Remove(key)
		s.mu.Unlock()
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// FormatOpportunity renders opp as a Markdown chat message.
func FormatOpportunity(opp *detector.Opportunity) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Arbitrage on %s*\n", opp.Exchange)
	fmt.Fprintf(&b, "`%s`\n", opp.PathString())
	fmt.Fprintf(&b, "Profit: *%s%%*\n", opp.ProfitPercent().StringFixed(3))

	for i, cost := range opp.Costs {
		if i+1 >= len(opp.Path) {
			break
		}
		fmt.Fprintf(&b, "%s → %s @ %s\n", opp.Path[i], opp.Path[i+1], decimal.NewFromFloat(cost).String())
	}

	if sim := opp.Simulation; sim != nil {
		fmt.Fprintf(&b, "Sim: %s → %s (fee %s%%)\n",
			sim.Input.StringFixed(2),
			sim.Output.StringFixed(2),
			sim.FeeRate.Mul(decimal.NewFromInt(100)).String(),
		)
	}

	fmt.Fprintf(&b, "_%s_", opp.DetectedAt.UTC().Format("15:04:05.000 MST"))
	return b.String()
}
