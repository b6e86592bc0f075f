package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streamwager/wagerd/internal/domain"
)

// Announcer consumes committed market events from the signal bus and turns
// them into chat announcements. It runs decoupled from the engine: a slow or
// failing chat channel only delays announcements, never ledger operations.
type Announcer struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewAnnouncer creates an Announcer reading the given pub/sub channel.
func NewAnnouncer(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "announcer")),
	}
}

// Run subscribes and announces until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	msgs, err := a.bus.Subscribe(ctx, a.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", a.channel, err)
	}
	a.logger.InfoContext(ctx, "announcer started", slog.String("channel", a.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.MarketEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				a.logger.WarnContext(ctx, "skipping malformed event", slog.String("error", err.Error()))
				continue
			}
			title, message := FormatEvent(ev)
			if title == "" {
				continue
			}
			if err := a.notifier.Notify(ctx, string(ev.Kind), title, message); err != nil {
				a.logger.WarnContext(ctx, "announcement delivery incomplete",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// FormatEvent renders one market event as an announcement. An empty title
// means the event kind is not announced.
func FormatEvent(ev domain.MarketEvent) (title, message string) {
	switch ev.Kind {
	case domain.EventMarketCreated:
		return "New market open",
			fmt.Sprintf("%q (market #%d by %s) is taking bets.", ev.Title, ev.MarketID, ev.Owner)
	case domain.EventMarketLocked:
		return "Betting closed",
			fmt.Sprintf("Market #%d is locked. No more bets.", ev.MarketID)
	case domain.EventMarketResolved:
		return "Market resolved",
			fmt.Sprintf("Market #%d settled on outcome %d. Winners can claim.", ev.MarketID, ev.Outcome)
	case domain.EventMarketCancelled:
		return "Market cancelled",
			fmt.Sprintf("Market #%d was cancelled. Stakes are refundable.", ev.MarketID)
	case domain.EventBetPlaced:
		return "Bet placed",
			fmt.Sprintf("%s put %d on outcome %d in market #%d.", ev.Account, ev.Amount, ev.Outcome, ev.MarketID)
	case domain.EventWinningsClaimed:
		return "Winnings paid",
			fmt.Sprintf("%s collected %d from market #%d.", ev.Account, ev.Amount, ev.MarketID)
	case domain.EventRefundClaimed:
		return "Refund paid",
			fmt.Sprintf("%s was refunded %d from market #%d.", ev.Account, ev.Amount, ev.MarketID)
	default:
		return "", ""
	}
}
