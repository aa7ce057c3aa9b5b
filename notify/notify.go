package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/models"
)

// Notifier delivers a message to one user. Implementations live outside the
// core (Telegram, email); delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string, metadata map[string]string) error
}

// Relay formats trade outcomes and forwards them to the Notifier. A failed
// delivery is logged and swallowed so notification never blocks a trade.
type Relay struct {
	notifier Notifier
	log      zerolog.Logger
}

// NewRelay builds a relay over the given notifier.
func NewRelay(notifier Notifier, log zerolog.Logger) *Relay {
	return &Relay{
		notifier: notifier,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

// TradeExecuted announces a completed copy trade.
func (r *Relay) TradeExecuted(ctx context.Context, trade models.Trade) {
	msg := fmt.Sprintf("✅ %s %.4f of %s at %.6f (alpha %s)",
		trade.Side, trade.Amount, shortMint(trade.TokenMint), trade.Price, shortMint(trade.AlphaWallet))
	r.send(ctx, trade.UserID, msg, map[string]string{
		"trade_id":  trade.ID,
		"signature": trade.Signature,
	})
}

// TradeFailed announces an execution that exhausted its retries.
func (r *Relay) TradeFailed(ctx context.Context, trade models.Trade) {
	msg := fmt.Sprintf("❌ %s of %s failed: %s", trade.Side, shortMint(trade.TokenMint), trade.FailReason)
	r.send(ctx, trade.UserID, msg, map[string]string{"trade_id": trade.ID})
}

// AutoSellTriggered announces a monitor-initiated exit.
func (r *Relay) AutoSellTriggered(ctx context.Context, trade models.Trade, pnlPercent float64) {
	label := "take-profit"
	if trade.Trigger == models.TriggerStopLoss {
		label = "stop-loss"
	}
	msg := fmt.Sprintf("🔔 %s exit: sold %.4f of %s at %.6f (pnl %+.2f%%)",
		label, trade.Amount, shortMint(trade.TokenMint), trade.Price, pnlPercent)
	r.send(ctx, trade.UserID, msg, map[string]string{
		"trade_id": trade.ID,
		"trigger":  trade.Trigger,
	})
}

func (r *Relay) send(ctx context.Context, userID int64, msg string, metadata map[string]string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, userID, msg, metadata); err != nil {
		r.log.Warn().Err(err).Int64("user_id", userID).Msg("notification delivery failed")
	}
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}

// LogNotifier writes notifications to the log. Default when no external
// notifier is wired.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

// Notify logs the message.
func (n *LogNotifier) Notify(_ context.Context, userID int64, message string, metadata map[string]string) error {
	evt := n.log.Info().Int64("user_id", userID)
	for k, v := range metadata {
		evt = evt.Str(k, v)
	}
	evt.Msg(message)
	return nil
}
