package engine

import (
	"fmt"

	"github.com/elly-po/copiAlpha-sub000/config"
	"github.com/elly-po/copiAlpha-sub000/models"
)

// Decision is the sizer's verdict for one prospective trade.
type Decision struct {
	Proceed bool
	Amount  float64
	Reason  string // populated when Proceed is false
}

func skip(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// ValidateEvent rejects malformed swap events before any sizing happens.
func ValidateEvent(event models.SwapEvent) error {
	if event.Signature == "" {
		return fmt.Errorf("event missing signature")
	}
	if event.Side != models.SideBuy && event.Side != models.SideSell {
		return fmt.Errorf("event %s has invalid side %q", event.Signature, event.Side)
	}
	if event.TokenIn == "" || event.TokenOut == "" {
		return fmt.Errorf("event %s missing token mint", event.Signature)
	}
	if event.TokenIn == event.TokenOut {
		return fmt.Errorf("event %s has identical input and output token", event.Signature)
	}
	if event.AmountIn <= 0 {
		return fmt.Errorf("event %s has non-positive input amount", event.Signature)
	}
	return nil
}

// DecideBuy sizes a copy buy for one user. Pure: all state (current position,
// wallet balance, blacklist) is passed in; it never touches the executor.
//
// Base amount is the smallest of the user's per-trade cap, the proportional
// share of the alpha's input, and the global hard cap. An open position from
// the same alpha scales the amount down to keep repeated signals from growing
// the position without bound.
func DecideBuy(user models.User, event models.SwapEvent, existing *models.Position,
	balance float64, blacklist map[string]bool, cfg config.SizingConfig) Decision {

	token := event.TokenOut
	if blacklist[token] {
		return skip("token %s is blacklisted", token)
	}

	amount := event.AmountIn * cfg.ProportionalFactor
	if amount > user.Settings.MaxTradeSOL {
		amount = user.Settings.MaxTradeSOL
	}
	if amount > cfg.HardCapSOL {
		amount = cfg.HardCapSOL
	}

	if existing != nil && existing.Open && existing.AlphaWallet == event.AlphaWallet {
		amount *= cfg.RepeatBuyScale
	}

	if amount < cfg.MinTradeSOL {
		return skip("sized amount %.6f below minimum %.6f", amount, cfg.MinTradeSOL)
	}
	if balance < amount+cfg.FeeBufferSOL {
		return skip("balance %.6f insufficient for %.6f plus fee buffer", balance, amount)
	}

	return Decision{Proceed: true, Amount: amount}
}

// DecideSell sizes a copy sell. Sell-follow policy: the user only mirrors a
// sell when their open position in the token was opened through the same
// alpha wallet. The amount mirrors the alpha's sell proportionally and is
// capped at MaxSellFraction of current holdings, so it can never exceed them.
func DecideSell(user models.User, event models.SwapEvent, existing *models.Position,
	blacklist map[string]bool, cfg config.SizingConfig) Decision {

	token := event.TokenIn
	if blacklist[token] {
		return skip("token %s is blacklisted", token)
	}

	if existing == nil || !existing.Open || existing.TotalAmount <= models.DustEpsilon {
		return skip("no open position in %s", token)
	}
	if existing.AlphaWallet != event.AlphaWallet {
		return skip("position in %s was not opened by alpha %s", token, event.AlphaWallet)
	}

	amount := event.AmountIn * cfg.ProportionalFactor
	maxAllowed := existing.TotalAmount * cfg.MaxSellFraction
	if amount > maxAllowed {
		amount = maxAllowed
	}
	if amount <= models.DustEpsilon {
		return skip("sized sell amount is dust")
	}

	return Decision{Proceed: true, Amount: amount}
}

// EvaluateExit checks a position against the user's auto-sell thresholds.
// Take-profit is checked before stop-loss as the tie-break for
// equal-magnitude edge cases. Returns the trigger tag, the pnl percentage
// and whether an exit fired.
func EvaluateExit(pos models.Position, currentPrice float64, settings models.UserSettings) (string, float64, bool) {
	pnl := PnlPercent(pos, currentPrice)

	if settings.TakeProfitPct > 0 && pnl >= settings.TakeProfitPct {
		return models.TriggerTakeProfit, pnl, true
	}
	if settings.StopLossPct > 0 && pnl <= -settings.StopLossPct {
		return models.TriggerStopLoss, pnl, true
	}
	return "", pnl, false
}
