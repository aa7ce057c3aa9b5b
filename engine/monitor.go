package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/models"
	"github.com/elly-po/copiAlpha-sub000/storage"
)

// Monitor periodically sweeps open positions of auto-sell users and exits
// any position whose pnl crossed a configured threshold. Exits run through
// the dispatcher so they share the limiter, serialization, retry policy and
// bookkeeping with copy trades.
type Monitor struct {
	ledger     storage.Ledger
	dispatcher *Dispatcher
	timeout    time.Duration
	log        zerolog.Logger
}

// NewMonitor builds the auto-sell sweep job.
func NewMonitor(ledger storage.Ledger, dispatcher *Dispatcher, sweepTimeout time.Duration, log zerolog.Logger) *Monitor {
	if sweepTimeout <= 0 {
		sweepTimeout = 2 * time.Minute
	}
	return &Monitor{
		ledger:     ledger,
		dispatcher: dispatcher,
		timeout:    sweepTimeout,
		log:        log.With().Str("component", "monitor").Logger(),
	}
}

// Name satisfies scheduler.Job.
func (m *Monitor) Name() string { return "position-monitor" }

// Run satisfies scheduler.Job: one full sweep.
func (m *Monitor) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.Sweep(ctx)
}

// Sweep evaluates every open position of every auto-sell user. A failure on
// one position is logged and the sweep moves on.
func (m *Monitor) Sweep(ctx context.Context) error {
	users, err := m.ledger.GetUsersWithAutoSell(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("auto-sell user lookup failed")
		return nil
	}

	start := time.Now()
	checked, triggered := 0, 0

	for _, user := range users {
		positions, err := m.ledger.GetOpenPositions(ctx, user.ID)
		if err != nil {
			m.log.Error().Err(err).Int64("user_id", user.ID).Msg("open position lookup failed")
			continue
		}

		for _, pos := range positions {
			checked++
			if m.checkPosition(ctx, user, pos) {
				triggered++
			}
		}
	}

	if checked > 0 {
		m.log.Info().
			Int("users", len(users)).
			Int("positions", checked).
			Int("exits", triggered).
			Dur("elapsed", time.Since(start)).
			Msg("auto-sell sweep complete")
	}
	return nil
}

// checkPosition prices one position and fires a full exit when a threshold
// is crossed. Reports whether an exit was triggered.
func (m *Monitor) checkPosition(ctx context.Context, user models.User, pos models.Position) bool {
	price, err := m.dispatcher.TokenPrice(ctx, pos.TokenMint)
	if err != nil {
		m.log.Warn().Err(err).Str("token", pos.TokenMint).Msg("price lookup failed, position skipped")
		return false
	}

	trigger, pnl, exit := EvaluateExit(pos, price, user.Settings)
	if !exit {
		return false
	}

	m.log.Info().
		Int64("user_id", user.ID).
		Str("token", pos.TokenMint).
		Str("trigger", trigger).
		Float64("entry", pos.AvgEntryPrice).
		Float64("price", price).
		Float64("pnl_pct", pnl).
		Msg("auto-sell threshold crossed")

	if err := m.dispatcher.ExecuteAutoSell(ctx, user, pos, trigger, pnl); err != nil {
		m.log.Error().Err(err).Int64("user_id", user.ID).Str("token", pos.TokenMint).
			Msg("auto-sell execution failed")
		return false
	}
	return true
}
