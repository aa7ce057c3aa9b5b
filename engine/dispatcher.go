package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/cache"
	"github.com/elly-po/copiAlpha-sub000/config"
	"github.com/elly-po/copiAlpha-sub000/executor"
	"github.com/elly-po/copiAlpha-sub000/models"
	"github.com/elly-po/copiAlpha-sub000/notify"
	"github.com/elly-po/copiAlpha-sub000/storage"
)

// SwapRunner executes one swap with retries and reports the attempt count.
// Satisfied by executor.RetryingExecutor.
type SwapRunner interface {
	ExecuteWithAttempts(ctx context.Context, signer executor.Signer, req executor.SwapRequest) (*executor.SwapResult, int, error)
}

// Market supplies indicative prices and wallet balances.
// Satisfied by api.Client.
type Market interface {
	TokenPrice(ctx context.Context, mint string) (float64, error)
	WalletBalance(ctx context.Context, walletAddress string) (float64, error)
}

// SignerResolver turns a user's signer reference into a usable signing
// capability. Custody lives outside the core.
type SignerResolver interface {
	Resolve(ctx context.Context, user models.User) (executor.Signer, error)
}

// Dispatcher is the entry point for inbound alpha swap events. It resolves
// the users tracking the alpha wallet and fans execution out under the
// shared concurrency/spacing limiter. One user's failure never aborts the
// others.
type Dispatcher struct {
	ledger  storage.Ledger
	runner  SwapRunner
	market  Market
	signers SignerResolver
	relay   *notify.Relay

	trackers  *cache.Cache[[]models.User]
	blacklist *cache.Cache[map[string]bool]
	prices    *cache.Cache[float64]
	balances  *cache.Cache[float64]
	seen      *cache.Cache[struct{}]

	ttlTrackers  time.Duration
	ttlPrice     time.Duration
	ttlBlacklist time.Duration

	limiter  *dispatchLimiter
	inFlight *keyedMutex

	engineCfg config.EngineConfig
	sizingCfg config.SizingConfig

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	log zerolog.Logger
}

// NewDispatcher wires a dispatcher from its collaborators.
func NewDispatcher(ledger storage.Ledger, runner SwapRunner, market Market,
	signers SignerResolver, relay *notify.Relay, engineCfg config.EngineConfig,
	sizingCfg config.SizingConfig, cacheCfg config.CacheConfig, log zerolog.Logger) *Dispatcher {

	return &Dispatcher{
		ledger:       ledger,
		runner:       runner,
		market:       market,
		signers:      signers,
		relay:        relay,
		trackers:     cache.New[[]models.User](cache.SweepInterval),
		blacklist:    cache.New[map[string]bool](cache.SweepInterval),
		prices:       cache.New[float64](cache.SweepInterval),
		balances:     cache.New[float64](cache.SweepInterval),
		seen:         cache.New[struct{}](cache.SweepInterval),
		ttlTrackers:  config.TTLOrDefault(cacheCfg.TrackersTTLSec, cache.TTLTrackers),
		ttlPrice:     config.TTLOrDefault(cacheCfg.PriceTTLSec, cache.TTLPrice),
		ttlBlacklist: config.TTLOrDefault(cacheCfg.BlacklistTTLSec, cache.TTLBlacklist),
		limiter: newDispatchLimiter(engineCfg.RateLimiterConcurrency,
			time.Duration(engineCfg.RateLimiterMinIntervalMS)*time.Millisecond),
		inFlight:  newKeyedMutex(),
		engineCfg: engineCfg,
		sizingCfg: sizingCfg,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// OnSwapEvent handles one normalized swap observed on an alpha wallet.
// Duplicate signatures within the redelivery window are dropped. No return
// value; outcomes surface as trades, position updates and notifications.
func (d *Dispatcher) OnSwapEvent(ctx context.Context, event models.SwapEvent) {
	if err := ValidateEvent(event); err != nil {
		d.log.Warn().Err(err).Msg("rejected malformed swap event")
		return
	}

	if _, dup := d.seen.Get(event.Signature); dup {
		d.log.Debug().Str("signature", event.Signature).Msg("duplicate swap event dropped")
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	// A failed lookup leaves the signature unmarked so a redelivery can
	// still land the trades once the ledger recovers.
	users, err := d.activeTrackers(ctx, event.AlphaWallet)
	if err != nil {
		d.log.Error().Err(err).Str("alpha", event.AlphaWallet).
			Str("signature", event.Signature).Msg("tracker lookup failed, event not consumed")
		return
	}
	d.seen.Set(event.Signature, struct{}{}, cache.TTLSeenSignature)

	if len(users) == 0 {
		d.log.Debug().Str("alpha", event.AlphaWallet).Msg("no trackers for alpha wallet")
		return
	}

	d.log.Info().
		Str("alpha", event.AlphaWallet).
		Str("side", string(event.Side)).
		Str("signature", event.Signature).
		Int("trackers", len(users)).
		Msg("dispatching copy trades")

	for _, user := range users {
		user := user
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().Interface("panic", r).Int64("user_id", user.ID).
						Msg("copy-trade job panicked")
				}
			}()
			d.runJob(ctx, user, event)
		}()
	}
}

// Drain stops admitting new work and waits for in-flight jobs to finish.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()

	d.trackers.Stop()
	d.blacklist.Stop()
	d.prices.Stop()
	d.balances.Stop()
	d.seen.Stop()
}

func (d *Dispatcher) runJob(ctx context.Context, user models.User, event models.SwapEvent) {
	if !d.limiter.acquire(ctx) {
		d.log.Warn().Int64("user_id", user.ID).Msg("job abandoned while waiting for limiter")
		return
	}
	defer d.limiter.release()

	token := copiedToken(event)
	key := jobKey(user.ID, token)
	d.inFlight.lock(key)
	defer d.inFlight.unlock(key)

	if err := d.executeCopyTrade(ctx, user, event, token); err != nil {
		d.log.Error().Err(err).Int64("user_id", user.ID).
			Str("signature", event.Signature).Msg("copy-trade job failed")
	}
}

// copiedToken is the token whose position a copy of this event affects:
// the alpha's output token for a buy, its input token for a sell.
func copiedToken(event models.SwapEvent) string {
	if event.Side == models.SideBuy {
		return event.TokenOut
	}
	return event.TokenIn
}

func jobKey(userID int64, token string) string {
	return fmt.Sprintf("%d|%s", userID, token)
}

func (d *Dispatcher) executeCopyTrade(ctx context.Context, user models.User, event models.SwapEvent, token string) error {
	pos := d.currentPosition(ctx, user.ID, token)
	blacklist := d.blacklistSet(ctx)

	var decision Decision
	if event.Side == models.SideBuy {
		balance := d.walletBalance(ctx, user.WalletAddress)
		decision = DecideBuy(user, event, pos, balance, blacklist, d.sizingCfg)
	} else {
		decision = DecideSell(user, event, pos, blacklist, d.sizingCfg)
	}

	if !decision.Proceed {
		d.log.Debug().Int64("user_id", user.ID).Str("token", token).
			Str("reason", decision.Reason).Msg("copy trade skipped")
		return nil
	}

	req := executor.SwapRequest{
		TokenIn:     event.TokenIn,
		TokenOut:    event.TokenOut,
		AmountIn:    decision.Amount,
		SlippageBps: user.Settings.SlippageBps,
	}

	trade := models.Trade{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		AlphaWallet: event.AlphaWallet,
		TokenMint:   token,
		Side:        event.Side,
		Amount:      decision.Amount,
		CreatedAt:   time.Now(),
	}

	signer, err := d.signers.Resolve(ctx, user)
	if err != nil {
		trade.Status = models.TradeFailed
		trade.FailReason = fmt.Sprintf("signing unavailable: %v", err)
		if lerr := d.ledger.AppendTrade(ctx, trade); lerr != nil {
			return fmt.Errorf("append failed trade: %w", lerr)
		}
		d.relay.TradeFailed(ctx, trade)
		return nil
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(d.engineCfg.ExecuteTimeoutMS)*time.Millisecond)
	defer cancel()

	result, attempts, err := d.runner.ExecuteWithAttempts(execCtx, signer, req)
	trade.Attempts = attempts
	if err != nil {
		trade.Status = models.TradeFailed
		trade.FailReason = err.Error()
		if lerr := d.ledger.AppendTrade(ctx, trade); lerr != nil {
			return fmt.Errorf("append failed trade: %w", lerr)
		}
		d.relay.TradeFailed(ctx, trade)
		return nil
	}

	return d.commitFill(ctx, user, event.AlphaWallet, token, event.Side, trade, pos, result)
}

// commitFill persists the trade record and folds the fill into the position.
// Write failures are job failures; the caller must not pretend success.
func (d *Dispatcher) commitFill(ctx context.Context, user models.User, alphaWallet, token string,
	side models.Side, trade models.Trade, pos *models.Position, result *executor.SwapResult) error {

	var updated models.Position
	if side == models.SideBuy {
		// Bought result.AmountOut tokens for result.AmountIn SOL.
		price := 0.0
		if result.AmountOut > 0 {
			price = result.AmountIn / result.AmountOut
		}
		trade.Amount = result.AmountOut
		trade.Price = price
		updated = ApplyBuy(pos, user.ID, token, alphaWallet, result.AmountOut, price)
	} else {
		price := 0.0
		if result.AmountIn > 0 {
			price = result.AmountOut / result.AmountIn
		}
		trade.Amount = result.AmountIn
		trade.Price = price
		updated = ApplySell(*pos, result.AmountIn)
	}

	trade.Signature = result.Signature
	trade.Status = models.TradeExecuted

	if err := d.ledger.UpsertPosition(ctx, updated); err != nil {
		return fmt.Errorf("persist position %d/%s: %w", user.ID, token, err)
	}
	if err := d.ledger.AppendTrade(ctx, trade); err != nil {
		return fmt.Errorf("append trade %s: %w", trade.ID, err)
	}

	// The ledger is authoritative again; drop stale cached copies.
	d.balances.Delete(user.WalletAddress)
	d.prices.Delete(token)

	if trade.AlphaWallet == models.AutoSellWallet {
		d.relay.AutoSellTriggered(ctx, trade, PnlPercent(*pos, trade.Price))
	} else {
		d.relay.TradeExecuted(ctx, trade)
	}

	d.log.Info().
		Int64("user_id", user.ID).
		Str("token", token).
		Str("side", string(side)).
		Float64("amount", trade.Amount).
		Float64("price", trade.Price).
		Int("attempts", trade.Attempts).
		Str("signature", trade.Signature).
		Msg("trade committed")
	return nil
}

// ExecuteAutoSell exits the full position under the same serialization,
// execution and bookkeeping rules as copy trades. Called by the monitor.
func (d *Dispatcher) ExecuteAutoSell(ctx context.Context, user models.User, pos models.Position,
	trigger string, pnlPercent float64) error {

	if !d.limiter.acquire(ctx) {
		return fmt.Errorf("auto-sell abandoned while waiting for limiter")
	}
	defer d.limiter.release()

	key := jobKey(user.ID, pos.TokenMint)
	d.inFlight.lock(key)
	defer d.inFlight.unlock(key)

	// Re-read under the lock; a copy trade may have moved the position.
	current := d.currentPosition(ctx, user.ID, pos.TokenMint)
	if current == nil || !current.Open || current.TotalAmount <= models.DustEpsilon {
		return nil
	}

	trade := models.Trade{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		AlphaWallet: models.AutoSellWallet,
		Trigger:     trigger,
		TokenMint:   pos.TokenMint,
		Side:        models.SideSell,
		Amount:      current.TotalAmount,
		CreatedAt:   time.Now(),
	}

	signer, err := d.signers.Resolve(ctx, user)
	if err != nil {
		trade.Status = models.TradeFailed
		trade.FailReason = fmt.Sprintf("signing unavailable: %v", err)
		if lerr := d.ledger.AppendTrade(ctx, trade); lerr != nil {
			return fmt.Errorf("append failed trade: %w", lerr)
		}
		d.relay.TradeFailed(ctx, trade)
		return nil
	}

	req := executor.SwapRequest{
		TokenIn:     pos.TokenMint,
		TokenOut:    SOLMint,
		AmountIn:    current.TotalAmount,
		SlippageBps: user.Settings.SlippageBps,
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(d.engineCfg.ExecuteTimeoutMS)*time.Millisecond)
	defer cancel()

	result, attempts, err := d.runner.ExecuteWithAttempts(execCtx, signer, req)
	trade.Attempts = attempts
	if err != nil {
		trade.Status = models.TradeFailed
		trade.FailReason = err.Error()
		if lerr := d.ledger.AppendTrade(ctx, trade); lerr != nil {
			return fmt.Errorf("append failed trade: %w", lerr)
		}
		d.relay.TradeFailed(ctx, trade)
		return nil
	}

	return d.commitFill(ctx, user, models.AutoSellWallet, pos.TokenMint, models.SideSell, trade, current, result)
}

// SOLMint is the native SOL mint, the settlement side of auto-sell exits.
const SOLMint = "So11111111111111111111111111111111111111112"

// activeTrackers returns the cached tracker list for an alpha wallet,
// falling back to the ledger.
func (d *Dispatcher) activeTrackers(ctx context.Context, alphaAddress string) ([]models.User, error) {
	if users, ok := d.trackers.Get(alphaAddress); ok {
		return users, nil
	}
	users, err := d.ledger.GetActiveTrackers(ctx, alphaAddress)
	if err != nil {
		return nil, err
	}
	d.trackers.Set(alphaAddress, users, d.ttlTrackers)
	return users, nil
}

// blacklistSet returns the cached blacklist as a set. Read failures degrade
// to an empty set rather than blocking trades.
func (d *Dispatcher) blacklistSet(ctx context.Context) map[string]bool {
	if set, ok := d.blacklist.Get("tokens"); ok {
		return set
	}
	mints, err := d.ledger.GetBlacklistedTokens(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("blacklist lookup failed")
		return map[string]bool{}
	}
	set := make(map[string]bool, len(mints))
	for _, m := range mints {
		set[m] = true
	}
	d.blacklist.Set("tokens", set, d.ttlBlacklist)
	return set
}

func (d *Dispatcher) currentPosition(ctx context.Context, userID int64, token string) *models.Position {
	pos, err := d.ledger.GetPosition(ctx, userID, token)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Error().Err(err).Int64("user_id", userID).Str("token", token).
				Msg("position lookup failed")
		}
		return nil
	}
	return pos
}

func (d *Dispatcher) walletBalance(ctx context.Context, walletAddress string) float64 {
	if bal, ok := d.balances.Get(walletAddress); ok {
		return bal
	}
	bal, err := d.market.WalletBalance(ctx, walletAddress)
	if err != nil {
		d.log.Warn().Err(err).Str("wallet", walletAddress).Msg("balance lookup failed")
		return 0
	}
	d.balances.Set(walletAddress, bal, cache.TTLBalance)
	return bal
}

// TokenPrice returns the cached indicative price for a mint.
func (d *Dispatcher) TokenPrice(ctx context.Context, mint string) (float64, error) {
	if price, ok := d.prices.Get(mint); ok {
		return price, nil
	}
	price, err := d.market.TokenPrice(ctx, mint)
	if err != nil {
		return 0, err
	}
	d.prices.Set(mint, price, d.ttlPrice)
	return price, nil
}
