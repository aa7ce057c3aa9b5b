package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elly-po/copiAlpha-sub000/cache"
	"github.com/elly-po/copiAlpha-sub000/config"
	"github.com/elly-po/copiAlpha-sub000/executor"
	"github.com/elly-po/copiAlpha-sub000/models"
	"github.com/elly-po/copiAlpha-sub000/notify"
	"github.com/elly-po/copiAlpha-sub000/storage"
)

// stubRunner fills every request at a fixed out/in factor, or fails with a
// configured error. It tracks call and concurrency counts.
type stubRunner struct {
	mu          sync.Mutex
	calls       int
	err         error
	errAttempts int
	outFactor   float64
	delay       time.Duration

	active    int32
	maxActive int32
}

func (r *stubRunner) ExecuteWithAttempts(_ context.Context, _ executor.Signer, req executor.SwapRequest) (*executor.SwapResult, int, error) {
	cur := atomic.AddInt32(&r.active, 1)
	for {
		max := atomic.LoadInt32(&r.maxActive)
		if cur <= max || atomic.CompareAndSwapInt32(&r.maxActive, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&r.active, -1)

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.errAttempts, r.err
	}
	factor := r.outFactor
	if factor == 0 {
		factor = 1000
	}
	return &executor.SwapResult{
		Signature: fmt.Sprintf("exec-%d", n),
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountIn * factor,
	}, 1, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubMarket struct {
	mu       sync.Mutex
	prices   map[string]float64
	priceErr error
	balance  float64
}

func (m *stubMarket) TokenPrice(_ context.Context, mint string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	return m.prices[mint], nil
}

func (m *stubMarket) WalletBalance(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

type stubSigner struct{}

func (stubSigner) PublicKey() string              { return "pub" }
func (stubSigner) Sign(tx []byte) ([]byte, error) { return tx, nil }

type stubResolver struct {
	failFor map[int64]bool
}

func (s *stubResolver) Resolve(_ context.Context, user models.User) (executor.Signer, error) {
	if s.failFor[user.ID] {
		return nil, errors.New("custody unreachable")
	}
	return stubSigner{}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, message string, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type harness struct {
	ledger   *storage.MemoryLedger
	runner   *stubRunner
	market   *stubMarket
	resolver *stubResolver
	notes    *recordingNotifier
	d        *Dispatcher
}

func newHarness() *harness {
	h := &harness{
		ledger:   storage.NewMemory(),
		runner:   &stubRunner{},
		market:   &stubMarket{prices: map[string]float64{}, balance: 10},
		resolver: &stubResolver{failFor: map[int64]bool{}},
		notes:    &recordingNotifier{},
	}
	engineCfg := config.EngineConfig{
		RateLimiterConcurrency: 4,
		RetryMaxAttempts:       3,
		RetryBaseDelayMS:       1,
		ExecuteTimeoutMS:       5000,
	}
	h.d = NewDispatcher(h.ledger, h.runner, h.market, h.resolver,
		notify.NewRelay(h.notes, zerolog.Nop()), engineCfg, testSizing(), config.CacheConfig{}, zerolog.Nop())
	return h
}

func (h *harness) addTracker(t *testing.T, wallet, alpha string) models.User {
	t.Helper()
	user, err := h.ledger.CreateUser(context.Background(), models.User{
		WalletAddress: wallet,
		SignerRef:     "ref-" + wallet,
		Settings:      models.UserSettings{MaxTradeSOL: 1.0, SlippageBps: 100},
	})
	require.NoError(t, err)
	require.NoError(t, h.ledger.AddAlphaWallet(context.Background(), models.AlphaWallet{
		OwnerID: user.ID,
		Address: alpha,
	}))
	return *user
}

func withSig(event models.SwapEvent, sig string) models.SwapEvent {
	event.Signature = sig
	return event
}

func TestDispatchBuyCommitsPositionAndTrade(t *testing.T) {
	h := newHarness()
	user := h.addTracker(t, "wallet1", "alpha1")

	h.d.OnSwapEvent(context.Background(), buyEvent(2.0))
	h.d.Drain()

	// 2.0 * 0.10 = 0.2 SOL in, filled at factor 1000.
	pos, err := h.ledger.GetPosition(context.Background(), user.ID, "mintA")
	require.NoError(t, err)
	assert.True(t, pos.Open)
	assert.InDelta(t, 200.0, pos.TotalAmount, tolerance)
	assert.InDelta(t, 0.001, pos.AvgEntryPrice, tolerance)
	assert.Equal(t, "alpha1", pos.AlphaWallet)

	require.Len(t, h.ledger.TradeLog, 1)
	trade := h.ledger.TradeLog[0]
	assert.Equal(t, models.TradeExecuted, trade.Status)
	assert.Equal(t, models.SideBuy, trade.Side)
	assert.InDelta(t, 200.0, trade.Amount, tolerance)
	assert.Equal(t, "exec-1", trade.Signature)
	assert.Equal(t, 1, h.notes.count())
}

func TestDuplicateSignatureDropped(t *testing.T) {
	h := newHarness()
	h.addTracker(t, "wallet1", "alpha1")

	event := buyEvent(2.0)
	h.d.OnSwapEvent(context.Background(), event)
	h.d.OnSwapEvent(context.Background(), event)
	h.d.Drain()

	assert.Equal(t, 1, h.runner.callCount(), "redelivered event must not execute twice")
	assert.Len(t, h.ledger.TradeLog, 1)
}

func TestFanOutIsolatesUserFailures(t *testing.T) {
	h := newHarness()
	good := h.addTracker(t, "wallet-good", "alpha1")
	bad := h.addTracker(t, "wallet-bad", "alpha1")
	h.resolver.failFor[bad.ID] = true

	h.d.OnSwapEvent(context.Background(), buyEvent(2.0))
	h.d.Drain()

	_, err := h.ledger.GetPosition(context.Background(), good.ID, "mintA")
	assert.NoError(t, err, "healthy user's trade must land despite the other failing")
	_, err = h.ledger.GetPosition(context.Background(), bad.ID, "mintA")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.Len(t, h.ledger.TradeLog, 2)
	statuses := map[models.TradeStatus]int{}
	for _, trade := range h.ledger.TradeLog {
		statuses[trade.Status]++
	}
	assert.Equal(t, 1, statuses[models.TradeExecuted])
	assert.Equal(t, 1, statuses[models.TradeFailed])
	assert.Equal(t, 2, h.notes.count())
}

func TestExecutionFailureRecordsFailedTrade(t *testing.T) {
	h := newHarness()
	user := h.addTracker(t, "wallet1", "alpha1")
	h.runner.err = executor.ErrRateLimited
	h.runner.errAttempts = 3

	h.d.OnSwapEvent(context.Background(), buyEvent(2.0))
	h.d.Drain()

	require.Len(t, h.ledger.TradeLog, 1)
	trade := h.ledger.TradeLog[0]
	assert.Equal(t, models.TradeFailed, trade.Status)
	assert.Equal(t, 3, trade.Attempts)
	assert.NotEmpty(t, trade.FailReason)

	_, err := h.ledger.GetPosition(context.Background(), user.ID, "mintA")
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed execution must not move the position")
	assert.Equal(t, 1, h.notes.count())
}

func TestBlacklistedTokenSkippedSilently(t *testing.T) {
	h := newHarness()
	h.addTracker(t, "wallet1", "alpha1")
	require.NoError(t, h.ledger.BlacklistToken(context.Background(), "mintA", "honeypot"))

	h.d.OnSwapEvent(context.Background(), buyEvent(2.0))
	h.d.Drain()

	assert.Equal(t, 0, h.runner.callCount())
	assert.Empty(t, h.ledger.TradeLog)
	assert.Equal(t, 0, h.notes.count())
}

func TestSameUserTokenRunsSequentially(t *testing.T) {
	h := newHarness()
	user := h.addTracker(t, "wallet1", "alpha1")
	h.runner.delay = 30 * time.Millisecond

	h.d.OnSwapEvent(context.Background(), withSig(buyEvent(2.0), "sigA"))
	h.d.OnSwapEvent(context.Background(), withSig(buyEvent(2.0), "sigB"))
	h.d.Drain()

	assert.LessOrEqual(t, atomic.LoadInt32(&h.runner.maxActive), int32(1),
		"same user+token jobs must not overlap")

	// The second fill sees the first one's position: 0.2 SOL then the
	// repeat-buy half at 0.1 SOL, no lost update.
	pos, err := h.ledger.GetPosition(context.Background(), user.ID, "mintA")
	require.NoError(t, err)
	assert.InDelta(t, 300.0, pos.TotalAmount, tolerance)
	require.Len(t, h.ledger.TradeLog, 2)
}

func TestUnknownAlphaWalletIgnored(t *testing.T) {
	h := newHarness()
	h.addTracker(t, "wallet1", "alpha1")

	event := buyEvent(2.0)
	event.AlphaWallet = "alphaUnknown"
	h.d.OnSwapEvent(context.Background(), event)
	h.d.Drain()

	assert.Equal(t, 0, h.runner.callCount())
	assert.Empty(t, h.ledger.TradeLog)
}

func TestSellFollowReducesPosition(t *testing.T) {
	h := newHarness()
	user := h.addTracker(t, "wallet1", "alpha1")
	require.NoError(t, h.ledger.UpsertPosition(context.Background(), models.Position{
		UserID: user.ID, TokenMint: "mintA", TotalAmount: 50,
		AvgEntryPrice: 0.001, AlphaWallet: "alpha1", Open: true,
	}))
	h.runner.outFactor = 0.001 // selling tokens back into SOL

	h.d.OnSwapEvent(context.Background(), sellEvent(100))
	h.d.Drain()

	// 100 * 0.10 = 10 tokens sold out of 50.
	pos, err := h.ledger.GetPosition(context.Background(), user.ID, "mintA")
	require.NoError(t, err)
	assert.True(t, pos.Open)
	assert.InDelta(t, 40.0, pos.TotalAmount, tolerance)
	assert.InDelta(t, 0.001, pos.AvgEntryPrice, tolerance, "entry price must not move on sells")

	require.Len(t, h.ledger.TradeLog, 1)
	assert.Equal(t, models.SideSell, h.ledger.TradeLog[0].Side)
	assert.InDelta(t, 10.0, h.ledger.TradeLog[0].Amount, tolerance)
}

func TestAutoSellExitsFullPosition(t *testing.T) {
	h := newHarness()
	user := h.addTracker(t, "wallet1", "alpha1")
	pos := models.Position{
		UserID: user.ID, TokenMint: "mintA", TotalAmount: 10,
		AvgEntryPrice: 1.0, AlphaWallet: "alpha1", Open: true,
	}
	require.NoError(t, h.ledger.UpsertPosition(context.Background(), pos))
	h.runner.outFactor = 1.6 // 10 tokens -> 16 SOL, price 1.6

	err := h.d.ExecuteAutoSell(context.Background(), user, pos, models.TriggerTakeProfit, 60)
	require.NoError(t, err)
	h.d.Drain()

	got, err := h.ledger.GetPosition(context.Background(), user.ID, "mintA")
	require.NoError(t, err)
	assert.False(t, got.Open)
	assert.Zero(t, got.TotalAmount)

	require.Len(t, h.ledger.TradeLog, 1)
	trade := h.ledger.TradeLog[0]
	assert.Equal(t, models.AutoSellWallet, trade.AlphaWallet)
	assert.Equal(t, models.TriggerTakeProfit, trade.Trigger)
	assert.Equal(t, models.SideSell, trade.Side)
	assert.InDelta(t, 10.0, trade.Amount, tolerance)
	assert.InDelta(t, 1.6, trade.Price, tolerance)
	assert.Equal(t, 1, h.notes.count())
}

func TestAutoSellSkipsAlreadyClosedPosition(t *testing.T) {
	h := newHarness()
	user := h.addTracker(t, "wallet1", "alpha1")
	stale := models.Position{
		UserID: user.ID, TokenMint: "mintA", TotalAmount: 10,
		AvgEntryPrice: 1.0, AlphaWallet: "alpha1", Open: true,
	}
	// The ledger says the position is gone; the monitor's snapshot is stale.
	closed := stale
	closed.TotalAmount = 0
	closed.Open = false
	require.NoError(t, h.ledger.UpsertPosition(context.Background(), closed))

	err := h.d.ExecuteAutoSell(context.Background(), user, stale, models.TriggerStopLoss, -30)
	require.NoError(t, err)
	h.d.Drain()

	assert.Equal(t, 0, h.runner.callCount())
	assert.Empty(t, h.ledger.TradeLog)
}

func TestTrackerLookupFailureAllowsRedelivery(t *testing.T) {
	h := newHarness()
	h.addTracker(t, "wallet1", "alpha1")
	h.ledger.ErrorOnNext["GetActiveTrackers"] = errors.New("ledger down")

	event := buyEvent(2.0)
	h.d.OnSwapEvent(context.Background(), event)
	h.d.Drain()
	assert.Empty(t, h.ledger.TradeLog, "failed lookup must not execute anything")

	// The signature was not consumed, so the redelivery still lands.
	h.d.OnSwapEvent(context.Background(), event)
	h.d.Drain()
	require.Len(t, h.ledger.TradeLog, 1)
	assert.Equal(t, models.TradeExecuted, h.ledger.TradeLog[0].Status)
}

func TestConfiguredCacheTTLsApplied(t *testing.T) {
	h := newHarness()
	d := NewDispatcher(h.ledger, h.runner, h.market, h.resolver,
		notify.NewRelay(h.notes, zerolog.Nop()),
		config.EngineConfig{RateLimiterConcurrency: 1},
		testSizing(),
		config.CacheConfig{TrackersTTLSec: 2, PriceTTLSec: 3, BlacklistTTLSec: 4},
		zerolog.Nop())

	assert.Equal(t, 2*time.Second, d.ttlTrackers)
	assert.Equal(t, 3*time.Second, d.ttlPrice)
	assert.Equal(t, 4*time.Second, d.ttlBlacklist)

	// Zero values keep the package defaults.
	assert.Equal(t, cache.TTLTrackers, h.d.ttlTrackers)
	assert.Equal(t, cache.TTLPrice, h.d.ttlPrice)
	assert.Equal(t, cache.TTLBlacklist, h.d.ttlBlacklist)
}

func TestMalformedEventRejected(t *testing.T) {
	h := newHarness()
	h.addTracker(t, "wallet1", "alpha1")

	event := buyEvent(2.0)
	event.Signature = ""
	h.d.OnSwapEvent(context.Background(), event)
	h.d.Drain()

	assert.Equal(t, 0, h.runner.callCount())
	assert.Empty(t, h.ledger.TradeLog)
}
