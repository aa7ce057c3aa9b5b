package models

import "time"

// Side identifies the direction of a swap or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeStatus reflects the final outcome of an execution attempt.
type TradeStatus string

const (
	TradeExecuted TradeStatus = "executed"
	TradeFailed   TradeStatus = "failed"
	TradeSkipped  TradeStatus = "skipped"
)

// AutoSellWallet is the sentinel alpha-wallet value recorded on trades the
// position monitor triggered on its own, rather than a copied alpha swap.
const AutoSellWallet = "auto_sell"

// Auto-sell trigger tags recorded on monitor-initiated trades.
const (
	TriggerTakeProfit = "take_profit"
	TriggerStopLoss   = "stop_loss"
)

// DustEpsilon is the holding size below which a position counts as closed.
const DustEpsilon = 1e-9

// UserSettings holds per-user trading configuration.
type UserSettings struct {
	MaxTradeSOL     float64 `json:"max_trade_sol"`
	SlippageBps     int     `json:"slippage_bps"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	AutoSellEnabled bool    `json:"auto_sell_enabled"`
}

// User represents a subscriber whose wallet mirrors alpha trades.
// Users are never deleted, only disabled via Active=false.
type User struct {
	ID            int64        `json:"id"`
	TelegramID    int64        `json:"telegram_id"`
	WalletAddress string       `json:"wallet_address"`
	SignerRef     string       `json:"signer_ref"`
	Settings      UserSettings `json:"settings"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AlphaWallet is a tracked external wallet whose swaps are mirrored.
// Removal is a soft delete so historical trades stay attributable.
type AlphaWallet struct {
	Address   string    `json:"address"`
	OwnerID   int64     `json:"owner_id"`
	Nickname  string    `json:"nickname"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// SwapEvent is a normalized swap observed on an alpha wallet, delivered by
// the external ingestion layer. Signature doubles as the idempotency key.
type SwapEvent struct {
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Side        Side      `json:"side"`
	TokenIn     string    `json:"token_in"`
	TokenOut    string    `json:"token_out"`
	AmountIn    float64   `json:"amount_in"`
	AmountOut   float64   `json:"amount_out"`
	AlphaWallet string    `json:"alpha_wallet"`
	PoolAddress string    `json:"pool_address,omitempty"`
}

// Position is a user's current holding in one token with a volume-weighted
// average cost basis. Open iff TotalAmount > DustEpsilon.
type Position struct {
	UserID        int64      `json:"user_id"`
	TokenMint     string     `json:"token_mint"`
	TotalAmount   float64    `json:"total_amount"`
	AvgEntryPrice float64    `json:"avg_entry_price"`
	AlphaWallet   string     `json:"alpha_wallet"` // wallet whose buy opened the position
	Open          bool       `json:"open"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Trade is an immutable record of one executed (or failed) order.
type Trade struct {
	ID          string      `json:"id"`
	UserID      int64       `json:"user_id"`
	AlphaWallet string      `json:"alpha_wallet"` // originating alpha, or AutoSellWallet
	Trigger     string      `json:"trigger,omitempty"`
	TokenMint   string      `json:"token_mint"`
	Side        Side        `json:"side"`
	Amount      float64     `json:"amount"`
	Price       float64     `json:"price"`
	Signature   string      `json:"signature"`
	Status      TradeStatus `json:"status"`
	FailReason  string      `json:"fail_reason,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"created_at"`
}
