package cache

import "time"

// TTLs per data class. Added to time.Now() when storing.
const (
	// Who tracks an alpha wallet changes rarely within a burst of swaps.
	TTLTrackers = 30 * time.Second

	// Indicative prices go stale fast; one monitor period is the ceiling.
	TTLPrice = 30 * time.Second

	// Wallet SOL balances, read on the buy path only.
	TTLBalance = 15 * time.Second

	// Blacklist updates are an operator action, not a hot path.
	TTLBlacklist = 5 * time.Minute

	// Token metadata (decimals, symbol) is effectively static.
	TTLTokenMeta = 10 * time.Minute

	// Covers the plausible redelivery window for duplicate swap events.
	TTLSeenSignature = 10 * time.Minute

	// Default janitor sweep cadence.
	SweepInterval = time.Minute
)
