package storage

import (
	"context"
	"errors"

	"github.com/elly-po/copiAlpha-sub000/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Ledger is the durable source of truth for users, alpha wallets, positions
// and the append-only trade log. Implementations own caching of their own
// reads, but must invalidate any cached copy of a key they just wrote.
type Ledger interface {
	Close() error

	// User operations. Users are disabled, never deleted.
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	UpdateUserSettings(ctx context.Context, userID int64, settings models.UserSettings) error
	DisableUser(ctx context.Context, userID int64) error
	GetUsersWithAutoSell(ctx context.Context) ([]models.User, error)

	// Alpha wallet operations. Removal is a soft delete.
	AddAlphaWallet(ctx context.Context, wallet models.AlphaWallet) error
	RemoveAlphaWallet(ctx context.Context, ownerID int64, address string) error
	ListAlphaWallets(ctx context.Context, ownerID int64) ([]models.AlphaWallet, error)
	GetActiveTrackers(ctx context.Context, alphaAddress string) ([]models.User, error)

	// Position operations. Upserts are read-modify-write against the store.
	GetPosition(ctx context.Context, userID int64, tokenMint string) (*models.Position, error)
	UpsertPosition(ctx context.Context, pos models.Position) error
	GetOpenPositions(ctx context.Context, userID int64) ([]models.Position, error)

	// Trade log, append-only.
	AppendTrade(ctx context.Context, trade models.Trade) error
	ListUserTrades(ctx context.Context, userID int64, limit int) ([]models.Trade, error)

	// Token blacklist.
	GetBlacklistedTokens(ctx context.Context) ([]string, error)
	BlacklistToken(ctx context.Context, tokenMint, reason string) error
}

// Ensure both implementations satisfy the interface.
var _ Ledger = (*PostgresLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)
