package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/elly-po/copiAlpha-sub000/models"
)

// MemoryLedger is an in-memory Ledger used in tests and local development.
// It tracks call counts and supports one-shot error injection per method.
type MemoryLedger struct {
	mu sync.RWMutex

	Users        map[int64]models.User
	AlphaWallets map[string][]models.AlphaWallet // address -> links
	Positions    map[string]models.Position      // userID|mint -> position
	TradeLog     []models.Trade
	Blacklist    map[string]string // mint -> reason

	nextUserID int64

	// Call tracking for assertions.
	Calls map[string]int

	// Error injection for exercising failure paths.
	ErrorOnNext map[string]error
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		Users:        make(map[int64]models.User),
		AlphaWallets: make(map[string][]models.AlphaWallet),
		Positions:    make(map[string]models.Position),
		Blacklist:    make(map[string]string),
		nextUserID:   1,
		Calls:        make(map[string]int),
		ErrorOnNext:  make(map[string]error),
	}
}

func posKey(userID int64, mint string) string {
	return fmt.Sprintf("%d|%s", userID, mint)
}

// track records the call and pops an injected error, if any.
// Caller must hold mu.
func (m *MemoryLedger) track(method string) error {
	m.Calls[method]++
	if err, ok := m.ErrorOnNext[method]; ok {
		delete(m.ErrorOnNext, method)
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MemoryLedger) Close() error { return nil }

// CreateUser assigns an ID and stores the user.
func (m *MemoryLedger) CreateUser(_ context.Context, user models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CreateUser"); err != nil {
		return nil, err
	}
	user.ID = m.nextUserID
	m.nextUserID++
	user.Active = true
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.Users[user.ID] = user
	return &user, nil
}

// GetUser returns the stored user or ErrNotFound.
func (m *MemoryLedger) GetUser(_ context.Context, userID int64) (*models.User, error) {
	m.mu.Lock()
	err := m.track("GetUser")
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.Users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// UpdateUserSettings replaces the user's trading configuration.
func (m *MemoryLedger) UpdateUserSettings(_ context.Context, userID int64, settings models.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("UpdateUserSettings"); err != nil {
		return err
	}
	u, ok := m.Users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Settings = settings
	u.UpdatedAt = time.Now()
	m.Users[userID] = u
	return nil
}

// DisableUser flips active=false.
func (m *MemoryLedger) DisableUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("DisableUser"); err != nil {
		return err
	}
	u, ok := m.Users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Active = false
	m.Users[userID] = u
	return nil
}

// GetUsersWithAutoSell returns active users with auto-sell enabled.
func (m *MemoryLedger) GetUsersWithAutoSell(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetUsersWithAutoSell"); err != nil {
		return nil, err
	}
	var users []models.User
	for _, u := range m.Users {
		if u.Active && u.Settings.AutoSellEnabled && u.WalletAddress != "" {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// AddAlphaWallet links a tracked wallet, reactivating a removed link.
func (m *MemoryLedger) AddAlphaWallet(_ context.Context, wallet models.AlphaWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("AddAlphaWallet"); err != nil {
		return err
	}
	wallet.Active = true
	if wallet.CreatedAt.IsZero() {
		wallet.CreatedAt = time.Now()
	}
	links := m.AlphaWallets[wallet.Address]
	for i, w := range links {
		if w.OwnerID == wallet.OwnerID {
			links[i] = wallet
			return nil
		}
	}
	m.AlphaWallets[wallet.Address] = append(links, wallet)
	return nil
}

// RemoveAlphaWallet soft-deletes the link.
func (m *MemoryLedger) RemoveAlphaWallet(_ context.Context, ownerID int64, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("RemoveAlphaWallet"); err != nil {
		return err
	}
	for i, w := range m.AlphaWallets[address] {
		if w.OwnerID == ownerID && w.Active {
			m.AlphaWallets[address][i].Active = false
			return nil
		}
	}
	return ErrNotFound
}

// ListAlphaWallets returns the owner's active links.
func (m *MemoryLedger) ListAlphaWallets(_ context.Context, ownerID int64) ([]models.AlphaWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListAlphaWallets"); err != nil {
		return nil, err
	}
	var wallets []models.AlphaWallet
	for _, links := range m.AlphaWallets {
		for _, w := range links {
			if w.OwnerID == ownerID && w.Active {
				wallets = append(wallets, w)
			}
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Address < wallets[j].Address })
	return wallets, nil
}

// GetActiveTrackers returns active wallet-connected users tracking the address.
func (m *MemoryLedger) GetActiveTrackers(_ context.Context, alphaAddress string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetActiveTrackers"); err != nil {
		return nil, err
	}
	var users []models.User
	for _, w := range m.AlphaWallets[alphaAddress] {
		if !w.Active {
			continue
		}
		u, ok := m.Users[w.OwnerID]
		if ok && u.Active && u.WalletAddress != "" {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// GetPosition returns the stored position or ErrNotFound.
func (m *MemoryLedger) GetPosition(_ context.Context, userID int64, tokenMint string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetPosition"); err != nil {
		return nil, err
	}
	p, ok := m.Positions[posKey(userID, tokenMint)]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// UpsertPosition stores the full position row.
func (m *MemoryLedger) UpsertPosition(_ context.Context, pos models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("UpsertPosition"); err != nil {
		return err
	}
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = time.Now()
	}
	pos.UpdatedAt = time.Now()
	m.Positions[posKey(pos.UserID, pos.TokenMint)] = pos
	return nil
}

// GetOpenPositions lists the user's open positions.
func (m *MemoryLedger) GetOpenPositions(_ context.Context, userID int64) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetOpenPositions"); err != nil {
		return nil, err
	}
	var positions []models.Position
	for _, p := range m.Positions {
		if p.UserID == userID && p.Open {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].TokenMint < positions[j].TokenMint })
	return positions, nil
}

// AppendTrade appends to the trade log.
func (m *MemoryLedger) AppendTrade(_ context.Context, trade models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("AppendTrade"); err != nil {
		return err
	}
	m.TradeLog = append(m.TradeLog, trade)
	return nil
}

// ListUserTrades returns the user's trades, newest first.
func (m *MemoryLedger) ListUserTrades(_ context.Context, userID int64, limit int) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("ListUserTrades"); err != nil {
		return nil, err
	}
	var trades []models.Trade
	for i := len(m.TradeLog) - 1; i >= 0; i-- {
		if m.TradeLog[i].UserID == userID {
			trades = append(trades, m.TradeLog[i])
			if limit > 0 && len(trades) >= limit {
				break
			}
		}
	}
	return trades, nil
}

// GetBlacklistedTokens returns all blacklisted mints.
func (m *MemoryLedger) GetBlacklistedTokens(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetBlacklistedTokens"); err != nil {
		return nil, err
	}
	mints := make([]string, 0, len(m.Blacklist))
	for mint := range m.Blacklist {
		mints = append(mints, mint)
	}
	sort.Strings(mints)
	return mints, nil
}

// BlacklistToken adds a mint to the blacklist.
func (m *MemoryLedger) BlacklistToken(_ context.Context, tokenMint, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("BlacklistToken"); err != nil {
		return err
	}
	m.Blacklist[tokenMint] = reason
	return nil
}
