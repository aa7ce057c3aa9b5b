package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/cache"
	"github.com/elly-po/copiAlpha-sub000/config"
	"github.com/elly-po/copiAlpha-sub000/models"
)

// Redis keys used by the read-side cache. Every write path below that touches
// the underlying rows deletes the matching key.
const (
	trackerKeyPrefix = "trackers:"
	blacklistKey     = "blacklist:tokens"
)

// PostgresLedger wraps PostgreSQL persistence with Redis read caching.
type PostgresLedger struct {
	pool         *pgxpool.Pool
	redis        *redis.Client
	log          zerolog.Logger
	trackerTTL   time.Duration
	blacklistTTL time.Duration
}

// NewPostgres creates a ledger backed by PostgreSQL and Redis. Connections
// come from environment variables, cache TTLs from cacheCfg.
func NewPostgres(cacheCfg config.CacheConfig, log zerolog.Logger) (*PostgresLedger, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "copialpha")
	password := getEnv("POSTGRES_PASSWORD", "copialpha")
	dbname := getEnv("POSTGRES_DB", "copialpha")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	cfg.ConnConfig.RuntimeParams["lock_timeout"] = "10000"

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	l := &PostgresLedger{
		pool:         pool,
		redis:        rdb,
		log:          log.With().Str("component", "ledger").Logger(),
		trackerTTL:   config.TTLOrDefault(cacheCfg.TrackersTTLSec, cache.TTLTrackers),
		blacklistTTL: config.TTLOrDefault(cacheCfg.BlacklistTTLSec, cache.TTLBlacklist),
	}

	if err := l.initSchema(context.Background()); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Close releases database connections.
func (l *PostgresLedger) Close() error {
	if l.redis != nil {
		l.redis.Close()
	}
	if l.pool != nil {
		l.pool.Close()
	}
	return nil
}

func (l *PostgresLedger) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			telegram_id BIGINT UNIQUE NOT NULL,
			wallet_address TEXT NOT NULL DEFAULT '',
			signer_ref TEXT NOT NULL DEFAULT '',
			max_trade_sol DOUBLE PRECISION NOT NULL DEFAULT 0,
			slippage_bps INT NOT NULL DEFAULT 100,
			take_profit_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			stop_loss_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			auto_sell_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS alpha_wallets (
			address TEXT NOT NULL,
			owner_id BIGINT NOT NULL REFERENCES users(id),
			nickname TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (address, owner_id)
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			user_id BIGINT NOT NULL REFERENCES users(id),
			token_mint TEXT NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			alpha_wallet TEXT NOT NULL DEFAULT '',
			is_open BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ,
			PRIMARY KEY (user_id, token_mint)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			alpha_wallet TEXT NOT NULL DEFAULT '',
			trigger_tag TEXT NOT NULL DEFAULT '',
			token_mint TEXT NOT NULL,
			side TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			signature TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			fail_reason TEXT NOT NULL DEFAULT '',
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades(user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS token_blacklist (
			token_mint TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a user and returns the stored row.
func (l *PostgresLedger) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	row := l.pool.QueryRow(ctx, `
		INSERT INTO users (telegram_id, wallet_address, signer_ref, max_trade_sol, slippage_bps,
			take_profit_pct, stop_loss_pct, auto_sell_enabled, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (telegram_id) DO UPDATE SET wallet_address = EXCLUDED.wallet_address,
			signer_ref = EXCLUDED.signer_ref, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		user.TelegramID, user.WalletAddress, user.SignerRef,
		user.Settings.MaxTradeSOL, user.Settings.SlippageBps,
		user.Settings.TakeProfitPct, user.Settings.StopLossPct, user.Settings.AutoSellEnabled)

	if err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	user.Active = true
	return &user, nil
}

const userColumns = `id, telegram_id, wallet_address, signer_ref, max_trade_sol, slippage_bps,
	take_profit_pct, stop_loss_pct, auto_sell_enabled, active, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.WalletAddress, &u.SignerRef,
		&u.Settings.MaxTradeSOL, &u.Settings.SlippageBps,
		&u.Settings.TakeProfitPct, &u.Settings.StopLossPct, &u.Settings.AutoSellEnabled,
		&u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a single user by ID.
func (l *PostgresLedger) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	u, err := scanUser(l.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return u, nil
}

// UpdateUserSettings replaces a user's trading configuration.
func (l *PostgresLedger) UpdateUserSettings(ctx context.Context, userID int64, s models.UserSettings) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE users SET max_trade_sol = $2, slippage_bps = $3, take_profit_pct = $4,
			stop_loss_pct = $5, auto_sell_enabled = $6, updated_at = NOW()
		WHERE id = $1`,
		userID, s.MaxTradeSOL, s.SlippageBps, s.TakeProfitPct, s.StopLossPct, s.AutoSellEnabled)
	if err != nil {
		return fmt.Errorf("update settings for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	l.invalidateTrackers(ctx)
	return nil
}

// DisableUser flips active=false; the row stays for trade attribution.
func (l *PostgresLedger) DisableUser(ctx context.Context, userID int64) error {
	tag, err := l.pool.Exec(ctx, `UPDATE users SET active = FALSE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("disable user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	l.invalidateTrackers(ctx)
	return nil
}

// GetUsersWithAutoSell returns active users that opted into auto-sell.
func (l *PostgresLedger) GetUsersWithAutoSell(ctx context.Context) ([]models.User, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE active = TRUE AND auto_sell_enabled = TRUE AND wallet_address <> ''`)
	if err != nil {
		return nil, fmt.Errorf("list auto-sell users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// AddAlphaWallet links a tracked wallet to its owner, reactivating a
// previously removed link if one exists.
func (l *PostgresLedger) AddAlphaWallet(ctx context.Context, wallet models.AlphaWallet) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO alpha_wallets (address, owner_id, nickname, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (address, owner_id) DO UPDATE SET nickname = EXCLUDED.nickname, active = TRUE`,
		wallet.Address, wallet.OwnerID, wallet.Nickname)
	if err != nil {
		return fmt.Errorf("add alpha wallet %s: %w", wallet.Address, err)
	}
	l.redis.Del(ctx, trackerKeyPrefix+wallet.Address)
	return nil
}

// RemoveAlphaWallet soft-deletes the link so past trades stay attributable.
func (l *PostgresLedger) RemoveAlphaWallet(ctx context.Context, ownerID int64, address string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE alpha_wallets SET active = FALSE WHERE address = $1 AND owner_id = $2`, address, ownerID)
	if err != nil {
		return fmt.Errorf("remove alpha wallet %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	l.redis.Del(ctx, trackerKeyPrefix+address)
	return nil
}

// ListAlphaWallets returns the owner's active tracked wallets.
func (l *PostgresLedger) ListAlphaWallets(ctx context.Context, ownerID int64) ([]models.AlphaWallet, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT address, owner_id, nickname, active, created_at
		FROM alpha_wallets WHERE owner_id = $1 AND active = TRUE ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list alpha wallets for %d: %w", ownerID, err)
	}
	defer rows.Close()

	var wallets []models.AlphaWallet
	for rows.Next() {
		var w models.AlphaWallet
		if err := rows.Scan(&w.Address, &w.OwnerID, &w.Nickname, &w.Active, &w.CreatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// GetActiveTrackers returns active, wallet-connected users tracking the given
// alpha address. Served from Redis when fresh.
func (l *PostgresLedger) GetActiveTrackers(ctx context.Context, alphaAddress string) ([]models.User, error) {
	key := trackerKeyPrefix + alphaAddress
	if raw, err := l.redis.Get(ctx, key).Result(); err == nil {
		var users []models.User
		if json.Unmarshal([]byte(raw), &users) == nil {
			return users, nil
		}
	}

	rows, err := l.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users u
		JOIN alpha_wallets a ON a.owner_id = u.id
		WHERE a.address = $1 AND a.active = TRUE AND u.active = TRUE AND u.wallet_address <> ''`,
		alphaAddress)
	if err != nil {
		return nil, fmt.Errorf("get trackers for %s: %w", alphaAddress, err)
	}
	defer rows.Close()

	users, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(users); err == nil {
		if err := l.redis.Set(ctx, key, raw, l.trackerTTL).Err(); err != nil {
			l.log.Warn().Err(err).Str("alpha", alphaAddress).Msg("tracker cache write failed")
		}
	}
	return users, nil
}

// GetPosition fetches one (user, token) position.
func (l *PostgresLedger) GetPosition(ctx context.Context, userID int64, tokenMint string) (*models.Position, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT user_id, token_mint, total_amount, avg_entry_price, alpha_wallet, is_open,
			created_at, updated_at, closed_at
		FROM positions WHERE user_id = $1 AND token_mint = $2`, userID, tokenMint)

	var p models.Position
	err := row.Scan(&p.UserID, &p.TokenMint, &p.TotalAmount, &p.AvgEntryPrice,
		&p.AlphaWallet, &p.Open, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %d/%s: %w", userID, tokenMint, err)
	}
	return &p, nil
}

// UpsertPosition writes the full position row inside a transaction.
func (l *PostgresLedger) UpsertPosition(ctx context.Context, pos models.Position) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert position: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (user_id, token_mint, total_amount, avg_entry_price, alpha_wallet,
			is_open, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, token_mint) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			avg_entry_price = EXCLUDED.avg_entry_price,
			alpha_wallet = EXCLUDED.alpha_wallet,
			is_open = EXCLUDED.is_open,
			closed_at = EXCLUDED.closed_at,
			updated_at = NOW()`,
		pos.UserID, pos.TokenMint, pos.TotalAmount, pos.AvgEntryPrice, pos.AlphaWallet,
		pos.Open, pos.ClosedAt)
	if err != nil {
		return fmt.Errorf("upsert position %d/%s: %w", pos.UserID, pos.TokenMint, err)
	}
	return tx.Commit(ctx)
}

// GetOpenPositions lists a user's open positions.
func (l *PostgresLedger) GetOpenPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT user_id, token_mint, total_amount, avg_entry_price, alpha_wallet, is_open,
			created_at, updated_at, closed_at
		FROM positions WHERE user_id = $1 AND is_open = TRUE`, userID)
	if err != nil {
		return nil, fmt.Errorf("open positions for %d: %w", userID, err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.UserID, &p.TokenMint, &p.TotalAmount, &p.AvgEntryPrice,
			&p.AlphaWallet, &p.Open, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// AppendTrade writes one immutable trade record.
func (l *PostgresLedger) AppendTrade(ctx context.Context, trade models.Trade) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO trades (id, user_id, alpha_wallet, trigger_tag, token_mint, side, amount,
			price, signature, status, fail_reason, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		trade.ID, trade.UserID, trade.AlphaWallet, trade.Trigger, trade.TokenMint, trade.Side,
		trade.Amount, trade.Price, trade.Signature, trade.Status, trade.FailReason,
		trade.Attempts, trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("append trade %s: %w", trade.ID, err)
	}
	return nil
}

// ListUserTrades returns the user's most recent trades.
func (l *PostgresLedger) ListUserTrades(ctx context.Context, userID int64, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, user_id, alpha_wallet, trigger_tag, token_mint, side, amount, price,
			signature, status, fail_reason, attempts, created_at
		FROM trades WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades for %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.AlphaWallet, &t.Trigger, &t.TokenMint, &t.Side,
			&t.Amount, &t.Price, &t.Signature, &t.Status, &t.FailReason, &t.Attempts,
			&t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetBlacklistedTokens returns all blacklisted mints, served from Redis when fresh.
func (l *PostgresLedger) GetBlacklistedTokens(ctx context.Context) ([]string, error) {
	if raw, err := l.redis.Get(ctx, blacklistKey).Result(); err == nil {
		var mints []string
		if json.Unmarshal([]byte(raw), &mints) == nil {
			return mints, nil
		}
	}

	rows, err := l.pool.Query(ctx, `SELECT token_mint FROM token_blacklist`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var mints []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		mints = append(mints, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(mints); err == nil {
		l.redis.Set(ctx, blacklistKey, raw, l.blacklistTTL)
	}
	return mints, nil
}

// BlacklistToken adds a mint to the blacklist and drops the cached list.
func (l *PostgresLedger) BlacklistToken(ctx context.Context, tokenMint, reason string) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO token_blacklist (token_mint, reason) VALUES ($1, $2)
		ON CONFLICT (token_mint) DO UPDATE SET reason = EXCLUDED.reason`, tokenMint, reason)
	if err != nil {
		return fmt.Errorf("blacklist token %s: %w", tokenMint, err)
	}
	l.redis.Del(ctx, blacklistKey)
	return nil
}

// invalidateTrackers drops every cached tracker list. Used when a user-level
// change can affect an unknown set of alpha addresses.
func (l *PostgresLedger) invalidateTrackers(ctx context.Context) {
	iter := l.redis.Scan(ctx, 0, trackerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		l.redis.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		l.log.Warn().Err(err).Msg("tracker cache invalidation failed")
	}
}
