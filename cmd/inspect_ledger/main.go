// Ad-hoc consistency checks against the live ledger. Run manually when
// positions look off; prints findings, changes nothing.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	connStr := os.Getenv("POSTGRES_DSN")
	if connStr == "" {
		connStr = fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
			envOr("POSTGRES_USER", "postgres"),
			os.Getenv("POSTGRES_PASSWORD"),
			envOr("POSTGRES_HOST", "localhost"),
			envOr("POSTGRES_PORT", "5432"),
			envOr("POSTGRES_DB", "copialpha"),
			envOr("POSTGRES_SSLMODE", "disable"))
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}
	fmt.Println("Successfully connected to DB")

	// 1. Positions with negative holdings
	fmt.Println("\n--- Checking for negative position amounts ---")
	rows, err := db.Query(`
		SELECT user_id, token_mint, total_amount, avg_entry_price
		FROM positions
		WHERE total_amount < 0
		LIMIT 10
	`)
	if err != nil {
		log.Printf("Error querying negative positions: %v", err)
	} else {
		defer rows.Close()
		found := false
		for rows.Next() {
			found = true
			var userID int64
			var mint string
			var amount, entry float64
			if err := rows.Scan(&userID, &mint, &amount, &entry); err != nil {
				log.Printf("Error scanning row: %v", err)
				continue
			}
			fmt.Printf("User: %d, Mint: %s, Amount: %.9f, Entry: %.9f\n", userID, mint, amount, entry)
		}
		if !found {
			fmt.Println("No negative position amounts found.")
		}
	}

	// 2. Positions still flagged open with dust-level holdings
	fmt.Println("\n--- Checking for open positions at dust size ---")
	rows2, err := db.Query(`
		SELECT user_id, token_mint, total_amount
		FROM positions
		WHERE is_open = true AND total_amount <= 1e-9
		LIMIT 10
	`)
	if err != nil {
		log.Printf("Error querying dust positions: %v", err)
	} else {
		defer rows2.Close()
		found := false
		for rows2.Next() {
			found = true
			var userID int64
			var mint string
			var amount float64
			rows2.Scan(&userID, &mint, &amount)
			fmt.Printf("User: %d, Mint: %s, Amount: %.12f (should be closed)\n", userID, mint, amount)
		}
		if !found {
			fmt.Println("No dust-sized open positions found.")
		}
	}

	// 3. Executed trades without a transaction signature
	fmt.Println("\n--- Checking executed trades missing signatures ---")
	rows3, err := db.Query(`
		SELECT id, user_id, token_mint, side, amount
		FROM trades
		WHERE status = 'executed' AND (signature IS NULL OR signature = '')
		LIMIT 10
	`)
	if err != nil {
		log.Printf("Error querying unsigned trades: %v", err)
	} else {
		defer rows3.Close()
		found := false
		for rows3.Next() {
			found = true
			var id, mint, side string
			var userID int64
			var amount float64
			rows3.Scan(&id, &userID, &mint, &side, &amount)
			fmt.Printf("Trade: %s, User: %d, Mint: %s, Side: %s, Amount: %.6f\n", id, userID, mint, side, amount)
		}
		if !found {
			fmt.Println("All executed trades carry signatures.")
		}
	}

	// 4. Compare ledger positions against the trade log net per user/mint
	fmt.Println("\n--- Comparing positions against trade log net ---")
	rows4, err := db.Query(`
		SELECT
			p.user_id,
			p.token_mint,
			p.total_amount,
			COALESCE(SUM(CASE WHEN t.status = 'executed' AND t.side = 'buy' THEN t.amount ELSE 0 END), 0) -
			COALESCE(SUM(CASE WHEN t.status = 'executed' AND t.side = 'sell' THEN t.amount ELSE 0 END), 0) AS net_traded
		FROM positions p
		LEFT JOIN trades t ON t.user_id = p.user_id AND t.token_mint = p.token_mint
		WHERE p.is_open = true
		GROUP BY p.user_id, p.token_mint, p.total_amount
		HAVING ABS(p.total_amount - (
			COALESCE(SUM(CASE WHEN t.status = 'executed' AND t.side = 'buy' THEN t.amount ELSE 0 END), 0) -
			COALESCE(SUM(CASE WHEN t.status = 'executed' AND t.side = 'sell' THEN t.amount ELSE 0 END), 0)
		)) > 1e-6
		LIMIT 10
	`)
	if err != nil {
		log.Printf("Error querying position drift: %v", err)
	} else {
		defer rows4.Close()
		found := false
		for rows4.Next() {
			found = true
			var userID int64
			var mint string
			var held, net float64
			rows4.Scan(&userID, &mint, &held, &net)
			fmt.Printf("Drift: User=%d, Mint=%s, Position=%.9f, TradeLogNet=%.9f, Diff=%.9f\n",
				userID, mint, held, net, held-net)
		}
		if !found {
			fmt.Println("No drift between positions and the trade log.")
		}
	}

	// 5. Auto-sell trades per trigger, a quick sanity distribution
	fmt.Println("\n--- Auto-sell trigger distribution ---")
	rows5, err := db.Query(`
		SELECT trigger_tag, status, COUNT(*)
		FROM trades
		WHERE alpha_wallet = 'auto_sell'
		GROUP BY trigger_tag, status
		ORDER BY trigger_tag, status
	`)
	if err != nil {
		log.Printf("Error querying auto-sell trades: %v", err)
	} else {
		defer rows5.Close()
		for rows5.Next() {
			var trigger, status string
			var count int64
			rows5.Scan(&trigger, &status, &count)
			fmt.Printf("Trigger: %s, Status: %s, Count: %d\n", trigger, status, count)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
