// Seeds a dev database with the trading schema and demo fixtures.
// Refuses to run outside dev and test environments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	demoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func main() {
	env := getEnv("COIN_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: COIN_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "coin_trading")
	user := getEnv("POSTGRES_USER", "coin")
	password := getEnv("POSTGRES_PASSWORD", "coin")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatalf("create schema: %v", err)
	}
	fmt.Println("schema ready")

	if err := seedBalances(ctx, pool); err != nil {
		log.Fatalf("seed balances: %v", err)
	}
	fmt.Println("balances seeded")

	if err := seedHoldings(ctx, pool); err != nil {
		log.Fatalf("seed holdings: %v", err)
	}
	fmt.Println("holdings seeded")

	if err := seedOrders(ctx, pool); err != nil {
		log.Fatalf("seed orders: %v", err)
	}
	fmt.Println("orders seeded")

	fmt.Println("Done.")
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			user_id UUID PRIMARY KEY,
			amount NUMERIC(30, 10) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT balances_amount_non_negative CHECK (amount >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			user_id UUID NOT NULL,
			coin_id TEXT NOT NULL,
			coin_symbol TEXT NOT NULL,
			quantity NUMERIC(30, 10) NOT NULL,
			average_buy_price NUMERIC(30, 10) NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, coin_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			coin_id TEXT NOT NULL,
			coin_symbol TEXT NOT NULL,
			side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
			mode TEXT NOT NULL CHECK (mode IN ('market', 'limit')),
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'cancelled')),
			client_order_id TEXT,
			quantity NUMERIC(30, 10) NOT NULL,
			limit_price NUMERIC(30, 10),
			total_amount NUMERIC(30, 10) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pending_limit
			ON orders (created_at, id) WHERE status = 'pending' AND mode = 'limit'`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_client_order
			ON orders (user_id, client_order_id) WHERE client_order_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL UNIQUE REFERENCES orders (id),
			type TEXT NOT NULL CHECK (type IN ('buy', 'sell')),
			coin_id TEXT NOT NULL,
			quantity NUMERIC(30, 10) NOT NULL,
			price_per_unit NUMERIC(30, 10) NOT NULL,
			total_amount NUMERIC(30, 10) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

func seedBalances(ctx context.Context, pool *pgxpool.Pool) error {
	balances := map[uuid.UUID]string{
		demoUserID:   "100000",
		traderUserID: "50000",
	}
	for userID, amount := range balances {
		_, err := pool.Exec(ctx, `
			INSERT INTO balances (user_id, amount, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (user_id) DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()
		`, userID, amount)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedHoldings(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO holdings (user_id, coin_id, coin_symbol, quantity, average_buy_price, last_updated)
		VALUES ($1, 'bitcoin', 'BTC', 0.5, 42000, now())
		ON CONFLICT (user_id, coin_id) DO NOTHING
	`, traderUserID)
	return err
}

func seedOrders(ctx context.Context, pool *pgxpool.Pool) error {
	limitPrice := decimal.NewFromInt(40000)
	_, err := pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, coin_id, coin_symbol, side, mode, status, quantity, limit_price, total_amount, created_at)
		VALUES ($1, $2, 'bitcoin', 'BTC', 'buy', 'limit', 'pending', 0.1, $3, $4, now())
		ON CONFLICT (id) DO NOTHING
	`, uuid.MustParse("00000000-0000-0000-0000-00000000a001"), demoUserID, limitPrice, limitPrice.Mul(decimal.RequireFromString("0.1")))
	return err
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
