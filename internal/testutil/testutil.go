// Package testutil holds shared helpers for integration and handler
// tests. Database helpers expect a local postgres reachable through the
// usual COIN_TEST_* environment variables.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("COIN_TEST_PG_USER", "coin"),
		getEnv("COIN_TEST_PG_PASSWORD", "coin"),
		getEnv("COIN_TEST_PG_HOST", "localhost"),
		getEnv("COIN_TEST_PG_PORT", "5432"),
		getEnv("COIN_TEST_PG_DB", "coin_trading"),
		getEnv("COIN_TEST_PG_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		"DELETE FROM transactions",
		"DELETE FROM orders",
		"DELETE FROM holdings",
		"DELETE FROM balances",
	}
	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
