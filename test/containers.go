package test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresSetup struct {
	ConnStr string
	cleanup func()
}

func (p *PostgresSetup) Cleanup() {
	p.cleanup()
}

func SetupPostgres(ctx context.Context, t *testing.T) *PostgresSetup {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("marketplace"),
		postgres.WithUsername("marketplace"),
		postgres.WithPassword("marketplace"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return &PostgresSetup{ConnStr: connStr, cleanup: cleanup}
}

func runMigrations(connStr string) error {
	m, err := migrate.New(getMigrationsPath(), connStr)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func getMigrationsPath() string {
	_, filename, _, _ := runtime.Caller(0)
	testDir := filepath.Dir(filename)
	projectRoot := filepath.Dir(testDir)
	migrationsDir := filepath.Join(projectRoot, "migrations")
	return "file://" + migrationsDir
}

func SetupKafka(ctx context.Context, t *testing.T) ([]string, func()) {
	t.Helper()

	container, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		kafka.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers, cleanup
}

func OpenDB(t *testing.T, connStr string) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return db
}

// SeedBuyer inserts a user, an address and a product with stock, returning
// the generated ids in that order.
func SeedBuyer(t *testing.T, db *sql.DB, email string, price int64, stock int) (string, string, string) {
	t.Helper()

	var userID, addressID, productID string

	err := db.QueryRow(`
		INSERT INTO users (id, email, name, role)
		VALUES (gen_random_uuid(), $1, 'Test Buyer', 'buyer')
		RETURNING id
	`, email).Scan(&userID)
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	err = db.QueryRow(`
		INSERT INTO addresses (id, user_id, recipient, line1, city, country, postal_code)
		VALUES (gen_random_uuid(), $1, 'Test Buyer', '1 Main St', 'Springfield', 'US', '00001')
		RETURNING id
	`, userID).Scan(&addressID)
	if err != nil {
		t.Fatalf("failed to seed address: %v", err)
	}

	err = db.QueryRow(`
		INSERT INTO products (id, seller_id, category, title, description, price)
		VALUES (gen_random_uuid(), $1, 'misc', 'Test Product', '', $2)
		RETURNING id
	`, userID, price).Scan(&productID)
	if err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}

	if _, err := db.Exec(`
		INSERT INTO inventory (product_id, quantity) VALUES ($1, $2)
	`, productID, stock); err != nil {
		t.Fatalf("failed to seed inventory: %v", err)
	}

	return userID, addressID, productID
}
