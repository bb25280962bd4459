package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "gamestore")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(30) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			avatar TEXT DEFAULT '',
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id SERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
			original_price NUMERIC(10,2) DEFAULT 0,
			discount NUMERIC(5,2) DEFAULT 0,
			description TEXT NOT NULL,
			short_description VARCHAR(200) NOT NULL,
			developer VARCHAR(255) NOT NULL,
			publisher VARCHAR(255) NOT NULL,
			release_date TIMESTAMPTZ NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			categories TEXT[] NOT NULL DEFAULT '{}',
			header_image TEXT NOT NULL DEFAULT '',
			capsule_image TEXT NOT NULL DEFAULT '',
			rating NUMERIC(3,2) NOT NULL DEFAULT 0,
			review_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_featured BOOLEAN NOT NULL DEFAULT FALSE,
			is_popular BOOLEAN NOT NULL DEFAULT FALSE,
			is_new_release BOOLEAN NOT NULL DEFAULT FALSE,
			total_sales INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS library (
			user_id INTEGER NOT NULL REFERENCES users(id),
			game_id INTEGER NOT NULL REFERENCES games(id),
			purchase_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			price_paid NUMERIC(10,2) NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS wishlist (
			user_id INTEGER NOT NULL REFERENCES users(id),
			game_id INTEGER NOT NULL REFERENCES games(id),
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_number VARCHAR(32) UNIQUE NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id),
			items JSONB NOT NULL,
			subtotal NUMERIC(10,2) NOT NULL CHECK (subtotal >= 0),
			tax NUMERIC(10,2) NOT NULL CHECK (tax >= 0),
			total NUMERIC(10,2) NOT NULL CHECK (total >= 0),
			currency VARCHAR(3) NOT NULL DEFAULT 'USD',
			payment_method VARCHAR(20) NOT NULL,
			payment_details JSONB NOT NULL DEFAULT '{}',
			billing_address JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			status_history JSONB NOT NULL DEFAULT '[]',
			refund_requested BOOLEAN NOT NULL DEFAULT FALSE,
			refund_reason TEXT,
			refund_requested_at TIMESTAMPTZ,
			refund_processed_at TIMESTAMPTZ,
			refund_amount NUMERIC(10,2),
			coupon_code VARCHAR(64),
			coupon_discount NUMERIC(10,2) NOT NULL DEFAULT 0,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id SERIAL PRIMARY KEY,
			game_id INTEGER NOT NULL REFERENCES games(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			content TEXT NOT NULL,
			recommended BOOLEAN NOT NULL,
			helpful INTEGER NOT NULL DEFAULT 0,
			not_helpful INTEGER NOT NULL DEFAULT 0,
			playtime INTEGER NOT NULL DEFAULT 0,
			is_verified_purchase BOOLEAN NOT NULL DEFAULT FALSE,
			is_visible BOOLEAN NOT NULL DEFAULT TRUE,
			is_reported BOOLEAN NOT NULL DEFAULT FALSE,
			report_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (game_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS review_votes (
			review_id INTEGER NOT NULL REFERENCES reviews(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			is_helpful BOOLEAN NOT NULL,
			PRIMARY KEY (review_id, user_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
