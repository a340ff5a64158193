package issuer

import (
	"fmt"

	"github.com/GuiaBolso/darwin"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// defineMigrations returns the issuer database schema as versioned steps.
// Never change or remove a released step: darwin stores a checksum of each
// script alongside the applied version.
func defineMigrations() []darwin.Migration {
	return []darwin.Migration{
		{Version: 1.00, Description: "Create Table 'activation_code'", Script: `
		CREATE TABLE IF NOT EXISTS activation_code (
			code VARCHAR(29) PRIMARY KEY,
			customer_email VARCHAR(255),
			hardware_fingerprint VARCHAR(64),
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			max_activations INTEGER NOT NULL DEFAULT 1,
			activations INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			signature TEXT NOT NULL,
			last_redeemed_at INTEGER,
			CHECK (activations <= max_activations)
		);`},

		{Version: 1.01, Description: "Create Index 'idx_activation_code_email'", Script: `
		CREATE INDEX IF NOT EXISTS idx_activation_code_email ON activation_code (customer_email);`},

		{Version: 1.02, Description: "Create Table 'payment_session'", Script: `
		CREATE TABLE IF NOT EXISTS payment_session (
			session_id VARCHAR(36) PRIMARY KEY,
			local_session_id VARCHAR(36) NOT NULL,
			hardware_fingerprint VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			activation_code VARCHAR(29),
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`},

		{Version: 1.03, Description: "Create Index 'idx_payment_session_fingerprint'", Script: `
		CREATE INDEX IF NOT EXISTS idx_payment_session_fingerprint ON payment_session (hardware_fingerprint);`},
	}
}

// Migrate applies all pending schema migrations to db.
func Migrate(db *sqlx.DB) error {
	driver := darwin.NewGenericDriver(db.DB, darwin.SqliteDialect{})
	if err := darwin.New(driver, defineMigrations(), nil).Migrate(); err != nil {
		return fmt.Errorf("issuer schema migration: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the issuer sqlite database at path and
// brings the schema up to date. Foreign keys are enforced per connection.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open issuer database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping issuer database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
