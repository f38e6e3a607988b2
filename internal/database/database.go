// Package database provides the Postgres-backed condition store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"fxalert/internal/condition"
)

// Schema creates the alerts table when it does not exist. Rows are owned by the alert CRUD
// service; this process only reads active rows and writes trigger bookkeeping.
const Schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id              UUID PRIMARY KEY,
	user_id         UUID NOT NULL,
	symbol          VARCHAR(20) NOT NULL,
	condition_type  VARCHAR(50) NOT NULL,
	condition_value NUMERIC(10, 5),
	condition_code  TEXT,
	timeframe       VARCHAR(10) NOT NULL DEFAULT 'M15',
	webhook_url     TEXT NOT NULL,
	trigger_type    VARCHAR(20) NOT NULL DEFAULT 'ONCE',
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	last_triggered  TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts (is_active) WHERE is_active;
`

// DB wraps a database connection and provides condition operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// Ping checks the connection, for health reporting.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// EnsureSchema applies Schema.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ListActive returns every active condition. The table is written by another service, so NULL
// text columns are read as empty strings and a row that still cannot be scanned is logged and
// skipped. Semantic validation is left to the caller.
func (db *DB) ListActive(ctx context.Context) ([]condition.Condition, error) {
	query := `
		SELECT id, user_id, symbol, condition_type, condition_value, condition_code,
		       timeframe, webhook_url, trigger_type, is_active, last_triggered
		FROM alerts
		WHERE is_active = TRUE
		ORDER BY created_at
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active conditions: %w", err)
	}
	defer rows.Close()

	var (
		conditions []condition.Condition
		skipped    int
	)
	for rows.Next() {
		var (
			id                         string
			userID, symbol, kind       sql.NullString
			code, timeframe, url, mode sql.NullString
			value                      decimal.NullDecimal
			active                     sql.NullBool
			lastTriggered              sql.NullTime
		)
		if err := rows.Scan(
			&id,
			&userID,
			&symbol,
			&kind,
			&value,
			&code,
			&timeframe,
			&url,
			&mode,
			&active,
			&lastTriggered,
		); err != nil {
			skipped++
			slog.Warn("Skipping unreadable condition row", "condition_id", id, "error", err)
			continue
		}
		c := condition.Condition{
			ID:         id,
			UserID:     userID.String,
			Symbol:     symbol.String,
			Kind:       condition.Kind(kind.String),
			Threshold:  value,
			Expression: code.String,
			Timeframe:  timeframe.String,
			WebhookURL: url.String,
			Mode:       condition.TriggerMode(mode.String),
			Active:     active.Valid && active.Bool,
		}
		if lastTriggered.Valid {
			t := lastTriggered.Time.UTC()
			c.LastTriggered = &t
		}
		conditions = append(conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conditions: %w", err)
	}
	if skipped > 0 {
		slog.Warn("Some active conditions could not be read", "skipped", skipped, "loaded", len(conditions))
	}

	return conditions, nil
}
