package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ms-tokenomy/internal/logger"
)

// AmbiguousMint is a chain submission whose outcome is unknown. Rows stay
// open until an operator resolves them; nothing in the pipeline retries them.
type AmbiguousMint struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Recipient  string     `json:"recipient"`
	Amount     string     `json:"amount"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

type PostgreSQLStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgreSQLStoreWithDB creates a reconciliation store using an existing
// database connection.
func NewPostgreSQLStoreWithDB(db *sql.DB, log *logger.Logger) (*PostgreSQLStore, error) {
	store := &PostgreSQLStore{db: db, log: log}

	if err := store.initTables(); err != nil {
		log.Error("DATABASE", "Failed to initialize reconciliation tables: "+err.Error())
		return nil, fmt.Errorf("failed to initialize reconciliation tables: %w", err)
	}

	log.Info("DATABASE", "Reconciliation storage initialized")
	return store, nil
}

func (s *PostgreSQLStore) initTables() error {
	s.log.LogDatabase("MIGRATE", "postgresql", "Creating mint_reconciliation table if not exists")

	query := `
    CREATE TABLE IF NOT EXISTS mint_reconciliation (
        id VARCHAR(36) PRIMARY KEY,
        order_id VARCHAR(36) NOT NULL,
        user_id VARCHAR(36) NOT NULL,
        recipient VARCHAR(128) NOT NULL,
        amount DECIMAL(30,8) NOT NULL,
        reason VARCHAR(255) NOT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        resolved_at TIMESTAMP,
        resolved_by VARCHAR(36)
    );
    `
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create mint_reconciliation table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_mint_recon_order_id ON mint_reconciliation(order_id);",
		"CREATE INDEX IF NOT EXISTS idx_mint_recon_resolved ON mint_reconciliation(resolved_at);",
	}
	for _, indexQuery := range indexes {
		if _, err := s.db.Exec(indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	s.log.LogDatabase("SUCCESS", "postgresql", "Reconciliation table and indexes ready")
	return nil
}

// RecordAmbiguous parks a timed-out mint attempt for manual review.
func (s *PostgreSQLStore) RecordAmbiguous(ctx context.Context, orderID, userID, recipient string, amount decimal.Decimal, reason string) error {
	s.log.LogDatabase("INSERT", "mint_reconciliation", fmt.Sprintf("Recording ambiguous mint for order %s", orderID))

	query := `
    INSERT INTO mint_reconciliation (id, order_id, user_id, recipient, amount, reason, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	id := fmt.Sprintf("recon_%d_%s", time.Now().Unix(), orderID)
	_, err := s.db.ExecContext(ctx, query, id, orderID, userID, recipient, amount.String(), reason, time.Now().UTC())
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to record ambiguous mint for order %s: %s", orderID, err.Error()))
		return fmt.Errorf("failed to record ambiguous mint: %w", err)
	}
	return nil
}

// ListOpen returns unresolved ambiguous attempts, oldest first.
func (s *PostgreSQLStore) ListOpen(ctx context.Context, limit, offset int) ([]*AmbiguousMint, error) {
	query := `
    SELECT id, order_id, user_id, recipient, amount, reason, created_at, resolved_at, resolved_by
    FROM mint_reconciliation
    WHERE resolved_at IS NULL
    ORDER BY created_at ASC
    LIMIT $1 OFFSET $2
    `

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to list ambiguous mints: %s", err.Error()))
		return nil, fmt.Errorf("failed to list ambiguous mints: %w", err)
	}
	defer rows.Close()

	var attempts []*AmbiguousMint
	for rows.Next() {
		attempt := &AmbiguousMint{}
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullString
		err := rows.Scan(
			&attempt.ID, &attempt.OrderID, &attempt.UserID, &attempt.Recipient,
			&attempt.Amount, &attempt.Reason, &attempt.CreatedAt, &resolvedAt, &resolvedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation row: %w", err)
		}
		if resolvedAt.Valid {
			attempt.ResolvedAt = &resolvedAt.Time
		}
		attempt.ResolvedBy = resolvedBy.String
		attempts = append(attempts, attempt)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}

// Resolve stamps every open record for the order with the resolving admin.
func (s *PostgreSQLStore) Resolve(ctx context.Context, orderID, resolvedBy string) error {
	s.log.LogDatabase("UPDATE", "mint_reconciliation", fmt.Sprintf("Resolving records for order %s", orderID))

	query := `
    UPDATE mint_reconciliation
    SET resolved_at = $1, resolved_by = $2
    WHERE order_id = $3 AND resolved_at IS NULL
    `
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), resolvedBy, orderID)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to resolve reconciliation for order %s: %s", orderID, err.Error()))
		return fmt.Errorf("failed to resolve reconciliation: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}
